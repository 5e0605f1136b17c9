package figma

import "fmt"

// ExternalServiceError reports a failed or rejected design-API call: a
// transport error, a non-2xx status, an err field in the body, a missing
// image URL, or a failed image download.
type ExternalServiceError struct {
	Op      string // "images", "nodes", "file", "download"
	Status  int    // HTTP status, 0 when no response was received
	Message string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	msg := "figma: " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NotFoundError reports a node the design file does not contain.
type NotFoundError struct {
	FileID string
	NodeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("figma: node %s not found in file %s", e.NodeID, e.FileID)
}
