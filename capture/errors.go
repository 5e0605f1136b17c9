package capture

import (
	"fmt"
	"time"
)

// RenderTimeoutError reports a page that did not finish a stage within the
// navigation bound.
type RenderTimeoutError struct {
	URL     string
	Stage   string // "navigate", "load", "idle", "settle"
	Timeout time.Duration
	Err     error
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("capture: %s %s: timed out after %s", e.Stage, e.URL, e.Timeout)
}

func (e *RenderTimeoutError) Unwrap() error { return e.Err }

// ElementNotFoundError reports a rendered page without the target element,
// or with the element present but empty (Empty), which is what an unknown
// story id renders.
type ElementNotFoundError struct {
	URL      string
	Selector string
	Empty    bool
}

func (e *ElementNotFoundError) Error() string {
	if e.Empty {
		return fmt.Sprintf("capture: element %q rendered nothing on %s (check the story name)", e.Selector, e.URL)
	}
	return fmt.Sprintf("capture: element %q not found on %s", e.Selector, e.URL)
}
