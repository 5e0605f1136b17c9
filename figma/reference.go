package figma

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hazyhaar/designcheck/safeio"
)

// Reference is a rendered node downloaded from the design service.
type Reference struct {
	FileID string
	NodeID string
	Scale  float64
	URL    string // render location the API handed out
	PNG    []byte
	Image  image.Image
}

type imagesResponse struct {
	Err    any                `json:"err"`
	Images map[string]*string `json:"images"`
}

// FetchReference renders nodeID as PNG at 2x and downloads it.
func (c *Client) FetchReference(ctx context.Context, fileID, nodeID string) (*Reference, error) {
	return c.FetchImage(ctx, fileID, nodeID, 2)
}

// FetchImage renders nodeID as PNG at scale and downloads it.
func (c *Client) FetchImage(ctx context.Context, fileID, nodeID string, scale float64) (*Reference, error) {
	if fileID == "" || nodeID == "" {
		return nil, &ExternalServiceError{Op: "images", Message: "file id and node id are required"}
	}
	q := url.Values{}
	q.Set("ids", nodeID)
	q.Set("format", "png")
	q.Set("scale", strconv.FormatFloat(scale, 'f', -1, 64))

	var body imagesResponse
	status, err := c.getJSON(ctx, "images", "/images/"+url.PathEscape(fileID), q, &body)
	if status == http.StatusNotFound {
		return nil, &NotFoundError{FileID: fileID, NodeID: nodeID}
	}
	if err != nil {
		return nil, err
	}
	if msg := errString(body.Err); msg != "" {
		return nil, &ExternalServiceError{Op: "images", Status: status, Message: msg}
	}

	renderURL := ""
	if p := body.Images[nodeID]; p != nil {
		renderURL = *p
	}
	if renderURL == "" {
		// A null render usually means the node does not exist. Ask the nodes
		// endpoint to tell the two cases apart.
		if _, berr := c.NodeBounds(ctx, fileID, nodeID); berr != nil {
			var nf *NotFoundError
			if errors.As(berr, &nf) {
				return nil, nf
			}
		}
		return nil, &ExternalServiceError{Op: "images", Status: status, Message: fmt.Sprintf("no image URL for node %s", nodeID)}
	}

	c.logger.InfoContext(ctx, "figma: downloading reference render", "file_id", fileID, "node_id", nodeID, "scale", scale)
	data, err := c.download(ctx, renderURL)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ExternalServiceError{Op: "download", Message: "render is not a valid PNG", Err: err}
	}
	return &Reference{
		FileID: fileID,
		NodeID: nodeID,
		Scale:  scale,
		URL:    renderURL,
		PNG:    data,
		Image:  img,
	}, nil
}

// download fetches a render URL. Render URLs are pre-signed, so no token is
// sent.
func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := safeio.ValidateScheme(rawURL); err != nil {
		return nil, &ExternalServiceError{Op: "download", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ExternalServiceError{Op: "download", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ExternalServiceError{Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ExternalServiceError{Op: "download", Status: resp.StatusCode, Message: resp.Status}
	}
	data, err := safeio.LimitedReadAll(resp.Body, safeio.MaxImageBody)
	if err != nil {
		return nil, &ExternalServiceError{Op: "download", Status: resp.StatusCode, Err: err}
	}
	return data, nil
}

// errString normalises the API's err field, which is null, a string, or
// occasionally a number.
func errString(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case bool:
		if e {
			return "request failed"
		}
		return ""
	default:
		return fmt.Sprint(e)
	}
}
