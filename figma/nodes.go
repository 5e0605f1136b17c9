package figma

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/hazyhaar/designcheck/config"
)

// Node types the component search cares about.
const (
	TypeComponent    = "COMPONENT"
	TypeComponentSet = "COMPONENT_SET"
)

// Node is a subset of the design document tree.
type Node struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Type                string            `json:"type"`
	Children            []*Node           `json:"children,omitempty"`
	AbsoluteBoundingBox *Box              `json:"absoluteBoundingBox,omitempty"`
	VariantProperties   map[string]string `json:"variantProperties,omitempty"`
}

// Box is a node's absolute bounding box in design units.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bounds is the size of a node.
type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport rounds the bounds up to whole CSS pixels.
func (b Bounds) Viewport() (int, int) {
	return int(math.Ceil(b.Width)), int(math.Ceil(b.Height))
}

type nodesResponse struct {
	Nodes map[string]*struct {
		Document *Node `json:"document"`
	} `json:"nodes"`
}

// Node fetches the subtree rooted at nodeID.
func (c *Client) Node(ctx context.Context, fileID, nodeID string) (*Node, error) {
	q := url.Values{}
	q.Set("ids", nodeID)
	var body nodesResponse
	status, err := c.getJSON(ctx, "nodes", "/files/"+url.PathEscape(fileID)+"/nodes", q, &body)
	if status == http.StatusNotFound {
		return nil, &NotFoundError{FileID: fileID, NodeID: nodeID}
	}
	if err != nil {
		return nil, err
	}
	entry := body.Nodes[nodeID]
	if entry == nil || entry.Document == nil {
		return nil, &NotFoundError{FileID: fileID, NodeID: nodeID}
	}
	return entry.Document, nil
}

// NodeBounds returns the absolute bounding box size of nodeID.
func (c *Client) NodeBounds(ctx context.Context, fileID, nodeID string) (*Bounds, error) {
	n, err := c.Node(ctx, fileID, nodeID)
	if err != nil {
		return nil, err
	}
	box := n.AbsoluteBoundingBox
	if box == nil || box.Width <= 0 || box.Height <= 0 {
		return nil, &ExternalServiceError{Op: "nodes", Status: http.StatusOK, Message: "node has no bounding box"}
	}
	return &Bounds{Width: box.Width, Height: box.Height}, nil
}

// Document is a whole design file.
type Document struct {
	Name     string `json:"name"`
	Document *Node  `json:"document"`
}

// File fetches the whole document tree of fileID.
func (c *Client) File(ctx context.Context, fileID string) (*Document, error) {
	var doc Document
	status, err := c.getJSON(ctx, "file", "/files/"+url.PathEscape(fileID), nil, &doc)
	if status == http.StatusNotFound {
		return nil, &NotFoundError{FileID: fileID}
	}
	if err != nil {
		return nil, err
	}
	if doc.Document == nil {
		return nil, &ExternalServiceError{Op: "file", Status: status, Message: "response has no document"}
	}
	return &doc, nil
}

// FindComponent searches fileID for a component or component set named like
// block, ignoring case and whitespace. A component set resolves to its first
// variant. Returns *NotFoundError when nothing matches.
func (c *Client) FindComponent(ctx context.Context, fileID, block string) (string, error) {
	doc, err := c.File(ctx, fileID)
	if err != nil {
		return "", err
	}
	n := SearchComponent(doc.Document, block)
	if n == nil {
		return "", &NotFoundError{FileID: fileID, NodeID: block}
	}
	if n.Type == TypeComponentSet && len(n.Children) > 0 {
		c.logger.InfoContext(ctx, "figma: found component set", "name", n.Name, "variants", len(n.Children))
		return n.Children[0].ID, nil
	}
	c.logger.InfoContext(ctx, "figma: found component", "name", n.Name, "node_id", n.ID)
	return n.ID, nil
}

// SearchComponent walks the tree depth-first and returns the first
// component or component set whose normalised name equals name's.
func SearchComponent(root *Node, name string) *Node {
	if root == nil {
		return nil
	}
	want := normalise(name)
	var walk func(*Node) *Node
	walk = func(n *Node) *Node {
		if (n.Type == TypeComponentSet || n.Type == TypeComponent) && normalise(n.Name) == want {
			return n
		}
		for _, ch := range n.Children {
			if ch == nil {
				continue
			}
			if found := walk(ch); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(root)
}

func normalise(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

// Component is a discovered component or component set.
type Component struct {
	Page     string    `json:"page"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Variants []Variant `json:"variants,omitempty"`
}

// Variant is one child of a component set.
type Variant struct {
	Name       string            `json:"name"`
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties,omitempty"`
	Width      float64           `json:"width"`
	Height     float64           `json:"height"`
}

// DiscoverFilter narrows discovery. Both match as case-insensitive
// substrings; empty matches everything.
type DiscoverFilter struct {
	Page string
	Name string
}

// Discover lists the components of fileID page by page.
func (c *Client) Discover(ctx context.Context, fileID string, f DiscoverFilter) ([]Component, error) {
	doc, err := c.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return CollectComponents(doc.Document, f), nil
}

// CollectComponents walks every page of root. Components inside a set are
// reported as variants of the set, not on their own.
func CollectComponents(root *Node, f DiscoverFilter) []Component {
	if root == nil {
		return nil
	}
	var out []Component
	for _, page := range root.Children {
		if page == nil || !containsFold(page.Name, f.Page) {
			continue
		}
		var walk func(*Node)
		walk = func(n *Node) {
			switch n.Type {
			case TypeComponentSet:
				comp := Component{Page: page.Name, Type: n.Type, Name: n.Name, ID: n.ID}
				comp.Width, comp.Height = boxSize(n)
				for _, ch := range n.Children {
					if ch == nil {
						continue
					}
					v := Variant{Name: ch.Name, ID: ch.ID, Properties: ch.VariantProperties}
					v.Width, v.Height = boxSize(ch)
					comp.Variants = append(comp.Variants, v)
				}
				if containsFold(n.Name, f.Name) {
					out = append(out, comp)
				}
				return
			case TypeComponent:
				if containsFold(n.Name, f.Name) {
					comp := Component{Page: page.Name, Type: n.Type, Name: n.Name, ID: n.ID}
					comp.Width, comp.Height = boxSize(n)
					out = append(out, comp)
				}
			}
			for _, ch := range n.Children {
				if ch != nil {
					walk(ch)
				}
			}
		}
		walk(page)
	}
	return out
}

var propertyPrefix = regexp.MustCompile(`Property \d+=`)

// VariantKey turns "Property 1=Default, Size=L" into "Default".
func VariantKey(name string) string {
	first, _, _ := strings.Cut(name, ",")
	first = propertyPrefix.ReplaceAllString(first, "")
	return strings.Join(strings.Fields(first), "")
}

// ComponentMap builds a figma-urls.json document from discovered
// components, keyed by the lower-cased, dash-joined component name.
func ComponentMap(fileID string, comps []Component) *config.ComponentMap {
	m := &config.ComponentMap{FileID: fileID, Components: map[string]config.ComponentEntry{}}
	for _, c := range comps {
		key := strings.Join(strings.Fields(strings.ToLower(c.Name)), "-")
		e := config.ComponentEntry{
			URL:         DesignURL(fileID, c.ID),
			NodeID:      c.ID,
			Description: c.Name,
		}
		if c.Type == TypeComponentSet {
			e.Variants = map[string]string{}
			for _, v := range c.Variants {
				e.Variants[VariantKey(v.Name)] = v.ID
			}
		}
		m.Components[key] = e
	}
	return m
}

func boxSize(n *Node) (float64, float64) {
	if n.AbsoluteBoundingBox == nil {
		return 0, 0
	}
	return n.AbsoluteBoundingBox.Width, n.AbsoluteBoundingBox.Height
}

func containsFold(s, sub string) bool {
	return sub == "" || strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
