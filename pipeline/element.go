package pipeline

import (
	"github.com/hazyhaar/designcheck/capture"
	"github.com/hazyhaar/designcheck/safeio"
)

// Source names the resolution step that produced an Element.
type Source string

const (
	SourceExplicit     Source = "explicit"
	SourceManifest     Source = "manifest"
	SourceComponentMap Source = "figma-urls"
	SourceSearch       Source = "search"
)

// Element is one block variant to validate. Immutable for the run.
type Element struct {
	Block     string `json:"block"`
	Story     string `json:"story,omitempty"`
	NodeID    string `json:"node_id"`
	FileID    string `json:"file_id"`
	DesignURL string `json:"design_url,omitempty"`
	Source    Source `json:"source"`
}

// Key is block or block-story, reduced to a safe filename stem.
func (e Element) Key() string {
	if e.Story == "" {
		return safeio.Stem(e.Block)
	}
	return safeio.Stem(e.Block + "-" + capture.Kebab(e.Story))
}
