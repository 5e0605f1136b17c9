package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ComponentMap is the figma-urls.json document: the design file id and a
// per-block component entry.
type ComponentMap struct {
	FileID     string                    `json:"fileId,omitempty"`
	Components map[string]ComponentEntry `json:"components"`
}

// ComponentEntry locates one block's design. Variants maps a variant name
// to its node id.
type ComponentEntry struct {
	URL         string            `json:"url,omitempty"`
	NodeID      string            `json:"nodeId,omitempty"`
	Description string            `json:"description,omitempty"`
	Variants    map[string]string `json:"variants,omitempty"`
}

// LoadComponentMap reads figma-urls.json. A missing file yields an empty map
// and no error: the file is optional.
func LoadComponentMap(path string) (*ComponentMap, error) {
	m := &ComponentMap{Components: map[string]ComponentEntry{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, &ConfigurationError{Field: path, Reason: "invalid JSON", Err: err}
	}
	if m.Components == nil {
		m.Components = map[string]ComponentEntry{}
	}
	return m, nil
}

// Lookup returns the node id configured for block: the first variant by
// sorted variant name when variants exist, otherwise the entry's node id.
func (m *ComponentMap) Lookup(block string) (string, bool) {
	if m == nil {
		return "", false
	}
	e, ok := m.Components[block]
	if !ok {
		return "", false
	}
	if len(e.Variants) > 0 {
		names := make([]string, 0, len(e.Variants))
		for n := range e.Variants {
			names = append(names, n)
		}
		sort.Strings(names)
		if id := e.Variants[names[0]]; id != "" {
			return id, true
		}
	}
	return e.NodeID, e.NodeID != ""
}
