// Package manifest reads block story files (blocks/{block}/{block}.stories.js)
// and extracts the design locator each story declares under
// parameters.design.url.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/safeio"
)

// Story is one exported story that names a design node.
type Story struct {
	Name   string `json:"name"`
	NodeID string `json:"node_id"`
	FileID string `json:"file_id,omitempty"`
	URL    string `json:"url"`
}

var (
	exportRe = regexp.MustCompile(`export\s+const\s+(\w+)\s*=\s*\{`)
	designRe = regexp.MustCompile(`parameters\s*:\s*\{[\s\S]*?design\s*:\s*\{[\s\S]*?url\s*:\s*['"` + "`" + `]([^'"` + "`" + `]+)['"` + "`" + `]`)
	nodeRe   = regexp.MustCompile(`node-id=([0-9]+)(?:-|:|%3A|%3a)([0-9]+)`)
)

// Path returns the manifest location for block under blocksDir.
func Path(blocksDir, block string) (string, error) {
	if err := safeio.ValidateIdentifier(block); err != nil {
		return "", fmt.Errorf("manifest: block name: %w", err)
	}
	return filepath.Join(blocksDir, block, block+".stories.js"), nil
}

// Scan returns every story of block that carries a design URL with a node
// id, in file order. A missing manifest yields no stories and no error.
func Scan(blocksDir, block string) ([]Story, error) {
	path, err := Path(blocksDir, block)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Parse extracts stories from manifest source. Each export is searched only
// up to the next export so a story without a design URL never borrows its
// neighbour's.
func Parse(src string) []Story {
	locs := exportRe.FindAllStringSubmatchIndex(src, -1)
	var stories []Story
	for i, loc := range locs {
		end := len(src)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		name := src[loc[2]:loc[3]]
		body := src[loc[1]:end]

		m := designRe.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		url := m[1]
		nodeID, ok := NodeIDFromURL(url)
		if !ok {
			continue
		}
		stories = append(stories, Story{
			Name:   name,
			NodeID: nodeID,
			FileID: config.FileIDFromURL(url),
			URL:    url,
		})
	}
	return stories
}

// Find returns the story whose name matches ignoring case.
func Find(stories []Story, name string) (Story, bool) {
	for _, s := range stories {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Story{}, false
}

// Names lists story names, for diagnostics.
func Names(stories []Story) []string {
	out := make([]string, len(stories))
	for i, s := range stories {
		out[i] = s.Name
	}
	return out
}

// NodeIDFromURL extracts node-id=NNN-MMM from a design URL and returns it in
// API form NNN:MMM.
func NodeIDFromURL(url string) (string, bool) {
	m := nodeRe.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1] + ":" + m[2], true
}
