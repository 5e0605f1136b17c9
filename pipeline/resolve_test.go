package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveExplicitNodeUsesStoryMap(t *testing.T) {
	h := newHarness(t)
	h.cfg.Storybook.StoryMap = map[string]string{"9:9": "with-image"}
	p := h.pipeline(t)

	els, err := p.Resolve(context.Background(), Request{Blocks: []string{"cards"}, NodeID: "9:9"})
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 1 || els[0].Story != "with-image" || els[0].Source != SourceExplicit || els[0].FileID != "FILE" {
		t.Errorf("got %+v", els)
	}

	els, err = p.Resolve(context.Background(), Request{Blocks: []string{"cards"}, NodeID: "7:7"})
	if err != nil {
		t.Fatal(err)
	}
	if els[0].Story != "default" {
		t.Errorf("default story: got %q", els[0].Story)
	}
}

func TestResolveManifest(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t)

	els, err := p.Resolve(context.Background(), Request{Blocks: []string{"cards"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 || els[0].NodeID != "1:1" || els[1].NodeID != "2:2" || els[0].Source != SourceManifest {
		t.Errorf("got %+v", els)
	}
	if !strings.Contains(els[0].DesignURL, "node-id=1-1") {
		t.Errorf("design url: %s", els[0].DesignURL)
	}
}

func writeComponentMap(t *testing.T, root, body string) {
	t.Helper()
	path := filepath.Join(root, "config", "figma", "figma-urls.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveFallsBackToComponentMap(t *testing.T) {
	h := newHarness(t)
	writeComponentMap(t, h.cfg.Paths.Root, `{"fileId":"OTHER","components":{
		"hero":{"nodeId":"5:5","variants":{"b-dark":"6:2","a-light":"6:1"}},
		"cards":{"nodeId":"4:4"}}}`)
	p := h.pipeline(t)

	// Story absent from the manifest: falls through to figma-urls.json.
	els, err := p.Resolve(context.Background(), Request{Blocks: []string{"cards"}, Story: "Missing"})
	if err != nil {
		t.Fatal(err)
	}
	if els[0].NodeID != "4:4" || els[0].Source != SourceComponentMap || els[0].Story != "Missing" {
		t.Errorf("cards: %+v", els[0])
	}

	els, err = p.Resolve(context.Background(), Request{Blocks: []string{"hero"}})
	if err != nil {
		t.Fatal(err)
	}
	if els[0].NodeID != "6:1" {
		t.Errorf("first variant by name: got %s", els[0].NodeID)
	}
}

func TestResolveFileIDFromComponentMap(t *testing.T) {
	h := newHarness(t)
	h.cfg.Figma.FileID = ""
	writeComponentMap(t, h.cfg.Paths.Root, `{"fileId":"MAPFILE","components":{}}`)
	h.refs.components["hero"] = "8:8"
	p := h.pipeline(t)

	els, err := p.Resolve(context.Background(), Request{Blocks: []string{"hero"}})
	if err != nil {
		t.Fatal(err)
	}
	if els[0].FileID != "MAPFILE" || els[0].Source != SourceSearch || els[0].NodeID != "8:8" {
		t.Errorf("got %+v", els[0])
	}
}

func TestResolveNothingFound(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t)

	_, err := p.Resolve(context.Background(), Request{Blocks: []string{"hero"}})
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if rerr.Block != "hero" || len(rerr.Tried) != 3 {
		t.Errorf("tried: %v", rerr.Tried)
	}
}

func TestResolveSkipsUnresolvableBlocks(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t)

	els, err := p.Resolve(context.Background(), Request{Blocks: []string{"hero", "cards"}})
	if err != nil {
		t.Fatalf("partial resolution should not fail: %v", err)
	}
	if len(els) != 2 || els[0].Block != "cards" {
		t.Errorf("got %+v", els)
	}
}

func TestResolveNeedsFileID(t *testing.T) {
	h := newHarness(t)
	h.cfg.Figma.FileID = ""
	p := h.pipeline(t)
	if _, err := p.Resolve(context.Background(), Request{Blocks: []string{"cards"}}); err == nil {
		t.Fatal("expected error without a file id")
	}
}
