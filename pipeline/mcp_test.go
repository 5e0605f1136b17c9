package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/designcheck/dbopen"
	"github.com/hazyhaar/designcheck/history"
)

func connect(t *testing.T, srv *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, st, nil); err != nil {
		t.Fatal(err)
	}
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0"}, nil).Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res.Content[0].(*mcp.TextContent).Text, res.IsError
}

func TestMCPCompareThenHistory(t *testing.T) {
	h := newHarness(t)
	store := &history.Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(history.Schema))}
	p := h.pipeline(t, WithRecorder(store))
	cs := connect(t, NewMCPServer(p, store, "test"))

	text, isErr := callText(t, cs, "designcheck_compare", map[string]any{"blocks": []string{"cards"}})
	if isErr {
		t.Fatalf("compare failed: %s", text)
	}
	if !strings.Contains(text, `"key":"cards-primary"`) || !strings.Contains(text, `"passed":1`) {
		t.Errorf("compare: %s", text)
	}

	text, isErr = callText(t, cs, "designcheck_history", map[string]any{})
	if isErr {
		t.Fatalf("history failed: %s", text)
	}
	if !strings.Contains(text, `"blocks":["cards"]`) {
		t.Errorf("history: %s", text)
	}

	text, isErr = callText(t, cs, "designcheck_history", map[string]any{"key": "cards-primary"})
	if isErr {
		t.Fatalf("element history failed: %s", text)
	}
	if !strings.Contains(text, `"key":"cards-primary"`) || strings.Contains(text, `"key":"cards-secondary"`) {
		t.Errorf("element history: %s", text)
	}

	text, isErr = callText(t, cs, "designcheck_history", map[string]any{"key": "cards-primary", "run_id": "x"})
	if !isErr || !strings.Contains(text, "exclusive") {
		t.Errorf("run_id with key: %v %s", isErr, text)
	}

	text, isErr = callText(t, cs, "designcheck_history", map[string]any{"run_id": "missing"})
	if !isErr || !strings.Contains(text, "run not found") {
		t.Errorf("missing run: %v %s", isErr, text)
	}
}

func TestMCPResolve(t *testing.T) {
	h := newHarness(t)
	cs := connect(t, NewMCPServer(h.pipeline(t), nil, "test"))

	text, isErr := callText(t, cs, "designcheck_resolve", map[string]any{"blocks": []string{"cards"}, "story": "secondary"})
	if isErr {
		t.Fatalf("resolve failed: %s", text)
	}
	if !strings.Contains(text, `"node_id":"2:2"`) || !strings.Contains(text, `"source":"manifest"`) || !strings.Contains(text, `"key":"cards-secondary"`) {
		t.Errorf("resolve: %s", text)
	}
	if len(h.renderer.targets) != 0 {
		t.Error("resolve captured something")
	}

	text, isErr = callText(t, cs, "designcheck_resolve", map[string]any{"blocks": []string{"hero"}})
	if !isErr || !strings.Contains(text, "no design node found") {
		t.Errorf("unresolved: %v %s", isErr, text)
	}

	text, isErr = callText(t, cs, "designcheck_history", map[string]any{})
	if !isErr || !strings.Contains(text, "history is disabled") {
		t.Errorf("history without store: %v %s", isErr, text)
	}
}
