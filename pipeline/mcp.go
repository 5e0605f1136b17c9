package pipeline

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/designcheck/history"
	"github.com/hazyhaar/designcheck/kit"
	"github.com/hazyhaar/designcheck/outcome"
)

// HistoryReader is the read side of the run history.
type HistoryReader interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
	GetRun(ctx context.Context, id string) (*outcome.Summary, error)
	ElementHistory(ctx context.Context, key string, limit int) ([]outcome.ElementResult, error)
}

// RegisterMCP registers the designcheck tools on srv. hist may be nil when
// history is disabled; the history tool then reports an error.
func (p *Pipeline) RegisterMCP(srv *mcp.Server, hist HistoryReader) {
	p.registerCompareTool(srv)
	p.registerResolveTool(srv)
	p.registerHistoryTool(srv, hist)
}

type compareRequest struct {
	Blocks    []string `json:"blocks"`
	Story     string   `json:"story,omitempty"`
	NodeID    string   `json:"node_id,omitempty"`
	FileID    string   `json:"file_id,omitempty"`
	Iteration int      `json:"iteration,omitempty"`
}

func (r compareRequest) toRequest() Request {
	return Request{
		Blocks:    r.Blocks,
		Story:     r.Story,
		NodeID:    r.NodeID,
		FileID:    r.FileID,
		Iteration: r.Iteration,
		NoOpen:    true,
	}
}

var requestProps = map[string]kit.Prop{
	"blocks":  {Type: "array", Description: "Block names, e.g. [\"cards\"]", Items: &kit.Prop{Type: "string"}},
	"story":   {Type: "string", Description: "Story (variant) name declared in the block's stories file"},
	"node_id": {Type: "string", Description: "Explicit design node id (e.g. 8668:498); single block only"},
	"file_id": {Type: "string", Description: "Design file id; defaults to the project configuration"},
}

func (p *Pipeline) registerCompareTool(srv *mcp.Server) {
	props := map[string]kit.Prop{"iteration": {Type: "integer", Description: "Iteration number used in file names (default 1)"}}
	for k, v := range requestProps {
		props[k] = v
	}
	tool := &mcp.Tool{
		Name:        "designcheck_compare",
		Description: "Compare blocks against their design references. Captures each story, diffs it pixel by pixel and writes HTML reports. Returns the run summary.",
		InputSchema: kit.InputSchema(props, "blocks"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(compareRequest)
		return p.Run(ctx, r.toRequest())
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(p.logger, tool.Name)(endpoint), kit.DecodeArgs[compareRequest]())
}

func (p *Pipeline) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "designcheck_resolve",
		Description: "Resolve blocks to design nodes without capturing anything. Shows which step (explicit, manifest, figma-urls, search) located each element.",
		InputSchema: kit.InputSchema(requestProps, "blocks"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(compareRequest)
		elements, err := p.Resolve(ctx, r.toRequest())
		if err != nil {
			return nil, err
		}
		type resolved struct {
			Element
			Key string `json:"key"`
		}
		out := make([]resolved, len(elements))
		for i, el := range elements {
			out[i] = resolved{Element: el, Key: el.Key()}
		}
		return out, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(p.logger, tool.Name)(endpoint), kit.DecodeArgs[compareRequest]())
}

type historyRequest struct {
	RunID string `json:"run_id,omitempty"`
	Key   string `json:"key,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (p *Pipeline) registerHistoryTool(srv *mcp.Server, hist HistoryReader) {
	tool := &mcp.Tool{
		Name:        "designcheck_history",
		Description: "List recent validation runs, show one run with its per-element results when run_id is given, or the latest outcomes of one element when key is given.",
		InputSchema: kit.InputSchema(map[string]kit.Prop{
			"run_id": {Type: "string", Description: "Run to show"},
			"key":    {Type: "string", Description: "Element key, e.g. cards-with-image"},
			"limit":  {Type: "integer", Description: "Max runs or results to list (default 20)"},
		}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		if hist == nil {
			return nil, errors.New("history is disabled")
		}
		r := req.(historyRequest)
		switch {
		case r.RunID != "" && r.Key != "":
			return nil, errors.New("run_id and key are exclusive")
		case r.Key != "":
			results, err := hist.ElementHistory(ctx, r.Key, r.Limit)
			if err != nil {
				return nil, err
			}
			if results == nil {
				results = []outcome.ElementResult{}
			}
			return results, nil
		case r.RunID == "":
			return hist.ListRuns(ctx, r.Limit)
		}
		run, err := hist.GetRun(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, errors.New("run not found: " + r.RunID)
		}
		return run, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(p.logger, tool.Name)(endpoint), kit.DecodeArgs[historyRequest]())
}

// NewMCPServer builds a server exposing the pipeline tools.
func NewMCPServer(p *Pipeline, hist HistoryReader, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "designcheck", Version: version}, nil)
	p.RegisterMCP(srv, hist)
	return srv
}
