package kit

import (
	"context"
	"log/slog"
)

// ContextHandler adds the run and request IDs carried by ctx to every
// record, so capture and figma lines can be tied back to their run.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle leaves keys the call site already set alone.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	runID, reqID := GetRunID(ctx), GetRequestID(ctx)
	if runID == "" && reqID == "" {
		return h.Handler.Handle(ctx, r)
	}
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "run_id":
			runID = ""
		case "request_id":
			reqID = ""
		}
		return true
	})
	if runID != "" {
		r.AddAttrs(slog.String("run_id", runID))
	}
	if reqID != "" {
		r.AddAttrs(slog.String("request_id", reqID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}
