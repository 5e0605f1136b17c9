// Package notify delivers comparison outcomes to external backends as they
// are produced: one "result" event per element and one "summary" event per
// run.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/outcome"
)

// Event types carried in the envelope.
const (
	TypeResult  = "result"
	TypeSummary = "summary"
)

// Sink is an output backend.
type Sink interface {
	SendResult(ctx context.Context, r outcome.ElementResult) error
	SendSummary(ctx context.Context, s outcome.Summary) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// FromConfig builds a Router over the configured sinks. stdout sinks write
// to w, nil meaning os.Stdout. With no sinks configured it returns nil, nil.
func FromConfig(cfgs []config.SinkConfig, w io.Writer, logger *slog.Logger) (*Router, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	var sinks []Sink
	for i, c := range cfgs {
		switch c.Type {
		case "stdout":
			sinks = append(sinks, NewStdout(w))
		case "webhook":
			sinks = append(sinks, NewWebhook(c.URL, WithWebhookLogger(logger)))
		default:
			return nil, &config.ConfigurationError{
				Field:  fmt.Sprintf("sinks[%d].type", i),
				Reason: fmt.Sprintf("unknown sink type %q", c.Type),
			}
		}
	}
	return NewRouter(logger, sinks...), nil
}

// Router fans out events to all configured sinks. One sink error does not
// block the others; errors are logged and the first encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendResult(ctx context.Context, res outcome.ElementResult) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendResult(ctx, res); err != nil {
			r.logger.Warn("notify: send result failed", "key", res.Key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendSummary(ctx context.Context, sum outcome.Summary) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendSummary(ctx, sum); err != nil {
			r.logger.Warn("notify: send summary failed", "run_id", sum.RunID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
