package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/outcome"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStdoutJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	if err := s.SendResult(ctx, outcome.ElementResult{Key: "card", Passed: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SendSummary(ctx, outcome.Summary{RunID: "run-1"}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	var first struct {
		Type string                `json:"type"`
		Data outcome.ElementResult `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first.Type != TypeResult || first.Data.Key != "card" {
		t.Errorf("first line: %+v", first)
	}
	if !strings.Contains(lines[1], `"type":"summary"`) {
		t.Errorf("second line: %s", lines[1])
	}
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: %s", r.Header.Get("Content-Type"))
		}
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quietLogger()))
	if err := w.SendResult(context.Background(), outcome.ElementResult{Key: "card"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
	if !bytes.Contains(got, []byte(`"type":"result"`)) || !bytes.Contains(got, []byte(`"key":"card"`)) {
		t.Errorf("body: %s", got)
	}
}

func TestWebhookExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(2), WithWebhookBackoff(time.Millisecond),
		WithWebhookLogger(quietLogger()))
	err := w.SendSummary(context.Background(), outcome.Summary{RunID: "r"})
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhookCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Hour), WithWebhookLogger(quietLogger()))
	if err := w.SendResult(ctx, outcome.ElementResult{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestWebhookRejectsUnsafeScheme(t *testing.T) {
	w := NewWebhook("file:///etc/passwd", WithWebhookLogger(quietLogger()))
	if err := w.SendResult(context.Background(), outcome.ElementResult{}); err == nil {
		t.Fatal("expected scheme error")
	}
}

type recorder struct {
	keys []string
	err  error
}

func (r *recorder) SendResult(_ context.Context, res outcome.ElementResult) error {
	r.keys = append(r.keys, res.Key)
	return r.err
}

func (r *recorder) SendSummary(context.Context, outcome.Summary) error { return nil }
func (r *recorder) Close() error { return nil }

func TestRouterFansOutDespiteErrors(t *testing.T) {
	down := &recorder{err: errors.New("down")}
	ok := &recorder{}
	r := NewRouter(quietLogger(), down, ok)
	err := r.SendResult(context.Background(), outcome.ElementResult{Key: "card"})
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected first error, got %v", err)
	}
	if len(ok.keys) != 1 || ok.keys[0] != "card" {
		t.Errorf("second sink not reached: %v", ok.keys)
	}
	if err := r.SendSummary(context.Background(), outcome.Summary{}); err != nil {
		t.Errorf("summary: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig(nil, nil, quietLogger())
	if err != nil || r != nil {
		t.Fatalf("empty: %v %v", r, err)
	}
	var buf bytes.Buffer
	r, err = FromConfig([]config.SinkConfig{{Type: "stdout"}, {Type: "webhook", URL: "http://x"}}, &buf, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.sinks) != 2 {
		t.Errorf("sinks: %d", len(r.sinks))
	}
	if err := r.sinks[0].SendSummary(context.Background(), outcome.Summary{RunID: "run_1"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"run_id":"run_1"`) {
		t.Errorf("stdout sink ignored writer: %q", buf.String())
	}
	_, err = FromConfig([]config.SinkConfig{{Type: "nats"}}, nil, quietLogger())
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
