package report

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/designcheck/outcome"
	"github.com/hazyhaar/designcheck/verdict"
)

var fixedClock = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func parseFile(t *testing.T, path string) *html.Node {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	doc, err := html.Parse(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func byID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := byID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func failingInput() Input {
	return Input{
		Key:                "button-primary",
		Block:              "button",
		Story:              "primary",
		NodeID:             "12:34",
		FileID:             "FILE",
		Verdict:            verdict.Decide(0.0525),
		Mismatched:         525,
		Total:              10000,
		Width:              100,
		Height:             100,
		ReferenceSize:      [2]int{100, 100},
		ImplementationSize: [2]int{100, 100},
		Iteration:          2,
		ReferenceFile:      "button-primary-reference-iter2.png",
		ImplementationFile: "button-primary-impl-iter2.png",
		DiffFile:           "button-primary-diff-iter2.png",
		DesignURL:          "https://www.figma.com/design/FILE?node-id=12-34",
		StorybookURL:       "http://localhost:6006/?path=/story/blocks-button--primary",
		RerunCommand:       "designcheck compare button",
	}
}

func TestGenerateFailingReport(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, WithClock(fixedClock), WithLogger(quietLogger()),
		WithHints([]string{`Check <b>tokens</b><script>alert(1)</script>`}))

	h, err := g.Generate(failingInput())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if h.Name != "button-primary-report.html" {
		t.Fatalf("name: got %q", h.Name)
	}
	if filepath.Dir(h.Path) != dir {
		t.Fatalf("path outside dir: %s", h.Path)
	}

	doc := parseFile(t, h.Path)
	if got := text(byID(doc, "status")); got != "FAILED" {
		t.Errorf("status: got %q", got)
	}
	if got := text(byID(doc, "difference")); got != "5.25%" {
		t.Errorf("difference: got %q", got)
	}
	if got := text(byID(doc, "threshold")); got != "< 0.1%" {
		t.Errorf("threshold: got %q", got)
	}
	if got := attr(byID(doc, "design-link"), "href"); got != "https://www.figma.com/design/FILE?node-id=12-34" {
		t.Errorf("design link: got %q", got)
	}
	if got := attr(byID(doc, "storybook-link"), "href"); !strings.Contains(got, "blocks-button--primary") {
		t.Errorf("storybook link: got %q", got)
	}
	if byID(doc, "truncated") != nil {
		t.Error("truncation notice shown for equal sizes")
	}
	if got := text(byID(doc, "generated")); got != "2026-03-01T12:00:00Z" {
		t.Errorf("generated: got %q", got)
	}

	hints := text(byID(doc, "hints"))
	if !strings.Contains(hints, "designcheck compare button") {
		t.Errorf("hints missing rerun command: %q", hints)
	}
	if !strings.Contains(hints, "Check tokens") {
		t.Errorf("custom hint missing: %q", hints)
	}
	raw, _ := os.ReadFile(h.Path)
	if bytes.Contains(raw, []byte("alert(1)")) {
		t.Error("script survived sanitising")
	}
}

func TestGenerateChangedArea(t *testing.T) {
	g := New(t.TempDir(), WithClock(fixedClock), WithLogger(quietLogger()))
	in := failingInput()
	in.FocusArea = image.Rect(8, 16, 72, 48)
	in.ReferenceCropFile = "button-primary-reference-crop-iter2.png"
	in.ImplementationCropFile = "button-primary-implementation-crop-iter2.png"

	h, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	doc := parseFile(t, h.Path)
	if got := text(byID(doc, "focus-area")); got != "64x32 at (8, 16)" {
		t.Errorf("focus area: got %q", got)
	}
	if got := attr(byID(doc, "focus-reference"), "src"); got != in.ReferenceCropFile {
		t.Errorf("reference crop: got %q", got)
	}
	if got := attr(byID(doc, "focus-implementation"), "src"); got != in.ImplementationCropFile {
		t.Errorf("implementation crop: got %q", got)
	}

	// Without crops there is no changed-area section.
	h, err = g.Generate(failingInput())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if byID(parseFile(t, h.Path), "focus") != nil {
		t.Error("changed-area section rendered without crops")
	}
}

func TestGeneratePassingReport(t *testing.T) {
	g := New(t.TempDir(), WithClock(fixedClock), WithLogger(quietLogger()),
		WithHints([]string{"never shown"}))
	in := failingInput()
	in.Verdict = verdict.Decide(0.0004)
	in.Mismatched = 4

	h, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	doc := parseFile(t, h.Path)
	if got := text(byID(doc, "status")); got != "PASSED" {
		t.Errorf("status: got %q", got)
	}
	if got := text(byID(doc, "difference")); got != "0.04%" {
		t.Errorf("difference: got %q", got)
	}
	if strings.Contains(text(byID(doc, "hints")), "never shown") {
		t.Error("remediation hints on a passing report")
	}
}

func TestGenerateTruncatedAndUnsafeLinks(t *testing.T) {
	g := New(t.TempDir(), WithClock(fixedClock), WithLogger(quietLogger()))
	in := failingInput()
	in.Truncated = true
	in.ReferenceSize = [2]int{200, 100}
	in.Width, in.Height = 100, 100
	in.DesignURL = "javascript:alert(1)"
	in.StorybookURL = ""

	h, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	doc := parseFile(t, h.Path)
	notice := text(byID(doc, "truncated"))
	if !strings.Contains(notice, "200x100") || !strings.Contains(notice, "100x100") {
		t.Errorf("truncation notice: %q", notice)
	}
	if byID(doc, "design-link") != nil {
		t.Error("unsafe design link rendered")
	}
	if byID(doc, "storybook-link") != nil {
		t.Error("empty storybook link rendered")
	}
}

func TestGenerateStemsHostileKey(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, WithLogger(quietLogger()))
	in := failingInput()
	in.Key = "../../etc/passwd"
	h, err := g.Generate(in)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if filepath.Dir(h.Path) != dir {
		t.Fatalf("escaped output dir: %s", h.Path)
	}
}

func sampleSummary() outcome.Summary {
	s := outcome.Summary{
		RunID:  "run-1",
		Blocks: []string{"button", "card"},
		Results: []outcome.ElementResult{
			{Key: "button-primary", Block: "button", Story: "primary", NodeID: "1:2", Passed: true, MismatchRatio: 0.0002, ReportPath: "x"},
			{Key: "card", Block: "card", NodeID: "3:4", MismatchRatio: 0.031, ReportPath: "y"},
			{Key: "hero", Block: "hero", NodeID: "5:6", Error: "capture: element not found"},
		},
	}
	s.Tally()
	return s
}

func TestSummaryWritesHTMLAndMarkdown(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, WithClock(fixedClock), WithLogger(quietLogger()))
	h, err := g.Summary(sampleSummary(), "")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if filepath.Base(h.HTMLPath) != "button-card-summary.html" {
		t.Errorf("html name: %s", h.HTMLPath)
	}

	doc := parseFile(t, h.HTMLPath)
	if got := text(byID(doc, "passed")); got != "1" {
		t.Errorf("passed: %q", got)
	}
	if got := text(byID(doc, "failed")); got != "1" {
		t.Errorf("failed: %q", got)
	}
	if got := text(byID(doc, "errored")); got != "1" {
		t.Errorf("errored: %q", got)
	}
	table := text(byID(doc, "results"))
	for _, want := range []string{"button / primary", "3.10%", "element not found", "card-report.html"} {
		if !strings.Contains(table, want) {
			t.Errorf("results table missing %q", want)
		}
	}

	md, err := os.ReadFile(h.MarkdownPath)
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	for _, want := range []string{"Design validation summary", "run-1", "button / primary", "PASSED", "FAILED", "ERROR"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestSummaryStem(t *testing.T) {
	if got := SummaryStem(nil); got != "all-summary" {
		t.Errorf("empty: %q", got)
	}
	if got := SummaryStem([]string{"a b", "c"}); got != "a-b-c-summary" {
		t.Errorf("joined: %q", got)
	}
}

func TestWriteTally(t *testing.T) {
	s := sampleSummary()
	s.SummaryPath = "/tmp/out/button-card-summary.html"
	var buf bytes.Buffer
	if err := WriteTally(&buf, s); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"3 elements", "PASS", "FAIL", "ERROR", "3.10%", "Passed: 1  Failed: 1  Errors: 1", "button-card-summary.html"} {
		if !strings.Contains(out, want) {
			t.Errorf("tally missing %q:\n%s", want, out)
		}
	}
}

func TestOpenCommand(t *testing.T) {
	cases := []struct {
		goos string
		name string
		args []string
	}{
		{"darwin", "open", []string{"/r.html"}},
		{"linux", "xdg-open", []string{"/r.html"}},
		{"windows", "cmd", []string{"/c", "start", "", "/r.html"}},
	}
	for _, c := range cases {
		name, args := openCommand(c.goos, "/r.html")
		if name != c.name || strings.Join(args, "|") != strings.Join(c.args, "|") {
			t.Errorf("%s: got %s %v", c.goos, name, args)
		}
	}
}

func TestOpenFailureIsNotFatal(t *testing.T) {
	var logs bytes.Buffer
	called := ""
	g := New(t.TempDir(),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithOpener(func(p string) error { called = p; return errors.New("no display") }))
	g.Open(context.Background(), "/r.html")
	if called != "/r.html" {
		t.Fatalf("opener not invoked: %q", called)
	}
	if !strings.Contains(logs.String(), "could not open viewer") {
		t.Errorf("warning not logged: %s", logs.String())
	}
}
