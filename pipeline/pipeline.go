// Package pipeline orchestrates a visual validation run: it resolves the
// requested blocks to design nodes, then for each element fetches the
// design reference, captures the story, compares the two, decides the
// verdict and writes the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/designcheck/capture"
	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/figma"
	"github.com/hazyhaar/designcheck/idgen"
	"github.com/hazyhaar/designcheck/kit"
	"github.com/hazyhaar/designcheck/outcome"
	"github.com/hazyhaar/designcheck/pixeldiff"
	"github.com/hazyhaar/designcheck/report"
	"github.com/hazyhaar/designcheck/safeio"
	"github.com/hazyhaar/designcheck/verdict"
)

// ReferenceSource is the design service. *figma.Client implements it.
type ReferenceSource interface {
	FetchReference(ctx context.Context, fileID, nodeID string) (*figma.Reference, error)
	NodeBounds(ctx context.Context, fileID, nodeID string) (*figma.Bounds, error)
	FindComponent(ctx context.Context, fileID, block string) (string, error)
}

// Renderer captures a story. *capture.Capturer implements it.
type Renderer interface {
	Capture(ctx context.Context, t capture.Target) (*capture.Shot, error)
}

// Recorder persists finished runs. *history.Store implements it.
type Recorder interface {
	SaveRun(ctx context.Context, s *outcome.Summary) error
}

// Notifier receives outcomes as they are produced. Any notify.Sink
// implements it.
type Notifier interface {
	SendResult(ctx context.Context, r outcome.ElementResult) error
	SendSummary(ctx context.Context, s outcome.Summary) error
}

// Request is one validation run.
type Request struct {
	Blocks    []string `json:"blocks"`
	Story     string   `json:"story,omitempty"`
	NodeID    string   `json:"node_id,omitempty"`
	FileID    string   `json:"file_id,omitempty"`
	Iteration int      `json:"iteration,omitempty"`
	NoOpen    bool     `json:"-"`
}

// Pipeline runs validation requests against one configuration.
type Pipeline struct {
	cfg        *config.Config
	refs       ReferenceSource
	renderer   Renderer
	comparator *pixeldiff.Comparator
	reports    *report.Generator
	recorder   Recorder
	notifier   Notifier
	httpClient *http.Client
	runIDs     idgen.Generator
	resultIDs  idgen.Generator
	now        func() time.Time
	out        io.Writer
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReferenceSource sets the design service. Required.
func WithReferenceSource(r ReferenceSource) Option { return func(p *Pipeline) { p.refs = r } }

// WithRenderer sets the story renderer. Required.
func WithRenderer(r Renderer) Option { return func(p *Pipeline) { p.renderer = r } }

// WithReports overrides the report generator. Default: one writing into
// the configured output directory with the configured hints.
func WithReports(g *report.Generator) Option { return func(p *Pipeline) { p.reports = g } }

// WithRecorder stores every finished run.
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithNotifier streams results and summaries.
func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

// WithHTTPClient sets the client used for the preview server preflight.
func WithHTTPClient(c *http.Client) Option { return func(p *Pipeline) { p.httpClient = c } }

// WithIDs sets the run and result id generators.
func WithIDs(runs, results idgen.Generator) Option {
	return func(p *Pipeline) { p.runIDs, p.resultIDs = runs, results }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithOutput sets where the console tally goes. Default: os.Stdout.
func WithOutput(w io.Writer) Option { return func(p *Pipeline) { p.out = w } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New creates a Pipeline for cfg.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Field: "config", Reason: "is required"}
	}
	p := &Pipeline{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		runIDs:     idgen.Prefixed("run_", idgen.UUIDv7()),
		resultIDs:  idgen.Prefixed("res_", idgen.NanoID(12)),
		now:        time.Now,
		out:        os.Stdout,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.refs == nil {
		return nil, errors.New("pipeline: reference source is required")
	}
	if p.renderer == nil {
		return nil, errors.New("pipeline: renderer is required")
	}
	p.comparator = pixeldiff.New(pixeldiff.Options{Logger: p.logger})
	if p.reports == nil {
		p.reports = report.New(cfg.OutputDir(),
			report.WithHints(cfg.Report.Hints),
			report.WithClock(p.now),
			report.WithLogger(p.logger))
	}
	return p, nil
}

func (p *Pipeline) validateRequest(req Request) error {
	if len(req.Blocks) == 0 {
		return &config.ConfigurationError{Field: "block", Reason: "at least one block is required"}
	}
	for _, b := range req.Blocks {
		if err := safeio.ValidateIdentifier(b); err != nil {
			return &config.ConfigurationError{Field: "block", Reason: fmt.Sprintf("invalid block name %q", b), Err: err}
		}
	}
	if req.NodeID != "" && len(req.Blocks) > 1 {
		return &config.ConfigurationError{Field: "node-id", Reason: "an explicit node id applies to a single block"}
	}
	return nil
}

// Run executes req. The summary is returned even when elements failed;
// the error is non-nil only for configuration problems, when nothing could
// be resolved, or when ctx was cancelled.
func (p *Pipeline) Run(ctx context.Context, req Request) (*outcome.Summary, error) {
	if req.Iteration <= 0 {
		req.Iteration = 1
	}
	if err := p.validateRequest(req); err != nil {
		return nil, err
	}
	if p.cfg.PreflightEnabled() {
		if err := p.Preflight(ctx); err != nil {
			return nil, err
		}
	}

	elements, err := p.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	ws, err := NewWorkspace(p.reports.Dir(), req.Iteration)
	if err != nil {
		return nil, err
	}

	sum := &outcome.Summary{
		RunID:     p.runIDs(),
		Blocks:    req.Blocks,
		Iteration: req.Iteration,
		StartedAt: p.now(),
		Results:   make([]outcome.ElementResult, len(elements)),
	}
	ctx = kit.WithRunID(ctx, sum.RunID)
	p.logger.InfoContext(ctx, "pipeline: run started", "run_id", sum.RunID,
		"blocks", strings.Join(req.Blocks, ","), "elements", len(elements))

	runErr := p.processAll(ctx, ws, elements, sum.Results)

	sum.FinishedAt = p.now()
	sum.Tally()
	p.finish(ctx, req, sum, runErr == nil)

	if runErr != nil {
		return sum, fmt.Errorf("pipeline: run %s interrupted: %w", sum.RunID, runErr)
	}
	return sum, nil
}

// processAll fills results in element order. Sequential with the fixed
// inter-element delay unless pipeline.concurrency allows a pool.
func (p *Pipeline) processAll(ctx context.Context, ws *Workspace, elements []Element, results []outcome.ElementResult) error {
	if p.cfg.Pipeline.Concurrency <= 1 {
		for i, el := range elements {
			if i > 0 {
				if err := sleepCtx(ctx, p.cfg.ElementDelay()); err != nil {
					p.abandon(ctx, elements[i:], results[i:], err)
					return err
				}
			}
			if len(elements) > 1 {
				p.logger.InfoContext(ctx, "pipeline: validating element",
					"index", i+1, "of", len(elements), "key", el.Key())
			}
			results[i] = p.process(ctx, ws, el)
		}
		return ctx.Err()
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Pipeline.Concurrency)
	for i, el := range elements {
		g.Go(func() error {
			results[i] = p.process(ctx, ws, el)
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

// abandon marks elements never reached as errored and still announces each
// one, so a sink sees a result for every element of the summary.
func (p *Pipeline) abandon(ctx context.Context, elements []Element, results []outcome.ElementResult, err error) {
	for i, el := range elements {
		results[i] = p.newResult(el)
		results[i].Error = err.Error()
		p.notifyResult(ctx, results[i])
	}
}

// notifyResult delivers even when ctx is already cancelled.
func (p *Pipeline) notifyResult(ctx context.Context, res outcome.ElementResult) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendResult(context.WithoutCancel(ctx), res); err != nil {
		p.logger.WarnContext(ctx, "pipeline: notify result", "key", res.Key, "error", err)
	}
}

func (p *Pipeline) newResult(el Element) outcome.ElementResult {
	return outcome.ElementResult{
		ID:        p.resultIDs(),
		Key:       el.Key(),
		Block:     el.Block,
		Story:     el.Story,
		NodeID:    el.NodeID,
		FileID:    el.FileID,
		CreatedAt: p.now(),
	}
}

// process runs one element end to end. Failures are recorded on the result,
// never returned.
func (p *Pipeline) process(ctx context.Context, ws *Workspace, el Element) outcome.ElementResult {
	res := p.newResult(el)
	if err := p.compare(ctx, ws, el, &res); err != nil {
		p.logger.ErrorContext(ctx, "pipeline: element failed",
			"key", res.Key, "node_id", el.NodeID, "error", err)
		res.Passed = false
		res.Error = err.Error()
	}
	p.notifyResult(ctx, res)
	return res
}

func (p *Pipeline) compare(ctx context.Context, ws *Workspace, el Element, res *outcome.ElementResult) error {
	key := res.Key
	width, height := p.cfg.Browser.Width, p.cfg.Browser.Height
	if b, err := p.refs.NodeBounds(ctx, el.FileID, el.NodeID); err != nil {
		p.logger.WarnContext(ctx, "pipeline: node bounds unavailable, using default viewport",
			"key", key, "node_id", el.NodeID, "width", width, "height", height, "error", err)
	} else if w, h := b.Viewport(); w > 0 && h > 0 {
		width, height = w, h
	}

	ref, err := p.refs.FetchReference(ctx, el.FileID, el.NodeID)
	if err != nil {
		return err
	}
	if res.ReferencePath, err = ws.Write(ws.ReferenceName(key), ref.PNG); err != nil {
		return err
	}

	storyURL := capture.StoryURL(p.cfg.Storybook.URL, p.cfg.Storybook.StoryPrefix, el.Block, el.Story)
	shot, err := p.renderer.Capture(ctx, capture.Target{
		URL:      storyURL,
		Selector: p.cfg.Storybook.Selector,
		Width:    width,
		Height:   height,
		Scale:    p.cfg.Browser.Scale,
	})
	if err != nil {
		return err
	}
	if res.ImplPath, err = ws.Write(ws.ImplementationName(key), shot.PNG); err != nil {
		return err
	}

	diff, err := p.comparator.Compare(ref.Image, shot.Image)
	if err != nil {
		return fmt.Errorf("pipeline: compare %s: %w", key, err)
	}
	diffPNG, err := pixeldiff.EncodePNG(diff.Diff)
	if err != nil {
		return err
	}
	if res.DiffPath, err = ws.Write(ws.DiffName(key), diffPNG); err != nil {
		return err
	}

	v := verdict.DecideResult(diff)
	var crops cropFiles
	if !v.Passed {
		if crops, err = p.writeCrops(ws, key, ref.Image, shot.Image, diff); err != nil {
			return err
		}
	}
	res.Passed = v.Passed
	res.MismatchRatio = v.MismatchRatio
	res.MismatchPercent = v.Display()
	res.ThresholdPercent = v.ThresholdPercent
	res.Mismatched = diff.Mismatched
	res.Total = diff.Total
	res.Width = diff.Region.Width
	res.Height = diff.Region.Height
	res.Truncated = diff.Truncated

	h, err := p.reports.Generate(report.Input{
		Key:                    key,
		Block:                  el.Block,
		Story:                  el.Story,
		NodeID:                 el.NodeID,
		FileID:                 el.FileID,
		Verdict:                v,
		Mismatched:             diff.Mismatched,
		Total:                  diff.Total,
		Width:                  diff.Region.Width,
		Height:                 diff.Region.Height,
		ReferenceSize:          [2]int{diff.Reference.X, diff.Reference.Y},
		ImplementationSize:     [2]int{diff.Implementation.X, diff.Implementation.Y},
		Truncated:              diff.Truncated,
		Iteration:              ws.Iteration,
		ReferenceFile:          ws.ReferenceName(key),
		ImplementationFile:     ws.ImplementationName(key),
		DiffFile:               ws.DiffName(key),
		FocusArea:              crops.area,
		ReferenceCropFile:      crops.reference,
		ImplementationCropFile: crops.implementation,
		DesignURL:              figma.DesignURL(el.FileID, el.NodeID),
		StorybookURL:           capture.ViewerURL(p.cfg.Storybook.URL, p.cfg.Storybook.StoryPrefix, el.Block, el.Story),
		RerunCommand:           rerunCommand(el, ws.Iteration+1),
	})
	if err != nil {
		return err
	}
	res.ReportPath = h.Path

	status := "FAILED"
	if v.Passed {
		status = "PASSED"
	}
	p.logger.InfoContext(ctx, "pipeline: "+status, "key", key, "node_id", el.NodeID,
		"difference", report.FormatPercent(v)+"%", "threshold", fmt.Sprintf("%g%%", v.ThresholdPercent))
	return nil
}

// cropPadding surrounds the changed area so the crops keep some context.
const cropPadding = 32

type cropFiles struct {
	area                      image.Rectangle
	reference, implementation string
}

// writeCrops saves both renders cut to the area around the differing
// pixels. Nothing is written when no pixel was painted as a mismatch.
func (p *Pipeline) writeCrops(ws *Workspace, key string, ref, impl image.Image, diff *pixeldiff.Result) (cropFiles, error) {
	area := diff.Focus(cropPadding)
	if area.Empty() {
		return cropFiles{}, nil
	}
	out := cropFiles{area: area}
	for _, c := range []struct {
		img  image.Image
		name string
		dst  *string
	}{
		{ref, ws.ReferenceCropName(key), &out.reference},
		{impl, ws.ImplementationCropName(key), &out.implementation},
	} {
		data, err := pixeldiff.EncodePNG(pixeldiff.Crop(c.img, area))
		if err != nil {
			return cropFiles{}, err
		}
		if _, err := ws.Write(c.name, data); err != nil {
			return cropFiles{}, err
		}
		*c.dst = c.name
	}
	return out, nil
}

func rerunCommand(el Element, iteration int) string {
	cmd := fmt.Sprintf("designcheck --block=%s", el.Block)
	if el.Story != "" {
		cmd += " --story=" + el.Story
	}
	return cmd + fmt.Sprintf(" --node-id=%s --iteration=%d", el.NodeID, iteration)
}

// finish writes the summary artifacts, records and announces the run. With
// a single element its report is the result.
func (p *Pipeline) finish(ctx context.Context, req Request, sum *outcome.Summary, open bool) {
	open = open && !req.NoOpen && p.cfg.OpenReports()

	if len(sum.Results) > 1 {
		h, err := p.reports.Summary(*sum, "Design validation summary: "+strings.Join(req.Blocks, ", "))
		if err != nil {
			p.logger.ErrorContext(ctx, "pipeline: summary report", "error", err)
		} else {
			sum.SummaryPath = h.HTMLPath
		}
		if err := report.WriteTally(p.out, *sum); err != nil {
			p.logger.WarnContext(ctx, "pipeline: write tally", "error", err)
		}
		if open && sum.SummaryPath != "" {
			p.reports.Open(ctx, sum.SummaryPath)
		}
	} else if open && sum.Results[0].ReportPath != "" {
		p.reports.Open(ctx, sum.Results[0].ReportPath)
	}

	// Recording must survive a cancelled run.
	bg := context.WithoutCancel(ctx)
	if p.recorder != nil {
		if err := p.recorder.SaveRun(bg, sum); err != nil {
			p.logger.WarnContext(ctx, "pipeline: history not recorded", "run_id", sum.RunID, "error", err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.SendSummary(bg, *sum); err != nil {
			p.logger.WarnContext(ctx, "pipeline: notify summary", "run_id", sum.RunID, "error", err)
		}
	}
	p.logger.InfoContext(ctx, "pipeline: run finished", "run_id", sum.RunID,
		"passed", sum.Passed, "failed", sum.Failed, "errored", sum.Errored,
		"duration", sum.FinishedAt.Sub(sum.StartedAt).String())
}

// Preflight checks that the preview server answers before anything is
// captured.
func (p *Pipeline) Preflight(ctx context.Context) error {
	base := p.cfg.Storybook.URL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return &config.ConfigurationError{Field: "storybook.url", Reason: "invalid URL", Err: err}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &config.ConfigurationError{
			Field:  "storybook.url",
			Reason: "preview server not reachable at " + base + "; start it first",
			Err:    err,
		}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &config.ConfigurationError{
			Field:  "storybook.url",
			Reason: fmt.Sprintf("preview server at %s answered %d", base, resp.StatusCode),
		}
	}
	p.logger.DebugContext(ctx, "pipeline: preview server reachable", "url", base, "status", resp.StatusCode)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
