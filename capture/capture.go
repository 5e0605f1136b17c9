package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// StripChromeJS removes the preview container's spacing so the block sits
// at the viewport origin. Only wrapper elements are touched, never the
// block's own styles.
const StripChromeJS = `() => {
	document.body.style.margin = '0';
	document.body.style.padding = '0';
	document.body.style.overflow = 'hidden';
	const wrapper = document.querySelector('main > .section > div');
	if (wrapper) {
		wrapper.style.margin = '0';
		wrapper.style.padding = '0';
		wrapper.style.maxWidth = 'none';
	}
	const section = document.querySelector('main > .section');
	if (section) {
		section.style.margin = '0';
	}
}`

// Target is one capture request. Width and Height are CSS pixels; the PNG
// comes out at Width*Scale x Height*Scale.
type Target struct {
	URL      string
	Selector string
	Width    int
	Height   int
	Scale    float64
}

// Shot is a captured implementation render.
type Shot struct {
	URL    string
	PNG    []byte
	Image  image.Image
	Width  int
	Height int
	Scale  float64
}

// Options tunes the capture timings.
type Options struct {
	NavTimeout  time.Duration // navigation + load + network idle bound
	SettleDelay time.Duration // after idle, for fonts and late layout
	StyleDelay  time.Duration // after stripping page chrome
	IdleWindow  time.Duration // quiet period that counts as network idle
}

func (o *Options) defaults() {
	if o.NavTimeout <= 0 {
		o.NavTimeout = 30 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.StyleDelay <= 0 {
		o.StyleDelay = 100 * time.Millisecond
	}
	if o.IdleWindow <= 0 {
		o.IdleWindow = 500 * time.Millisecond
	}
}

// tab is the slice of a browser page the capture sequence needs.
type tab interface {
	SetViewport(width, height int, scale float64) error
	Navigate(ctx context.Context, url string, idle time.Duration) (stage string, err error)
	Eval(ctx context.Context, js string) error
	// Query reports whether selector matches and how many child elements
	// (plus one for non-blank text) the first match holds.
	Query(ctx context.Context, selector string) (found bool, children int, err error)
	Screenshot(ctx context.Context, width, height int) ([]byte, error)
	Close() error
}

// Capturer screenshots stories. Safe for concurrent use; each Capture opens
// its own tab.
type Capturer struct {
	open   func(ctx context.Context) (tab, error)
	opts   Options
	logger *slog.Logger
}

// New creates a Capturer drawing tabs from mgr. Chrome starts on the first
// Capture.
func New(mgr *Manager, opts Options) *Capturer {
	opts.defaults()
	return &Capturer{
		open:   func(ctx context.Context) (tab, error) { return openRodTab(ctx, mgr) },
		opts:   opts,
		logger: mgr.cfg.Logger,
	}
}

// Capture renders t.URL at the target viewport and returns a PNG clipped to
// (0,0,Width,Height).
func (c *Capturer) Capture(ctx context.Context, t Target) (*Shot, error) {
	if t.Width <= 0 || t.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid viewport %dx%d", t.Width, t.Height)
	}
	if t.Scale <= 0 {
		t.Scale = 2
	}

	tb, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	defer tb.Close()

	if err := tb.SetViewport(t.Width, t.Height, t.Scale); err != nil {
		return nil, fmt.Errorf("capture: set viewport: %w", err)
	}

	c.logger.InfoContext(ctx, "capture: rendering story", "url", t.URL, "width", t.Width, "height", t.Height, "scale", t.Scale)

	navCtx, cancel := context.WithTimeout(ctx, c.opts.NavTimeout)
	defer cancel()
	if stage, err := tb.Navigate(navCtx, t.URL, c.opts.IdleWindow); err != nil {
		return nil, c.classify(ctx, navCtx, t.URL, stage, err)
	}

	if err := sleepCtx(ctx, c.opts.SettleDelay); err != nil {
		return nil, err
	}
	if err := tb.Eval(ctx, StripChromeJS); err != nil {
		return nil, fmt.Errorf("capture: strip page chrome: %w", err)
	}
	if err := sleepCtx(ctx, c.opts.StyleDelay); err != nil {
		return nil, err
	}

	// The preview iframe ships its root container for every story id, so an
	// unknown or broken story shows up as an empty root, not a missing one.
	if t.Selector != "" {
		found, children, err := tb.Query(ctx, t.Selector)
		if err != nil {
			return nil, fmt.Errorf("capture: query %q: %w", t.Selector, err)
		}
		if !found || children == 0 {
			return nil, &ElementNotFoundError{URL: t.URL, Selector: t.Selector, Empty: found}
		}
	}

	data, err := tb.Screenshot(ctx, t.Width, t.Height)
	if err != nil {
		return nil, fmt.Errorf("capture: screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	b := img.Bounds()
	c.logger.InfoContext(ctx, "capture: screenshot taken", "url", t.URL, "pixels", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))

	return &Shot{
		URL:    t.URL,
		PNG:    data,
		Image:  img,
		Width:  t.Width,
		Height: t.Height,
		Scale:  t.Scale,
	}, nil
}

// classify turns a navigation failure into a RenderTimeoutError when the
// navigation bound expired, as opposed to the caller cancelling.
func (c *Capturer) classify(parent, navCtx context.Context, url, stage string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("capture: %s %s: %w", stage, url, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return &RenderTimeoutError{URL: url, Stage: stage, Timeout: c.opts.NavTimeout, Err: err}
	}
	return fmt.Errorf("capture: %s %s: %w", stage, url, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// rodTab is the go-rod implementation of tab.
type rodTab struct {
	page   *rod.Page
	router *rod.HijackRouter
	logger *slog.Logger
}

func openRodTab(ctx context.Context, mgr *Manager) (tab, error) {
	b, err := mgr.Start(ctx)
	if err != nil {
		return nil, err
	}
	var page *rod.Page
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("capture: create tab: %w", err)
	}
	t := &rodTab{page: page, logger: mgr.cfg.Logger}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		router, err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
		if err != nil {
			mgr.cfg.Logger.Warn("capture: resource blocking failed", "error", err)
		}
		t.router = router
	}
	return t, nil
}

func (t *rodTab) SetViewport(width, height int, scale float64) error {
	return t.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
		Mobile:            false,
	})
}

func (t *rodTab) Navigate(ctx context.Context, url string, idle time.Duration) (string, error) {
	p := t.page.Context(ctx)
	// Images and fonts count towards idle: they are what gets compared.
	waitIdle := p.WaitRequestIdle(idle, nil, nil, []proto.NetworkResourceType{
		proto.NetworkResourceTypeWebSocket,
		proto.NetworkResourceTypeEventSource,
		proto.NetworkResourceTypeMedia,
	})
	if err := p.Navigate(url); err != nil {
		return "navigate", err
	}
	if err := p.WaitLoad(); err != nil {
		return "load", err
	}
	waitIdle()
	if err := ctx.Err(); err != nil {
		return "idle", err
	}
	return "", nil
}

func (t *rodTab) Eval(ctx context.Context, js string) error {
	_, err := t.page.Context(ctx).Eval(js)
	return err
}

func (t *rodTab) Query(ctx context.Context, selector string) (bool, int, error) {
	ok, el, err := t.page.Context(ctx).Has(selector)
	if err != nil || !ok {
		return ok, 0, err
	}
	res, err := el.Eval(`() => this.childElementCount + (this.textContent.trim() ? 1 : 0)`)
	if err != nil {
		return true, 0, err
	}
	return true, res.Value.Int(), nil
}

func (t *rodTab) Screenshot(ctx context.Context, width, height int) ([]byte, error) {
	return t.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      0,
			Y:      0,
			Width:  float64(width),
			Height: float64(height),
			Scale:  1,
		},
	})
}

func (t *rodTab) Close() error {
	if t.router != nil {
		if err := t.router.Stop(); err != nil {
			t.logger.Debug("capture: stop request router", "error", err)
		}
	}
	return t.page.Close()
}
