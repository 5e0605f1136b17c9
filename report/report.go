// Package report renders the static HTML artifacts of a comparison run: one
// report per element, a consolidated summary (HTML and Markdown), and the
// console tally.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/designcheck/safeio"
	"github.com/hazyhaar/designcheck/verdict"
)

//go:embed templates
var templateFS embed.FS

var (
	tmpl     = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))
	styleCSS = template.CSS(mustRead("templates/style.css"))
)

func mustRead(name string) string {
	data, err := templateFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// Generator writes reports into one directory.
type Generator struct {
	dir    string
	hints  []template.HTML
	now    func() time.Time
	logger *slog.Logger
	opener func(path string) error
	md     *converter.Converter
}

// Option configures a Generator.
type Option func(*Generator)

// WithHints adds project-specific remediation hints shown on failing
// reports. Hints are HTML fragments; anything beyond user-generated-content
// markup is stripped.
func WithHints(hints []string) Option {
	return func(g *Generator) {
		p := bluemonday.UGCPolicy()
		for _, h := range hints {
			if s := p.Sanitize(h); s != "" {
				g.hints = append(g.hints, template.HTML(s))
			}
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithOpener replaces the host viewer launcher.
func WithOpener(fn func(path string) error) Option {
	return func(g *Generator) { g.opener = fn }
}

// New creates a Generator writing into dir.
func New(dir string, opts ...Option) *Generator {
	g := &Generator{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default(),
		opener: openInViewer,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Dir is the output directory.
func (g *Generator) Dir() string { return g.dir }

// Input is everything one element report shows. File fields are names
// relative to the report directory.
type Input struct {
	Key                string
	Block              string
	Story              string
	NodeID             string
	FileID             string
	Verdict            verdict.Verdict
	Mismatched         int
	Total              int
	Width              int
	Height             int
	ReferenceSize      [2]int
	ImplementationSize [2]int
	Truncated          bool
	Iteration          int
	ReferenceFile      string
	ImplementationFile string
	DiffFile           string
	DesignURL          string
	StorybookURL       string
	RerunCommand       string

	// FocusArea is the region around the differing pixels, in reference
	// pixels. The crop files show both renders cut to it.
	FocusArea              image.Rectangle
	ReferenceCropFile      string
	ImplementationCropFile string
}

// Handle locates a written report.
type Handle struct {
	Name string
	Path string
}

type elementView struct {
	Title              string
	Block              string
	Story              string
	NodeID             string
	FileID             string
	Passed             bool
	Percent            string
	Threshold          string
	Mismatched         int
	Total              int
	Iteration          int
	Truncated          bool
	ReferenceSize      string
	ImplementationSize string
	RegionSize         string
	ReferenceFile      string
	ImplementationFile string
	DiffFile           string
	FocusArea          string
	ReferenceCrop      string
	ImplementationCrop string
	DesignURL          template.URL
	StorybookURL       template.URL
	RerunCommand       string
	Hints              []template.HTML
	Generated          string
	CSS                template.CSS
}

// FileName is {key}-report.html.
func FileName(key string) string { return safeio.Stem(key) + "-report.html" }

// Generate renders and writes the element report.
func (g *Generator) Generate(in Input) (*Handle, error) {
	if in.Iteration <= 0 {
		in.Iteration = 1
	}
	title := in.Block
	if in.Story != "" {
		title += " / " + in.Story
	}
	view := elementView{
		Title:              title,
		Block:              in.Block,
		Story:              in.Story,
		NodeID:             in.NodeID,
		FileID:             in.FileID,
		Passed:             in.Verdict.Passed,
		Percent:            FormatPercent(in.Verdict),
		Threshold:          strconv.FormatFloat(in.Verdict.ThresholdPercent, 'f', -1, 64),
		Mismatched:         in.Mismatched,
		Total:              in.Total,
		Iteration:          in.Iteration,
		Truncated:          in.Truncated,
		ReferenceSize:      size(in.ReferenceSize),
		ImplementationSize: size(in.ImplementationSize),
		RegionSize:         fmt.Sprintf("%dx%d", in.Width, in.Height),
		ReferenceFile:      in.ReferenceFile,
		ImplementationFile: in.ImplementationFile,
		DiffFile:           in.DiffFile,
		DesignURL:          safeURL(in.DesignURL),
		StorybookURL:       safeURL(in.StorybookURL),
		RerunCommand:       in.RerunCommand,
		Hints:              g.hints,
		Generated:          g.now().Format(time.RFC3339),
		CSS:                styleCSS,
	}

	if in.ReferenceCropFile != "" && in.ImplementationCropFile != "" && !in.FocusArea.Empty() {
		a := in.FocusArea
		view.FocusArea = fmt.Sprintf("%dx%d at (%d, %d)", a.Dx(), a.Dy(), a.Min.X, a.Min.Y)
		view.ReferenceCrop = in.ReferenceCropFile
		view.ImplementationCrop = in.ImplementationCropFile
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "element.html.tmpl", view); err != nil {
		return nil, fmt.Errorf("report: render %s: %w", in.Key, err)
	}
	name := FileName(in.Key)
	path, err := g.write(name, buf.Bytes())
	if err != nil {
		return nil, err
	}
	g.logger.Info("report: element report written", "path", path, "passed", in.Verdict.Passed)
	return &Handle{Name: name, Path: path}, nil
}

// FormatPercent renders the mismatch with two decimals.
func FormatPercent(v verdict.Verdict) string {
	return strconv.FormatFloat(v.Display(), 'f', 2, 64)
}

func (g *Generator) write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir: %w", err)
	}
	path, err := safeio.SafePath(g.dir, name)
	if err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// safeURL lets http(s) links through as trusted URLs and drops anything else.
func safeURL(u string) template.URL {
	if u == "" || safeio.ValidateScheme(u) != nil {
		return ""
	}
	return template.URL(u)
}

func size(s [2]int) string { return fmt.Sprintf("%dx%d", s[0], s[1]) }
