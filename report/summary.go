package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/hazyhaar/designcheck/outcome"
	"github.com/hazyhaar/designcheck/safeio"
	"github.com/hazyhaar/designcheck/verdict"
)

type summaryRow struct {
	Status      string
	Name        string
	NodeID      string
	StatusLabel string
	Error       string
	Percent     string
	ReportFile  string
}

type summaryView struct {
	Title     string
	RunID     string
	Total     int
	Passed    int
	Failed    int
	Errored   int
	Generated string
	Rows      []summaryRow
	CSS       template.CSS
}

// SummaryHandle locates the written summary pair.
type SummaryHandle struct {
	HTMLPath     string
	MarkdownPath string
}

// SummaryStem is the shared file stem of a run summary, derived from the
// requested blocks.
func SummaryStem(blocks []string) string {
	if len(blocks) == 0 {
		return "all-summary"
	}
	return safeio.Stem(strings.Join(blocks, "-")) + "-summary"
}

// Summary writes the consolidated HTML summary and its Markdown rendition.
func (g *Generator) Summary(s outcome.Summary, title string) (*SummaryHandle, error) {
	if title == "" {
		title = "Design validation summary"
	}
	view := summaryView{
		Title:     title,
		RunID:     s.RunID,
		Total:     len(s.Results),
		Passed:    s.Passed,
		Failed:    s.Failed,
		Errored:   s.Errored,
		Generated: g.now().Format(time.RFC3339),
		CSS:       styleCSS,
	}
	for _, r := range s.Results {
		name := r.Block
		if r.Story != "" {
			name += " / " + r.Story
		}
		row := summaryRow{
			Status:      r.Status(),
			Name:        name,
			NodeID:      r.NodeID,
			StatusLabel: strings.ToUpper(r.Status()),
			Error:       r.Error,
		}
		if r.Error == "" {
			row.Percent = FormatPercent(verdict.Verdict{MismatchRatio: r.MismatchRatio})
		}
		if r.ReportPath != "" {
			row.ReportFile = FileName(r.Key)
		}
		view.Rows = append(view.Rows, row)
	}

	stem := SummaryStem(s.Blocks)
	var page bytes.Buffer
	if err := tmpl.ExecuteTemplate(&page, "summary.html.tmpl", view); err != nil {
		return nil, fmt.Errorf("report: render summary: %w", err)
	}
	htmlPath, err := g.write(stem+".html", page.Bytes())
	if err != nil {
		return nil, err
	}

	var frag bytes.Buffer
	if err := tmpl.ExecuteTemplate(&frag, "markdown.html.tmpl", view); err != nil {
		return nil, fmt.Errorf("report: render summary fragment: %w", err)
	}
	md, err := g.md.ConvertString(frag.String())
	if err != nil {
		return nil, fmt.Errorf("report: markdown: %w", err)
	}
	mdPath, err := g.write(stem+".md", []byte(md+"\n"))
	if err != nil {
		return nil, err
	}

	g.logger.Info("report: summary written", "html", htmlPath, "markdown", mdPath,
		"passed", s.Passed, "failed", s.Failed, "errored", s.Errored)
	return &SummaryHandle{HTMLPath: htmlPath, MarkdownPath: mdPath}, nil
}

// WriteTally prints the console tally of a run.
func WriteTally(w io.Writer, s outcome.Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\nValidation summary (%d elements)\n", len(s.Results))
	for _, r := range s.Results {
		name := r.Block
		if r.Story != "" {
			name += "/" + r.Story
		}
		switch r.Status() {
		case outcome.StatusError:
			fmt.Fprintf(&b, "  ERROR  %-32s %s\n", name, r.Error)
		default:
			label := "PASS"
			if !r.Passed {
				label = "FAIL"
			}
			fmt.Fprintf(&b, "  %-5s  %-32s %s%%\n", label, name,
				FormatPercent(verdict.Verdict{MismatchRatio: r.MismatchRatio}))
		}
	}
	fmt.Fprintf(&b, "Passed: %d  Failed: %d  Errors: %d\n", s.Passed, s.Failed, s.Errored)
	if s.SummaryPath != "" {
		fmt.Fprintf(&b, "Summary: %s\n", s.SummaryPath)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
