// Package outcome holds the result types shared by the pipeline, the report
// generator, history, notifications and the HTTP API.
package outcome

import "time"

// Status of one element.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
	StatusError  = "error"
)

// ElementResult is the record of one element's comparison. Error is set
// when fetching, capturing or comparing failed; the verdict fields are then
// zero and Passed is false.
type ElementResult struct {
	ID               string    `json:"id"`
	Key              string    `json:"key"`
	Block            string    `json:"block"`
	Story            string    `json:"story,omitempty"`
	NodeID           string    `json:"node_id"`
	FileID           string    `json:"file_id,omitempty"`
	Passed           bool      `json:"passed"`
	MismatchRatio    float64   `json:"mismatch_ratio"`
	MismatchPercent  float64   `json:"mismatch_percent"`
	ThresholdPercent float64   `json:"threshold_percent"`
	Mismatched       int       `json:"mismatched_pixels"`
	Total            int       `json:"total_pixels"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	Truncated        bool      `json:"truncated,omitempty"`
	ReferencePath    string    `json:"reference_path,omitempty"`
	ImplPath         string    `json:"implementation_path,omitempty"`
	DiffPath         string    `json:"diff_path,omitempty"`
	ReportPath       string    `json:"report_path,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Status returns StatusPassed, StatusFailed or StatusError.
func (r ElementResult) Status() string {
	switch {
	case r.Error != "":
		return StatusError
	case r.Passed:
		return StatusPassed
	default:
		return StatusFailed
	}
}

// Summary is a whole run: every element in request order plus tallies.
type Summary struct {
	RunID       string          `json:"run_id"`
	Blocks      []string        `json:"blocks"`
	Iteration   int             `json:"iteration"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Results     []ElementResult `json:"results"`
	Passed      int             `json:"passed"`
	Failed      int             `json:"failed"`
	Errored     int             `json:"errored"`
	SummaryPath string          `json:"summary_path,omitempty"`
}

// Tally recomputes the pass/fail/error counts from Results.
func (s *Summary) Tally() {
	s.Passed, s.Failed, s.Errored = 0, 0, 0
	for _, r := range s.Results {
		switch r.Status() {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		default:
			s.Errored++
		}
	}
}

// AllPassed reports whether every element passed. An empty run has not passed.
func (s *Summary) AllPassed() bool {
	return len(s.Results) > 0 && s.Passed == len(s.Results)
}
