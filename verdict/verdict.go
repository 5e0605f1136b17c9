// Package verdict classifies a mismatch ratio against the fixed visual
// tolerance.
package verdict

import (
	"math"

	"github.com/hazyhaar/designcheck/pixeldiff"
)

// ThresholdPercent is the pass boundary: strictly less than 0.1 % of
// compared pixels may differ.
const ThresholdPercent = 0.1

// Verdict is the pass/fail outcome for one comparison.
type Verdict struct {
	Passed           bool    `json:"passed"`
	MismatchRatio    float64 `json:"mismatch_ratio"`
	ThresholdPercent float64 `json:"threshold_percent"`
}

// Decide passes when ratio*100 < ThresholdPercent. The comparison uses full
// precision; rounding is for display only.
func Decide(ratio float64) Verdict {
	return Verdict{
		Passed:           ratio*100 < ThresholdPercent,
		MismatchRatio:    ratio,
		ThresholdPercent: ThresholdPercent,
	}
}

// DecideResult is Decide(r.Ratio).
func DecideResult(r *pixeldiff.Result) Verdict {
	return Decide(r.Ratio)
}

// Percent is the mismatch as a percentage, unrounded.
func (v Verdict) Percent() float64 { return v.MismatchRatio * 100 }

// Display is Percent rounded to two decimals.
func (v Verdict) Display() float64 { return math.Round(v.Percent()*100) / 100 }
