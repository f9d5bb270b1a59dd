// Package fusion combines the centroid-distance scores and isolation verdicts
// into one anomaly verdict per reading.
package fusion

import (
	"errors"
	"fmt"

	"github.com/hed1ad/dace/pkg/detectors"
)

// DefaultQuantile is the score quantile above which a reading is anomalous.
const DefaultQuantile = 0.95

// ErrLengthMismatch is returned when the score and verdict sequences differ in length.
var ErrLengthMismatch = errors.New("fusion: score and verdict lengths differ")

// Mode selects where the distance threshold comes from.
type Mode string

const (
	// ModeBatch recomputes the threshold from the batch being scored.
	ModeBatch Mode = "batch"
	// ModeFixed uses the threshold captured on the training batch.
	ModeFixed Mode = "fixed"
)

// ParseMode validates a textual mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBatch, ModeFixed:
		return Mode(s), nil
	case "":
		return ModeBatch, nil
	}
	return "", fmt.Errorf("unknown threshold mode %q", s)
}

// Result is the fused verdict for a batch.
type Result struct {
	Threshold float64
	Flags     []bool
}

// Count returns the number of flagged readings.
func (r Result) Count() int {
	n := 0
	for _, f := range r.Flags {
		if f {
			n++
		}
	}
	return n
}

// Threshold returns the DefaultQuantile of the scores.
func Threshold(scores []float64) float64 {
	return detectors.Quantile(scores, DefaultQuantile)
}

// Above flags every score strictly greater than threshold.
func Above(scores []float64, threshold float64) []bool {
	flags := make([]bool, len(scores))
	for i, s := range scores {
		flags[i] = s > threshold
	}
	return flags
}

// Fuse flags a reading when its score exceeds the batch threshold or the
// isolation scorer marked it.
func Fuse(scores []float64, isolation []bool) (Result, error) {
	return FuseAt(scores, isolation, Threshold(scores))
}

// FuseAt is Fuse with an explicit threshold.
func FuseAt(scores []float64, isolation []bool, threshold float64) (Result, error) {
	if len(scores) != len(isolation) {
		return Result{}, fmt.Errorf("%w: %d scores, %d verdicts", ErrLengthMismatch, len(scores), len(isolation))
	}

	flags := Above(scores, threshold)
	for i, iso := range isolation {
		flags[i] = flags[i] || iso
	}
	return Result{Threshold: threshold, Flags: flags}, nil
}

// Policy binds a quantile and a threshold mode.
type Policy struct {
	Quantile float64
	Mode     Mode
}

// DefaultPolicy recomputes the 95th percentile per batch.
func DefaultPolicy() Policy {
	return Policy{Quantile: DefaultQuantile, Mode: ModeBatch}
}

// Threshold returns the policy's threshold for scores. trained is the
// threshold captured at training time and is used only in ModeFixed.
func (p Policy) Threshold(scores []float64, trained float64) float64 {
	if p.Mode == ModeFixed {
		return trained
	}
	q := p.Quantile
	if q == 0 {
		q = DefaultQuantile
	}
	return detectors.Quantile(scores, q)
}

// Apply fuses scores and isolation verdicts under the policy.
func (p Policy) Apply(scores []float64, isolation []bool, trained float64) (Result, error) {
	return FuseAt(scores, isolation, p.Threshold(scores, trained))
}
