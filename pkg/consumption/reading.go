// Package consumption defines the electrical-consumption records that flow
// through the anomaly engine.
package consumption

import "time"

// Reading is one timestamped consumption measurement. IsAnomaly carries the
// ground-truth label when one is known and is nil otherwise.
type Reading struct {
	Timestamp     time.Time `json:"timestamp"`
	ConsumptionKW float64   `json:"consumption_kw"`
	IsAnomaly     *bool     `json:"is_anomaly,omitempty"`
}

// Labeled reports whether the reading carries a ground-truth label.
func (r Reading) Labeled() bool {
	return r.IsAnomaly != nil
}

// Label returns the ground-truth label, or false when none is set.
func (r Reading) Label() bool {
	return r.IsAnomaly != nil && *r.IsAnomaly
}

// WithLabel returns a copy of r labelled as given.
func (r Reading) WithLabel(anomalous bool) Reading {
	r.IsAnomaly = &anomalous
	return r
}

// AnomalyKind names the kind of anomaly injected into a synthetic reading.
type AnomalyKind string

const (
	KindNone  AnomalyKind = "none"
	KindSpike AnomalyKind = "spike"
	KindDrop  AnomalyKind = "drop"
	KindZero  AnomalyKind = "zero"
)

// LabeledReading is a synthetic reading together with what was done to it.
type LabeledReading struct {
	Reading
	// Kind is the injected anomaly kind, KindNone for untouched readings.
	Kind AnomalyKind `json:"anomaly_kind"`
	// BaseKW is the value before injection.
	BaseKW float64 `json:"base_kw"`
}

// ScoredReading is a Reading plus the verdicts of both scorers and the fused verdict.
type ScoredReading struct {
	Reading
	Kind             AnomalyKind `json:"anomaly_kind,omitempty"`
	KMeansScore      float64     `json:"kmeans_anomaly_score"`
	IsolationAnomaly bool        `json:"isolation_forest_anomaly"`
	FinalAnomaly     bool        `json:"final_anomaly"`
}

// Readings strips the injection metadata from a labelled series.
func Readings(series []LabeledReading) []Reading {
	out := make([]Reading, len(series))
	for i, lr := range series {
		out[i] = lr.Reading
	}
	return out
}

// CountFinal returns how many readings carry a final anomaly verdict.
func CountFinal(scored []ScoredReading) int {
	n := 0
	for _, s := range scored {
		if s.FinalAnomaly {
			n++
		}
	}
	return n
}
