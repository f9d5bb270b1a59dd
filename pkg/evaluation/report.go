// Package evaluation scores detector verdicts against ground-truth labels.
package evaluation

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hed1ad/dace/pkg/consumption"
	"github.com/hed1ad/dace/pkg/fusion"
)

// ErrMissingLabel is returned when a reading has no is_anomaly ground truth.
var ErrMissingLabel = errors.New("missing column: is_anomaly")

// ClassMetrics are the per-class figures of a classification report.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Confusion is a binary confusion matrix with "anomaly" as the positive class.
type Confusion struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// ClassificationReport mirrors the usual precision/recall/F1 summary for a
// binary classifier.
type ClassificationReport struct {
	Normal      ClassMetrics `json:"False"`
	Anomaly     ClassMetrics `json:"True"`
	Accuracy    float64      `json:"accuracy"`
	MacroAvg    ClassMetrics `json:"macro avg"`
	WeightedAvg ClassMetrics `json:"weighted avg"`
	Confusion   Confusion    `json:"confusion_matrix"`
}

// Report holds one ClassificationReport per verdict source.
type Report struct {
	KMeans          ClassificationReport `json:"kmeans"`
	IsolationForest ClassificationReport `json:"isolation_forest"`
	Combined        ClassificationReport `json:"combined"`
	// KMeansThreshold is the batch 95th percentile used for the kmeans verdict.
	KMeansThreshold float64 `json:"kmeans_threshold"`
}

// Evaluate compares the centroid-distance verdict, the isolation verdict and
// the fused verdict against each reading's label.
func Evaluate(scored []consumption.ScoredReading) (*Report, error) {
	truth := make([]bool, len(scored))
	scores := make([]float64, len(scored))
	isolation := make([]bool, len(scored))
	combined := make([]bool, len(scored))
	for i, s := range scored {
		if !s.Labeled() {
			return nil, fmt.Errorf("%w (reading %d)", ErrMissingLabel, i)
		}
		truth[i] = s.Label()
		scores[i] = s.KMeansScore
		isolation[i] = s.IsolationAnomaly
		combined[i] = s.FinalAnomaly
	}

	threshold := fusion.Threshold(scores)
	return &Report{
		KMeans:          Classify(truth, fusion.Above(scores, threshold)),
		IsolationForest: Classify(truth, isolation),
		Combined:        Classify(truth, combined),
		KMeansThreshold: threshold,
	}, nil
}

// Classify builds a ClassificationReport from parallel truth and prediction
// slices. Only the common prefix is compared when lengths differ.
func Classify(truth, pred []bool) ClassificationReport {
	n := len(truth)
	if len(pred) < n {
		n = len(pred)
	}

	var c Confusion
	for i := 0; i < n; i++ {
		switch {
		case truth[i] && pred[i]:
			c.TP++
		case truth[i]:
			c.FN++
		case pred[i]:
			c.FP++
		default:
			c.TN++
		}
	}

	anomaly := metrics(c.TP, c.FP, c.FN)
	normal := metrics(c.TN, c.FN, c.FP)
	total := anomaly.Support + normal.Support

	r := ClassificationReport{
		Normal:    normal,
		Anomaly:   anomaly,
		Confusion: c,
		MacroAvg: ClassMetrics{
			Precision: (normal.Precision + anomaly.Precision) / 2,
			Recall:    (normal.Recall + anomaly.Recall) / 2,
			F1:        (normal.F1 + anomaly.F1) / 2,
			Support:   total,
		},
		WeightedAvg: ClassMetrics{Support: total},
	}
	if total > 0 {
		r.Accuracy = float64(c.TP+c.TN) / float64(total)
		wn := float64(normal.Support) / float64(total)
		wa := float64(anomaly.Support) / float64(total)
		r.WeightedAvg.Precision = wn*normal.Precision + wa*anomaly.Precision
		r.WeightedAvg.Recall = wn*normal.Recall + wa*anomaly.Recall
		r.WeightedAvg.F1 = wn*normal.F1 + wa*anomaly.F1
	}
	return r
}

// metrics computes one class's figures; undefined ratios are reported as 0.
func metrics(tp, fp, fn int) ClassMetrics {
	m := ClassMetrics{Support: tp + fn}
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Log writes a readable summary of the report.
func (r *Report) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	for _, entry := range []struct {
		name string
		cr   ClassificationReport
	}{
		{"kmeans", r.KMeans},
		{"isolation_forest", r.IsolationForest},
		{"combined", r.Combined},
	} {
		logger.Info("model evaluation",
			zap.String("model", entry.name),
			zap.Float64("accuracy", entry.cr.Accuracy),
			zap.Float64("precision", entry.cr.Anomaly.Precision),
			zap.Float64("recall", entry.cr.Anomaly.Recall),
			zap.Float64("f1", entry.cr.Anomaly.F1),
			zap.Int("support", entry.cr.Anomaly.Support),
			zap.Int("tp", entry.cr.Confusion.TP),
			zap.Int("fp", entry.cr.Confusion.FP),
			zap.Int("fn", entry.cr.Confusion.FN),
			zap.Int("tn", entry.cr.Confusion.TN),
		)
	}
}
