// Package detectors provides unsupervised anomaly scorers for consumption features.
package detectors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned when a detector is used before Fit.
	ErrNotTrained = errors.New("model not trained")

	// ErrSchemaMismatch is returned when a sample's arity differs from the
	// arity seen at fit time.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrEmptyData is returned when Fit receives no samples.
	ErrEmptyData = errors.New("empty training data")
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict returns one anomaly score per sample. Higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Classifier is a Detector with a calibrated decision boundary.
type Classifier interface {
	Detector

	// Classify reports, per sample, whether it falls beyond the fitted threshold.
	Classify(data [][]float64) ([]bool, error)
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of anomalies in training data.
	Contamination float64
	// RandomSeed for reproducibility.
	RandomSeed int64
}

// DefaultConfig returns the configuration used by the consumption engine.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.05,
		RandomSeed:    42,
	}
}

// CheckArity verifies that every row has exactly want columns.
func CheckArity(data [][]float64, want int) error {
	for i, row := range data {
		if len(row) != want {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrSchemaMismatch, i, len(row), want)
		}
	}
	return nil
}
