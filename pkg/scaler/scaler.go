// Package scaler standardizes feature columns to zero mean and unit variance.
package scaler

import (
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/dace/pkg/detectors"
)

// Standard holds per-feature statistics fitted once and reused for every
// transform. A fitted Standard is never modified.
type Standard struct {
	Mean  []float64
	Scale []float64
}

// Fit computes the population mean and standard deviation of every column.
// Columns with zero variance get a scale of 1 so they map to 0.
func Fit(data [][]float64) (*Standard, error) {
	if len(data) == 0 {
		return nil, detectors.ErrEmptyData
	}
	dim := len(data[0])
	if err := detectors.CheckArity(data, dim); err != nil {
		return nil, err
	}

	s := &Standard{
		Mean:  make([]float64, dim),
		Scale: make([]float64, dim),
	}
	col := make([]float64, len(data))
	for j := 0; j < dim; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s, nil
}

// Dim returns the number of features the scaler was fitted on.
func (s *Standard) Dim() int {
	return len(s.Mean)
}

// Transform returns a standardized copy of data.
func (s *Standard) Transform(data [][]float64) ([][]float64, error) {
	if s == nil {
		return nil, detectors.ErrNotTrained
	}
	if err := detectors.CheckArity(data, s.Dim()); err != nil {
		return nil, err
	}

	out := make([][]float64, len(data))
	for i, row := range data {
		z := make([]float64, len(row))
		for j, x := range row {
			z[j] = (x - s.Mean[j]) / s.Scale[j]
		}
		out[i] = z
	}
	return out, nil
}
