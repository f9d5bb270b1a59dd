// Package features derives the fixed per-reading feature vector used by the
// anomaly detectors.
package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/dace/pkg/consumption"
)

// Dim is the number of features per reading.
const Dim = 6

// Window is the trailing window length for rolling statistics.
const Window = 6

// Column positions inside a Vector.
const (
	ConsumptionKW = iota
	HourOfDay
	DayOfWeek
	IsWeekend
	RollingMean
	RollingStd
)

// FillValue replaces a missing value that has no later value to copy back from.
const FillValue = 0.0

var names = [Dim]string{
	"consumption_kw",
	"hour",
	"day_of_week",
	"is_weekend",
	"consumption_rolling_mean_6h",
	"consumption_rolling_std_6h",
}

// Vector is the ordered feature tuple for one reading.
type Vector [Dim]float64

// Names returns the feature names in vector order.
func Names() []string {
	out := make([]string, Dim)
	copy(out, names[:])
	return out
}

// Build derives one Vector per reading, preserving length and order.
// Readings are expected in timestamp order; rolling statistics follow input
// order and are not re-sorted.
func Build(readings []consumption.Reading) []Vector {
	out := make([]Vector, len(readings))
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.ConsumptionKW
	}

	for i, r := range readings {
		ts := r.Timestamp
		dow := (int(ts.Weekday()) + 6) % 7 // Monday = 0
		weekend := 0.0
		if dow >= 5 {
			weekend = 1
		}

		start := i - Window + 1
		if start < 0 {
			start = 0
		}
		window := values[start : i+1]

		std := math.NaN()
		if len(window) > 1 {
			std = stat.StdDev(window, nil)
		}

		out[i] = Vector{
			ConsumptionKW: r.ConsumptionKW,
			HourOfDay:     float64(ts.Hour()),
			DayOfWeek:     float64(dow),
			IsWeekend:     weekend,
			RollingMean:   stat.Mean(window, nil),
			RollingStd:    std,
		}
	}

	backfill(out)
	return out
}

// backfill replaces NaN entries column-wise with the next defined value in the
// sequence, or FillValue when none follows.
func backfill(vs []Vector) {
	for col := 0; col < Dim; col++ {
		next := math.NaN()
		for i := len(vs) - 1; i >= 0; i-- {
			if math.IsNaN(vs[i][col]) {
				if math.IsNaN(next) {
					vs[i][col] = FillValue
				} else {
					vs[i][col] = next
				}
				continue
			}
			next = vs[i][col]
		}
	}
}

// Matrix converts vectors into the row-major layout the detectors consume.
func Matrix(vs []Vector) [][]float64 {
	out := make([][]float64, len(vs))
	for i := range vs {
		row := make([]float64, Dim)
		copy(row, vs[i][:])
		out[i] = row
	}
	return out
}
