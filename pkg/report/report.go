// Package report summarizes a scored consumption dataset.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/dace/pkg/consumption"
)

// ErrNoData is returned when there is nothing to summarize.
var ErrNoData = errors.New("no data")

// Stats are the headline figures of a scored dataset.
type Stats struct {
	TotalRecords      int     `json:"total_records"`
	TotalAnomalies    int     `json:"total_anomalies"`
	AnomalyPercentage float64 `json:"anomaly_percentage"`
	AvgConsumption    float64 `json:"avg_consumption"`
	MaxConsumption    float64 `json:"max_consumption"`
	MinConsumption    float64 `json:"min_consumption"`
	// StdConsumption is the sample standard deviation, 0 for a single row.
	StdConsumption float64 `json:"std_consumption"`
}

// Compute summarizes rows using the fused verdict.
func Compute(rows []consumption.ScoredReading) (Stats, error) {
	if len(rows) == 0 {
		return Stats{}, ErrNoData
	}

	kw := make([]float64, len(rows))
	for i, r := range rows {
		kw[i] = r.ConsumptionKW
	}
	anomalies := consumption.CountFinal(rows)

	s := Stats{
		TotalRecords:      len(rows),
		TotalAnomalies:    anomalies,
		AnomalyPercentage: 100 * float64(anomalies) / float64(len(rows)),
		AvgConsumption:    stat.Mean(kw, nil),
		MaxConsumption:    floats.Max(kw),
		MinConsumption:    floats.Min(kw),
	}
	if len(kw) > 1 {
		s.StdConsumption = stat.StdDev(kw, nil)
	}
	return s, nil
}

// Rounded returns s with every figure rounded to two decimals.
func (s Stats) Rounded() Stats {
	s.AnomalyPercentage = round2(s.AnomalyPercentage)
	s.AvgConsumption = round2(s.AvgConsumption)
	s.MaxConsumption = round2(s.MaxConsumption)
	s.MinConsumption = round2(s.MinConsumption)
	s.StdConsumption = round2(s.StdConsumption)
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WriteTable writes s as a two-column metric,value CSV table.
func WriteTable(w io.Writer, s Stats) error {
	cw := csv.NewWriter(w)
	records := [][]string{
		{"metric", "value"},
		{"Total records", strconv.Itoa(s.TotalRecords)},
		{"Anomalies detected", strconv.Itoa(s.TotalAnomalies)},
		{"Anomaly percentage", fmt.Sprintf("%.2f%%", s.AnomalyPercentage)},
		{"Mean consumption (kW)", fmt.Sprintf("%.2f", s.AvgConsumption)},
		{"Max consumption (kW)", fmt.Sprintf("%.2f", s.MaxConsumption)},
		{"Min consumption (kW)", fmt.Sprintf("%.2f", s.MinConsumption)},
		{"Std deviation (kW)", fmt.Sprintf("%.2f", s.StdConsumption)},
	}
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("write stats table: %w", err)
	}
	return nil
}

// HourBucket is the consumption profile of one hour of day.
type HourBucket struct {
	Hour      int     `json:"hour"`
	MeanKW    float64 `json:"mean_consumption_kw"`
	Readings  int     `json:"readings"`
	Anomalies int     `json:"anomalies"`
}

// HourlyProfile averages consumption per hour of day. Hours without
// readings have a zero mean.
func HourlyProfile(rows []consumption.ScoredReading) [24]HourBucket {
	var sums [24][]float64
	var profile [24]HourBucket
	for _, r := range rows {
		h := r.Timestamp.Hour()
		sums[h] = append(sums[h], r.ConsumptionKW)
		if r.FinalAnomaly {
			profile[h].Anomalies++
		}
	}
	for h := range profile {
		profile[h].Hour = h
		profile[h].Readings = len(sums[h])
		if len(sums[h]) > 0 {
			profile[h].MeanKW = stat.Mean(sums[h], nil)
		}
	}
	return profile
}

// WriteProfile writes an hourly profile as CSV.
func WriteProfile(w io.Writer, profile [24]HourBucket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"hour", "mean_consumption_kw", "readings", "anomalies"}); err != nil {
		return err
	}
	for _, b := range profile {
		err := cw.Write([]string{
			strconv.Itoa(b.Hour),
			strconv.FormatFloat(b.MeanKW, 'f', 4, 64),
			strconv.Itoa(b.Readings),
			strconv.Itoa(b.Anomalies),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
