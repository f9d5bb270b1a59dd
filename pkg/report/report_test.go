package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/dace/pkg/consumption"
)

func rows(values []float64, anomalous ...int) []consumption.ScoredReading {
	flagged := make(map[int]bool, len(anomalous))
	for _, i := range anomalous {
		flagged[i] = true
	}
	base := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	out := make([]consumption.ScoredReading, len(values))
	for i, v := range values {
		out[i] = consumption.ScoredReading{
			Reading:      consumption.Reading{Timestamp: base.Add(time.Duration(i) * time.Hour), ConsumptionKW: v},
			FinalAnomaly: flagged[i],
		}
	}
	return out
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		rows    []consumption.ScoredReading
		want    Stats
		wantErr error
	}{
		{
			name:    "empty",
			rows:    nil,
			wantErr: ErrNoData,
		},
		{
			name: "single row",
			rows: rows([]float64{3}, 0),
			want: Stats{
				TotalRecords: 1, TotalAnomalies: 1, AnomalyPercentage: 100,
				AvgConsumption: 3, MaxConsumption: 3, MinConsumption: 3,
			},
		},
		{
			name: "four rows",
			rows: rows([]float64{1, 2, 3, 4}, 3),
			want: Stats{
				TotalRecords: 4, TotalAnomalies: 1, AnomalyPercentage: 25,
				AvgConsumption: 2.5, MaxConsumption: 4, MinConsumption: 1,
				StdConsumption: 1.2909944487358056,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.rows)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.TotalRecords, got.TotalRecords)
			assert.Equal(t, tt.want.TotalAnomalies, got.TotalAnomalies)
			assert.InDelta(t, tt.want.AnomalyPercentage, got.AnomalyPercentage, 1e-12)
			assert.InDelta(t, tt.want.AvgConsumption, got.AvgConsumption, 1e-12)
			assert.Equal(t, tt.want.MaxConsumption, got.MaxConsumption)
			assert.Equal(t, tt.want.MinConsumption, got.MinConsumption)
			assert.InDelta(t, tt.want.StdConsumption, got.StdConsumption, 1e-12)
		})
	}
}

func TestRounded(t *testing.T) {
	s := Stats{AnomalyPercentage: 4.7619047, AvgConsumption: 2.345, StdConsumption: 1.2909944}
	r := s.Rounded()
	assert.Equal(t, 4.76, r.AnomalyPercentage)
	assert.Equal(t, 1.29, r.StdConsumption)
}

func TestWriteTable(t *testing.T) {
	s, err := Compute(rows([]float64{1, 2, 3, 4}, 3))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, s))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 8)
	assert.Equal(t, []string{"metric", "value"}, records[0])
	assert.Equal(t, []string{"Total records", "4"}, records[1])
	assert.Equal(t, []string{"Anomaly percentage", "25.00%"}, records[3])
	assert.Equal(t, []string{"Std deviation (kW)", "1.29"}, records[7])
}

func TestHourlyProfile(t *testing.T) {
	values := make([]float64, 48)
	for i := range values {
		values[i] = float64(i % 24)
	}
	// Second day reads one kW higher.
	for i := 24; i < 48; i++ {
		values[i]++
	}

	profile := HourlyProfile(rows(values, 5, 29))
	for h, b := range profile {
		assert.Equal(t, h, b.Hour)
		assert.Equal(t, 2, b.Readings)
		assert.InDelta(t, float64(h)+0.5, b.MeanKW, 1e-12)
	}
	assert.Equal(t, 2, profile[5].Anomalies)
	assert.Equal(t, 0, profile[6].Anomalies)

	empty := HourlyProfile(nil)
	assert.Equal(t, 0, empty[12].Readings)
	assert.Equal(t, 0.0, empty[12].MeanKW)

	var buf bytes.Buffer
	require.NoError(t, WriteProfile(&buf, profile))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 25)
	assert.Equal(t, []string{"3", "3.5000", "2", "0"}, records[4])
}
