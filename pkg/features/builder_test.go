package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/dace/pkg/consumption"
)

// 2024-01-05 is a Friday.
var friday = time.Date(2024, 1, 5, 22, 0, 0, 0, time.UTC)

func hourly(values ...float64) []consumption.Reading {
	out := make([]consumption.Reading, len(values))
	for i, v := range values {
		out[i] = consumption.Reading{Timestamp: friday.Add(time.Duration(i) * time.Hour), ConsumptionKW: v}
	}
	return out
}

func TestBuildEmpty(t *testing.T) {
	vs := Build(nil)
	assert.NotNil(t, vs)
	assert.Empty(t, vs)
}

func TestBuildSingleReading(t *testing.T) {
	vs := Build(hourly(3.2))
	require.Len(t, vs, 1)

	assert.Equal(t, 3.2, vs[0][ConsumptionKW])
	assert.Equal(t, 3.2, vs[0][RollingMean])
	// No later value to backfill from.
	assert.Equal(t, FillValue, vs[0][RollingStd])
}

func TestBuildCalendarFields(t *testing.T) {
	values := make([]float64, 60)
	vs := Build(hourly(values...))

	tests := []struct {
		idx         int
		wantHour    float64
		wantDow     float64
		wantWeekend float64
	}{
		{idx: 0, wantHour: 22, wantDow: 4, wantWeekend: 0}, // Fri 22:00
		{idx: 2, wantHour: 0, wantDow: 5, wantWeekend: 1},  // Sat 00:00
		{idx: 26, wantHour: 0, wantDow: 6, wantWeekend: 1}, // Sun 00:00
		{idx: 50, wantHour: 0, wantDow: 0, wantWeekend: 0}, // Mon 00:00
		{idx: 57, wantHour: 7, wantDow: 0, wantWeekend: 0}, // Mon 07:00
	}
	for _, tt := range tests {
		v := vs[tt.idx]
		assert.Equal(t, tt.wantHour, v[HourOfDay], "hour at %d", tt.idx)
		assert.Equal(t, tt.wantDow, v[DayOfWeek], "day_of_week at %d", tt.idx)
		assert.Equal(t, tt.wantWeekend, v[IsWeekend], "is_weekend at %d", tt.idx)
	}
}

func TestBuildRollingWindow(t *testing.T) {
	vs := Build(hourly(1, 2, 3, 4, 5, 6, 7, 8))
	require.Len(t, vs, 8)

	// Window grows from 1 to 6 then slides.
	wantMean := []float64{1, 1.5, 2, 2.5, 3, 3.5, 4.5, 5.5}
	for i, want := range wantMean {
		assert.InDelta(t, want, vs[i][RollingMean], 1e-12, "mean at %d", i)
	}

	// Sample std of {1,2} is sqrt(0.5); index 0 is backfilled from index 1.
	assert.InDelta(t, math.Sqrt(0.5), vs[1][RollingStd], 1e-12)
	assert.Equal(t, vs[1][RollingStd], vs[0][RollingStd])
	// Sample std of six consecutive integers is sqrt(3.5).
	assert.InDelta(t, math.Sqrt(3.5), vs[7][RollingStd], 1e-12)
}

func TestBuildFollowsInputOrder(t *testing.T) {
	readings := hourly(10, 0, 10)
	readings[0], readings[2] = readings[2], readings[0]
	readings[0].ConsumptionKW, readings[2].ConsumptionKW = 4, 8

	vs := Build(readings)
	assert.InDelta(t, 4, vs[0][RollingMean], 1e-12)
	assert.InDelta(t, 2, vs[1][RollingMean], 1e-12)
	assert.InDelta(t, 4, vs[2][RollingMean], 1e-12)
	assert.Equal(t, 0.0, vs[0][HourOfDay]) // swapped timestamp stays with its reading
}

func TestBuildHasNoMissingValues(t *testing.T) {
	for n := 1; n <= 20; n++ {
		values := make([]float64, n)
		for i := range values {
			values[i] = float64(i%5) * 0.7
		}
		for i, v := range Build(hourly(values...)) {
			for col, x := range v {
				assert.False(t, math.IsNaN(x), "n=%d row=%d col=%s", n, i, names[col])
			}
		}
	}
}

func TestBackfillTail(t *testing.T) {
	nan := math.NaN()
	vs := []Vector{
		{nan, 1, 1, 1, 1, 1},
		{2, 1, 1, 1, 1, nan},
		{nan, 1, 1, 1, 1, nan},
	}
	backfill(vs)

	assert.Equal(t, 2.0, vs[0][0])
	assert.Equal(t, FillValue, vs[2][0])
	assert.Equal(t, FillValue, vs[1][5])
	assert.Equal(t, FillValue, vs[2][5])
}

func TestNamesAndMatrix(t *testing.T) {
	assert.Equal(t, []string{
		"consumption_kw", "hour", "day_of_week", "is_weekend",
		"consumption_rolling_mean_6h", "consumption_rolling_std_6h",
	}, Names())

	vs := Build(hourly(1, 2))
	m := Matrix(vs)
	require.Len(t, m, 2)
	assert.Len(t, m[0], Dim)
	assert.Equal(t, vs[1][RollingMean], m[1][RollingMean])

	m[0][0] = 99
	assert.Equal(t, 1.0, vs[0][0])
}
