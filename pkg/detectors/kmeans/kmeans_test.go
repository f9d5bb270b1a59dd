package kmeans

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/dace/pkg/detectors"
)

var _ detectors.Detector = (*KMeans)(nil)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantK     int
		wantNInit int
	}{
		{name: "defaults", wantK: 2, wantNInit: 10},
		{name: "custom", opts: []Option{WithClusters(3), WithInit(4)}, wantK: 3, wantNInit: 4},
		{name: "clamped", opts: []Option{WithClusters(0), WithInit(0)}, wantK: 1, wantNInit: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.opts...)
			assert.Equal(t, tt.wantK, m.k)
			assert.Equal(t, tt.wantNInit, m.nInit)
		})
	}
}

func TestFitTwoBlobs(t *testing.T) {
	data := twoBlobs(100, 20, 10)
	m := New(WithSeed(42))
	require.NoError(t, m.Fit(data))

	centroids := m.Centroids()
	require.Len(t, centroids, 2)
	sort.Slice(centroids, func(i, j int) bool { return centroids[i][0] < centroids[j][0] })

	assert.InDelta(t, 0, centroids[0][0], 0.3)
	assert.InDelta(t, 0, centroids[0][1], 0.3)
	assert.InDelta(t, 10, centroids[1][0], 0.5)
	assert.InDelta(t, 10, centroids[1][1], 0.5)
	assert.Greater(t, m.Inertia(), 0.0)
}

func TestFitErrors(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.Fit(nil), detectors.ErrEmptyData)
	assert.ErrorIs(t, m.Fit([][]float64{{1, 2}, {3}}), detectors.ErrSchemaMismatch)
	assert.False(t, m.Trained())
}

func TestFitFewerPointsThanClusters(t *testing.T) {
	m := New(WithClusters(3))
	require.NoError(t, m.Fit([][]float64{{1, 1}}))

	scores, err := m.Predict([][]float64{{1, 1}, {4, 5}})
	require.NoError(t, err)
	assert.InDelta(t, 0, scores[0], 1e-12)
	assert.InDelta(t, 5, scores[1], 1e-12)
}

func TestPredictIsNearestCentroidDistance(t *testing.T) {
	m := New()
	m.centroids = [][]float64{{0, 0}, {10, 0}}
	m.trained = true

	scores, err := m.Predict([][]float64{{3, 4}, {10, 2}, {5, 0}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5, 2, 5}, scores, 1e-12)

	d, err := m.PredictOne([]float64{7, 0})
	require.NoError(t, err)
	assert.InDelta(t, 3, d, 1e-12)
}

func TestPredictOutlierScoresHighest(t *testing.T) {
	data := twoBlobs(200, 0, 1)
	data = append(data, []float64{40, 40})
	// With two clusters the outlier would claim a centroid of its own.
	m := New(WithClusters(1), WithSeed(42))
	require.NoError(t, m.Fit(data))

	scores, err := m.Predict(data)
	require.NoError(t, err)

	maxIdx := 0
	for i, s := range scores {
		if s > scores[maxIdx] {
			maxIdx = i
		}
	}
	assert.Equal(t, len(data)-1, maxIdx)
}

func TestPredictErrors(t *testing.T) {
	untrained := New()
	_, err := untrained.Predict([][]float64{{1, 2}})
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
	_, err = untrained.PredictOne([]float64{1, 2})
	assert.ErrorIs(t, err, detectors.ErrNotTrained)

	m := New()
	require.NoError(t, m.Fit(twoBlobs(20, 5, 1)))
	_, err = m.Predict([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, detectors.ErrSchemaMismatch)
	_, err = m.PredictOne([]float64{1})
	assert.ErrorIs(t, err, detectors.ErrSchemaMismatch)
}

func TestFitDeterministic(t *testing.T) {
	data := twoBlobs(150, 30, 6)

	a, b := New(WithSeed(42)), New(WithSeed(42))
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	assert.Equal(t, a.Centroids(), b.Centroids())
	assert.Equal(t, a.Inertia(), b.Inertia())
}

func TestSaveLoad(t *testing.T) {
	data := twoBlobs(100, 10, 4)
	original := New(WithSeed(3))
	require.NoError(t, original.Fit(data))

	payload, err := original.Save()
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, loaded.Load(payload))

	want, err := original.Predict(data)
	require.NoError(t, err)
	got, err := loaded.Predict(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, original.Inertia(), loaded.Inertia())

	_, err = New().Save()
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
}

func BenchmarkFit(b *testing.B) {
	data := twoBlobs(5000, 250, 6)
	m := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Fit(data)
	}
}

// twoBlobs returns n points around the origin and m points around (10, 10, ...).
func twoBlobs(n, m, dim int) [][]float64 {
	if dim < 2 {
		dim = 2
	}
	rng := rand.New(rand.NewSource(int64(n + m + dim)))
	data := make([][]float64, 0, n+m)
	for i := 0; i < n+m; i++ {
		center := 0.0
		if i >= n {
			center = 10
		}
		row := make([]float64, dim)
		for j := range row {
			row[j] = center + rng.NormFloat64()*math.Sqrt(0.5)
		}
		data = append(data, row)
	}
	return data
}
