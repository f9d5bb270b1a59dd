package iforest

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/dace/pkg/detectors"
)

var _ detectors.Classifier = (*IsolationForest)(nil)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name              string
		opts              []Option
		wantNTrees        int
		wantContamination float64
	}{
		{
			name:              "default configuration",
			opts:              nil,
			wantNTrees:        100,
			wantContamination: 0.05,
		},
		{
			name:              "custom trees",
			opts:              []Option{WithTrees(50)},
			wantNTrees:        50,
			wantContamination: 0.05,
		},
		{
			name:              "multiple options",
			opts:              []Option{WithTrees(200), WithContamination(0.1), WithSeed(123)},
			wantNTrees:        200,
			wantContamination: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
			assert.Equal(t, tt.wantContamination, f.contamination)
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr error
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: detectors.ErrEmptyData,
		},
		{
			name:    "ragged rows",
			data:    [][]float64{{1, 2}, {1}},
			wantErr: detectors.ErrSchemaMismatch,
		},
		{
			name: "single sample",
			data: [][]float64{{1.0, 2.0, 3.0}},
		},
		{
			name: "normal data",
			data: generateTestData(100, 6),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10), WithSeed(42))
			err := f.Fit(tt.data)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, f.Trained())
			} else {
				assert.NoError(t, err)
				assert.True(t, f.trained)
				assert.Len(t, f.trees, f.nTrees)
			}
		})
	}
}

func TestPredict(t *testing.T) {
	// Train on normal data
	trainData := generateTestData(500, 6)
	f := New(WithTrees(50), WithSampleSize(100), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	t.Run("predict on normal data", func(t *testing.T) {
		testData := generateTestData(100, 6)
		scores, err := f.Predict(testData)

		require.NoError(t, err)
		assert.Len(t, scores, len(testData))

		// All scores should be in [0, 1]
		for _, score := range scores {
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})

	t.Run("predict on anomalies", func(t *testing.T) {
		anomalies := [][]float64{
			{1000, 1000, 1000, 1000, 1000, 1000},
			{-500, -500, -500, -500, -500, -500},
		}
		scores, err := f.Predict(anomalies)
		require.NoError(t, err)
		for _, score := range scores {
			assert.Greater(t, score, 0.55, "anomalies should have high scores")
		}

		flags, err := f.Classify(anomalies)
		require.NoError(t, err)
		assert.Equal(t, []bool{true, true}, flags)
	})

	t.Run("wrong arity", func(t *testing.T) {
		_, err := f.Predict([][]float64{{1, 2, 3}})
		assert.ErrorIs(t, err, detectors.ErrSchemaMismatch)

		_, err = f.Classify([][]float64{{1, 2, 3}})
		assert.ErrorIs(t, err, detectors.ErrSchemaMismatch)
	})

	t.Run("predict before fit", func(t *testing.T) {
		untrained := New()
		_, err := untrained.Predict(trainData)
		assert.ErrorIs(t, err, detectors.ErrNotTrained)

		_, err = untrained.Classify(trainData)
		assert.ErrorIs(t, err, detectors.ErrNotTrained)
	})
}

func TestContaminationCalibration(t *testing.T) {
	data := generateTestData(1000, 6)
	f := New(WithContamination(0.05), WithSeed(7))
	require.NoError(t, f.Fit(data))

	flags, err := f.Classify(data)
	require.NoError(t, err)

	flagged := 0
	for _, flag := range flags {
		if flag {
			flagged++
		}
	}
	// The threshold sits at the 95th percentile of training scores.
	assert.InDelta(t, 50, flagged, 2)
}

func TestFitDeterministic(t *testing.T) {
	data := generateTestData(300, 6)

	a := New(WithTrees(20), WithSeed(42))
	b := New(WithTrees(20), WithSeed(42))
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	sa, err := a.Predict(data)
	require.NoError(t, err)
	sb, err := b.Predict(data)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Threshold(), b.Threshold())
}

func TestConcurrentPredict(t *testing.T) {
	data := generateTestData(200, 6)
	f := New(WithTrees(20), WithSeed(42))
	require.NoError(t, f.Fit(data))

	want, err := f.Predict(data)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.Predict(data)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestPredictOne(t *testing.T) {
	trainData := generateTestData(200, 3)
	f := New(WithTrees(20), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	score, err := f.PredictOne([]float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)

	_, err = f.PredictOne([]float64{0.5})
	assert.ErrorIs(t, err, detectors.ErrSchemaMismatch)
}

func TestSaveLoad(t *testing.T) {
	trainData := generateTestData(200, 4)
	original := New(WithTrees(30), WithContamination(0.15), WithSeed(42))
	require.NoError(t, original.Fit(trainData))

	// Get predictions before save
	testData := generateTestData(50, 4)
	originalScores, err := original.Predict(testData)
	require.NoError(t, err)

	// Save
	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Load into new instance
	loaded := New()
	err = loaded.Load(data)
	require.NoError(t, err)

	// Predictions should match
	loadedScores, err := loaded.Predict(testData)
	require.NoError(t, err)

	assert.Equal(t, originalScores, loadedScores)
	assert.Equal(t, original.Threshold(), loaded.Threshold())
}

func TestSaveBeforeFit(t *testing.T) {
	_, err := New().Save()
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
}

func TestThreshold(t *testing.T) {
	f := New()
	assert.Equal(t, 0.5, f.Threshold())

	data := generateTestData(200, 3)
	require.NoError(t, f.Fit(data))
	scores, err := f.Predict(data)
	require.NoError(t, err)

	// Only the contamination share of the training batch lies above the threshold.
	above := 0
	for _, s := range scores {
		if s > f.Threshold() {
			above++
		}
	}
	assert.LessOrEqual(t, above, 20)
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(10000, 6)
	f := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(data)
	}
}

func BenchmarkPredict(b *testing.B) {
	trainData := generateTestData(5000, 6)
	testData := generateTestData(1000, 6)

	f := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Predict(testData)
	}
}

func generateTestData(n, features int) [][]float64 {
	rng := rand.New(rand.NewSource(int64(n*31 + features)))
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
