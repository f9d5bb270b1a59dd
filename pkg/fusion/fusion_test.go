package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformScores(n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = float64(i)
	}
	return scores
}

func TestFuseUniformScores(t *testing.T) {
	scores := uniformScores(100)
	res, err := Fuse(scores, make([]bool, 100))
	require.NoError(t, err)

	// Linear interpolation at rank 0.95*99 lies between 94 and 95.
	assert.InDelta(t, 94.05, res.Threshold, 1e-9)
	assert.Equal(t, 5, res.Count())
	for i := 95; i < 100; i++ {
		assert.True(t, res.Flags[i], "index %d", i)
	}
	assert.False(t, res.Flags[94])
}

func TestFuseIsolationAlwaysWins(t *testing.T) {
	scores := uniformScores(100)
	isolation := make([]bool, 100)
	isolation[0] = true
	isolation[50] = true

	res, err := Fuse(scores, isolation)
	require.NoError(t, err)
	assert.True(t, res.Flags[0])
	assert.True(t, res.Flags[50])
	assert.Equal(t, 7, res.Count())

	for i, iso := range isolation {
		if iso {
			assert.True(t, res.Flags[i])
		}
	}
}

func TestFuseDeterministic(t *testing.T) {
	scores := []float64{0.3, 2.2, 0.1, 5.4, 0.9, 0.2}
	isolation := []bool{false, false, true, false, false, false}

	a, err := Fuse(scores, isolation)
	require.NoError(t, err)
	b, err := Fuse(scores, isolation)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFuseLengthMismatch(t *testing.T) {
	_, err := Fuse([]float64{1, 2}, []bool{true})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestFuseEmpty(t *testing.T) {
	res, err := Fuse(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Flags)
	assert.Equal(t, 0, res.Count())
}

func TestPolicy(t *testing.T) {
	scores := uniformScores(100)

	t.Run("batch", func(t *testing.T) {
		res, err := DefaultPolicy().Apply(scores, make([]bool, 100), 10)
		require.NoError(t, err)
		assert.Equal(t, 5, res.Count())
	})

	t.Run("fixed", func(t *testing.T) {
		p := Policy{Quantile: DefaultQuantile, Mode: ModeFixed}
		res, err := p.Apply(scores, make([]bool, 100), 89.5)
		require.NoError(t, err)
		assert.Equal(t, 89.5, res.Threshold)
		assert.Equal(t, 10, res.Count())
	})

	t.Run("zero quantile falls back to default", func(t *testing.T) {
		p := Policy{Mode: ModeBatch}
		assert.InDelta(t, 94.05, p.Threshold(scores, 0), 1e-9)
	})
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "batch", want: ModeBatch},
		{in: "fixed", want: ModeFixed},
		{in: "", want: ModeBatch},
		{in: "rolling", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
