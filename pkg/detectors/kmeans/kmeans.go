// Package kmeans implements a centroid-distance anomaly scorer backed by
// k-means clustering. A sample's score is its Euclidean distance to the
// nearest fitted centroid.
package kmeans

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/dace/pkg/detectors"
)

// KMeans clusters standardized samples and scores them by distance to the
// nearest centroid.
type KMeans struct {
	mu sync.RWMutex

	// Configuration
	k         int
	nInit     int
	maxIter   int
	tolerance float64
	seed      int64

	// Trained model
	centroids [][]float64
	inertia   float64
	nIter     int
	trained   bool
}

// Option configures a KMeans scorer.
type Option func(*KMeans)

// WithClusters sets the number of clusters.
func WithClusters(k int) Option {
	return func(m *KMeans) {
		m.k = k
	}
}

// WithInit sets how many seeded restarts are run; the lowest-inertia run wins.
func WithInit(n int) Option {
	return func(m *KMeans) {
		m.nInit = n
	}
}

// WithMaxIter caps the Lloyd iterations per restart.
func WithMaxIter(n int) Option {
	return func(m *KMeans) {
		m.maxIter = n
	}
}

// WithTolerance sets the convergence tolerance, relative to the mean
// per-feature variance of the training data.
func WithTolerance(tol float64) Option {
	return func(m *KMeans) {
		m.tolerance = tol
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(m *KMeans) {
		m.seed = seed
	}
}

// New creates a KMeans scorer. The defaults are two clusters, ten restarts
// and seed 42.
func New(opts ...Option) *KMeans {
	m := &KMeans{
		k:         2,
		nInit:     10,
		maxIter:   300,
		tolerance: 1e-4,
		seed:      42,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.k < 1 {
		m.k = 1
	}
	if m.nInit < 1 {
		m.nInit = 1
	}

	return m
}

// Fit partitions data into k clusters and stores the best centroids found.
func (m *KMeans) Fit(data [][]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(data) == 0 {
		return detectors.ErrEmptyData
	}
	if err := detectors.CheckArity(data, len(data[0])); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(m.seed))
	tol := m.tolerance * meanVariance(data)

	var best [][]float64
	bestInertia := math.Inf(1)
	bestIter := 0
	for run := 0; run < m.nInit; run++ {
		centroids := seedPlusPlus(rng, data, m.k)
		centroids, inertia, iters := m.lloyd(data, centroids, tol)
		if inertia < bestInertia {
			best, bestInertia, bestIter = centroids, inertia, iters
		}
	}

	m.centroids = best
	m.inertia = bestInertia
	m.nIter = bestIter
	m.trained = true

	return nil
}

// lloyd refines centroids until the squared centre shift drops to tol.
func (m *KMeans) lloyd(data, centroids [][]float64, tol float64) ([][]float64, float64, int) {
	dim := len(data[0])
	labels := make([]int, len(data))

	iter := 0
	for iter < m.maxIter {
		iter++
		for i, row := range data {
			labels[i], _ = nearest(centroids, row)
		}

		sums := make([][]float64, len(centroids))
		counts := make([]int, len(centroids))
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, row := range data {
			floats.Add(sums[labels[i]], row)
			counts[labels[i]]++
		}

		var shift float64
		for c := range centroids {
			// Empty clusters keep their previous position.
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			d := floats.Distance(centroids[c], sums[c], 2)
			shift += d * d
			centroids[c] = sums[c]
		}

		if shift <= tol {
			break
		}
	}

	var inertia float64
	for _, row := range data {
		_, d := nearest(centroids, row)
		inertia += d * d
	}
	return centroids, inertia, iter
}

// seedPlusPlus picks k initial centroids with k-means++ weighting.
func seedPlusPlus(rng *rand.Rand, data [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(data[rng.Intn(len(data))]))

	weights := make([]float64, len(data))
	for len(centroids) < k {
		var total float64
		for i, row := range data {
			_, d := nearest(centroids, row)
			weights[i] = d * d
			total += weights[i]
		}

		// Every point already sits on a centroid.
		if total == 0 {
			centroids = append(centroids, clone(data[rng.Intn(len(data))]))
			continue
		}

		target := rng.Float64() * total
		pick := len(data) - 1
		for i, w := range weights {
			target -= w
			if target < 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(data[pick]))
	}
	return centroids
}

// Predict returns the distance from each sample to its nearest centroid.
func (m *KMeans) Predict(data [][]float64) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil, detectors.ErrNotTrained
	}
	if err := detectors.CheckArity(data, m.dim()); err != nil {
		return nil, err
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		_, scores[i] = nearest(m.centroids, row)
	}
	return scores, nil
}

// PredictOne returns the nearest-centroid distance for a single sample.
func (m *KMeans) PredictOne(sample []float64) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return 0, detectors.ErrNotTrained
	}
	if len(sample) != m.dim() {
		return 0, fmt.Errorf("%w: sample has %d features, want %d", detectors.ErrSchemaMismatch, len(sample), m.dim())
	}

	_, d := nearest(m.centroids, sample)
	return d, nil
}

// Centroids returns a copy of the fitted centroids.
func (m *KMeans) Centroids() [][]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]float64, len(m.centroids))
	for i, c := range m.centroids {
		out[i] = clone(c)
	}
	return out
}

// Inertia returns the within-cluster sum of squared distances of the best run.
func (m *KMeans) Inertia() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inertia
}

// Trained reports whether Fit or Load has completed.
func (m *KMeans) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

func (m *KMeans) dim() int {
	if len(m.centroids) == 0 {
		return 0
	}
	return len(m.centroids[0])
}

type snapshot struct {
	K         int
	NInit     int
	MaxIter   int
	Tolerance float64
	Seed      int64
	Centroids [][]float64
	Inertia   float64
	NIter     int
}

// Save serializes the trained model.
func (m *KMeans) Save() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil, detectors.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		K:         m.k,
		NInit:     m.nInit,
		MaxIter:   m.maxIter,
		Tolerance: m.tolerance,
		Seed:      m.seed,
		Centroids: m.centroids,
		Inertia:   m.inertia,
		NIter:     m.nIter,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (m *KMeans) Load(data []byte) error {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}
	if len(snap.Centroids) == 0 {
		return fmt.Errorf("kmeans: snapshot has no centroids")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.k = snap.K
	m.nInit = snap.NInit
	m.maxIter = snap.MaxIter
	m.tolerance = snap.Tolerance
	m.seed = snap.Seed
	m.centroids = snap.Centroids
	m.inertia = snap.Inertia
	m.nIter = snap.NIter
	m.trained = true

	return nil
}

func nearest(centroids [][]float64, sample []float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(centroid, sample, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func meanVariance(data [][]float64) float64 {
	dim := len(data[0])
	if len(data) < 2 {
		return 0
	}
	col := make([]float64, len(data))
	var sum float64
	for j := 0; j < dim; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		_, std := stat.PopMeanStdDev(col, nil)
		sum += std * std
	}
	return sum / float64(dim)
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
