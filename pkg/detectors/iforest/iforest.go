// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/hed1ad/dace/pkg/detectors"
)

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64

	// Trained model
	trees     []*iTree
	trained   bool
	nFeatures int
	maxDepth  int
	threshold float64

	// Statistics from training
	avgPathLength float64
}

// iTree represents a single isolation tree.
type iTree struct {
	root *node
}

// node is a node in the isolation tree.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// Leaf information
	size int // number of samples that reached this leaf
}

func (n *node) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.05,
		seed:          42,
		threshold:     0.5,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the Isolation Forest on the provided data.
// Refitting with the same seed and data yields the same forest.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return detectors.ErrEmptyData
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	if err := detectors.CheckArity(data, nFeatures); err != nil {
		return err
	}

	// Adjust sample size if needed
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	f.maxDepth = maxDepthFor(sampleSize)
	rng := rand.New(rand.NewSource(f.seed))

	// Build trees
	f.trees = make([]*iTree, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		f.trees[i] = &iTree{root: f.buildNode(rng, sample, nFeatures, 0)}
	}

	// Calculate average path length for normalization
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.nFeatures = nFeatures
	f.trained = true

	// Set threshold based on contamination
	if f.contamination > 0 {
		f.threshold = detectors.Quantile(f.predict(data), 1-f.contamination)
	}

	return nil
}

func (f *IsolationForest) buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= f.maxDepth || n <= 1 {
		return &node{size: n}
	}

	// Only features with spread can split the sample.
	var candidates []int
	var lows, highs []float64
	for feature := 0; feature < nFeatures; feature++ {
		minVal, maxVal := data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			if row[feature] < minVal {
				minVal = row[feature]
			}
			if row[feature] > maxVal {
				maxVal = row[feature]
			}
		}
		if minVal < maxVal {
			candidates = append(candidates, feature)
			lows = append(lows, minVal)
			highs = append(highs, maxVal)
		}
	}

	// If all values are the same, return leaf
	if len(candidates) == 0 {
		return &node{size: n}
	}

	// Random feature and split value
	pick := rng.Intn(len(candidates))
	feature := candidates[pick]
	splitValue := lows[pick] + rng.Float64()*(highs[pick]-lows[pick])

	// Partition data
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         f.buildNode(rng, leftData, nFeatures, depth+1),
		right:        f.buildNode(rng, rightData, nFeatures, depth+1),
	}
}

// Predict returns anomaly scores in [0, 1] for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	if err := detectors.CheckArity(data, f.nFeatures); err != nil {
		return nil, err
	}

	return f.predict(data), nil
}

// Classify reports which samples score above the contamination threshold.
func (f *IsolationForest) Classify(data [][]float64) ([]bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	if err := detectors.CheckArity(data, f.nFeatures); err != nil {
		return nil, err
	}

	scores := f.predict(data)
	flags := make([]bool, len(scores))
	for i, score := range scores {
		flags[i] = score > f.threshold
	}
	return flags, nil
}

func (f *IsolationForest) predict(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.predictOne(sample)
	}
	return scores
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, detectors.ErrNotTrained
	}
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("%w: sample has %d features, want %d", detectors.ErrSchemaMismatch, len(sample), f.nFeatures)
	}

	return f.predictOne(sample), nil
}

func (f *IsolationForest) predictOne(sample []float64) float64 {
	// Average path length across all trees
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	// A forest fitted on a single sample has no path scale.
	if f.avgPathLength == 0 {
		return 0.5
	}

	// Anomaly score: 2^(-avgPath / c(n))
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.isLeaf() {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.size))
	}

	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, currentDepth+1)
	}
	return pathLength(sample, n.right, currentDepth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H is harmonic number
	// Approximation: H(n) ~ ln(n) + 0.5772156649 (Euler-Mascheroni constant)
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

func maxDepthFor(sampleSize int) int {
	if sampleSize < 2 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(sampleSize))))
}

// snapshot is the gob wire form. Trees are flattened in pre-order; child
// indices of -1 mark leaves.
type snapshot struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Seed          int64
	NFeatures     int
	MaxDepth      int
	Threshold     float64
	AvgPathLength float64
	Trees         [][]flatNode
}

type flatNode struct {
	Feature int
	Value   float64
	Left    int
	Right   int
	Size    int
}

func flatten(n *node, out []flatNode) []flatNode {
	idx := len(out)
	out = append(out, flatNode{Feature: n.splitFeature, Value: n.splitValue, Left: -1, Right: -1, Size: n.size})
	if n.isLeaf() {
		return out
	}
	out[idx].Left = len(out)
	out = flatten(n.left, out)
	out[idx].Right = len(out)
	return flatten(n.right, out)
}

func unflatten(nodes []flatNode, idx int) (*node, error) {
	if idx < 0 || idx >= len(nodes) {
		return nil, fmt.Errorf("corrupt tree: node index %d out of range", idx)
	}
	fn := nodes[idx]
	n := &node{splitFeature: fn.Feature, splitValue: fn.Value, size: fn.Size}
	if fn.Left < 0 && fn.Right < 0 {
		return n, nil
	}
	var err error
	if n.left, err = unflatten(nodes, fn.Left); err != nil {
		return nil, err
	}
	if n.right, err = unflatten(nodes, fn.Right); err != nil {
		return nil, err
	}
	return n, nil
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	snap := snapshot{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Seed:          f.seed,
		NFeatures:     f.nFeatures,
		MaxDepth:      f.maxDepth,
		Threshold:     f.threshold,
		AvgPathLength: f.avgPathLength,
		Trees:         make([][]flatNode, len(f.trees)),
	}
	for i, tree := range f.trees {
		snap.Trees[i] = flatten(tree.root, nil)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}

	trees := make([]*iTree, len(snap.Trees))
	for i, nodes := range snap.Trees {
		root, err := unflatten(nodes, 0)
		if err != nil {
			return err
		}
		trees[i] = &iTree{root: root}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = snap.NTrees
	f.sampleSize = snap.SampleSize
	f.contamination = snap.Contamination
	f.seed = snap.Seed
	f.nFeatures = snap.NFeatures
	f.maxDepth = snap.MaxDepth
	f.threshold = snap.Threshold
	f.avgPathLength = snap.AvgPathLength
	f.trees = trees
	f.trained = true

	return nil
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// Trained reports whether Fit or Load has completed.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}
