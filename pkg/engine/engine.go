// Package engine trains and applies the consumption anomaly detectors.
//
// Training produces an immutable Model. The Engine publishes the most recent
// Model atomically so scoring calls never observe a half-trained state and
// may run concurrently with each other and with a retrain.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hed1ad/dace/pkg/consumption"
	"github.com/hed1ad/dace/pkg/detectors"
	"github.com/hed1ad/dace/pkg/evaluation"
	"github.com/hed1ad/dace/pkg/fusion"
)

// Config controls how models are trained.
type Config struct {
	Contamination float64
	Seed          int64
	Clusters      int
	KMeansInit    int
	Trees         int
	SampleSize    int
	Policy        fusion.Policy
}

// DefaultConfig returns two clusters with ten restarts, a 100-tree forest at
// 5% contamination, seed 42 and the batch-relative 95th-percentile policy.
func DefaultConfig() Config {
	dc := detectors.DefaultConfig()
	return Config{
		Contamination: dc.Contamination,
		Seed:          dc.RandomSeed,
		Clusters:      2,
		KMeansInit:    10,
		Trees:         100,
		SampleSize:    256,
		Policy:        fusion.DefaultPolicy(),
	}
}

// withDefaults fills structural settings left at zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Clusters <= 0 {
		c.Clusters = d.Clusters
	}
	if c.KMeansInit <= 0 {
		c.KMeansInit = d.KMeansInit
	}
	if c.Trees <= 0 {
		c.Trees = d.Trees
	}
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	if c.Policy.Mode == "" {
		c.Policy.Mode = fusion.ModeBatch
	}
	if c.Policy.Quantile == 0 {
		c.Policy.Quantile = fusion.DefaultQuantile
	}
	return c
}

// Observer receives engine activity, typically to export metrics.
type Observer interface {
	ObserveTraining(d time.Duration, readings int)
	ObserveScoring(scored []consumption.ScoredReading)
}

// Engine owns the current trained Model.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer

	model atomic.Pointer[Model]
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the training configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// New creates an untrained Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()
	return e
}

// Config returns the training configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Model returns the current Model, or nil before training.
func (e *Engine) Model() *Model {
	return e.model.Load()
}

// Trained reports whether a Model is installed.
func (e *Engine) Trained() bool {
	return e.model.Load() != nil
}

// Use installs a previously trained Model, e.g. one loaded from storage.
func (e *Engine) Use(m *Model) {
	e.model.Store(m)
	e.logger.Info("model installed", zap.String("model_id", m.ID), zap.Time("trained_at", m.TrainedAt))
}

// Fit trains a new Model on readings without installing it. It returns the
// Model, the scored training batch and the number of final anomalies. Callers
// that persist the Model install it with Use once it is stored.
func (e *Engine) Fit(readings []consumption.Reading) (*Model, []consumption.ScoredReading, int, error) {
	start := time.Now()
	m, scored, err := Train(readings, e.cfg)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("train: %w", err)
	}
	elapsed := time.Since(start)

	anomalies := consumption.CountFinal(scored)
	e.logger.Info("models trained",
		zap.String("model_id", m.ID),
		zap.Int("readings", len(readings)),
		zap.Int("anomalies", anomalies),
		zap.Float64("kmeans_inertia", m.KMeans.Inertia()),
		zap.Float64("forest_threshold", m.Forest.Threshold()),
		zap.Duration("elapsed", elapsed),
	)
	if e.observer != nil {
		e.observer.ObserveTraining(elapsed, len(readings))
		e.observer.ObserveScoring(scored)
	}
	return m, scored, anomalies, nil
}

// TrainAndScore fits a new Model on readings, publishes it and returns the
// scored readings together with the number of final anomalies.
func (e *Engine) TrainAndScore(readings []consumption.Reading) ([]consumption.ScoredReading, int, error) {
	m, scored, anomalies, err := e.Fit(readings)
	if err != nil {
		return nil, 0, err
	}
	e.model.Store(m)
	return scored, anomalies, nil
}

// Score applies the current Model to readings.
func (e *Engine) Score(readings []consumption.Reading) ([]consumption.ScoredReading, error) {
	m := e.model.Load()
	if m == nil {
		return nil, detectors.ErrNotTrained
	}

	scored, err := m.Score(readings)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("readings scored",
		zap.String("model_id", m.ID),
		zap.Int("readings", len(scored)),
		zap.Int("anomalies", consumption.CountFinal(scored)),
	)
	if e.observer != nil {
		e.observer.ObserveScoring(scored)
	}
	return scored, nil
}

// Evaluate reports each detector's agreement with the ground-truth labels.
// It requires a trained engine.
func (e *Engine) Evaluate(scored []consumption.ScoredReading) (*evaluation.Report, error) {
	if !e.Trained() {
		return nil, detectors.ErrNotTrained
	}
	report, err := evaluation.Evaluate(scored)
	if err != nil {
		return nil, err
	}
	report.Log(e.logger)
	return report, nil
}
