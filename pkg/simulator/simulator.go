// Package simulator generates labelled hourly consumption series with a daily
// load pattern and injected anomalies.
package simulator

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/hed1ad/dace/pkg/consumption"
)

// ErrInvalidHours is returned for a non-positive series length.
var ErrInvalidHours = errors.New("hours must be positive")

// Generator produces synthetic consumption series. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand

	baseKW      float64
	anomalyRate float64
	noiseStd    float64
	clock       func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithBaseConsumption sets the base load in kW that the daily bands scale.
func WithBaseConsumption(kw float64) Option {
	return func(g *Generator) {
		g.baseKW = kw
	}
}

// WithAnomalyRate sets the fraction of readings that receive an anomaly.
func WithAnomalyRate(rate float64) Option {
	return func(g *Generator) {
		g.anomalyRate = rate
	}
}

// WithNoiseStd sets the standard deviation of the Gaussian load noise.
func WithNoiseStd(std float64) Option {
	return func(g *Generator) {
		g.noiseStd = std
	}
}

// WithSeed makes generation reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRand supplies the random source directly.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		g.rng = rng
	}
}

// WithClock overrides the time source used to anchor the series.
func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// New creates a Generator. Without WithSeed or WithRand every call draws
// fresh randomness.
func New(opts ...Option) *Generator {
	g := &Generator{
		baseKW:      2.5,
		anomalyRate: 0.05,
		noiseStd:    0.2,
		clock:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return g
}

// bandFactor scales the base load by time of day.
func bandFactor(hour int) float64 {
	switch {
	case hour < 6:
		return 0.3
	case hour < 12:
		return 0.8
	case hour < 18:
		return 1.2
	default:
		return 1.5
	}
}

// GenerateNormal returns hours unlabelled-anomaly readings, one per hour,
// ending one hour before the clock's current hour.
func (g *Generator) GenerateNormal(hours int) ([]consumption.LabeledReading, error) {
	if hours <= 0 {
		return nil, ErrInvalidHours
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	start := g.clock().Truncate(time.Hour).Add(-time.Duration(hours) * time.Hour)
	series := make([]consumption.LabeledReading, hours)
	for i := range series {
		ts := start.Add(time.Duration(i) * time.Hour)
		kw := math.Max(0, g.baseKW*bandFactor(ts.Hour())+g.rng.NormFloat64()*g.noiseStd)
		series[i] = consumption.LabeledReading{
			Reading: consumption.Reading{Timestamp: ts, ConsumptionKW: kw}.WithLabel(false),
			Kind:    consumption.KindNone,
			BaseKW:  kw,
		}
	}
	return series, nil
}

// AnomalyCount is the number of readings InjectAnomalies alters in a series of n.
func (g *Generator) AnomalyCount(n int) int {
	return int(math.Round(float64(n) * g.anomalyRate))
}

// InjectAnomalies alters a uniformly chosen subset of the series in place and
// labels it anomalous. Each pick is a spike (x3-8), a drop (x0.1-0.3) or a
// zero reading with equal probability.
func (g *Generator) InjectAnomalies(series []consumption.LabeledReading) {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := g.AnomalyCount(len(series))
	for _, idx := range g.rng.Perm(len(series))[:count] {
		r := &series[idx]
		switch g.rng.Intn(3) {
		case 0:
			r.Kind = consumption.KindSpike
			r.ConsumptionKW *= 3 + 5*g.rng.Float64()
		case 1:
			r.Kind = consumption.KindDrop
			r.ConsumptionKW *= 0.1 + 0.2*g.rng.Float64()
		default:
			r.Kind = consumption.KindZero
			r.ConsumptionKW = 0
		}
		r.Reading = r.Reading.WithLabel(true)
	}
}

// Generate returns a labelled series of exactly hours readings.
func (g *Generator) Generate(hours int) ([]consumption.LabeledReading, error) {
	series, err := g.GenerateNormal(hours)
	if err != nil {
		return nil, err
	}
	g.InjectAnomalies(series)
	return series, nil
}
