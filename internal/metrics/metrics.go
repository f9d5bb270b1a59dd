// Package metrics exports Prometheus metrics for the API and the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hed1ad/dace/pkg/consumption"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dace_http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	TrainingRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dace_training_runs_total",
			Help: "Total number of completed training runs",
		},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dace_training_duration_seconds",
			Help:    "Training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ReadingsScoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dace_readings_scored_total",
			Help: "Total number of readings scored",
		},
	)

	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dace_anomalies_detected_total",
			Help: "Total number of anomalies flagged, by detector",
		},
		[]string{"detector"},
	)

	ModelTrained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dace_model_trained",
			Help: "1 when a trained model is installed",
		},
	)
)

// Detector label values.
const (
	DetectorIsolation = "isolation_forest"
	DetectorFinal     = "final"
)

// EngineObserver feeds engine activity into the package metrics.
type EngineObserver struct{}

func (EngineObserver) ObserveTraining(d time.Duration, _ int) {
	TrainingRunsTotal.Inc()
	TrainingDuration.Observe(d.Seconds())
	ModelTrained.Set(1)
}

func (EngineObserver) ObserveScoring(scored []consumption.ScoredReading) {
	ReadingsScoredTotal.Add(float64(len(scored)))

	var isolation, final int
	for _, s := range scored {
		if s.IsolationAnomaly {
			isolation++
		}
		if s.FinalAnomaly {
			final++
		}
	}
	AnomaliesDetectedTotal.WithLabelValues(DetectorIsolation).Add(float64(isolation))
	AnomaliesDetectedTotal.WithLabelValues(DetectorFinal).Add(float64(final))
}
