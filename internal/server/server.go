// Package server exposes the anomaly engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hed1ad/dace/internal/config"
	"github.com/hed1ad/dace/internal/metrics"
	"github.com/hed1ad/dace/pkg/cache"
	"github.com/hed1ad/dace/pkg/consumption"
	"github.com/hed1ad/dace/pkg/engine"
	"github.com/hed1ad/dace/pkg/simulator"
	"github.com/hed1ad/dace/pkg/store"
)

// Store is the persistence the server needs.
type Store interface {
	ReplaceDataset(ctx context.Context, runID string, rows []consumption.ScoredReading) error
	LoadDataset(ctx context.Context) ([]consumption.ScoredReading, error)
	DatasetRunID(ctx context.Context) (string, error)
	SaveModel(ctx context.Context, m *engine.Model) error
	LoadLatestModel(ctx context.Context) (*engine.Model, error)
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	cfg       *config.Config
	engine    *engine.Engine
	store     Store
	cache     cache.Cache
	generator *simulator.Generator
	logger    *zap.Logger

	// trainMu serializes generate-and-train runs so the persisted dataset
	// and model always come from the same run.
	trainMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithCache sets the payload cache. The default caches nothing.
func WithCache(c cache.Cache) Option {
	return func(s *Server) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGenerator sets the synthetic series generator.
func WithGenerator(g *simulator.Generator) Option {
	return func(s *Server) {
		s.generator = g
	}
}

// New creates a Server.
func New(cfg *config.Config, eng *engine.Engine, st Store, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		store:  st,
		cache:  cache.Nop{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.generator == nil {
		s.generator = simulator.New()
	}
	return s
}

// Restore installs the most recently stored model, if any.
func (s *Server) Restore(ctx context.Context) error {
	m, err := s.store.LoadLatestModel(ctx)
	if errors.Is(err, store.ErrNoModel) {
		s.logger.Info("no stored model; train with POST /api/generate-data")
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore model: %w", err)
	}
	s.engine.Use(m)
	metrics.ModelTrained.Set(1)
	return nil
}

// Handler returns the routed HTTP handler with middleware and CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Path("/metrics").Handler(promhttp.Handler())

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/generate-data", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/score", s.handleScore).Methods(http.MethodPost)
	api.HandleFunc("/consumption-data", s.handleConsumptionData).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodGet)

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:           s.cfg.Addr(),
		Handler:        s.Handler(),
		ReadTimeout:    s.cfg.RequestTimeout(),
		WriteTimeout:   s.cfg.RequestTimeout(),
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server exited")
	return nil
}
