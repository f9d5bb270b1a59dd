package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/dace/pkg/cache"
	"github.com/hed1ad/dace/pkg/consumption"
	"github.com/hed1ad/dace/pkg/detectors"
	"github.com/hed1ad/dace/pkg/evaluation"
	"github.com/hed1ad/dace/pkg/report"
	"github.com/hed1ad/dace/pkg/simulator"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	maxBodyBytes = 10 << 20
)

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type generateRequest struct {
	Hours *int `json:"hours"`
}

type generateResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	RunID             string `json:"run_id"`
	AnomaliesDetected int    `json:"anomalies_detected"`
}

type scoreRequest struct {
	Readings []consumption.Reading `json:"readings"`
}

type scoreResponse struct {
	Status            string                      `json:"status"`
	AnomaliesDetected int                         `json:"anomalies_detected"`
	Data              []consumption.ScoredReading `json:"data"`
}

type dataResponse struct {
	Status string                      `json:"status"`
	Data   []consumption.ScoredReading `json:"data"`
}

type statsResponse struct {
	Status string       `json:"status"`
	Stats  report.Stats `json:"stats"`
}

type evaluateResponse struct {
	Status     string             `json:"status"`
	Evaluation *evaluation.Report `json:"evaluation"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelTrained bool   `json:"model_trained"`
	ModelID      string `json:"model_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, detectors.ErrNotTrained):
		return http.StatusConflict
	case errors.Is(err, evaluation.ErrMissingLabel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, report.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, detectors.ErrSchemaMismatch),
		errors.Is(err, detectors.ErrEmptyData),
		errors.Is(err, simulator.ErrInvalidHours),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Status: statusError, Message: msg})
}

func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}

	hours := s.cfg.DefaultHours
	if req.Hours != nil {
		hours = *req.Hours
	}
	if hours <= 0 || hours > s.cfg.MaxHours {
		s.fail(w, r, fmt.Errorf("%w: hours must be in [1, %d], got %d", errBadRequest, s.cfg.MaxHours, hours))
		return
	}

	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	series, err := s.generator.Generate(hours)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, scored, anomalies, err := s.engine.Fit(consumption.Readings(series))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i := range scored {
		scored[i].Kind = series[i].Kind
	}

	ctx := r.Context()
	runID := uuid.NewString()
	if err := s.store.ReplaceDataset(ctx, runID, scored); err != nil {
		s.fail(w, r, fmt.Errorf("persist dataset: %w", err))
		return
	}
	if err := s.store.SaveModel(ctx, m); err != nil {
		s.fail(w, r, fmt.Errorf("persist model: %w", err))
		return
	}
	s.engine.Use(m)

	s.logger.Info("dataset generated",
		zap.String("run_id", runID),
		zap.Int("readings", len(scored)),
		zap.Int("anomalies", anomalies),
	)
	writeJSON(w, http.StatusOK, generateResponse{
		Status:            statusSuccess,
		Message:           fmt.Sprintf("generated %d readings", len(scored)),
		RunID:             runID,
		AnomaliesDetected: anomalies,
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Readings) == 0 {
		s.fail(w, r, fmt.Errorf("%w: readings is empty", errBadRequest))
		return
	}

	scored, err := s.engine.Score(req.Readings)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		Status:            statusSuccess,
		AnomaliesDetected: consumption.CountFinal(scored),
		Data:              scored,
	})
}

func (s *Server) handleConsumptionData(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LoadDataset(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []consumption.ScoredReading{}
	}
	writeJSON(w, http.StatusOK, dataResponse{Status: statusSuccess, Data: rows})
}

// cached serves kind for the current dataset run from the cache, computing
// and storing it on a miss. compute receives the stored dataset.
func (s *Server) cached(r *http.Request, kind string, dst any, compute func([]consumption.ScoredReading) (any, error)) (any, error) {
	ctx := r.Context()
	runID, err := s.store.DatasetRunID(ctx)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, report.ErrNoData
	}

	key := cache.Key(kind, runID)
	found, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		return dst, nil
	}

	rows, err := s.store.LoadDataset(ctx)
	if err != nil {
		return nil, err
	}
	v, err := compute(rows)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	v, err := s.cached(r, "stats", &report.Stats{}, func(rows []consumption.ScoredReading) (any, error) {
		stats, err := report.Compute(rows)
		if err != nil {
			return nil, err
		}
		rounded := stats.Rounded()
		return &rounded, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Status: statusSuccess, Stats: *v.(*report.Stats)})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Trained() {
		s.fail(w, r, detectors.ErrNotTrained)
		return
	}

	v, err := s.cached(r, "evaluation", &evaluation.Report{}, func(rows []consumption.ScoredReading) (any, error) {
		return s.engine.Evaluate(rows)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Status: statusSuccess, Evaluation: v.(*evaluation.Report)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", ModelTrained: s.engine.Trained()}
	if m := s.engine.Model(); m != nil {
		resp.ModelID = m.ID
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("store ping failed", zap.Error(err))
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
