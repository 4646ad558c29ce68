package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"omniroute/internal/events"
	"omniroute/internal/metrics"
	"omniroute/internal/opt"
	"omniroute/internal/savings"
	"omniroute/internal/store"
)

const (
	kindTimeout   = "timeout"
	kindCancelled = "cancelled"
)

// solveError is a failed optimize request, classified for the HTTP boundary.
type solveError struct {
	Kind  string
	Msg   string
	JobID string
}

func (e *solveError) Error() string { return e.Kind + ": " + e.Msg }

func (e *solveError) status() int {
	switch e.Kind {
	case string(opt.KindValidation):
		return http.StatusBadRequest
	case string(opt.KindInfeasible):
		return http.StatusUnprocessableEntity
	case string(opt.KindBackendUnavailable):
		return http.StatusServiceUnavailable
	case kindTimeout:
		return http.StatusGatewayTimeout
	case kindCancelled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (e *solveError) title() string {
	switch e.Kind {
	case string(opt.KindValidation):
		return "Invalid optimize request"
	case string(opt.KindInfeasible):
		return "No feasible solution"
	case string(opt.KindBackendUnavailable):
		return "Solver backend unavailable"
	case kindTimeout:
		return "Solve timed out"
	case kindCancelled:
		return "Job cancelled"
	}
	return "Solver failure"
}

func validationError(err error) *solveError {
	return &solveError{Kind: string(opt.KindValidation), Msg: err.Error()}
}

// optimizeData is the success payload of POST /v1/optimize and the value
// stored in the result cache.
type optimizeData struct {
	JobID      string                `json:"job_id"`
	Routes     [][]opt.OptimizedStop `json:"routes"`
	VehicleIDs []string              `json:"vehicle_ids,omitempty"`
	Metrics    *opt.SolverMetrics    `json:"metrics"`
	InputHash  string                `json:"input_hash"`
	Savings    savings.Savings       `json:"savings"`
	Cached     bool                  `json:"cached"`
}

type solveOutcome struct {
	res opt.SolverResult
	err error
}

// solveWithTimeout runs solver on its own goroutine. The engine has no
// cancellation hook, so on timeout the goroutine finishes in the background
// and its result is dropped.
func (s *Server) solveWithTimeout(solver opt.Solver, p opt.RoutingProblem) (solveOutcome, bool) {
	done := make(chan solveOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- solveOutcome{err: fmt.Errorf("%w: panic: %v", opt.ErrInternal, r)}
			}
		}()
		res, err := solver.Solve(p)
		done <- solveOutcome{res: res, err: err}
	}()
	timer := time.NewTimer(s.Cfg.SolveTimeout)
	defer timer.Stop()
	select {
	case o := <-done:
		return o, false
	case <-timer.C:
		return solveOutcome{}, true
	}
}

// execute drives one job from pending to a terminal status.
func (s *Server) execute(ctx context.Context, job store.Job, p opt.RoutingProblem, mode opt.SolverType) (*optimizeData, *solveError) {
	log := s.Log.With(zap.String("job_id", job.ID), zap.String("tenant_id", job.TenantID))
	if _, err := s.Store.StartJob(ctx, job.TenantID, job.ID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, &solveError{Kind: kindCancelled, Msg: "job was cancelled before it started", JobID: job.ID}
		}
		log.Error("start job", zap.Error(err))
		return nil, &solveError{Kind: string(opt.KindInternal), Msg: err.Error(), JobID: job.ID}
	}
	s.publish(ctx, events.NewJobEvent(events.TypeJobStarted, job.ID, job.TenantID, string(store.StatusRunning), nil))

	key := store.CacheKey(p, mode)
	if data, ok := s.cached(ctx, key, log); ok {
		metrics.CacheHits.Inc()
		data.JobID = job.ID
		data.Cached = true
		return s.complete(ctx, job, data, log)
	}

	cfg := opt.SelectStrategyForMode(mode, p)
	solver := s.newSolver(cfg, opt.WithLogger(log.Named("solver")), opt.WithMatrixProvider(s.Matrix))
	started := time.Now()
	o, timedOut := s.solveWithTimeout(solver, p)
	elapsed := time.Since(started)

	if timedOut {
		metrics.ObserveSolve(string(mode), string(cfg.Strategy), kindTimeout, elapsed.Seconds(), 0)
		se := &solveError{Kind: kindTimeout, Msg: fmt.Sprintf("solve exceeded %s", s.Cfg.SolveTimeout), JobID: job.ID}
		ms := elapsed.Milliseconds()
		return nil, s.fail(ctx, job, store.Outcome{
			Status:          store.StatusTimeout,
			Strategy:        string(cfg.Strategy),
			ExecutionTimeMs: &ms,
			ErrorMessage:    se.Msg,
			ErrorKind:       se.Kind,
		}, se, log)
	}

	res := o.res
	if o.err != nil || !res.Success {
		kind := string(res.ErrorKind)
		msg := res.Error
		if kind == "" {
			kind = string(opt.KindOf(o.err))
		}
		if msg == "" && o.err != nil {
			msg = o.err.Error()
		}
		metrics.ObserveSolve(string(mode), string(cfg.Strategy), kind, elapsed.Seconds(), 0)
		out := store.Outcome{Status: store.StatusFailed, Strategy: string(cfg.Strategy), ErrorMessage: msg, ErrorKind: kind}
		if res.Metrics != nil {
			out.ExecutionTimeMs = &res.Metrics.ExecutionTimeMs
		}
		if b, err := json.Marshal(res); err == nil {
			out.Result = b
		}
		return nil, s.fail(ctx, job, out, &solveError{Kind: kind, Msg: msg, JobID: job.ID}, log)
	}

	metrics.ObserveSolve(string(mode), string(res.Metrics.Strategy), "success", elapsed.Seconds(), res.Metrics.QualityScore)
	data := &optimizeData{
		JobID:      job.ID,
		Routes:     res.Routes,
		VehicleIDs: res.VehicleIDs,
		Metrics:    res.Metrics,
		InputHash:  job.InputHash,
		Savings:    savings.Compare(p, res),
	}
	if b, err := json.Marshal(data); err == nil {
		if err := s.Cache.Set(ctx, key, b, s.Cfg.CacheTTL); err != nil {
			log.Warn("cache set failed", zap.Error(err))
		}
	}
	return s.complete(ctx, job, data, log)
}

func (s *Server) cached(ctx context.Context, key string, log *zap.Logger) (*optimizeData, bool) {
	b, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache get failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var data optimizeData
	if err := json.Unmarshal(b, &data); err != nil || data.Metrics == nil {
		log.Warn("discarding unreadable cache entry", zap.String("key", key))
		return nil, false
	}
	return &data, true
}

func (s *Server) complete(ctx context.Context, job store.Job, data *optimizeData, log *zap.Logger) (*optimizeData, *solveError) {
	b, _ := json.Marshal(data)
	q := data.Metrics.QualityScore
	ms := data.Metrics.ExecutionTimeMs
	_, err := s.Store.FinishJob(ctx, job.TenantID, job.ID, store.Outcome{
		Status:          store.StatusCompleted,
		Strategy:        string(data.Metrics.Strategy),
		Result:          b,
		QualityScore:    &q,
		ExecutionTimeMs: &ms,
	})
	if se := s.finishError(job, err, log); se != nil {
		return nil, se
	}
	s.publish(ctx, events.NewJobEvent(events.TypeJobCompleted, job.ID, job.TenantID, string(store.StatusCompleted), map[string]any{
		"quality_score":     q,
		"total_distance_km": data.Metrics.TotalDistanceKm,
		"routes":            len(data.Routes),
		"cached":            data.Cached,
	}))
	log.Info("job completed", zap.Float64("distance_km", data.Metrics.TotalDistanceKm), zap.Bool("cached", data.Cached))
	return data, nil
}

func (s *Server) fail(ctx context.Context, job store.Job, out store.Outcome, se *solveError, log *zap.Logger) *solveError {
	_, err := s.Store.FinishJob(ctx, job.TenantID, job.ID, out)
	if fe := s.finishError(job, err, log); fe != nil {
		return fe
	}
	s.publish(ctx, events.NewJobEvent(events.TypeJobFailed, job.ID, job.TenantID, string(out.Status), map[string]any{
		"error_kind":    out.ErrorKind,
		"error_message": out.ErrorMessage,
	}))
	log.Info("job failed", zap.String("status", string(out.Status)), zap.String("error_kind", out.ErrorKind), zap.String("error", out.ErrorMessage))
	return se
}

// finishError maps a FinishJob failure. A job cancelled mid-solve keeps its
// cancelled status and the result is dropped.
func (s *Server) finishError(job store.Job, err error, log *zap.Logger) *solveError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrInvalidTransition):
		log.Info("job cancelled while solving, result dropped")
		return &solveError{Kind: kindCancelled, Msg: "job was cancelled while solving", JobID: job.ID}
	}
	log.Error("finish job", zap.Error(err))
	return &solveError{Kind: string(opt.KindInternal), Msg: err.Error(), JobID: job.ID}
}
