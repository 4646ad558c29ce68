package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"omniroute/internal/events"
	"omniroute/internal/opt"
	"omniroute/internal/store"
)

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	req, err := decodeOptimizeRequest(w, r)
	if err != nil {
		writeSolveProblem(w, r, validationError(err))
		return
	}
	p, mode, err := req.Problem()
	if err != nil {
		writeSolveProblem(w, r, validationError(err))
		return
	}

	input, _ := json.Marshal(req.ProblemInput)
	job, err := s.Store.CreateJob(ctx, store.Job{
		TenantID:   tenant,
		SolverType: string(mode),
		InputHash:  store.Fingerprint(p.Stops),
		Input:      input,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create job failed", err.Error(), r.URL.Path)
		return
	}
	s.publish(ctx, events.NewJobEvent(events.TypeJobCreated, job.ID, tenant, string(job.Status), map[string]any{
		"solver_type": job.SolverType,
		"stops":       p.StopCount(),
		"input_hash":  job.InputHash,
	}))

	if req.async {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			_, _ = s.execute(context.Background(), job, p, mode)
		}()
		w.Header().Set("Location", "/v1/optimize/jobs/"+job.ID)
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "data": map[string]any{
			"job_id": job.ID,
			"status": job.Status,
			"ws_url": "/v1/optimize/jobs/" + job.ID + "/ws",
		}})
		return
	}

	// A client that goes away does not abandon the job record.
	data, se := s.execute(context.WithoutCancel(ctx), job, p, mode)
	if se != nil {
		writeSolveProblem(w, r, se)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// JobsHandler handles GET /v1/optimize/jobs
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	q := r.URL.Query()
	var status store.JobStatus
	if v := q.Get("status"); v != "" {
		st, ok := store.ParseStatus(v)
		if !ok {
			writeProblem(w, http.StatusBadRequest, "Invalid status", fmt.Sprintf("unknown job status %q", v), r.URL.Path)
			return
		}
		status = st
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListJobs(ctx, tenant, status, q.Get("cursor"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List jobs failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []store.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "next_cursor": next})
}

// JobByIDHandler handles GET/DELETE /v1/optimize/jobs/{id} and GET /v1/optimize/jobs/{id}/ws
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/optimize/jobs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/ws"); ok && !strings.Contains(id, "/") {
		s.JobWSHandler(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
		return
	}
	ctx, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodGet:
		job, err := s.Store.GetJob(ctx, tenant, rest)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		job, err := s.Store.CancelJob(ctx, tenant, rest)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		s.publish(ctx, events.NewJobEvent(events.TypeJobCancelled, job.ID, tenant, string(job.Status), nil))
		writeJSON(w, http.StatusOK, job)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "job not found", r.URL.Path)
	case errors.Is(err, store.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Conflict", "job already finished", r.URL.Path)
	default:
		s.Log.Error("job store", zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Job store failure", err.Error(), r.URL.Path)
	}
}

// OptimizerConfigHandler returns the selector thresholds and engine defaults.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	defaults := map[string]any{
		"modes":                    []opt.SolverType{opt.SolverClassical, opt.SolverHybrid, opt.SolverQuantum},
		"available_modes":          []opt.SolverType{opt.SolverClassical},
		"guided_search_threshold":  opt.GuidedSearchThreshold,
		"guided_search_budget_ms":  opt.GuidedSearchBudget.Milliseconds(),
		"below_threshold_strategy": opt.StrategyFirstSolution,
		"above_threshold_strategy": opt.StrategyGuidedLocalSearch,
		"default_vehicle":          opt.DefaultVehicle(),
		"speed_kmh":                opt.DefaultSpeedKmh,
		"solve_timeout_ms":         s.Cfg.SolveTimeout.Milliseconds(),
		"max_stops_per_request":    maxStopsPerRequest,
	}
	writeJSON(w, 200, map[string]any{"defaults": defaults})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
