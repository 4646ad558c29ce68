package opt

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Solver is the contract shared by every backend.
type Solver interface {
	// Solve returns a non-nil error only when the problem is malformed or the
	// backend cannot run at all. Infeasible and failed searches are reported
	// inside the result.
	Solve(p RoutingProblem) (SolverResult, error)
	Validate(r SolverResult) bool
	// Metrics returns the metrics of this instance's last solve, or a zeroed
	// record naming its type and strategy.
	Metrics() SolverMetrics
}

type Option func(*ClassicalSolver)

func WithLogger(l *zap.Logger) Option {
	return func(s *ClassicalSolver) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMatrixProvider replaces the haversine cost source.
func WithMatrixProvider(mp MatrixProvider) Option {
	return func(s *ClassicalSolver) {
		if mp != nil {
			s.matrix = mp
		}
	}
}

// ClassicalSolver runs cheapest-arc construction followed by local search.
type ClassicalSolver struct {
	cfg    SolverConfig
	log    *zap.Logger
	matrix MatrixProvider
	now    func() time.Time

	mu   sync.Mutex
	last *SolverMetrics
}

func newClassicalSolver(cfg SolverConfig, opts ...Option) *ClassicalSolver {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFirstSolution
	}
	s := &ClassicalSolver{cfg: cfg, log: zap.NewNop(), matrix: HaversineProvider{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *ClassicalSolver) Config() SolverConfig { return s.cfg }

func (s *ClassicalSolver) Solve(p RoutingProblem) (res SolverResult, err error) {
	if err := p.Validate(); err != nil {
		return SolverResult{}, err
	}
	start := s.now()
	log := s.log.With(zap.String("strategy", string(s.cfg.Strategy)), zap.Int("stops", p.StopCount()), zap.Int("vehicles", len(p.Vehicles)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("solver panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res, err = s.failed(start, fmt.Errorf("panic: %v", r)), nil
		}
	}()

	m, err := s.matrix.Matrix(p.Stops)
	if err != nil {
		res = s.failed(start, fmt.Errorf("build cost matrix: %w", err))
		log.Error("solve failed", zap.Error(err), zap.Int64("elapsed_ms", res.Metrics.ExecutionTimeMs))
		return res, nil
	}
	if m.Size() != p.StopCount() {
		res = s.failed(start, fmt.Errorf("build cost matrix: got %d rows for %d stops", m.Size(), p.StopCount()))
		log.Error("solve failed", zap.String("error", res.Error))
		return res, nil
	}

	model := newRouteModel(p, m)
	var deadline time.Time
	if s.cfg.TimeLimit > 0 {
		deadline = start.Add(s.cfg.TimeLimit)
	}
	sr := search(model, s.cfg, deadline)
	elapsed := s.now().Sub(start)
	if sr.routes == nil {
		res = s.infeasible(elapsed)
		log.Info("no solution", zap.Duration("elapsed", elapsed))
		return res, nil
	}

	res = extract(p, m, sr.routes)
	res.Metrics.SolverType = s.cfg.Type
	res.Metrics.Strategy = s.cfg.Strategy
	res.Metrics.ExecutionTimeMs = elapsed.Milliseconds()
	res.CreatedAt = s.now().UTC()
	s.remember(*res.Metrics)
	log.Debug("solved",
		zap.Duration("elapsed", elapsed),
		zap.Int("rounds", sr.rounds),
		zap.Float64("distance_km", res.Metrics.TotalDistanceKm),
		zap.Int("routes", len(res.Routes)))
	return res, nil
}

func (s *ClassicalSolver) infeasible(elapsed time.Duration) SolverResult {
	m := SolverMetrics{
		SolverType:      s.cfg.Type,
		Strategy:        s.cfg.Strategy,
		ExecutionTimeMs: elapsed.Milliseconds(),
		StopsOptimized:  0,
	}
	s.remember(m)
	return SolverResult{
		Success:   false,
		Routes:    [][]OptimizedStop{},
		Metrics:   &m,
		Error:     NoSolutionMessage,
		ErrorKind: KindInfeasible,
		CreatedAt: s.now().UTC(),
	}
}

func (s *ClassicalSolver) failed(start time.Time, cause error) SolverResult {
	elapsed := s.now().Sub(start)
	m := SolverMetrics{
		SolverType:      s.cfg.Type,
		Strategy:        s.cfg.Strategy,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	s.remember(m)
	return SolverResult{
		Success:   false,
		Routes:    [][]OptimizedStop{},
		Metrics:   &m,
		Error:     fmt.Sprintf("solver failed after %dms: %v", elapsed.Milliseconds(), cause),
		ErrorKind: KindInternal,
		CreatedAt: s.now().UTC(),
	}
}

func (s *ClassicalSolver) remember(m SolverMetrics) {
	s.mu.Lock()
	s.last = &m
	s.mu.Unlock()
}

func (s *ClassicalSolver) Validate(r SolverResult) bool { return Validate(r) }

func (s *ClassicalSolver) Metrics() SolverMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return SolverMetrics{SolverType: s.cfg.Type, Strategy: s.cfg.Strategy}
	}
	return *s.last
}

// unavailableSolver stands in for the hybrid and quantum backends.
type unavailableSolver struct {
	cfg SolverConfig
}

func (u *unavailableSolver) Solve(p RoutingProblem) (SolverResult, error) {
	if err := p.Validate(); err != nil {
		return SolverResult{}, err
	}
	msg := fmt.Sprintf("%s backend is not available", u.cfg.Type)
	return SolverResult{
		Success:   false,
		Routes:    [][]OptimizedStop{},
		Error:     msg,
		ErrorKind: KindBackendUnavailable,
		CreatedAt: time.Now().UTC(),
	}, fmt.Errorf("%w: %s", ErrBackendUnavailable, msg)
}

func (u *unavailableSolver) Validate(r SolverResult) bool { return Validate(r) }

func (u *unavailableSolver) Metrics() SolverMetrics {
	return SolverMetrics{SolverType: u.cfg.Type, Strategy: u.cfg.Strategy}
}
