package opt

import "time"

const (
	// GuidedSearchThreshold is the stop count at which local search kicks in.
	GuidedSearchThreshold = 50
	GuidedSearchBudget    = 10 * time.Second
)

// SolverConfig selects a backend and how long it may search.
type SolverConfig struct {
	Type     SolverType
	Strategy Strategy
	// TimeLimit bounds the improvement phase. Zero means construction plus a
	// single descent to a local optimum.
	TimeLimit time.Duration
	// IterationLimit and StallLimit cap guided local search rounds; zero
	// leaves only the time limit.
	IterationLimit int
	StallLimit     int
}

// SelectStrategy picks the classical configuration for p. The mapping depends
// only on the stop count.
func SelectStrategy(p RoutingProblem) SolverConfig {
	return SelectStrategyForMode(SolverClassical, p)
}

// SelectStrategyForMode is SelectStrategy for an explicit backend. Non
// classical modes keep their type so NewSolver can report them unavailable.
func SelectStrategyForMode(mode SolverType, p RoutingProblem) SolverConfig {
	if mode == "" {
		mode = SolverClassical
	}
	if p.StopCount() < GuidedSearchThreshold {
		return SolverConfig{Type: mode, Strategy: StrategyFirstSolution}
	}
	return SolverConfig{Type: mode, Strategy: StrategyGuidedLocalSearch, TimeLimit: GuidedSearchBudget}
}

// NewSolver builds a fresh solver for one request. Solvers are cheap and must
// not be shared between concurrent requests.
func NewSolver(cfg SolverConfig, opts ...Option) Solver {
	switch cfg.Type {
	case SolverClassical, "":
		cfg.Type = SolverClassical
		return newClassicalSolver(cfg, opts...)
	}
	return &unavailableSolver{cfg: cfg}
}
