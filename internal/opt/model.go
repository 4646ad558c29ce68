package opt

import (
	"fmt"
	"math"
	"time"
)

// SolverType is the closed set of solving backends a request may ask for.
type SolverType string

const (
	SolverClassical SolverType = "classical"
	SolverHybrid    SolverType = "hybrid"
	SolverQuantum   SolverType = "quantum"
)

// ParseSolverType maps a request mode onto a SolverType. Empty means classical.
func ParseSolverType(s string) (SolverType, error) {
	switch SolverType(s) {
	case "", SolverClassical:
		return SolverClassical, nil
	case SolverHybrid, SolverQuantum:
		return SolverType(s), nil
	}
	return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown solver type %q", s)}
}

type Strategy string

const (
	StrategyFirstSolution     Strategy = "first_solution"
	StrategyGuidedLocalSearch Strategy = "guided_local_search"
)

// Vehicle defaults applied by callers that accept a request without a fleet.
const (
	DefaultCapacityKg    = 1000.0
	DefaultMaxDistanceKm = 500.0
	DefaultMaxStops      = 50
	DefaultCostPerKm     = 8.0
)

type Stop struct {
	ID              string  `json:"id" yaml:"id"`
	Lat             float64 `json:"lat" yaml:"lat"`
	Lng             float64 `json:"lng" yaml:"lng"`
	DemandKg        float64 `json:"demand_kg" yaml:"demand_kg"`
	ServiceTimeMin  int     `json:"service_time_min" yaml:"service_time_min"`
	TimeWindowStart string  `json:"time_window_start,omitempty" yaml:"time_window_start,omitempty"` // "09:00", reserved
	TimeWindowEnd   string  `json:"time_window_end,omitempty" yaml:"time_window_end,omitempty"`
}

// VehicleSpec describes one vehicle. CapacityKg of zero means unconstrained.
type VehicleSpec struct {
	ID            string  `json:"id" yaml:"id"`
	CapacityKg    float64 `json:"capacity_kg" yaml:"capacity_kg"`
	MaxDistanceKm float64 `json:"max_distance_km" yaml:"max_distance_km"`
	MaxStops      int     `json:"max_stops" yaml:"max_stops"`
	CostPerKm     float64 `json:"cost_per_km" yaml:"cost_per_km"`
}

// DefaultVehicle returns the single vehicle used when a request names none.
func DefaultVehicle() VehicleSpec {
	return VehicleSpec{
		ID:            "default",
		CapacityKg:    DefaultCapacityKg,
		MaxDistanceKm: DefaultMaxDistanceKm,
		MaxStops:      DefaultMaxStops,
		CostPerKm:     DefaultCostPerKm,
	}
}

// RoutingProblem is one optimization request. Every vehicle starts and ends
// at Stops[DepotIndex].
type RoutingProblem struct {
	Stops      []Stop        `json:"stops" yaml:"stops"`
	Vehicles   []VehicleSpec `json:"vehicles" yaml:"vehicles"`
	DepotIndex int           `json:"depot_index" yaml:"depot_index"`
}

// NewRoutingProblem validates and returns a problem. The slices are copied so
// later changes by the caller do not leak into a running solve.
func NewRoutingProblem(stops []Stop, vehicles []VehicleSpec, depotIndex int) (RoutingProblem, error) {
	p := RoutingProblem{
		Stops:      append([]Stop(nil), stops...),
		Vehicles:   append([]VehicleSpec(nil), vehicles...),
		DepotIndex: depotIndex,
	}
	if err := p.Validate(); err != nil {
		return RoutingProblem{}, err
	}
	return p, nil
}

func (p RoutingProblem) StopCount() int { return len(p.Stops) }

// Validate checks the structural invariants of the problem. The first
// violation found is returned as a *ValidationError.
func (p RoutingProblem) Validate() error {
	n := len(p.Stops)
	if n < 2 {
		return &ValidationError{Field: "stops", Reason: fmt.Sprintf("need at least 2 stops to optimize, got %d", n)}
	}
	if p.DepotIndex < 0 || p.DepotIndex >= n {
		return &ValidationError{Field: "depot_index", Reason: fmt.Sprintf("%d out of range [0,%d)", p.DepotIndex, n)}
	}
	if len(p.Vehicles) == 0 {
		return &ValidationError{Field: "vehicles", Reason: "at least one vehicle is required"}
	}
	seen := make(map[string]int, n)
	for i, s := range p.Stops {
		field := fmt.Sprintf("stops[%d]", i)
		if s.ID == "" {
			return &ValidationError{Field: field + ".id", Reason: "required"}
		}
		if j, dup := seen[s.ID]; dup {
			return &ValidationError{Field: field + ".id", Reason: fmt.Sprintf("duplicate of stops[%d]", j)}
		}
		seen[s.ID] = i
		if math.IsNaN(s.Lat) || s.Lat < -90 || s.Lat > 90 {
			return &ValidationError{Field: field + ".lat", Reason: "must be within [-90,90]"}
		}
		if math.IsNaN(s.Lng) || s.Lng < -180 || s.Lng > 180 {
			return &ValidationError{Field: field + ".lng", Reason: "must be within [-180,180]"}
		}
		if s.DemandKg < 0 {
			return &ValidationError{Field: field + ".demand_kg", Reason: "must be >= 0"}
		}
		if s.ServiceTimeMin < 0 {
			return &ValidationError{Field: field + ".service_time_min", Reason: "must be >= 0"}
		}
	}
	vseen := make(map[string]int, len(p.Vehicles))
	for i, v := range p.Vehicles {
		field := fmt.Sprintf("vehicles[%d]", i)
		if j, dup := vseen[v.ID]; dup {
			return &ValidationError{Field: field + ".id", Reason: fmt.Sprintf("duplicate of vehicles[%d]", j)}
		}
		vseen[v.ID] = i
		if v.CapacityKg < 0 {
			return &ValidationError{Field: field + ".capacity_kg", Reason: "must be >= 0"}
		}
		if !(v.MaxDistanceKm > 0) {
			return &ValidationError{Field: field + ".max_distance_km", Reason: "must be > 0"}
		}
		if v.MaxStops <= 0 {
			return &ValidationError{Field: field + ".max_stops", Reason: "must be > 0"}
		}
	}
	return nil
}

type OptimizedStop struct {
	StopID             string  `json:"stop_id"`
	Order              int     `json:"order"`
	Lat                float64 `json:"lat"`
	Lng                float64 `json:"lng"`
	ArrivalETAMin      float64 `json:"arrival_eta_min"`
	DistanceFromPrevKm float64 `json:"distance_from_prev_km"`
}

type SolverMetrics struct {
	SolverType       SolverType `json:"solver_type"`
	Strategy         Strategy   `json:"strategy"`
	ExecutionTimeMs  int64      `json:"execution_time_ms"`
	TotalDistanceKm  float64    `json:"total_distance_km"`
	TotalDurationMin float64    `json:"total_duration_min"`
	StopsOptimized   int        `json:"stops_optimized"`
	QualityScore     float64    `json:"quality_score"`
}

// SolverResult is the outcome of one solve. Metrics is nil only when no
// search was attempted. Routes and VehicleIDs are parallel: VehicleIDs[i]
// drove Routes[i]; vehicles without stops are omitted from both.
type SolverResult struct {
	Success    bool              `json:"success"`
	Routes     [][]OptimizedStop `json:"routes"`
	VehicleIDs []string          `json:"vehicle_ids,omitempty"`
	Metrics    *SolverMetrics    `json:"metrics,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  ErrorKind         `json:"error_kind,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Err converts a failed result into an error wrapping the sentinel for its
// kind. It returns nil for successful results.
func (r SolverResult) Err() error {
	if r.Success {
		return nil
	}
	switch r.ErrorKind {
	case KindInfeasible:
		return fmt.Errorf("%w: %s", ErrInfeasible, r.Error)
	case KindBackendUnavailable:
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, r.Error)
	case KindValidation:
		return &ValidationError{Field: "problem", Reason: r.Error}
	}
	return fmt.Errorf("%w: %s", ErrInternal, r.Error)
}
