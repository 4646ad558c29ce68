package opt

import "fmt"

// VehicleInput is a vehicle as supplied by callers. Omitted fields take the
// DefaultVehicle values, so an explicit zero capacity still means unlimited.
type VehicleInput struct {
	ID            string   `json:"id" yaml:"id"`
	CapacityKg    *float64 `json:"capacity_kg,omitempty" yaml:"capacity_kg,omitempty"`
	MaxDistanceKm *float64 `json:"max_distance_km,omitempty" yaml:"max_distance_km,omitempty"`
	MaxStops      *int     `json:"max_stops,omitempty" yaml:"max_stops,omitempty"`
	CostPerKm     *float64 `json:"cost_per_km,omitempty" yaml:"cost_per_km,omitempty"`
}

func (v VehicleInput) Spec() VehicleSpec {
	s := DefaultVehicle()
	if v.ID != "" {
		s.ID = v.ID
	}
	if v.CapacityKg != nil {
		s.CapacityKg = *v.CapacityKg
	}
	if v.MaxDistanceKm != nil {
		s.MaxDistanceKm = *v.MaxDistanceKm
	}
	if v.MaxStops != nil {
		s.MaxStops = *v.MaxStops
	}
	if v.CostPerKm != nil {
		s.CostPerKm = *v.CostPerKm
	}
	return s
}

// ProblemInput is the wire form of an optimize request shared by the HTTP
// API and the CLI.
type ProblemInput struct {
	Stops      []Stop         `json:"stops" yaml:"stops"`
	Vehicles   []VehicleInput `json:"vehicles,omitempty" yaml:"vehicles,omitempty"`
	DepotIndex int            `json:"depot_index" yaml:"depot_index"`
	Mode       string         `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Problem resolves defaults and validates. With no vehicles the single
// DefaultVehicle is used.
func (in ProblemInput) Problem() (RoutingProblem, SolverType, error) {
	mode, err := ParseSolverType(in.Mode)
	if err != nil {
		return RoutingProblem{}, "", err
	}
	vehicles := make([]VehicleSpec, 0, len(in.Vehicles))
	for i, v := range in.Vehicles {
		spec := v.Spec()
		if v.ID == "" && len(in.Vehicles) > 1 {
			spec.ID = fmt.Sprintf("vehicle-%d", i+1)
		}
		vehicles = append(vehicles, spec)
	}
	if len(vehicles) == 0 {
		vehicles = append(vehicles, DefaultVehicle())
	}
	p, err := NewRoutingProblem(in.Stops, vehicles, in.DepotIndex)
	if err != nil {
		return RoutingProblem{}, "", err
	}
	return p, mode, nil
}
