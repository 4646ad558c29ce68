package opt

import "fmt"

// Validate is a cheap post-condition: a successful result carries at least one
// route, and every route starts at order 0 and counts up by one.
func Validate(r SolverResult) bool {
	if !r.Success {
		return false
	}
	if len(r.Routes) == 0 {
		return false
	}
	for _, route := range r.Routes {
		if len(route) < 2 {
			return false
		}
		for i, s := range route {
			if s.Order != i || s.DistanceFromPrevKm < 0 {
				return false
			}
		}
	}
	return r.Metrics != nil
}

// VerifyFeasibility re-checks a successful result against p: every stop
// other than the depot is visited exactly once, each route starts at the
// depot, and each vehicle's load and great-circle distance stay within its
// limits.
func VerifyFeasibility(p RoutingProblem, r SolverResult) error {
	if !Validate(r) {
		return fmt.Errorf("result is not a valid success")
	}
	if len(r.VehicleIDs) != len(r.Routes) {
		return fmt.Errorf("have %d vehicle ids for %d routes", len(r.VehicleIDs), len(r.Routes))
	}
	index := make(map[string]int, len(p.Stops))
	for i, s := range p.Stops {
		index[s.ID] = i
	}
	vehicles := make(map[string]VehicleSpec, len(p.Vehicles))
	for _, v := range p.Vehicles {
		vehicles[v.ID] = v
	}
	m := BuildCostMatrix(p.Stops, MatrixOptions{})
	depot := p.DepotIndex
	seen := make([]int, len(p.Stops))
	for ri, route := range r.Routes {
		v, ok := vehicles[r.VehicleIDs[ri]]
		if !ok {
			return fmt.Errorf("route %d: unknown vehicle %q", ri, r.VehicleIDs[ri])
		}
		if route[0].StopID != p.Stops[depot].ID {
			return fmt.Errorf("route %d: starts at %q, not the depot", ri, route[0].StopID)
		}
		prev := depot
		var meters int64
		load := 0.0
		for _, s := range route[1:] {
			idx, ok := index[s.StopID]
			if !ok {
				return fmt.Errorf("route %d: unknown stop %q", ri, s.StopID)
			}
			if idx == depot {
				return fmt.Errorf("route %d: depot visited mid-route", ri)
			}
			seen[idx]++
			meters += m.Meters[prev][idx]
			load += p.Stops[idx].DemandKg
			prev = idx
		}
		meters += m.Meters[prev][depot]
		if v.CapacityKg > 0 && load > v.CapacityKg+loadEps {
			return fmt.Errorf("route %d: load %.2fkg exceeds capacity %.2fkg", ri, load, v.CapacityKg)
		}
		if meters > maxRouteMeters(v.MaxDistanceKm) {
			return fmt.Errorf("route %d: distance %dm exceeds limit %.0fkm", ri, meters, v.MaxDistanceKm)
		}
	}
	for i, n := range seen {
		if i != depot && n != 1 {
			return fmt.Errorf("stop %q visited %d times", p.Stops[i].ID, n)
		}
	}
	return nil
}
