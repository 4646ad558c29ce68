package opt

import "math"

// extract walks each non-empty route from the depot and builds the result.
// Leg distances are the arc costs the route actually uses.
func extract(p RoutingProblem, m CostMatrix, routes [][]int) SolverResult {
	depot := p.DepotIndex
	res := SolverResult{Success: true, Routes: [][]OptimizedStop{}}
	var totalMeters int64
	for v, r := range routes {
		if len(r) == 0 {
			continue
		}
		d := p.Stops[depot]
		out := make([]OptimizedStop, 0, len(r)+1)
		out = append(out, OptimizedStop{StopID: d.ID, Order: 0, Lat: d.Lat, Lng: d.Lng})
		prev := depot
		var cum int64
		for i, node := range r {
			leg := m.Meters[prev][node]
			cum += leg
			s := p.Stops[node]
			out = append(out, OptimizedStop{
				StopID:             s.ID,
				Order:              i + 1,
				Lat:                s.Lat,
				Lng:                s.Lng,
				ArrivalETAMin:      round1(etaMinutes(float64(cum) / 1000)),
				DistanceFromPrevKm: round2(float64(leg) / 1000),
			})
			prev = node
		}
		cum += m.Meters[prev][depot]
		totalMeters += cum
		res.Routes = append(res.Routes, out)
		res.VehicleIDs = append(res.VehicleIDs, p.Vehicles[v].ID)
	}
	km := round2(float64(totalMeters) / 1000)
	res.Metrics = &SolverMetrics{
		TotalDistanceKm:  km,
		TotalDurationMin: round1(etaMinutes(km)),
		StopsOptimized:   p.StopCount(),
		QualityScore:     QualityScore(km),
	}
	return res
}

func etaMinutes(km float64) float64 { return km / DefaultSpeedKmh * 60 }

// QualityScore normalizes a tour length to 0..100. It is a reported
// heuristic with no optimum baseline, not a constraint.
func QualityScore(totalKm float64) float64 {
	q := round1(80 + 20*(1-totalKm/math.Max(totalKm*1.3, 1)))
	return math.Max(0, math.Min(100, q))
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }
