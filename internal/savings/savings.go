// Package savings compares an optimized plan against the naive tour a driver
// would take by visiting stops in the order they were submitted.
package savings

import (
	"math"

	"omniroute/internal/opt"
)

type Savings struct {
	NaiveDistanceKm     float64 `json:"naive_distance_km"`
	OptimizedDistanceKm float64 `json:"optimized_distance_km"`
	DistancePct         float64 `json:"distance_pct"`
	NaiveDurationMin    float64 `json:"naive_duration_min"`
	OptimizedDuration   float64 `json:"optimized_duration_min"`
	TimePct             float64 `json:"time_pct"`
	NaiveCost           float64 `json:"naive_cost"`
	OptimizedCost       float64 `json:"optimized_cost"`
	FuelPct             float64 `json:"fuel_pct"`
}

// NaiveTourMeters is depot -> stops in input order -> depot, on the same
// quantized great-circle distances the solver uses.
func NaiveTourMeters(p opt.RoutingProblem) int64 {
	if len(p.Stops) < 2 {
		return 0
	}
	m := opt.BuildCostMatrix(p.Stops, opt.MatrixOptions{})
	prev := p.DepotIndex
	var total int64
	for i := range p.Stops {
		if i == p.DepotIndex {
			continue
		}
		total += m.Meters[prev][i]
		prev = i
	}
	return total + m.Meters[prev][p.DepotIndex]
}

// Compare reports how much shorter, faster and cheaper r is than the naive
// tour. A failed result or an empty naive tour yields zero savings.
func Compare(p opt.RoutingProblem, r opt.SolverResult) Savings {
	var s Savings
	if !r.Success || r.Metrics == nil {
		return s
	}
	naiveKm := round2(float64(NaiveTourMeters(p)) / 1000)
	optKm := r.Metrics.TotalDistanceKm

	s.NaiveDistanceKm = naiveKm
	s.OptimizedDistanceKm = optKm
	s.NaiveDurationMin = round1(naiveKm / opt.DefaultSpeedKmh * 60)
	s.OptimizedDuration = r.Metrics.TotalDurationMin
	s.NaiveCost = round2(naiveKm * naiveRate(p))
	s.OptimizedCost = round2(optimizedCost(p, r))
	if naiveKm <= 0 {
		return s
	}
	s.DistancePct = pct(naiveKm, optKm)
	s.TimePct = pct(s.NaiveDurationMin, s.OptimizedDuration)
	s.FuelPct = pct(s.NaiveCost, s.OptimizedCost)
	return s
}

// the naive tour is driven by the first vehicle
func naiveRate(p opt.RoutingProblem) float64 {
	if len(p.Vehicles) == 0 {
		return opt.DefaultCostPerKm
	}
	return p.Vehicles[0].CostPerKm
}

// optimizedCost prices each route with the rate of the vehicle that drove it,
// on the same quantized meters as the naive tour.
func optimizedCost(p opt.RoutingProblem, r opt.SolverResult) float64 {
	if len(p.Vehicles) == 1 || len(r.VehicleIDs) != len(r.Routes) {
		return r.Metrics.TotalDistanceKm * naiveRate(p)
	}
	rates := make(map[string]float64, len(p.Vehicles))
	for _, v := range p.Vehicles {
		rates[v.ID] = v.CostPerKm
	}
	index := make(map[string]int, len(p.Stops))
	for i, s := range p.Stops {
		index[s.ID] = i
	}
	m := opt.BuildCostMatrix(p.Stops, opt.MatrixOptions{})
	depot := p.DepotIndex
	total := 0.0
	for i, route := range r.Routes {
		prev := depot
		var meters int64
		for _, s := range route {
			idx, ok := index[s.StopID]
			if !ok || idx == depot {
				continue
			}
			meters += m.Meters[prev][idx]
			prev = idx
		}
		meters += m.Meters[prev][depot]
		total += round2(float64(meters)/1000) * rates[r.VehicleIDs[i]]
	}
	return total
}

func pct(before, after float64) float64 {
	if before <= 0 {
		return 0
	}
	return round1((before - after) / before * 100)
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }
