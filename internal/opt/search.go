package opt

import (
	"math"
	"time"
)

const loadEps = 1e-9

// routeModel is the integer view of a problem that the search works on.
// Routes are slices of stop indices without the depot; every route implicitly
// starts and ends at depot.
type routeModel struct {
	cost     [][]int64 // meters
	demand   []float64
	depot    int
	capacity []float64 // per vehicle, 0 = unconstrained
	maxDist  []int64   // per vehicle, meters
}

func newRouteModel(p RoutingProblem, m CostMatrix) *routeModel {
	n := p.StopCount()
	rm := &routeModel{
		cost:     m.Meters,
		demand:   make([]float64, n),
		depot:    p.DepotIndex,
		capacity: make([]float64, len(p.Vehicles)),
		maxDist:  make([]int64, len(p.Vehicles)),
	}
	for i, s := range p.Stops {
		if i != p.DepotIndex {
			rm.demand[i] = s.DemandKg
		}
	}
	for vi, v := range p.Vehicles {
		if v.CapacityKg > 0 {
			rm.capacity[vi] = v.CapacityKg
		}
		rm.maxDist[vi] = maxRouteMeters(v.MaxDistanceKm)
	}
	return rm
}

// maxRouteMeters converts a distance cap to meters, clamped so that sums of
// a route distance and a few legs cannot overflow int64.
func maxRouteMeters(km float64) int64 {
	const limit = math.MaxInt64 / 4
	if m := km * 1000; m < limit {
		return int64(m)
	}
	return limit
}

func (rm *routeModel) size() int { return len(rm.cost) }

func (rm *routeModel) routeDistance(r []int) int64 {
	if len(r) == 0 {
		return 0
	}
	d := rm.cost[rm.depot][r[0]]
	for i := 1; i < len(r); i++ {
		d += rm.cost[r[i-1]][r[i]]
	}
	return d + rm.cost[r[len(r)-1]][rm.depot]
}

func (rm *routeModel) routeLoad(r []int) float64 {
	l := 0.0
	for _, i := range r {
		l += rm.demand[i]
	}
	return l
}

func (rm *routeModel) fitsLoad(v int, load float64) bool {
	return rm.capacity[v] <= 0 || load <= rm.capacity[v]+loadEps
}

// feasible checks both dimensions for vehicle v. Demands and arc costs are
// non-negative, so the route totals bound every prefix.
func (rm *routeModel) feasible(v int, r []int) bool {
	return rm.fitsLoad(v, rm.routeLoad(r)) && rm.routeDistance(r) <= rm.maxDist[v]
}

func (rm *routeModel) totalDistance(routes [][]int) int64 {
	var t int64
	for _, r := range routes {
		t += rm.routeDistance(r)
	}
	return t
}

// construct builds the first assignment by path cheapest arc: each vehicle in
// turn is extended from its last node along the cheapest arc that keeps it
// feasible, ties going to the lower stop index. Stops left over are placed by
// cheapest feasible insertion. ok is false when some stop cannot be placed.
func construct(rm *routeModel) (routes [][]int, ok bool) {
	n := rm.size()
	routed := make([]bool, n)
	routed[rm.depot] = true
	left := n - 1
	routes = make([][]int, len(rm.maxDist))
	for v := range routes {
		last, load, dist := rm.depot, 0.0, int64(0)
		for left > 0 {
			best, bestCost := -1, int64(math.MaxInt64)
			for j := 0; j < n; j++ {
				if routed[j] {
					continue
				}
				c := rm.cost[last][j]
				if c >= bestCost {
					continue
				}
				if !rm.fitsLoad(v, load+rm.demand[j]) {
					continue
				}
				if dist+c+rm.cost[j][rm.depot] > rm.maxDist[v] {
					continue
				}
				best, bestCost = j, c
			}
			if best < 0 {
				break
			}
			routes[v] = append(routes[v], best)
			routed[best] = true
			left--
			last, load, dist = best, load+rm.demand[best], dist+bestCost
		}
	}
	if left == 0 {
		return routes, true
	}
	pending := make([]int, 0, left)
	for j, done := range routed {
		if !done {
			pending = append(pending, j)
		}
	}
	return routes, insertAll(rm, routes, pending)
}

// insertAll places nodes one at a time at the globally cheapest feasible
// position. It reports false if some node fits nowhere.
func insertAll(rm *routeModel, routes [][]int, nodes []int) bool {
	nodes = append([]int(nil), nodes...)
	for len(nodes) > 0 {
		bestNode, bestRoute, bestPos := -1, -1, -1
		bestDelta := int64(math.MaxInt64)
		for ni, j := range nodes {
			for v, r := range routes {
				if !rm.fitsLoad(v, rm.routeLoad(r)+rm.demand[j]) {
					continue
				}
				base := rm.routeDistance(r)
				for pos := 0; pos <= len(r); pos++ {
					x, y := rm.depot, rm.depot
					if pos > 0 {
						x = r[pos-1]
					}
					if pos < len(r) {
						y = r[pos]
					}
					d := rm.cost[x][j] + rm.cost[j][y] - rm.cost[x][y]
					if d >= bestDelta || base+d > rm.maxDist[v] {
						continue
					}
					bestNode, bestRoute, bestPos, bestDelta = ni, v, pos, d
				}
			}
		}
		if bestNode < 0 {
			return false
		}
		r := routes[bestRoute]
		r = append(r, 0)
		copy(r[bestPos+1:], r[bestPos:])
		r[bestPos] = nodes[bestNode]
		routes[bestRoute] = r
		nodes = append(nodes[:bestNode], nodes[bestNode+1:]...)
	}
	return true
}

type searchResult struct {
	routes [][]int // nil when infeasible
	rounds int
}

// search runs construction and improvement. first_solution stops at the first
// local optimum; guided_local_search keeps escaping local optima by penalizing
// the arcs of highest utility until the deadline or a round limit is reached,
// then returns the cheapest feasible solution seen.
func search(rm *routeModel, cfg SolverConfig, deadline time.Time) searchResult {
	routes, ok := construct(rm)
	if !ok {
		return searchResult{}
	}
	ls := newLocalSearch(rm, deadline)
	ls.descend(routes)
	if cfg.Strategy != StrategyGuidedLocalSearch {
		return searchResult{routes: routes}
	}
	if deadline.IsZero() && cfg.IterationLimit <= 0 && cfg.StallLimit <= 0 {
		ls.deadline = time.Now().Add(GuidedSearchBudget)
	}

	best := cloneRoutes(routes)
	bestCost := rm.totalDistance(routes)
	arcs := 0
	for _, r := range routes {
		if len(r) > 0 {
			arcs += len(r) + 1
		}
	}
	if bestCost == 0 || arcs == 0 {
		return searchResult{routes: best}
	}
	ls.lambda = 0.1 * float64(bestCost) / float64(arcs)

	res := searchResult{}
	stall := 0
	for !ls.expired() {
		if cfg.IterationLimit > 0 && res.rounds >= cfg.IterationLimit {
			break
		}
		if cfg.StallLimit > 0 && stall >= cfg.StallLimit {
			break
		}
		res.rounds++
		ls.penalize(routes)
		ls.descend(routes)
		if c := rm.totalDistance(routes); c < bestCost {
			best, bestCost = cloneRoutes(routes), c
			stall = 0
		} else {
			stall++
		}
	}
	res.routes = best
	return res
}

func cloneRoutes(routes [][]int) [][]int {
	out := make([][]int, len(routes))
	for i, r := range routes {
		out[i] = append([]int(nil), r...)
	}
	return out
}
