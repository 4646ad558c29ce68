package opt

import "time"

const improveEps = 1e-6

// localSearch improves a feasible assignment in place. Moves are scored on
// arc cost plus lambda times the arc penalty; feasibility is always judged on
// true distance and load, so every accepted move keeps the solution feasible.
type localSearch struct {
	rm       *routeModel
	pen      []int32 // n*n, row major
	lambda   float64
	deadline time.Time
}

func newLocalSearch(rm *routeModel, deadline time.Time) *localSearch {
	n := rm.size()
	return &localSearch{rm: rm, pen: make([]int32, n*n), deadline: deadline}
}

func (ls *localSearch) expired() bool {
	return !ls.deadline.IsZero() && !time.Now().Before(ls.deadline)
}

func (ls *localSearch) arc(u, v int) float64 {
	c := float64(ls.rm.cost[u][v])
	if ls.lambda > 0 {
		c += ls.lambda * float64(ls.pen[u*ls.rm.size()+v])
	}
	return c
}

func (ls *localSearch) dist(u, v int) int64 { return ls.rm.cost[u][v] }

// descend applies the best move of each neighborhood in turn until none of
// them improves or the deadline passes.
func (ls *localSearch) descend(routes [][]int) {
	for !ls.expired() {
		if ls.twoOpt(routes) || ls.relocate(routes) || ls.exchange(routes) || ls.twoOptStar(routes) {
			continue
		}
		return
	}
}

// penalize raises the penalty of the arcs in routes with maximum utility
// cost/(1+penalty). Both directions are penalized so reversing a segment
// cannot dodge the penalty.
func (ls *localSearch) penalize(routes [][]int) {
	n, depot := ls.rm.size(), ls.rm.depot
	var arcs [][2]int
	maxU := -1.0
	visit := func(u, v int) {
		util := float64(ls.rm.cost[u][v]) / (1 + float64(ls.pen[u*n+v]))
		switch {
		case util > maxU+improveEps:
			maxU = util
			arcs = append(arcs[:0], [2]int{u, v})
		case util >= maxU-improveEps:
			arcs = append(arcs, [2]int{u, v})
		}
	}
	for _, r := range routes {
		if len(r) == 0 {
			continue
		}
		prev := depot
		for _, j := range r {
			visit(prev, j)
			prev = j
		}
		visit(prev, depot)
	}
	for _, a := range arcs {
		ls.pen[a[0]*n+a[1]]++
		if a[0] != a[1] {
			ls.pen[a[1]*n+a[0]]++
		}
	}
}

// routeState caches prefix sums along depot, stops..., depot.
type routeState struct {
	ext  []int
	fwd  []float64 // scored cost along ext
	bwd  []float64 // scored cost against ext
	dfwd []int64   // true distance along ext
	dbwd []int64
	lpre []float64 // load
}

func (st routeState) distance() int64 { return st.dfwd[len(st.dfwd)-1] }
func (st routeState) load() float64   { return st.lpre[len(st.lpre)-1] }

func (ls *localSearch) state(r []int) routeState {
	depot := ls.rm.depot
	ext := make([]int, 0, len(r)+2)
	ext = append(ext, depot)
	ext = append(ext, r...)
	ext = append(ext, depot)
	m := len(ext)
	st := routeState{
		ext:  ext,
		fwd:  make([]float64, m),
		bwd:  make([]float64, m),
		dfwd: make([]int64, m),
		dbwd: make([]int64, m),
		lpre: make([]float64, m),
	}
	for t := 1; t < m; t++ {
		a, b := ext[t-1], ext[t]
		st.fwd[t] = st.fwd[t-1] + ls.arc(a, b)
		st.bwd[t] = st.bwd[t-1] + ls.arc(b, a)
		st.dfwd[t] = st.dfwd[t-1] + ls.dist(a, b)
		st.dbwd[t] = st.dbwd[t-1] + ls.dist(b, a)
		st.lpre[t] = st.lpre[t-1] + ls.rm.demand[b]
	}
	return st
}

func (ls *localSearch) states(routes [][]int) []routeState {
	out := make([]routeState, len(routes))
	for i, r := range routes {
		out[i] = ls.state(r)
	}
	return out
}

// twoOpt reverses a segment inside one route.
func (ls *localSearch) twoOpt(routes [][]int) bool {
	bestGain, bestV, bestI, bestK := improveEps, -1, 0, 0
	for v, r := range routes {
		if len(r) < 2 {
			continue
		}
		st := ls.state(r)
		m := len(st.ext)
		for i := 1; i < m-2; i++ {
			for k := i + 1; k <= m-2; k++ {
				a, b := st.ext[i-1], st.ext[i]
				c, d := st.ext[k], st.ext[k+1]
				delta := ls.arc(a, c) + ls.arc(b, d) - ls.arc(a, b) - ls.arc(c, d) +
					(st.bwd[k] - st.bwd[i]) - (st.fwd[k] - st.fwd[i])
				if -delta <= bestGain {
					continue
				}
				nd := st.dfwd[i-1] + ls.dist(a, c) + (st.dbwd[k] - st.dbwd[i]) + ls.dist(b, d) + (st.distance() - st.dfwd[k+1])
				if nd > ls.rm.maxDist[v] {
					continue
				}
				bestGain, bestV, bestI, bestK = -delta, v, i, k
			}
		}
	}
	if bestV < 0 {
		return false
	}
	r := routes[bestV]
	for lo, hi := bestI-1, bestK-1; lo < hi; lo, hi = lo+1, hi-1 {
		r[lo], r[hi] = r[hi], r[lo]
	}
	return true
}

// relocate moves a segment of one to three stops to another position, in the
// same route or another one.
func (ls *localSearch) relocate(routes [][]int) bool {
	type move struct{ from, i, l, to, pos int }
	best, bestGain := move{from: -1}, improveEps
	depot := ls.rm.depot
	states := ls.states(routes)
	for a, r := range routes {
		sa := states[a]
		for i := 0; i < len(r); i++ {
			for l := 1; l <= 3 && i+l <= len(r); l++ {
				s0, sl := r[i], r[i+l-1]
				p, q := sa.ext[i], sa.ext[i+l+1]
				rem := ls.arc(p, q) - ls.arc(p, s0) - ls.arc(sl, q)
				remDist := ls.dist(p, q) - ls.dist(p, s0) - ls.dist(sl, q)
				segLoad := sa.lpre[i+l] - sa.lpre[i]
				rest := removeSegment(r, i, l)
				for b := range routes {
					target, base := routes[b], states[b].distance()
					if b == a {
						target, base = rest, sa.distance()+remDist
					} else {
						if !ls.rm.fitsLoad(b, states[b].load()+segLoad) {
							continue
						}
						if sa.distance()+remDist > ls.rm.maxDist[a] {
							continue
						}
					}
					for pos := 0; pos <= len(target); pos++ {
						if b == a && pos == i {
							continue
						}
						x, y := depot, depot
						if pos > 0 {
							x = target[pos-1]
						}
						if pos < len(target) {
							y = target[pos]
						}
						gain := -(rem + ls.arc(x, s0) + ls.arc(sl, y) - ls.arc(x, y))
						if gain <= bestGain {
							continue
						}
						if base+ls.dist(x, s0)+ls.dist(sl, y)-ls.dist(x, y) > ls.rm.maxDist[b] {
							continue
						}
						best, bestGain = move{a, i, l, b, pos}, gain
					}
				}
			}
		}
	}
	if best.from < 0 {
		return false
	}
	src := routes[best.from]
	seg := append([]int(nil), src[best.i:best.i+best.l]...)
	rest := removeSegment(src, best.i, best.l)
	if best.to == best.from {
		routes[best.from] = insertSegment(rest, best.pos, seg)
	} else {
		routes[best.from] = rest
		routes[best.to] = insertSegment(routes[best.to], best.pos, seg)
	}
	return true
}

// exchange swaps two stops, within a route or across two routes.
func (ls *localSearch) exchange(routes [][]int) bool {
	bestGain := improveEps
	bestA, bestI, bestB, bestJ := -1, 0, 0, 0
	states := ls.states(routes)
	for a := range routes {
		for b := a; b < len(routes); b++ {
			ra, rb := routes[a], routes[b]
			sa, sb := states[a], states[b]
			for i := range ra {
				j0 := 0
				if a == b {
					j0 = i + 1
				}
				for j := j0; j < len(rb); j++ {
					x, y := ra[i], rb[j]
					pa, na := sa.ext[i], sa.ext[i+2]
					pb, nb := sb.ext[j], sb.ext[j+2]
					var delta float64
					var dA, dB int64
					if a == b && j == i+1 {
						delta = ls.arc(pa, y) + ls.arc(y, x) + ls.arc(x, nb) - ls.arc(pa, x) - ls.arc(x, y) - ls.arc(y, nb)
						dA = ls.dist(pa, y) + ls.dist(y, x) + ls.dist(x, nb) - ls.dist(pa, x) - ls.dist(x, y) - ls.dist(y, nb)
					} else {
						delta = ls.arc(pa, y) + ls.arc(y, na) - ls.arc(pa, x) - ls.arc(x, na) +
							ls.arc(pb, x) + ls.arc(x, nb) - ls.arc(pb, y) - ls.arc(y, nb)
						dA = ls.dist(pa, y) + ls.dist(y, na) - ls.dist(pa, x) - ls.dist(x, na)
						dB = ls.dist(pb, x) + ls.dist(x, nb) - ls.dist(pb, y) - ls.dist(y, nb)
					}
					if -delta <= bestGain {
						continue
					}
					if a == b {
						if sa.distance()+dA+dB > ls.rm.maxDist[a] {
							continue
						}
					} else {
						dx, dy := ls.rm.demand[x], ls.rm.demand[y]
						if !ls.rm.fitsLoad(a, sa.load()-dx+dy) || !ls.rm.fitsLoad(b, sb.load()-dy+dx) {
							continue
						}
						if sa.distance()+dA > ls.rm.maxDist[a] || sb.distance()+dB > ls.rm.maxDist[b] {
							continue
						}
					}
					bestGain, bestA, bestI, bestB, bestJ = -delta, a, i, b, j
				}
			}
		}
	}
	if bestA < 0 {
		return false
	}
	routes[bestA][bestI], routes[bestB][bestJ] = routes[bestB][bestJ], routes[bestA][bestI]
	return true
}

// twoOptStar swaps the tails of two routes.
func (ls *localSearch) twoOptStar(routes [][]int) bool {
	bestGain := improveEps
	bestA, bestCA, bestB, bestCB := -1, 0, 0, 0
	states := ls.states(routes)
	for a := 0; a < len(routes); a++ {
		for b := a + 1; b < len(routes); b++ {
			sa, sb := states[a], states[b]
			na, nb := len(routes[a]), len(routes[b])
			for ca := 0; ca <= na; ca++ {
				for cb := 0; cb <= nb; cb++ {
					if (ca == na && cb == nb) || (ca == 0 && cb == 0) {
						continue
					}
					x, xn := sa.ext[ca], sa.ext[ca+1]
					y, yn := sb.ext[cb], sb.ext[cb+1]
					gain := -(ls.arc(x, yn) + ls.arc(y, xn) - ls.arc(x, xn) - ls.arc(y, yn))
					if gain <= bestGain {
						continue
					}
					if !ls.rm.fitsLoad(a, sa.lpre[ca]+sb.load()-sb.lpre[cb]) ||
						!ls.rm.fitsLoad(b, sb.lpre[cb]+sa.load()-sa.lpre[ca]) {
						continue
					}
					newA := sa.dfwd[ca] + ls.dist(x, yn) + (sb.distance() - sb.dfwd[cb+1])
					newB := sb.dfwd[cb] + ls.dist(y, xn) + (sa.distance() - sa.dfwd[ca+1])
					if newA > ls.rm.maxDist[a] || newB > ls.rm.maxDist[b] {
						continue
					}
					bestGain, bestA, bestCA, bestB, bestCB = gain, a, ca, b, cb
				}
			}
		}
	}
	if bestA < 0 {
		return false
	}
	ra, rb := routes[bestA], routes[bestB]
	newA := append(append([]int(nil), ra[:bestCA]...), rb[bestCB:]...)
	newB := append(append([]int(nil), rb[:bestCB]...), ra[bestCA:]...)
	routes[bestA], routes[bestB] = newA, newB
	return true
}

func removeSegment(r []int, i, l int) []int {
	out := make([]int, 0, len(r)-l)
	out = append(out, r[:i]...)
	return append(out, r[i+l:]...)
}

func insertSegment(r []int, pos int, seg []int) []int {
	out := make([]int, 0, len(r)+len(seg))
	out = append(out, r[:pos]...)
	out = append(out, seg...)
	return append(out, r[pos:]...)
}
