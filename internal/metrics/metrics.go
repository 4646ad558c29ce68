package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Solves counts solver runs by backend, strategy and outcome (success or error kind)
	Solves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_solves_total", Help: "Solver runs by solver type, strategy and outcome."},
		[]string{"solver_type", "strategy", "outcome"},
	)
	// SolveDuration tracks solver wall time in seconds
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimize_solve_duration_seconds", Help: "Solver wall time in seconds.", Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30}},
		[]string{"strategy"},
	)
	// QualityScore is the distribution of reported solution quality scores
	QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimize_quality_score", Help: "Reported solution quality score.", Buckets: []float64{80, 82, 84, 86, 88, 90, 92, 95, 100}},
	)
	// CacheHits counts optimize requests answered from the result cache
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "optimize_cache_hits_total", Help: "Optimize requests served from the result cache."},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Solves)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(QualityScore)
		Registry.MustRegister(CacheHits)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveSolve records one solver run. outcome is "success" or an error kind.
func ObserveSolve(solverType, strategy, outcome string, seconds float64, quality float64) {
	Solves.WithLabelValues(solverType, strategy, outcome).Inc()
	if strategy != "" {
		SolveDuration.WithLabelValues(strategy).Observe(seconds)
	}
	if outcome == "success" {
		QualityScore.Observe(quality)
	}
}
