package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"omniroute/internal/config"
	"omniroute/internal/opt"
	"omniroute/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		AppEnv:          "test",
		KafkaTopic:      "optimization.events",
		SolveTimeout:    5 * time.Second,
		CacheTTL:        time.Minute,
		MatrixCacheSize: 16,
	}
}

func newTestServer(t *testing.T, mods ...func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	for _, m := range mods {
		m(cfg)
	}
	s, err := NewServer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const squareBody = `{"stops":[
	{"id":"D","lat":0,"lng":0},
	{"id":"A","lat":0,"lng":0.01},
	{"id":"B","lat":0.01,"lng":0.01},
	{"id":"C","lat":0.01,"lng":0}
]}`

func do(t *testing.T, h http.Handler, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type optimizeResponse struct {
	Success bool         `json:"success"`
	Data    optimizeData `json:"data"`
}

func decodeOptimize(t *testing.T, rr *httptest.ResponseRecorder) optimizeResponse {
	t.Helper()
	var out optimizeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p), rr.Body.String())
	return p
}

// slowSolver blocks past any reasonable test timeout.
type slowSolver struct{ delay time.Duration }

func (s slowSolver) Solve(p opt.RoutingProblem) (opt.SolverResult, error) {
	time.Sleep(s.delay)
	return opt.SolverResult{}, errors.New("too late")
}
func (slowSolver) Validate(r opt.SolverResult) bool { return opt.Validate(r) }
func (slowSolver) Metrics() opt.SolverMetrics       { return opt.SolverMetrics{} }

type failingProvider struct{}

func (failingProvider) Matrix([]opt.Stop) (opt.CostMatrix, error) {
	return opt.CostMatrix{}, errors.New("matrix service down")
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)
}

func TestOptimizeSquare(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/optimize", squareBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decodeOptimize(t, rr)
	assert.True(t, out.Success)
	assert.False(t, out.Data.Cached)
	assert.Len(t, out.Data.InputHash, 16)
	require.Len(t, out.Data.Routes, 1)
	assert.Len(t, out.Data.Routes[0], 4)
	assert.Equal(t, "D", out.Data.Routes[0][0].StopID)
	assert.Equal(t, []string{"default"}, out.Data.VehicleIDs)
	require.NotNil(t, out.Data.Metrics)
	assert.InDelta(t, 4.45, out.Data.Metrics.TotalDistanceKm, 0.01)
	assert.InDelta(t, 84.6, out.Data.Metrics.QualityScore, 0.001)
	assert.Equal(t, opt.StrategyFirstSolution, out.Data.Metrics.Strategy)
	assert.InDelta(t, 4.45, out.Data.Savings.OptimizedDistanceKm, 0.01)

	rr = do(t, h, http.MethodGet, "/v1/optimize/jobs/"+out.Data.JobID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var job store.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, store.StatusCompleted, job.Status)
	assert.Equal(t, "t_demo", job.TenantID)
	assert.Equal(t, out.Data.InputHash, job.InputHash)
	require.NotNil(t, job.QualityScore)
	assert.InDelta(t, 84.6, *job.QualityScore, 0.001)
	assert.Equal(t, string(opt.StrategyFirstSolution), job.Strategy)
}

func TestOptimizeValidation(t *testing.T) {
	h := newTestServer(t).Handler()
	cases := map[string]string{
		"single stop":        `{"stops":[{"id":"D","lat":0,"lng":0}]}`,
		"unknown mode":       `{"stops":[{"id":"D"},{"id":"A","lat":0.01}],"mode":"annealing"}`,
		"bad depot":          `{"stops":[{"id":"D"},{"id":"A","lat":0.01}],"depot_index":5}`,
		"malformed":          `{"stops":[`,
		"empty body":         ``,
		"bad latitude":       `{"stops":[{"id":"D"},{"id":"A","lat":91}]}`,
		"duplicate ids":      `{"stops":[{"id":"D"},{"id":"D","lat":0.01}]}`,
		"duplicate vehicles": `{"stops":[{"id":"D"},{"id":"A","lat":0.01}],"vehicles":[{"id":"van","capacity_kg":3},{"id":"van","capacity_kg":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/optimize", body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			p := decodeProblem(t, rr)
			assert.Equal(t, "validation", p.Kind)
			assert.Empty(t, p.JobID)
		})
	}
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/optimize?async=maybe", squareBody).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/v1/optimize", "").Code)
}

func TestOptimizeInfeasible(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	body := `{"stops":[{"id":"D"},{"id":"A","lat":0.01,"demand_kg":5}],"vehicles":[{"id":"bike","capacity_kg":1}]}`

	rr := do(t, h, http.MethodPost, "/v1/optimize", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	p := decodeProblem(t, rr)
	assert.Equal(t, "infeasible", p.Kind)
	assert.Equal(t, opt.NoSolutionMessage, p.Detail)
	require.NotEmpty(t, p.JobID)

	job, err := s.Store.GetJob(context.Background(), "t_demo", p.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Equal(t, "infeasible", job.ErrorKind)
}

func TestOptimizeUnavailableBackends(t *testing.T) {
	h := newTestServer(t).Handler()
	for _, mode := range []string{"quantum", "hybrid"} {
		body := strings.Replace(squareBody, `"stops"`, `"mode":"`+mode+`","stops"`, 1)
		rr := do(t, h, http.MethodPost, "/v1/optimize", body)
		require.Equal(t, http.StatusServiceUnavailable, rr.Code, rr.Body.String())
		p := decodeProblem(t, rr)
		assert.Equal(t, "backend_unavailable", p.Kind)
		assert.Contains(t, p.Detail, mode)
	}
}

func TestOptimizeTimeout(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.SolveTimeout = 20 * time.Millisecond })
	s.newSolver = func(opt.SolverConfig, ...opt.Option) opt.Solver { return slowSolver{delay: 300 * time.Millisecond} }

	rr := do(t, s.Handler(), http.MethodPost, "/v1/optimize", squareBody)
	require.Equal(t, http.StatusGatewayTimeout, rr.Code, rr.Body.String())
	p := decodeProblem(t, rr)
	assert.Equal(t, "timeout", p.Kind)

	job, err := s.Store.GetJob(context.Background(), "t_demo", p.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTimeout, job.Status)
}

func TestOptimizeInternalFailure(t *testing.T) {
	s := newTestServer(t)
	s.Matrix = failingProvider{}

	rr := do(t, s.Handler(), http.MethodPost, "/v1/optimize", squareBody)
	require.Equal(t, http.StatusInternalServerError, rr.Code, rr.Body.String())
	p := decodeProblem(t, rr)
	assert.Equal(t, "internal", p.Kind)
	assert.Contains(t, p.Detail, "matrix service down")
}

func TestOptimizeResultCache(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, func(c *config.Config) { c.RedisURL = "redis://" + mr.Addr() + "/0" })
	require.IsType(t, &store.RedisCache{}, s.Cache)
	require.IsType(t, &RedisBroker{}, s.Broker)
	h := s.Handler()

	first := decodeOptimize(t, do(t, h, http.MethodPost, "/v1/optimize", squareBody))
	second := decodeOptimize(t, do(t, h, http.MethodPost, "/v1/optimize", squareBody))
	assert.False(t, first.Data.Cached)
	assert.True(t, second.Data.Cached)
	assert.NotEqual(t, first.Data.JobID, second.Data.JobID)
	if diff := cmp.Diff(first.Data, second.Data, cmpopts.IgnoreFields(optimizeData{}, "JobID", "Cached")); diff != "" {
		t.Errorf("cached payload differs (-first +second):\n%s", diff)
	}

	// a different fleet is a different key
	body := strings.Replace(squareBody, `"stops"`, `"vehicles":[{"id":"van-7"}],"stops"`, 1)
	third := decodeOptimize(t, do(t, h, http.MethodPost, "/v1/optimize", body))
	assert.False(t, third.Data.Cached)

	mr.FastForward(2 * time.Minute)
	fourth := decodeOptimize(t, do(t, h, http.MethodPost, "/v1/optimize", squareBody))
	assert.False(t, fourth.Data.Cached)
}

func TestOptimizeAsync(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/v1/optimize?async=true", squareBody, "X-Tenant-Id", "t_async")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var out struct {
		Data struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "pending", out.Data.Status)
	assert.Equal(t, "/v1/optimize/jobs/"+out.Data.JobID, rr.Header().Get("Location"))

	require.Eventually(t, func() bool {
		j, err := s.Store.GetJob(context.Background(), "t_async", out.Data.JobID)
		return err == nil && j.Status == store.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// other tenants cannot see it
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/optimize/jobs/"+out.Data.JobID, "").Code)
}

func TestJobsListAndCancel(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	ctx := context.Background()

	pending, err := s.Store.CreateJob(ctx, store.Job{TenantID: "t_demo", SolverType: "classical", InputHash: "abc"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/optimize", squareBody).Code)

	rr := do(t, h, http.MethodGet, "/v1/optimize/jobs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Items      []store.Job `json:"items"`
		NextCursor string      `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list.Items, 2)

	rr = do(t, h, http.MethodGet, "/v1/optimize/jobs?status=pending", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, pending.ID, list.Items[0].ID)

	rr = do(t, h, http.MethodGet, "/v1/optimize/jobs?limit=1", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)
	assert.NotEmpty(t, list.NextCursor)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/optimize/jobs?status=lost", "").Code)

	rr = do(t, h, http.MethodDelete, "/v1/optimize/jobs/"+pending.ID, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var job store.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, store.StatusCancelled, job.Status)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodDelete, "/v1/optimize/jobs/"+pending.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/optimize/jobs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/optimize/jobs/"+pending.ID+"/extra", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/optimize/jobs/"+pending.ID, "", "X-Tenant-Id", "t_other").Code)
}

func TestCancelledJobIsNotRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	job, err := s.Store.CreateJob(ctx, store.Job{TenantID: "t_demo", SolverType: "classical"})
	require.NoError(t, err)
	_, err = s.Store.CancelJob(ctx, "t_demo", job.ID)
	require.NoError(t, err)

	p, _, err := opt.ProblemInput{Stops: []opt.Stop{{ID: "D"}, {ID: "A", Lat: 0.01}}}.Problem()
	require.NoError(t, err)
	_, se := s.execute(ctx, job, p, opt.SolverClassical)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusConflict, se.status())
}

func TestRateLimitPerTenant(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.RateLimitPerMinute = 2 }).Handler()

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/optimize/jobs", "").Code)
	}
	rr := do(t, h, http.MethodGet, "/v1/optimize/jobs", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/optimize/jobs", "", "X-Tenant-Id", "t_other").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestTenantLimiterEvictsIdleTenants(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	l := NewTenantLimiter(1)
	l.now = func() time.Time { return clock }

	for i := 0; i < 50; i++ {
		assert.True(t, l.Allow(fmt.Sprintf("t_%d", i)))
	}
	assert.Equal(t, 50, l.Len())
	assert.False(t, l.Allow("t_0"))

	clock = clock.Add(tenantIdle)
	assert.True(t, l.Allow("t_fresh"))
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Allow("t_0"), "an evicted tenant starts with a full bucket")
}

func TestTenantLimiterBoundsTenants(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	l := NewTenantLimiter(1)
	l.now = func() time.Time { return clock }
	l.maxTenants = 3

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(fmt.Sprintf("t_%d", i)))
	}
	// unseen tenants share the overflow bucket once the map is full
	assert.True(t, l.Allow("t_x"))
	assert.False(t, l.Allow("t_y"))
	assert.Equal(t, 3, l.Len())
}

func TestOptimizerConfig(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := do(t, h, http.MethodGet, "/v1/optimizer/config", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Defaults map[string]any `json:"defaults"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, opt.GuidedSearchThreshold, body.Defaults["guided_search_threshold"])
	assert.EqualValues(t, 10000, body.Defaults["guided_search_budget_ms"])
	assert.Equal(t, "first_solution", body.Defaults["below_threshold_strategy"])
}

func TestMetricsAndDebug(t *testing.T) {
	h := newTestServer(t).Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/optimize", squareBody).Code)

	rr := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "optimize_solves_total")
	assert.Contains(t, rr.Body.String(), `path="/v1/optimize"`)

	rr = do(t, h, http.MethodGet, "/debug/info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"version"`)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.AllowOrigins = []string{"https://ops.example.com"} }).Handler()
	rr := do(t, h, http.MethodOptions, "/v1/optimize", "", "Origin", "https://ops.example.com")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://ops.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = do(t, h, http.MethodGet, "/healthz", "", "Origin", "https://evil.example.com")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/v1/optimize", routeLabel("/v1/optimize"))
	assert.Equal(t, "/v1/optimize/jobs/{id}", routeLabel("/v1/optimize/jobs/123"))
	assert.Equal(t, "/v1/optimize/jobs/{id}/ws", routeLabel("/v1/optimize/jobs/123/ws"))
}

func TestOpenAPIDocumentsRoutes(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := do(t, h, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	for _, p := range []string{"/v1/optimize", "/v1/optimize/jobs", "/v1/optimize/jobs/{id}", "/v1/optimize/jobs/{id}/ws", "/v1/optimizer/config"} {
		assert.Contains(t, doc.Paths, p)
	}

	rr = do(t, h, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, "application/yaml", rr.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/docs", "").Code)
}
