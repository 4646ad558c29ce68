package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"omniroute/internal/config"
	"omniroute/internal/events"
	"omniroute/internal/metrics"
	"omniroute/internal/opt"
	"omniroute/internal/store"
)

type Server struct {
	Cfg     *config.Config
	Log     *zap.Logger
	Store   store.JobStore
	Cache   store.ResultCache
	Broker  EventBroker
	Events  events.Publisher
	Limiter *TenantLimiter
	// Matrix is shared by every request; solvers are not.
	Matrix opt.MatrixProvider

	newSolver func(opt.SolverConfig, ...opt.Option) opt.Solver
	inflight  sync.WaitGroup
	closers   []func() error
}

// NewServer wires the server from configuration. Without DATABASE_URL jobs
// live in memory; without REDIS_URL the cache is disabled and events fan out
// in process; without KAFKA_BROKERS downstream events are dropped.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		Cfg:       cfg,
		Log:       log,
		Cache:     store.NopCache{},
		Broker:    NewBroker(),
		Events:    events.NopPublisher{},
		Limiter:   NewTenantLimiter(cfg.RateLimitPerMinute),
		Matrix:    opt.NewCachedProvider(opt.HaversineProvider{}, cfg.MatrixCacheSize),
		newSolver: opt.NewSolver,
	}

	if cfg.DatabaseURL == "" {
		s.Store = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.MigrateDir(cfg.MigrationsDir); err != nil {
				log.Warn("migrations failed", zap.String("dir", cfg.MigrationsDir), zap.Error(err))
			}
		}
		s.Store = sp
		s.closers = append(s.closers, sp.Close)
	}

	if cfg.RedisURL != "" {
		cache, rdb, err := store.NewRedisCacheFromURL(cfg.RedisURL)
		if err != nil {
			log.Warn("invalid REDIS_URL, cache and shared broker disabled", zap.Error(err))
		} else {
			s.Cache = cache
			s.Broker = NewRedisBroker(rdb)
			s.closers = append(s.closers, rdb.Close)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.Named("events"))
		s.Events = kp
		s.closers = append(s.closers, kp.Close)
	}
	return s, nil
}

// Close waits for background jobs, then releases database, redis and kafka
// connections.
func (s *Server) Close() error {
	s.inflight.Wait()
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	metrics.RegisterDefault()
	mux := http.NewServeMux()

	// Optimization
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimize/jobs", s.JobsHandler)
	mux.HandleFunc("/v1/optimize/jobs/", s.JobByIDHandler) // includes /ws
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	// Ops
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.cors(h)
	h = instrument(h)
	h = s.logRequests(h)
	return h
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	// Tenant comes from the header; websocket clients may pass ?tenant= instead.
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = r.URL.Query().Get("tenant")
	}
	if tenant == "" {
		tenant = "t_demo"
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

// publish fans evt out to websocket subscribers and the downstream stream.
func (s *Server) publish(ctx context.Context, evt events.JobEvent) {
	s.Broker.Publish(evt.JobID, evt)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Events.Publish(ctx, evt); err != nil {
		s.Log.Warn("job event not delivered", zap.String("event_type", evt.Type), zap.String("job_id", evt.JobID), zap.Error(err))
	}
}
