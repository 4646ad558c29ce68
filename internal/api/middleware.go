package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"omniroute/internal/metrics"
)

// statusWriter captures the final HTTP status code and number of bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Record implicit 200 responses when handlers write without calling WriteHeader.
func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func wrap(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrap(w)
		next.ServeHTTP(sw, r)
		s.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.RequestURI()),
			zap.Int("status", sw.status),
			zap.Int("bytes", sw.bytes),
			zap.Duration("dur", time.Since(start)),
		)
	})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrap(w)
		next.ServeHTTP(sw, r)
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, routeLabel(r.URL.Path), strconv.Itoa(status)}
		metrics.HTTPRequests.WithLabelValues(labels...).Inc()
		metrics.HTTPDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses job ids so the path label stays low-cardinality.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, "/v1/optimize/jobs/"); ok && rest != "" {
		if strings.HasSuffix(rest, "/ws") {
			return "/v1/optimize/jobs/{id}/ws"
		}
		return "/v1/optimize/jobs/{id}"
	}
	return path
}

func (s *Server) cors(next http.Handler) http.Handler {
	if len(s.Cfg.AllowOrigins) == 0 {
		return next
	}
	allowed := map[string]bool{}
	for _, o := range s.Cfg.AllowOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-Id")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// A bucket untouched for a full minute has refilled, so dropping it loses no
// state.
const tenantIdle = time.Minute

// defaultMaxTenants bounds the bucket map. Tenants beyond it share one bucket
// until idle ones are swept.
const defaultMaxTenants = 10000

type tenantBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// TenantLimiter is a token bucket per tenant refilled at perMinute.
type TenantLimiter struct {
	mu         sync.Mutex
	perMinute  int
	maxTenants int
	buckets    map[string]*tenantBucket
	overflow   *rate.Limiter
	lastSweep  time.Time
	now        func() time.Time
}

// NewTenantLimiter returns nil when perMinute is zero, which disables limiting.
func NewTenantLimiter(perMinute int) *TenantLimiter {
	if perMinute <= 0 {
		return nil
	}
	l := &TenantLimiter{
		perMinute:  perMinute,
		maxTenants: defaultMaxTenants,
		buckets:    map[string]*tenantBucket{},
		now:        time.Now,
	}
	l.overflow = l.newBucket()
	return l
}

func (l *TenantLimiter) newBucket() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
}

func (l *TenantLimiter) Allow(tenant string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= tenantIdle {
		l.sweep(now)
	}
	b, ok := l.buckets[tenant]
	if !ok && len(l.buckets) >= l.maxTenants {
		l.sweep(now)
	}
	var lim *rate.Limiter
	switch {
	case ok:
		b.seen = now
		lim = b.lim
	case len(l.buckets) < l.maxTenants:
		lim = l.newBucket()
		l.buckets[tenant] = &tenantBucket{lim: lim, seen: now}
	default:
		lim = l.overflow
	}
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

// Len reports the number of tracked tenants.
func (l *TenantLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops idle buckets. Callers hold l.mu.
func (l *TenantLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) >= tenantIdle {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

// rateLimit applies to the /v1 API only; probes and metrics are never limited.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		_, tenant := s.withTenant(r)
		if !s.Limiter.Allow(tenant) {
			w.Header().Set("Retry-After", "60")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded for tenant "+tenant, r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
