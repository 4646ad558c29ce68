package api

import (
	"net/http"
	"time"

	"omniroute/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                  s.Cfg.Port,
			"APP_ENV":               s.Cfg.AppEnv,
			"ALLOW_ORIGINS":         s.Cfg.AllowOrigins,
			"RATE_LIMIT_PER_MINUTE": s.Cfg.RateLimitPerMinute,
			"SOLVE_TIMEOUT":         s.Cfg.SolveTimeout.String(),
			"CACHE_TTL":             s.Cfg.CacheTTL.String(),
			"KAFKA_TOPIC":           s.Cfg.KafkaTopic,
			"HAS_DATABASE_URL":      s.Cfg.DatabaseURL != "",
			"HAS_REDIS_URL":         s.Cfg.RedisURL != "",
			"HAS_KAFKA_BROKERS":     len(s.Cfg.KafkaBrokers) > 0,
		},
	}
	writeJSON(w, http.StatusOK, info)
}
