package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, 30*time.Second, cfg.SolveTimeout)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "optimization.events", cfg.KafkaTopic)
	assert.True(t, cfg.DBMigrate)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OMNIROUTE_PORT", "9090")
	t.Setenv("DATABASE_URL", " postgres://u:p@db:5432/omniroute ")
	t.Setenv("OMNIROUTE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("OMNIROUTE_SOLVE_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://u:p@db:5432/omniroute", cfg.DatabaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.SolveTimeout)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omniroute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
redis_url: redis://cache:6379/0
kafka_brokers: [a:9092, b:9092]
cache_ttl: 10m
`), 0o600))
	t.Setenv("OMNIROUTE_CONFIG", path)

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("OMNIROUTE_SOLVE_TIMEOUT", "0s")
	_, err := LoadFrom(viper.New())
	assert.ErrorContains(t, err, "solve_timeout")

	t.Setenv("OMNIROUTE_SOLVE_TIMEOUT", "1s")
	t.Setenv("OMNIROUTE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = LoadFrom(viper.New())
	assert.Error(t, err)
}
