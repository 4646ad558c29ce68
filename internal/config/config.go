package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "OMNIROUTE"

// Config is the service configuration. Every key can be set from the
// environment as OMNIROUTE_<KEY> or as the bare key (PORT, DATABASE_URL, ...),
// or from a YAML file named by OMNIROUTE_CONFIG.
type Config struct {
	Port               string        `mapstructure:"port"`
	AppEnv             string        `mapstructure:"app_env"`
	DatabaseURL        string        `mapstructure:"database_url"`
	DBMigrate          bool          `mapstructure:"db_migrate"`
	MigrationsDir      string        `mapstructure:"migrations_dir"`
	RedisURL           string        `mapstructure:"redis_url"`
	KafkaBrokers       []string      `mapstructure:"kafka_brokers"`
	KafkaTopic         string        `mapstructure:"kafka_topic"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	SolveTimeout       time.Duration `mapstructure:"solve_timeout"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	MatrixCacheSize    int           `mapstructure:"matrix_cache_size"`
	AllowOrigins       []string      `mapstructure:"allow_origins"`
}

var keys = []string{
	"port", "app_env", "database_url", "db_migrate", "migrations_dir", "redis_url",
	"kafka_brokers", "kafka_topic", "rate_limit_per_minute", "solve_timeout",
	"cache_ttl", "matrix_cache_size", "allow_origins",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("app_env", "development")
	v.SetDefault("db_migrate", true)
	v.SetDefault("migrations_dir", "db/migrations")
	v.SetDefault("kafka_topic", "optimization.events")
	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("solve_timeout", 30*time.Second)
	v.SetDefault("cache_ttl", time.Hour)
	v.SetDefault("matrix_cache_size", 128)
}

// Load reads configuration from the environment and the optional config file.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom is Load on a caller-supplied viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		// prefixed first, then the bare name used by container platforms
		if err := v.BindEnv(k, envPrefix+"_"+strings.ToUpper(k), strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}
	if err := v.BindEnv("config_file", envPrefix+"_CONFIG"); err != nil {
		return nil, err
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:               v.GetString("port"),
		AppEnv:             v.GetString("app_env"),
		DatabaseURL:        strings.TrimSpace(v.GetString("database_url")),
		DBMigrate:          v.GetBool("db_migrate"),
		MigrationsDir:      v.GetString("migrations_dir"),
		RedisURL:           strings.TrimSpace(v.GetString("redis_url")),
		KafkaBrokers:       splitList(v.GetStringSlice("kafka_brokers")),
		KafkaTopic:         v.GetString("kafka_topic"),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),
		SolveTimeout:       v.GetDuration("solve_timeout"),
		CacheTTL:           v.GetDuration("cache_ttl"),
		MatrixCacheSize:    v.GetInt("matrix_cache_size"),
		AllowOrigins:       splitList(v.GetStringSlice("allow_origins")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: rate_limit_per_minute must be >= 0, got %d", c.RateLimitPerMinute)
	}
	if c.SolveTimeout <= 0 {
		return fmt.Errorf("config: solve_timeout must be positive, got %s", c.SolveTimeout)
	}
	return nil
}

// Addr is the listen address for Port.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
