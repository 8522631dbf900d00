package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	Filter    FilterConfig    `yaml:"filter"`
	Policy    PolicyConfig    `yaml:"policy"`
	Routing   RoutingConfig   `yaml:"routing"`
	Cache     CacheConfig     `yaml:"cache"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Events    EventsConfig    `yaml:"events"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is postgres or memory. The memory store loses everything on exit.
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u.RawQuery = "sslmode=" + url.QueryEscape(sslMode)
	return u.String()
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return len(r.Addresses) > 0 && r.Addresses[0] != ""
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPath string `yaml:"metrics_path"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// DevActorID is used as the acting user when auth is disabled.
	DevActorID string        `yaml:"dev_actor_id"`
	KeyCacheTTL time.Duration `yaml:"key_cache_ttl"`
}

type FilterConfig struct {
	Secrets   SecretsFilterConfig   `yaml:"secrets"`
	Injection InjectionFilterConfig `yaml:"injection"`
}

type SecretsFilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type InjectionFilterConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BlockThreshold float64 `yaml:"block_threshold"`
	FlagThreshold  float64 `yaml:"flag_threshold"`
}

// PolicyConfig configures the Rego policy that decides who may edit a document.
type PolicyConfig struct {
	// BundlePath is a directory of .rego files. Empty uses the built-in policy.
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type RoutingConfig struct {
	DefaultProvider  string               `yaml:"default_provider"`
	FallbackProvider string               `yaml:"fallback_provider"`
	Timeout          time.Duration        `yaml:"timeout"`
	MaxAttempts      int                  `yaml:"max_attempts"`
	RetryBackoff     time.Duration        `yaml:"retry_backoff"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	ErrorRateThreshold    float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow       time.Duration `yaml:"error_rate_window"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is one of memory, redis or sqlite.
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MemorySize int           `yaml:"memory_size"`
	SQLitePath string        `yaml:"sqlite_path"`
	KeyPrefix  string        `yaml:"key_prefix"`
}

// Failed-call charging policies.
const (
	ChargeNone   = "none"
	ChargeTokens = "tokens"
)

type LedgerConfig struct {
	// Backend is one of memory or redis.
	Backend           string        `yaml:"backend"`
	RequestsPerWindow int64         `yaml:"requests_per_window"`
	RequestWindow     time.Duration `yaml:"request_window"`
	DailyTokens       int64         `yaml:"daily_tokens"`
	ChargeFailedCalls string        `yaml:"charge_failed_calls"`
}

type EventsConfig struct {
	LogEvents    bool   `yaml:"log_events"`
	RedisChannel string `yaml:"redis_channel"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Name:            "inkwell",
			User:            "inkwell",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPath: "/metrics",
		},
		Auth: AuthConfig{
			Enabled:     true,
			KeyCacheTTL: 5 * time.Minute,
		},
		Filter: FilterConfig{
			Secrets: SecretsFilterConfig{Enabled: true},
			Injection: InjectionFilterConfig{
				Enabled:        true,
				BlockThreshold: 0.9,
				FlagThreshold:  0.7,
			},
		},
		Policy: PolicyConfig{
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Routing: RoutingConfig{
			DefaultProvider: "openai",
			Timeout:         30 * time.Second,
			MaxAttempts:     3,
			RetryBackoff:    200 * time.Millisecond,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				ErrorRateThreshold:    0.5,
				ErrorRateWindow:       30 * time.Second,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			TTL:        time.Hour,
			MemorySize: 1024,
			SQLitePath: "inkwell-cache.db",
			KeyPrefix:  "inkwell:v1:",
		},
		Ledger: LedgerConfig{
			Backend:           "memory",
			RequestsPerWindow: 60,
			RequestWindow:     time.Minute,
			DailyTokens:       200000,
			ChargeFailedCalls: ChargeNone,
		},
		Events: EventsConfig{
			LogEvents: true,
		},
	}
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	if c.Routing.MaxAttempts < 1 {
		return fmt.Errorf("routing.max_attempts must be at least 1, got %d", c.Routing.MaxAttempts)
	}
	if c.Routing.Timeout <= 0 {
		return fmt.Errorf("routing.timeout must be positive")
	}
	switch c.Database.Driver {
	case "postgres":
	case "memory":
		if c.Auth.Enabled {
			return fmt.Errorf("auth.enabled requires database.driver postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not one of postgres, memory", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, redis, sqlite", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when the cache is enabled")
	}
	switch c.Ledger.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("ledger.backend %q is not one of memory, redis", c.Ledger.Backend)
	}
	if c.Ledger.RequestsPerWindow < 0 || c.Ledger.DailyTokens < 0 {
		return fmt.Errorf("ledger limits must not be negative")
	}
	if c.Ledger.RequestsPerWindow > 0 && c.Ledger.RequestWindow <= 0 {
		return fmt.Errorf("ledger.request_window must be positive")
	}
	switch c.Ledger.ChargeFailedCalls {
	case ChargeNone, ChargeTokens:
	default:
		return fmt.Errorf("ledger.charge_failed_calls %q is not one of none, tokens", c.Ledger.ChargeFailedCalls)
	}
	return nil
}
