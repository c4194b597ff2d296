// Package config loads the gateway configuration from lms-gateway.yaml and
// LMSGW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lms-gateway/middleware/ratelimit/domain"
)

// Config is the full gateway configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	UpstreamURL       string        `mapstructure:"upstream_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the counter store backend: memory, redis or postgres.
type StoreConfig struct {
	Backend      string        `mapstructure:"backend"`
	CleanupEvery time.Duration `mapstructure:"cleanup_every"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type RateLimitConfig struct {
	TrustXFF      bool                    `mapstructure:"trust_xff"`
	ClientHeader  string                  `mapstructure:"client_header"`
	AddHeaders    bool                    `mapstructure:"add_headers"`
	ErrorLogEvery time.Duration           `mapstructure:"error_log_every"`
	Policies      map[string]PolicyConfig `mapstructure:"policies"`
}

// PolicyConfig mirrors domain.Policy with the window in milliseconds.
type PolicyConfig struct {
	WindowMs               int64  `mapstructure:"window_ms"`
	Max                    int    `mapstructure:"max"`
	Message                string `mapstructure:"message"`
	SkipSuccessfulRequests bool   `mapstructure:"skip_successful_requests"`
	SkipFailedRequests     bool   `mapstructure:"skip_failed_requests"`
}

// StatsConfig selects the stats sink: none, memory, redis or prometheus.
type StatsConfig struct {
	Backend   string        `mapstructure:"backend"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	Bucket    string        `mapstructure:"bucket"`
	TrackKeys bool          `mapstructure:"track_keys"`

	// MaxEntries bounds the distinct routes and keys of the memory backend.
	MaxEntries int `mapstructure:"max_entries"`
}

type ConcurrencyConfig struct {
	Max            int           `mapstructure:"max"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const EnvPrefix = "LMSGW"

// maxWindowMs is the largest window_ms that still fits a time.Duration.
const maxWindowMs = math.MaxInt64 / int64(time.Millisecond)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.upstream_url", "")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.cleanup_every", time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ratelimit")
	v.SetDefault("redis.dial_timeout", 2*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "rate_limit_counters")

	v.SetDefault("ratelimit.trust_xff", false)
	v.SetDefault("ratelimit.client_header", "")
	v.SetDefault("ratelimit.add_headers", false)
	v.SetDefault("ratelimit.error_log_every", 5*time.Second)

	v.SetDefault("ratelimit.policies.auth.window_ms", 15*60*1000)
	v.SetDefault("ratelimit.policies.auth.max", 5)
	v.SetDefault("ratelimit.policies.auth.message", "Too many authentication attempts, please try again later.")
	v.SetDefault("ratelimit.policies.general.window_ms", 15*60*1000)
	v.SetDefault("ratelimit.policies.general.max", 100)
	v.SetDefault("ratelimit.policies.general.message", "Too many requests from this IP, please try again later.")
	v.SetDefault("ratelimit.policies.strict.window_ms", 60*1000)
	v.SetDefault("ratelimit.policies.strict.max", 10)
	v.SetDefault("ratelimit.policies.strict.message", "Rate limit exceeded, please slow down")

	v.SetDefault("stats.backend", "none")
	v.SetDefault("stats.prefix", "ratelimit:stats")
	v.SetDefault("stats.ttl", 24*time.Hour)
	v.SetDefault("stats.bucket", "minute")
	v.SetDefault("stats.track_keys", false)
	v.SetDefault("stats.max_entries", 1000)

	v.SetDefault("concurrency.max", 100)
	v.SetDefault("concurrency.acquire_timeout", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads path when given, otherwise lms-gateway.yaml from the working
// directory or /etc/lms-gateway when present. Environment variables
// (LMSGW_SERVER_UPSTREAM_URL, LMSGW_RATELIMIT_POLICIES_AUTH_MAX, ...) win
// over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lms-gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lms-gateway")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything that would otherwise fail at request time.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr is required when store.backend=redis")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			return errors.New("postgres.dsn is required when store.backend=postgres")
		}
	default:
		return fmt.Errorf("store.backend must be memory, redis or postgres, got %q", c.Store.Backend)
	}

	switch c.Stats.Backend {
	case "none", "memory", "prometheus":
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr is required when stats.backend=redis")
		}
	default:
		return fmt.Errorf("stats.backend must be none, memory, redis or prometheus, got %q", c.Stats.Backend)
	}

	if c.Concurrency.Max < 0 {
		return errors.New("concurrency.max must be >= 0")
	}

	if _, err := c.Policies(); err != nil {
		return err
	}
	return nil
}

// Upstream parses server.upstream_url.
func (c *Config) Upstream() (*url.URL, error) {
	if strings.TrimSpace(c.Server.UpstreamURL) == "" {
		return nil, errors.New("server.upstream_url is required")
	}
	u, err := url.Parse(c.Server.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server.upstream_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server.upstream_url %q: scheme and host are required", c.Server.UpstreamURL)
	}
	return u, nil
}

// Policies builds the configured policies, sorted by name. Any invalid entry
// fails with an error wrapping domain.ErrInvalidPolicy.
func (c *Config) Policies() ([]domain.Policy, error) {
	names := make([]string, 0, len(c.RateLimit.Policies))
	for name := range c.RateLimit.Policies {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.Policy, 0, len(names))
	for _, name := range names {
		pc := c.RateLimit.Policies[name]
		if pc.WindowMs > maxWindowMs {
			return nil, fmt.Errorf("%w: policy %q: window_ms %d is out of range", domain.ErrInvalidPolicy, name, pc.WindowMs)
		}
		p, err := domain.NewPolicy(name, time.Duration(pc.WindowMs)*time.Millisecond, pc.Max, pc.Message,
			domain.WithSkipSuccessfulRequests(pc.SkipSuccessfulRequests),
			domain.WithSkipFailedRequests(pc.SkipFailedRequests),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
