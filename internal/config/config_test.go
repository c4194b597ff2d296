package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/middleware/ratelimit/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lms-gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "none", cfg.Stats.Backend)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.ErrorLogEvery)
	assert.Equal(t, 1000, cfg.Stats.MaxEntries)

	policies, err := cfg.Policies()
	require.NoError(t, err)
	require.Len(t, policies, 3)
	assert.Equal(t, []string{"auth", "general", "strict"}, []string{policies[0].Name, policies[1].Name, policies[2].Name})

	strict := policies[2]
	assert.Equal(t, time.Minute, strict.Window)
	assert.Equal(t, 10, strict.Max)
	assert.Equal(t, "Rate limit exceeded, please slow down", strict.Message)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
  upstream_url: "http://lms-api:3000"
store:
  backend: redis
redis:
  addr: "redis:6379"
ratelimit:
  trust_xff: true
  policies:
    strict:
      window_ms: 30000
      max: 3
      message: "slow down"
      skip_failed_requests: true
stats:
  backend: prometheus
`)
	t.Setenv("LMSGW_RATELIMIT_POLICIES_AUTH_MAX", "2")
	t.Setenv("LMSGW_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.RateLimit.TrustXFF)
	assert.Equal(t, "prometheus", cfg.Stats.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)

	policies, err := cfg.Policies()
	require.NoError(t, err)
	byName := map[string]domain.Policy{}
	for _, p := range policies {
		byName[p.Name] = p
	}
	assert.Equal(t, 2, byName["auth"].Max)
	assert.Equal(t, 30*time.Second, byName["strict"].Window)
	assert.Equal(t, 3, byName["strict"].Max)
	assert.True(t, byName["strict"].SkipFailedRequests)

	u, err := cfg.Upstream()
	require.NoError(t, err)
	assert.Equal(t, "lms-api:3000", u.Host)
}

func TestLoad_InvalidPolicyFailsFast(t *testing.T) {
	path := writeConfig(t, `
ratelimit:
  policies:
    strict:
      window_ms: 0
      max: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestPolicies_RejectsWindowThatOverflowsDuration(t *testing.T) {
	for _, ms := range []int64{maxWindowMs + 1, 18446744073709, math.MaxInt64} {
		cfg := Config{RateLimit: RateLimitConfig{Policies: map[string]PolicyConfig{
			"auth": {WindowMs: ms, Max: 5},
		}}}
		_, err := cfg.Policies()
		assert.ErrorIs(t, err, domain.ErrInvalidPolicy, "window_ms=%d", ms)
	}

	cfg := Config{RateLimit: RateLimitConfig{Policies: map[string]PolicyConfig{
		"auth": {WindowMs: maxWindowMs, Max: 5},
	}}}
	policies, err := cfg.Policies()
	require.NoError(t, err)
	assert.Positive(t, policies[0].Window)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Backends(t *testing.T) {
	base := func() *Config {
		return &Config{
			Store: StoreConfig{Backend: "memory"},
			Stats: StatsConfig{Backend: "none"},
		}
	}

	c := base()
	assert.NoError(t, c.Validate())

	c = base()
	c.Store.Backend = "etcd"
	assert.Error(t, c.Validate())

	c = base()
	c.Store.Backend = "postgres"
	assert.Error(t, c.Validate(), "dsn is required")

	c = base()
	c.Stats.Backend = "statsd"
	assert.Error(t, c.Validate())

	c = base()
	c.Concurrency.Max = -1
	assert.Error(t, c.Validate())
}

func TestUpstream_Invalid(t *testing.T) {
	c := &Config{}
	_, err := c.Upstream()
	assert.Error(t, err)

	c.Server.UpstreamURL = "lms-api"
	_, err = c.Upstream()
	assert.Error(t, err)
}
