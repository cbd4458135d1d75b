package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func clearDashboardEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "STATS_BASE_URL", "FETCH_TIMEOUT",
		"FETCH_ATTEMPTS", "FETCH_RPS", "VALIDATOR_UIDS", "DEFAULT_VALIDATOR",
		"SCORE_BATCH_SIZE", "SESSION_TTL", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST",
		"SHARED_CACHE_TTL", "TRUSTED_PROXIES", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		setEnv(t, k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearDashboardEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultStatsBaseURL, cfg.StatsBaseURL)
	assert.Equal(t, []string{"3"}, cfg.ValidatorUIDs)
	assert.Equal(t, "3", cfg.DefaultValidator)
	assert.Equal(t, 1, cfg.FetchAttempts)
	assert.Equal(t, DefaultScoreBatchSize, cfg.ScoreBatchSize)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultFetchTimeout, cfg.FetchTimeout)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Equal(t, DefaultRateLimitBurst, cfg.RateLimitBurst)
	assert.Equal(t, DefaultSharedCacheTTL, cfg.SharedCacheTTL)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoad_Overrides(t *testing.T) {
	clearDashboardEnv(t)
	setEnv(t, "PORT", "9090")
	setEnv(t, "STATS_BASE_URL", "http://localhost:8000/")
	setEnv(t, "VALIDATOR_UIDS", "3, 7,,3, 12")
	setEnv(t, "FETCH_TIMEOUT", "5s")
	setEnv(t, "FETCH_ATTEMPTS", "3")
	setEnv(t, "SCORE_BATCH_SIZE", "0")
	setEnv(t, "SESSION_TTL", "2h")
	setEnv(t, "TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://localhost:8000", cfg.StatsBaseURL, "trailing slash trimmed")
	assert.Equal(t, []string{"3", "7", "12"}, cfg.ValidatorUIDs)
	assert.Equal(t, "3", cfg.DefaultValidator)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 3, cfg.FetchAttempts)
	assert.Equal(t, 0, cfg.ScoreBatchSize)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
}

func TestLoad_DefaultValidatorFallsBackToFirstListed(t *testing.T) {
	clearDashboardEnv(t)
	setEnv(t, "VALIDATOR_UIDS", "7,12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7", cfg.DefaultValidator)
}

func TestLoad_DefaultValidatorNotListed(t *testing.T) {
	clearDashboardEnv(t)
	setEnv(t, "VALIDATOR_UIDS", "7,12")
	setEnv(t, "DEFAULT_VALIDATOR", "3")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not in VALIDATOR_UIDS")
}

func validConfig() Config {
	return Config{
		StatsBaseURL:     DefaultStatsBaseURL,
		ValidatorUIDs:    []string{"3"},
		DefaultValidator: "3",
		FetchAttempts:    1,
		FetchTimeout:     time.Second,
		ScoreBatchSize:   10,
		SessionTTL:       time.Hour,
		SharedCacheTTL:   time.Minute,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing base URL",
			mutate:  func(c *Config) { c.StatsBaseURL = "" },
			wantErr: "STATS_BASE_URL is required",
		},
		{
			name:    "relative base URL",
			mutate:  func(c *Config) { c.StatsBaseURL = "logicnet.aitprotocol.ai" },
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "no validators",
			mutate:  func(c *Config) { c.ValidatorUIDs = nil },
			wantErr: "at least one validator",
		},
		{
			name:    "non-numeric validator",
			mutate:  func(c *Config) { c.ValidatorUIDs = []string{"3", "main"} },
			wantErr: `"main" is not a uid`,
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.RateLimitRPM = -1 },
			wantErr: "RATE_LIMIT_RPM",
		},
		{
			name:    "too many attempts",
			mutate:  func(c *Config) { c.FetchAttempts = 9 },
			wantErr: "FETCH_ATTEMPTS",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.FetchAttempts = 0 },
			wantErr: "FETCH_ATTEMPTS",
		},
		{
			name:    "negative batch size",
			mutate:  func(c *Config) { c.ScoreBatchSize = -1 },
			wantErr: "SCORE_BATCH_SIZE",
		},
		{
			name:    "negative rps",
			mutate:  func(c *Config) { c.FetchRPS = -1 },
			wantErr: "FETCH_RPS",
		},
		{
			name:    "short session ttl",
			mutate:  func(c *Config) { c.SessionTTL = time.Second },
			wantErr: "SESSION_TTL",
		},
		{
			name:    "zero shared cache ttl",
			mutate:  func(c *Config) { c.SharedCacheTTL = 0 },
			wantErr: "SHARED_CACHE_TTL",
		},
		{
			name:   "trusted proxy cidr",
			mutate: func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "::1"} },
		},
		{
			name:    "trusted proxy hostname",
			mutate:  func(c *Config) { c.TrustedProxies = []string{"lb.internal"} },
			wantErr: "TRUSTED_PROXIES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_BAD", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DUR_BAD", time.Second))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,b,a,, "))
	assert.Nil(t, splitList(""))
}
