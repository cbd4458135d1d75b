// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aitprotocol/logicnet-dashboard/internal/validation"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Validator proxy
	StatsBaseURL  string
	FetchTimeout  time.Duration
	FetchAttempts int     // 1 = no retry
	FetchRPS      float64 // outbound request pacing, 0 disables

	// Dashboard
	ValidatorUIDs    []string // closed list offered by the selector
	DefaultValidator string
	ScoreBatchSize   int // divisor for mean score, 0 = number of scores
	SessionTTL       time.Duration
	SharedCacheTTL   time.Duration // snapshot lifetime for API callers without a session

	// Inbound rate limiting per client IP, 0 RPM disables
	RateLimitRPM   int
	RateLimitBurst int
	TrustedProxies []string // proxies whose X-Forwarded-For is believed, none by default

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultStatsBaseURL   = "https://logicnet.aitprotocol.ai"
	DefaultFetchTimeout   = 30 * time.Second
	DefaultFetchAttempts  = 1
	DefaultFetchRPS       = 2.0
	DefaultValidatorUIDs  = "3"
	DefaultValidator      = "3"
	DefaultScoreBatchSize = 10
	DefaultSessionTTL     = 30 * time.Minute
	DefaultSharedCacheTTL = time.Minute
	DefaultRateLimitRPM   = 120
	DefaultRateLimitBurst = 20
	MaxFetchAttempts      = 5
	minimumSessionTTL     = time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		StatsBaseURL:     strings.TrimRight(getEnv("STATS_BASE_URL", DefaultStatsBaseURL), "/"),
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", DefaultFetchTimeout),
		FetchAttempts:    int(getEnvInt64("FETCH_ATTEMPTS", DefaultFetchAttempts)),
		FetchRPS:         getEnvFloat("FETCH_RPS", DefaultFetchRPS),
		ValidatorUIDs:    splitList(getEnv("VALIDATOR_UIDS", DefaultValidatorUIDs)),
		DefaultValidator: os.Getenv("DEFAULT_VALIDATOR"),
		ScoreBatchSize:   int(getEnvInt64("SCORE_BATCH_SIZE", DefaultScoreBatchSize)),
		SessionTTL:       getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		SharedCacheTTL:   getEnvDuration("SHARED_CACHE_TTL", DefaultSharedCacheTTL),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:   int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		TrustedProxies:   splitList(os.Getenv("TRUSTED_PROXIES")),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.DefaultValidator == "" {
		cfg.DefaultValidator = DefaultValidator
		if len(cfg.ValidatorUIDs) > 0 && !slices.Contains(cfg.ValidatorUIDs, DefaultValidator) {
			cfg.DefaultValidator = cfg.ValidatorUIDs[0]
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StatsBaseURL == "" {
		return fmt.Errorf("STATS_BASE_URL is required")
	}
	u, err := url.Parse(c.StatsBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("STATS_BASE_URL must be an absolute http(s) URL")
	}

	if len(c.ValidatorUIDs) == 0 {
		return fmt.Errorf("VALIDATOR_UIDS must list at least one validator")
	}
	for _, uid := range c.ValidatorUIDs {
		if !validation.IsValidUID(uid) {
			return fmt.Errorf("VALIDATOR_UIDS entry %q is not a uid", uid)
		}
	}
	if !slices.Contains(c.ValidatorUIDs, c.DefaultValidator) {
		return fmt.Errorf("DEFAULT_VALIDATOR %q is not in VALIDATOR_UIDS", c.DefaultValidator)
	}

	if c.FetchAttempts < 1 || c.FetchAttempts > MaxFetchAttempts {
		return fmt.Errorf("FETCH_ATTEMPTS must be between 1 and %d", MaxFetchAttempts)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.FetchRPS < 0 {
		return fmt.Errorf("FETCH_RPS must not be negative")
	}
	if c.ScoreBatchSize < 0 {
		return fmt.Errorf("SCORE_BATCH_SIZE must not be negative")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}
	if c.SessionTTL < minimumSessionTTL {
		return fmt.Errorf("SESSION_TTL must be at least %s", minimumSessionTTL)
	}
	if c.SharedCacheTTL <= 0 {
		return fmt.Errorf("SHARED_CACHE_TTL must be positive")
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func validProxy(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// splitList parses a comma separated list, dropping blanks and duplicates.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}
