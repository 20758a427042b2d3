// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the presence relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort               = ":8080"
	defaultEnv                = "development"
	defaultLogLevel           = "info"
	defaultStaticDir          = "public"
	defaultMaxMessageSize     = 64 * 1024
	defaultRateBurst          = 20
	defaultRateRefill         = time.Second
	defaultReaperInterval     = 60 * time.Second
	defaultPresenceTTL        = 5 * time.Minute
	defaultThreadHistoryLimit = 100
)

// RateLimitConfig defines the parameters for per-connection envelope rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// ReaperConfig controls the idle presence sweep.
type ReaperConfig struct {
	Interval time.Duration
	// PresenceTTL is how long a presence record may go without a refresh
	// before the sweep probes or evicts it.
	PresenceTTL time.Duration
	// AnnounceEvictions broadcasts user_offline and the roster after an
	// eviction, the same way an explicit disconnect does.
	AnnounceEvictions bool
}

// Config holds the server configuration settings.
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	StaticDir          string
	AllowedOrigins     []string
	MaxMessageSize     int64
	RateLimit          RateLimitConfig
	Reaper             ReaperConfig
	ThreadHistoryLimit int
}

func defaultConfig() Config {
	return Config{
		Port:           defaultPort,
		Env:            defaultEnv,
		LogLevel:       defaultLogLevel,
		StaticDir:      defaultStaticDir,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: defaultRateRefill,
		},
		Reaper: ReaperConfig{
			Interval:    defaultReaperInterval,
			PresenceTTL: defaultPresenceTTL,
		},
		ThreadHistoryLimit: defaultThreadHistoryLimit,
	}
}

// sanitize replaces missing or non-positive settings with their defaults.
func (c Config) sanitize() Config {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.Env == "" {
		c.Env = defaultEnv
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.StaticDir == "" {
		c.StaticDir = defaultStaticDir
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultRateBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRateRefill
	}
	if c.Reaper.Interval <= 0 {
		c.Reaper.Interval = defaultReaperInterval
	}
	if c.Reaper.PresenceTTL <= 0 {
		c.Reaper.PresenceTTL = defaultPresenceTTL
	}
	if c.ThreadHistoryLimit <= 0 {
		c.ThreadHistoryLimit = defaultThreadHistoryLimit
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// ApplyDefaults sanitizes c in place, for callers that edit a loaded
// Config (from flags, say) before using it.
func (c *Config) ApplyDefaults() {
	*c = c.sanitize()
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// A .env file in the working directory is loaded first if present.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if interval := os.Getenv("REAPER_INTERVAL"); interval != "" {
		cfg.Reaper.Interval = parseDuration(interval, cfg.Reaper.Interval)
	}

	if ttl := os.Getenv("PRESENCE_TTL"); ttl != "" {
		cfg.Reaper.PresenceTTL = parseDuration(ttl, cfg.Reaper.PresenceTTL)
	}

	if announce := os.Getenv("REAPER_ANNOUNCE_EVICTIONS"); announce != "" {
		cfg.Reaper.AnnounceEvictions = parseBool(announce, false)
	}

	if limit := os.Getenv("THREAD_HISTORY_LIMIT"); limit != "" {
		cfg.ThreadHistoryLimit = parseIntValue(limit, cfg.ThreadHistoryLimit)
	}

	sanitized := cfg.sanitize()
	return &sanitized
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts either a Go duration string ("90s", "5m") or a bare
// number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}
