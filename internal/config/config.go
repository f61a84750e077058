// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ashita-ai/keiro/internal/reliability"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.

	// Reliability engine tuning. Defaults come from reliability.DefaultConfig.
	DecayFactor        float64
	SuccessWeight      float64
	ConfidenceWeight   float64
	SpeedWeight        float64
	MinDataPoints      int
	DefaultReliability float64
	MemorySize         int
	WindowSize         time.Duration
	MinReliabilityDiff float64
	CacheValidity      time.Duration
	MaxPairs           int

	// Background maintenance.
	PruneInterval time.Duration

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// API keyring: comma-separated client_id:role:argon2hash entries.
	// Empty disables authentication entirely.
	APIKeys string

	// Rate limiting.
	RateLimitEnabled bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel        string
	EventBufferSize int // Per-subscriber buffer for the outcome event stream.
}

// Load reads configuration from environment variables with sensible defaults.
// Parse failures are collected so a broken deployment reports every bad
// variable at once instead of one per restart.
func Load() (Config, error) {
	var l loader
	eng := reliability.DefaultConfig()

	cfg := Config{
		Port:                l.intVal("KEIRO_PORT", 8080),
		ReadTimeout:         l.durationVal("KEIRO_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        l.durationVal("KEIRO_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes: int64(l.intVal("KEIRO_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default

		DecayFactor:        l.floatVal("KEIRO_DECAY_FACTOR", eng.DecayFactor),
		SuccessWeight:      l.floatVal("KEIRO_SUCCESS_WEIGHT", eng.SuccessWeight),
		ConfidenceWeight:   l.floatVal("KEIRO_CONFIDENCE_WEIGHT", eng.ConfidenceWeight),
		SpeedWeight:        l.floatVal("KEIRO_SPEED_WEIGHT", eng.SpeedWeight),
		MinDataPoints:      l.intVal("KEIRO_MIN_DATA_POINTS", eng.MinDataPoints),
		DefaultReliability: l.floatVal("KEIRO_DEFAULT_RELIABILITY", eng.DefaultReliability),
		MemorySize:         l.intVal("KEIRO_MEMORY_SIZE", eng.MemorySize),
		WindowSize:         l.durationVal("KEIRO_WINDOW_SIZE", eng.WindowSize),
		MinReliabilityDiff: l.floatVal("KEIRO_MIN_RELIABILITY_DIFF", eng.MinReliabilityDiff),
		CacheValidity:      l.durationVal("KEIRO_CACHE_VALIDITY", eng.CacheValidity),
		MaxPairs:           l.intVal("KEIRO_MAX_PAIRS", eng.MaxPairs),

		PruneInterval: l.durationVal("KEIRO_PRUNE_INTERVAL", time.Hour),

		JWTPrivateKeyPath: envStr("KEIRO_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("KEIRO_JWT_PUBLIC_KEY", ""),
		JWTExpiration:     l.durationVal("KEIRO_JWT_EXPIRATION", 24*time.Hour),

		APIKeys: envStr("KEIRO_API_KEYS", ""),

		RateLimitEnabled: l.boolVal("KEIRO_RATE_LIMIT_ENABLED", true),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: l.boolVal("KEIRO_OTEL_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "keiro"),

		LogLevel:        envStr("KEIRO_LOG_LEVEL", "info"),
		EventBufferSize: l.intVal("KEIRO_EVENT_BUFFER_SIZE", 64),
	}

	if len(l.errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(l.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EngineConfig assembles the reliability engine tuning from the loaded values.
func (c Config) EngineConfig() reliability.Config {
	return reliability.Config{
		DecayFactor:        c.DecayFactor,
		SuccessWeight:      c.SuccessWeight,
		ConfidenceWeight:   c.ConfidenceWeight,
		SpeedWeight:        c.SpeedWeight,
		MinDataPoints:      c.MinDataPoints,
		DefaultReliability: c.DefaultReliability,
		MemorySize:         c.MemorySize,
		WindowSize:         c.WindowSize,
		MinReliabilityDiff: c.MinReliabilityDiff,
		CacheValidity:      c.CacheValidity,
		MaxPairs:           c.MaxPairs,
	}
}

// Validate checks that the loaded configuration is usable. Engine tuning is
// validated through reliability.Config, so a bad parameter fails startup.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: KEIRO_PORT must be in 1..65535, got %d", c.Port)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KEIRO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("config: KEIRO_PRUNE_INTERVAL must be positive")
	}
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("config: KEIRO_JWT_EXPIRATION must be positive")
	}
	if c.EventBufferSize < 1 {
		return fmt.Errorf("config: KEIRO_EVENT_BUFFER_SIZE must be at least 1")
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// loader accumulates env parse errors so Load can report them all at once.
type loader struct {
	errs []error
}

func (l *loader) intVal(key string, def int) int {
	v, err := envInt(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) floatVal(key string, def float64) float64 {
	v, err := envFloat(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) boolVal(key string, def bool) bool {
	v, err := envBool(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) durationVal(key string, def time.Duration) time.Duration {
	v, err := envDuration(key, def)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
