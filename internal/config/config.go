package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/antoniostano/piiguard/internal/logging"
)

// Config contains all runtime settings for the redaction service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SurfaceInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool
	MaxBodyBytes   int

	DetectDebounce      time.Duration
	DetectRemoteTimeout time.Duration
	DetectHeuristics    bool

	// DatabaseURL selects the policy store: empty or "memory", a postgres://
	// URL, or sqlite://path.
	DatabaseURL string
	PolicyFile  string
	CollabURL   string

	LogLevel  string
	LogFormat string
}

// Load reads environment variables, seeded from a .env file when present,
// and applies safe defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "piiguard"),
		AllowAnyOrigin:           false,
		MaxBodyBytes:             1 << 20,
		DetectHeuristics:         true,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		PolicyFile:               stringsTrimSpace("POLICY_FILE"),
		CollabURL:                stringsTrimSpace("COLLAB_URL"),
		LogLevel:                 envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                envOrDefault("LOG_FORMAT", "text"),
		ShutdownTimeout:          15 * time.Second,
		SurfaceInactivityTimeout: 30 * time.Minute,
		DetectDebounce:           300 * time.Millisecond,
		DetectRemoteTimeout:      3 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SurfaceInactivityTimeout, err = durationFromEnv("APP_SURFACE_INACTIVITY_TIMEOUT", cfg.SurfaceInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DetectDebounce, err = durationFromEnv("DETECT_DEBOUNCE", cfg.DetectDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.DetectRemoteTimeout, err = durationFromEnv("DETECT_REMOTE_TIMEOUT", cfg.DetectRemoteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes, err = intFromEnv("APP_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.DetectHeuristics, err = boolFromEnv("DETECT_HEURISTICS", cfg.DetectHeuristics)
	if err != nil {
		return Config{}, err
	}

	if cfg.SurfaceInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SURFACE_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_BODY_BYTES must be positive")
	}
	if cfg.DetectDebounce <= 0 {
		return Config{}, fmt.Errorf("DETECT_DEBOUNCE must be positive")
	}
	if cfg.DetectRemoteTimeout <= 0 {
		return Config{}, fmt.Errorf("DETECT_REMOTE_TIMEOUT must be positive")
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := logging.ParseFormat(cfg.LogFormat); err != nil {
		return Config{}, fmt.Errorf("LOG_FORMAT: %w", err)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
