package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.DetectDebounce != 300*time.Millisecond {
		t.Fatalf("DetectDebounce = %v, want 300ms", cfg.DetectDebounce)
	}
	if !cfg.DetectHeuristics {
		t.Fatalf("DetectHeuristics = false, want true by default")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.MetricsNamespace != "piiguard" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "piiguard")
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DETECT_DEBOUNCE", "150ms")
	t.Setenv("DETECT_HEURISTICS", "off")
	t.Setenv("DATABASE_URL", " sqlite:///tmp/pii.db ")
	t.Setenv("COLLAB_URL", "http://localhost:7777/collab")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DetectDebounce != 150*time.Millisecond {
		t.Fatalf("DetectDebounce = %v, want 150ms", cfg.DetectDebounce)
	}
	if cfg.DetectHeuristics {
		t.Fatalf("DetectHeuristics = true, want false")
	}
	if cfg.DatabaseURL != "sqlite:///tmp/pii.db" {
		t.Fatalf("DatabaseURL = %q, want trimmed value", cfg.DatabaseURL)
	}
	if cfg.CollabURL != "http://localhost:7777/collab" {
		t.Fatalf("CollabURL = %q", cfg.CollabURL)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_SURFACE_INACTIVITY_TIMEOUT": "1s",
		"DETECT_DEBOUNCE":                "soon",
		"DETECT_REMOTE_TIMEOUT":          "0s",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
		"APP_MAX_BODY_BYTES":             "-1",
		"LOG_LEVEL":                      "verbose",
		"LOG_FORMAT":                     "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SURFACE_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_MAX_BODY_BYTES",
		"DETECT_DEBOUNCE",
		"DETECT_REMOTE_TIMEOUT",
		"DETECT_HEURISTICS",
		"DATABASE_URL",
		"POLICY_FILE",
		"COLLAB_URL",
		"LOG_LEVEL",
		"LOG_FORMAT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
