package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Fill.Workers != nil || cfg.Log.Level != nil {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[fill]
interpolation = "nearest"
workers = 8
metrics-file = "/tmp/tsbatch.prom"

[import]
alternative = "Weather"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Log.Level == nil || *cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %v", cfg.Log.Level)
	}
	if cfg.Log.Format != nil {
		t.Fatalf("format should be unset")
	}
	if cfg.Fill.Interpolation == nil || *cfg.Fill.Interpolation != "nearest" {
		t.Fatalf("unexpected interpolation: %v", cfg.Fill.Interpolation)
	}
	if cfg.Fill.Workers == nil || *cfg.Fill.Workers != 8 {
		t.Fatalf("unexpected workers: %v", cfg.Fill.Workers)
	}
	if cfg.Fill.MetricsFile == nil || *cfg.Fill.MetricsFile != "/tmp/tsbatch.prom" {
		t.Fatalf("unexpected metrics file: %v", cfg.Fill.MetricsFile)
	}
	if cfg.Import.Alternative == nil || *cfg.Import.Alternative != "Weather" {
		t.Fatalf("unexpected alternative: %v", cfg.Import.Alternative)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("TSBATCH_FILL_WORKERS", "3")
	t.Setenv("TSBATCH_LOG_FORMAT", "json")
	path := writeConfig(t, `
[fill]
workers = 8
interpolation = "linear"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Fill.Workers == nil || *cfg.Fill.Workers != 3 {
		t.Fatalf("expected env workers 3, got %v", cfg.Fill.Workers)
	}
	if cfg.Fill.Interpolation == nil || *cfg.Fill.Interpolation != "linear" {
		t.Fatalf("file value should survive: %v", cfg.Fill.Interpolation)
	}
	if cfg.Log.Format == nil || *cfg.Log.Format != "json" {
		t.Fatalf("expected env log format, got %v", cfg.Log.Format)
	}
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("TSBATCH_FILL_WORKERS", "many")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected env parse error")
	}
}

func TestLoadConfigRejectsBadToml(t *testing.T) {
	path := writeConfig(t, "[fill\nworkers = ")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDefaultConfigPathUsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultConfigPath(); got != filepath.Join("/xdg", "tsbatch", "config.toml") {
		t.Fatalf("unexpected path: %q", got)
	}
}
