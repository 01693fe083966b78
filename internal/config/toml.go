// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes environment overrides. Keys follow the struct path,
// e.g. TSBATCH_LOG_LEVEL or TSBATCH_FILL_METRICS_FILE.
const EnvPrefix = "TSBATCH"

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Log    LogConfig    `toml:"log"`
	Fill   FillConfig   `toml:"fill"`
	Import ImportConfig `toml:"import"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
}

// FillConfig maps gap filling settings.
type FillConfig struct {
	Interpolation *string `toml:"interpolation"`
	Workers       *int    `toml:"workers"`
	MetricsFile   *string `toml:"metrics-file" split_words:"true"`
}

// ImportConfig maps import settings.
type ImportConfig struct {
	Alternative *string `toml:"alternative"`
}

// LoadConfig reads a TOML config from the given path and applies
// TSBATCH_* environment overrides. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
