package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses YAML bytes into a Config, expanding environment
// variables first, then runs the defaults + validation pipeline.
func Load(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.ProcessConfigPipeline(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile reads and loads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data)
}

// Default returns a ready-to-run configuration without reading any
// file: two random agents, standard payoffs, 100 rounds.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
