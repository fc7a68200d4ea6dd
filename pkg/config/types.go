// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"time"
)

type CanvasConfig struct {
	// Backend: where the Saraswati API lives
	Backend BackendConfig `yaml:"backend"`

	// Cache: local BadgerDB storage
	Cache CacheConfig `yaml:"cache"`

	// Logging: level and optional JSON file output
	Logging LoggingConfig `yaml:"logging"`

	// Tracing: optional stdout span exporter for debugging
	Tracing TracingConfig `yaml:"tracing"`
}

type BackendConfig struct {
	BaseURL  string        `yaml:"base_url" validate:"required,url"`
	TokenEnv string        `yaml:"token_env" validate:"required"` // env var holding the bearer token
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
}

type CacheConfig struct {
	Dir string        `yaml:"dir" validate:"required"`
	TTL time.Duration `yaml:"ttl" validate:"min=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig mirrors the backend's development defaults.
func DefaultConfig() CanvasConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return CanvasConfig{
		Backend: BackendConfig{
			BaseURL:  "http://localhost:8000",
			TokenEnv: "SARASWATI_API_TOKEN",
			Timeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			Dir: filepath.Join(home, ".saraswati", "cache"),
			TTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(home, ".saraswati", "logs"),
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}
