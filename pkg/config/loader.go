// Copyright (C) 2025 Saraswati AI (research@saraswati.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global CanvasConfig
	once   sync.Once
)

var validate = validator.New()

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		var cfg *CanvasConfig
		cfg, err = LoadFrom("")
		if err == nil {
			Global = *cfg
		}
	})
	return err
}

// LoadFrom reads, overrides, and validates one config file. An empty
// path means ~/.saraswati/config.yaml, created on first run.
func LoadFrom(path string) (*CanvasConfig, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not find the user's home directory: %w", err)
		}
		path = filepath.Join(home, ".saraswati", "config.yaml")
	}

	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets the environment win over the file, matching
// how the backend reads its settings.
func applyEnvOverrides(cfg *CanvasConfig) {
	if v := os.Getenv("SARASWATI_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("SARASWATI_TOKEN_ENV"); v != "" {
		cfg.Backend.TokenEnv = v
	}
	if v := os.Getenv("SARASWATI_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("SARASWATI_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("SARASWATI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
