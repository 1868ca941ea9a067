// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package config loads application configuration with koanf.
//
// Layered sources, later wins:
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or GRAVEYARD_CONFIG)
//  3. Environment variables (GRAVEYARD_SERVER_PORT -> server.port)
//
// CLI flags are applied by the caller on top of the loaded Config.
// The result is validated and immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "GRAVEYARD_CONFIG"

// defaultConfigPaths are searched in order; the first hit is used.
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/graveyard/config.yaml",
}

// Config holds everything the process needs to start. Crawler behavior
// settings (rate limit, cache policy, proxies) live in the database and
// are editable at runtime; only process-level knobs belong here.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the embedded HTTP server.
type ServerConfig struct {
	// Host is the bind address. The UI drives a personal archive, so
	// the default stays loopback-only.
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// Debug enables console logging and verbose request logs.
	Debug bool `koanf:"debug"`
}

// StorageConfig locates the database and the local object cache.
type StorageConfig struct {
	// DBPath is the SQLite database file. Parent directories are
	// created on open.
	DBPath string `koanf:"db_path" validate:"required"`

	// CacheDir holds downloaded images and other attachments.
	CacheDir string `koanf:"cache_dir" validate:"required"`

	// LogDir, when set, adds a rotated log file sink.
	LogDir string `koanf:"log_dir"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8398,
		},
		Storage: StorageConfig{
			DBPath:   "var/data/graveyard.db",
			CacheDir: "var/cache",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the effective configuration from defaults, an optional
// YAML file, and GRAVEYARD_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("GRAVEYARD_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// envTransform maps GRAVEYARD_SERVER_PORT to server.port. The first
// underscore separates the section from the key; further underscores
// stay part of the key (GRAVEYARD_STORAGE_DB_PATH -> storage.db_path).
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "GRAVEYARD_"))
	if s == "config" {
		return "" // handled by findConfigFile
	}
	section, key, found := strings.Cut(s, "_")
	if !found {
		return s
	}
	return section + "." + key
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
