// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8398 {
		t.Errorf("port = %d, want 8398", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	if cfg.Storage.DBPath != "var/data/graveyard.db" {
		t.Errorf("db path = %q", cfg.Storage.DBPath)
	}
	if cfg.Storage.CacheDir != "var/cache" {
		t.Errorf("cache dir = %q", cfg.Storage.CacheDir)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  port: 9000\nstorage:\n  db_path: /tmp/file.db\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("GRAVEYARD_SERVER_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, env must beat file", cfg.Server.Port)
	}
	if cfg.Storage.DBPath != "/tmp/file.db" {
		t.Errorf("db path = %q, file must beat default", cfg.Storage.DBPath)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"huge port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Storage.DBPath = "" }},
		{"empty cache dir", func(c *Config) { c.Storage.CacheDir = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("validation passed")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"GRAVEYARD_SERVER_PORT":     "server.port",
		"GRAVEYARD_SERVER_DEBUG":    "server.debug",
		"GRAVEYARD_STORAGE_DB_PATH": "storage.db_path",
		"GRAVEYARD_STORAGE_LOG_DIR": "storage.log_dir",
		"GRAVEYARD_LOGGING_LEVEL":   "logging.level",
		"GRAVEYARD_CONFIG":          "",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}
