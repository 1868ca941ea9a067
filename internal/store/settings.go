// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/goccy/go-json"
)

// Setting keys persisted in the setting KV. Tasks read these per
// invocation; changing one requires restarting workers.
const (
	SettingRequestsPerMinute       = "worker.requests-per-minute"
	SettingLocalObjectDuration     = "worker.local-object-duration"
	SettingBroadcastActiveDuration = "worker.broadcast-active-duration"
	SettingBroadcastIncremental    = "worker.broadcast-incremental-backup"
	SettingImageLocalCache         = "worker.image-local-cache"
	SettingProxies                 = "worker.proxies"
)

const (
	DefaultRequestsPerMinute       = 60
	DefaultLocalObjectDuration     = 60 * 60 * 24 * 30 // seconds
	DefaultBroadcastActiveDuration = 60 * 60 * 24 * 30 // seconds
)

// GetSetting returns the raw value for name, or ("", ErrNotFound).
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM setting WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", mapError(err)
	}
	return v.String, nil
}

// SetSetting upserts a raw value.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO setting (name, value) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
		name, value)
	return mapError(err)
}

// SettingInt reads an integer setting, falling back to def when the key
// is absent or malformed.
func (s *Store) SettingInt(ctx context.Context, name string, def int) int {
	raw, err := s.GetSetting(ctx, name)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// SettingBool reads a boolean setting stored as "1"/"0".
func (s *Store) SettingBool(ctx context.Context, name string, def bool) bool {
	raw, err := s.GetSetting(ctx, name)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n != 0
}

// SetSettingBool stores a boolean as "1"/"0".
func (s *Store) SetSettingBool(ctx context.Context, name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return s.SetSetting(ctx, name, val)
}

// SettingJSON decodes a JSON-valued setting into out. Absent or
// malformed values leave out untouched and return false.
func (s *Store) SettingJSON(ctx context.Context, name string, out any) bool {
	raw, err := s.GetSetting(ctx, name)
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(raw), out) == nil
}

// SetSettingJSON stores v JSON-encoded.
func (s *Store) SetSettingJSON(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SetSetting(ctx, name, string(data))
}

// Proxies returns the configured proxy URL list, empty when unset.
func (s *Store) Proxies(ctx context.Context) []string {
	var proxies []string
	s.SettingJSON(ctx, SettingProxies, &proxies)
	return proxies
}
