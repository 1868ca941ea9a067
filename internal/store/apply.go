// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doufen-org/graveyard/internal/metrics"
)

// ApplyResult reports what the upsert protocol did to a row.
type ApplyResult struct {
	ID      int64
	Created bool // fresh row inserted
	Changed bool // existing row archived and updated
}

// Apply runs the versioned-with-history upsert protocol for one entity:
//
//	try SafeCreate(nk + fields + version=1 + updated_at=now)
//	on integrity violation:
//	    current = GetBy(nk)
//	    if !Equals(current, fields): Clone into history; SafeUpdate with version+1
//	    else: touch updated_at
//
// The protocol is idempotent under re-fetch of unchanged data and
// monotone in version. Callers are expected to run it inside Atomic;
// Apply itself issues no transaction control.
func (s *Store) Apply(ctx context.Context, q Querier, t *Table, nk Fields, fields Fields, now time.Time) (ApplyResult, error) {
	insert := make(Fields, len(nk)+len(fields)+2)
	for k, v := range fields {
		insert[k] = v
	}
	for k, v := range nk {
		insert[k] = v
	}
	insert["version"] = 1
	insert["updated_at"] = now

	id, err := s.SafeCreate(ctx, q, t, insert)
	if err == nil {
		metrics.UpsertOutcomes.WithLabelValues(t.Name, "created").Inc()
		return ApplyResult{ID: id, Created: true}, nil
	}
	if !errors.Is(err, ErrIntegrity) {
		return ApplyResult{}, err
	}

	current, err := s.GetBy(ctx, q, t, nk)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply %s: conflict but no current row: %w", t.Name, err)
	}
	currentID, err := rowID(current)
	if err != nil {
		return ApplyResult{}, err
	}

	if Equals(t, current, fields, false) {
		if err := s.SafeUpdate(ctx, q, t, Fields{"updated_at": now}, currentID); err != nil {
			return ApplyResult{}, err
		}
		metrics.UpsertOutcomes.WithLabelValues(t.Name, "unchanged").Inc()
		return ApplyResult{ID: currentID}, nil
	}

	if t.Historical != "" {
		if _, err := s.Clone(ctx, q, t, current, Fields{"deleted_at": now}); err != nil {
			return ApplyResult{}, err
		}
	}

	update := make(Fields, len(fields)+2)
	for k, v := range fields {
		update[k] = v
	}
	update["version"] = asInt64(current["version"]) + 1
	update["updated_at"] = now
	if err := s.SafeUpdate(ctx, q, t, update, currentID); err != nil {
		return ApplyResult{}, err
	}
	metrics.UpsertOutcomes.WithLabelValues(t.Name, "changed").Inc()
	return ApplyResult{ID: currentID, Changed: true}, nil
}

// rowID extracts the primary key from a Fields image.
func rowID(f Fields) (int64, error) {
	id := asInt64(f["id"])
	if id == 0 {
		return 0, fmt.Errorf("store: row image has no id")
	}
	return id, nil
}

// asInt64 coerces driver integer representations.
func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}
