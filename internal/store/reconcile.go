// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/doufen-org/graveyard/internal/metrics"
)

// FinalizeSnapshot completes a set reconciliation pass. The caller has
// already upserted every observed element stamping updated_at = now;
// this routine archives every row in scope whose updated_at predates now
// into the historical table with deleted_at = now, then deletes it.
//
// The combination gives at-most-one archive event per disappearance and
// makes "no change" a no-op. Run it inside the same transaction as the
// upserts, or as its own final transaction per set; skipping it merely
// leaves old rows with old timestamps, corrected on the next run.
//
// scope is a WHERE fragment restricting the set (e.g. "user_id = ?").
// now must be the exact value stamped on the observed elements; the
// comparison is strict-less-than against it.
func (s *Store) FinalizeSnapshot(ctx context.Context, q Querier, t *Table, scope string, scopeArgs []any, now any) (int, error) {
	if t.Historical == "" {
		return 0, fmt.Errorf("store: %s has no historical twin to reconcile into", t.Name)
	}

	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE %s AND updated_at < ?",
		t.selectList(), t.Name, scope)
	args := append(append([]any{}, scopeArgs...), bindValue(now))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	stale := make([]Fields, 0)
	for rows.Next() {
		f, err := t.scanRow(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, mapError(err)
	}
	rows.Close()

	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]any, 0, len(stale))
	for _, f := range stale {
		if _, err := s.Clone(ctx, q, t, f, Fields{"deleted_at": now}); err != nil {
			return 0, err
		}
		id, err := rowID(f)
		if err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", t.Name, placeholders(len(ids)))
	if _, err := q.ExecContext(ctx, del, ids...); err != nil {
		return 0, mapError(err)
	}
	metrics.ReconcileArchived.WithLabelValues(t.Name).Add(float64(len(ids)))
	return len(ids), nil
}

// CountWhere is a small helper for tests and status endpoints.
func (s *Store) CountWhere(ctx context.Context, t string, scope string, args ...any) (int64, error) {
	query := "SELECT COUNT(*) FROM " + quoteIdent(t)
	if strings.TrimSpace(scope) != "" {
		query += " WHERE " + scope
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}
