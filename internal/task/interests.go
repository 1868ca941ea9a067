// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doufen-org/graveyard/internal/parse"
	"github.com/doufen-org/graveyard/internal/store"
)

// interestStatuses are the collection states of the interests API, in
// backup order.
var interestStatuses = []string{"mark", "doing", "done"}

// InterestsTask backs up one subject kind's interests (wish/doing/done
// shelves). The interests API lives on the mobile site and requires its
// frodotk token, obtained by touching a mobile page first. Every
// referenced subject gets a locally fresh copy before the interest row
// is written; afterwards the whole shelf union is reconciled.
type InterestsTask struct {
	base
	kind string
}

func (t *InterestsTask) Run(ctx context.Context, tc *Context) error {
	owner, err := tc.SyncAccount(ctx)
	if err != nil {
		return err
	}
	if err := tc.ensureFrodotk(ctx); err != nil {
		return err
	}

	table := store.InterestTable(t.kind)
	now := time.Now()
	complete := true

	for _, status := range interestStatuses {
		start := 0
		for {
			path := fmt.Sprintf("rexxar/api/v2/%s/user/%s/interests?status=%s&start=%d&count=50",
				t.kind, owner.UniqueName, status, start)
			resp, err := tc.Fetcher.Get(ctx, path, tc.mobile())
			if err != nil {
				if skippable(err) {
					tc.Log.Warn().Err(err).Str("status", status).Int("start", start).
						Msg("interests page skipped")
					complete = false
					break
				}
				return err
			}
			records, total, err := parse.Interests(resp.Body, status)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				break
			}

			for _, rec := range records {
				subjectID, err := tc.EnsureSubject(ctx, t.kind, rec.SubjectID)
				if err != nil {
					return err
				}
				if subjectID == 0 {
					complete = false
					continue
				}
				err = tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
					_, err := tc.Store.Apply(ctx, tx, table,
						store.Fields{"user_id": owner.RowID, "subject_id": subjectID},
						store.Fields{
							"rating":      rec.Rating,
							"tags":        rec.Tags,
							"comment":     rec.Comment,
							"create_time": rec.CreateTime,
							"status":      rec.Status,
						}, now)
					return err
				})
				if err != nil {
					return err
				}
			}

			start += len(records)
			if int64(start) >= total {
				break
			}
		}
	}

	if !complete {
		return nil
	}
	return tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
		n, err := tc.Store.FinalizeSnapshot(ctx, tx, table,
			"user_id = ?", []any{owner.RowID}, now)
		if err == nil && n > 0 {
			tc.Log.Info().Str("kind", t.kind).Int("archived", n).Msg("interests reconciled")
		}
		return err
	})
}

// ensureFrodotk makes sure the mobile API token cookie is present,
// touching a mobile page to have one issued when it is not.
func (tc *Context) ensureFrodotk(ctx context.Context) error {
	if tc.Fetcher.Cookie("frodotk") != "" {
		return nil
	}
	resp, err := tc.Fetcher.Get(ctx, "mine/", tc.mobile())
	if err != nil {
		return fmt.Errorf("task: mobile token bootstrap: %w", err)
	}
	for _, raw := range resp.Header.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(raw, ";")
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name == "frodotk" && value != "" {
			tc.Fetcher.MergeCookie("frodotk", value)
			return nil
		}
	}
	return fmt.Errorf("task: mobile site issued no frodotk token")
}
