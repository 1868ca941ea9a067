// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doufen-org/graveyard/internal/parse"
	"github.com/doufen-org/graveyard/internal/store"
)

// FollowingFollowerTask backs up the three relation sets: who the user
// follows, who follows them, and the block list. Each referenced user
// gets a locally fresh profile copy, then the set is reconciled against
// the stored snapshot.
type FollowingFollowerTask struct {
	base
}

func (t *FollowingFollowerTask) Run(ctx context.Context, tc *Context) error {
	owner, err := tc.SyncAccount(ctx)
	if err != nil {
		return err
	}

	sets := []struct {
		table *store.Table
		path  func(p int) string
	}{
		{store.Followings, func(p int) string {
			return fmt.Sprintf("people/%s/contacts?p=%d", owner.UniqueName, p)
		}},
		{store.Followers, func(p int) string {
			return fmt.Sprintf("people/%s/rev_contacts?p=%d", owner.UniqueName, p)
		}},
		{store.BlockUsers, func(p int) string {
			return fmt.Sprintf("contacts/blacklist?p=%d", p)
		}},
	}

	for _, set := range sets {
		var names []string
		complete := true
		for p := 1; ; p++ {
			resp, err := tc.Fetcher.Get(ctx, set.path(p), tc.base())
			if err != nil {
				if skippable(err) {
					tc.Log.Warn().Err(err).Str("set", set.table.Name).Int("page", p).
						Msg("relation page skipped")
					complete = false
					break
				}
				return err
			}
			page, next, err := parse.UserList(resp.Body)
			if err != nil {
				return err
			}
			names = append(names, page...)
			if !next || len(page) == 0 {
				break
			}
		}

		for _, name := range names {
			if _, err := tc.EnsureUser(ctx, name); err != nil {
				return err
			}
		}

		now := time.Now()
		err := tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
			for _, name := range names {
				_, err := tc.Store.Apply(ctx, tx, set.table,
					store.Fields{"user_id": owner.RowID, "name": name}, nil, now)
				if err != nil {
					return err
				}
			}
			// A partially observed set must not archive the unseen rest.
			if !complete {
				return nil
			}
			_, err := tc.Store.FinalizeSnapshot(ctx, tx, set.table,
				"user_id = ?", []any{owner.RowID}, now)
			return err
		})
		if err != nil {
			return err
		}
		tc.Log.Info().Str("set", set.table.Name).Int("members", len(names)).
			Msg("relation set stored")
	}
	return nil
}
