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

	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/parse"
	"github.com/doufen-org/graveyard/internal/store"
)

// LikeTask backs up the user's likes and reconciles the stored
// favorites per target type, so an unliked item is archived without
// disturbing favorites of other kinds.
type LikeTask struct {
	base
}

func (t *LikeTask) Run(ctx context.Context, tc *Context) error {
	owner, err := tc.SyncAccount(ctx)
	if err != nil {
		return err
	}

	var records []models.LikeRecord
	complete := true
	for p := 1; ; p++ {
		resp, err := tc.Fetcher.Get(ctx,
			fmt.Sprintf("people/%s/likes?p=%d", owner.UniqueName, p), tc.base())
		if err != nil {
			if skippable(err) {
				tc.Log.Warn().Err(err).Int("page", p).Msg("likes page skipped")
				complete = false
				break
			}
			return err
		}
		page, next, err := parse.Likes(resp.Body)
		if err != nil {
			return err
		}
		records = append(records, page...)
		if !next || len(page) == 0 {
			break
		}
	}

	now := time.Now()
	err = tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			_, err := tc.Store.Apply(ctx, tx, store.Favorites,
				store.Fields{
					"user_id":          owner.RowID,
					"target_type":      rec.TargetType,
					"target_douban_id": rec.TargetDoubanID,
				},
				store.Fields{
					"title":   rec.Title,
					"tags":    rec.Tags,
					"created": rec.Created,
				}, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !complete {
		return nil
	}
	// Reconcile per target type over everything stored, so a type whose
	// likes all disappeared is still archived.
	return tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
		types, err := tc.Store.FavoriteTypes(ctx, tx, owner.RowID)
		if err != nil {
			return err
		}
		for _, targetType := range types {
			_, err := tc.Store.FinalizeSnapshot(ctx, tx, store.Favorites,
				"user_id = ? AND target_type = ?", []any{owner.RowID, targetType}, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
