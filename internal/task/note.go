// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/parse"
	"github.com/doufen-org/graveyard/internal/store"
)

// NoteTask backs up the user's notes. The listing only names the notes;
// each detail page is fetched separately, skipped while the local copy
// is fresh. Inline images become attachment records.
type NoteTask struct {
	base
}

func (t *NoteTask) Run(ctx context.Context, tc *Context) error {
	owner, err := tc.SyncAccount(ctx)
	if err != nil {
		return err
	}

	var items []models.NoteItemRecord
	for p := 1; ; p++ {
		resp, err := tc.Fetcher.Get(ctx,
			fmt.Sprintf("people/%s/notes?p=%d", owner.UniqueName, p), tc.base())
		if err != nil {
			if skippable(err) {
				tc.Log.Warn().Err(err).Int("page", p).Msg("note listing page skipped")
				break
			}
			return err
		}
		page, next, err := parse.NoteList(resp.Body)
		if err != nil {
			return err
		}
		items = append(items, page...)
		if !next || len(page) == 0 {
			break
		}
	}

	now := time.Now()
	for _, item := range items {
		row, err := tc.Store.GetBy(ctx, tc.Store.DB(), store.Notes,
			store.Fields{"douban_id": item.DoubanID})
		if err == nil && tc.fresh(row) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		resp, err := tc.Fetcher.Get(ctx, fmt.Sprintf("note/%d/", item.DoubanID), tc.base())
		if err != nil {
			if skippable(err) {
				tc.Log.Warn().Err(err).Int64("note", item.DoubanID).Msg("note skipped")
				continue
			}
			return err
		}
		rec, err := parse.Note(resp.Body)
		if err != nil {
			return err
		}
		if rec.Title == "" {
			rec.Title = item.Title
		}
		if rec.Created == "" {
			rec.Created = item.Created
		}

		err = tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
			_, err := tc.Store.Apply(ctx, tx, store.Notes,
				store.Fields{"douban_id": item.DoubanID},
				store.Fields{
					"user_id": owner.RowID,
					"title":   rec.Title,
					"created": rec.Created,
					"content": rec.Content,
					"images":  strings.Join(rec.Images, " "),
				}, now)
			if err != nil {
				return err
			}
			for _, img := range rec.Images {
				if err := tc.Store.AddAttachment(ctx, tx, img); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if tc.Settings.ImageLocalCache {
		return tc.RealizeAttachments(ctx)
	}
	return nil
}
