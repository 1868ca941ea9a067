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

	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/parse"
	"github.com/doufen-org/graveyard/internal/store"
)

// broadcastConflictWindow is the incremental-backup stop condition: a
// run of this many consecutive own broadcasts already stored means the
// rest of the timeline is known.
const broadcastConflictWindow = 10

// BroadcastTask walks the user's status timeline newest-first. A
// reshare persists its quoted inner status first; every status links
// into the owner's timeline and image URLs are recorded as attachments.
// With incremental backup on, the walk stops once it runs into the
// already-stored region.
type BroadcastTask struct {
	base
}

func (t *BroadcastTask) Run(ctx context.Context, tc *Context) error {
	owner, err := tc.SyncAccount(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	incremental := tc.Settings.BroadcastIncremental
	conflicts := 0

pages:
	for p := 1; ; p++ {
		resp, err := tc.Fetcher.Get(ctx,
			fmt.Sprintf("people/%s/statuses?p=%d", owner.UniqueName, p), tc.base())
		if err != nil {
			if skippable(err) {
				tc.Log.Warn().Err(err).Int("page", p).Msg("broadcast page skipped")
				break
			}
			return err
		}
		records, next, err := parse.Broadcasts(resp.Body)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}

		for i := range records {
			rec := &records[i]
			res, err := tc.saveBroadcast(ctx, owner, rec, now)
			if err != nil {
				return err
			}
			if !incremental {
				continue
			}
			if !res.Created && rec.DoubanUserID == owner.DoubanID {
				conflicts++
				if conflicts >= broadcastConflictWindow {
					tc.Log.Info().Int("page", p).
						Msg("incremental backup reached known region")
					break pages
				}
			} else {
				conflicts = 0
			}
		}
		if !next {
			break
		}
	}

	if tc.Settings.ImageLocalCache {
		return tc.RealizeAttachments(ctx)
	}
	return nil
}

// saveBroadcast persists one status with its inner reshare, timeline
// link, and attachment records, in a single transaction.
func (tc *Context) saveBroadcast(ctx context.Context, owner *Owner, rec *models.BroadcastRecord, now time.Time) (store.ApplyResult, error) {
	var result store.ApplyResult
	err := tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
		if rec.Reshared != nil {
			if _, err := tc.applyBroadcastRow(ctx, tx, rec.Reshared, now); err != nil {
				return err
			}
			for _, img := range rec.Reshared.Images {
				if err := tc.Store.AddAttachment(ctx, tx, img); err != nil {
					return err
				}
			}
		}

		res, err := tc.applyBroadcastRow(ctx, tx, rec, now)
		if err != nil {
			return err
		}
		result = res

		_, err = tc.Store.Apply(ctx, tx, store.Timelines,
			store.Fields{"user_id": owner.RowID, "broadcast_id": res.ID}, nil, now)
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
	return result, err
}

func (tc *Context) applyBroadcastRow(ctx context.Context, tx *sql.Tx, rec *models.BroadcastRecord, now time.Time) (store.ApplyResult, error) {
	fields := store.Fields{
		"douban_user_id": rec.DoubanUserID,
		"author_name":    rec.AuthorName,
		"kind":           rec.Kind,
		"text":           rec.Text,
		"created":        rec.Created,
		"images":         strings.Join(rec.Images, " "),
		"reshared_count": rec.ResharedCount,
		"like_count":     rec.LikeCount,
		"comments_count": rec.CommentsCount,
	}
	if rec.Reshared != nil {
		fields["reshared_id"] = rec.Reshared.DoubanID
	}
	return tc.Store.Apply(ctx, tx, store.Broadcasts,
		store.Fields{"douban_id": rec.DoubanID}, fields, now)
}

// BroadcastCommentTask refreshes the comments under the user's recent
// broadcasts. Only broadcasts inside the active window are rescanned;
// older ones are considered settled.
type BroadcastCommentTask struct {
	base
}

func (t *BroadcastCommentTask) Run(ctx context.Context, tc *Context) error {
	owner, err := tc.SyncAccount(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-tc.Settings.BroadcastActiveDuration).
		Format("2006-01-02 15:04:05")
	ids, err := tc.Store.ActiveBroadcastIDs(ctx, owner.DoubanID, cutoff)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, sid := range ids {
		for p := 1; ; p++ {
			resp, err := tc.Fetcher.Get(ctx,
				fmt.Sprintf("people/%s/status/%d/?p=%d", owner.UniqueName, sid, p), tc.base())
			if err != nil {
				if skippable(err) {
					tc.Log.Warn().Err(err).Int64("broadcast", sid).Int("page", p).
						Msg("comment page skipped")
					break
				}
				return err
			}
			records, next, err := parse.Comments(resp.Body, "broadcast", sid)
			if err != nil {
				return err
			}
			err = tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
				for _, rec := range records {
					_, err := tc.Store.Apply(ctx, tx, store.Comments,
						store.Fields{
							"target_type":      rec.TargetType,
							"target_douban_id": rec.TargetDoubanID,
							"douban_id":        rec.DoubanID,
						},
						store.Fields{
							"author_name": rec.AuthorName,
							"author_url":  rec.AuthorURL,
							"created":     rec.Created,
							"text":        rec.Text,
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
			if !next || len(records) == 0 {
				break
			}
		}
	}
	return nil
}
