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
	"time"

	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/parse"
	"github.com/doufen-org/graveyard/internal/store"
)

// PhotoAlbumTask backs up the user's photo albums. An album's pictures
// are rescanned when its last-updated marker moved or the local copy
// expired; otherwise the album is left alone.
type PhotoAlbumTask struct {
	base
}

func (t *PhotoAlbumTask) Run(ctx context.Context, tc *Context) error {
	owner, err := tc.SyncAccount(ctx)
	if err != nil {
		return err
	}

	var albums []models.AlbumRecord
	for p := 1; ; p++ {
		resp, err := tc.Fetcher.Get(ctx,
			fmt.Sprintf("people/%s/photos?p=%d", owner.UniqueName, p), tc.base())
		if err != nil {
			if skippable(err) {
				tc.Log.Warn().Err(err).Int("page", p).Msg("album listing page skipped")
				break
			}
			return err
		}
		page, next, err := parse.Albums(resp.Body)
		if err != nil {
			return err
		}
		albums = append(albums, page...)
		if !next || len(page) == 0 {
			break
		}
	}

	now := time.Now()
	for _, album := range albums {
		row, err := tc.Store.GetBy(ctx, tc.Store.DB(), store.PhotoAlbums,
			store.Fields{"douban_id": album.DoubanID})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil && tc.fresh(row) &&
			fieldString(row, "last_updated") == album.LastUpdated {
			continue
		}

		var albumRowID int64
		err = tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
			res, err := tc.Store.Apply(ctx, tx, store.PhotoAlbums,
				store.Fields{"douban_id": album.DoubanID},
				store.Fields{
					"user_id":      owner.RowID,
					"title":        album.Title,
					"desc":         album.Desc,
					"cover":        album.Cover,
					"count":        album.Count,
					"last_updated": album.LastUpdated,
				}, now)
			if err != nil {
				return err
			}
			albumRowID = res.ID
			if album.Cover != "" {
				return tc.Store.AddAttachment(ctx, tx, album.Cover)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := tc.backupAlbumPictures(ctx, album.DoubanID, albumRowID, now); err != nil {
			return err
		}
	}

	if tc.Settings.ImageLocalCache {
		return tc.RealizeAttachments(ctx)
	}
	return nil
}

func (tc *Context) backupAlbumPictures(ctx context.Context, albumDoubanID, albumRowID int64, now time.Time) error {
	for p := 1; ; p++ {
		resp, err := tc.Fetcher.Get(ctx,
			fmt.Sprintf("photos/album/%d/?p=%d", albumDoubanID, p), tc.base())
		if err != nil {
			if skippable(err) {
				tc.Log.Warn().Err(err).Int64("album", albumDoubanID).Int("page", p).
					Msg("album page skipped")
				return nil
			}
			return err
		}
		photos, next, err := parse.Photos(resp.Body)
		if err != nil {
			return err
		}
		err = tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
			for _, photo := range photos {
				_, err := tc.Store.Apply(ctx, tx, store.PhotoPictures,
					store.Fields{"douban_id": photo.DoubanID},
					store.Fields{
						"album_id": albumRowID,
						"url":      photo.URL,
						"desc":     photo.Desc,
					}, now)
				if err != nil {
					return err
				}
				if photo.URL != "" {
					if err := tc.Store.AddAttachment(ctx, tx, photo.URL); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !next || len(photos) == 0 {
			return nil
		}
	}
}
