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
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/doufen-org/graveyard/internal/fetch"
	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/parse"
	"github.com/doufen-org/graveyard/internal/store"
)

// Owner identifies the account's bound user row.
type Owner struct {
	RowID      int64
	DoubanID   int64
	UniqueName string
}

// SyncAccount resolves the account's owner user, fetching the profile
// when the local copy is stale and binding the user foreign key on
// first contact.
func (tc *Context) SyncAccount(ctx context.Context) (*Owner, error) {
	name := tc.Account.Name
	if name == "" {
		return nil, fmt.Errorf("task: account %d has no user name", tc.Account.ID)
	}
	if _, err := tc.EnsureUser(ctx, name); err != nil {
		return nil, err
	}
	row, err := tc.Store.GetUserByUniqueName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("task: owner user %q unavailable: %w", name, err)
	}
	o := &Owner{
		RowID:      fieldInt64(row, "id"),
		DoubanID:   fieldInt64(row, "douban_id"),
		UniqueName: name,
	}
	if tc.Account.UserID == nil {
		if err := tc.Store.BindAccountUser(ctx, tc.Account.ID, o.RowID); err != nil {
			return nil, err
		}
		tc.Account.UserID = &o.RowID
	}
	return o, nil
}

// EnsureUser makes sure a locally fresh copy of the named user exists,
// fetching the profile API when it is missing or expired. Returns the
// user row id; 0 with a nil error when the fetch was skippable and no
// local copy exists.
func (tc *Context) EnsureUser(ctx context.Context, name string) (int64, error) {
	row, err := tc.Store.GetUserByUniqueName(ctx, name)
	if err == nil && tc.fresh(row) {
		return fieldInt64(row, "id"), nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	resp, ferr := tc.Fetcher.Get(ctx, "v2/user/"+name, tc.api())
	if ferr != nil {
		if skippable(ferr) {
			tc.Log.Warn().Err(ferr).Str("user", name).Msg("user fetch skipped")
			return fieldInt64(row, "id"), nil
		}
		return 0, ferr
	}
	rec, perr := parse.User(resp.Body)
	if perr != nil {
		tc.Log.Warn().Err(perr).Str("user", name).Msg("user payload undecodable")
		return fieldInt64(row, "id"), nil
	}
	return tc.SaveUser(ctx, rec, time.Now())
}

// SaveUser runs the upsert protocol for a user record and its counters.
func (tc *Context) SaveUser(ctx context.Context, rec *models.UserRecord, now time.Time) (int64, error) {
	doubanID, err := strconv.ParseInt(rec.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("task: user id %q not numeric: %w", rec.ID, err)
	}
	fields := store.Fields{
		"unique_name":  rec.UID,
		"name":         rec.Name,
		"created":      rec.Created,
		"desc":         rec.Desc,
		"type":         rec.Type,
		"loc_id":       rec.LocID,
		"loc_name":     rec.LocName,
		"signature":    rec.Signature,
		"avatar":       rec.Avatar,
		"large_avatar": rec.LargeAvatar,
		"alt":          rec.Alt,
		"is_banned":    rec.IsBanned,
		"is_suicide":   rec.IsSuicide,
	}

	var id int64
	err = tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
		res, err := tc.Store.Apply(ctx, tx, store.Users,
			store.Fields{"douban_id": doubanID}, fields, now)
		if err != nil {
			return err
		}
		id = res.ID
		_, err = tc.Store.Apply(ctx, tx, store.UserExtras,
			store.Fields{"user_id": id},
			store.Fields{
				"statuses_count":  rec.StatusesCount,
				"following_count": rec.FollowingCount,
				"followers_count": rec.FollowersCount,
			}, now)
		return err
	})
	return id, err
}

// EnsureSubject makes sure a locally fresh copy of the subject exists,
// fetching the subject API when missing or expired. Returns the subject
// row id; 0 with a nil error when the fetch was skippable.
func (tc *Context) EnsureSubject(ctx context.Context, kind, doubanID string) (int64, error) {
	t := store.SubjectTable(kind)
	if _, err := strconv.ParseInt(doubanID, 10, 64); err != nil {
		return 0, fmt.Errorf("task: subject id %q not numeric: %w", doubanID, err)
	}
	// Subject external ids stay textual; the API reports them as strings.
	row, gerr := tc.Store.GetBy(ctx, tc.Store.DB(), t, store.Fields{"douban_id": doubanID})
	if gerr == nil && tc.fresh(row) {
		return fieldInt64(row, "id"), nil
	}
	if gerr != nil && !errors.Is(gerr, store.ErrNotFound) {
		return 0, gerr
	}

	resp, ferr := tc.Fetcher.Get(ctx, subjectAPIPath(kind, doubanID), tc.api())
	if ferr != nil {
		if skippable(ferr) {
			tc.Log.Warn().Err(ferr).Str("kind", kind).Str("subject", doubanID).
				Msg("subject fetch skipped")
			return fieldInt64(row, "id"), nil
		}
		return 0, ferr
	}
	rec, perr := parse.Subject(resp.Body)
	if perr != nil {
		tc.Log.Warn().Err(perr).Str("subject", doubanID).Msg("subject payload undecodable")
		return fieldInt64(row, "id"), nil
	}

	image := rec.Images["large"]
	if image == "" {
		image = rec.Image
	}
	tagNames := make([]string, len(rec.Tags))
	for i, tag := range rec.Tags {
		tagNames[i] = tag.Name
	}
	attrs := ""
	if len(rec.Attrs) > 0 {
		if data, err := json.Marshal(rec.Attrs); err == nil {
			attrs = string(data)
		}
	}
	fields := store.Fields{
		"title":     rec.Title,
		"alt_title": rec.AltTitle,
		"alt":       rec.Alt,
		"image":     image,
		"rating":    rec.Rating.Average,
		"author":    strings.Join(rec.Author, " "),
		"summary":   rec.Summary,
		"attrs":     attrs,
		"tags":      strings.Join(tagNames, " "),
	}

	var id int64
	err := tc.Store.Atomic(ctx, func(tx *sql.Tx) error {
		res, err := tc.Store.Apply(ctx, tx, t, store.Fields{"douban_id": doubanID}, fields, time.Now())
		if err != nil {
			return err
		}
		id = res.ID
		return nil
	})
	return id, err
}

// subjectAPIPath maps a subject kind to its API endpoint.
func subjectAPIPath(kind, doubanID string) string {
	if kind == "movie" {
		return "v2/movie/subject/" + doubanID
	}
	return "v2/" + kind + "/" + doubanID
}

// fresh reports whether the row's updated_at is within the configured
// local object lifetime.
func (tc *Context) fresh(row store.Fields) bool {
	if row == nil {
		return false
	}
	ts, ok := fieldTime(row, "updated_at")
	if !ok {
		return false
	}
	return time.Since(ts) < tc.Settings.LocalObjectDuration
}

// skippable reports whether a fetch failure should be logged and worked
// around instead of aborting the task.
func skippable(err error) bool {
	var httpErr *fetch.HTTPError
	return errors.As(err, &httpErr) || errors.Is(err, fetch.ErrExhausted)
}

func fieldInt64(f store.Fields, key string) int64 {
	if f == nil {
		return 0
	}
	switch v := f[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func fieldString(f store.Fields, key string) string {
	if f == nil {
		return ""
	}
	switch v := f[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// fieldTime decodes a timestamp column across the store's storage
// forms.
func fieldTime(f store.Fields, key string) (time.Time, bool) {
	switch v := f[key].(type) {
	case time.Time:
		return v, true
	case string:
		return store.ParseTime(v)
	case []byte:
		return store.ParseTime(string(v))
	}
	return time.Time{}, false
}
