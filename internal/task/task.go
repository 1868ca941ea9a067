// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package task implements the backup jobs and their shared runtime.
//
// A Task is one backup job bound to one account; the scheduler
// dispatches it to a worker process, which builds a Context (store
// handle, per-worker Fetcher, settings snapshot, logger) and invokes
// Run. Two tasks are equal iff they are the same concrete job for the
// same account; the scheduler deduplicates on that.
//
// Failure semantics: a bad URL fetch is logged and skipped, the task
// continues best effort; a login-wall redirect flags the account
// invalid and aborts the task; anything else surfaces as a worker
// error, leaving the worker alive for the next task.
package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/doufen-org/graveyard/internal/fetch"
	"github.com/doufen-org/graveyard/internal/models"
	"github.com/doufen-org/graveyard/internal/store"
)

// Task is one backup job bound to one account.
type Task interface {
	Name() string
	AccountID() int64
	Equals(Task) bool
	Run(ctx context.Context, tc *Context) error
}

// Settings is the per-invocation settings snapshot handed to tasks.
// Workers read it from the Setting KV at startup; changing a setting
// requires restarting workers.
type Settings struct {
	RequestsPerMinute       int
	LocalObjectDuration     time.Duration
	BroadcastActiveDuration time.Duration
	BroadcastIncremental    bool
	ImageLocalCache         bool
	Proxy                   string
	CacheDir                string
}

// LoadSettings reads the snapshot from the Setting KV, applying the
// documented defaults.
func LoadSettings(ctx context.Context, st *store.Store) Settings {
	return Settings{
		RequestsPerMinute: st.SettingInt(ctx, store.SettingRequestsPerMinute, store.DefaultRequestsPerMinute),
		LocalObjectDuration: time.Duration(
			st.SettingInt(ctx, store.SettingLocalObjectDuration, store.DefaultLocalObjectDuration)) * time.Second,
		BroadcastActiveDuration: time.Duration(
			st.SettingInt(ctx, store.SettingBroadcastActiveDuration, store.DefaultBroadcastActiveDuration)) * time.Second,
		BroadcastIncremental: st.SettingBool(ctx, store.SettingBroadcastIncremental, false),
		ImageLocalCache:      st.SettingBool(ctx, store.SettingImageLocalCache, false),
	}
}

// Context bundles what a running task needs.
type Context struct {
	Account  *models.Account
	Store    *store.Store
	Fetcher  *fetch.Fetcher
	Settings Settings
	Log      zerolog.Logger

	// Base URL overrides, used by tests; empty means production.
	BaseURL   string // www site; default fetch.SiteRoot
	MobileURL string // mobile site carrying the frodotk token
	APIURL    string // JSON API host
}

const (
	defaultMobileURL = "https://m.douban.com/"
	defaultAPIURL    = "https://api.douban.com/"
)

func (tc *Context) base() string {
	if tc.BaseURL != "" {
		return tc.BaseURL
	}
	return fetch.SiteRoot
}

func (tc *Context) mobile() string {
	if tc.MobileURL != "" {
		return tc.MobileURL
	}
	return defaultMobileURL
}

func (tc *Context) api() string {
	if tc.APIURL != "" {
		return tc.APIURL
	}
	return defaultAPIURL
}

// base carries the identity shared by every concrete task.
type base struct {
	name      string
	accountID int64
}

func (b *base) Name() string     { return b.name }
func (b *base) AccountID() int64 { return b.accountID }

// Equals reports whether other is the same concrete job for the same
// account.
func (b *base) Equals(other Task) bool {
	return other != nil && b.name == other.Name() && b.accountID == other.AccountID()
}

// Registered task names.
const (
	NameFollowingFollower = "following_follower"
	NameBookInterests     = "book_interests"
	NameMovieInterests    = "movie_interests"
	NameMusicInterests    = "music_interests"
	NameBroadcast         = "broadcast"
	NameBroadcastComment  = "broadcast_comment"
	NameNote              = "note"
	NamePhotoAlbum        = "photo_album"
	NameLike              = "like"
)

var registry = map[string]func(accountID int64) Task{
	NameFollowingFollower: func(id int64) Task { return &FollowingFollowerTask{base{NameFollowingFollower, id}} },
	NameBookInterests:     func(id int64) Task { return &InterestsTask{base{NameBookInterests, id}, "book"} },
	NameMovieInterests:    func(id int64) Task { return &InterestsTask{base{NameMovieInterests, id}, "movie"} },
	NameMusicInterests:    func(id int64) Task { return &InterestsTask{base{NameMusicInterests, id}, "music"} },
	NameBroadcast:         func(id int64) Task { return &BroadcastTask{base{NameBroadcast, id}} },
	NameBroadcastComment:  func(id int64) Task { return &BroadcastCommentTask{base{NameBroadcastComment, id}} },
	NameNote:              func(id int64) Task { return &NoteTask{base{NameNote, id}} },
	NamePhotoAlbum:        func(id int64) Task { return &PhotoAlbumTask{base{NamePhotoAlbum, id}} },
	NameLike:              func(id int64) Task { return &LikeTask{base{NameLike, id}} },
}

// New instantiates a registered task for an account.
func New(name string, accountID int64) (Task, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("task: unknown task %q", name)
	}
	return ctor(accountID), nil
}

// Names lists the registered task names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Option adjusts the runtime Context before the task runs.
type Option func(*Context)

// Execute builds the runtime for one dispatched task and runs it. A
// dead login session is persisted onto the account before the error
// propagates.
func Execute(ctx context.Context, st *store.Store, name string, accountID int64, settings Settings, log zerolog.Logger, opts ...Option) error {
	t, err := New(name, accountID)
	if err != nil {
		return err
	}
	account, err := st.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("task %s: account %d: %w", name, accountID, err)
	}

	fetcher, err := fetch.New(fetch.Config{
		Cookie:            account.Session,
		Proxy:             settings.Proxy,
		RequestsPerMinute: settings.RequestsPerMinute,
	})
	if err != nil {
		return err
	}

	tc := &Context{
		Account:  account,
		Store:    st,
		Fetcher:  fetcher,
		Settings: settings,
		Log:      log.With().Str("task", name).Int64("account", accountID).Logger(),
	}
	for _, opt := range opts {
		opt(tc)
	}
	if err := t.Run(ctx, tc); err != nil {
		if errors.Is(err, fetch.ErrSessionInvalid) {
			if merr := st.MarkAccountInvalid(ctx, accountID); merr != nil {
				tc.Log.Error().Err(merr).Msg("failed to flag invalid account")
			}
			return fmt.Errorf("task %s: login session invalid: %w", name, err)
		}
		return err
	}
	return nil
}
