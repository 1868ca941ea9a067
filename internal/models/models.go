// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package models defines the entities persisted by the store and the
// canonical records produced by the parsers.
//
// Every versioned entity lives in two parallel tables: the current table
// and an append-only historical table with identical columns plus a
// foreign key back to the current row and a deleted_at timestamp. The
// structs here mirror the current tables; historical rows are written
// generically by the store's Clone operation and never materialize as
// structs.
package models

import "time"

// Account is a Douban login session owned by the operator.
//
// At most one account is activated per install; an activated account
// whose user foreign key is bound is the default account.
type Account struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	UserID      *int64     `json:"user_id"`
	Session     string     `json:"-"`
	Created     time.Time  `json:"created"`
	IsActivated bool       `json:"is_activated"`
	IsInvalid   bool       `json:"is_invalid"`
}

// User is a Douban user profile. Both DoubanID and UniqueName are
// natural keys. The anonymous sentinel row has DoubanID 0.
type User struct {
	ID          int64     `json:"id"`
	DoubanID    int64     `json:"douban_id"`
	UniqueName  string    `json:"unique_name"`
	Name        string    `json:"name"`
	Created     string    `json:"created"`
	Desc        string    `json:"desc"`
	Type        string    `json:"type"`
	LocID       int64     `json:"loc_id"`
	LocName     string    `json:"loc_name"`
	Signature   string    `json:"signature"`
	Avatar      string    `json:"avatar"`
	LargeAvatar string    `json:"large_avatar"`
	Alt         string    `json:"alt"`
	IsBanned    bool      `json:"is_banned"`
	IsSuicide   bool      `json:"is_suicide"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserExtra carries the counters fetched separately from the profile.
type UserExtra struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	StatusesCount  int64     `json:"statuses_count"`
	FollowingCount int64     `json:"following_count"`
	FollowersCount int64     `json:"followers_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subject is a book, movie or music item keyed by its external id.
// The three kinds share one column set; Kind selects the table.
type Subject struct {
	ID       int64  `json:"id"`
	DoubanID string `json:"douban_id"`
	Title    string `json:"title"`
	AltTitle string `json:"alt_title"`
	Alt      string `json:"alt"`
	Image    string `json:"image"`
	Rating   string `json:"rating"`
	Author   string `json:"author"`
	Summary  string `json:"summary"`
	Attrs    string `json:"attrs"`
	Tags     string `json:"tags"`
	Version  int64  `json:"version"`
}

// SubjectKind selects one of the three subject tables.
type SubjectKind string

const (
	KindBook  SubjectKind = "book"
	KindMovie SubjectKind = "movie"
	KindMusic SubjectKind = "music"
)

// Broadcast is one status post. A reshare owns a back-reference to the
// inner status by external id; a saying carries text plus image
// attachments.
type Broadcast struct {
	ID             int64     `json:"id"`
	DoubanID       int64     `json:"douban_id"`
	DoubanUserID   int64     `json:"douban_user_id"`
	AuthorName     string    `json:"author_name"`
	Kind           string    `json:"kind"` // saying, reshare, noreply
	Text           string    `json:"text"`
	Created        string    `json:"created"`
	ResharedID     *int64    `json:"reshared_id"`
	Images         string    `json:"images"`
	ResharedCount  int64     `json:"reshared_count"`
	LikeCount      int64     `json:"like_count"`
	CommentsCount  int64     `json:"comments_count"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Attachment is a binary referenced from a broadcast, note or album.
// Local is assigned only once the file exists under the cache directory.
type Attachment struct {
	ID       int64   `json:"id"`
	URL      string  `json:"url"`
	MimeType string  `json:"mime_type"`
	Local    *string `json:"local"`
	RefCount int64   `json:"ref_count"`
}

// Setting is one row of the runtime configuration KV.
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
