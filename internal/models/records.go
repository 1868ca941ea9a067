// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package models

// Canonical records produced by the parsers. Each carries the union of
// fields observed across the site's layouts; absent sub-elements stay at
// their zero value and are dropped on ingest by the store's column
// filtering.

// UserRecord is the decoded form of the user API payload.
type UserRecord struct {
	ID          string `json:"id"`
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Created     string `json:"created"`
	Desc        string `json:"desc"`
	Type        string `json:"type"`
	LocID       int64  `json:"loc_id,string"`
	LocName     string `json:"loc_name"`
	Signature   string `json:"signature"`
	Avatar      string `json:"avatar"`
	LargeAvatar string `json:"large_avatar"`
	Alt         string `json:"alt"`
	IsBanned    bool   `json:"is_banned"`
	IsSuicide   bool   `json:"is_suicide"`

	StatusesCount  int64 `json:"statuses_count"`
	FollowingCount int64 `json:"following_count"`
	FollowersCount int64 `json:"followers_count"`
}

// SubjectRecord is the decoded form of a book/movie/music subject.
type SubjectRecord struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	AltTitle string            `json:"alt_title"`
	Alt      string            `json:"alt"`
	Image    string            `json:"image"`
	Summary  string            `json:"summary"`
	Author   []string          `json:"author"`
	Tags     []SubjectTag      `json:"tags"`
	Rating   SubjectRating     `json:"rating"`
	Attrs    map[string]any    `json:"attrs"`
	Images   map[string]string `json:"images"`
}

// SubjectTag is one tag entry of a subject payload.
type SubjectTag struct {
	Count int64  `json:"count"`
	Name  string `json:"name"`
}

// SubjectRating is the aggregate rating block of a subject payload.
type SubjectRating struct {
	Max       int64  `json:"max"`
	Average   string `json:"average"`
	NumRaters int64  `json:"numRaters"`
}

// InterestRecord is one element of the interests API (mark/doing/done).
type InterestRecord struct {
	SubjectID  string `json:"subject_id"`
	Rating     int64  `json:"rating"`
	Tags       string `json:"tags"`
	Comment    string `json:"comment"`
	CreateTime string `json:"create_time"`
	Status     string `json:"status"`
}

// BroadcastRecord is one scraped status. Reshared is the inner status
// of a reshare, parsed from the quoted block; nil otherwise.
type BroadcastRecord struct {
	DoubanID      int64
	DoubanUserID  int64
	AuthorName    string
	AuthorURL     string
	Kind          string
	Text          string
	Created       string
	Images        []string
	ResharedCount int64
	LikeCount     int64
	CommentsCount int64
	Reshared      *BroadcastRecord
}

// CommentRecord is one scraped comment under a broadcast or note.
type CommentRecord struct {
	DoubanID       int64
	TargetType     string
	TargetDoubanID int64
	AuthorName     string
	AuthorURL      string
	Created        string
	Text           string
}

// NoteItemRecord is one entry of the notes listing page.
type NoteItemRecord struct {
	DoubanID int64
	Title    string
	URL      string
	Created  string
}

// NoteRecord is the decoded note detail page.
type NoteRecord struct {
	DoubanID int64
	Title    string
	Created  string
	Content  string
	Images   []string
}

// AlbumRecord is one scraped photo album.
type AlbumRecord struct {
	DoubanID    int64
	Title       string
	Desc        string
	Cover       string
	Count       int64
	LastUpdated string
}

// PhotoRecord is one picture inside an album.
type PhotoRecord struct {
	DoubanID int64
	URL      string
	Desc     string
}

// LikeRecord is one scraped "like" entry.
type LikeRecord struct {
	TargetType     string
	TargetDoubanID int64
	Title          string
	Tags           string
	Created        string
}
