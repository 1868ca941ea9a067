// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package store

import (
	"context"
	"fmt"
)

// schema is the full DDL. Every statement is idempotent so migrate can
// run on every open, from any process.
//
// Historical tables repeat the columns of their current twin plus the
// origin row id and deleted_at. The origin column is a plain indexed
// INTEGER, never a foreign key: reconciliation archives a row and then
// deletes its current twin, so history must outlive the row it points
// at. They carry no unique constraints either: the same origin row may
// be archived many times.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS "user" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER NOT NULL UNIQUE,
		unique_name TEXT NOT NULL UNIQUE,
		name TEXT,
		created TEXT,
		"desc" TEXT,
		type TEXT,
		loc_id INTEGER,
		loc_name TEXT,
		signature TEXT,
		avatar TEXT,
		large_avatar TEXT,
		alt TEXT,
		is_banned INTEGER NOT NULL DEFAULT 0,
		is_suicide INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER,
		unique_name TEXT,
		name TEXT,
		created TEXT,
		"desc" TEXT,
		type TEXT,
		loc_id INTEGER,
		loc_name TEXT,
		signature TEXT,
		avatar TEXT,
		large_avatar TEXT,
		alt TEXT,
		is_banned INTEGER,
		is_suicide INTEGER,
		version INTEGER,
		updated_at TIMESTAMP,
		user_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS user_extra (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE REFERENCES "user"(id),
		statuses_count INTEGER,
		following_count INTEGER,
		followers_count INTEGER,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS account (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		user_id INTEGER REFERENCES "user"(id),
		session TEXT NOT NULL,
		created TIMESTAMP NOT NULL,
		is_activated INTEGER NOT NULL DEFAULT 0,
		is_invalid INTEGER NOT NULL DEFAULT 0
	)`,

	subjectDDL("book"),
	subjectHistoricalDDL("book"),
	subjectDDL("movie"),
	subjectHistoricalDDL("movie"),
	subjectDDL("music"),
	subjectHistoricalDDL("music"),

	interestDDL("my_book", "book"),
	interestHistoricalDDL("my_book"),
	interestDDL("my_movie", "movie"),
	interestHistoricalDDL("my_movie"),
	interestDDL("my_music", "music"),
	interestHistoricalDDL("my_music"),

	`CREATE TABLE IF NOT EXISTS note (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER NOT NULL UNIQUE,
		user_id INTEGER REFERENCES "user"(id),
		title TEXT,
		created TEXT,
		content TEXT,
		images TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS note_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER,
		user_id INTEGER,
		title TEXT,
		created TEXT,
		content TEXT,
		images TEXT,
		version INTEGER,
		updated_at TIMESTAMP,
		note_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS broadcast (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER NOT NULL UNIQUE,
		douban_user_id INTEGER,
		author_name TEXT,
		kind TEXT,
		"text" TEXT,
		created TEXT,
		reshared_id INTEGER,
		images TEXT,
		reshared_count INTEGER,
		like_count INTEGER,
		comments_count INTEGER,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS broadcast_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER,
		douban_user_id INTEGER,
		author_name TEXT,
		kind TEXT,
		"text" TEXT,
		created TEXT,
		reshared_id INTEGER,
		images TEXT,
		reshared_count INTEGER,
		like_count INTEGER,
		comments_count INTEGER,
		version INTEGER,
		updated_at TIMESTAMP,
		broadcast_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS timeline (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES "user"(id),
		broadcast_id INTEGER NOT NULL REFERENCES broadcast(id),
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, broadcast_id)
	)`,

	`CREATE TABLE IF NOT EXISTS comment (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_type TEXT NOT NULL,
		target_douban_id INTEGER NOT NULL,
		douban_id INTEGER NOT NULL,
		author_name TEXT,
		author_url TEXT,
		created TEXT,
		"text" TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (target_type, target_douban_id, douban_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comment_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_type TEXT,
		target_douban_id INTEGER,
		douban_id INTEGER,
		author_name TEXT,
		author_url TEXT,
		created TEXT,
		"text" TEXT,
		version INTEGER,
		updated_at TIMESTAMP,
		comment_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS photo_album (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER NOT NULL UNIQUE,
		user_id INTEGER REFERENCES "user"(id),
		title TEXT,
		"desc" TEXT,
		cover TEXT,
		"count" INTEGER,
		last_updated TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS photo_album_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER,
		user_id INTEGER,
		title TEXT,
		"desc" TEXT,
		cover TEXT,
		"count" INTEGER,
		last_updated TEXT,
		version INTEGER,
		updated_at TIMESTAMP,
		photo_album_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS photo_picture (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER NOT NULL UNIQUE,
		album_id INTEGER REFERENCES photo_album(id),
		url TEXT,
		"desc" TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS photo_picture_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id INTEGER,
		album_id INTEGER,
		url TEXT,
		"desc" TEXT,
		version INTEGER,
		updated_at TIMESTAMP,
		photo_picture_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`,

	relationDDL("following"),
	relationHistoricalDDL("following"),
	relationDDL("follower"),
	relationHistoricalDDL("follower"),
	relationDDL("block_user"),
	relationHistoricalDDL("block_user"),

	`CREATE TABLE IF NOT EXISTS favorite (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES "user"(id),
		target_type TEXT NOT NULL,
		target_douban_id INTEGER NOT NULL,
		title TEXT,
		tags TEXT,
		created TEXT,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, target_type, target_douban_id)
	)`,
	`CREATE TABLE IF NOT EXISTS favorite_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		target_type TEXT,
		target_douban_id INTEGER,
		title TEXT,
		tags TEXT,
		created TEXT,
		updated_at TIMESTAMP,
		favorite_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS attachment (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		mime_type TEXT,
		local TEXT,
		ref_count INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS setting (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		value TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_broadcast_user_created ON broadcast (douban_user_id, created)`,
	`CREATE INDEX IF NOT EXISTS idx_comment_target ON comment (target_type, target_douban_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attachment_local ON attachment (local)`,
	`CREATE INDEX IF NOT EXISTS idx_timeline_user ON timeline (user_id)`,

	originIndexDDL("user"),
	originIndexDDL("book"),
	originIndexDDL("movie"),
	originIndexDDL("music"),
	originIndexDDL("my_book"),
	originIndexDDL("my_movie"),
	originIndexDDL("my_music"),
	originIndexDDL("note"),
	originIndexDDL("broadcast"),
	originIndexDDL("comment"),
	originIndexDDL("photo_album"),
	originIndexDDL("photo_picture"),
	originIndexDDL("following"),
	originIndexDDL("follower"),
	originIndexDDL("block_user"),
	originIndexDDL("favorite"),
}

// originIndexDDL indexes a historical table by the current row it was
// archived from.
func originIndexDDL(name string) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_historical_origin ON %s_historical (%s_id)`,
		name, name, name)
}

func subjectDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id TEXT NOT NULL UNIQUE,
		title TEXT,
		alt_title TEXT,
		alt TEXT,
		image TEXT,
		rating TEXT,
		author TEXT,
		summary TEXT,
		attrs TEXT,
		tags TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`, name)
}

func subjectHistoricalDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		douban_id TEXT,
		title TEXT,
		alt_title TEXT,
		alt TEXT,
		image TEXT,
		rating TEXT,
		author TEXT,
		summary TEXT,
		attrs TEXT,
		tags TEXT,
		version INTEGER,
		updated_at TIMESTAMP,
		%s_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`, name, name)
}

func interestDDL(name, subject string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES "user"(id),
		subject_id INTEGER NOT NULL REFERENCES %s(id),
		rating INTEGER,
		tags TEXT,
		comment TEXT,
		create_time TEXT,
		status TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, subject_id)
	)`, name, subject)
}

func interestHistoricalDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		subject_id INTEGER,
		rating INTEGER,
		tags TEXT,
		comment TEXT,
		create_time TEXT,
		status TEXT,
		version INTEGER,
		updated_at TIMESTAMP,
		%s_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`, name, name)
}

func relationDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES "user"(id),
		name TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, name)
	)`, name)
}

func relationHistoricalDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_historical (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		name TEXT,
		updated_at TIMESTAMP,
		%s_id INTEGER NOT NULL,
		deleted_at TIMESTAMP NOT NULL
	)`, name, name)
}

// migrate applies the schema. Safe to call from every process.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
