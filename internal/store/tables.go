// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package store

import (
	"database/sql"
	"strings"
)

// Table describes one current table: its insertable columns, the
// compared attributes that define semantic equality, and its historical
// twin. The upsert protocol and the snapshot reconciliation are
// parametric over this metadata instead of a type hierarchy.
type Table struct {
	Name       string
	Columns    []string // insertable columns, excluding id
	Compared   []string
	Historical string // historical table name, empty when the table keeps no history
	OriginFK   string // foreign key column on the historical table, e.g. user_id
}

func (t *Table) selectList() string {
	quoted := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// scanRow scans the current result row (id + Columns) into a Fields map.
func (t *Table) scanRow(rows *sql.Rows) (Fields, error) {
	dest := make([]any, len(t.Columns)+1)
	for i := range dest {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	f := make(Fields, len(t.Columns)+1)
	f["id"] = *dest[0].(*any)
	for i, c := range t.Columns {
		f[c] = *dest[i+1].(*any)
	}
	return f, nil
}

// subjectCompared is the intended compared-attribute list shared by the
// three subject kinds.
var subjectCompared = []string{
	"rating", "author", "alt_title", "image", "title", "summary", "attrs", "alt", "tags",
}

var subjectColumns = []string{
	"douban_id", "title", "alt_title", "alt", "image", "rating",
	"author", "summary", "attrs", "tags", "version", "updated_at",
}

var interestColumns = []string{
	"user_id", "subject_id", "rating", "tags", "comment",
	"create_time", "status", "version", "updated_at",
}

var interestCompared = []string{"rating", "tags", "comment", "create_time", "status"}

var relationColumns = []string{"user_id", "name", "updated_at"}

// Tables is the schema registry keyed by current-table name.
var (
	Users = &Table{
		Name: "user",
		Columns: []string{
			"douban_id", "unique_name", "name", "created", "desc", "type",
			"loc_id", "loc_name", "signature", "avatar", "large_avatar",
			"alt", "is_banned", "is_suicide", "version", "updated_at",
		},
		Compared: []string{
			"douban_id", "unique_name", "name", "created", "desc", "type",
			"loc_id", "loc_name", "signature", "avatar", "large_avatar",
			"alt", "is_banned", "is_suicide",
		},
		Historical: "user_historical",
		OriginFK:   "user_id",
	}

	UserExtras = &Table{
		Name: "user_extra",
		Columns: []string{
			"user_id", "statuses_count", "following_count",
			"followers_count", "updated_at",
		},
		Compared: []string{"statuses_count", "following_count", "followers_count"},
	}

	Accounts = &Table{
		Name: "account",
		Columns: []string{
			"name", "user_id", "session", "created", "is_activated", "is_invalid",
		},
	}

	Books = &Table{
		Name: "book", Columns: subjectColumns, Compared: subjectCompared,
		Historical: "book_historical", OriginFK: "book_id",
	}
	Movies = &Table{
		Name: "movie", Columns: subjectColumns, Compared: subjectCompared,
		Historical: "movie_historical", OriginFK: "movie_id",
	}
	Musics = &Table{
		Name: "music", Columns: subjectColumns, Compared: subjectCompared,
		Historical: "music_historical", OriginFK: "music_id",
	}

	MyBooks = &Table{
		Name: "my_book", Columns: interestColumns, Compared: interestCompared,
		Historical: "my_book_historical", OriginFK: "my_book_id",
	}
	MyMovies = &Table{
		Name: "my_movie", Columns: interestColumns, Compared: interestCompared,
		Historical: "my_movie_historical", OriginFK: "my_movie_id",
	}
	MyMusics = &Table{
		Name: "my_music", Columns: interestColumns, Compared: interestCompared,
		Historical: "my_music_historical", OriginFK: "my_music_id",
	}

	Notes = &Table{
		Name: "note",
		Columns: []string{
			"douban_id", "user_id", "title", "created", "content",
			"images", "version", "updated_at",
		},
		Compared:   []string{"title", "content"},
		Historical: "note_historical",
		OriginFK:   "note_id",
	}

	Broadcasts = &Table{
		Name: "broadcast",
		Columns: []string{
			"douban_id", "douban_user_id", "author_name", "kind", "text",
			"created", "reshared_id", "images", "reshared_count",
			"like_count", "comments_count", "version", "updated_at",
		},
		Compared:   []string{"text", "created", "reshared_count", "like_count", "comments_count"},
		Historical: "broadcast_historical",
		OriginFK:   "broadcast_id",
	}

	Timelines = &Table{
		Name:    "timeline",
		Columns: []string{"user_id", "broadcast_id", "updated_at"},
	}

	Comments = &Table{
		Name: "comment",
		Columns: []string{
			"target_type", "target_douban_id", "douban_id", "author_name",
			"author_url", "created", "text", "version", "updated_at",
		},
		Compared:   []string{"text"},
		Historical: "comment_historical",
		OriginFK:   "comment_id",
	}

	PhotoAlbums = &Table{
		Name: "photo_album",
		Columns: []string{
			"douban_id", "user_id", "title", "desc", "cover", "count",
			"last_updated", "version", "updated_at",
		},
		Compared:   []string{"title", "desc", "cover", "count", "last_updated"},
		Historical: "photo_album_historical",
		OriginFK:   "photo_album_id",
	}

	PhotoPictures = &Table{
		Name: "photo_picture",
		Columns: []string{
			"douban_id", "album_id", "url", "desc", "version", "updated_at",
		},
		Compared:   []string{"url", "desc"},
		Historical: "photo_picture_historical",
		OriginFK:   "photo_picture_id",
	}

	Followings = &Table{
		Name: "following", Columns: relationColumns,
		Historical: "following_historical", OriginFK: "following_id",
	}
	Followers = &Table{
		Name: "follower", Columns: relationColumns,
		Historical: "follower_historical", OriginFK: "follower_id",
	}
	BlockUsers = &Table{
		Name: "block_user", Columns: relationColumns,
		Historical: "block_user_historical", OriginFK: "block_user_id",
	}

	Favorites = &Table{
		Name: "favorite",
		Columns: []string{
			"user_id", "target_type", "target_douban_id", "title", "tags",
			"created", "updated_at",
		},
		Compared:   []string{"title", "tags"},
		Historical: "favorite_historical",
		OriginFK:   "favorite_id",
	}

	Attachments = &Table{
		Name:    "attachment",
		Columns: []string{"url", "mime_type", "local", "ref_count", "created_at"},
	}

	Settings = &Table{
		Name:    "setting",
		Columns: []string{"name", "value"},
	}
)

// SubjectTable maps a subject kind to its current table.
func SubjectTable(kind string) *Table {
	switch kind {
	case "movie":
		return Movies
	case "music":
		return Musics
	default:
		return Books
	}
}

// InterestTable maps a subject kind to its interests table.
func InterestTable(kind string) *Table {
	switch kind {
	case "movie":
		return MyMovies
	case "music":
		return MyMusics
	default:
		return MyBooks
	}
}

// AllTables enumerates every registered table, current and plain.
var AllTables = []*Table{
	Users, UserExtras, Accounts,
	Books, Movies, Musics,
	MyBooks, MyMovies, MyMusics,
	Notes, Broadcasts, Timelines, Comments,
	PhotoAlbums, PhotoPictures,
	Followings, Followers, BlockUsers,
	Favorites, Attachments, Settings,
}
