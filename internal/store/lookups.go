// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doufen-org/graveyard/internal/models"
)

const accountColumns = `id, name, user_id, session, created, is_activated, is_invalid`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	var name, created sql.NullString
	var userID sql.NullInt64
	err := row.Scan(&a.ID, &name, &userID, &a.Session, &created, &a.IsActivated, &a.IsInvalid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	a.Name = name.String
	if ts, ok := ParseTime(created.String); ok {
		a.Created = ts
	}
	if userID.Valid {
		a.UserID = &userID.Int64
	}
	return &a, nil
}

// GetAccount returns one account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM account WHERE id = ?`, id)
	return scanAccount(row)
}

// ListAccounts returns every account, oldest first.
func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM account ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAccount records a new login session.
func (s *Store) CreateAccount(ctx context.Context, name, session string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO account (name, session, created) VALUES (?, ?, ?)`,
		name, session, FormatTime(time.Now()))
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

// ActivateAccount makes id the single activated account.
func (s *Store) ActivateAccount(ctx context.Context, id int64) error {
	return s.Atomic(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE account SET is_activated = 0`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE account SET is_activated = 1, is_invalid = 0 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DefaultAccount returns the activated account whose user foreign key is
// bound, or ErrNotFound.
func (s *Store) DefaultAccount(ctx context.Context) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM account
		 WHERE is_activated = 1 AND user_id IS NOT NULL LIMIT 1`)
	return scanAccount(row)
}

// MarkAccountInvalid flags a dead login session. Called from inside the
// failing task's worker process; the parent observes it on next read.
func (s *Store) MarkAccountInvalid(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE account SET is_invalid = 1 WHERE id = ?`, id)
	return mapError(err)
}

// BindAccountUser links the account to its fetched owner user.
func (s *Store) BindAccountUser(ctx context.Context, accountID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE account SET user_id = ? WHERE id = ?`, userID, accountID)
	return mapError(err)
}

// GetUser returns a user row by primary key.
func (s *Store) GetUser(ctx context.Context, id int64) (Fields, error) {
	return s.GetBy(ctx, s.db, Users, Fields{"id": id})
}

// GetUserByUniqueName looks a user up by its unique Douban domain name.
func (s *Store) GetUserByUniqueName(ctx context.Context, name string) (Fields, error) {
	return s.GetBy(ctx, s.db, Users, Fields{"unique_name": name})
}

// BroadcastRowID resolves a broadcast's external id to its row id.
func (s *Store) BroadcastRowID(ctx context.Context, q Querier, doubanID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM broadcast WHERE douban_id = ?`, doubanID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, mapError(err)
}

// ActiveBroadcastIDs returns the external ids of the user's broadcasts
// created at or after the cutoff. created is stored in the site's
// "2006-01-02 15:04:05" form, which compares correctly as text.
func (s *Store) ActiveBroadcastIDs(ctx context.Context, doubanUserID int64, cutoff string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT douban_id FROM broadcast
		 WHERE douban_user_id = ? AND created >= ? ORDER BY created DESC`,
		doubanUserID, cutoff)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FavoriteTypes lists the distinct target types of a user's stored
// favorites.
func (s *Store) FavoriteTypes(ctx context.Context, q Querier, userID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT target_type FROM favorite WHERE user_id = ? ORDER BY target_type`,
		userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// AddAttachment records a discovered attachment URL, bumping ref_count
// when it is already known.
func (s *Store) AddAttachment(ctx context.Context, q Querier, url string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO attachment (url, created_at) VALUES (?, ?)
		 ON CONFLICT (url) DO UPDATE SET ref_count = ref_count + 1`,
		url, FormatTime(time.Now()))
	return mapError(err)
}

// NextPendingAttachment picks any attachment not yet materialized under
// the cache directory.
func (s *Store) NextPendingAttachment(ctx context.Context) (*models.Attachment, error) {
	var a models.Attachment
	var mime, local sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, mime_type, local, ref_count FROM attachment
		 WHERE local IS NULL LIMIT 1`).
		Scan(&a.ID, &a.URL, &mime, &local, &a.RefCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	a.MimeType = mime.String
	if local.Valid {
		a.Local = &local.String
	}
	return &a, nil
}

// PendingAttachments returns every attachment not yet materialized,
// discovery order.
func (s *Store) PendingAttachments(ctx context.Context) ([]*models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, mime_type, local, ref_count FROM attachment
		 WHERE local IS NULL ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Attachment
	for rows.Next() {
		var a models.Attachment
		var mime, local sql.NullString
		if err := rows.Scan(&a.ID, &a.URL, &mime, &local, &a.RefCount); err != nil {
			return nil, err
		}
		a.MimeType = mime.String
		if local.Valid {
			a.Local = &local.String
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SetAttachmentLocal records the materialized file. Only called once the
// file exists.
func (s *Store) SetAttachmentLocal(ctx context.Context, id int64, local, mimeType string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE attachment SET local = ?, mime_type = ? WHERE id = ?`,
		local, mimeType, id)
	return mapError(err)
}
