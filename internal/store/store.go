// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package store provides the relational persistence layer.
//
// Entities live in two parallel tables, the current table and an
// append-only historical table with identical columns plus a foreign key
// back to the current row and a deleted_at timestamp. A subset of the
// columns, the compared attributes, defines semantic equality: when a
// fresh snapshot disagrees on any of them the current row is cloned into
// history, updated in place, and its version incremented.
//
// The store file is shared across the parent and every worker process.
// All writes run inside transactions and the connection is opened with an
// elongated busy timeout so that cross-process contention resolves by
// waiting instead of failing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// busyTimeout is how long a writer waits on a locked store file before
// giving up. Writes originate from multiple processes.
const busyTimeout = 30 * time.Second

var (
	// ErrIntegrity is returned by SafeCreate on a unique conflict. It is
	// the expected driver of the update branch of the upsert protocol and
	// never escapes Apply.
	ErrIntegrity = errors.New("store: integrity violation")

	// ErrTxAborted wraps any error raised inside an Atomic block.
	ErrTxAborted = errors.New("store: transaction aborted")

	// ErrNotFound is returned by row lookups with no match.
	ErrNotFound = errors.New("store: not found")
)

// Fields is a loosely typed row image. Unknown keys are silently dropped
// on write; that is the point (safe_create semantics).
type Fields map[string]any

// TimeLayout is the fixed-width UTC encoding for timestamp columns.
// Fixed width keeps lexicographic order aligned with time order, which
// snapshot reconciliation relies on when comparing updated_at as text.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders a timestamp in the store's canonical column form.
func FormatTime(ts time.Time) string {
	return ts.UTC().Format(TimeLayout)
}

// ParseTime decodes a timestamp column, tolerating the site's plain
// form alongside the canonical one.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// bindValue converts Go values into their canonical column form before
// they hit the driver.
func bindValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return FormatTime(ts)
	}
	return v
}

// Querier is satisfied by both *sql.DB and *sql.Tx so the low-level
// operations compose with Atomic.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the SQLite connection and the schema.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the store file and ensures the
// schema exists. The parent directory is created on demand.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// A single connection per process keeps transactions serialized
	// inside the process; cross-process serialization is the busy
	// timeout's job.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		closeQuietly(db)
		return nil, err
	}
	return s, nil
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for read-only queries.
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies the connection is still usable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the connection.
func (s *Store) Close() error { return s.db.Close() }

// closeQuietly closes a resource and explicitly ignores any error.
// Cleanup in error paths is best-effort.
func closeQuietly(db *sql.DB) { _ = db.Close() }

// Atomic runs fn inside one transaction. Any error returned from fn (or
// a panic, which is re-raised) rolls the transaction back and is
// reported wrapped in ErrTxAborted.
func (s *Store) Atomic(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxAborted, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrTxAborted) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTxAborted, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxAborted, err)
	}
	return nil
}

// SafeCreate inserts a row carrying only the columns declared by the
// table, silently dropping unknown keys. A unique conflict surfaces as
// ErrIntegrity.
func (s *Store) SafeCreate(ctx context.Context, q Querier, t *Table, f Fields) (int64, error) {
	cols := make([]string, 0, len(f))
	args := make([]any, 0, len(f))
	for _, c := range t.Columns {
		if v, ok := f[c]; ok {
			cols = append(cols, quoteIdent(c))
			args = append(args, bindValue(v))
		}
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("store: no insertable fields for %s", t.Name)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

// SafeUpdate updates the row with the given id, with the same column
// filtering as SafeCreate.
func (s *Store) SafeUpdate(ctx context.Context, q Querier, t *Table, f Fields, id int64) error {
	sets := make([]string, 0, len(f))
	args := make([]any, 0, len(f)+1)
	for _, c := range t.Columns {
		if v, ok := f[c]; ok {
			sets = append(sets, quoteIdent(c)+" = ?")
			args = append(args, bindValue(v))
		}
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.Name, strings.Join(sets, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

// Clone copies a current row into the table's historical twin. The
// historical row carries the same column values, the origin foreign key
// set to the current row's id, and any missing fields taken from
// defaults (notably deleted_at).
func (s *Store) Clone(ctx context.Context, q Querier, t *Table, row Fields, defaults Fields) (int64, error) {
	if t.Historical == "" {
		return 0, fmt.Errorf("store: table %s has no historical twin", t.Name)
	}

	cols := make([]string, 0, len(t.Columns)+2)
	args := make([]any, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		v, ok := row[c]
		if !ok {
			v = defaults[c]
		}
		cols = append(cols, quoteIdent(c))
		args = append(args, bindValue(v))
	}
	cols = append(cols, quoteIdent(t.OriginFK))
	args = append(args, row["id"])
	if v, ok := defaults["deleted_at"]; ok {
		cols = append(cols, quoteIdent("deleted_at"))
		args = append(args, bindValue(v))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Historical, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

// GetBy returns the first row matching the given column values,
// including its id, as a Fields image.
func (s *Store) GetBy(ctx context.Context, q Querier, t *Table, where Fields) (Fields, error) {
	conds := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	// Deterministic condition order keeps the statement cache warm.
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, quoteIdent(k)+" = ?")
		args = append(args, bindValue(where[k]))
	}

	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE %s LIMIT 1",
		t.selectList(), t.Name, strings.Join(conds, " AND "))
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapError(err)
		}
		return nil, ErrNotFound
	}
	return t.scanRow(rows)
}

// Equals reports whether the fresh field values agree with the current
// row on every compared attribute. In the default non-strict mode an
// attribute absent from fresh counts as equal; strict mode demands
// presence. Values are compared through string conversion so numeric and
// text representations normalize.
func Equals(t *Table, current, fresh Fields, strict bool) bool {
	for _, attr := range t.Compared {
		fv, ok := fresh[attr]
		if !ok {
			if strict {
				return false
			}
			continue
		}
		if normalize(current[attr]) != normalize(fv) {
			return false
		}
	}
	return true
}

// normalize renders a value into the canonical comparison string.
func normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return FormatTime(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// placeholders returns "?, ?, ..." of length n.
func placeholders(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	return b.String()
}

// quoteIdent quotes a column name. Some column names (desc, count) are
// SQL keywords.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// mapError translates driver errors into the package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code() == sqlite3.CONSTRAINT {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	// The driver occasionally surfaces constraint failures through the
	// database/sql layer as plain strings.
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed") {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return err
}
