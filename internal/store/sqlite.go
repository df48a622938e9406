// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a SQLite implementation of the [Set] interface.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database at dsn and creates the schema if needed.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS posted_links (
			link TEXT PRIMARY KEY,
			posted_at INTEGER NOT NULL
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLite{db: db}, nil
}

// Has reports whether link is in the set.
func (s *SQLite) Has(ctx context.Context, link string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posted_links WHERE link = ?;`, link).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Add inserts link. The primary key makes the check and the insert atomic.
func (s *SQLite) Add(ctx context.Context, link string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO posted_links (link, posted_at)
		VALUES (?, ?)
		ON CONFLICT (link) DO NOTHING;
	`, link, time.Now().UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Remove deletes link.
func (s *SQLite) Remove(ctx context.Context, link string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posted_links WHERE link = ?;`, link)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// List returns all links ordered by insertion time.
func (s *SQLite) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT link FROM posted_links ORDER BY posted_at, rowid;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }
