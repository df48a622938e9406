// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a PostgreSQL implementation of the [Set] interface.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and creates the schema if needed.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS posted_links (
			link TEXT PRIMARY KEY,
			posted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// Has reports whether link is in the set.
func (s *Postgres) Has(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posted_links WHERE link = $1);`, link).Scan(&exists)
	return exists, err
}

// Add inserts link. Concurrent callers racing for the same link see exactly
// one of them succeed.
func (s *Postgres) Add(ctx context.Context, link string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO posted_links (link) VALUES ($1)
		ON CONFLICT (link) DO NOTHING;
	`, link)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Remove deletes link.
func (s *Postgres) Remove(ctx context.Context, link string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM posted_links WHERE link = $1;`, link)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// List returns all links ordered by insertion time.
func (s *Postgres) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT link FROM posted_links ORDER BY posted_at, link;`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
