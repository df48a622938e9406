// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements a persisted set of already published links.
//
// The set is backed by a newline-delimited text file by default, but can also
// live in memory, in SQLite, in PostgreSQL or inside a GitHub Gist. The backend
// is selected by a DSN passed to [Open].
package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.backpr.com/webtomed/internal/api/github/gist"
)

// Set is a persisted set of links.
type Set interface {
	// Has reports whether link is in the set.
	Has(ctx context.Context, link string) (bool, error)
	// Add inserts link into the set. It reports false if link was already
	// present. Backends with transactional storage perform the check and the
	// insert atomically.
	Add(ctx context.Context, link string) (added bool, err error)
	// Remove deletes link from the set. It reports false if link was absent.
	Remove(ctx context.Context, link string) (removed bool, err error)
	// List returns all links in insertion order.
	List(ctx context.Context) ([]string, error)
	// Close releases any resources held by the set.
	Close() error
}

// ErrUnknownBackend is returned by [Open] for DSNs it can't interpret.
var ErrUnknownBackend = errors.New("unknown store backend")

// Options configures backends that need external clients.
type Options struct {
	// Gist is used by the gist: backend.
	Gist *gist.Client
}

// Open opens the set described by dsn:
//
//   - "mem:" keeps the set in memory;
//   - "sqlite:<path>" uses a SQLite database;
//   - "postgres://..." or "postgresql://..." uses a PostgreSQL database;
//   - "gist:<id>" stores posted.txt inside a GitHub Gist;
//   - "file:<path>" or a bare path uses a newline-delimited text file.
func Open(ctx context.Context, dsn string, opts Options) (Set, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("%w: empty DSN", ErrUnknownBackend)
	case dsn == "mem:":
		return NewMem(), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "gist:"):
		if opts.Gist == nil {
			return nil, fmt.Errorf("%w: gist backend requires a GitHub client", ErrUnknownBackend)
		}
		return NewGist(opts.Gist, strings.TrimPrefix(dsn, "gist:")), nil
	case strings.HasPrefix(dsn, "file:"):
		return NewFile(strings.TrimPrefix(dsn, "file:")), nil
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, dsn)
	default:
		return NewFile(dsn), nil
	}
}

// parseLines splits newline-delimited links, dropping blanks and duplicates
// while keeping the first occurrence order.
func parseLines(s string) []string {
	var (
		links []string
		seen  = make(map[string]struct{})
		sc    = bufio.NewScanner(strings.NewReader(s))
	)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		link := strings.TrimSpace(sc.Text())
		if link == "" {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}

func formatLines(links []string) string {
	if len(links) == 0 {
		return ""
	}
	return strings.Join(links, "\n") + "\n"
}
