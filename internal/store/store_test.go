// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.backpr.com/webtomed/internal/api/github/gist"
	"go.backpr.com/webtomed/internal/testutil"
)

func testSet(t *testing.T, s Set) {
	t.Helper()
	ctx := t.Context()

	links, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(links), 0)

	has, err := s.Has(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, has, false)

	for _, tc := range []struct {
		link  string
		added bool
	}{
		{"https://example.com/a", true},
		{"https://example.com/b", true},
		{"https://example.com/a", false},
		{"https://example.com/c", true},
	} {
		added, err := s.Add(ctx, tc.link)
		if err != nil {
			t.Fatal(err)
		}
		if added != tc.added {
			t.Fatalf("Add(%q) = %v, want %v", tc.link, added, tc.added)
		}
	}

	has, err = s.Has(ctx, "https://example.com/b")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, has, true)

	links, err = s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, links, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	})

	removed, err := s.Remove(ctx, "https://example.com/b")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, removed, true)

	removed, err = s.Remove(ctx, "https://example.com/b")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, removed, false)

	links, err = s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, links, []string{
		"https://example.com/a",
		"https://example.com/c",
	})
}

func TestMem(t *testing.T) {
	t.Parallel()
	testSet(t, NewMem())
}

func TestFile(t *testing.T) {
	t.Parallel()
	testSet(t, NewFile(filepath.Join(t.TempDir(), "posted.txt")))
}

func TestFilePersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "posted.txt")
	if err := os.WriteFile(path, []byte("https://example.com/a\n\n  https://example.com/b  \nhttps://example.com/a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewFile(path)
	if _, err := s.Add(t.Context(), "https://example.com/c"); err != nil {
		t.Fatal(err)
	}

	// A fresh instance sees what the previous one wrote.
	links, err := NewFile(path).List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, links, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	})
}

func TestFileAddAfterUnterminatedLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "posted.txt")
	if err := os.WriteFile(path, []byte("https://x/a"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewFile(path)
	added, err := s.Add(t.Context(), "https://x/b")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, added, true)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(b), "https://x/a\nhttps://x/b\n")
	for _, link := range []string{"https://x/a", "https://x/b"} {
		has, err := s.Has(t.Context(), link)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, has, true)
	}
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	s, err := NewSQLite(t.Context(), filepath.Join(t.TempDir(), "posted.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	testSet(t, s)
}

func TestSQLiteConcurrentAdd(t *testing.T) {
	t.Parallel()

	s, err := NewSQLite(t.Context(), filepath.Join(t.TempDir(), "posted.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	var (
		wg    sync.WaitGroup
		added atomic.Int32
	)
	for range 8 {
		wg.Go(func() {
			ok, err := s.Add(t.Context(), "https://example.com/race")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				added.Add(1)
			}
		})
	}
	wg.Wait()
	testutil.AssertEqual(t, added.Load(), int32(1))
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("WEBTOMED_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WEBTOMED_TEST_DATABASE_URL is not set")
	}

	s, err := NewPostgres(t.Context(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, link := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
			s.Remove(t.Context(), link)
		}
		s.Close()
	})
	testSet(t, s)
}

func newGistServer(t *testing.T) *gist.Client {
	t.Helper()

	var (
		mu      sync.Mutex
		content string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gists/abc", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewEncoder(w).Encode(&gist.Gist{Files: map[string]gist.File{gistFile: {Content: content}}})
	})
	mux.HandleFunc("PATCH /gists/abc", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
		}
		g := testutil.UnmarshalJSON[gist.Gist](t, b)
		mu.Lock()
		content = g.Files[gistFile].Content
		mu.Unlock()
		json.NewEncoder(w).Encode(&g)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &gist.Client{Token: "test", BaseURL: srv.URL, HTTPClient: srv.Client()}
}

func TestGist(t *testing.T) {
	t.Parallel()
	testSet(t, NewGist(newGistServer(t), "abc"))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gc := newGistServer(t)

	cases := map[string]struct {
		dsn     string
		opts    Options
		wantErr error
		check   func(t *testing.T, s Set)
	}{
		"mem": {
			dsn: "mem:",
			check: func(t *testing.T, s Set) {
				if _, ok := s.(*Mem); !ok {
					t.Fatalf("got %T, want *Mem", s)
				}
			},
		},
		"bare path": {
			dsn: filepath.Join(dir, "bare.txt"),
			check: func(t *testing.T, s Set) {
				if _, ok := s.(*File); !ok {
					t.Fatalf("got %T, want *File", s)
				}
			},
		},
		"file scheme": {
			dsn: "file:" + filepath.Join(dir, "scheme.txt"),
			check: func(t *testing.T, s Set) {
				f, ok := s.(*File)
				if !ok {
					t.Fatalf("got %T, want *File", s)
				}
				testutil.AssertEqual(t, f.path, filepath.Join(dir, "scheme.txt"))
			},
		},
		"sqlite": {
			dsn: "sqlite:" + filepath.Join(dir, "posted.db"),
			check: func(t *testing.T, s Set) {
				if _, ok := s.(*SQLite); !ok {
					t.Fatalf("got %T, want *SQLite", s)
				}
			},
		},
		"gist": {
			dsn:  "gist:abc",
			opts: Options{Gist: gc},
			check: func(t *testing.T, s Set) {
				if _, ok := s.(*Gist); !ok {
					t.Fatalf("got %T, want *Gist", s)
				}
			},
		},
		"gist without client": {
			dsn:     "gist:abc",
			wantErr: ErrUnknownBackend,
		},
		"empty": {
			dsn:     "",
			wantErr: ErrUnknownBackend,
		},
		"unknown scheme": {
			dsn:     "redis://localhost",
			wantErr: ErrUnknownBackend,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := Open(t.Context(), tc.dsn, tc.opts)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { s.Close() })
			tc.check(t, s)
		})
	}
}
