// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.backpr.com/webtomed/internal/cli"
	"go.backpr.com/webtomed/internal/cli/clitest"
	"go.backpr.com/webtomed/internal/filelock"
	"go.backpr.com/webtomed/internal/testutil"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Zee</title>
<item><title>Rust vs Go</title><link>https://x/rust-vs-go</link><category>backend</category>
<description>&lt;p&gt;Hello &lt;b&gt;there&lt;/b&gt; world&lt;/p&gt;</description></item>
</channel></rss>`

func TestEngine(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testFeed)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	seen := write("seen.txt", "https://x/rust-vs-go\n")
	forgettable := write("forget.txt", "https://x/a\nhttps://x/b\n")
	untouched := write("untouched.txt", "")
	lockedDir := filepath.Join(dir, "locked")
	if err := os.Mkdir(lockedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	lock, err := filelock.Acquire(filepath.Join(lockedDir, ".run.lock"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lock.Release() })

	botEnv := map[string]string{
		"TELEGRAM_TOKEN":  "tg",
		"CHAT_ID":         "-100",
		"GITHUB_TOKEN":    "gh",
		"GITHUB_REPO":     "octo/blog",
		"MIRROR_TOKEN":    "key",
		"STATE_DIRECTORY": lockedDir,
	}

	clitest.Run(t, func(t *testing.T) *engine {
		return &engine{now: func() time.Time { return time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC) }}
	}, map[string]clitest.Case[*engine]{
		"no command": {
			WantErr: cli.ErrInvalidArgs,
		},
		"unknown command": {
			Args:    []string{"publish"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run without configuration": {
			Args:    []string{"run"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run with non-numeric chat": {
			Args:    []string{"run"},
			Env:     map[string]string{"CHAT_ID": "@channel"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run with bad layout": {
			Args:    []string{"-layout", "hugo", "run"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run with bad policy": {
			Args:    []string{"run"},
			Env:     map[string]string{"ON_BRANCH_EXISTS": "retry"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run with bad boolean": {
			Args:    []string{"run"},
			Env:     map[string]string{"AUTO_MERGE": "sometimes"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run already running": {
			Args:    []string{"run"},
			Env:     botEnv,
			WantErr: errAlreadyRunning,
		},
		"preview": {
			Args: []string{"-feed", srv.URL, "-store", untouched, "-layout", "jekyll", "preview"},
			WantInStdout: "Rust vs Go\n\nTL;DR 🚀\nHello there world...\n\nHello there world\n\n---\n\n" +
				"👉 Want the full deep dive? Check it out here:\nhttps://x/rust-vs-go\n\n" +
				"# bot-article-rust-vs-go-20240501-102030\n" +
				"# _posts/2024-05-01-rust-vs-go.md\n\n" +
				"---\ntitle: \"Rust vs Go\"\n",
			CheckFunc: func(t *testing.T, _ *engine) {
				b, err := os.ReadFile(untouched)
				if err != nil {
					t.Fatal(err)
				}
				testutil.AssertEqual(t, string(b), "")
			},
		},
		"preview nothing new": {
			Args:         []string{"preview"},
			Env:          map[string]string{"FEED_URL": srv.URL, "STORE": seen},
			WantInStdout: "No new articles to publish.",
		},
		"posted": {
			Args:         []string{"-store", "file:" + seen, "posted"},
			WantInStdout: "https://x/rust-vs-go\n",
		},
		"forget": {
			Args:         []string{"-store", forgettable, "forget", "https://x/a"},
			WantInStdout: "Forgot https://x/a",
			CheckFunc: func(t *testing.T, _ *engine) {
				b, err := os.ReadFile(forgettable)
				if err != nil {
					t.Fatal(err)
				}
				testutil.AssertEqual(t, string(b), "https://x/b\n")
			},
		},
		"forget without link": {
			Args:    []string{"forget"},
			WantErr: cli.ErrInvalidArgs,
		},
	})
}

func TestConfigurePrecedence(t *testing.T) {
	t.Parallel()

	e := &engine{label: true}
	env := &cli.Env{
		Getenv: func(name string) string {
			return map[string]string{
				"FEED_URL":        "https://env.example/feed.xml",
				"LABEL":           "false",
				"AUTO_MERGE":      "true",
				"STATE_DIRECTORY": "/var/lib/webtomed",
			}[name]
		},
	}
	e.feedURL = "https://flag.example/feed.xml"
	if err := e.configure(env); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, e.feedURL, "https://flag.example/feed.xml")
	testutil.AssertEqual(t, e.label, false)
	testutil.AssertEqual(t, e.autoMerge, true)
	testutil.AssertEqual(t, e.base, "main")
	testutil.AssertEqual(t, e.layout, "articles")
	testutil.AssertEqual(t, e.onBranchExists, "abort")
	testutil.AssertEqual(t, e.storeDSN, "/var/lib/webtomed/posted.txt")
}
