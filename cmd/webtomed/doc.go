// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Webtomed offers new blog articles in a Telegram chat and, once confirmed,
proposes them to a GitHub repository as pull requests and mirrors them to
Hashnode.

# Usage

	$ webtomed [flags...] <command>

# Commands

  - run: poll Telegram and handle /start, /post and /help.
  - preview: print the preview and the Markdown document of the next article
    without recording it.
  - posted: list links recorded as posted.
  - forget <link>: remove a link from the posted set so it's offered again.

# Workflow

Sending /post to the bot fetches the feed and picks the first entry whose link
isn't recorded yet. The link is recorded right away, before anything is
published: if publishing fails later, the article won't be offered again
until it's removed with the forget command.

The bot sends a preview with Publish and Cancel buttons to CHAT_ID. Publish
creates a branch named bot-article-<slug>-<timestamp> from the base branch,
commits the article with YAML front-matter, opens a pull request, labels it
auto-generated and, with -auto-merge, merges it. The article is then posted to
the mirror; a mirror failure is reported as a warning and doesn't undo the
pull request. Cancel only edits the preview.

Drafts waiting for a decision are kept in memory. After a restart, buttons of
old previews report the draft as expired.

# Environment Variables

Required by the run command:

  - TELEGRAM_TOKEN: Telegram bot token.
  - CHAT_ID: numeric Telegram chat ID where previews are sent.
  - GITHUB_TOKEN: GitHub token with contents and pull requests permissions.
  - GITHUB_REPO: repository in owner/name form.
  - MIRROR_TOKEN: Hashnode personal access token.

Optional:

  - FEED_URL: feed to poll, https://zee.backpr.com/index.xml by default.
  - GITHUB_BASE: base branch, main by default.
  - LAYOUT: articles (articles/<slug>.md), posts (posts/<slug>.md) or jekyll
    (_posts/<YYYY-MM-DD>-<slug>.md).
  - ON_BRANCH_EXISTS: abort (default) or continue.
  - AUTO_MERGE, LABEL: booleans overriding -auto-merge and -label.
  - STORE: posted links store, see below.
  - STATE_DIRECTORY: directory for posted.txt and the run lock, the working
    directory by default.
  - MIRROR_URL: GraphQL endpoint, https://gql.hashnode.com by default.
  - MIRROR_PUBLICATION_ID: Hashnode publication to post to.
  - OWNER_ID: if set, only this Telegram user can use the bot.
  - RULES: Starlark file defining skip(entry).

Flags take precedence over environment variables.

# Posted Links

Links are stored in posted.txt in the state directory, one per line. STORE (or
-store) selects another backend:

  - file:<path> or a plain path: text file.
  - sqlite:<path>: SQLite database.
  - postgres://...: PostgreSQL database.
  - gist:<id>: posted.txt file in a GitHub Gist, using GITHUB_TOKEN.
  - mem: in memory, forgotten on exit.

SQL backends record links atomically, so several bots can share them. The run
command also refuses to start if another instance holds the lock in the state
directory.

# Skip Rules

A rules file can pass over entries without recording them:

	def skip(entry):
	    return "sponsored" in entry.categories or entry.title.startswith("Ad:")

entry has title, url, category, summary and categories fields.

# Running Under systemd

The run command notifies systemd when it's ready and, if WatchdogSec= is set,
pings the watchdog. With -v, every HTTP request is logged with tokens masked.
*/
package main

import (
	_ "embed"

	"go.backpr.com/webtomed/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
