// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.backpr.com/webtomed/cmd/webtomed/internal/bot"
	"go.backpr.com/webtomed/cmd/webtomed/internal/feed"
	"go.backpr.com/webtomed/cmd/webtomed/internal/format"
	"go.backpr.com/webtomed/cmd/webtomed/internal/mirror"
	"go.backpr.com/webtomed/cmd/webtomed/internal/publish"
	"go.backpr.com/webtomed/cmd/webtomed/internal/telegram"
	"go.backpr.com/webtomed/internal/api/github"
	"go.backpr.com/webtomed/internal/api/github/gist"
	"go.backpr.com/webtomed/internal/cli"
	"go.backpr.com/webtomed/internal/filelock"
	"go.backpr.com/webtomed/internal/httplogger"
	"go.backpr.com/webtomed/internal/logger"
	"go.backpr.com/webtomed/internal/store"
	"go.backpr.com/webtomed/internal/systemd"
)

var errAlreadyRunning = errors.New("already running")

func main() { cli.Main(new(engine)) }

type engine struct {
	fs *flag.FlagSet

	// configuration, populated from flags and environment
	dry            bool
	verbose        bool
	autoMerge      bool
	label          bool
	feedURL        string
	repo           string
	base           string
	layout         string
	onBranchExists string
	storeDSN       string
	stateDir       string
	rules          string
	mirrorURL      string
	publicationID  string
	ownerID        int64
	chatID         int64
	tgToken        string
	ghToken        string
	mirrorToken    string

	now   func() time.Time // overridden in tests
	httpc *http.Client     // set by Run with -v
}

func (e *engine) Flags(fs *flag.FlagSet) {
	e.fs = fs
	fs.BoolVar(&e.dry, "dry", false, "Log what would be published without calling GitHub or the mirror, and don't record links.")
	fs.BoolVar(&e.verbose, "v", false, "Enable debug logging.")
	fs.BoolVar(&e.autoMerge, "auto-merge", false, "Merge pull requests right after opening them.")
	fs.BoolVar(&e.label, "label", true, "Label pull requests as auto-generated.")
	fs.StringVar(&e.feedURL, "feed", "", "Feed `URL` (default "+feed.DefaultURL+").")
	fs.StringVar(&e.repo, "repo", "", "GitHub repository in `owner/name` form.")
	fs.StringVar(&e.base, "base", "", "Base `branch` of pull requests (default main).")
	fs.StringVar(&e.layout, "layout", "", "Article file layout: articles, posts or jekyll (default articles).")
	fs.StringVar(&e.onBranchExists, "on-branch-exists", "", "What to do when the article branch exists: abort or continue (default abort).")
	fs.StringVar(&e.storeDSN, "store", "", "Posted links store `DSN`: path, file:, sqlite:, postgres://, gist: or mem: (default posted.txt in the state directory).")
	fs.StringVar(&e.stateDir, "state-dir", "", "State `directory` (default $STATE_DIRECTORY or the working directory).")
	fs.StringVar(&e.rules, "rules", "", "Starlark `file` defining skip(entry).")
}

func (e *engine) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	l := logger.Get(ctx)
	if e.dry || e.verbose {
		l.Level.Set(slog.LevelDebug)
	}

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}

	if err := e.configure(env); err != nil {
		return err
	}
	if e.verbose {
		e.httpc = &http.Client{
			// Long enough for getUpdates.
			Timeout:   telegram.DefaultPollTimeout + 15*time.Second,
			Transport: httplogger.New(nil, l.Logger, e.tgToken, e.ghToken, e.mirrorToken),
		}
	}

	switch cmd := env.Args[0]; cmd {
	case "run":
		return e.run(ctx, l.Logger)
	case "preview":
		return e.preview(ctx, env.Stdout, l.Logger)
	case "posted":
		return e.listPosted(ctx, env.Stdout)
	case "forget":
		if len(env.Args) != 2 {
			return fmt.Errorf("%w: forget command expects a link", cli.ErrInvalidArgs)
		}
		return e.forget(ctx, env.Stdout, env.Args[1])
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, cmd)
	}
}

// configure fills settings that weren't given as flags from the environment.
func (e *engine) configure(env *cli.Env) error {
	set := make(map[string]bool)
	if e.fs != nil {
		e.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	}
	boolEnv := func(name string, flagName string, v *bool) error {
		s := env.Getenv(name)
		if s == "" || set[flagName] {
			return nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", cli.ErrInvalidArgs, name, err)
		}
		*v = b
		return nil
	}
	if err := boolEnv("AUTO_MERGE", "auto-merge", &e.autoMerge); err != nil {
		return err
	}
	if err := boolEnv("LABEL", "label", &e.label); err != nil {
		return err
	}

	e.feedURL = cmp.Or(e.feedURL, env.Getenv("FEED_URL"), feed.DefaultURL)
	e.repo = cmp.Or(e.repo, env.Getenv("GITHUB_REPO"))
	e.base = cmp.Or(e.base, env.Getenv("GITHUB_BASE"), "main")
	e.layout = cmp.Or(e.layout, env.Getenv("LAYOUT"), string(format.LayoutArticles))
	e.onBranchExists = cmp.Or(e.onBranchExists, env.Getenv("ON_BRANCH_EXISTS"), string(publish.PolicyAbort))
	e.stateDir = cmp.Or(e.stateDir, env.Getenv("STATE_DIRECTORY"), ".")
	e.storeDSN = cmp.Or(e.storeDSN, env.Getenv("STORE"), filepath.Join(e.stateDir, "posted.txt"))
	e.rules = cmp.Or(e.rules, env.Getenv("RULES"))
	e.mirrorURL = cmp.Or(e.mirrorURL, env.Getenv("MIRROR_URL"), mirror.DefaultEndpoint)
	e.publicationID = cmp.Or(e.publicationID, env.Getenv("MIRROR_PUBLICATION_ID"))
	e.tgToken = cmp.Or(e.tgToken, env.Getenv("TELEGRAM_TOKEN"))
	e.ghToken = cmp.Or(e.ghToken, env.Getenv("GITHUB_TOKEN"))
	e.mirrorToken = cmp.Or(e.mirrorToken, env.Getenv("MIRROR_TOKEN"))

	var err error
	if e.chatID, err = parseID("CHAT_ID", env.Getenv("CHAT_ID")); err != nil {
		return err
	}
	if e.ownerID, err = parseID("OWNER_ID", env.Getenv("OWNER_ID")); err != nil {
		return err
	}

	if _, err := format.ParseLayout(e.layout); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	if _, err := publish.ParsePolicy(e.onBranchExists); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	return nil
}

func parseID(name, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", cli.ErrInvalidArgs, name, s)
	}
	return id, nil
}

// requireBotConfig fails if anything needed to run the bot is missing.
func (e *engine) requireBotConfig() error {
	var missing []error
	for _, v := range []struct {
		name string
		ok   bool
	}{
		{"TELEGRAM_TOKEN", e.tgToken != ""},
		{"CHAT_ID", e.chatID != 0},
		{"GITHUB_TOKEN", e.ghToken != ""},
		{"MIRROR_TOKEN", e.mirrorToken != ""},
		{"GITHUB_REPO", e.repo != ""},
	} {
		if !v.ok {
			missing = append(missing, fmt.Errorf("%w: %s is not set", cli.ErrInvalidArgs, v.name))
		}
	}
	return errors.Join(missing...)
}

func (e *engine) openStore(ctx context.Context) (store.Set, error) {
	return store.Open(ctx, e.storeDSN, store.Options{
		Gist: &gist.Client{Token: e.ghToken, HTTPClient: e.httpc},
	})
}

// snapshot copies the set into memory so nothing gets recorded.
func snapshot(ctx context.Context, s store.Set) (store.Set, error) {
	links, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewMem(links...), nil
}

func (e *engine) fetcher(posted store.Set, logger *slog.Logger) (*feed.Fetcher, error) {
	f := &feed.Fetcher{
		URL:        e.feedURL,
		Posted:     posted,
		HTTPClient: e.httpc,
		Logger:     logger,
	}
	if e.rules != "" {
		src, err := os.ReadFile(e.rules)
		if err != nil {
			return nil, err
		}
		if f.Rule, err = feed.ParseRule(filepath.Base(e.rules), string(src), logger); err != nil {
			return nil, fmt.Errorf("loading rules: %w", err)
		}
	}
	return f, nil
}

func (e *engine) run(ctx context.Context, logger *slog.Logger) error {
	if err := e.requireBotConfig(); err != nil {
		return err
	}

	lock, err := filelock.Acquire(filepath.Join(e.stateDir, ".run.lock"))
	if errors.Is(err, filelock.ErrAlreadyLocked) {
		return fmt.Errorf("%w: %w", errAlreadyRunning, err)
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	posted, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer posted.Close()
	if e.dry {
		if posted, err = snapshot(ctx, posted); err != nil {
			return err
		}
	}

	f, err := e.fetcher(posted, logger)
	if err != nil {
		return err
	}

	b := bot.New(bot.Opts{
		ChatID:   e.chatID,
		OwnerID:  e.ownerID,
		Telegram: &telegram.Client{Token: e.tgToken, HTTPClient: e.httpc, Logger: logger},
		Fetcher:  f,
		Publisher: &publish.Publisher{
			GitHub:         &github.Client{Token: e.ghToken, Repo: e.repo, HTTPClient: e.httpc},
			Base:           e.base,
			Layout:         format.Layout(e.layout),
			OnBranchExists: publish.Policy(e.onBranchExists),
			Label:          e.label,
			AutoMerge:      e.autoMerge,
			DryRun:         e.dry,
			Now:            e.now,
			Logger:         logger,
		},
		Mirror: &mirror.Client{
			Endpoint:      e.mirrorURL,
			Token:         e.mirrorToken,
			PublicationID: e.publicationID,
			HTTPClient:    e.httpc,
		},
		Logger: logger,
	})

	systemd.Notify(ctx, systemd.Ready)
	defer systemd.Notify(ctx, systemd.Stopping)
	go systemd.WatchdogLoop(ctx)

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (e *engine) preview(ctx context.Context, w io.Writer, logger *slog.Logger) error {
	posted, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer posted.Close()
	if posted, err = snapshot(ctx, posted); err != nil {
		return err
	}

	f, err := e.fetcher(posted, logger)
	if err != nil {
		return err
	}
	d, err := f.Next(ctx)
	if err != nil {
		return err
	}
	if d == nil {
		fmt.Fprintln(w, "No new articles to publish.")
		return nil
	}

	now := time.Now()
	if e.now != nil {
		now = e.now()
	}
	md, err := format.Markdown(d, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n# %s\n# %s\n\n%s", format.Preview(d),
		format.BranchName(format.DraftSlug(d), now),
		format.Path(format.Layout(e.layout), format.DraftSlug(d), now),
		md,
	)
	return nil
}

func (e *engine) listPosted(ctx context.Context, w io.Writer) error {
	posted, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer posted.Close()

	links, err := posted.List(ctx)
	if err != nil {
		return err
	}
	for _, link := range links {
		fmt.Fprintln(w, link)
	}
	return nil
}

func (e *engine) forget(ctx context.Context, w io.Writer, link string) error {
	posted, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer posted.Close()

	removed, err := posted.Remove(ctx, link)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%q is not recorded as posted", link)
	}
	fmt.Fprintf(w, "Forgot %s, it will be offered again.\n", link)
	return nil
}
