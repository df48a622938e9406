// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package publish proposes drafts to a GitHub repository as pull requests.
package publish

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.backpr.com/webtomed/cmd/webtomed/internal/article"
	"go.backpr.com/webtomed/cmd/webtomed/internal/format"
	"go.backpr.com/webtomed/internal/api/github"
)

// ErrBranchExists is returned when the branch for a draft already exists and
// the policy is [PolicyAbort].
var ErrBranchExists = errors.New("branch already exists")

// Policy decides what happens when the branch for a draft already exists.
type Policy string

const (
	// PolicyAbort fails the publish.
	PolicyAbort Policy = "abort"
	// PolicyContinue logs and writes to the existing branch.
	PolicyContinue Policy = "continue"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAbort, PolicyContinue:
		return p, nil
	}
	return "", fmt.Errorf("unknown branch policy %q (want %s or %s)", s, PolicyAbort, PolicyContinue)
}

// GitHub is the subset of the GitHub API used by Publisher.
type GitHub interface {
	GetBranch(ctx context.Context, branch string) (*github.Ref, error)
	CreateBranch(ctx context.Context, branch, sha string) (*github.Ref, error)
	GetContent(ctx context.Context, path, ref string) (*github.Content, error)
	PutContent(ctx context.Context, path string, fc github.FileChange) (*github.CommitResult, error)
	CreatePullRequest(ctx context.Context, pr github.NewPullRequest) (*github.PullRequest, error)
	AddLabels(ctx context.Context, number int, labels ...string) ([]github.Label, error)
	MergePullRequest(ctx context.Context, number int, opts github.MergeOptions) (*github.MergeResult, error)
}

// Publisher turns drafts into pull requests.
type Publisher struct {
	GitHub GitHub
	// Base is the branch pull requests target. Defaults to "main".
	Base string
	// Layout selects the file path. Defaults to format.LayoutArticles.
	Layout format.Layout
	// OnBranchExists defaults to PolicyAbort.
	OnBranchExists Policy
	// Label attaches the auto-generated label to pull requests.
	Label bool
	// AutoMerge merges pull requests right after opening them.
	AutoMerge bool
	// DryRun renders everything but makes no API calls.
	DryRun bool
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger is used for diagnostics. If nil, slog.Default is used.
	Logger *slog.Logger
}

// Result describes what Publish did. Fields are filled as steps complete, so
// a Result returned with an error tells how far Publish got.
type Result struct {
	Branch      string
	Path        string
	Markdown    string
	PullRequest *github.PullRequest
	Labeled     bool
	Merged      bool
	MergeSHA    string
	DryRun      bool
}

// Publish creates a branch off Base, commits the Markdown rendering of d to
// it, opens a pull request and optionally labels and merges it. Nothing is
// retried.
func (p *Publisher) Publish(ctx context.Context, d *article.Draft) (*Result, error) {
	var (
		now    = time.Now()
		base   = cmp.Or(p.Base, "main")
		logger = cmp.Or(p.Logger, slog.Default())
	)
	if p.Now != nil {
		now = p.Now()
	}

	md, err := format.Markdown(d, now)
	if err != nil {
		return nil, err
	}
	slug := format.DraftSlug(d)
	res := &Result{
		Branch:   format.BranchName(slug, now),
		Path:     format.Path(cmp.Or(p.Layout, format.LayoutArticles), slug, now),
		Markdown: md,
		DryRun:   p.DryRun,
	}
	if p.DryRun {
		logger.Info("dry run, not publishing", "branch", res.Branch, "path", res.Path, "base", base)
		return res, nil
	}

	ref, err := p.GitHub.GetBranch(ctx, base)
	if err != nil {
		return res, fmt.Errorf("reading base branch: %w", err)
	}

	if _, err := p.GitHub.CreateBranch(ctx, res.Branch, ref.Object.SHA); err != nil {
		if !errors.Is(err, github.ErrRefExists) {
			return res, fmt.Errorf("creating branch: %w", err)
		}
		if cmp.Or(p.OnBranchExists, PolicyAbort) == PolicyAbort {
			return res, fmt.Errorf("%w: %s", ErrBranchExists, res.Branch)
		}
		logger.Warn("branch already exists, continuing", "branch", res.Branch)
	}

	change := github.FileChange{
		Message: "Add article: " + d.Title,
		Content: []byte(md),
		Branch:  res.Branch,
	}
	existing, err := p.GitHub.GetContent(ctx, res.Path, res.Branch)
	switch {
	case err == nil:
		change.Message = "Update article: " + d.Title
		change.SHA = existing.SHA
	case !errors.Is(err, github.ErrNotFound):
		return res, fmt.Errorf("checking %s: %w", res.Path, err)
	}
	if _, err := p.GitHub.PutContent(ctx, res.Path, change); err != nil {
		return res, fmt.Errorf("writing %s: %w", res.Path, err)
	}

	pr, err := p.GitHub.CreatePullRequest(ctx, github.NewPullRequest{
		Title: "New article: " + d.Title,
		Head:  res.Branch,
		Base:  base,
		Body:  fmt.Sprintf("Automatically generated from %s.\n\n%s", d.Link, md),
	})
	if err != nil {
		return res, fmt.Errorf("opening pull request: %w", err)
	}
	res.PullRequest = pr
	logger.Info("opened pull request", "url", pr.HTMLURL, "branch", res.Branch)

	if p.Label {
		if _, err := p.GitHub.AddLabels(ctx, pr.Number, format.AutoTag); err != nil {
			return res, fmt.Errorf("labeling pull request: %w", err)
		}
		res.Labeled = true
	}

	if p.AutoMerge {
		m, err := p.GitHub.MergePullRequest(ctx, pr.Number, github.MergeOptions{
			CommitTitle: "Publish article: " + d.Title,
			MergeMethod: "merge",
		})
		if err != nil {
			return res, fmt.Errorf("merging pull request: %w", err)
		}
		res.Merged = m.Merged
		res.MergeSHA = m.SHA
		logger.Info("merged pull request", "url", pr.HTMLURL, "sha", m.SHA)
	}

	return res, nil
}
