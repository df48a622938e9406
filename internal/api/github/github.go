// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package github implements the small part of the GitHub REST API needed to
// propose a file as a pull request: refs, contents, pulls, labels and merges.
//
// Every method maps to exactly one API call and never retries.
package github

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.backpr.com/webtomed/internal/request"
)

const ghAPI = "https://api.github.com"

var (
	// ErrRefExists is returned by CreateRef when the reference already exists.
	ErrRefExists = errors.New("reference already exists")
	// ErrNotFound is returned when the requested object doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write used a stale blob SHA.
	ErrConflict = errors.New("conflict")
)

// Client is a GitHub REST API client scoped to one repository.
type Client struct {
	// Token is the GitHub access token used for authentication.
	Token string
	// Repo is the repository in "owner/name" form.
	Repo string
	// BaseURL overrides the GitHub API endpoint. Defaults to
	// https://api.github.com.
	BaseURL string
	// HTTPClient is an optional custom HTTP client object to use for requests.
	// If not provided, request.DefaultClient will be used.
	HTTPClient *http.Client
}

func (c *Client) params(method, path string, body any, want ...int) request.Params {
	p := request.Params{
		Method: method,
		URL:    cmp.Or(c.BaseURL, ghAPI) + "/repos/" + c.Repo + path,
		Headers: map[string]string{
			"Accept":               "application/vnd.github+json",
			"X-GitHub-Api-Version": "2022-11-28",
		},
		Body:       body,
		HTTPClient: c.HTTPClient,
	}
	if len(want) > 0 {
		p.WantStatusCode = want[0]
		p.WantStatusCodes = want[1:]
	}
	if c.Token != "" {
		p.Headers["Authorization"] = "Bearer " + c.Token
		p.Scrubber = strings.NewReplacer(c.Token, "[EXPUNGED]")
	}
	return p
}

func statusCode(err error) int {
	var se *request.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Ref is a Git reference.
type Ref struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

// GetBranch returns the reference of branch.
func (c *Client) GetBranch(ctx context.Context, branch string) (*Ref, error) {
	ref, err := request.Make[*Ref](ctx, c.params(http.MethodGet, "/git/ref/heads/"+escapePath(branch), nil))
	if statusCode(err) == http.StatusNotFound {
		return nil, fmt.Errorf("branch %q: %w", branch, ErrNotFound)
	}
	return ref, err
}

// CreateBranch creates branch pointing at sha. It returns an error wrapping
// [ErrRefExists] if the branch is already there.
func (c *Client) CreateBranch(ctx context.Context, branch, sha string) (*Ref, error) {
	ref, err := request.Make[*Ref](ctx, c.params(http.MethodPost, "/git/refs", map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}, http.StatusCreated))
	if err != nil {
		var se *request.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnprocessableEntity && bytes.Contains(se.Body, []byte("Reference already exists")) {
			return nil, fmt.Errorf("branch %q: %w", branch, ErrRefExists)
		}
		return nil, err
	}
	return ref, nil
}

// Content is a file stored in the repository.
type Content struct {
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
}

// GetContent returns metadata of the file at path on branch ref. It returns
// an error wrapping [ErrNotFound] if there is no such file.
func (c *Client) GetContent(ctx context.Context, path, ref string) (*Content, error) {
	content, err := request.Make[*Content](ctx, c.params(http.MethodGet, "/contents/"+escapePath(path)+"?ref="+url.QueryEscape(ref), nil))
	if statusCode(err) == http.StatusNotFound {
		return nil, fmt.Errorf("%s@%s: %w", path, ref, ErrNotFound)
	}
	return content, err
}

// FileChange describes a file creation or update.
type FileChange struct {
	// Message is the commit message.
	Message string
	// Content is the new file content.
	Content []byte
	// Branch is the branch to commit to.
	Branch string
	// SHA is the blob SHA of the file being replaced. Empty creates a new
	// file.
	SHA string
}

// CommitResult is the response of a contents write.
type CommitResult struct {
	Content Content `json:"content"`
	Commit  struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"commit"`
}

// PutContent creates or updates the file at path. A stale FileChange.SHA
// results in an error wrapping [ErrConflict].
func (c *Client) PutContent(ctx context.Context, path string, fc FileChange) (*CommitResult, error) {
	body := map[string]string{
		"message": fc.Message,
		"content": base64.StdEncoding.EncodeToString(fc.Content),
		"branch":  fc.Branch,
	}
	if fc.SHA != "" {
		body["sha"] = fc.SHA
	}
	res, err := request.Make[*CommitResult](ctx, c.params(http.MethodPut, "/contents/"+escapePath(path), body, http.StatusOK, http.StatusCreated))
	if code := statusCode(err); code == http.StatusConflict || (code == http.StatusUnprocessableEntity && fc.SHA != "") {
		return nil, fmt.Errorf("%s@%s: %w: %w", path, fc.Branch, ErrConflict, err)
	}
	return res, err
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

// PullRequest is a GitHub pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, pr NewPullRequest) (*PullRequest, error) {
	return request.Make[*PullRequest](ctx, c.params(http.MethodPost, "/pulls", pr, http.StatusCreated))
}

// Label is an issue or pull request label.
type Label struct {
	Name string `json:"name"`
}

// AddLabels attaches labels to the issue or pull request number. Labels that
// don't exist yet are created by GitHub.
func (c *Client) AddLabels(ctx context.Context, number int, labels ...string) ([]Label, error) {
	return request.Make[[]Label](ctx, c.params(http.MethodPost, "/issues/"+strconv.Itoa(number)+"/labels", map[string][]string{
		"labels": labels,
	}))
}

// MergeOptions configures a merge.
type MergeOptions struct {
	CommitTitle string `json:"commit_title,omitempty"`
	// MergeMethod is one of "merge", "squash" or "rebase".
	MergeMethod string `json:"merge_method,omitempty"`
}

// MergeResult is the response of a merge.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// MergePullRequest merges the pull request number.
func (c *Client) MergePullRequest(ctx context.Context, number int, opts MergeOptions) (*MergeResult, error) {
	return request.Make[*MergeResult](ctx, c.params(http.MethodPut, "/pulls/"+strconv.Itoa(number)+"/merge", opts))
}
