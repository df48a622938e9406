// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package github

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.backpr.com/webtomed/internal/testutil"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
			t.Errorf("Authorization = %q", got)
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return &Client{Token: "gh-token", Repo: "octo/blog", BaseURL: srv.URL, HTTPClient: srv.Client()}
}

func readJSON[V any](t *testing.T, r *http.Request) V {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	return testutil.UnmarshalJSON[V](t, b)
}

func TestGetBranch(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/blog/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ref":"refs/heads/main","object":{"sha":"abc123","type":"commit"}}`)
	})
	c := newTestClient(t, mux)

	ref, err := c.GetBranch(t.Context(), "main")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, ref.Object.SHA, "abc123")

	_, err = c.GetBranch(t.Context(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCreateBranch(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/blog/git/refs", func(w http.ResponseWriter, r *http.Request) {
		body := readJSON[map[string]string](t, r)
		testutil.AssertEqual(t, body["sha"], "abc123")
		if body["ref"] == "refs/heads/taken" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"message":"Reference already exists"}`)
			return
		}
		if body["ref"] == "refs/heads/invalid" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"message":"Object does not exist"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"ref": body["ref"], "object": map[string]string{"sha": body["sha"]}})
	})
	c := newTestClient(t, mux)

	ref, err := c.CreateBranch(t.Context(), "bot-article-x", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, ref.Ref, "refs/heads/bot-article-x")

	if _, err := c.CreateBranch(t.Context(), "taken", "abc123"); !errors.Is(err, ErrRefExists) {
		t.Fatalf("want ErrRefExists, got %v", err)
	}
	_, err = c.CreateBranch(t.Context(), "invalid", "abc123")
	if err == nil || errors.Is(err, ErrRefExists) {
		t.Fatalf("want plain error, got %v", err)
	}
}

func TestContents(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/blog/contents/articles/existing.md", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.URL.Query().Get("ref"), "bot-article-x")
		io.WriteString(w, `{"path":"articles/existing.md","sha":"blob1"}`)
	})
	mux.HandleFunc("GET /repos/octo/blog/contents/articles/new.md", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("PUT /repos/octo/blog/contents/articles/{name}", func(w http.ResponseWriter, r *http.Request) {
		body := readJSON[map[string]string](t, r)
		content, err := base64.StdEncoding.DecodeString(body["content"])
		if err != nil {
			t.Error(err)
		}
		testutil.AssertEqual(t, string(content), "hello\n")
		testutil.AssertEqual(t, body["branch"], "bot-article-x")
		switch r.PathValue("name") {
		case "new.md":
			if _, ok := body["sha"]; ok {
				t.Error("sha sent for a new file")
			}
			w.WriteHeader(http.StatusCreated)
		case "existing.md":
			if body["sha"] != "blob1" {
				w.WriteHeader(http.StatusConflict)
				io.WriteString(w, `{"message":"is at blob2 but expected blob0"}`)
				return
			}
		}
		io.WriteString(w, `{"content":{"path":"articles/`+r.PathValue("name")+`","sha":"blob2"},"commit":{"sha":"c1"}}`)
	})
	c := newTestClient(t, mux)

	_, err := c.GetContent(t.Context(), "articles/new.md", "bot-article-x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	existing, err := c.GetContent(t.Context(), "articles/existing.md", "bot-article-x")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, existing.SHA, "blob1")

	res, err := c.PutContent(t.Context(), "articles/new.md", FileChange{
		Message: "Add article: New",
		Content: []byte("hello\n"),
		Branch:  "bot-article-x",
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, res.Commit.SHA, "c1")

	if _, err := c.PutContent(t.Context(), "articles/existing.md", FileChange{
		Message: "Update article: Existing",
		Content: []byte("hello\n"),
		Branch:  "bot-article-x",
		SHA:     "blob1",
	}); err != nil {
		t.Fatal(err)
	}

	_, err = c.PutContent(t.Context(), "articles/existing.md", FileChange{
		Message: "Update article: Existing",
		Content: []byte("hello\n"),
		Branch:  "bot-article-x",
		SHA:     "blob0",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestPullRequests(t *testing.T) {
	t.Parallel()

	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/blog/pulls", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "create")
		pr := readJSON[NewPullRequest](t, r)
		testutil.AssertEqual(t, pr, NewPullRequest{Title: "New article: X", Head: "bot-article-x", Base: "main", Body: "body"})
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"number":7,"html_url":"https://github.com/octo/blog/pull/7","head":{"ref":"bot-article-x"},"base":{"ref":"main"}}`)
	})
	mux.HandleFunc("POST /repos/octo/blog/issues/7/labels", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "label")
		body := readJSON[map[string][]string](t, r)
		testutil.AssertEqual(t, body["labels"], []string{"auto-generated"})
		io.WriteString(w, `[{"name":"auto-generated"}]`)
	})
	mux.HandleFunc("PUT /repos/octo/blog/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "merge")
		opts := readJSON[MergeOptions](t, r)
		testutil.AssertEqual(t, opts.CommitTitle, "Publish article: X")
		io.WriteString(w, `{"sha":"m1","merged":true,"message":"Pull Request successfully merged"}`)
	})
	c := newTestClient(t, mux)

	pr, err := c.CreatePullRequest(t.Context(), NewPullRequest{Title: "New article: X", Head: "bot-article-x", Base: "main", Body: "body"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, pr.Number, 7)
	testutil.AssertEqual(t, pr.Head.Ref, "bot-article-x")

	labels, err := c.AddLabels(t.Context(), pr.Number, "auto-generated")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, labels, []Label{{Name: "auto-generated"}})

	merge, err := c.MergePullRequest(t.Context(), pr.Number, MergeOptions{CommitTitle: "Publish article: X"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, merge.Merged, true)
	testutil.AssertEqual(t, calls, []string{"create", "label", "merge"})
}

func TestTokenScrubbed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/blog/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"bad token `+strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")+`"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.CreatePullRequest(t.Context(), NewPullRequest{Title: "x"})
	if err == nil {
		t.Fatal("want error")
	}
	if strings.Contains(err.Error(), "gh-token") {
		t.Fatalf("token leaked: %v", err)
	}
}
