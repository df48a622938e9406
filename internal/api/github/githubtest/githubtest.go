// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package githubtest implements an in-memory fake of the GitHub REST API
// endpoints used by package github.
package githubtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.backpr.com/webtomed/internal/api/github"
)

// Operations that can be made to fail with [Server.Fail].
const (
	OpGetBranch    = "get-branch"
	OpCreateBranch = "create-branch"
	OpGetContent   = "get-content"
	OpPutContent   = "put-content"
	OpCreatePull   = "create-pull"
	OpAddLabels    = "add-labels"
	OpMerge        = "merge"
)

// BaseSHA is the commit the default branch points to.
const BaseSHA = "0000000000000000000000000000000000base"

// File is a file stored in the fake repository.
type File struct {
	Content string
	SHA     string
}

type failure struct {
	status int
	body   string
}

// Server is a fake GitHub serving a single repository.
type Server struct {
	repo string
	srv  *httptest.Server

	mu       sync.Mutex
	seq      int
	calls    []string
	branches map[string]string
	files    map[string]map[string]File
	pulls    []*github.PullRequest
	labels   map[int][]string
	fails    map[string]failure
}

// New starts a fake for repo ("owner/name") with a "main" branch. It's
// stopped when the test ends.
func New(t testing.TB, repo string) *Server {
	t.Helper()
	s := &Server{
		repo:     repo,
		branches: map[string]string{"main": BaseSHA},
		files:    make(map[string]map[string]File),
		labels:   make(map[int][]string),
		fails:    make(map[string]failure),
	}

	mux := http.NewServeMux()
	prefix := "/repos/" + repo
	mux.HandleFunc("GET "+prefix+"/git/ref/heads/{branch...}", s.handle(OpGetBranch, s.getBranch))
	mux.HandleFunc("POST "+prefix+"/git/refs", s.handle(OpCreateBranch, s.createBranch))
	mux.HandleFunc("GET "+prefix+"/contents/{path...}", s.handle(OpGetContent, s.getContent))
	mux.HandleFunc("PUT "+prefix+"/contents/{path...}", s.handle(OpPutContent, s.putContent))
	mux.HandleFunc("POST "+prefix+"/pulls", s.handle(OpCreatePull, s.createPull))
	mux.HandleFunc("POST "+prefix+"/issues/{number}/labels", s.handle(OpAddLabels, s.addLabels))
	mux.HandleFunc("PUT "+prefix+"/pulls/{number}/merge", s.handle(OpMerge, s.merge))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("githubtest: unexpected request %s %s", r.Method, r.URL.Path)
		writeError(w, http.StatusNotFound, "Not Found")
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// Client returns a client talking to the fake.
func (s *Server) Client() *github.Client {
	return &github.Client{Token: "githubtest", Repo: s.repo, BaseURL: s.srv.URL, HTTPClient: s.srv.Client()}
}

// Fail makes the next calls of op respond with status and a JSON message.
func (s *Server) Fail(op string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op] = failure{status: status, body: message}
}

// AddBranch creates a branch pointing at the base commit.
func (s *Server) AddBranch(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[name] = BaseSHA
}

// PutFile stores a file on branch.
func (s *Server) PutFile(branch, path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putFile(branch, path, content)
}

// Calls returns the operations served so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Branches returns names of all branches other than main.
func (s *Server) Branches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.branches {
		if name != "main" {
			names = append(names, name)
		}
	}
	return names
}

// File returns the file at path on branch.
func (s *Server) File(branch, path string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[branch][path]
	return f, ok
}

// Pulls returns opened pull requests.
func (s *Server) Pulls() []github.PullRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]github.PullRequest, 0, len(s.pulls))
	for _, pr := range s.pulls {
		out = append(out, *pr)
	}
	return out
}

// Labels returns labels of the pull request number.
func (s *Server) Labels(number int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.labels[number]...)
}

func (s *Server) handle(op string, h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls = append(s.calls, op)
		if f, ok := s.fails[op]; ok {
			writeError(w, f.status, f.body)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func readJSON(r *http.Request, v any) error {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) nextSHA() string {
	s.seq++
	return fmt.Sprintf("%040d", s.seq)
}

func (s *Server) putFile(branch, path, content string) File {
	if s.files[branch] == nil {
		s.files[branch] = make(map[string]File)
	}
	f := File{Content: content, SHA: s.nextSHA()}
	s.files[branch][path] = f
	return f
}

func refJSON(branch, sha string) map[string]any {
	return map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"sha": sha, "type": "commit"},
	}
}

func (s *Server) getBranch(w http.ResponseWriter, r *http.Request) {
	branch := r.PathValue("branch")
	sha, ok := s.branches[branch]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, refJSON(branch, sha))
}

func (s *Server) createBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	branch, ok := strings.CutPrefix(req.Ref, "refs/heads/")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference name is invalid")
		return
	}
	if _, exists := s.branches[branch]; exists {
		writeError(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}
	s.branches[branch] = req.SHA
	writeJSON(w, http.StatusCreated, refJSON(branch, req.SHA))
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("ref")
	f, ok := s.files[branch][r.PathValue("path")]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"path":    r.PathValue("path"),
		"sha":     f.SHA,
		"content": base64.StdEncoding.EncodeToString([]byte(f.Content)),
	})
}

func (s *Server) putContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.branches[req.Branch]; !ok {
		writeError(w, http.StatusNotFound, "Branch not found")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path := r.PathValue("path")
	existing, exists := s.files[req.Branch][path]
	switch {
	case exists && req.SHA != existing.SHA:
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", path, req.SHA))
		return
	case !exists && req.SHA != "":
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not exist", path))
		return
	}

	f := s.putFile(req.Branch, path, string(content))
	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]string{"path": path, "sha": f.SHA},
		"commit":  map[string]string{"sha": s.nextSHA()},
	})
}

func (s *Server) createPull(w http.ResponseWriter, r *http.Request) {
	var req github.NewPullRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.branches[req.Head]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Validation Failed")
		return
	}
	pr := &github.PullRequest{
		Number:  len(s.pulls) + 1,
		Title:   req.Title,
		Body:    req.Body,
		State:   "open",
		HTMLURL: fmt.Sprintf("https://github.com/%s/pull/%d", s.repo, len(s.pulls)+1),
	}
	pr.Head.Ref = req.Head
	pr.Base.Ref = req.Base
	s.pulls = append(s.pulls, pr)
	writeJSON(w, http.StatusCreated, pr)
}

func (s *Server) pull(r *http.Request) *github.PullRequest {
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || n < 1 || n > len(s.pulls) {
		return nil
	}
	return s.pulls[n-1]
}

func (s *Server) addLabels(w http.ResponseWriter, r *http.Request) {
	pr := s.pull(r)
	if pr == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	var req struct {
		Labels []string `json:"labels"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.labels[pr.Number] = append(s.labels[pr.Number], req.Labels...)
	var out []github.Label
	for _, l := range s.labels[pr.Number] {
		out = append(out, github.Label{Name: l})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	pr := s.pull(r)
	if pr == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if pr.Merged {
		writeError(w, http.StatusMethodNotAllowed, "Pull Request is not mergeable")
		return
	}
	pr.Merged = true
	pr.State = "closed"
	sha := s.nextSHA()
	s.branches[pr.Base.Ref] = sha
	writeJSON(w, http.StatusOK, github.MergeResult{SHA: sha, Merged: true, Message: "Pull Request successfully merged"})
}
