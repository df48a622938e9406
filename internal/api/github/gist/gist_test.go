// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package gist

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.backpr.com/webtomed/internal/testutil"
)

func TestGetAndUpdate(t *testing.T) {
	t.Parallel()

	files := map[string]File{"posted.txt": {Content: "https://example.com/a\n"}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /gists/abc", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Header.Get("Authorization"), "Bearer secret")
		json.NewEncoder(w).Encode(&Gist{Files: files})
	})
	mux.HandleFunc("PATCH /gists/abc", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		g := testutil.UnmarshalJSON[Gist](t, b)
		for name, f := range g.Files {
			files[name] = f
		}
		json.NewEncoder(w).Encode(&Gist{Files: files})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{Token: "secret", BaseURL: srv.URL, HTTPClient: srv.Client()}

	g, err := c.Get(t.Context(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, g.Files["posted.txt"].Content, "https://example.com/a\n")

	g, err = c.Update(t.Context(), "abc", &Gist{Files: map[string]File{
		"posted.txt": {Content: "https://example.com/a\nhttps://example.com/b\n"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, strings.Count(g.Files["posted.txt"].Content, "\n"), 2)
}

func TestGetNotFoundScrubsToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found","token":"`+strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")+`"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{Token: "secret", BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := c.Get(t.Context(), "missing")
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("token leaked into error: %v", err)
	}
}
