// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"slices"

	"go.backpr.com/webtomed/internal/api/github/gist"
)

const gistFile = "posted.txt"

// Gist is a [Set] stored as posted.txt inside a GitHub Gist.
//
// Every mutation is a read-modify-write of the whole file, so concurrent
// writers can lose updates.
type Gist struct {
	c  *gist.Client
	id string
}

// NewGist returns a set stored in the Gist with the given ID.
func NewGist(c *gist.Client, id string) *Gist { return &Gist{c: c, id: id} }

func (s *Gist) read(ctx context.Context) ([]string, error) {
	g, err := s.c.Get(ctx, s.id)
	if err != nil {
		return nil, err
	}
	return parseLines(g.Files[gistFile].Content), nil
}

func (s *Gist) write(ctx context.Context, links []string) error {
	content := formatLines(links)
	if content == "" {
		// Gist API deletes files with empty content.
		content = "\n"
	}
	_, err := s.c.Update(ctx, s.id, &gist.Gist{
		Files: map[string]gist.File{gistFile: {Content: content}},
	})
	return err
}

// Has reports whether link is in the set.
func (s *Gist) Has(ctx context.Context, link string) (bool, error) {
	links, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(links, link), nil
}

// Add appends link unless it's already present.
func (s *Gist) Add(ctx context.Context, link string) (bool, error) {
	links, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(links, link) {
		return false, nil
	}
	return true, s.write(ctx, append(links, link))
}

// Remove deletes link.
func (s *Gist) Remove(ctx context.Context, link string) (bool, error) {
	links, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	if !slices.Contains(links, link) {
		return false, nil
	}
	return true, s.write(ctx, slices.DeleteFunc(links, func(l string) bool { return l == link }))
}

// List returns all links in file order.
func (s *Gist) List(ctx context.Context) ([]string, error) { return s.read(ctx) }

// Close is a no-op for Gist.
func (s *Gist) Close() error { return nil }
