// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package article turns feed entries into drafts ready for formatting.
package article

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	// TeaserLen is the length of the teaser in characters.
	TeaserLen = 200
	// ExcerptLen is the length of the excerpt in characters.
	ExcerptLen = 500
	// DefaultCategory is used for entries without categories.
	DefaultCategory = "general"
)

// Entry is one feed item.
type Entry struct {
	Title       string
	Link        string
	Category    string
	SummaryHTML string
}

// Draft is an article selected for publishing.
type Draft struct {
	Title    string
	Link     string
	Category string
	// Teaser is the first TeaserLen characters of Body.
	Teaser string
	// Excerpt is the first ExcerptLen characters of Body.
	Excerpt string
	// Body is the summary with markup removed.
	Body string
}

// NewDraft cleans the entry summary and cuts the teaser and the excerpt.
func NewDraft(e Entry) *Draft {
	body := Clean(e.SummaryHTML)
	category := e.Category
	if strings.TrimSpace(category) == "" {
		category = DefaultCategory
	}
	return &Draft{
		Title:    strings.TrimSpace(e.Title),
		Link:     strings.TrimSpace(e.Link),
		Category: category,
		Teaser:   Truncate(body, TeaserLen),
		Excerpt:  Truncate(body, ExcerptLen),
		Body:     body,
	}
}

const blockElems = "p, div, br, li, ul, ol, blockquote, pre, table, tr, h1, h2, h3, h4, h5, h6"

// Clean strips markup from s and collapses runs of whitespace into a single
// space.
func Clean(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}
	doc.Find("script, style").Remove()
	// Keep words of adjacent blocks apart.
	doc.Find(blockElems).Each(func(_ int, s *goquery.Selection) {
		s.Get(0).AppendChild(&html.Node{Type: html.TextNode, Data: " "})
	})
	return collapse(doc.Text())
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// Truncate returns the first n characters of s, or s if it's shorter. It
// doesn't care about word boundaries.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
