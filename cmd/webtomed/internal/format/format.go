// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package format renders drafts into chat previews and Markdown documents,
// and derives slugs, branch names and file paths from titles.
package format

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.backpr.com/webtomed/cmd/webtomed/internal/article"

	"gopkg.in/yaml.v3"
)

const (
	// AutoTag marks generated content in front-matter and on pull requests.
	AutoTag = "auto-generated"

	branchPrefix  = "bot-article-"
	branchSlugLen = 30
	branchTime    = "20060102-150405"
)

// Preview renders the human-readable text shown in the chat and used as the
// Markdown body.
func Preview(d *article.Draft) string {
	var sb strings.Builder
	sb.WriteString(d.Title + "\n\n")
	sb.WriteString("TL;DR 🚀\n")
	sb.WriteString(d.Teaser + "...\n\n")
	sb.WriteString(d.Excerpt + "\n\n")
	sb.WriteString("---\n\n")
	sb.WriteString("👉 Want the full deep dive? Check it out here:\n")
	sb.WriteString(d.Link + "\n")
	return sb.String()
}

// Markdown renders d as a Markdown document with YAML front-matter dated t.
func Markdown(d *article.Draft, t time.Time) (string, error) {
	fm, err := frontMatter(d, t)
	if err != nil {
		return "", err
	}
	return "---\n" + fm + "---\n\n" + Preview(d), nil
}

func frontMatter(d *article.Draft, t time.Time) (string, error) {
	str := func(s string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s, Style: yaml.DoubleQuotedStyle}
	}
	key := func(s string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	}

	doc := &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			key("title"), str(d.Title),
			key("date"), str(t.UTC().Format(time.RFC3339)),
			key("category"), str(d.Category),
			key("tags"), {
				Kind:    yaml.SequenceNode,
				Style:   yaml.FlowStyle,
				Content: []*yaml.Node{str(AutoTag)},
			},
		},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encoding front-matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encoding front-matter: %w", err)
	}
	return buf.String(), nil
}

var (
	unsafeRe = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`[^A-Za-z0-9-]+`)
	})
	dashesRe = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`-{2,}`)
	})
)

// Slug turns title into a lowercase string of letters, digits and single
// dashes.
func Slug(title string) string {
	s := unsafeRe().ReplaceAllString(title, "-")
	s = dashesRe().ReplaceAllString(s, "-")
	return strings.ToLower(strings.Trim(s, "-"))
}

// DraftSlug returns the slug of the draft title. Titles without ASCII letters
// or digits fall back to the last element of the link path, then to a hash of
// the link, so different articles never share a file.
func DraftSlug(d *article.Draft) string {
	if s := Slug(d.Title); s != "" {
		return s
	}
	if u, err := url.Parse(d.Link); err == nil {
		if s := Slug(path.Base(u.Path)); s != "" {
			return s
		}
	}
	h := fnv.New32a()
	h.Write([]byte(d.Link))
	return fmt.Sprintf("article-%08x", h.Sum32())
}

// BranchName returns the name of the branch for an article with slug created
// at t.
func BranchName(slug string, t time.Time) string {
	if len(slug) > branchSlugLen {
		slug = strings.TrimRight(slug[:branchSlugLen], "-")
	}
	return branchPrefix + slug + "-" + t.UTC().Format(branchTime)
}

// Layout selects where article files go in the repository.
type Layout string

// Known layouts.
const (
	// LayoutArticles stores articles as articles/<slug>.md.
	LayoutArticles Layout = "articles"
	// LayoutPosts stores articles as posts/<slug>.md.
	LayoutPosts Layout = "posts"
	// LayoutJekyll stores articles as _posts/<YYYY-MM-DD>-<slug>.md.
	LayoutJekyll Layout = "jekyll"
)

// ParseLayout validates a layout name.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case LayoutArticles, LayoutPosts, LayoutJekyll:
		return l, nil
	}
	return "", fmt.Errorf("unknown layout %q (want %s, %s or %s)", s, LayoutArticles, LayoutPosts, LayoutJekyll)
}

// Path returns the repository path of the article with slug published at t.
func Path(l Layout, slug string, t time.Time) string {
	switch l {
	case LayoutPosts:
		return "posts/" + slug + ".md"
	case LayoutJekyll:
		return "_posts/" + t.UTC().Format(time.DateOnly) + "-" + slug + ".md"
	default:
		return "articles/" + slug + ".md"
	}
}
