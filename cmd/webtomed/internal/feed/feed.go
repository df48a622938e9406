// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed picks the next unpublished article from a syndication feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.backpr.com/webtomed/cmd/webtomed/internal/article"
	"go.backpr.com/webtomed/internal/request"
	"go.backpr.com/webtomed/internal/store"
	"go.backpr.com/webtomed/internal/version"

	"github.com/mmcdole/gofeed"
)

// DefaultURL is the feed polled when no other is configured.
const DefaultURL = "https://zee.backpr.com/index.xml"

// ErrUnavailable is returned when the feed can't be retrieved or parsed.
var ErrUnavailable = errors.New("feed unavailable")

// Fetcher selects unpublished entries of a feed.
type Fetcher struct {
	// URL is the feed address.
	URL string
	// Posted holds links that were already selected.
	Posted store.Set
	// Rule, if set, passes over matching entries without recording them.
	Rule *Rule
	// HTTPClient is used for requests. If nil, request.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for diagnostics. If nil, slog.Default is used.
	Logger *slog.Logger
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Next returns a draft of the first entry whose link isn't posted yet and
// records the link before returning. It returns nil without error if there
// is nothing new.
func (f *Fetcher) Next(ctx context.Context) (*article.Draft, error) {
	items, err := f.Entries(ctx)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		e := toEntry(item)
		if e.Link == "" {
			continue
		}

		posted, err := f.Posted.Has(ctx, e.Link)
		if err != nil {
			return nil, fmt.Errorf("checking %q: %w", e.Link, err)
		}
		if posted {
			continue
		}
		if f.Rule.Skip(e, item.Categories) {
			f.logger().Debug("skipped by rule", "entry", e.Link)
			continue
		}

		// Recorded before publishing: a failure later skips the article for good.
		added, err := f.Posted.Add(ctx, e.Link)
		if err != nil {
			return nil, fmt.Errorf("recording %q: %w", e.Link, err)
		}
		if !added {
			f.logger().Debug("entry claimed concurrently", "entry", e.Link)
			continue
		}

		return article.NewDraft(e), nil
	}

	return nil, nil
}

// Entries retrieves and parses the feed, returning its items in feed order.
func (f *Fetcher) Entries(ctx context.Context) ([]*gofeed.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	httpc := f.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()

	f.logger().Debug("fetched feed", "feed", f.URL, "status", res.StatusCode, "len", res.ContentLength)

	if res.StatusCode != http.StatusOK {
		const readLimit = 16384
		body, _ := io.ReadAll(io.LimitReader(res.Body, readLimit))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, &request.StatusError{
			Method:     req.Method,
			URL:        f.URL,
			StatusCode: res.StatusCode,
			Body:       body,
		})
	}

	feed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing: %w", ErrUnavailable, err)
	}
	return feed.Items, nil
}

func toEntry(item *gofeed.Item) article.Entry {
	category := article.DefaultCategory
	if len(item.Categories) > 0 && strings.TrimSpace(item.Categories[0]) != "" {
		category = strings.TrimSpace(item.Categories[0])
	}
	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}
	return article.Entry{
		Title:       item.Title,
		Link:        strings.TrimSpace(item.Link),
		Category:    category,
		SummaryHTML: summary,
	}
}
