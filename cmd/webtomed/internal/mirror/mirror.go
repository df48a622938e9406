// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package mirror publishes articles to a Hashnode-compatible GraphQL API.
package mirror

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.backpr.com/webtomed/internal/request"
)

// DefaultEndpoint is the Hashnode GraphQL endpoint.
const DefaultEndpoint = "https://gql.hashnode.com"

const publishPost = `mutation PublishPost($input: PublishPostInput!) {
  publishPost(input: $input) {
    post {
      id
      slug
      url
    }
  }
}`

// Client publishes posts to the mirror platform.
type Client struct {
	// Endpoint is the GraphQL endpoint. Defaults to DefaultEndpoint.
	Endpoint string
	// Token is sent as is in the Authorization header.
	Token string
	// PublicationID identifies the publication to post to.
	PublicationID string
	// HTTPClient is used for requests. If nil, request.DefaultClient is used.
	HTTPClient *http.Client
}

// Result is the outcome of a publish.
type Result struct {
	// Raw is the response payload as returned by the platform.
	Raw json.RawMessage
	// URL is the address of the new post, if the platform reported one.
	URL string
}

type gqlError struct {
	Message string `json:"message"`
}

type publishResponse struct {
	Data struct {
		PublishPost struct {
			Post struct {
				ID   string `json:"id"`
				Slug string `json:"slug"`
				URL  string `json:"url"`
			} `json:"post"`
		} `json:"publishPost"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// Publish posts title with the Markdown body and no tags.
func (c *Client) Publish(ctx context.Context, title, markdown string) (*Result, error) {
	input := map[string]any{
		"title":           title,
		"contentMarkdown": markdown,
		"tags":            []string{},
	}
	if c.PublicationID != "" {
		input["publicationId"] = c.PublicationID
	}

	rp := request.Params{
		Method: http.MethodPost,
		URL:    cmp.Or(c.Endpoint, DefaultEndpoint),
		Headers: map[string]string{
			"Authorization": c.Token,
		},
		Body: map[string]any{
			"query":     publishPost,
			"variables": map[string]any{"input": input},
		},
		HTTPClient: c.HTTPClient,
	}
	if c.Token != "" {
		rp.Scrubber = strings.NewReplacer(c.Token, "[EXPUNGED]")
	}

	raw, err := request.Make[request.Bytes](ctx, rp)
	if err != nil {
		return nil, err
	}

	res := &Result{Raw: json.RawMessage(raw)}
	var resp publishResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// Payload is returned as is even if it isn't what we expect.
		return res, nil
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return res, errors.New("mirror: " + strings.Join(msgs, "; "))
	}
	res.URL = resp.Data.PublishPost.Post.URL
	return res, nil
}
