// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides a [http.RoundTripper] that logs requests and
// responses at debug level.
package httplogger

import (
	"cmp"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New returns a [http.RoundTripper] that wraps t and logs every round trip to
// logger. Occurrences of secrets in request URLs are masked, since some APIs
// carry tokens in the path. If t is nil, [http.DefaultTransport] is used.
func New(t http.RoundTripper, logger *slog.Logger, secrets ...string) http.RoundTripper {
	var pairs []string
	for _, s := range secrets {
		if s != "" {
			pairs = append(pairs, s, "[EXPUNGED]")
		}
	}
	return &loggingTransport{
		transport: cmp.Or[http.RoundTripper](t, http.DefaultTransport),
		logger:    logger,
		scrubber:  strings.NewReplacer(pairs...),
	}
}

type loggingTransport struct {
	transport http.RoundTripper
	logger    *slog.Logger
	scrubber  *strings.Replacer
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []any{
		"method", r.Method,
		"url", t.scrubber.Replace(r.URL.String()),
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		attrs = append(attrs, "err", t.scrubber.Replace(err.Error()))
	}
	t.logger.Debug("http", attrs...)

	return resp, err
}
