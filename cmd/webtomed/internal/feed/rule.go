// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	"errors"
	"fmt"
	"log/slog"

	"go.backpr.com/webtomed/cmd/webtomed/internal/article"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// Rule decides whether an entry should be passed over.
//
// A rule is a Starlark file defining a function skip(entry) that returns a
// bool. entry has the fields title, url, category, summary and categories:
//
//	def skip(entry):
//	    return "sponsored" in entry.categories
type Rule struct {
	skip   *starlark.Function
	logger *slog.Logger
}

// ParseRule compiles a rule file.
func ParseRule(filename, src string, logger *slog.Logger) (*Rule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{},
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { logger.Info(msg) },
		},
		filename,
		src,
		nil,
	)
	if err != nil {
		return nil, err
	}
	skip, ok := globals["skip"].(*starlark.Function)
	if !ok {
		return nil, errors.New("skip must be defined and be a function")
	}
	if skip.NumParams() != 1 {
		return nil, fmt.Errorf("skip must accept exactly one parameter, not %d", skip.NumParams())
	}
	return &Rule{skip: skip, logger: logger}, nil
}

// Skip reports whether e should be passed over. Errors are logged and treated
// as false.
func (r *Rule) Skip(e article.Entry, categories []string) bool {
	if r == nil {
		return false
	}

	cats := make([]starlark.Value, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, starlark.String(c))
	}
	val, err := starlark.Call(
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { r.logger.Info(msg) },
		},
		r.skip,
		starlark.Tuple{starlarkstruct.FromStringDict(
			starlarkstruct.Default,
			starlark.StringDict{
				"title":      starlark.String(e.Title),
				"url":        starlark.String(e.Link),
				"category":   starlark.String(e.Category),
				"summary":    starlark.String(e.SummaryHTML),
				"categories": starlark.NewList(cats),
			},
		)},
		nil,
	)
	if err != nil {
		r.logger.Warn("applying skip rule", "entry", e.Link, "error", err)
		return false
	}
	ret, ok := val.(starlark.Bool)
	if !ok {
		r.logger.Warn("skip rule returned non-boolean value", "entry", e.Link, "type", val.Type())
		return false
	}
	return bool(ret)
}
