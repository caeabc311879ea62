// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/llm"
)

// maxFallbackQueryRunes bounds a query cut from the idea text.
const maxFallbackQueryRunes = 100

var (
	queryLineRe = regexp.MustCompile(`(?im)^\s*(?:search\s+)?query\s*[:=]\s*["']?([^"'\n]+)["']?\s*$`)
	sentenceRe  = regexp.MustCompile(`^(.+?[.!?])(?:\s|$)`)
)

// Searcher finds literature sections for a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]catalog.Section, error)
}

// Retriever implements catalog.RetrievalOracle with a language model for
// query generation and a Searcher for the lookup.
type Retriever struct {
	client   llm.LLMClient
	searcher Searcher
	params   llm.GenerationParams
	logger   *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever returns a retrieval oracle.
func NewRetriever(client llm.LLMClient, searcher Searcher, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		client:   client,
		searcher: searcher,
		params: llm.GenerationParams{
			Temperature: llm.Float32(0.3),
			MaxTokens:   llm.Int(128),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// QueryFor implements catalog.RetrievalOracle. An unusable model answer
// falls back to the first sentence of the idea.
func (r *Retriever) QueryFor(ctx context.Context, _ string, idea *mcts.Artifact) (string, error) {
	if idea == nil {
		return "", mcts.ErrNilArtifact
	}
	text, err := r.client.Generate(ctx, queryPrompt(idea), r.params)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	if q := ParseQuery(text); q != "" {
		return q, nil
	}
	q := FallbackQuery(idea.Text)
	if q == "" {
		return "", catalog.ErrEmptyQuery
	}
	r.logger.Warn("query answer unusable, using idea text", slog.String("query", q))
	return q, nil
}

// Retrieve implements catalog.RetrievalOracle.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]catalog.Section, error) {
	if strings.TrimSpace(query) == "" {
		return nil, catalog.ErrEmptyQuery
	}
	return r.searcher.Search(ctx, query, limit)
}

// ParseQuery extracts the query from a model answer: a JSON {"query": ...}
// object first, then a "query:" line. It returns "" when neither is found.
func ParseQuery(text string) string {
	var parsed struct {
		Query string `json:"query"`
	}
	if err := extractJSON(text, &parsed); err == nil {
		if q := strings.TrimSpace(parsed.Query); q != "" {
			return q
		}
	}
	if m := queryLineRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// FallbackQuery derives a query from the idea itself: its first sentence,
// or the first 100 characters when no sentence ends early enough.
func FallbackQuery(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = strings.TrimPrefix(text, "Title: ")
	if m := sentenceRe.FindStringSubmatch(text); m != nil && len([]rune(m[1])) <= maxFallbackQueryRunes {
		return m[1]
	}
	if r := []rune(text); len(r) > maxFallbackQueryRunes {
		return strings.TrimSpace(string(r[:maxFallbackQueryRunes]))
	}
	return text
}

// FallbackSearcher asks each searcher in turn and returns the first
// non-empty result. Errors are collected and returned only when every
// searcher fails.
type FallbackSearcher struct {
	searchers []Searcher
	logger    *slog.Logger
}

// NewFallbackSearcher chains searchers in priority order.
func NewFallbackSearcher(logger *slog.Logger, searchers ...Searcher) *FallbackSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackSearcher{searchers: searchers, logger: logger}
}

// Search implements Searcher.
func (f *FallbackSearcher) Search(ctx context.Context, query string, limit int) ([]catalog.Section, error) {
	var errs []error
	for i, s := range f.searchers {
		sections, err := s.Search(ctx, query, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			f.logger.Warn("searcher failed",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		if len(sections) > 0 {
			return sections, nil
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
