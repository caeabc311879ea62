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
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/llm"
)

// minHighlightMatch is the share of a quoted highlight that must appear
// verbatim in the idea for the fuzzy match to be used.
const minHighlightMatch = 0.6

type unifiedReviewJSON struct {
	Scores  map[string]any    `json:"scores"`
	Reviews map[string]string `json:"reviews"`
}

type aspectReviewJSON struct {
	Aspect    string `json:"aspect"`
	Score     any    `json:"score"`
	Summary   string `json:"summary"`
	Highlight struct {
		Text     string `json:"text"`
		Category string `json:"category"`
		Review   string `json:"review"`
	} `json:"highlight"`
}

// LLMReviewOracle scores ideas with a language model.
type LLMReviewOracle struct {
	client llm.LLMClient
	params llm.GenerationParams
	logger *slog.Logger
}

// ReviewOption configures an LLMReviewOracle.
type ReviewOption func(*LLMReviewOracle)

// WithReviewParams overrides the generation parameters.
func WithReviewParams(p llm.GenerationParams) ReviewOption {
	return func(o *LLMReviewOracle) { o.params = p }
}

// WithReviewLogger sets the logger.
func WithReviewLogger(l *slog.Logger) ReviewOption {
	return func(o *LLMReviewOracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewLLMReviewOracle returns a review oracle backed by client. Reviews use
// a low temperature so repeated scoring of the same idea stays stable.
func NewLLMReviewOracle(client llm.LLMClient, opts ...ReviewOption) *LLMReviewOracle {
	o := &LLMReviewOracle{
		client: client,
		params: llm.GenerationParams{
			Temperature: llm.Float32(0.2),
			MaxTokens:   llm.Int(1024),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScoreAll implements catalog.ReviewOracle.
func (o *LLMReviewOracle) ScoreAll(ctx context.Context, idea *mcts.Artifact, aspects []string) (*mcts.Review, error) {
	if idea == nil {
		return nil, mcts.ErrNilArtifact
	}
	text, err := o.client.Generate(ctx, scoreAllPrompt(idea, aspects), o.params)
	if err != nil {
		return nil, fmt.Errorf("score all: %w", err)
	}
	review, err := ParseUnifiedReview(text)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("idea scored",
		slog.Int("aspects", len(review.Scores)),
		slog.Int("requested", len(aspects)),
	)
	return review, nil
}

// ScoreAspect implements catalog.ReviewOracle. The highlighted span is
// snapped to the closest passage of the idea text.
func (o *LLMReviewOracle) ScoreAspect(ctx context.Context, idea *mcts.Artifact, aspect string) (catalog.AspectReview, error) {
	if idea == nil {
		return catalog.AspectReview{}, mcts.ErrNilArtifact
	}
	text, err := o.client.Generate(ctx, scoreAspectPrompt(idea, aspect), o.params)
	if err != nil {
		return catalog.AspectReview{}, fmt.Errorf("score %s: %w", aspect, err)
	}
	ar, err := ParseAspectReview(text, aspect)
	if err != nil {
		return catalog.AspectReview{}, err
	}
	ar.HighlightedSpan = ClosestSpan(idea.Text, ar.HighlightedSpan)
	return ar, nil
}

// ParseUnifiedReview reads {"scores": {...}, "reviews": {...}}. Scores that
// are not numeric are skipped.
func ParseUnifiedReview(text string) (*mcts.Review, error) {
	var parsed unifiedReviewJSON
	if err := extractJSON(text, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrNoScores, err)
	}
	review := &mcts.Review{Scores: make(map[string]float64, len(parsed.Scores))}
	for aspect, raw := range parsed.Scores {
		if v, ok := numeric(raw); ok {
			review.Scores[normalizeAspect(aspect)] = v
		}
	}
	if len(review.Scores) == 0 {
		return nil, catalog.ErrNoScores
	}
	if len(parsed.Reviews) > 0 {
		review.Narratives = make(map[string]string, len(parsed.Reviews))
		for aspect, narrative := range parsed.Reviews {
			review.Narratives[normalizeAspect(aspect)] = strings.TrimSpace(narrative)
		}
	}
	return review, nil
}

// ParseAspectReview reads a single-aspect review. The requested aspect wins
// over whatever name the model echoed back.
func ParseAspectReview(text, aspect string) (catalog.AspectReview, error) {
	var parsed aspectReviewJSON
	if err := extractJSON(text, &parsed); err != nil {
		return catalog.AspectReview{}, fmt.Errorf("%w: %s: %v", catalog.ErrNoScores, aspect, err)
	}
	score, ok := numeric(parsed.Score)
	if !ok {
		return catalog.AspectReview{}, fmt.Errorf("%w: %s: score %v", catalog.ErrNoScores, aspect, parsed.Score)
	}
	narrative := strings.TrimSpace(parsed.Summary)
	if r := strings.TrimSpace(parsed.Highlight.Review); r != "" {
		if narrative != "" {
			narrative += " "
		}
		narrative += r
	}
	return catalog.AspectReview{
		Aspect:          aspect,
		Score:           score,
		HighlightedSpan: strings.TrimSpace(parsed.Highlight.Text),
		Category:        strings.TrimSpace(parsed.Highlight.Category),
		Narrative:       narrative,
	}, nil
}

// ClosestSpan returns the passage of text that quote refers to. A
// case-insensitive exact hit returns the original casing. Otherwise the
// longest common run is used when it covers enough of the quote; failing
// that the quote is returned unchanged.
func ClosestSpan(text, quote string) string {
	quote = strings.TrimSpace(quote)
	if quote == "" || text == "" {
		return quote
	}

	lowerText := strings.Map(unicode.ToLower, text)
	lowerQuote := strings.Map(unicode.ToLower, quote)
	textRunes := []rune(text)
	quoteLen := utf8.RuneCountInString(quote)
	if i := strings.Index(lowerText, lowerQuote); i >= 0 {
		start := utf8.RuneCountInString(lowerText[:i])
		return string(textRunes[start : start+quoteLen])
	}

	m := difflib.NewMatcherWithJunk(runeStrings(lowerQuote), runeStrings(lowerText), false, nil)
	var best difflib.Match
	for _, block := range m.GetMatchingBlocks() {
		if block.Size > best.Size {
			best = block
		}
	}
	if float64(best.Size) > minHighlightMatch*float64(quoteLen) {
		return string(textRunes[best.B : best.B+best.Size])
	}
	return quote
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func normalizeAspect(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// numeric accepts JSON numbers and numeric strings such as "7" or "7/10".
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		s, _, _ := strings.Cut(strings.TrimSpace(n), "/")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
