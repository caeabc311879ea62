// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

// IdeaOracle drafts and rewrites research ideas.
type IdeaOracle interface {
	// Generate drafts a first idea for goal.
	Generate(ctx context.Context, goal string) (*mcts.Artifact, error)

	// Refine rewrites an idea against review feedback or retrieved sections.
	Refine(ctx context.Context, req RefineRequest) (*mcts.Artifact, error)

	// Refresh drafts a structurally different idea for the same goal.
	Refresh(ctx context.Context, goal string, current *mcts.Artifact) (*mcts.Artifact, error)
}

// ReviewOracle scores ideas.
type ReviewOracle interface {
	// ScoreAll scores the idea on every aspect in one call. Scores are on a
	// 1-10 scale; narratives are optional.
	ScoreAll(ctx context.Context, idea *mcts.Artifact, aspects []string) (*mcts.Review, error)

	// ScoreAspect reviews a single aspect in depth.
	ScoreAspect(ctx context.Context, idea *mcts.Artifact, aspect string) (AspectReview, error)
}

// RetrievalOracle finds literature relevant to an idea.
type RetrievalOracle interface {
	// QueryFor derives a search query from the idea.
	QueryFor(ctx context.Context, goal string, idea *mcts.Artifact) (string, error)

	// Retrieve returns up to limit sections for query, best first.
	Retrieve(ctx context.Context, query string, limit int) ([]Section, error)
}

// AspectReview is an in-depth review of one aspect.
type AspectReview struct {
	Aspect          string  `json:"aspect"`
	Score           float64 `json:"score"`
	HighlightedSpan string  `json:"highlighted_span,omitempty"`
	Category        string  `json:"category,omitempty"`
	Narrative       string  `json:"narrative,omitempty"`
}

// Section is a retrieved literature passage with its citation.
type Section struct {
	Title    string  `json:"title"`
	Citation string  `json:"citation,omitempty"`
	URL      string  `json:"url,omitempty"`
	Text     string  `json:"text"`
	Score    float64 `json:"score,omitempty"`
}

// maxExcerptRunes bounds the excerpt stored on an artifact.
const maxExcerptRunes = 500

// Ref converts the section to the reference stored on an artifact.
func (s Section) Ref() mcts.KnowledgeRef {
	excerpt := s.Text
	if r := []rune(excerpt); len(r) > maxExcerptRunes {
		excerpt = string(r[:maxExcerptRunes]) + "..."
	}
	return mcts.KnowledgeRef{
		Title:    s.Title,
		Citation: s.Citation,
		URL:      s.URL,
		Excerpt:  excerpt,
	}
}

// RefineRequest is the input of IdeaOracle.Refine. Exactly one of Feedback
// or Knowledge is normally set.
type RefineRequest struct {
	Goal      string
	Current   *mcts.Artifact
	Feedback  []AspectReview
	Knowledge []Section

	// Memory lets the oracle steer away from recently addressed aspects
	// and repeated queries.
	Memory mcts.Memory
}

// FormatFeedback renders aspect reviews as the plain-text block stored on
// the refined artifact and shown to the idea oracle.
func FormatFeedback(reviews []AspectReview) string {
	var sb strings.Builder
	for i, r := range reviews {
		if i > 0 {
			sb.WriteString("\n")
		}
		name := r.Aspect
		if name != "" {
			name = strings.ToUpper(name[:1]) + name[1:]
		}
		fmt.Fprintf(&sb, "Aspect: %s (Score: %g/10)\n", name, r.Score)
		if r.Narrative != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", r.Narrative)
		}
		if r.HighlightedSpan != "" {
			fmt.Fprintf(&sb, "Highlighted text: %q\n", r.HighlightedSpan)
		}
		if r.Category != "" {
			fmt.Fprintf(&sb, "Category: %s\n", r.Category)
		}
	}
	return sb.String()
}

// FormatSections renders retrieved sections for a refine prompt.
func FormatSections(sections []Section) string {
	var sb strings.Builder
	for i, s := range sections {
		fmt.Fprintf(&sb, "[%d] %s", i+1, s.Title)
		if s.Citation != "" {
			fmt.Fprintf(&sb, " (%s)", s.Citation)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(s.Text))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
