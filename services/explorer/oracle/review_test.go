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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

const ideaText = "We propose Sparse Retrieval Heads. The method prunes attention heads that never attend to retrieved passages, then fine-tunes on synthetic long documents."

func TestParseUnifiedReview(t *testing.T) {
	review, err := ParseUnifiedReview(`Review follows:
{"scores": {"Novelty": 7, "clarity": "5/10", "impact": "high"},
 "reviews": {"Novelty": " Builds on known pruning. ", "clarity": "Vague training setup."}}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"novelty": 7, "clarity": 5}, review.Scores)
	assert.Equal(t, "Builds on known pruning.", review.Narratives["novelty"])
	assert.Nil(t, review.Average, "averaging is left to the catalog")

	_, err = ParseUnifiedReview(`{"scores": {"impact": "high"}}`)
	assert.ErrorIs(t, err, catalog.ErrNoScores)

	_, err = ParseUnifiedReview("no json at all")
	assert.ErrorIs(t, err, catalog.ErrNoScores)
}

func TestParseAspectReview(t *testing.T) {
	ar, err := ParseAspectReview(`{
  "aspect": "Clarity",
  "score": 4,
  "highlight": {"text": "fine-tunes on synthetic long documents", "category": "Methodology", "review": "No data recipe."},
  "summary": "Training is underspecified."
}`, "clarity")
	require.NoError(t, err)
	assert.Equal(t, catalog.AspectReview{
		Aspect:          "clarity",
		Score:           4,
		HighlightedSpan: "fine-tunes on synthetic long documents",
		Category:        "Methodology",
		Narrative:       "Training is underspecified. No data recipe.",
	}, ar)

	_, err = ParseAspectReview(`{"aspect": "clarity", "score": "n/a"}`, "clarity")
	assert.ErrorIs(t, err, catalog.ErrNoScores)
}

func TestClosestSpan(t *testing.T) {
	tests := []struct {
		name  string
		quote string
		want  string
	}{
		{
			name:  "exact",
			quote: "prunes attention heads",
			want:  "prunes attention heads",
		},
		{
			name:  "case-insensitive keeps original casing",
			quote: "SPARSE RETRIEVAL HEADS",
			want:  "Sparse Retrieval Heads",
		},
		{
			name:  "paraphrased tail snaps to longest common run",
			quote: "then fine-tunes on synthetic long docs",
			want:  "then fine-tunes on synthetic long doc",
		},
		{
			name:  "unrelated quote is returned unchanged",
			quote: "quantum annealing schedule",
			want:  "quantum annealing schedule",
		},
		{
			name:  "empty",
			quote: "  ",
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClosestSpan(ideaText, tt.quote))
		})
	}
}

func TestLLMReviewOracle(t *testing.T) {
	ctx := context.Background()
	idea := &mcts.Artifact{Text: ideaText}

	t.Run("score all lists aspects", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"scores": {"novelty": 8, "clarity": 6}}`}}
		o := NewLLMReviewOracle(fake)
		review, err := o.ScoreAll(ctx, idea, []string{"novelty", "clarity"})
		require.NoError(t, err)
		assert.Len(t, review.Scores, 2)
		assert.Contains(t, fake.lastPrompt(), "1. novelty: Originality")
		assert.Contains(t, fake.lastPrompt(), "2. clarity")
	})

	t.Run("score aspect snaps highlight", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{
			`{"score": 5, "highlight": {"text": "PRUNES ATTENTION HEADS", "category": "Method"}, "summary": "ok"}`,
		}}
		o := NewLLMReviewOracle(fake)
		ar, err := o.ScoreAspect(ctx, idea, "feasibility")
		require.NoError(t, err)
		assert.Equal(t, "feasibility", ar.Aspect)
		assert.Equal(t, "prunes attention heads", ar.HighlightedSpan)
		assert.Contains(t, fake.lastPrompt(), "only on feasibility")
	})

	t.Run("nil idea", func(t *testing.T) {
		o := NewLLMReviewOracle(&fakeLLM{})
		_, err := o.ScoreAll(ctx, nil, nil)
		assert.ErrorIs(t, err, mcts.ErrNilArtifact)
		_, err = o.ScoreAspect(ctx, nil, "clarity")
		assert.ErrorIs(t, err, mcts.ErrNilArtifact)
	})
}
