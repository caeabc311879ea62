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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

func TestNormalizeReview(t *testing.T) {
	tests := []struct {
		name    string
		scores  map[string]float64
		aspects []AspectWeight
		want    float64
	}{
		{
			name:    "equal weights",
			scores:  map[string]float64{"novelty": 8, "clarity": 4, "feasibility": 6, "effectiveness": 5, "impact": 7},
			aspects: DefaultAspects(),
			want:    6,
		},
		{
			name:    "omitted aspects excluded",
			scores:  map[string]float64{"novelty": 9, "clarity": 3},
			aspects: DefaultAspects(),
			want:    6,
		},
		{
			name:    "scores clamped",
			scores:  map[string]float64{"novelty": 14, "clarity": -2},
			aspects: DefaultAspects(),
			want:    5.5,
		},
		{
			name:   "uneven weights",
			scores: map[string]float64{"novelty": 10, "clarity": 4},
			aspects: []AspectWeight{
				{Name: "novelty", Weight: 3},
				{Name: "clarity", Weight: 1},
			},
			want: 8.5,
		},
		{
			name:    "unconfigured aspects ignored",
			scores:  map[string]float64{"novelty": 6, "vibes": 1},
			aspects: DefaultAspects(),
			want:    6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeReview(&mcts.Review{Scores: tt.scores}, tt.aspects)
			require.NoError(t, err)
			require.NotNil(t, got.Average)
			assert.InDelta(t, tt.want, *got.Average, 1e-9)
			for _, v := range got.Scores {
				assert.GreaterOrEqual(t, v, 1.0)
				assert.LessOrEqual(t, v, 10.0)
			}
		})
	}

	_, err := normalizeReview(nil, DefaultAspects())
	assert.ErrorIs(t, err, ErrNoScores)
	_, err = normalizeReview(&mcts.Review{Scores: map[string]float64{"vibes": 5}}, DefaultAspects())
	assert.ErrorIs(t, err, ErrNoScores)
}

func TestLowestAspects(t *testing.T) {
	aspects := DefaultAspects()

	t.Run("lowest three by score", func(t *testing.T) {
		review := &mcts.Review{Scores: map[string]float64{
			"novelty": 8, "clarity": 4, "feasibility": 6, "effectiveness": 5, "impact": 7,
		}}
		got := lowestAspects(review, aspects, mcts.Memory{}, 3, 2)
		assert.Equal(t, []string{"clarity", "effectiveness", "feasibility"}, got)
	})

	t.Run("ties prefer configured order", func(t *testing.T) {
		review := &mcts.Review{Scores: map[string]float64{
			"novelty": 5, "clarity": 5, "feasibility": 5, "effectiveness": 5, "impact": 5,
		}}
		got := lowestAspects(review, aspects, mcts.Memory{}, 3, 2)
		assert.Equal(t, []string{"novelty", "clarity", "feasibility"}, got)
	})

	t.Run("ties avoid recently refined", func(t *testing.T) {
		review := &mcts.Review{Scores: map[string]float64{
			"novelty": 5, "clarity": 5, "feasibility": 5, "effectiveness": 5, "impact": 5,
		}}
		mem := mcts.Memory{ProblematicAspects: []string{"feasibility", "novelty", "clarity"}}
		got := lowestAspects(review, aspects, mem, 3, 2)
		assert.Equal(t, []string{"feasibility", "effectiveness", "impact"}, got,
			"only the last two refined aspects are avoided")
	})

	t.Run("lower score beats recency", func(t *testing.T) {
		review := &mcts.Review{Scores: map[string]float64{"novelty": 2, "clarity": 5}}
		mem := mcts.Memory{ProblematicAspects: []string{"novelty"}}
		got := lowestAspects(review, aspects, mem, 3, 2)
		assert.Equal(t, []string{"novelty", "clarity"}, got)
	})

	t.Run("empty review", func(t *testing.T) {
		assert.Empty(t, lowestAspects(nil, aspects, mcts.Memory{}, 3, 2))
		assert.Empty(t, lowestAspects(&mcts.Review{}, aspects, mcts.Memory{}, 3, 2))
	})
}

func TestFormatFeedback(t *testing.T) {
	out := FormatFeedback([]AspectReview{
		{Aspect: "clarity", Score: 4, Narrative: "Vague method.", HighlightedSpan: "we will try", Category: "weakness"},
		{Aspect: "impact", Score: 6.5},
	})
	assert.Contains(t, out, "Aspect: Clarity (Score: 4/10)\nSummary: Vague method.\nHighlighted text: \"we will try\"\nCategory: weakness\n")
	assert.Contains(t, out, "Aspect: Impact (Score: 6.5/10)")
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	mutations := map[string]func(*Config){
		"no aspects":       func(c *Config) { c.Aspects = nil },
		"zero weight":      func(c *Config) { c.Aspects[0].Weight = 0 },
		"blank aspect":     func(c *Config) { c.Aspects[1].Name = "" },
		"refine aspects":   func(c *Config) { c.RefineAspects = 0 },
		"max sections":     func(c *Config) { c.MaxSections = 0 },
		"negative timeout": func(c *Config) { c.CallTimeout = -1 },
		"burst":            func(c *Config) { c.RateLimit = 2; c.RateBurst = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
