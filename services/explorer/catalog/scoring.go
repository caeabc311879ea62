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
	"fmt"
	"sort"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

// Review scores are clamped to this range.
const (
	minAspectScore = 1.0
	maxAspectScore = 10.0
)

// normalizeReview clamps scores and sets the weighted average.
//
// Description:
//
//	The average is the weight-normalized mean over the configured aspects
//	the oracle actually scored. Unconfigured aspects are kept in Scores but
//	do not count.
//
// Outputs:
//   - *mcts.Review: A new review with Average set.
//   - error: ErrNoScores if no configured aspect was scored.
func normalizeReview(review *mcts.Review, aspects []AspectWeight) (*mcts.Review, error) {
	if review == nil || len(review.Scores) == 0 {
		return nil, ErrNoScores
	}
	out := review.Clone()
	for k, v := range out.Scores {
		out.Scores[k] = clampScore(v)
	}

	var sum, weights float64
	for _, a := range aspects {
		score, ok := out.Scores[a.Name]
		if !ok {
			continue
		}
		sum += score * a.Weight
		weights += a.Weight
	}
	if weights == 0 {
		return nil, fmt.Errorf("%w: got %d unconfigured aspects", ErrNoScores, len(out.Scores))
	}
	avg := sum / weights
	out.Average = &avg
	return out, nil
}

func clampScore(v float64) float64 {
	if v < minAspectScore {
		return minAspectScore
	}
	if v > maxAspectScore {
		return maxAspectScore
	}
	return v
}

// lowestAspects picks the k lowest-scored configured aspects.
//
// Description:
//
//	Ties on score go to aspects not among the avoid most recently refined
//	ones, then to configured order. Aspects the review did not score are
//	never picked.
func lowestAspects(review *mcts.Review, aspects []AspectWeight, memory mcts.Memory, k, avoid int) []string {
	if review == nil || k <= 0 {
		return nil
	}
	recent := make(map[string]bool)
	for _, a := range memory.RecentProblematic(avoid) {
		recent[a] = true
	}

	type candidate struct {
		name   string
		score  float64
		recent bool
		order  int
	}
	cands := make([]candidate, 0, len(aspects))
	for i, a := range aspects {
		score, ok := review.Scores[a.Name]
		if !ok {
			continue
		}
		cands = append(cands, candidate{name: a.Name, score: score, recent: recent[a.Name], order: i})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		ci, cj := cands[i], cands[j]
		if ci.score != cj.score {
			return ci.score < cj.score
		}
		if ci.recent != cj.recent {
			return !ci.recent
		}
		return ci.order < cj.order
	})

	if k > len(cands) {
		k = len(cands)
	}
	out := make([]string, k)
	for i := range out {
		out[i] = cands[i].name
	}
	return out
}
