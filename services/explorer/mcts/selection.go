// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"math"
	"sort"
)

// SelectorConfig holds the UCT constant and the domain bias heuristics.
type SelectorConfig struct {
	// ExplorationConstant (C) controls exploration vs exploitation.
	ExplorationConstant float64 `yaml:"exploration_constant" json:"exploration_constant"`

	// LowScoreThreshold marks an aspect as low-scoring when strictly below it.
	LowScoreThreshold float64 `yaml:"low_score_threshold" json:"low_score_threshold"`

	// NoveltyThreshold triggers the retrieval bias when novelty is below it.
	NoveltyThreshold float64 `yaml:"novelty_threshold" json:"novelty_threshold"`

	// ReviewBias multiplies review-and-refine when low aspects exist.
	ReviewBias float64 `yaml:"review_bias" json:"review_bias"`

	// RetrievalBias multiplies retrieve-and-refine when novelty is weak.
	RetrievalBias float64 `yaml:"retrieval_bias" json:"retrieval_bias"`
}

// DefaultSelectorConfig returns the standard constants.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		ExplorationConstant: 1.414,
		LowScoreThreshold:   6,
		NoveltyThreshold:    7,
		ReviewBias:          1.2,
		RetrievalBias:       1.15,
	}
}

// ActionScore is the scored candidate for one action.
type ActionScore struct {
	Action      ActionType `json:"action"`
	Visits      int64      `json:"visits"`
	TotalReward float64    `json:"total_reward"`
	Untried     bool       `json:"untried"`
	Base        float64    `json:"base"`
	Bias        float64    `json:"bias"`
	Score       float64    `json:"score"`
}

// Selector picks the next action from the current node with UCT.
//
// Children of the current node are grouped by the action that produced
// them; an action with no visited child is untried and scores +Inf. Bias
// multipliers apply after the base UCT score and ties fall back to
// CanonicalActionOrder.
//
// Thread Safety: Safe for concurrent use. The selector holds no mutable
// state.
type Selector struct {
	config  SelectorConfig
	actions []ActionType
}

// NewSelector creates a selector over the given actions.
//
// Inputs:
//   - config: UCT constant and bias heuristics.
//   - actions: Candidate actions. Defaults to ExpansionActions when empty.
//
// Outputs:
//   - *Selector: Ready to use selector.
func NewSelector(config SelectorConfig, actions ...ActionType) *Selector {
	if len(actions) == 0 {
		actions = ExpansionActions
	}
	return &Selector{
		config:  config,
		actions: append([]ActionType(nil), actions...),
	}
}

// Config returns the selector's configuration.
func (s *Selector) Config() SelectorConfig {
	return s.config
}

// Select returns the action to run from current.
//
// Inputs:
//   - current: The cursor node. Nil means the tree has no root yet.
//   - review: Cached review of current, or nil. When nil the review
//     attached to current's artifact is used.
//
// Outputs:
//   - ActionType: ActionGenerate for an empty tree, otherwise the
//     highest-scoring candidate.
func (s *Selector) Select(current *Node, review *Review) ActionType {
	if current == nil {
		return ActionGenerate
	}
	scores := s.Score(current, review)
	if len(scores) == 0 {
		return ActionGenerate
	}
	return scores[0].Action
}

// Score computes the biased UCT score of every candidate action, best first.
//
// Outputs:
//   - []ActionScore: Sorted by score descending, ties in canonical order.
func (s *Selector) Score(current *Node, review *Review) []ActionScore {
	if current == nil {
		return nil
	}
	if review == nil {
		review = current.Review()
	}

	type stats struct {
		visits int64
		reward float64
	}
	byAction := make(map[ActionType]*stats, len(s.actions))
	for _, child := range current.Children() {
		st, ok := byAction[child.Action]
		if !ok {
			st = &stats{}
			byAction[child.Action] = st
		}
		st.visits += child.Visits()
		st.reward += child.TotalReward()
	}

	parentVisits := current.Visits()

	out := make([]ActionScore, 0, len(s.actions))
	for _, action := range s.actions {
		as := ActionScore{Action: action, Bias: s.bias(action, review)}
		if st, ok := byAction[action]; ok {
			as.Visits = st.visits
			as.TotalReward = st.reward
		}
		as.Untried = as.Visits == 0
		as.Base = UCTScore(as.TotalReward, as.Visits, parentVisits, s.config.ExplorationConstant)
		as.Score = as.Base * as.Bias
		out = append(out, as)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return canonicalRank(out[i].Action) < canonicalRank(out[j].Action)
	})
	return out
}

// bias returns the multiplier for action given the current review.
func (s *Selector) bias(action ActionType, review *Review) float64 {
	switch action {
	case ActionReviewAndRefine:
		if len(review.LowAspects(s.config.LowScoreThreshold)) > 0 {
			return s.config.ReviewBias
		}
	case ActionRetrieveAndRefine:
		novelty, ok := review.AspectScore(AspectNovelty)
		if !ok || novelty < s.config.NoveltyThreshold {
			return s.config.RetrievalBias
		}
	}
	return 1
}

// UCTScore calculates the UCT score of an action's statistics.
//
// Inputs:
//   - totalReward: Cumulative reward of the action's children.
//   - visits: Visit count of the action's children.
//   - parentVisits: Visit count of the current node.
//   - c: Exploration constant.
//
// Outputs:
//   - float64: +Inf when visits is zero, otherwise
//     totalReward/visits + c*sqrt(ln(parentVisits)/visits).
func UCTScore(totalReward float64, visits, parentVisits int64, c float64) float64 {
	if visits <= 0 {
		return math.Inf(1)
	}
	pv := float64(parentVisits)
	if pv < 1 {
		pv = 1
	}
	n := float64(visits)
	return totalReward/n + c*math.Sqrt(math.Log(pv)/n)
}
