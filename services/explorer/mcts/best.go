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

import "fmt"

// Metric selects what "best" means for Best.
type Metric string

const (
	// MetricAverageScore ranks nodes by their review average (1-10).
	MetricAverageScore Metric = "average_score"

	// MetricReward ranks nodes by mean backpropagated reward.
	MetricReward Metric = "reward"
)

// ParseMetric parses a metric name. Empty selects MetricAverageScore.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricAverageScore:
		return MetricAverageScore, nil
	case MetricReward:
		return MetricReward, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
	}
}

// BestResult is the outcome of a best-node query.
type BestResult struct {
	Node   *Node   `json:"node"`
	Value  float64 `json:"value"`
	Metric Metric  `json:"metric"`

	// Fallback is true when no descendant of the requested root was scored
	// and the whole tree was searched instead.
	Fallback bool `json:"fallback"`
}

type bestOptions struct {
	rootID string
	metric Metric
	gates  map[string]float64
}

// BestOption configures Best.
type BestOption func(*bestOptions)

// WithMetric sets the ranking metric. Defaults to MetricAverageScore.
func WithMetric(m Metric) BestOption {
	return func(o *bestOptions) {
		o.metric = m
	}
}

// WithRoot restricts the search to descendants of rootID. Defaults to the
// tree root.
func WithRoot(rootID string) BestOption {
	return func(o *bestOptions) {
		o.rootID = rootID
	}
}

// WithViabilityGate skips nodes whose review scores aspect below min.
// Nodes without a score for aspect pass the gate.
func WithViabilityGate(aspect string, min float64) BestOption {
	return func(o *bestOptions) {
		if o.gates == nil {
			o.gates = make(map[string]float64)
		}
		o.gates[aspect] = min
	}
}

// Best finds the highest-ranked descendant of the search root.
//
// Description:
//
//	Searches the subtree below the search root (the root itself excluded)
//	for the node with the maximal metric. Ties go to the smaller depth, then
//	to the earlier-created node. If no descendant carries the metric, the
//	whole tree (root included) is searched instead.
//
// Outputs:
//   - BestResult: The winning node and its metric value.
//   - error: ErrNotFound if nothing in the tree carries the metric, a
//     *TreeError if the search root is unknown, or ErrInvalidMetric.
//
// Thread Safety: Safe for concurrent use.
func (t *TreeStore) Best(opts ...BestOption) (BestResult, error) {
	o := bestOptions{metric: MetricAverageScore}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metric != MetricAverageScore && o.metric != MetricReward {
		return BestResult{}, fmt.Errorf("%w: %q", ErrInvalidMetric, o.metric)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == nil {
		return BestResult{}, ErrNotFound
	}

	start := t.root
	if o.rootID != "" {
		n, ok := t.nodes[o.rootID]
		if !ok {
			return BestResult{}, nodeNotFound(o.rootID)
		}
		start = n
	}

	var best *Node
	var bestValue float64
	consider := func(n *Node) {
		v, ok := o.value(n)
		if !ok {
			return
		}
		if best == nil || outranks(n, v, best, bestValue) {
			best, bestValue = n, v
		}
	}

	stack := start.Children()
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		consider(n)
		stack = append(stack, n.Children()...)
	}
	if best != nil {
		return BestResult{Node: best, Value: bestValue, Metric: o.metric}, nil
	}

	for _, n := range t.order {
		consider(n)
	}
	if best == nil {
		return BestResult{}, ErrNotFound
	}
	return BestResult{Node: best, Value: bestValue, Metric: o.metric, Fallback: true}, nil
}

// value returns the node's metric and whether it qualifies.
func (o *bestOptions) value(n *Node) (float64, bool) {
	if len(o.gates) > 0 {
		review := n.Review()
		for aspect, min := range o.gates {
			if s, ok := review.AspectScore(aspect); ok && s < min {
				return 0, false
			}
		}
	}
	switch o.metric {
	case MetricReward:
		if !n.IsVisited() {
			return 0, false
		}
		return n.MeanReward(), true
	default:
		return n.Score()
	}
}

// outranks reports whether (a, av) beats (b, bv).
func outranks(a *Node, av float64, b *Node, bv float64) bool {
	if av != bv {
		return av > bv
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.seq < b.seq
}
