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
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Node is one idea snapshot in the exploration tree.
//
// Identity, placement and artifact are immutable after creation. Statistics
// change only through TreeStore.Backpropagate.
//
// Thread Safety: Safe for concurrent use. Uses atomic operations for visits
// and a mutex for reward and children.
type Node struct {
	// Immutable after creation
	ID        string     `json:"id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Action    ActionType `json:"action,omitempty"`
	Depth     int        `json:"depth"`
	CreatedAt time.Time  `json:"created_at"`

	// seq is the creation order within the tree, used for tie-breaks.
	seq int64

	// Parent pointer (not serialized to avoid cycles)
	parent *Node

	artifact *Artifact

	// Statistics
	visits      int64   // Atomic
	totalReward float64 // Protected by mu

	mu       sync.RWMutex
	children []*Node
}

func newNode(id string, parent *Node, action ActionType, artifact *Artifact, seq int64) *Node {
	n := &Node{
		ID:        id,
		Action:    action,
		CreatedAt: time.Now(),
		seq:       seq,
		parent:    parent,
		artifact:  artifact,
		children:  make([]*Node, 0),
	}
	if parent != nil {
		n.ParentID = parent.ID
		n.Depth = parent.Depth + 1
	}
	return n
}

// Artifact returns a copy of the node's idea snapshot.
func (n *Node) Artifact() *Artifact {
	return n.artifact.Clone()
}

// Score returns the node's average review score and whether it has one.
func (n *Node) Score() (float64, bool) {
	return n.artifact.Score()
}

// Review returns the review attached to the node's artifact, or nil.
func (n *Node) Review() *Review {
	return n.artifact.Review()
}

// Seq returns the node's creation order within its tree.
func (n *Node) Seq() int64 {
	return n.seq
}

// Visits returns the visit count atomically.
func (n *Node) Visits() int64 {
	return atomic.LoadInt64(&n.visits)
}

// TotalReward returns the cumulative discounted reward.
func (n *Node) TotalReward() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.totalReward
}

// MeanReward returns totalReward/visits, or 0 if unvisited.
func (n *Node) MeanReward() float64 {
	visits := n.Visits()
	if visits == 0 {
		return 0
	}
	return n.TotalReward() / float64(visits)
}

// IsVisited reports whether backpropagation has touched the node.
func (n *Node) IsVisited() bool {
	return n.Visits() > 0
}

// credit records one backpropagation event.
func (n *Node) credit(reward float64) {
	n.mu.Lock()
	n.totalReward += reward
	n.mu.Unlock()
	atomic.AddInt64(&n.visits, 1)
}

// Parent returns the parent node (nil for root).
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot returns true if this node has no parent.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// Children returns a copy of the children slice in creation order.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	return children
}

// ChildIDs returns the children's IDs in creation order.
func (n *Node) ChildIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, len(n.children))
	for i, c := range n.children {
		ids[i] = c.ID
	}
	return ids
}

// ChildCount returns the number of children.
func (n *Node) ChildCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

func (n *Node) appendChild(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, child)
}

// PathFromRoot returns the path from root to this node.
func (n *Node) PathFromRoot() []*Node {
	var path []*Node
	for cur := n; cur != nil; cur = cur.parent {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// String returns a human-readable representation of the node.
func (n *Node) String() string {
	score := "n/a"
	if s, ok := n.Score(); ok {
		score = fmt.Sprintf("%.2f", s)
	}
	return fmt.Sprintf("Node{id=%s, action=%s, depth=%d, visits=%d, mean_reward=%.3f, score=%s, children=%d}",
		n.ID, n.Action, n.Depth, n.Visits(), n.MeanReward(), score, n.ChildCount())
}

// MarshalJSON emits the flat node record with child IDs.
func (n *Node) MarshalJSON() ([]byte, error) {
	type nodeJSON struct {
		ID           string     `json:"id"`
		ParentID     *string    `json:"parent_id"`
		Action       ActionType `json:"action,omitempty"`
		Depth        int        `json:"depth"`
		Artifact     *Artifact  `json:"artifact"`
		Visits       int64      `json:"visits"`
		TotalReward  float64    `json:"total_reward"`
		AverageScore *float64   `json:"average_score"`
		Children     []string   `json:"children"`
		CreatedAt    time.Time  `json:"created_at"`
	}

	var parentID *string
	if n.parent != nil {
		id := n.ParentID
		parentID = &id
	}

	return json.Marshal(&nodeJSON{
		ID:           n.ID,
		ParentID:     parentID,
		Action:       n.Action,
		Depth:        n.Depth,
		Artifact:     n.artifact,
		Visits:       n.Visits(),
		TotalReward:  n.TotalReward(),
		AverageScore: n.artifact.AverageScore,
		Children:     n.ChildIDs(),
		CreatedAt:    n.CreatedAt,
	})
}
