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
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TreeStore owns the exploration tree and its "current" cursor.
//
// The tree is append-only: AddChild never reparents or deletes, so the
// structure is acyclic with a single parent per node by construction. Only
// Reset discards nodes.
//
// Thread Safety: Safe for concurrent use. Mutations take the write lock so
// snapshot readers never observe a partially built node.
type TreeStore struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	order   []*Node
	root    *Node
	current *Node
	seq     int64
	newID   func() string
}

// TreeOption configures a TreeStore.
type TreeOption func(*TreeStore)

// WithIDGenerator overrides node ID generation. Defaults to uuid.NewString.
func WithIDGenerator(fn func() string) TreeOption {
	return func(t *TreeStore) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// NewTreeStore creates an empty tree.
func NewTreeStore(opts ...TreeOption) *TreeStore {
	t := &TreeStore{
		nodes: make(map[string]*Node),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateRoot creates the single root from an initial artifact and makes it
// current.
//
// Inputs:
//   - artifact: The seed idea. Must not be nil. The tree keeps a copy.
//
// Outputs:
//   - *Node: The root node.
//   - error: ErrNilArtifact, or ErrRootExists if the tree is already seeded.
func (t *TreeStore) CreateRoot(artifact *Artifact) (*Node, error) {
	if artifact == nil {
		return nil, ErrNilArtifact
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root != nil {
		return nil, ErrRootExists
	}

	root := t.insertLocked(nil, "", artifact.Clone())
	t.root = root
	t.current = root
	return root, nil
}

// Get returns the node with the given ID.
//
// Outputs:
//   - *Node: The node.
//   - error: A *TreeError (ErrNodeNotFound) if the ID is unknown.
func (t *TreeStore) Get(id string) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, nodeNotFound(id)
	}
	return n, nil
}

// AddChild appends a new child under parentID with zero statistics.
//
// Inputs:
//   - parentID: ID of an existing node.
//   - action: The action that produced the artifact.
//   - artifact: The new idea. Must not be nil. The tree keeps a copy.
//
// Outputs:
//   - *Node: The new node with depth parent.Depth+1.
//   - error: A *TreeError (ErrInvalidParent) if the parent is unknown,
//     ErrInvalidActionType, or ErrNilArtifact.
func (t *TreeStore) AddChild(parentID string, action ActionType, artifact *Artifact) (*Node, error) {
	if artifact == nil {
		return nil, ErrNilArtifact
	}
	if !ValidActionTypes[action] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidActionType, action)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok {
		return nil, &TreeError{Kind: TreeErrInvalidParent, NodeID: parentID}
	}
	return t.insertLocked(parent, action, artifact.Clone()), nil
}

// insertLocked builds and registers a node. Caller holds t.mu.
func (t *TreeStore) insertLocked(parent *Node, action ActionType, artifact *Artifact) *Node {
	t.seq++
	n := newNode(t.newID(), parent, action, artifact, t.seq)
	if parent != nil {
		parent.appendChild(n)
	}
	t.nodes[n.ID] = n
	t.order = append(t.order, n)
	return n
}

// SetCurrent moves the cursor. Statistics are untouched.
//
// Outputs:
//   - error: A *TreeError (ErrNodeNotFound) if the ID is unknown.
func (t *TreeStore) SetCurrent(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return nodeNotFound(id)
	}
	t.current = n
	return nil
}

// Current returns the cursor node, or nil if the tree is empty.
func (t *TreeStore) Current() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Root returns the root node, or nil if the tree is empty.
func (t *TreeStore) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Len returns the number of nodes.
func (t *TreeStore) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Nodes returns all nodes in creation order.
func (t *TreeStore) Nodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, len(t.order))
	copy(out, t.order)
	return out
}

// MaxDepth returns the depth of the deepest node, or -1 if empty.
func (t *TreeStore) MaxDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	maxDepth := -1
	for _, n := range t.order {
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
	}
	return maxDepth
}

// Credit records the reward applied to one node during backpropagation.
type Credit struct {
	NodeID string  `json:"node_id"`
	Hop    int     `json:"hop"`
	Reward float64 `json:"reward"`
}

// Backpropagate walks from nodeID to the root. At hop distance d (0 at the
// node itself) it adds one visit and reward*discount^d.
//
// Inputs:
//   - nodeID: The freshly expanded node.
//   - reward: Reward in [0,1] for the node.
//   - discount: Per-hop discount factor in (0,1].
//
// Outputs:
//   - []Credit: One entry per node touched, leaf first.
//   - error: A *TreeError (ErrNodeNotFound) if the ID is unknown.
func (t *TreeStore) Backpropagate(nodeID string, reward, discount float64) ([]Credit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[nodeID]
	if !ok {
		return nil, nodeNotFound(nodeID)
	}

	credits := make([]Credit, 0, n.Depth+1)
	hop := 0
	for cur := n; cur != nil; cur = cur.parent {
		r := reward * math.Pow(discount, float64(hop))
		cur.credit(r)
		credits = append(credits, Credit{NodeID: cur.ID, Hop: hop, Reward: r})
		hop++
	}
	return credits, nil
}

// Reset discards the whole tree.
func (t *TreeStore) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[string]*Node)
	t.order = nil
	t.root = nil
	t.current = nil
	t.seq = 0
}

// SnapshotNode is the recursive, render-ready view of a subtree.
type SnapshotNode struct {
	ID           string          `json:"id"`
	Action       ActionType      `json:"action,omitempty"`
	Artifact     *Artifact       `json:"artifact"`
	Reward       float64         `json:"reward"`
	MeanReward   float64         `json:"mean_reward"`
	AverageScore *float64        `json:"average_score"`
	Visits       int64           `json:"visits"`
	Depth        int             `json:"depth"`
	IsCurrent    bool            `json:"is_current"`
	Children     []*SnapshotNode `json:"children"`
}

// Snapshot returns a deep copy of the tree for external rendering, or nil
// if the tree is empty.
func (t *TreeStore) Snapshot() *SnapshotNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == nil {
		return nil
	}
	return t.snapshotLocked(t.root)
}

func (t *TreeStore) snapshotLocked(n *Node) *SnapshotNode {
	art := n.Artifact()
	s := &SnapshotNode{
		ID:           n.ID,
		Action:       n.Action,
		Artifact:     art,
		Reward:       n.TotalReward(),
		MeanReward:   n.MeanReward(),
		AverageScore: art.AverageScore,
		Visits:       n.Visits(),
		Depth:        n.Depth,
		IsCurrent:    n == t.current,
	}
	children := n.Children()
	s.Children = make([]*SnapshotNode, 0, len(children))
	for _, c := range children {
		s.Children = append(s.Children, t.snapshotLocked(c))
	}
	return s
}

// Count returns the number of nodes in the snapshot subtree.
func (s *SnapshotNode) Count() int {
	if s == nil {
		return 0
	}
	total := 1
	for _, c := range s.Children {
		total += c.Count()
	}
	return total
}

// Format renders the tree as indented text.
func (t *TreeStore) Format() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == nil {
		return "Empty tree"
	}

	maxDepth := 0
	for _, n := range t.order {
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Nodes: %d, Max Depth: %d\n\n", len(t.order), maxDepth))
	t.formatNode(&sb, t.root, "", true)
	return sb.String()
}

func (t *TreeStore) formatNode(sb *strings.Builder, node *Node, prefix string, isLast bool) {
	branch := "├── "
	if isLast {
		branch = "└── "
	}

	action := "root"
	if node.Action != "" {
		action = string(node.Action)
	}

	score := "  - "
	if s, ok := node.Score(); ok {
		score = fmt.Sprintf("%4.1f", s)
	}

	cursor := ""
	if node == t.current {
		cursor = " ◀"
	}

	sb.WriteString(fmt.Sprintf("%s%s[%s] %s %q (score: %s, visits: %d, reward: %.3f)%s\n",
		prefix, branch, shortID(node.ID), action, truncate(node.artifact.Label(), 40),
		score, node.Visits(), node.MeanReward(), cursor))

	childPrefix := prefix
	if isLast {
		childPrefix += "    "
	} else {
		childPrefix += "│   "
	}

	children := node.Children()
	for i, child := range children {
		t.formatNode(sb, child, childPrefix, i == len(children)-1)
	}
}

// MarshalJSON emits the recursive snapshot.
func (t *TreeStore) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}
