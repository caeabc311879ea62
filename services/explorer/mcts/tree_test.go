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
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoredArtifact(title string, score float64) *Artifact {
	return &Artifact{
		Title:        title,
		Text:         title + " text",
		ReviewScores: map[string]float64{AspectNovelty: score},
		AverageScore: &score,
	}
}

func sequentialIDs() TreeOption {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("n%d", n)
	})
}

// -----------------------------------------------------------------------------
// Structure
// -----------------------------------------------------------------------------

func TestTreeStore_CreateRoot(t *testing.T) {
	tree := NewTreeStore()
	require.Nil(t, tree.Root())
	require.Nil(t, tree.Current())

	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)

	assert.Empty(t, root.ParentID)
	assert.True(t, root.IsRoot())
	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, ActionType(""), root.Action)
	assert.Equal(t, int64(0), root.Visits())
	assert.Same(t, root, tree.Current(), "root becomes current")

	t.Run("second root rejected", func(t *testing.T) {
		_, err := tree.CreateRoot(&Artifact{Title: "again"})
		assert.ErrorIs(t, err, ErrRootExists)
		assert.Equal(t, 1, tree.Len())
	})

	t.Run("nil artifact rejected", func(t *testing.T) {
		_, err := NewTreeStore().CreateRoot(nil)
		assert.ErrorIs(t, err, ErrNilArtifact)
	})
}

func TestTreeStore_AddChild(t *testing.T) {
	tree := NewTreeStore()
	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)

	child, err := tree.AddChild(root.ID, ActionReviewAndRefine, &Artifact{Title: "child"})
	require.NoError(t, err)
	grandchild, err := tree.AddChild(child.ID, ActionRefresh, &Artifact{Title: "grandchild"})
	require.NoError(t, err)

	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 2, grandchild.Depth)
	assert.Equal(t, ActionRefresh, grandchild.Action)
	assert.Equal(t, []string{child.ID}, root.ChildIDs())
	assert.Zero(t, child.Visits())
	assert.Zero(t, child.TotalReward())
	assert.Same(t, root, tree.Current(), "AddChild does not move the cursor")

	t.Run("unknown parent", func(t *testing.T) {
		_, err := tree.AddChild("missing", ActionRefresh, &Artifact{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParent)

		var te *TreeError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, TreeErrInvalidParent, te.Kind)
		assert.Equal(t, "missing", te.NodeID)
	})

	t.Run("invalid action", func(t *testing.T) {
		_, err := tree.AddChild(root.ID, ActionType("teleport"), &Artifact{})
		assert.ErrorIs(t, err, ErrInvalidActionType)
	})

	t.Run("artifact is copied", func(t *testing.T) {
		art := &Artifact{Title: "original"}
		n, err := tree.AddChild(root.ID, ActionRefresh, art)
		require.NoError(t, err)
		art.Title = "mutated"
		assert.Equal(t, "original", n.Artifact().Title)
	})
}

func TestTreeStore_DepthInvariant(t *testing.T) {
	tree := NewTreeStore()
	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)

	parents := []*Node{root}
	for i := 0; i < 30; i++ {
		p := parents[i%len(parents)]
		n, err := tree.AddChild(p.ID, ExpansionActions[i%len(ExpansionActions)], &Artifact{Title: fmt.Sprint(i)})
		require.NoError(t, err)
		parents = append(parents, n)
	}

	roots := 0
	for _, n := range tree.Nodes() {
		if n.ParentID == "" {
			roots++
			assert.Equal(t, 0, n.Depth)
			continue
		}
		parent, err := tree.Get(n.ParentID)
		require.NoError(t, err)
		assert.Equal(t, parent.Depth+1, n.Depth, "node %s", n.ID)
	}
	assert.Equal(t, 1, roots, "exactly one root")
}

func TestTreeStore_GetAndSetCurrent(t *testing.T) {
	tree := NewTreeStore()
	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)
	child, err := tree.AddChild(root.ID, ActionRefresh, &Artifact{Title: "child"})
	require.NoError(t, err)

	got, err := tree.Get(child.ID)
	require.NoError(t, err)
	assert.Same(t, child, got)

	_, err = tree.Get("nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, tree.SetCurrent(child.ID))
	assert.Same(t, child, tree.Current())

	err = tree.SetCurrent("nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Same(t, child, tree.Current(), "failed SetCurrent keeps cursor")
}

// -----------------------------------------------------------------------------
// Backpropagation
// -----------------------------------------------------------------------------

func TestTreeStore_BackpropagateDiscountLaw(t *testing.T) {
	tree := NewTreeStore()
	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)

	chain := []*Node{root}
	for i := 0; i < 4; i++ {
		n, err := tree.AddChild(chain[len(chain)-1].ID, ActionReviewAndRefine, &Artifact{})
		require.NoError(t, err)
		chain = append(chain, n)
	}
	leaf := chain[len(chain)-1]

	const reward, discount = 0.7, 0.8
	credits, err := tree.Backpropagate(leaf.ID, reward, discount)
	require.NoError(t, err)
	require.Len(t, credits, len(chain))

	for d, c := range credits {
		want := reward * math.Pow(discount, float64(d))
		node := chain[len(chain)-1-d]
		assert.Equal(t, node.ID, c.NodeID)
		assert.Equal(t, d, c.Hop)
		assert.InDelta(t, want, c.Reward, 1e-12)
		assert.InDelta(t, want, node.TotalReward(), 1e-12, "hop %d", d)
		assert.Equal(t, int64(1), node.Visits())
	}

	_, err = tree.Backpropagate("nope", 1, 1)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestTreeStore_VisitsEqualBackpropEvents(t *testing.T) {
	tree := NewTreeStore()
	root, err := tree.CreateRoot(&Artifact{})
	require.NoError(t, err)
	a, _ := tree.AddChild(root.ID, ActionRefresh, &Artifact{})
	b, _ := tree.AddChild(root.ID, ActionReviewAndRefine, &Artifact{})
	c, _ := tree.AddChild(a.ID, ActionRefresh, &Artifact{})

	events := map[string]int64{}
	for _, target := range []*Node{a, b, c, c, b, c} {
		credits, err := tree.Backpropagate(target.ID, 0.5, 0.9)
		require.NoError(t, err)
		for _, cr := range credits {
			events[cr.NodeID]++
		}
	}

	for _, n := range tree.Nodes() {
		assert.Equal(t, events[n.ID], n.Visits(), "node %s", n.ID)
	}
	assert.Equal(t, int64(6), root.Visits())
}

func TestTreeStore_ConcurrentSnapshotDuringWrites(t *testing.T) {
	tree := NewTreeStore()
	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		parent := root
		for i := 0; i < 200; i++ {
			n, err := tree.AddChild(parent.ID, ActionRefresh, &Artifact{})
			if err != nil {
				t.Errorf("AddChild: %v", err)
				return
			}
			_, _ = tree.Backpropagate(n.ID, 0.5, 0.9)
			_ = tree.SetCurrent(n.ID)
			parent = n
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := tree.Snapshot()
			if snap == nil || snap.Count() < 1 {
				t.Errorf("snapshot should always contain the root")
				return
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 201, tree.Snapshot().Count())
}

// -----------------------------------------------------------------------------
// Snapshot, Format, JSON
// -----------------------------------------------------------------------------

func TestTreeStore_Snapshot(t *testing.T) {
	tree := NewTreeStore(sequentialIDs())
	assert.Nil(t, tree.Snapshot())

	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)
	child, err := tree.AddChild(root.ID, ActionRetrieveAndRefine, scoredArtifact("child", 7))
	require.NoError(t, err)
	_, err = tree.Backpropagate(child.ID, 0.7, 1)
	require.NoError(t, err)
	require.NoError(t, tree.SetCurrent(child.ID))

	snap := tree.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "n1", snap.ID)
	assert.False(t, snap.IsCurrent)
	require.Len(t, snap.Children, 1)

	c := snap.Children[0]
	assert.Equal(t, "n2", c.ID)
	assert.Equal(t, ActionRetrieveAndRefine, c.Action)
	assert.Equal(t, 1, c.Depth)
	assert.Equal(t, int64(1), c.Visits)
	assert.InDelta(t, 0.7, c.Reward, 1e-12)
	assert.True(t, c.IsCurrent)
	require.NotNil(t, c.AverageScore)
	assert.Equal(t, 7.0, *c.AverageScore)

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"is_current":true`)
}

func TestNode_MarshalJSON(t *testing.T) {
	tree := NewTreeStore(sequentialIDs())
	root, err := tree.CreateRoot(&Artifact{Title: "seed"})
	require.NoError(t, err)
	child, err := tree.AddChild(root.ID, ActionRefresh, &Artifact{Title: "child"})
	require.NoError(t, err)

	var rootJSON map[string]any
	data, err := json.Marshal(root)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rootJSON))
	assert.Nil(t, rootJSON["parent_id"], "root parent_id is null")
	assert.Equal(t, []any{"n2"}, rootJSON["children"])

	var childJSON map[string]any
	data, err = json.Marshal(child)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &childJSON))
	assert.Equal(t, "n1", childJSON["parent_id"])
	assert.Equal(t, "refresh", childJSON["action"])
}

func TestTreeStore_Format(t *testing.T) {
	tree := NewTreeStore(sequentialIDs())
	assert.Equal(t, "Empty tree", tree.Format())

	root, err := tree.CreateRoot(&Artifact{Text: "Soil microbes\nand more"})
	require.NoError(t, err)
	a, _ := tree.AddChild(root.ID, ActionReviewAndRefine, scoredArtifact("Refined microbes", 7.5))
	_, _ = tree.AddChild(root.ID, ActionRefresh, &Artifact{Title: "Fresh angle"})
	_ = tree.SetCurrent(a.ID)

	out := tree.Format()
	assert.Contains(t, out, "Nodes: 3, Max Depth: 1")
	assert.Contains(t, out, `[n1] root "Soil microbes"`)
	assert.Contains(t, out, "├── [n2] review_and_refine")
	assert.Contains(t, out, "└── [n3] refresh")
	assert.Contains(t, out, " 7.5")
	assert.Equal(t, 1, strings.Count(out, "◀"))
}

func TestTreeStore_Reset(t *testing.T) {
	tree := NewTreeStore()
	root, _ := tree.CreateRoot(&Artifact{})
	_, _ = tree.AddChild(root.ID, ActionRefresh, &Artifact{})

	tree.Reset()
	assert.Equal(t, 0, tree.Len())
	assert.Nil(t, tree.Root())
	assert.Nil(t, tree.Current())
	assert.Equal(t, -1, tree.MaxDepth())

	_, err := tree.CreateRoot(&Artifact{})
	assert.NoError(t, err, "tree can be reseeded after reset")
}

// -----------------------------------------------------------------------------
// Artifact and memory
// -----------------------------------------------------------------------------

func TestArtifact_Reward(t *testing.T) {
	tests := []struct {
		name  string
		score *float64
		want  float64
	}{
		{"unscored uses default", nil, 0.5},
		{"normal", ptr(8.0), 0.8},
		{"clamped high", ptr(12.0), 1},
		{"clamped low", ptr(-1.0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Artifact{AverageScore: tt.score}
			assert.InDelta(t, tt.want, a.Reward(0.5), 1e-12)
		})
	}
}

func TestMemory_NoteProblematicCapped(t *testing.T) {
	var m Memory
	m.NoteProblematic("novelty", "clarity")
	m.NoteProblematic("impact", "feasibility")

	assert.Equal(t, []string{"clarity", "impact", "feasibility"}, m.ProblematicAspects)
	assert.Equal(t, []string{"impact", "feasibility"}, m.RecentProblematic(2))

	clone := m.Clone()
	clone.NoteProblematic("effectiveness")
	assert.Equal(t, "clarity", m.ProblematicAspects[0], "clone is independent")
}

func TestReview_LowAspects(t *testing.T) {
	r := &Review{Scores: map[string]float64{
		"novelty": 4, "clarity": 8, "impact": 4, "feasibility": 5.5,
	}}
	assert.Equal(t, []string{"impact", "novelty", "feasibility"}, r.LowAspects(6))
	assert.Empty(t, r.LowAspects(4))

	var nilReview *Review
	assert.Nil(t, nilReview.LowAspects(6))
}

func ptr(v float64) *float64 {
	return &v
}
