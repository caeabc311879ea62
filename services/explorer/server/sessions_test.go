// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/observability"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/reviewcache"
)

type stubIdeas struct{}

func (stubIdeas) Generate(_ context.Context, goal string) (*mcts.Artifact, error) {
	return &mcts.Artifact{Title: "Seed", Text: "An idea about " + goal}, nil
}

func (stubIdeas) Refine(_ context.Context, req catalog.RefineRequest) (*mcts.Artifact, error) {
	return &mcts.Artifact{Title: req.Current.Title, Text: req.Current.Text + " (refined)"}, nil
}

func (stubIdeas) Refresh(_ context.Context, goal string, _ *mcts.Artifact) (*mcts.Artifact, error) {
	return &mcts.Artifact{Title: "Fresh", Text: "A different take on " + goal}, nil
}

type stubReviews struct{}

func (stubReviews) ScoreAll(_ context.Context, _ *mcts.Artifact, aspects []string) (*mcts.Review, error) {
	scores := make(map[string]float64, len(aspects))
	for i, a := range aspects {
		scores[a] = float64(4 + i)
	}
	return &mcts.Review{Scores: scores}, nil
}

func (stubReviews) ScoreAspect(_ context.Context, _ *mcts.Artifact, aspect string) (catalog.AspectReview, error) {
	return catalog.AspectReview{Aspect: aspect, Score: 4, Narrative: aspect + " needs work"}, nil
}

type stubRetrieval struct{}

func (stubRetrieval) QueryFor(context.Context, string, *mcts.Artifact) (string, error) {
	return "sparse attention", nil
}

func (stubRetrieval) Retrieve(context.Context, string, int) ([]catalog.Section, error) {
	return []catalog.Section{{Title: "Longformer", Citation: "Beltagy et al., 2020", Text: "Sliding window attention."}}, nil
}

// catalogFactory builds the production engine shape over stub oracles.
func catalogFactory() EngineFactory {
	return func(opts ...mcts.ExplorerOption) (*Engine, error) {
		cache, err := reviewcache.New(stubReviews{}, reviewcache.WithTTL(time.Minute))
		if err != nil {
			return nil, err
		}
		cfg := catalog.DefaultConfig()
		cfg.CallTimeout = time.Second
		cat, err := catalog.NewCatalog(stubIdeas{}, cache, stubRetrieval{}, cfg)
		if err != nil {
			return nil, err
		}
		exCfg := mcts.DefaultExplorerConfig()
		exCfg.TracingEnabled = false
		ex, err := mcts.NewExplorer(cat, exCfg, opts...)
		if err != nil {
			return nil, err
		}
		return &Engine{Explorer: ex, Catalog: cat, Cache: cache}, nil
	}
}

func TestManager_Lifecycle(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewManager(catalogFactory(), metrics, nil, 0)

	a, err := m.Create("goal a")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	b, err := m.Create("goal b")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "oldest first")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Sessions))

	require.NoError(t, m.Delete(context.Background(), a.ID))
	assert.ErrorIs(t, m.Delete(context.Background(), a.ID), ErrSessionNotFound)
	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	m.Close(context.Background())
	assert.Empty(t, m.List())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Sessions))
}

func TestManager_FactoryErrors(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	boom := errors.New("boom")

	m := NewManager(func(...mcts.ExplorerOption) (*Engine, error) { return nil, boom }, metrics, nil, 0)
	_, err := m.Create("goal")
	assert.ErrorIs(t, err, boom)

	m = NewManager(func(...mcts.ExplorerOption) (*Engine, error) { return &Engine{}, nil }, metrics, nil, 0)
	_, err = m.Create("goal")
	assert.ErrorIs(t, err, mcts.ErrInvalidCatalog)
	assert.Empty(t, m.List())
}

func TestSession_RunRecordsEngineMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewManager(catalogFactory(), metrics, nil, 0)
	defer m.Close(context.Background())

	sess, err := m.Create("efficient long-context summarization")
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background(), mcts.RunParams{MaxIterations: 3}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Explorer().Wait(ctx))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveExplorations) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, mcts.StateCompleted, sess.Explorer().State())
	assert.Equal(t, 4, sess.Explorer().Tree().Len())
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.BreakerState), "one series per oracle")
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BreakerState.WithLabelValues(catalog.OracleIdea)))
	assert.Positive(t, testutil.ToFloat64(metrics.ReviewCacheLookups.WithLabelValues("miss")))

	require.NoError(t, sess.Reset())
	assert.Zero(t, sess.Explorer().Tree().Len())
}
