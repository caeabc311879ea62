// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/pkg/ux"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/config"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/server"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/llm"
)

// scriptedCatalog scores each new idea one point higher than the last and
// fails every call after failAfter when it is set.
type scriptedCatalog struct {
	failAfter int32
	calls     atomic.Int32
}

func (c *scriptedCatalog) Execute(_ context.Context, req mcts.ActionRequest) (*mcts.Artifact, error) {
	n := c.calls.Add(1)
	if c.failAfter > 0 && n > c.failAfter {
		return nil, mcts.NewActionError(mcts.FailureRefine, req.Action, errors.New("oracle down"))
	}
	score := float64(4 + n)
	return &mcts.Artifact{
		Title:        fmt.Sprintf("Idea %d", n),
		Text:         fmt.Sprintf("Idea %d for %s", n, req.Goal),
		ReviewScores: map[string]float64{mcts.AspectNovelty: score},
		AverageScore: &score,
	}, nil
}

type stubIdeas struct{}

func (stubIdeas) Generate(_ context.Context, goal string) (*mcts.Artifact, error) {
	return &mcts.Artifact{Title: "Seed", Text: goal}, nil
}

func (stubIdeas) Refine(_ context.Context, req catalog.RefineRequest) (*mcts.Artifact, error) {
	return req.Current.Clone(), nil
}

func (stubIdeas) Refresh(_ context.Context, goal string, _ *mcts.Artifact) (*mcts.Artifact, error) {
	return &mcts.Artifact{Title: "Fresh", Text: goal}, nil
}

type stubReviews struct{}

func (stubReviews) ScoreAll(context.Context, *mcts.Artifact, []string) (*mcts.Review, error) {
	return &mcts.Review{Scores: map[string]float64{mcts.AspectNovelty: 6}}, nil
}

func (stubReviews) ScoreAspect(_ context.Context, _ *mcts.Artifact, aspect string) (catalog.AspectReview, error) {
	return catalog.AspectReview{Aspect: aspect, Score: 6}, nil
}

type stubRetrieval struct{}

func (stubRetrieval) QueryFor(context.Context, string, *mcts.Artifact) (string, error) {
	return "q", nil
}

func (stubRetrieval) Retrieve(context.Context, string, int) ([]catalog.Section, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, cat mcts.ActionCatalog) *server.Engine {
	t.Helper()
	cfg := mcts.DefaultExplorerConfig()
	cfg.TracingEnabled = false
	ex, err := mcts.NewExplorer(cat, cfg, mcts.WithGoal("compress sparse attention"))
	require.NoError(t, err)
	return &server.Engine{Explorer: ex}
}

func machineOutput(t *testing.T) {
	t.Helper()
	prev := ux.GetPersonality().Level
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	t.Cleanup(func() { ux.SetPersonalityLevel(prev) })
}

func TestRunExplore_PrintsProgressAndBest(t *testing.T) {
	machineOutput(t)
	engine := newTestEngine(t, &scriptedCatalog{})

	var out bytes.Buffer
	summary, err := runExplore(context.Background(), &out, engine, mcts.RunParams{
		Goal:          "compress sparse attention",
		MaxIterations: 3,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Iterations)

	text := out.String()
	assert.Contains(t, text, "Seed idea: Idea 1")
	assert.Equal(t, 3, strings.Count(text, "ITERATION "))
	assert.Contains(t, text, "ITERATION 1/3 action=")
	assert.Contains(t, text, "ITERATION 3/3 action=")
	assert.Contains(t, text, "score=8.0")
	assert.Contains(t, text, "Best idea (average_score 8.00): Idea 4")
	assert.Contains(t, text, "OK: 3 iterations, 4 nodes")
	assert.NotContains(t, text, "\r", "machine output never animates")
}

func TestRunExplore_ActionFailure(t *testing.T) {
	machineOutput(t)
	engine := newTestEngine(t, &scriptedCatalog{failAfter: 2})

	var out bytes.Buffer
	summary, err := runExplore(context.Background(), &out, engine, mcts.RunParams{MaxIterations: 5}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle down")
	assert.Equal(t, 1, summary.Iterations)
	assert.Equal(t, 2, summary.FailedIteration)

	text := out.String()
	assert.Contains(t, text, "ITERATION 1/5")
	assert.Contains(t, text, "WARN: Iteration 2 failed")
	assert.Contains(t, text, "ERROR: ")
}

func TestRunExplore_CompletedExplorerRejectsSecondRun(t *testing.T) {
	machineOutput(t)
	engine := newTestEngine(t, &scriptedCatalog{})

	var out bytes.Buffer
	_, err := runExplore(context.Background(), &out, engine, mcts.RunParams{MaxIterations: 1}, false)
	require.NoError(t, err)

	out.Reset()
	_, err = runExplore(context.Background(), &out, engine, mcts.RunParams{MaxIterations: 1}, false)
	assert.ErrorIs(t, err, mcts.ErrSessionCompleted)
	assert.NotContains(t, out.String(), "ITERATION")
}

func TestTelemetryConfig(t *testing.T) {
	var w bytes.Buffer
	cfg := config.Default()

	tc := telemetryConfig(cfg, &w)
	assert.Nil(t, tc.TraceWriter)
	assert.Nil(t, tc.MetricWriter)
	assert.False(t, tracesEnabled(cfg))

	cfg.Telemetry.TraceStdout = true
	cfg.Telemetry.MetricsStdout = true
	tc = telemetryConfig(cfg, &w)
	assert.Same(t, &w, tc.TraceWriter)
	assert.Same(t, &w, tc.MetricWriter)
	assert.True(t, tracesEnabled(cfg))

	cfg.Telemetry.OTelEndpoint = "localhost:4317"
	tc = telemetryConfig(cfg, &w)
	assert.Nil(t, tc.TraceWriter, "OTLP takes precedence over stdout traces")
	assert.Equal(t, "localhost:4317", tc.OTLPEndpoint)
}

func TestEngineFactory_BuildsCachedEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Explorer.TracingEnabled = false
	o := &oracles{ideas: stubIdeas{}, reviews: stubReviews{}, retrieval: stubRetrieval{}}

	engine, err := engineFactory(cfg, o, false, nil)(mcts.WithGoal("g"))
	require.NoError(t, err)
	require.NotNil(t, engine.Cache)
	require.NotNil(t, engine.Catalog)
	defer closeCache(engine.Cache)

	cfg.ReviewCache.Enabled = false
	engine, err = engineFactory(cfg, o, false, nil)()
	require.NoError(t, err)
	assert.Nil(t, engine.Cache)
}

func TestNewOracles(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Config = llm.Config{Backend: llm.BackendOllama, BaseURL: "http://127.0.0.1:11434", Model: "llama3"}
	cfg.LLM.Temperature = 0.9
	cfg.Retrieval.WeaviateURL = "not a url"

	o, err := newOracles(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "a bad Weaviate URL falls back to Semantic Scholar")
	assert.NotNil(t, o.ideas)
	assert.NotNil(t, o.reviews)
	assert.NotNil(t, o.retrieval)

	cfg.LLM.Backend = "carrier-pigeon"
	_, err = newOracles(cfg, slog.Default())
	assert.ErrorIs(t, err, llm.ErrUnknownBackend)
}

func TestExploreParams_ExplicitZeroIsKept(t *testing.T) {
	t.Cleanup(func() {
		exploreC, exploreDiscount = 0, 0
		for _, name := range []string{"exploration-constant", "discount"} {
			_ = exploreCmd.Flags().Set(name, "0")
			exploreCmd.Flags().Lookup(name).Changed = false
		}
	})

	p := exploreParams(exploreCmd.Flags())
	assert.Nil(t, p.ExplorationConstant, "unset flag leaves the config default")
	assert.Nil(t, p.DiscountFactor)

	require.NoError(t, exploreCmd.Flags().Set("exploration-constant", "0"))
	require.NoError(t, exploreCmd.Flags().Set("discount", "0.8"))
	p = exploreParams(exploreCmd.Flags())
	require.NotNil(t, p.ExplorationConstant)
	assert.Equal(t, 0.0, *p.ExplorationConstant)
	require.NotNil(t, p.DiscountFactor)
	assert.Equal(t, 0.8, *p.DiscountFactor)
}
