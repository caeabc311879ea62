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
	"fmt"
	"log/slog"
	"strings"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/llm"
)

// Artifact field keys filled from the structured idea format.
const (
	FieldProposedMethod = "proposed_method"
	FieldExperimentPlan = "experiment_plan"
)

// maxTitleRunes bounds a title taken from the first line of free text.
const maxTitleRunes = 120

// ideaJSON is the structured idea a model is asked to return.
type ideaJSON struct {
	Title          string `json:"title"`
	ProposedMethod string `json:"proposed_method"`
	ExperimentPlan string `json:"experiment_plan"`
}

// LLMIdeaOracle drafts and rewrites ideas with a language model.
type LLMIdeaOracle struct {
	client llm.LLMClient
	params llm.GenerationParams
	logger *slog.Logger
}

// IdeaOption configures an LLMIdeaOracle.
type IdeaOption func(*LLMIdeaOracle)

// WithIdeaParams overrides the generation parameters.
func WithIdeaParams(p llm.GenerationParams) IdeaOption {
	return func(o *LLMIdeaOracle) { o.params = p }
}

// WithIdeaLogger sets the logger.
func WithIdeaLogger(l *slog.Logger) IdeaOption {
	return func(o *LLMIdeaOracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewLLMIdeaOracle returns an idea oracle backed by client.
func NewLLMIdeaOracle(client llm.LLMClient, opts ...IdeaOption) *LLMIdeaOracle {
	o := &LLMIdeaOracle{
		client: client,
		params: llm.GenerationParams{
			Temperature: llm.Float32(0.7),
			MaxTokens:   llm.Int(2048),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate implements catalog.IdeaOracle.
func (o *LLMIdeaOracle) Generate(ctx context.Context, goal string) (*mcts.Artifact, error) {
	return o.draft(ctx, "generate", generatePrompt(goal))
}

// Refine implements catalog.IdeaOracle. Knowledge takes precedence over
// feedback when both are present.
func (o *LLMIdeaOracle) Refine(ctx context.Context, req catalog.RefineRequest) (*mcts.Artifact, error) {
	if req.Current == nil {
		return nil, mcts.ErrNilArtifact
	}
	if len(req.Knowledge) > 0 {
		return o.draft(ctx, "refine_retrieval", refineKnowledgePrompt(req))
	}
	return o.draft(ctx, "refine_feedback", refineFeedbackPrompt(req))
}

// Refresh implements catalog.IdeaOracle.
func (o *LLMIdeaOracle) Refresh(ctx context.Context, goal string, current *mcts.Artifact) (*mcts.Artifact, error) {
	if current == nil {
		return nil, mcts.ErrNilArtifact
	}
	return o.draft(ctx, "refresh", refreshPrompt(goal, current))
}

func (o *LLMIdeaOracle) draft(ctx context.Context, step, prompt string) (*mcts.Artifact, error) {
	text, err := o.client.Generate(ctx, prompt, o.params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	art, err := ParseIdea(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	o.logger.Debug("idea drafted",
		slog.String("step", step),
		slog.String("title", art.Title),
		slog.Int("chars", len(art.Text)),
	)
	return art, nil
}

// ParseIdea turns a model response into an artifact. Structured JSON fills
// Title, Text and Fields; otherwise the raw text is used and its first line
// becomes the title.
func ParseIdea(text string) (*mcts.Artifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, catalog.ErrEmptyIdea
	}

	// Malformed or partial JSON still carries the idea as raw text.
	var parsed ideaJSON
	if err := extractJSON(text, &parsed); err == nil && parsed.Title != "" && parsed.ProposedMethod != "" {
		return &mcts.Artifact{
			Title: strings.TrimSpace(parsed.Title),
			Text:  renderIdea(parsed),
			Fields: map[string]string{
				FieldProposedMethod: strings.TrimSpace(parsed.ProposedMethod),
				FieldExperimentPlan: strings.TrimSpace(parsed.ExperimentPlan),
			},
		}, nil
	}

	return &mcts.Artifact{Title: titleFrom(text), Text: text}, nil
}

func renderIdea(p ideaJSON) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n\n", strings.TrimSpace(p.Title))
	fmt.Fprintf(&sb, "Proposed Method: %s\n", strings.TrimSpace(p.ProposedMethod))
	if plan := strings.TrimSpace(p.ExperimentPlan); plan != "" {
		fmt.Fprintf(&sb, "\nExperiment Plan: %s\n", plan)
	}
	return strings.TrimSpace(sb.String())
}

func titleFrom(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(strings.TrimLeft(line, "#* "))
	line = strings.TrimPrefix(line, "Title:")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > maxTitleRunes {
		line = string(r[:maxTitleRunes])
	}
	return line
}
