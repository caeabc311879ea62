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
	"fmt"
	"time"
)

// ExplorerConfig contains engine defaults and heuristics.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type ExplorerConfig struct {
	// Run defaults, used for zero-valued RunParams fields.
	MaxIterations       int     `json:"max_iterations" yaml:"max_iterations"`
	MaxDepth            int     `json:"max_depth" yaml:"max_depth"`
	ExplorationConstant float64 `json:"exploration_constant" yaml:"exploration_constant"`
	DiscountFactor      float64 `json:"discount_factor" yaml:"discount_factor"`

	// PacingDelay is slept between iterations so observers can render.
	PacingDelay time.Duration `json:"pacing_delay" yaml:"pacing_delay"`

	// ActionTimeout bounds a whole action, on top of per-call deadlines.
	ActionTimeout time.Duration `json:"action_timeout" yaml:"action_timeout"`

	// DefaultReward is used when a new artifact carries no score.
	DefaultReward float64 `json:"default_reward" yaml:"default_reward"`

	// EventBuffer is the default subscriber channel size.
	EventBuffer int `json:"event_buffer" yaml:"event_buffer"`

	// Selection heuristics.
	LowScoreThreshold float64 `json:"low_score_threshold" yaml:"low_score_threshold"`
	NoveltyThreshold  float64 `json:"novelty_threshold" yaml:"novelty_threshold"`
	ReviewBias        float64 `json:"review_bias" yaml:"review_bias"`
	RetrievalBias     float64 `json:"retrieval_bias" yaml:"retrieval_bias"`

	// TracingEnabled turns on OpenTelemetry spans.
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// DefaultExplorerConfig returns the default configuration.
func DefaultExplorerConfig() ExplorerConfig {
	sel := DefaultSelectorConfig()
	return ExplorerConfig{
		MaxIterations:       5,
		MaxDepth:            5,
		ExplorationConstant: sel.ExplorationConstant,
		DiscountFactor:      0.95,
		PacingDelay:         0,
		ActionTimeout:       5 * time.Minute,
		DefaultReward:       0.5,
		EventBuffer:         64,
		LowScoreThreshold:   sel.LowScoreThreshold,
		NoveltyThreshold:    sel.NoveltyThreshold,
		ReviewBias:          sel.ReviewBias,
		RetrievalBias:       sel.RetrievalBias,
		TracingEnabled:      true,
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c ExplorerConfig) Validate() error {
	if err := c.DefaultRunParams().Validate(); err != nil {
		return err
	}
	if c.PacingDelay < 0 {
		return fmt.Errorf("pacing_delay must be >= 0")
	}
	if c.ActionTimeout < 0 {
		return fmt.Errorf("action_timeout must be >= 0")
	}
	if c.DefaultReward < 0 || c.DefaultReward > 1 {
		return fmt.Errorf("default_reward must be between 0 and 1")
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be >= 1")
	}
	if c.ReviewBias <= 0 || c.RetrievalBias <= 0 {
		return fmt.Errorf("bias multipliers must be > 0")
	}
	return nil
}

// DefaultRunParams returns run parameters built from the defaults.
func (c ExplorerConfig) DefaultRunParams() RunParams {
	return RunParams{
		MaxIterations:       c.MaxIterations,
		MaxDepth:            c.MaxDepth,
		ExplorationConstant: Float64(c.ExplorationConstant),
		DiscountFactor:      Float64(c.DiscountFactor),
	}
}

// SelectorConfig builds the selector config for an exploration constant.
func (c ExplorerConfig) SelectorConfig(explorationConstant float64) SelectorConfig {
	return SelectorConfig{
		ExplorationConstant: explorationConstant,
		LowScoreThreshold:   c.LowScoreThreshold,
		NoveltyThreshold:    c.NoveltyThreshold,
		ReviewBias:          c.ReviewBias,
		RetrievalBias:       c.RetrievalBias,
	}
}

// RunParams are the arguments of one exploration run.
type RunParams struct {
	// Goal seeds the root when the tree is empty.
	Goal string `json:"goal,omitempty"`

	MaxIterations int `json:"max_iterations"`
	MaxDepth      int `json:"max_depth"`

	// ExplorationConstant and DiscountFactor are nil when unset. An explicit
	// zero C is pure exploitation.
	ExplorationConstant *float64 `json:"exploration_constant,omitempty"`
	DiscountFactor      *float64 `json:"discount_factor,omitempty"`
}

// Float64 returns a pointer to v, for RunParams fields.
func Float64(v float64) *float64 { return &v }

// C returns the exploration constant, zero when unset.
func (p RunParams) C() float64 {
	if p.ExplorationConstant == nil {
		return 0
	}
	return *p.ExplorationConstant
}

// Discount returns the discount factor, zero when unset.
func (p RunParams) Discount() float64 {
	if p.DiscountFactor == nil {
		return 0
	}
	return *p.DiscountFactor
}

// WithDefaults fills zero-valued counts and nil float fields from c.
func (p RunParams) WithDefaults(c ExplorerConfig) RunParams {
	if p.MaxIterations == 0 {
		p.MaxIterations = c.MaxIterations
	}
	if p.MaxDepth == 0 {
		p.MaxDepth = c.MaxDepth
	}
	if p.ExplorationConstant == nil {
		p.ExplorationConstant = Float64(c.ExplorationConstant)
	}
	if p.DiscountFactor == nil {
		p.DiscountFactor = Float64(c.DiscountFactor)
	}
	return p
}

// Validate checks run parameter ranges.
//
// Outputs:
//   - error: Wraps ErrInvalidRunParams.
func (p RunParams) Validate() error {
	if p.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be >= 1", ErrInvalidRunParams)
	}
	if p.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth must be >= 1", ErrInvalidRunParams)
	}
	if p.C() < 0 {
		return fmt.Errorf("%w: exploration_constant must be >= 0", ErrInvalidRunParams)
	}
	if d := p.Discount(); d <= 0 || d > 1 {
		return fmt.Errorf("%w: discount_factor must be in (0, 1]", ErrInvalidRunParams)
	}
	return nil
}
