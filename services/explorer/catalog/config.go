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
	"math"
	"time"
)

// AspectWeight is one review aspect and its weight in the average score.
type AspectWeight struct {
	Name   string  `json:"name" yaml:"name" validate:"required"`
	Weight float64 `json:"weight" yaml:"weight" validate:"gt=0"`
}

// DefaultAspects returns the default review aspects, equally weighted.
func DefaultAspects() []AspectWeight {
	return []AspectWeight{
		{Name: "novelty", Weight: 0.2},
		{Name: "clarity", Weight: 0.2},
		{Name: "feasibility", Weight: 0.2},
		{Name: "effectiveness", Weight: 0.2},
		{Name: "impact", Weight: 0.2},
	}
}

// Config configures the action catalog.
type Config struct {
	// Aspects are scored on every review, in tie-break order.
	Aspects []AspectWeight `json:"aspects" yaml:"aspects"`

	// RefineAspects is how many of the lowest aspects review-and-refine
	// targets (default: 3).
	RefineAspects int `json:"refine_aspects" yaml:"refine_aspects"`

	// AvoidRecent is how many recently refined aspects lose score ties.
	AvoidRecent int `json:"avoid_recent" yaml:"avoid_recent"`

	// MaxSections caps sections passed to a retrieval refine.
	MaxSections int `json:"max_sections" yaml:"max_sections"`

	// QuerySuffix is appended when a query repeats the previous one.
	QuerySuffix string `json:"query_suffix" yaml:"query_suffix"`

	// CallTimeout bounds each oracle call. Zero disables the per-call deadline.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`

	// RateLimit is oracle calls per second across the catalog. Zero is unlimited.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

// DefaultConfig returns the default catalog configuration.
func DefaultConfig() Config {
	return Config{
		Aspects:       DefaultAspects(),
		RefineAspects: 3,
		AvoidRecent:   2,
		MaxSections:   5,
		QuerySuffix:   " methodology approach",
		CallTimeout:   2 * time.Minute,
		RateLimit:     0,
		RateBurst:     1,
		Breaker:       DefaultBreakerConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Aspects) == 0 {
		return fmt.Errorf("%w: at least one aspect is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Aspects))
	for _, a := range c.Aspects {
		if a.Name == "" {
			return fmt.Errorf("%w: aspect name is empty", ErrInvalidConfig)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate aspect %q", ErrInvalidConfig, a.Name)
		}
		seen[a.Name] = true
		if a.Weight <= 0 || math.IsNaN(a.Weight) {
			return fmt.Errorf("%w: aspect %q weight must be > 0", ErrInvalidConfig, a.Name)
		}
	}
	if c.RefineAspects < 1 {
		return fmt.Errorf("%w: refine_aspects must be >= 1", ErrInvalidConfig)
	}
	if c.AvoidRecent < 0 {
		return fmt.Errorf("%w: avoid_recent must be >= 0", ErrInvalidConfig)
	}
	if c.MaxSections < 1 {
		return fmt.Errorf("%w: max_sections must be >= 1", ErrInvalidConfig)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("%w: call_timeout must be >= 0", ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must be >= 0", ErrInvalidConfig)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be >= 1 when rate_limit is set", ErrInvalidConfig)
	}
	return nil
}

// AspectNames returns the configured aspect names in order.
func (c Config) AspectNames() []string {
	names := make([]string, len(c.Aspects))
	for i, a := range c.Aspects {
		names[i] = a.Name
	}
	return names
}
