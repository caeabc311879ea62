// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Supported backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown llm backend")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Config selects and configures a backend. Empty fields fall back to the
// backend's environment variables.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey is never serialized; it comes from the environment or a secret file.
	APIKey string `json:"-" yaml:"-"`

	// SystemPrompt replaces the default persona for chat backends.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// New builds the client for cfg.Backend.
func New(cfg Config) (LLMClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendOpenAI, "":
		return NewOpenAIClient(cfg)
	case BackendOllama:
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Float32 returns a pointer to v, for GenerationParams fields.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams fields.
func Int(v int) *int { return &v }
