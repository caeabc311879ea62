// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the ideaforge application configuration.
//
// Load starts from Default, overlays a YAML file (JSON is accepted as a
// fallback), applies IDEAFORGE_* environment overrides and validates the
// result with go-playground/validator struct tags plus cross-field checks
// delegated to the catalog and explorer configs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/pkg/logging"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/llm"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IDEAFORGE_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the application configuration.
type Config struct {
	Server      ServerConfig        `json:"server" yaml:"server"`
	Logging     logging.Config      `json:"logging" yaml:"logging"`
	LLM         LLMConfig           `json:"llm" yaml:"llm"`
	Retrieval   RetrievalConfig     `json:"retrieval" yaml:"retrieval"`
	Telemetry   TelemetryConfig     `json:"telemetry" yaml:"telemetry"`
	ReviewCache ReviewCacheConfig   `json:"review_cache" yaml:"review_cache"`
	Catalog     catalog.Config      `json:"catalog" yaml:"catalog"`
	Explorer    mcts.ExplorerConfig `json:"explorer" yaml:"explorer"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`

	// MaxSessions caps concurrently open sessions. Zero is unlimited.
	MaxSessions int `json:"max_sessions" yaml:"max_sessions" validate:"gte=0"`
}

// LLMConfig selects the language model backend.
type LLMConfig struct {
	llm.Config `json:",inline" yaml:",inline"`

	// Temperature overrides the idea oracle's sampling temperature; zero
	// keeps its default. Reviews always sample cold.
	Temperature float32 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
}

// RetrievalConfig configures the literature searchers. Weaviate is tried
// first when configured; Semantic Scholar is the fallback.
type RetrievalConfig struct {
	WeaviateURL   string `json:"weaviate_url" yaml:"weaviate_url" validate:"omitempty,url"`
	WeaviateClass string `json:"weaviate_class" yaml:"weaviate_class"`

	SemanticScholarURL string `json:"semantic_scholar_url" yaml:"semantic_scholar_url" validate:"omitempty,url"`

	// SemanticScholarAPIKey comes from the environment only.
	SemanticScholarAPIKey string `json:"-" yaml:"-"`
}

// TelemetryConfig configures trace and engine metric export.
type TelemetryConfig struct {
	OTelEndpoint string `json:"otel_endpoint" yaml:"otel_endpoint"`
	TraceStdout  bool   `json:"trace_stdout" yaml:"trace_stdout"`
	ServiceName  string `json:"service_name" yaml:"service_name" validate:"required"`

	// MetricsStdout dumps engine metrics to stderr when a CLI run ends.
	MetricsStdout bool `json:"metrics_stdout" yaml:"metrics_stdout"`
}

// ReviewCacheConfig configures the per-session review memo.
type ReviewCacheConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	TTL     time.Duration `json:"ttl" yaml:"ttl" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.Config{
			Level:   "info",
			Format:  logging.FormatText,
			Service: "ideaforge",
		},
		LLM: LLMConfig{
			Config: llm.Config{Backend: llm.BackendOpenAI},
		},
		Retrieval: RetrievalConfig{
			WeaviateClass: "LiteratureSection",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ideaforge",
		},
		ReviewCache: ReviewCacheConfig{
			Enabled: true,
			TTL:     time.Hour,
		},
		Catalog:  catalog.DefaultConfig(),
		Explorer: mcts.DefaultExplorerConfig(),
	}
}

// Load reads path (optional), applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML, falling back to JSON for documents YAML rejects.
func decode(data []byte, cfg *Config) error {
	yamlErr := yaml.Unmarshal(data, cfg)
	if yamlErr == nil {
		return nil
	}
	if jsonErr := json.Unmarshal(data, cfg); jsonErr == nil {
		return nil
	}
	return yamlErr
}

// envBinding maps one environment variable onto a field.
type envBinding struct {
	name string
	set  func(*Config, string) error
}

var envBindings = []envBinding{
	{"ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
	{"LOG_DIR", func(c *Config, v string) error { c.Logging.LogDir = v; return nil }},
	{"LLM_BACKEND", func(c *Config, v string) error { c.LLM.Backend = v; return nil }},
	{"LLM_MODEL", func(c *Config, v string) error { c.LLM.Model = v; return nil }},
	{"LLM_BASE_URL", func(c *Config, v string) error { c.LLM.BaseURL = v; return nil }},
	{"LLM_API_KEY", func(c *Config, v string) error { c.LLM.APIKey = v; return nil }},
	{"LLM_TEMPERATURE", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		c.LLM.Temperature = float32(f)
		return err
	}},
	{"WEAVIATE_URL", func(c *Config, v string) error { c.Retrieval.WeaviateURL = v; return nil }},
	{"WEAVIATE_CLASS", func(c *Config, v string) error { c.Retrieval.WeaviateClass = v; return nil }},
	{"S2_URL", func(c *Config, v string) error { c.Retrieval.SemanticScholarURL = v; return nil }},
	{"S2_API_KEY", func(c *Config, v string) error { c.Retrieval.SemanticScholarAPIKey = v; return nil }},
	{"OTEL_ENDPOINT", func(c *Config, v string) error { c.Telemetry.OTelEndpoint = v; return nil }},
	{"TRACE_STDOUT", func(c *Config, v string) (err error) {
		c.Telemetry.TraceStdout, err = strconv.ParseBool(v)
		return err
	}},
	{"METRICS_STDOUT", func(c *Config, v string) (err error) {
		c.Telemetry.MetricsStdout, err = strconv.ParseBool(v)
		return err
	}},
	{"CALL_TIMEOUT", func(c *Config, v string) (err error) {
		c.Catalog.CallTimeout, err = time.ParseDuration(v)
		return err
	}},
	{"RATE_LIMIT", func(c *Config, v string) (err error) {
		c.Catalog.RateLimit, err = strconv.ParseFloat(v, 64)
		return err
	}},
	{"MAX_ITERATIONS", func(c *Config, v string) (err error) {
		c.Explorer.MaxIterations, err = strconv.Atoi(v)
		return err
	}},
	{"MAX_DEPTH", func(c *Config, v string) (err error) {
		c.Explorer.MaxDepth, err = strconv.Atoi(v)
		return err
	}},
	{"PACING_DELAY", func(c *Config, v string) (err error) {
		c.Explorer.PacingDelay, err = time.ParseDuration(v)
		return err
	}},
}

// ApplyEnv overlays IDEAFORGE_* variables found by lookup. Empty values
// are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, b.name, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags, then the nested catalog and explorer configs.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.LLM.Backend) {
	case llm.BackendOpenAI, llm.BackendOllama:
	default:
		return fmt.Errorf("%w: llm.backend %q", ErrInvalid, c.LLM.Backend)
	}
	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("%w: catalog: %v", ErrInvalid, err)
	}
	if err := c.Explorer.Validate(); err != nil {
		return fmt.Errorf("%w: explorer: %v", ErrInvalid, err)
	}
	return nil
}
