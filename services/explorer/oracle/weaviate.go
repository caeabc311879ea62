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
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
)

// DefaultLiteratureClass is the Weaviate class holding literature passages.
const DefaultLiteratureClass = "LiteratureSection"

// WeaviateSearcher runs nearText queries over a literature class whose
// objects carry title, citation, url and content properties.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger
}

// NewWeaviateSearcher connects to the instance at rawURL.
func NewWeaviateSearcher(rawURL, className string, logger *slog.Logger) (*WeaviateSearcher, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return NewWeaviateSearcherFromClient(client, className, logger), nil
}

// NewWeaviateSearcherFromClient wraps an existing client.
func NewWeaviateSearcherFromClient(client *weaviate.Client, className string, logger *slog.Logger) *WeaviateSearcher {
	if className == "" {
		className = DefaultLiteratureClass
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateSearcher{
		client:    client,
		className: className,
		logger:    logger.With(slog.String("component", "weaviate_searcher")),
	}
}

// Search implements Searcher.
func (w *WeaviateSearcher) Search(ctx context.Context, query string, limit int) ([]catalog.Section, error) {
	if limit <= 0 {
		limit = 5
	}
	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "citation"},
		{Name: "url"},
		{Name: "content"},
		{Name: "_additional { certainty distance }"},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	sections := parseSections(result, w.className)
	w.logger.Debug("weaviate search",
		slog.String("query", query),
		slog.Int("sections", len(sections)),
	)
	return sections, nil
}

// parseSections reads Get.<class> objects in result order. Objects without
// content are skipped.
func parseSections(result *models.GraphQLResponse, className string) []catalog.Section {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}

	sections := make([]catalog.Section, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content := getString(m, "content")
		if content == "" {
			continue
		}
		var certainty float64
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			certainty, _ = additional["certainty"].(float64)
		}
		sections = append(sections, catalog.Section{
			Title:    getString(m, "title"),
			Citation: getString(m, "citation"),
			URL:      getString(m, "url"),
			Text:     content,
			Score:    certainty,
		})
	}
	return sections
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
