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
	"fmt"
	"log/slog"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/config"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/oracle"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/reviewcache"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/server"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/llm"
)

// oracles are the external collaborators shared by every session.
type oracles struct {
	ideas     catalog.IdeaOracle
	reviews   catalog.ReviewOracle
	retrieval catalog.RetrievalOracle
}

// newOracles builds the LLM and literature clients from cfg.
func newOracles(cfg config.Config, logger *slog.Logger) (*oracles, error) {
	client, err := llm.New(cfg.LLM.Config)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	ideaOpts := []oracle.IdeaOption{oracle.WithIdeaLogger(logger)}
	if cfg.LLM.Temperature > 0 {
		ideaOpts = append(ideaOpts, oracle.WithIdeaParams(llm.GenerationParams{
			Temperature: llm.Float32(cfg.LLM.Temperature),
		}))
	}

	var searchers []oracle.Searcher
	if cfg.Retrieval.WeaviateURL != "" {
		ws, err := oracle.NewWeaviateSearcher(cfg.Retrieval.WeaviateURL, cfg.Retrieval.WeaviateClass, logger)
		if err != nil {
			logger.Warn("Weaviate unavailable, using Semantic Scholar only",
				slog.String("url", cfg.Retrieval.WeaviateURL),
				slog.String("error", err.Error()))
		} else {
			searchers = append(searchers, ws)
		}
	}
	searchers = append(searchers, oracle.NewSemanticScholarSearcher(
		cfg.Retrieval.SemanticScholarURL, cfg.Retrieval.SemanticScholarAPIKey, logger))

	return &oracles{
		ideas:   oracle.NewLLMIdeaOracle(client, ideaOpts...),
		reviews: oracle.NewLLMReviewOracle(client, oracle.WithReviewLogger(logger)),
		retrieval: oracle.NewRetriever(client,
			oracle.NewFallbackSearcher(logger, searchers...),
			oracle.WithRetrieverLogger(logger)),
	}, nil
}

// engineFactory returns a factory that gives every session its own review
// cache, catalog and explorer over the shared oracles.
func engineFactory(cfg config.Config, o *oracles, tracing bool, logger *slog.Logger) server.EngineFactory {
	explorerCfg := cfg.Explorer
	explorerCfg.TracingEnabled = explorerCfg.TracingEnabled && tracing

	return func(opts ...mcts.ExplorerOption) (*server.Engine, error) {
		reviews := o.reviews
		var cache *reviewcache.Cache
		if cfg.ReviewCache.Enabled {
			c, err := reviewcache.New(o.reviews,
				reviewcache.WithTTL(cfg.ReviewCache.TTL),
				reviewcache.WithLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("review cache: %w", err)
			}
			cache, reviews = c, c
		}

		cat, err := catalog.NewCatalog(o.ideas, reviews, o.retrieval, cfg.Catalog, catalog.WithLogger(logger))
		if err != nil {
			closeCache(cache)
			return nil, err
		}

		ex, err := mcts.NewExplorer(cat, explorerCfg, append([]mcts.ExplorerOption{mcts.WithLogger(logger)}, opts...)...)
		if err != nil {
			closeCache(cache)
			return nil, err
		}
		return &server.Engine{Explorer: ex, Catalog: cat, Cache: cache}, nil
	}
}

func closeCache(c *reviewcache.Cache) {
	if c != nil {
		_ = c.Close()
	}
}
