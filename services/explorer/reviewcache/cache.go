// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reviewcache memoizes review oracle calls by idea content.
//
// Refinement often revisits text the reviewer has already scored, for
// example when the explorer moves the cursor back with SelectNode. The
// cache keys each call by the idea's content hash plus the requested
// aspects, stores results in an in-memory BadgerDB with a TTL, and
// collapses concurrent identical calls with singleflight. Each session owns
// its own Cache.
package reviewcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

// DefaultTTL bounds how long a review stays reusable.
const DefaultTTL = time.Hour

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Cache wraps a catalog.ReviewOracle. Errors are never cached.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	inner  catalog.ReviewOracle
	store  *store
	group  singleflight.Group
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl    time.Duration
	logger *slog.Logger
}

// WithTTL overrides DefaultTTL. Zero keeps entries until Close.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New opens a cache in front of inner. Call Close when the session ends.
func New(inner catalog.ReviewOracle, opts ...Option) (*Cache, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: review oracle", catalog.ErrMissingOracle)
	}
	o := options{ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := openStore(o.ttl, o.logger.With(slog.String("component", "badger")))
	if err != nil {
		return nil, err
	}
	return &Cache{
		inner:  inner,
		store:  s,
		logger: o.logger.With(slog.String("component", "review_cache")),
	}, nil
}

// ScoreAll implements catalog.ReviewOracle.
func (c *Cache) ScoreAll(ctx context.Context, idea *mcts.Artifact, aspects []string) (*mcts.Review, error) {
	if idea == nil {
		return nil, mcts.ErrNilArtifact
	}
	key := allKey(idea, aspects)
	var review mcts.Review
	err := c.cached(ctx, key, &review, func(ctx context.Context) (any, error) {
		return c.inner.ScoreAll(ctx, idea, aspects)
	})
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// ScoreAspect implements catalog.ReviewOracle.
func (c *Cache) ScoreAspect(ctx context.Context, idea *mcts.Artifact, aspect string) (catalog.AspectReview, error) {
	if idea == nil {
		return catalog.AspectReview{}, mcts.ErrNilArtifact
	}
	key := "aspect/" + idea.ContentHash() + "/" + aspect
	var ar catalog.AspectReview
	err := c.cached(ctx, key, &ar, func(ctx context.Context) (any, error) {
		return c.inner.ScoreAspect(ctx, idea, aspect)
	})
	if err != nil {
		return catalog.AspectReview{}, err
	}
	return ar, nil
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Clear drops every entry, for a session reset.
func (c *Cache) Clear() error {
	return c.store.dropAll()
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.store.close()
}

// cached decodes the stored value for key into out, or calls fetch once per
// key across concurrent callers and stores its result. Waiting callers share
// the first caller's outcome, including its cancellation.
func (c *Cache) cached(ctx context.Context, key string, out any, fetch func(context.Context) (any, error)) error {
	if raw, ok, err := c.store.get(ctx, key); err != nil {
		c.logger.Warn("review cache read failed", slog.String("error", err.Error()))
	} else if ok {
		if err := json.Unmarshal(raw, out); err == nil {
			c.hits.Add(1)
			return nil
		}
	}

	raw, err, shared := c.group.Do(key, func() (any, error) {
		c.misses.Add(1)
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode review: %w", err)
		}
		if err := c.store.put(ctx, key, raw); err != nil {
			c.logger.Warn("review cache write failed", slog.String("error", err.Error()))
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	if shared {
		c.logger.Debug("review call shared", slog.String("key", key))
	}
	return json.Unmarshal(raw.([]byte), out)
}

func allKey(idea *mcts.Artifact, aspects []string) string {
	sorted := append([]string(nil), aspects...)
	sort.Strings(sorted)
	return "all/" + idea.ContentHash() + "/" + strings.Join(sorted, ",")
}
