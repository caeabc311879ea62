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

import "sync"

// ReviewCache holds the latest review per node for one session.
//
// Thread Safety: Safe for concurrent use.
type ReviewCache struct {
	mu      sync.RWMutex
	reviews map[string]*Review
}

// NewReviewCache creates an empty cache.
func NewReviewCache() *ReviewCache {
	return &ReviewCache{reviews: make(map[string]*Review)}
}

// Get returns a copy of the review for nodeID, or nil.
func (c *ReviewCache) Get(nodeID string) *Review {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reviews[nodeID].Clone()
}

// Put stores a copy of review for nodeID. A nil review is ignored.
func (c *ReviewCache) Put(nodeID string, review *Review) {
	if review == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviews[nodeID] = review.Clone()
}

// Len returns the number of cached reviews.
func (c *ReviewCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reviews)
}

// Clear drops every cached review.
func (c *ReviewCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviews = make(map[string]*Review)
}
