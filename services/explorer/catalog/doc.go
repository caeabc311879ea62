// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog executes exploration actions against the idea, review and
// retrieval oracles.
//
// Catalog is the production mcts.ActionCatalog. It owns the oracle
// protection (rate limiting, per-oracle circuit breakers, per-call
// deadlines), the weighted review average and the exploration memory that
// each new artifact inherits from its parent.
package catalog
