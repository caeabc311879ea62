// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcts implements the tree-search engine that iteratively improves a
// research idea.
//
// # Architecture
//
//   - TreeStore: Append-only idea tree plus the "current" cursor
//   - Node: One idea snapshot with visit and reward statistics
//   - Selector: UCT scoring over the closed ActionType set with domain bias
//   - ActionCatalog: Interface executing an action against external oracles
//   - Explorer: Iteration state machine with start, stop, select and reset
//   - TreeStore.Best: Best-node query over a subtree
//
// # Iteration
//
//  1. STOP CHECK: max iterations, max depth or a pending stop request
//  2. SELECT: UCT over the current node's children, untried actions first
//  3. EXPAND+SIMULATE: execute the action, append one child
//  4. BACKPROPAGATE: visit+1 and reward*discount^hop up to the root
//  5. ADVANCE: move the cursor to the new node and emit a progress event
//
// A failed action commits nothing, emits an error event and returns the
// explorer to Idle. Termination emits a complete event with the best node and
// leaves the explorer Completed until Reset.
//
// # Thread Safety
//
// All exported types are safe for concurrent use unless documented otherwise.
// Node uses atomic operations for visits and a mutex for reward and children.
//
// # Observability
//
// Runs, iterations and actions are traced with OpenTelemetry when enabled,
// and counted through the global otel meter.
package mcts
