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
	"context"
	"fmt"
)

// ActionType is the closed set of improvement actions.
type ActionType string

const (
	// ActionGenerate produces the seed idea from a research goal.
	ActionGenerate ActionType = "generate"

	// ActionReviewAndRefine scores the idea, picks the weakest aspects and
	// refines the idea against their feedback.
	ActionReviewAndRefine ActionType = "review_and_refine"

	// ActionRetrieveAndRefine searches the literature and refines the idea
	// against the retrieved sections.
	ActionRetrieveAndRefine ActionType = "retrieve_and_refine"

	// ActionRefresh produces a structurally different idea for the same goal.
	ActionRefresh ActionType = "refresh"
)

// String returns the string representation of the action type.
func (a ActionType) String() string {
	return string(a)
}

// ValidActionTypes is the exhaustive list of valid action types.
var ValidActionTypes = map[ActionType]bool{
	ActionGenerate:          true,
	ActionReviewAndRefine:   true,
	ActionRetrieveAndRefine: true,
	ActionRefresh:           true,
}

// CanonicalActionOrder is the fixed order used to break selection ties.
var CanonicalActionOrder = []ActionType{
	ActionGenerate,
	ActionReviewAndRefine,
	ActionRetrieveAndRefine,
	ActionRefresh,
}

// ExpansionActions are the actions the selector may pick once a root exists.
// Generate only seeds the root.
var ExpansionActions = []ActionType{
	ActionReviewAndRefine,
	ActionRetrieveAndRefine,
	ActionRefresh,
}

// canonicalRank returns the tie-break rank of an action. Unknown actions
// sort last.
func canonicalRank(a ActionType) int {
	for i, c := range CanonicalActionOrder {
		if c == a {
			return i
		}
	}
	return len(CanonicalActionOrder)
}

// ParseActionType parses and validates an action type name.
//
// Outputs:
//   - ActionType: The parsed action.
//   - error: Wraps ErrInvalidActionType if the name is unknown.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(s)
	if !ValidActionTypes[a] {
		return "", fmt.Errorf("%w: %q", ErrInvalidActionType, s)
	}
	return a, nil
}

// ActionRequest is the input to one action execution.
type ActionRequest struct {
	// Action is the action to run.
	Action ActionType

	// Goal is the session's research goal.
	Goal string

	// Current is the artifact of the current node. Nil only for ActionGenerate.
	Current *Artifact

	// CachedReview is the session's cached review for the current node, if
	// any. Executors may reuse it instead of scoring again.
	CachedReview *Review
}

// ActionCatalog executes actions against the external oracles.
//
// Implementations must return a fully built artifact or an *ActionError;
// the explorer commits nothing to the tree until Execute returns.
type ActionCatalog interface {
	// Execute runs a single action.
	//
	// Inputs:
	//   - ctx: Context for cancellation. Implementations apply their own
	//     per-call deadlines on top of it.
	//   - req: The action and its inputs.
	//
	// Outputs:
	//   - *Artifact: The new artifact, never nil on success.
	//   - error: An *ActionError on failure.
	Execute(ctx context.Context, req ActionRequest) (*Artifact, error)
}

// ActionCatalogFunc adapts a function to ActionCatalog.
type ActionCatalogFunc func(ctx context.Context, req ActionRequest) (*Artifact, error)

// Execute implements ActionCatalog.
func (f ActionCatalogFunc) Execute(ctx context.Context, req ActionRequest) (*Artifact, error) {
	return f(ctx, req)
}
