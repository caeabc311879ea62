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
	"errors"
	"fmt"
)

// Sentinel errors for the mcts package.
var (
	// Tree errors
	ErrNodeNotFound   = errors.New("node not found")
	ErrInvalidParent  = errors.New("invalid parent node")
	ErrRootExists     = errors.New("tree already has a root")
	ErrNotFound       = errors.New("no scored node found")
	ErrTreeNotSeeded  = errors.New("tree has no root")
	ErrInvalidMetric  = errors.New("invalid best-node metric")
	ErrNilArtifact    = errors.New("artifact must not be nil")
	ErrInvalidCatalog = errors.New("action catalog must not be nil")

	// Explorer state errors
	ErrNotRunning       = errors.New("explorer is not running")
	ErrAlreadyRunning   = errors.New("explorer is already running")
	ErrSessionCompleted = errors.New("explorer session is completed, reset to start again")

	// Action errors
	ErrInvalidActionType  = errors.New("invalid action type")
	ErrQueryGeneration    = errors.New("query generation failed")
	ErrRetrieval          = errors.New("retrieval failed")
	ErrReview             = errors.New("review failed")
	ErrRefine             = errors.New("refine failed")
	ErrActionTimeout      = errors.New("action timed out")
	ErrInvalidRunParams   = errors.New("invalid run parameters")
	ErrGoalRequiredToSeed = errors.New("research goal is required to seed an empty tree")
)

// -----------------------------------------------------------------------------
// TreeError
// -----------------------------------------------------------------------------

// TreeErrorKind classifies tree usage errors.
type TreeErrorKind string

const (
	TreeErrNodeNotFound  TreeErrorKind = "node_not_found"
	TreeErrInvalidParent TreeErrorKind = "invalid_parent"
)

// TreeError is returned synchronously by TreeStore operations.
//
// It unwraps to ErrNodeNotFound or ErrInvalidParent so callers can use
// errors.Is without inspecting Kind.
type TreeError struct {
	Kind   TreeErrorKind
	NodeID string
}

func (e *TreeError) Error() string {
	return fmt.Sprintf("tree error: %s (node %q)", e.Kind, e.NodeID)
}

// Unwrap returns the matching sentinel.
func (e *TreeError) Unwrap() error {
	switch e.Kind {
	case TreeErrInvalidParent:
		return ErrInvalidParent
	default:
		return ErrNodeNotFound
	}
}

func nodeNotFound(id string) error {
	return &TreeError{Kind: TreeErrNodeNotFound, NodeID: id}
}

// -----------------------------------------------------------------------------
// ExplorerStateError
// -----------------------------------------------------------------------------

// StateErrorKind classifies explorer command errors.
type StateErrorKind string

const (
	StateErrNotRunning     StateErrorKind = "not_running"
	StateErrAlreadyRunning StateErrorKind = "already_running"
	StateErrCompleted      StateErrorKind = "completed"
)

// ExplorerStateError is returned when a command is not valid in the
// explorer's current state.
type ExplorerStateError struct {
	Kind  StateErrorKind
	State State
}

func (e *ExplorerStateError) Error() string {
	return fmt.Sprintf("explorer state error: %s (state %s)", e.Kind, e.State)
}

// Unwrap returns the matching sentinel.
func (e *ExplorerStateError) Unwrap() error {
	switch e.Kind {
	case StateErrAlreadyRunning:
		return ErrAlreadyRunning
	case StateErrCompleted:
		return ErrSessionCompleted
	default:
		return ErrNotRunning
	}
}

// -----------------------------------------------------------------------------
// ActionError
// -----------------------------------------------------------------------------

// FailureKind classifies why an action failed.
type FailureKind string

const (
	FailureQueryGeneration FailureKind = "query_generation_failed"
	FailureRetrieval       FailureKind = "retrieval_failed"
	FailureReview          FailureKind = "review_failed"
	FailureRefine          FailureKind = "refine_failed"
	FailureTimeout         FailureKind = "timeout"
)

// sentinel maps a failure kind to its sentinel error.
func (k FailureKind) sentinel() error {
	switch k {
	case FailureQueryGeneration:
		return ErrQueryGeneration
	case FailureRetrieval:
		return ErrRetrieval
	case FailureReview:
		return ErrReview
	case FailureRefine:
		return ErrRefine
	case FailureTimeout:
		return ErrActionTimeout
	default:
		return nil
	}
}

// ActionError reports a failed action execution. It aborts only the
// iteration in progress.
//
// errors.Is matches both the kind sentinel (e.g. ErrActionTimeout) and the
// underlying cause.
type ActionError struct {
	Kind   FailureKind
	Action ActionType
	Err    error
}

// NewActionError creates an ActionError.
func NewActionError(kind FailureKind, action ActionType, err error) *ActionError {
	return &ActionError{Kind: kind, Action: action, Err: err}
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("action %s: %s", e.Action, e.Kind)
	}
	return fmt.Sprintf("action %s: %s: %v", e.Action, e.Kind, e.Err)
}

// Unwrap returns the kind sentinel and the cause.
func (e *ActionError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// FailureKindOf extracts the failure kind from err.
//
// Outputs:
//   - FailureKind: The kind, or "" if err is not an ActionError.
//   - bool: True if err wraps an ActionError.
func FailureKindOf(err error) (FailureKind, bool) {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
