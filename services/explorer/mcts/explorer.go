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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is the explorer's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Stop reasons reported in complete events.
const (
	StopMaxIterations = "max_iterations"
	StopMaxDepth      = "max_depth"
	StopRequested     = "stop_requested"
	StopCanceled      = "context_canceled"
)

// RunSummary describes a finished run.
type RunSummary struct {
	Outcome         Outcome     `json:"outcome"`
	Iterations      int         `json:"iterations"`
	NodesAdded      int         `json:"nodes_added"`
	Seeded          bool        `json:"seeded"`
	StopReason      string      `json:"stop_reason,omitempty"`
	FailedIteration int         `json:"failed_iteration,omitempty"`
	Best            *BestResult `json:"best,omitempty"`
	Err             error       `json:"-"`
}

// Status is a point-in-time view of the explorer.
type Status struct {
	State         State  `json:"state"`
	Goal          string `json:"goal"`
	Nodes         int    `json:"nodes"`
	CurrentID     string `json:"current_id,omitempty"`
	Iteration     int64  `json:"iteration"`
	DroppedEvents int64  `json:"dropped_events"`
}

// Explorer runs the select, expand, simulate and backpropagate loop over one
// session's tree.
//
// Description:
//
//	The explorer owns a TreeStore, a ReviewCache and an event bus. A run
//	moves Idle -> Running and ends either in Completed (a stop condition
//	held) or back in Idle (an action failed). Exactly one action executes
//	at a time and the tree is mutated only after the action returns.
//	Stop requests are polled at iteration boundaries only.
//
// Thread Safety: Safe for concurrent use. Commands are serialized by an
// internal mutex; the loop itself is the tree's single writer.
type Explorer struct {
	catalog ActionCatalog
	config  ExplorerConfig
	tree    *TreeStore
	reviews *ReviewCache
	bus     *eventBus
	tracer  *Tracer
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	goal  string
	done  chan struct{}

	// ending is set once the loop has decided to terminate and is
	// delivering its terminal event. The state stays Running until then.
	ending bool

	stopRequested atomic.Bool
	iteration     atomic.Int64
}

// ExplorerOption configures an Explorer.
type ExplorerOption func(*Explorer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExplorerOption {
	return func(e *Explorer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer *Tracer) ExplorerOption {
	return func(e *Explorer) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithTreeStore uses an existing tree instead of a new empty one.
func WithTreeStore(tree *TreeStore) ExplorerOption {
	return func(e *Explorer) {
		if tree != nil {
			e.tree = tree
		}
	}
}

// WithGoal sets the research goal used to seed an empty tree.
func WithGoal(goal string) ExplorerOption {
	return func(e *Explorer) {
		e.goal = goal
	}
}

// WithEventHook registers a function called synchronously for every event.
// Hooks must not block or call back into the explorer.
func WithEventHook(fn func(Event)) ExplorerOption {
	return func(e *Explorer) {
		if fn != nil {
			e.bus.addHook(fn)
		}
	}
}

// NewExplorer creates an explorer in the Idle state.
//
// Inputs:
//   - catalog: Executes actions. Must not be nil.
//   - config: Engine defaults. Must pass Validate.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Explorer: The explorer.
//   - error: ErrInvalidCatalog or a config validation error.
func NewExplorer(catalog ActionCatalog, config ExplorerConfig, opts ...ExplorerOption) (*Explorer, error) {
	if catalog == nil {
		return nil, ErrInvalidCatalog
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid explorer config: %w", err)
	}

	e := &Explorer{
		catalog: catalog,
		config:  config,
		tree:    NewTreeStore(),
		reviews: NewReviewCache(),
		logger:  slog.Default(),
		state:   StateIdle,
	}
	e.bus = newEventBus(e.logger)
	for _, opt := range opts {
		opt(e)
	}
	e.bus.logger = e.logger
	if e.tracer == nil {
		e.tracer = NewTracer(e.logger, config.TracingEnabled)
	}
	return e, nil
}

// Tree returns the explorer's tree.
func (e *Explorer) Tree() *TreeStore {
	return e.tree
}

// Reviews returns the session's review cache.
func (e *Explorer) Reviews() *ReviewCache {
	return e.reviews
}

// Config returns the explorer configuration.
func (e *Explorer) Config() ExplorerConfig {
	return e.config
}

// State returns the lifecycle state.
func (e *Explorer) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a point-in-time view of the explorer.
func (e *Explorer) Status() Status {
	e.mu.Lock()
	st := Status{State: e.state, Goal: e.goal}
	e.mu.Unlock()

	st.Nodes = e.tree.Len()
	if cur := e.tree.Current(); cur != nil {
		st.CurrentID = cur.ID
	}
	st.Iteration = e.iteration.Load()
	st.DroppedEvents = e.bus.droppedCount()
	return st
}

// Subscribe registers an event subscriber.
//
// Inputs:
//   - buffer: Channel size. Values < 1 use the configured EventBuffer.
//
// Outputs:
//   - <-chan Event: Receives events until cancel is called.
//   - func(): Cancels the subscription and closes the channel.
func (e *Explorer) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = e.config.EventBuffer
	}
	return e.bus.subscribe(buffer)
}

// Seed creates the root from an existing artifact instead of generating one.
//
// Outputs:
//   - *Node: The root.
//   - error: ErrAlreadyRunning while a run is active, ErrRootExists if the
//     tree is already seeded, or ErrNilArtifact.
func (e *Explorer) Seed(goal string, artifact *Artifact) (*Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return nil, &ExplorerStateError{Kind: StateErrAlreadyRunning, State: e.state}
	}
	root, err := e.tree.CreateRoot(artifact)
	if err != nil {
		return nil, err
	}
	if goal != "" {
		e.goal = goal
	}
	e.reviews.Put(root.ID, root.Review())
	return root, nil
}

// Start begins a run in the background and returns immediately.
//
// Description:
//
//	Validates the state and parameters synchronously, then runs the loop
//	on its own goroutine. The run is detached from ctx cancellation so it
//	outlives request-scoped contexts; use Stop to end it. Results arrive as
//	events and through Wait.
//
// Outputs:
//   - error: *ExplorerStateError if not Idle, or a parameter error.
func (e *Explorer) Start(ctx context.Context, params RunParams) error {
	p, err := e.begin(params)
	if err != nil {
		return err
	}
	go func() {
		_, _ = e.run(context.WithoutCancel(ctx), p)
	}()
	return nil
}

// Run executes a run synchronously.
//
// Outputs:
//   - RunSummary: What happened during the run.
//   - error: *ExplorerStateError or a parameter error if the run could not
//     start, or the *ActionError that aborted it.
func (e *Explorer) Run(ctx context.Context, params RunParams) (RunSummary, error) {
	p, err := e.begin(params)
	if err != nil {
		return RunSummary{}, err
	}
	return e.run(ctx, p)
}

// Wait blocks until the active run, if any, finishes or ctx is done.
func (e *Explorer) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests cooperative termination. The loop honors it at the next
// iteration boundary; an in-flight action runs to completion first.
//
// Outputs:
//   - error: *ExplorerStateError (ErrNotRunning) if no run is active.
func (e *Explorer) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning || e.ending {
		return &ExplorerStateError{Kind: StateErrNotRunning, State: e.state}
	}
	e.stopRequested.Store(true)
	e.logger.Info("Exploration stop requested")
	return nil
}

// SelectNode moves the current cursor. Statistics are never touched.
//
// Outputs:
//   - error: *ExplorerStateError while running, or a *TreeError.
func (e *Explorer) SelectNode(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return &ExplorerStateError{Kind: StateErrAlreadyRunning, State: e.state}
	}
	return e.tree.SetCurrent(id)
}

// Reset discards the tree and review cache and returns to Idle.
//
// Outputs:
//   - error: *ExplorerStateError while running.
func (e *Explorer) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return &ExplorerStateError{Kind: StateErrAlreadyRunning, State: e.state}
	}
	e.tree.Reset()
	e.reviews.Clear()
	e.state = StateIdle
	e.iteration.Store(0)
	e.logger.Info("Exploration session reset")
	return nil
}

// Best returns the best node under the given options.
func (e *Explorer) Best(opts ...BestOption) (BestResult, error) {
	return e.tree.Best(opts...)
}

// begin validates and transitions Idle -> Running.
func (e *Explorer) begin(params RunParams) (RunParams, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		return params, &ExplorerStateError{Kind: StateErrAlreadyRunning, State: e.state}
	case StateCompleted:
		return params, &ExplorerStateError{Kind: StateErrCompleted, State: e.state}
	}

	p := params.WithDefaults(e.config)
	if err := p.Validate(); err != nil {
		return p, err
	}
	if p.Goal != "" {
		e.goal = p.Goal
	}
	p.Goal = e.goal
	if e.tree.Root() == nil && p.Goal == "" {
		return p, ErrGoalRequiredToSeed
	}

	e.state = StateRunning
	e.ending = false
	e.stopRequested.Store(false)
	e.iteration.Store(0)
	e.done = make(chan struct{})
	return p, nil
}

// endRun delivers the terminal event, then transitions out of Running and
// releases waiters. Commands stay rejected until the event is delivered.
func (e *Explorer) endRun(state State, ev Event) {
	e.mu.Lock()
	e.ending = true
	e.mu.Unlock()

	e.bus.publish(ev)
	e.finish(state)
}

// finish transitions out of Running and releases waiters.
func (e *Explorer) finish(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ending = false
	e.state = state
	if e.done != nil {
		close(e.done)
		e.done = nil
	}
}

// run is the iteration loop. Caller must have called begin.
func (e *Explorer) run(ctx context.Context, p RunParams) (RunSummary, error) {
	ctx, span := e.tracer.StartRun(ctx, p)
	summary := RunSummary{}

	e.logger.Info("Exploration started",
		slog.String("goal", truncateForObs(p.Goal, 100)),
		slog.Int("max_iterations", p.MaxIterations),
		slog.Int("max_depth", p.MaxDepth),
		slog.Float64("exploration_constant", p.C()),
		slog.Float64("discount_factor", p.Discount()),
	)

	if e.tree.Root() == nil {
		if err := e.seed(ctx, p, &summary); err != nil {
			return e.fail(ctx, span, summary, 0, ActionGenerate, err)
		}
	}

	selector := NewSelector(e.config.SelectorConfig(p.C()))

	for iteration := 1; ; iteration++ {
		current := e.tree.Current()
		if reason := e.stopReason(ctx, summary.Iterations, current, p); reason != "" {
			return e.complete(ctx, span, summary, reason), nil
		}

		action, err := e.iterate(ctx, iteration, current, selector, p)
		if err != nil {
			return e.fail(ctx, span, summary, iteration, action, err)
		}
		summary.Iterations++
		summary.NodesAdded++
		e.iteration.Store(int64(iteration))

		e.pause(ctx)
	}
}

// seed generates the root artifact for an empty tree.
func (e *Explorer) seed(ctx context.Context, p RunParams, summary *RunSummary) error {
	art, err := e.executeAction(ctx, ActionRequest{Action: ActionGenerate, Goal: p.Goal})
	if err != nil {
		return err
	}
	root, err := e.tree.CreateRoot(art)
	if err != nil {
		return NewActionError(FailureRefine, ActionGenerate, err)
	}
	e.reviews.Put(root.ID, art.Review())
	summary.Seeded = true
	summary.NodesAdded++

	e.logger.Info("Exploration tree seeded", slog.String("node_id", root.ID))
	e.bus.publish(Event{
		Type:   EventSeeded,
		Node:   root,
		Action: ActionGenerate,
		Tree:   e.tree.Snapshot(),
	})
	return nil
}

// stopReason returns a non-empty reason when the run must terminate.
func (e *Explorer) stopReason(ctx context.Context, done int, current *Node, p RunParams) string {
	switch {
	case e.stopRequested.Load():
		return StopRequested
	case ctx.Err() != nil:
		return StopCanceled
	case done >= p.MaxIterations:
		return StopMaxIterations
	case current != nil && current.Depth >= p.MaxDepth:
		return StopMaxDepth
	}
	return ""
}

// iterate runs one select, expand, simulate, backpropagate cycle.
func (e *Explorer) iterate(ctx context.Context, iteration int, current *Node, selector *Selector, p RunParams) (ActionType, error) {
	ctx, span := e.tracer.StartIteration(ctx, iteration, current)

	cached := e.reviews.Get(current.ID)
	action := selector.Select(current, cached)

	e.logger.Debug("Exploration action selected",
		slog.Int("iteration", iteration),
		slog.String("node_id", current.ID),
		slog.String("action", string(action)),
	)

	art, err := e.executeAction(ctx, ActionRequest{
		Action:       action,
		Goal:         p.Goal,
		Current:      current.Artifact(),
		CachedReview: cached,
	})
	if err != nil {
		e.tracer.EndSpan(span, err)
		return action, err
	}

	node, err := e.tree.AddChild(current.ID, action, art)
	if err != nil {
		// The loop is the single writer, so this is a programming error.
		e.tracer.EndSpan(span, err)
		return action, fmt.Errorf("add child: %w", err)
	}

	reward := art.Reward(e.config.DefaultReward)
	credits, err := e.tree.Backpropagate(node.ID, reward, p.Discount())
	if err != nil {
		e.tracer.EndSpan(span, err)
		return action, fmt.Errorf("backpropagate: %w", err)
	}
	e.reviews.Put(node.ID, art.Review())
	if err := e.tree.SetCurrent(node.ID); err != nil {
		e.tracer.EndSpan(span, err)
		return action, fmt.Errorf("set current: %w", err)
	}

	recordExpansion(ctx, action, reward)
	e.tracer.EndSpan(span, nil,
		attribute.String("explorer.node_id", node.ID),
		attribute.Float64("explorer.reward", reward),
	)

	e.logger.Info("Exploration iteration complete",
		slog.Int("iteration", iteration),
		slog.String("action", string(action)),
		slog.String("node_id", node.ID),
		slog.Int("depth", node.Depth),
		slog.Float64("reward", reward),
	)

	e.bus.publish(Event{
		Type:      EventProgress,
		Iteration: iteration,
		Node:      node,
		Action:    action,
		Reward:    reward,
		Credits:   credits,
		Tree:      e.tree.Snapshot(),
	})
	return action, nil
}

// executeAction runs the catalog under the action deadline and normalizes
// the error into an *ActionError.
func (e *Explorer) executeAction(ctx context.Context, req ActionRequest) (*Artifact, error) {
	actx := ctx
	if e.config.ActionTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.config.ActionTimeout)
		defer cancel()
	}
	actx, span := e.tracer.StartAction(actx, req.Action)

	start := time.Now()
	art, err := e.catalog.Execute(actx, req)
	if err == nil && art == nil {
		err = NewActionError(FailureRefine, req.Action, ErrNilArtifact)
	}
	if err != nil {
		err = asActionError(actx, req.Action, err)
		art = nil
	}

	recordAction(ctx, req.Action, time.Since(start), err)
	e.tracer.EndSpan(span, err)
	return art, err
}

// asActionError classifies errors that are not already *ActionError.
func asActionError(ctx context.Context, action ActionType, err error) error {
	var ae *ActionError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewActionError(FailureTimeout, action, err)
	}
	return NewActionError(FailureRefine, action, err)
}

// complete finishes a run normally.
func (e *Explorer) complete(ctx context.Context, span trace.Span, summary RunSummary, reason string) RunSummary {
	summary.Outcome = OutcomeCompleted
	summary.StopReason = reason

	ev := Event{
		Type:       EventComplete,
		Iteration:  summary.Iterations,
		StopReason: reason,
		Tree:       e.tree.Snapshot(),
	}
	best, err := e.tree.Best()
	if err == nil {
		summary.Best = &best
		ev.Best = best.Node
		v := best.Value
		ev.BestScore = &v
	} else {
		e.logger.Warn("Exploration completed without a scored node", slog.String("error", err.Error()))
	}

	recordRun(ctx, OutcomeCompleted)
	e.tracer.EndRun(span, summary, nil)

	attrs := []any{
		slog.Int("iterations", summary.Iterations),
		slog.Int("nodes_added", summary.NodesAdded),
		slog.String("stop_reason", reason),
	}
	if summary.Best != nil {
		attrs = append(attrs,
			slog.String("best_node_id", summary.Best.Node.ID),
			slog.Float64("best_score", summary.Best.Value))
	}
	e.logger.Info("Exploration complete", attrs...)

	e.endRun(StateCompleted, ev)
	return summary
}

// fail aborts a run after an action error. No node was committed.
func (e *Explorer) fail(ctx context.Context, span trace.Span, summary RunSummary, iteration int, action ActionType, err error) (RunSummary, error) {
	kind, _ := FailureKindOf(err)
	summary.Outcome = OutcomeFailed
	summary.FailedIteration = iteration
	summary.Err = err

	recordRun(ctx, OutcomeFailed)
	e.tracer.EndRun(span, summary, err)

	e.logger.Error("Exploration iteration failed",
		slog.Int("iteration", iteration),
		slog.String("action", string(action)),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)

	e.endRun(StateIdle, Event{
		Type:      EventError,
		Iteration: iteration,
		Action:    action,
		Kind:      kind,
		Error:     err.Error(),
	})
	return summary, err
}

// pause sleeps the pacing delay, returning early if ctx ends.
func (e *Explorer) pause(ctx context.Context) {
	if e.config.PacingDelay <= 0 {
		return
	}
	timer := time.NewTimer(e.config.PacingDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
