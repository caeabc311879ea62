// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

// Oracle names used for breakers and logs.
const (
	OracleIdea      = "idea"
	OracleReview    = "review"
	OracleRetrieval = "retrieval"
)

// executor runs one action.
type executor func(ctx context.Context, req mcts.ActionRequest) (*mcts.Artifact, error)

// Catalog implements mcts.ActionCatalog over three oracles.
//
// Description:
//
//	Each action type has exactly one executor. Every oracle call passes a
//	shared rate limiter, the oracle's circuit breaker and a per-call
//	deadline. Failures come back as *mcts.ActionError with the kind of the
//	step that failed, or Timeout when a deadline was hit.
//
// Thread Safety: Safe for concurrent use.
type Catalog struct {
	ideas     IdeaOracle
	reviews   ReviewOracle
	retrieval RetrievalOracle

	config    Config
	limiter   *rate.Limiter
	breakers  map[string]*CircuitBreaker
	executors map[mcts.ActionType]executor
	logger    *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCatalog creates a catalog.
//
// Inputs:
//   - ideas, reviews, retrieval: The oracles. None may be nil.
//   - config: Catalog configuration. Must pass Validate.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Catalog: The catalog.
//   - error: ErrMissingOracle or ErrInvalidConfig.
func NewCatalog(ideas IdeaOracle, reviews ReviewOracle, retrieval RetrievalOracle, config Config, opts ...Option) (*Catalog, error) {
	if ideas == nil || reviews == nil || retrieval == nil {
		return nil, ErrMissingOracle
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		ideas:     ideas,
		reviews:   reviews,
		retrieval: retrieval,
		config:    config,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	c.limiter = rate.NewLimiter(limit, max(config.RateBurst, 1))

	c.breakers = map[string]*CircuitBreaker{
		OracleIdea:      NewCircuitBreaker(OracleIdea, config.Breaker, c.logger),
		OracleReview:    NewCircuitBreaker(OracleReview, config.Breaker, c.logger),
		OracleRetrieval: NewCircuitBreaker(OracleRetrieval, config.Breaker, c.logger),
	}

	c.executors = map[mcts.ActionType]executor{
		mcts.ActionGenerate:          c.generate,
		mcts.ActionReviewAndRefine:   c.reviewAndRefine,
		mcts.ActionRetrieveAndRefine: c.retrieveAndRefine,
		mcts.ActionRefresh:           c.refresh,
	}
	return c, nil
}

// Execute runs req.Action.
//
// Outputs:
//   - *mcts.Artifact: A new artifact with review, memory and knowledge set.
//   - error: *mcts.ActionError, or mcts.ErrInvalidActionType.
func (c *Catalog) Execute(ctx context.Context, req mcts.ActionRequest) (*mcts.Artifact, error) {
	exec, ok := c.executors[req.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", mcts.ErrInvalidActionType, req.Action)
	}
	if req.Action != mcts.ActionGenerate && req.Current == nil {
		return nil, mcts.NewActionError(mcts.FailureRefine, req.Action, mcts.ErrNilArtifact)
	}

	start := time.Now()
	art, err := exec(ctx, req)
	if err != nil {
		c.logger.Warn("Action failed",
			slog.String("action", string(req.Action)),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	c.logger.Debug("Action executed",
		slog.String("action", string(req.Action)),
		slog.Duration("duration", time.Since(start)),
		slog.Int("knowledge", len(art.RetrievedKnowledge)),
	)
	return art, nil
}

// BreakerStats returns a snapshot of every oracle breaker.
func (c *Catalog) BreakerStats() []BreakerStats {
	out := make([]BreakerStats, 0, len(c.breakers))
	for _, name := range []string{OracleIdea, OracleReview, OracleRetrieval} {
		out = append(out, c.breakers[name].Stats())
	}
	return out
}

// -----------------------------------------------------------------------------
// Executors
// -----------------------------------------------------------------------------

func (c *Catalog) generate(ctx context.Context, req mcts.ActionRequest) (*mcts.Artifact, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, mcts.NewActionError(mcts.FailureRefine, req.Action, mcts.ErrGoalRequiredToSeed)
	}

	var art *mcts.Artifact
	err := c.call(ctx, OracleIdea, mcts.FailureRefine, req.Action, func(ctx context.Context) error {
		var err error
		art, err = c.ideas.Generate(ctx, req.Goal)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := checkIdea(art, req.Action); err != nil {
		return nil, err
	}

	art.Memory = mcts.Memory{}
	art.Memory.RecordAction(req.Action)
	return c.scored(ctx, req.Action, art)
}

func (c *Catalog) reviewAndRefine(ctx context.Context, req mcts.ActionRequest) (*mcts.Artifact, error) {
	review := req.CachedReview
	if review == nil || len(review.Scores) == 0 {
		var err error
		review, err = c.scoreAll(ctx, req.Action, req.Current)
		if err != nil {
			return nil, err
		}
	}

	memory := req.Current.Memory.Clone()
	aspects := lowestAspects(review, c.config.Aspects, memory, c.config.RefineAspects, c.config.AvoidRecent)
	if len(aspects) == 0 {
		return nil, mcts.NewActionError(mcts.FailureReview, req.Action, ErrNoScores)
	}

	feedback, err := c.aspectFeedback(ctx, req.Action, req.Current, aspects)
	if err != nil {
		return nil, err
	}

	var art *mcts.Artifact
	err = c.call(ctx, OracleIdea, mcts.FailureRefine, req.Action, func(ctx context.Context) error {
		var err error
		art, err = c.ideas.Refine(ctx, RefineRequest{
			Goal:     req.Goal,
			Current:  req.Current,
			Feedback: feedback,
			Memory:   memory,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := checkIdea(art, req.Action); err != nil {
		return nil, err
	}

	memory.RecordAction(req.Action)
	memory.NoteProblematic(aspects...)
	art.Memory = memory
	art.Feedback = FormatFeedback(feedback)
	if art.RetrievedKnowledge == nil {
		art.RetrievedKnowledge = append([]mcts.KnowledgeRef(nil), req.Current.RetrievedKnowledge...)
	}
	return c.scored(ctx, req.Action, art)
}

func (c *Catalog) retrieveAndRefine(ctx context.Context, req mcts.ActionRequest) (*mcts.Artifact, error) {
	memory := req.Current.Memory.Clone()

	var query string
	err := c.call(ctx, OracleRetrieval, mcts.FailureQueryGeneration, req.Action, func(ctx context.Context) error {
		var err error
		query, err = c.retrieval.QueryFor(ctx, req.Goal, req.Current)
		return err
	})
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, mcts.NewActionError(mcts.FailureQueryGeneration, req.Action, ErrEmptyQuery)
	}
	if query == memory.LastQuery {
		query += c.config.QuerySuffix
	}

	var sections []Section
	err = c.call(ctx, OracleRetrieval, mcts.FailureRetrieval, req.Action, func(ctx context.Context) error {
		var err error
		sections, err = c.retrieval.Retrieve(ctx, query, c.config.MaxSections)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, mcts.NewActionError(mcts.FailureRetrieval, req.Action, fmt.Errorf("%w for %q", ErrNoSections, query))
	}
	if len(sections) > c.config.MaxSections {
		sections = sections[:c.config.MaxSections]
	}

	var art *mcts.Artifact
	err = c.call(ctx, OracleIdea, mcts.FailureRefine, req.Action, func(ctx context.Context) error {
		var err error
		art, err = c.ideas.Refine(ctx, RefineRequest{
			Goal:      req.Goal,
			Current:   req.Current,
			Knowledge: sections,
			Memory:    memory,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := checkIdea(art, req.Action); err != nil {
		return nil, err
	}

	memory.LastQuery = query
	memory.RecordAction(req.Action)
	art.Memory = memory
	art.RetrievedKnowledge = make([]mcts.KnowledgeRef, len(sections))
	for i, s := range sections {
		art.RetrievedKnowledge[i] = s.Ref()
	}
	return c.scored(ctx, req.Action, art)
}

func (c *Catalog) refresh(ctx context.Context, req mcts.ActionRequest) (*mcts.Artifact, error) {
	var art *mcts.Artifact
	err := c.call(ctx, OracleIdea, mcts.FailureRefine, req.Action, func(ctx context.Context) error {
		var err error
		art, err = c.ideas.Refresh(ctx, req.Goal, req.Current)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := checkIdea(art, req.Action); err != nil {
		return nil, err
	}

	memory := req.Current.Memory.Clone()
	memory.RecordAction(req.Action)
	art.Memory = memory
	art.RetrievedKnowledge = nil
	art.Feedback = ""
	return c.scored(ctx, req.Action, art)
}

// -----------------------------------------------------------------------------
// Steps
// -----------------------------------------------------------------------------

// scored attaches a fresh review to art.
func (c *Catalog) scored(ctx context.Context, action mcts.ActionType, art *mcts.Artifact) (*mcts.Artifact, error) {
	review, err := c.scoreAll(ctx, action, art)
	if err != nil {
		return nil, err
	}
	art.SetReview(review)
	return art, nil
}

// scoreAll reviews every configured aspect and normalizes the result.
func (c *Catalog) scoreAll(ctx context.Context, action mcts.ActionType, art *mcts.Artifact) (*mcts.Review, error) {
	var raw *mcts.Review
	err := c.call(ctx, OracleReview, mcts.FailureReview, action, func(ctx context.Context) error {
		var err error
		raw, err = c.reviews.ScoreAll(ctx, art, c.config.AspectNames())
		return err
	})
	if err != nil {
		return nil, err
	}
	review, err := normalizeReview(raw, c.config.Aspects)
	if err != nil {
		return nil, mcts.NewActionError(mcts.FailureReview, action, err)
	}
	return review, nil
}

// aspectFeedback reviews each aspect in depth, in parallel.
func (c *Catalog) aspectFeedback(ctx context.Context, action mcts.ActionType, art *mcts.Artifact, aspects []string) ([]AspectReview, error) {
	out := make([]AspectReview, len(aspects))
	g, gctx := errgroup.WithContext(ctx)
	for i, aspect := range aspects {
		g.Go(func() error {
			return c.call(gctx, OracleReview, mcts.FailureReview, action, func(ctx context.Context) error {
				r, err := c.reviews.ScoreAspect(ctx, art, aspect)
				if err != nil {
					return fmt.Errorf("aspect %s: %w", aspect, err)
				}
				if r.Aspect == "" {
					r.Aspect = aspect
				}
				r.Score = clampScore(r.Score)
				out[i] = r
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// call runs one oracle call through the limiter, breaker and deadline, and
// classifies its error.
func (c *Catalog) call(ctx context.Context, oracle string, kind mcts.FailureKind, action mcts.ActionType, fn func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		// The limiter refuses early when the next token lands after the
		// deadline, before ctx itself has expired.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return classify(ctx, kind, action, fmt.Errorf("rate limit: %w", err))
	}

	cctx := ctx
	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	err := c.breakers[oracle].Execute(cctx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return mcts.NewActionError(kind, action, fmt.Errorf("%s oracle: %w", oracle, err))
	}
	return classify(cctx, kind, action, err)
}

// classify maps a step error to an *mcts.ActionError.
func classify(ctx context.Context, kind mcts.FailureKind, action mcts.ActionType, err error) error {
	var ae *mcts.ActionError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return mcts.NewActionError(mcts.FailureTimeout, action, err)
	}
	return mcts.NewActionError(kind, action, err)
}

func checkIdea(art *mcts.Artifact, action mcts.ActionType) error {
	if art == nil || strings.TrimSpace(art.Text) == "" {
		return mcts.NewActionError(mcts.FailureRefine, action, ErrEmptyIdea)
	}
	return nil
}

var _ mcts.ActionCatalog = (*Catalog)(nil)
