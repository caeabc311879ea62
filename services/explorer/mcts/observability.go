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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const explorerTracerName = "ideaforge.explorer"

// Tracer provides OpenTelemetry tracing for explorer runs.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer bound to the global tracer provider.
//
// Inputs:
//   - logger: Logger for structured logging (can be nil for slog.Default).
//   - enabled: When false every span is a no-op.
//
// Outputs:
//   - *Tracer: Tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(explorerTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartRun starts a span for an entire run.
func (t *Tracer) StartRun(ctx context.Context, p RunParams) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "explorer.run",
		trace.WithAttributes(
			attribute.String("explorer.goal", truncateForObs(p.Goal, 100)),
			attribute.Int("explorer.max_iterations", p.MaxIterations),
			attribute.Int("explorer.max_depth", p.MaxDepth),
			attribute.Float64("explorer.exploration_constant", p.C()),
			attribute.Float64("explorer.discount_factor", p.Discount()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRun completes the run span.
func (t *Tracer) EndRun(span trace.Span, summary RunSummary, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("explorer.result.iterations", summary.Iterations),
		attribute.Int("explorer.result.nodes_added", summary.NodesAdded),
		attribute.String("explorer.result.outcome", string(summary.Outcome)),
		attribute.String("explorer.result.stop_reason", summary.StopReason),
	)
	span.End()
}

// StartIteration starts a span for one iteration.
func (t *Tracer) StartIteration(ctx context.Context, iteration int, current *Node) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "explorer.iteration",
		trace.WithAttributes(
			attribute.Int("explorer.iteration", iteration),
			attribute.String("explorer.current_node_id", current.ID),
			attribute.Int("explorer.current_depth", current.Depth),
			attribute.Int64("explorer.current_visits", current.Visits()),
		),
	)
}

// StartAction starts a span around an action execution.
func (t *Tracer) StartAction(ctx context.Context, action ActionType) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "explorer.action",
		trace.WithAttributes(
			attribute.String("explorer.action", string(action)),
		),
	)
}

// EndSpan completes a span, recording err if non-nil.
func (t *Tracer) EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind, ok := FailureKindOf(err); ok {
			span.SetAttributes(attribute.String("explorer.failure_kind", string(kind)))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	span.End()
}

// truncateForObs truncates a string for span attributes.
func truncateForObs(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return truncate(s, maxLen)
}
