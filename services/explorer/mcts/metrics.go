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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("ideaforge.explorer")

// Metrics for explorer runs.
var (
	iterationsTotal metric.Int64Counter
	nodesCreated    metric.Int64Counter
	actionDuration  metric.Float64Histogram
	actionFailures  metric.Int64Counter
	rewardHistogram metric.Float64Histogram
	runsTotal       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		iterationsTotal, err = meter.Int64Counter(
			"explorer_iterations_total",
			metric.WithDescription("Total completed exploration iterations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Counter(
			"explorer_nodes_created_total",
			metric.WithDescription("Total nodes added to exploration trees"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		actionDuration, err = meter.Float64Histogram(
			"explorer_action_duration_seconds",
			metric.WithDescription("Duration of action executions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		actionFailures, err = meter.Int64Counter(
			"explorer_action_failures_total",
			metric.WithDescription("Action failures by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rewardHistogram, err = meter.Float64Histogram(
			"explorer_reward",
			metric.WithDescription("Reward of newly expanded nodes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runsTotal, err = meter.Int64Counter(
			"explorer_runs_total",
			metric.WithDescription("Finished runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordAction records the duration and outcome of an action.
func recordAction(ctx context.Context, action ActionType, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", string(action)))
	actionDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		kind, _ := FailureKindOf(err)
		actionFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(action)),
			attribute.String("kind", string(kind)),
		))
	}
}

// recordExpansion records a successful iteration.
func recordExpansion(ctx context.Context, action ActionType, reward float64) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", string(action)))
	iterationsTotal.Add(ctx, 1, attrs)
	nodesCreated.Add(ctx, 1, attrs)
	rewardHistogram.Record(ctx, reward, attrs)
}

// recordRun records a finished run.
func recordRun(ctx context.Context, outcome Outcome) {
	if initMetrics() != nil {
		return
	}
	runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
