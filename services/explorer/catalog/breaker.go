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
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the breaker state.
type CircuitState int

const (
	// CircuitClosed lets oracle calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects oracle calls until OpenDuration elapses.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of trial calls through.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening (default: 3).
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold is trial successes needed to close (default: 2).
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`

	// OpenDuration is how long to reject before probing (default: 30s).
	OpenDuration time.Duration `json:"open_duration" yaml:"open_duration"`

	// HalfOpenMax is concurrent trials allowed while half-open (default: 1).
	HalfOpenMax int `json:"half_open_max" yaml:"half_open_max"`
}

// DefaultBreakerConfig returns the default breaker thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		HalfOpenMax:      1,
	}
}

// BreakerStats is a snapshot of breaker counters.
type BreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	CurrentFailures int       `json:"current_failures"`
	LastStateChange time.Time `json:"last_state_change"`
}

// CircuitBreaker guards one oracle.
//
// After FailureThreshold consecutive failures the breaker opens and rejects
// calls with ErrCircuitOpen. Once OpenDuration has passed it lets HalfOpenMax
// trial calls through; SuccessThreshold trial successes close it again and any
// trial failure reopens it. Caller cancellation is not counted as a failure.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	halfOpenActive  int
	lastStateChange time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewCircuitBreaker creates a closed breaker.
//
// Inputs:
//   - name: Oracle name used in logs and stats.
//   - config: Thresholds. Zero fields use the defaults.
//   - logger: State transition logger. Nil uses slog.Default().
//
// Outputs:
//   - *CircuitBreaker: The breaker.
func NewCircuitBreaker(name string, config BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = def.OpenDuration
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
		state:  CircuitClosed,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow reports whether a call may proceed and returns a release func for
// half-open trials.
func (cb *CircuitBreaker) allow() (bool, func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.config.OpenDuration {
			cb.transitionTo(CircuitHalfOpen)
			return cb.tryHalfOpen()
		}
		cb.totalRejections++
		return false, nil
	case CircuitHalfOpen:
		return cb.tryHalfOpen()
	}
	return false, nil
}

// tryHalfOpen must be called with mu held.
func (cb *CircuitBreaker) tryHalfOpen() (bool, func()) {
	if cb.halfOpenActive >= cb.config.HalfOpenMax {
		cb.totalRejections++
		return false, nil
	}
	cb.halfOpenActive++
	return true, func() {
		cb.mu.Lock()
		cb.halfOpenActive--
		cb.mu.Unlock()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	prev := cb.state
	cb.state = next
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0

	cb.logger.Warn("Oracle circuit breaker state changed",
		slog.String("oracle", cb.name),
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
}

// Execute runs fn under breaker protection.
//
// Outputs:
//   - error: ErrCircuitOpen if rejected, otherwise the error from fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	allowed, release := cb.allow()
	if !allowed {
		return ErrCircuitOpen
	}
	if release != nil {
		defer release()
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case errors.Is(err, context.Canceled):
	default:
		cb.recordFailure()
	}
	return err
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		Name:            cb.name,
		State:           cb.state.String(),
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
		CurrentFailures: cb.failures,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenActive = 0
	cb.lastStateChange = cb.now()
}
