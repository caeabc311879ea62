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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced manually.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("test", cfg, nil)
	cb.now = clock.now
	cb.lastStateChange = clock.now()
	return cb, clock
}

var errBoom = errors.New("boom")

func failCall(context.Context) error { return errBoom }
func okCall(context.Context) error   { return nil }

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("idea", BreakerConfig{}, nil)
	assert.Equal(t, DefaultBreakerConfig(), cb.config)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(DefaultBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Equal(t, CircuitClosed, cb.State(), "before failure %d", i)
		assert.ErrorIs(t, cb.Execute(ctx, failCall), errBoom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Stats().TotalRejections)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(DefaultBreakerConfig())
	ctx := context.Background()

	_ = cb.Execute(ctx, failCall)
	_ = cb.Execute(ctx, failCall)
	require.NoError(t, cb.Execute(ctx, okCall))
	_ = cb.Execute(ctx, failCall)
	_ = cb.Execute(ctx, failCall)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNotFailure(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1})
	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := DefaultBreakerConfig()
	ctx := context.Background()

	t.Run("closes after success threshold", func(t *testing.T) {
		cb, clock := newTestBreaker(cfg)
		for i := 0; i < cfg.FailureThreshold; i++ {
			_ = cb.Execute(ctx, failCall)
		}
		require.Equal(t, CircuitOpen, cb.State())

		clock.advance(cfg.OpenDuration - time.Second)
		assert.ErrorIs(t, cb.Execute(ctx, okCall), ErrCircuitOpen)

		clock.advance(time.Second)
		require.NoError(t, cb.Execute(ctx, okCall))
		assert.Equal(t, CircuitHalfOpen, cb.State())
		require.NoError(t, cb.Execute(ctx, okCall))
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("trial failure reopens", func(t *testing.T) {
		cb, clock := newTestBreaker(cfg)
		for i := 0; i < cfg.FailureThreshold; i++ {
			_ = cb.Execute(ctx, failCall)
		}
		clock.advance(cfg.OpenDuration)
		assert.ErrorIs(t, cb.Execute(ctx, failCall), errBoom)
		assert.Equal(t, CircuitOpen, cb.State())
	})

	t.Run("limits concurrent trials", func(t *testing.T) {
		cb, clock := newTestBreaker(cfg)
		for i := 0; i < cfg.FailureThreshold; i++ {
			_ = cb.Execute(ctx, failCall)
		}
		clock.advance(cfg.OpenDuration)

		err := cb.Execute(ctx, func(ctx context.Context) error {
			// A second call while the only trial is in flight is rejected.
			assert.ErrorIs(t, cb.Execute(ctx, okCall), ErrCircuitOpen)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), failCall)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	stats := cb.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, 0, stats.CurrentFailures)
	assert.Equal(t, int64(1), stats.TotalFailures)
}
