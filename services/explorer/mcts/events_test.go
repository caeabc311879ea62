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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *eventBus {
	return newEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// returnsWithin runs fn and reports whether it finished before d.
func returnsWithin(d time.Duration, fn func()) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func TestEventBus_StalledTerminalSendDoesNotBlockSubscribers(t *testing.T) {
	bus := newTestBus()

	stalled, cancelStalled := bus.subscribe(1)
	bus.publish(Event{Type: EventProgress, Iteration: 1})

	published := make(chan struct{})
	go func() {
		bus.publish(Event{Type: EventComplete})
		close(published)
	}()
	time.Sleep(50 * time.Millisecond)

	require.True(t, returnsWithin(time.Second, func() {
		_, cancel := bus.subscribe(1)
		cancel()
	}), "subscribe and cancel must not wait on a stalled terminal send")

	select {
	case <-published:
		t.Fatal("terminal send returned while the subscriber buffer was still full")
	default:
	}

	require.True(t, returnsWithin(time.Second, cancelStalled),
		"cancel must release the stalled send")
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not return after the subscriber canceled")
	}

	var got []EventType
	for ev := range stalled {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []EventType{EventProgress}, got)
	assert.Zero(t, bus.droppedCount(), "a canceled subscriber is not a drop")
}

func TestEventBus_ProgressDroppedTerminalDelivered(t *testing.T) {
	bus := newTestBus()
	ch, cancel := bus.subscribe(1)
	defer cancel()

	bus.publish(Event{Type: EventProgress, Iteration: 1})
	bus.publish(Event{Type: EventProgress, Iteration: 2})
	assert.EqualValues(t, 1, bus.droppedCount())

	go bus.publish(Event{Type: EventComplete})

	first := <-ch
	assert.Equal(t, 1, first.Iteration)
	select {
	case ev := <-ch:
		assert.Equal(t, EventComplete, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("terminal event not delivered")
	}
}

func TestEventBus_CancelTwice(t *testing.T) {
	bus := newTestBus()
	ch, cancel := bus.subscribe(0)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	bus.publish(Event{Type: EventComplete})
	assert.Zero(t, bus.droppedCount())
}
