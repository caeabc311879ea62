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
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies an explorer event.
type EventType string

const (
	// EventSeeded is emitted once when an empty tree gets its root.
	EventSeeded EventType = "seeded"

	// EventProgress is emitted after every successful iteration.
	EventProgress EventType = "progress"

	// EventComplete is emitted when a run terminates normally.
	EventComplete EventType = "complete"

	// EventError is emitted when an action fails and the run aborts.
	EventError EventType = "error"
)

// IsTerminal reports whether the event ends a run.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// Event is pushed to subscribers while the explorer runs.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Progress fields
	Iteration int           `json:"iteration"`
	Node      *Node         `json:"node,omitempty"`
	Action    ActionType    `json:"action,omitempty"`
	Reward    float64       `json:"reward,omitempty"`
	Credits   []Credit      `json:"credits,omitempty"`
	Tree      *SnapshotNode `json:"tree,omitempty"`

	// Complete fields
	Best       *Node    `json:"best,omitempty"`
	BestScore  *float64 `json:"best_score,omitempty"`
	StopReason string   `json:"stop_reason,omitempty"`

	// Error fields
	Kind  FailureKind `json:"kind,omitempty"`
	Error string      `json:"error,omitempty"`
}

// terminalSendTimeout bounds how long a slow subscriber can hold up a
// terminal event.
const terminalSendTimeout = 5 * time.Second

// eventBus fans events out to subscribers.
//
// Progress events are dropped for subscribers whose buffer is full;
// terminal events wait up to terminalSendTimeout. Hooks and sends run
// outside the bus lock, so a stalled subscriber never blocks subscribe or
// cancel.
type eventBus struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	next    int
	hooks   []func(Event)
	logger  *slog.Logger
	dropped atomic.Int64
}

// subscriber owns one channel. sendMu orders sends against close, and quit
// releases a blocked send when the subscriber cancels.
type subscriber struct {
	id     int
	ch     chan Event
	quit   chan struct{}
	sendMu sync.Mutex
}

// send delivers ev, waiting up to wait when wait > 0. It reports false only
// when the event was dropped; a canceled subscriber is not a drop.
func (s *subscriber) send(ev Event, wait time.Duration) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.quit:
		return true
	default:
	}

	if wait <= 0 {
		select {
		case s.ch <- ev:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-s.quit:
		return true
	case <-timer.C:
		return false
	}
}

func newEventBus(logger *slog.Logger) *eventBus {
	return &eventBus{
		subs:   make(map[int]*subscriber),
		logger: logger,
	}
}

// subscribe registers a subscriber and returns its channel and cancel func.
func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{
		ch:   make(chan Event, buffer),
		quit: make(chan struct{}),
	}

	b.mu.Lock()
	sub.id = b.next
	b.next++
	b.subs[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()

			close(sub.quit)
			sub.sendMu.Lock()
			close(sub.ch)
			sub.sendMu.Unlock()
		})
	}
	return sub.ch, cancel
}

func (b *eventBus) addHook(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, fn)
}

// publish runs the hooks, then delivers ev to every current subscriber.
// Callers publish from a single goroutine, so events keep their order.
func (b *eventBus) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	hooks := slices.Clone(b.hooks)
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, hook := range hooks {
		hook(ev)
	}

	var wait time.Duration
	if ev.Type.IsTerminal() {
		wait = terminalSendTimeout
	}
	for _, sub := range subs {
		if sub.send(ev, wait) {
			continue
		}
		b.dropped.Add(1)
		if wait > 0 {
			b.logger.Error("Timed out delivering terminal explorer event",
				slog.Int("subscriber", sub.id),
				slog.String("type", string(ev.Type)))
			continue
		}
		b.logger.Warn("Dropped explorer event for slow subscriber",
			slog.Int("subscriber", sub.id),
			slog.String("type", string(ev.Type)),
			slog.Int("iteration", ev.Iteration))
	}
}

// droppedCount returns how many events were not delivered.
func (b *eventBus) droppedCount() int64 {
	return b.dropped.Load()
}
