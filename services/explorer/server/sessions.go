// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/observability"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/reviewcache"
)

// closeWait bounds how long deleting a session waits for its run to stop.
// Stop is honored between iterations, so a slow action can outlast it.
const closeWait = 10 * time.Second

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when MaxSessions is reached.
	ErrTooManySessions = errors.New("too many open sessions")
)

// Engine is everything one session runs on. Catalog and Cache are optional;
// when set they feed breaker and cache metrics and are reset or closed with
// the session.
type Engine struct {
	Explorer *mcts.Explorer
	Catalog  *catalog.Catalog
	Cache    *reviewcache.Cache
}

// EngineFactory builds the engine for a new session. The options carry the
// session's goal, logger and metrics hook and must be passed to
// mcts.NewExplorer.
type EngineFactory func(opts ...mcts.ExplorerOption) (*Engine, error)

// Session is one independent exploration.
type Session struct {
	ID        string
	CreatedAt time.Time

	engine  *Engine
	metrics *observability.Metrics
	logger  *slog.Logger

	mu          sync.Mutex
	running     bool
	cacheHits   int64
	cacheMisses int64
	droppedSeen int64
}

// SessionInfo is the JSON view of a session.
type SessionInfo struct {
	ID        string      `json:"session_id"`
	CreatedAt time.Time   `json:"created_at"`
	Status    mcts.Status `json:"status"`
}

// Explorer returns the session's explorer.
func (s *Session) Explorer() *mcts.Explorer {
	return s.engine.Explorer
}

// Info returns the session's JSON view.
func (s *Session) Info() SessionInfo {
	return SessionInfo{ID: s.ID, CreatedAt: s.CreatedAt, Status: s.engine.Explorer.Status()}
}

// Start begins a background run and tracks it in the active gauge.
func (s *Session) Start(ctx context.Context, params mcts.RunParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Explorer.Start(ctx, params); err != nil {
		return err
	}
	if !s.running {
		s.running = true
		s.metrics.ExplorationStarted()
	}
	return nil
}

// Reset discards the tree and the review memo.
func (s *Session) Reset() error {
	if err := s.engine.Explorer.Reset(); err != nil {
		return err
	}
	if s.engine.Cache != nil {
		if err := s.engine.Cache.Clear(); err != nil {
			s.logger.Warn("Failed to clear review cache", slog.String("error", err.Error()))
		}
	}
	return nil
}

// observe is the explorer event hook. It runs on the explorer's loop
// goroutine and must not call back into the explorer.
func (s *Session) observe(ev mcts.Event) {
	s.metrics.RecordEvent(ev.Type)
	if s.engine == nil {
		return
	}
	if s.engine.Catalog != nil {
		s.metrics.RecordBreakers(s.engine.Catalog.BreakerStats())
	}
	if !ev.Type.IsTerminal() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		s.metrics.ExplorationEnded()
	}
	if s.engine.Cache != nil {
		st := s.engine.Cache.Stats()
		s.metrics.RecordReviewCache(st.Hits-s.cacheHits, st.Misses-s.cacheMisses)
		s.cacheHits, s.cacheMisses = st.Hits, st.Misses
	}
}

// syncDropped publishes dropped events not yet counted.
func (s *Session) syncDropped() {
	dropped := s.engine.Explorer.Status().DroppedEvents
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.RecordDropped(int(dropped - s.droppedSeen))
	s.droppedSeen = dropped
}

// close stops any active run and releases the engine.
func (s *Session) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, closeWait)
	defer cancel()

	ex := s.engine.Explorer
	if err := ex.Stop(); err == nil {
		if err := ex.Wait(ctx); err != nil {
			s.logger.Warn("Session run did not stop before close", slog.String("error", err.Error()))
		}
	}
	s.syncDropped()

	s.mu.Lock()
	if s.running {
		s.running = false
		s.metrics.ExplorationEnded()
	}
	s.mu.Unlock()

	if s.engine.Cache != nil {
		if err := s.engine.Cache.Close(); err != nil {
			s.logger.Warn("Failed to close review cache", slog.String("error", err.Error()))
		}
	}
}

// Manager owns the open sessions.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	factory     EngineFactory
	metrics     *observability.Metrics
	logger      *slog.Logger
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. maxSessions <= 0 is unlimited.
func NewManager(factory EngineFactory, metrics *observability.Metrics, logger *slog.Logger, maxSessions int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory:     factory,
		metrics:     metrics,
		logger:      logger,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Create opens a session for goal.
func (m *Manager) Create(goal string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.New().String()
	s := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		metrics:   m.metrics,
		logger:    m.logger.With(slog.String("session_id", id)),
	}
	engine, err := m.factory(
		mcts.WithGoal(goal),
		mcts.WithLogger(s.logger),
		mcts.WithEventHook(s.observe),
	)
	if err != nil {
		return nil, fmt.Errorf("build session engine: %w", err)
	}
	if engine == nil || engine.Explorer == nil {
		return nil, fmt.Errorf("build session engine: %w", mcts.ErrInvalidCatalog)
	}
	s.engine = engine

	m.sessions[id] = s
	m.metrics.Sessions.Set(float64(len(m.sessions)))
	s.logger.Info("Session created")
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete stops and removes the session with id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.metrics.Sessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close(ctx)
	s.logger.Info("Session deleted")
	return nil
}

// Close removes every session.
func (m *Manager) Close(ctx context.Context) {
	for _, s := range m.List() {
		_ = m.Delete(ctx, s.ID)
	}
}
