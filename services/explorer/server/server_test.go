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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedCatalog returns artifacts with increasing scores. When gate is
// set every call waits for it.
type scriptedCatalog struct {
	gate  chan struct{}
	calls atomic.Int32
}

func (c *scriptedCatalog) Execute(ctx context.Context, req mcts.ActionRequest) (*mcts.Artifact, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := c.calls.Add(1)
	score := float64(4 + n)
	return &mcts.Artifact{
		Title:        fmt.Sprintf("Idea %d", n),
		Text:         fmt.Sprintf("Idea %d for %s", n, req.Goal),
		ReviewScores: map[string]float64{mcts.AspectNovelty: score},
		AverageScore: &score,
	}, nil
}

type testEnv struct {
	server   *Server
	manager  *Manager
	metrics  *observability.Metrics
	registry *prometheus.Registry
	router   *gin.Engine
}

func newTestEnv(t *testing.T, cat mcts.ActionCatalog, maxSessions int) *testEnv {
	t.Helper()
	cfg := mcts.DefaultExplorerConfig()
	cfg.TracingEnabled = false

	factory := func(opts ...mcts.ExplorerOption) (*Engine, error) {
		ex, err := mcts.NewExplorer(cat, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return &Engine{Explorer: ex}, nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	manager := NewManager(factory, metrics, nil, maxSessions)
	srv := New(manager, metrics, Options{ServiceName: "ideaforge-test", Gatherer: reg})
	t.Cleanup(func() { manager.Close(context.Background()) })

	return &testEnv{
		server:   srv,
		manager:  manager,
		metrics:  metrics,
		registry: reg,
		router:   srv.Router(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T, goal string) SessionInfo {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/sessions", gin.H{"goal": goal})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var info SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	return info
}

func (e *testEnv) wait(t *testing.T, id string) {
	t.Helper()
	sess, err := e.manager.Get(id)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Explorer().Wait(ctx))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)

	want := []string{
		"GET /health",
		"GET /metrics",
		"POST /v1/sessions",
		"GET /v1/sessions",
		"GET /v1/sessions/:id",
		"DELETE /v1/sessions/:id",
		"GET /v1/sessions/:id/tree",
		"POST /v1/sessions/:id/start",
		"POST /v1/sessions/:id/stop",
		"POST /v1/sessions/:id/select",
		"POST /v1/sessions/:id/reset",
		"GET /v1/sessions/:id/best",
		"GET /v1/sessions/:id/events",
	}
	got := make(map[string]bool)
	for _, r := range env.router.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, route := range want {
		assert.True(t, got[route], "missing route %s", route)
	}
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)

	info := env.createSession(t, "reduce hallucination in summarization")
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, mcts.StateIdle, info.Status.State)
	assert.Equal(t, "reduce hallucination in summarization", info.Status.Goal)
	assert.Zero(t, info.Status.Nodes)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Sessions))

	w := env.do(t, http.MethodPost, "/v1/sessions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/v1/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sessions []SessionInfo `json:"sessions"`
	}](t, w)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, info.ID, list.Sessions[0].ID)
}

func TestCreateSession_MaxSessions(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 1)
	env.createSession(t, "first")

	w := env.do(t, http.MethodPost, "/v1/sessions", gin.H{"goal": "second"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/sessions/nope"},
		{http.MethodGet, "/v1/sessions/nope/tree"},
		{http.MethodPost, "/v1/sessions/nope/start"},
		{http.MethodPost, "/v1/sessions/nope/stop"},
		{http.MethodGet, "/v1/sessions/nope/best"},
		{http.MethodGet, "/v1/sessions/nope/events"},
		{http.MethodDelete, "/v1/sessions/nope"},
	} {
		w := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)
	info := env.createSession(t, "sparse attention for long documents")
	base := "/v1/sessions/" + info.ID

	w := env.do(t, http.MethodPost, base+"/start", gin.H{"max_iterations": 2})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	env.wait(t, info.ID)

	w = env.do(t, http.MethodGet, base+"/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tree := decode[treeResponse](t, w)
	assert.Equal(t, mcts.StateCompleted, tree.Status.State)
	assert.Equal(t, 3, tree.Status.Nodes, "root plus two iterations")
	require.NotNil(t, tree.Tree)
	assert.Equal(t, 3, tree.Tree.Count())

	w = env.do(t, http.MethodGet, base+"/tree?format=text", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "└──")

	w = env.do(t, http.MethodGet, base+"/best", nil)
	require.Equal(t, http.StatusOK, w.Code)
	best := decode[struct {
		SessionID string  `json:"session_id"`
		Value     float64 `json:"value"`
		Metric    string  `json:"metric"`
	}](t, w)
	assert.Equal(t, info.ID, best.SessionID)
	assert.Equal(t, 7.0, best.Value)
	assert.Equal(t, "average_score", best.Metric)

	w = env.do(t, http.MethodGet, base+"/best?metric=reward", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, base+"/best?metric=vibes", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, base+"/best?root=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Completed sessions need a reset before another run.
	w = env.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	reset := decode[SessionInfo](t, w)
	assert.Equal(t, mcts.StateIdle, reset.Status.State)
	assert.Zero(t, reset.Status.Nodes)

	w = env.do(t, http.MethodGet, base+"/best", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The complete event is published just after waiters are released.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.metrics.EventsTotal.WithLabelValues("complete")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.ActiveExplorations))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EventsTotal.WithLabelValues("seeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.EventsTotal.WithLabelValues("progress")))
}

func TestStartValidation(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)
	info := env.createSession(t, "goal")
	base := "/v1/sessions/" + info.ID

	w := env.do(t, http.MethodPost, base+"/start", gin.H{"discount_factor": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base+"/start", gin.H{"discount_factor": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code, "explicit zero is not replaced by the default")

	w = env.do(t, http.MethodPost, base+"/start", gin.H{"exploration_constant": 0, "max_iterations": 1})
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	env.wait(t, info.ID)

	req := httptest.NewRequest(http.MethodPost, base+"/start", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandsWhileRunning(t *testing.T) {
	cat := &scriptedCatalog{gate: make(chan struct{})}
	env := newTestEnv(t, cat, 0)
	info := env.createSession(t, "goal")
	base := "/v1/sessions/" + info.ID

	w := env.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ActiveExplorations))

	w = env.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, base+"/select", gin.H{"node_id": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, base+"/reset", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, base+"/stop", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	close(cat.gate)
	env.wait(t, info.ID)

	w = env.do(t, http.MethodGet, base, nil)
	done := decode[SessionInfo](t, w)
	assert.Equal(t, mcts.StateCompleted, done.Status.State)
	assert.Equal(t, 1, done.Status.Nodes, "stop is honored after the seed")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.metrics.ActiveExplorations) == 0
	}, 2*time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodPost, base+"/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSelectNode(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)
	info := env.createSession(t, "goal")
	base := "/v1/sessions/" + info.ID

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, base+"/start", gin.H{"max_iterations": 1}).Code)
	env.wait(t, info.ID)

	sess, err := env.manager.Get(info.ID)
	require.NoError(t, err)
	root := sess.Explorer().Tree().Root()
	require.NotNil(t, root)

	w := env.do(t, http.MethodPost, base+"/select", gin.H{"node_id": root.ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, root.ID, decode[SessionInfo](t, w).Status.CurrentID)
	assert.Equal(t, int64(1), root.Visits(), "selection leaves statistics alone")

	w = env.do(t, http.MethodPost, base+"/select", gin.H{"node_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, base+"/select", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)
	info := env.createSession(t, "goal")

	w := env.do(t, http.MethodDelete, "/v1/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.Sessions))

	w = env.do(t, http.MethodGet, "/v1/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)
	env.createSession(t, "goal")

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 1.0, health["sessions"])

	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "ideaforge_http_requests_total")
	assert.Contains(t, body, `route="/v1/sessions"`)
	assert.Contains(t, body, "ideaforge_sessions")
}

// wsMessage is the union of messages on the events socket.
type wsMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Command    string `json:"command"`
	Error      string `json:"error"`
	Iteration  int    `json:"iteration"`
	StopReason string `json:"stop_reason"`
}

func dialEvents(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t, &scriptedCatalog{}, 0)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	info := env.createSession(t, "goal")
	conn := dialEvents(t, ts, info.ID)

	hello := readMessage(t, conn)
	assert.Equal(t, MessageStatus, hello.Type)
	assert.Equal(t, info.ID, hello.SessionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.WebsocketClients))

	w := env.do(t, http.MethodPost, "/v1/sessions/"+info.ID+"/start", gin.H{"max_iterations": 2})
	require.Equal(t, http.StatusAccepted, w.Code)

	var types []string
	for {
		msg := readMessage(t, conn)
		assert.Equal(t, info.ID, msg.SessionID)
		types = append(types, msg.Type)
		if msg.Type == string(mcts.EventComplete) {
			assert.Equal(t, mcts.StopMaxIterations, msg.StopReason)
			break
		}
		require.Less(t, len(types), 10, "no complete event: %v", types)
	}
	assert.Equal(t, []string{"seeded", "progress", "progress", "complete"}, types)

	require.NoError(t, conn.WriteJSON(commandMessage{Type: CommandStop}))
	reply := readMessage(t, conn)
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, CommandStop, reply.Command)
	assert.Contains(t, reply.Error, "not_running")

	require.NoError(t, conn.WriteJSON(commandMessage{Type: "dance"}))
	reply = readMessage(t, conn)
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, "unknown command", reply.Error)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.metrics.WebsocketClients) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventsWebsocket_StopCommand(t *testing.T) {
	cat := &scriptedCatalog{gate: make(chan struct{})}
	env := newTestEnv(t, cat, 0)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	info := env.createSession(t, "goal")
	conn := dialEvents(t, ts, info.ID)
	require.Equal(t, MessageStatus, readMessage(t, conn).Type)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/sessions/"+info.ID+"/start", nil).Code)
	require.NoError(t, conn.WriteJSON(commandMessage{Type: CommandStop}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageAck, ack.Type)
	assert.Equal(t, CommandStop, ack.Command)

	close(cat.gate)
	var last wsMessage
	for last.Type != string(mcts.EventComplete) {
		last = readMessage(t, conn)
	}
	assert.Equal(t, mcts.StopRequested, last.StopReason)
}
