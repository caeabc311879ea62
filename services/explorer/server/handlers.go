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
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

type createSessionRequest struct {
	Goal string `json:"goal" binding:"required"`
}

type selectNodeRequest struct {
	NodeID string `json:"node_id" binding:"required"`
}

type treeResponse struct {
	SessionID string             `json:"session_id"`
	Status    mcts.Status        `json:"status"`
	Tree      *mcts.SnapshotNode `json:"tree"`
}

type bestResponse struct {
	SessionID string `json:"session_id"`
	mcts.BestResult
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, mcts.ErrNodeNotFound),
		errors.Is(err, mcts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, mcts.ErrAlreadyRunning),
		errors.Is(err, mcts.ErrSessionCompleted),
		errors.Is(err, mcts.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, mcts.ErrInvalidRunParams),
		errors.Is(err, mcts.ErrGoalRequiredToSeed),
		errors.Is(err, mcts.ErrInvalidMetric):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			slog.String("route", c.FullPath()),
			slog.String("error", err.Error()))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// session resolves the :id path parameter.
func (s *Server) session(c *gin.Context) (*Session, bool) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goal is required"})
		return
	}
	sess, err := s.sessions.Create(req.Goal)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Info())
}

func (s *Server) listSessions(c *gin.Context) {
	all := s.sessions.List()
	out := make([]SessionInfo, 0, len(all))
	for _, sess := range all {
		out = append(out, sess.Info())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// getTree returns the tree snapshot, or the ASCII rendering with
// ?format=text.
func (s *Server) getTree(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	tree := sess.Explorer().Tree()
	if c.Query("format") == "text" {
		c.String(http.StatusOK, tree.Format())
		return
	}
	c.JSON(http.StatusOK, treeResponse{
		SessionID: sess.ID,
		Status:    sess.Explorer().Status(),
		Tree:      tree.Snapshot(),
	})
}

// startSession begins a background run. The body is optional; zero
// fields take the configured defaults.
func (s *Server) startSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var params mcts.RunParams
	if err := c.ShouldBindJSON(&params); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := sess.Start(c.Request.Context(), params); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Info())
}

func (s *Server) stopSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.Explorer().Stop(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Info())
}

func (s *Server) selectNode(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req selectNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id is required"})
		return
	}
	if err := sess.Explorer().SelectNode(req.NodeID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

func (s *Server) resetSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// getBest answers ?metric=average_score|reward and optionally ?root=<id>.
func (s *Server) getBest(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	metric, err := mcts.ParseMetric(c.Query("metric"))
	if err != nil {
		s.fail(c, err)
		return
	}
	opts := []mcts.BestOption{mcts.WithMetric(metric)}
	if root := c.Query("root"); root != "" {
		opts = append(opts, mcts.WithRoot(root))
	}
	best, err := sess.Explorer().Best(opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bestResponse{SessionID: sess.ID, BestResult: best})
}
