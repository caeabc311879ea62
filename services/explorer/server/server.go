// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes exploration sessions over HTTP and websockets.
//
// Each session owns an independent explorer. Commands are plain JSON
// endpoints under /v1/sessions; events are pushed over a websocket at
// /v1/sessions/:id/events. Service metrics are served on /metrics.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/observability"
)

// Options configures a Server.
type Options struct {
	// ServiceName names the otelgin spans.
	ServiceName string

	// Gatherer backs /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// EventBuffer sizes each websocket subscription. Values < 1 use the
	// explorer's configured buffer.
	EventBuffer int

	Logger *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	sessions *Manager
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	opts     Options
	logger   *slog.Logger
}

// New creates a Server over sessions.
func New(sessions *Manager, metrics *observability.Metrics, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "ideaforge"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions: sessions,
		metrics:  metrics,
		gatherer: opts.Gatherer,
		opts:     opts,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.opts.ServiceName))
	router.Use(s.httpMetrics())
	s.SetupRoutes(router)
	return router
}

// SetupRoutes registers the API on router.
func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", s.createSession)
			sessions.GET("", s.listSessions)
			sessions.GET("/:id", s.getSession)
			sessions.DELETE("/:id", s.deleteSession)
			sessions.GET("/:id/tree", s.getTree)
			sessions.POST("/:id/start", s.startSession)
			sessions.POST("/:id/stop", s.stopSession)
			sessions.POST("/:id/select", s.selectNode)
			sessions.POST("/:id/reset", s.resetSession)
			sessions.GET("/:id/best", s.getBest)
			sessions.GET("/:id/events", s.streamEvents)
		}
	}
}

// httpMetrics records every request under its route template.
func (s *Server) httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.metrics.RecordHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}
