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
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

const (
	// heartbeatInterval keeps idle connections alive behind proxies.
	heartbeatInterval = 15 * time.Second

	// readWait must exceed heartbeatInterval so a live client's pong always
	// arrives in time.
	readWait = 45 * time.Second

	writeWait = 10 * time.Second

	maxClientMessage = 4096
)

// Client command and server message types on the events socket.
const (
	CommandStop = "stop"

	MessageStatus = "status"
	MessageAck    = "ack"
	MessageError  = "command_error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  maxClientMessage,
	WriteBufferSize: 64 * 1024,
}

// eventMessage is an explorer event tagged with its session.
type eventMessage struct {
	SessionID string `json:"session_id"`
	mcts.Event
}

// statusMessage is sent once when a client connects.
type statusMessage struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id"`
	Status    mcts.Status        `json:"status"`
	Tree      *mcts.SnapshotNode `json:"tree,omitempty"`
}

// commandMessage is sent by clients.
type commandMessage struct {
	Type string `json:"type"`
}

// replyMessage answers a client command.
type replyMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	Error     string `json:"error,omitempty"`
}

// streamEvents upgrades to a websocket and forwards the session's events
// until the client disconnects. Clients may send {"type":"stop"}.
func (s *Server) streamEvents(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	logger := s.logger.With(slog.String("session_id", sess.ID))
	logger.Info("Websocket client connected")
	s.metrics.WebsocketClients.Inc()
	defer s.metrics.WebsocketClients.Dec()
	defer sess.syncDropped()

	events, cancel := sess.Explorer().Subscribe(s.opts.EventBuffer)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	replies := make(chan replyMessage, 4)
	disconnected := make(chan struct{})
	go s.readCommands(ws, sess, replies, done, disconnected, logger)

	tree := sess.Explorer().Tree()
	if err := writeJSON(ws, statusMessage{
		Type:      MessageStatus,
		SessionID: sess.ID,
		Status:    sess.Explorer().Status(),
		Tree:      tree.Snapshot(),
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(ws, eventMessage{SessionID: sess.ID, Event: ev}); err != nil {
				logger.Warn("Failed to write explorer event", slog.String("error", err.Error()))
				return
			}

		case reply := <-replies:
			if err := writeJSON(ws, reply); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-disconnected:
			logger.Info("Websocket client disconnected")
			return
		}
	}
}

// readCommands reads client commands until the socket fails or done closes.
func (s *Server) readCommands(ws *websocket.Conn, sess *Session, replies chan<- replyMessage, done <-chan struct{}, disconnected chan<- struct{}, logger *slog.Logger) {
	defer close(disconnected)

	ws.SetReadLimit(maxClientMessage)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		var cmd commandMessage
		reply := replyMessage{Type: MessageAck, SessionID: sess.ID}
		if err := json.Unmarshal(data, &cmd); err != nil {
			reply.Type = MessageError
			reply.Error = "malformed command"
		} else {
			reply.Command = cmd.Type
			switch cmd.Type {
			case CommandStop:
				if err := sess.Explorer().Stop(); err != nil {
					reply.Type = MessageError
					reply.Error = err.Error()
				}
			default:
				reply.Type = MessageError
				reply.Error = "unknown command"
			}
		}
		logger.Debug("Websocket command",
			slog.String("command", cmd.Type),
			slog.String("result", reply.Type))

		select {
		case replies <- reply:
		case <-done:
			return
		}
	}
}

func writeJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}
