package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"emberchat/internal/constants"
	"emberchat/internal/models"
	"emberchat/internal/validation"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 10 * time.Second

// wsHandle is the presence handle for one WebSocket connection. Its id makes
// the registry's same-handle disconnect check work across reconnects.
type wsHandle struct {
	id   string
	conn *websocket.Conn
}

func (h *wsHandle) ID() string {
	return h.id
}

// handleWebSocket attaches a client: register presence, subscribe to the
// user's event subject, then hold the connection open until it drops. All
// pushes flow from the bus subscription; inbound frames are drained and
// ignored (clients talk to the REST API, not the socket).
func (s *Server) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		origin := r.URL.Query().Get("origin")
		if origin == "" {
			origin = constants.DefaultOriginTag
		}

		if err := validation.ValidateUserID(userID); err != nil {
			http.Error(w, "invalid userId", http.StatusBadRequest)
			return
		}
		if err := validation.ValidateOriginTag(origin); err != nil {
			http.Error(w, "invalid origin", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Debug("WebSocket upgrade failed")
			return
		}

		handle := &wsHandle{id: uuid.NewString(), conn: conn}
		connLogger := s.logger.WithFields(logrus.Fields{"conn": handle.id, "origin": origin})

		sub, err := s.bus.SubscribeUser(userID, func(event models.Event) {
			writeCtx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			defer cancel()

			data, err := json.Marshal(event)
			if err != nil {
				connLogger.WithError(err).Error("Failed to marshal event for socket")
				return
			}
			if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
				connLogger.WithError(err).Debug("Failed to write event to socket")
			}
		})
		if err != nil {
			connLogger.WithError(err).Error("Failed to subscribe connection to event bus")
			_ = conn.Close(websocket.StatusInternalError, "subscription failed")
			return
		}

		s.registry.Register(userID, handle, origin)
		connLogger.Info("Client connected")

		defer func() {
			s.registry.Unregister(userID, handle)
			if err := sub.Unsubscribe(); err != nil {
				connLogger.WithError(err).Debug("Failed to unsubscribe from event bus")
			}
			_ = conn.CloseNow()
			connLogger.Info("Client disconnected")
		}()

		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}
}
