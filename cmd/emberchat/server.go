package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"emberchat/internal/bus"
	apperrors "emberchat/internal/errors"
	"emberchat/internal/metrics"
	"emberchat/internal/middleware"
	"emberchat/internal/models"
	"emberchat/internal/presence"
	"emberchat/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// userIDHeader carries the authenticated requester identity. Authentication
// itself happens in a layer in front of this service.
const userIDHeader = "X-User-ID"

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	chat     *service.ChatService
	registry *presence.Registry
	bus      *bus.Bus
	cfg      models.ServerConfig
	server   *http.Server
}

func NewServer(cfg models.ServerConfig, chat *service.ChatService, registry *presence.Registry, eventBus *bus.Bus, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		chat:     chat,
		registry: registry,
		bus:      eventBus,
		cfg:      cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/messages/{audienceId}", s.handleSubmit()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{chatId}", s.handleHistory()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{messageId}/delete", s.handleDelete()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{chatId}/viewed", s.handleViewed()).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, metrics.GetRegistry().Snapshot())
	}
}

type submitBody struct {
	Text              string     `json:"text"`
	Image             string     `json:"image"`
	IsGroup           bool       `json:"isGroup"`
	ScheduledSendTime *time.Time `json:"scheduledSendTime"`
	IsEphemeral       bool       `json:"isEphemeral"`
	EphemeralDuration int        `json:"ephemeralDuration"`
}

func (s *Server) handleSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senderID := r.Header.Get(userIDHeader)

		var body submitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, apperrors.Validation("invalid request body"))
			return
		}

		result, err := s.chat.SubmitMessage(r.Context(), service.SubmitRequest{
			SenderID:          senderID,
			AudienceID:        mux.Vars(r)["audienceId"],
			IsGroup:           body.IsGroup,
			Text:              body.Text,
			Image:             body.Image,
			ScheduledSendTime: body.ScheduledSendTime,
			IsEphemeral:       body.IsEphemeral,
			EphemeralDuration: body.EphemeralDuration,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		status := http.StatusCreated
		if result.Status == models.StatusScheduled {
			status = http.StatusAccepted
		}
		s.writeJSON(w, status, result)
	}
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requesterID := r.Header.Get(userIDHeader)
		isGroup := r.URL.Query().Get("group") == "true"

		messages, err := s.chat.GetHistory(r.Context(), requesterID, mux.Vars(r)["chatId"], isGroup)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, messages)
	}
}

type deleteBody struct {
	DeleteType models.DeleteMode `json:"deleteType"`
}

func (s *Server) handleDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requesterID := r.Header.Get(userIDHeader)

		var body deleteBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, apperrors.Validation("invalid request body"))
			return
		}

		info, err := s.chat.RequestDelete(r.Context(), mux.Vars(r)["messageId"], requesterID, body.DeleteType)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) handleViewed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID := r.Header.Get(userIDHeader)
		isGroup := r.URL.Query().Get("group") == "true"

		s.chat.ViewedSignal(r.Context(), viewerID, mux.Vars(r)["chatId"], isGroup)
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": apperrors.GetUserMessage(err)})
}
