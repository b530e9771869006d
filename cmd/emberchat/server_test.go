package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"emberchat/internal/database"
	"emberchat/internal/models"
	"emberchat/internal/presence"
	"emberchat/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBus struct {
	mu        sync.Mutex
	published map[string][]models.Event
}

func newStubBus() *stubBus {
	return &stubBus{published: make(map[string][]models.Event)}
}

func (s *stubBus) PublishEvent(ctx context.Context, userID string, event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[userID] = append(s.published[userID], event)
	return nil
}

type testEnv struct {
	server *Server
	db     *database.Database
	bus    *stubBus
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	eventBus := newStubBus()
	registry := presence.NewRegistry(nil, logger)
	dispatcher := service.NewDispatcher(db, registry, eventBus, logger)

	scheduler := service.NewScheduler(db, dispatcher, models.SchedulerConfig{}, logger)
	t.Cleanup(scheduler.Stop)
	engine := service.NewEphemeralEngine(db, dispatcher, logger)
	t.Cleanup(engine.Stop)

	chat := service.NewChatService(db, dispatcher, scheduler, engine, logger)
	server := NewServer(models.ServerConfig{Port: 0}, chat, registry, nil, logger)

	return &testEnv{server: server, db: db, bus: eventBus}
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	recorder := httptest.NewRecorder()
	e.server.router.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "OK", resp.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &snapshot))
	assert.Contains(t, snapshot, "counters")
	assert.Contains(t, snapshot, "uptime_seconds")
}

func TestSubmitDirectMessage(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/messages/bob", "alice", map[string]interface{}{
		"text": "hello bob",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var result service.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, models.StatusSent, result.Status)
	require.NotNil(t, result.Message)
	assert.NotEmpty(t, result.Message.ID)
	assert.Equal(t, "alice", result.Message.SenderID)
	assert.Equal(t, "bob", result.Message.ReceiverID)

	stored, err := env.db.GetMessage(context.Background(), result.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "hello bob", stored.Text)
}

func TestSubmitScheduledMessage(t *testing.T) {
	env := newTestServer(t)

	due := time.Now().Add(time.Hour).UTC()
	resp := env.request(t, http.MethodPost, "/api/messages/bob", "alice", map[string]interface{}{
		"text":              "later",
		"scheduledSendTime": due.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	var result service.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, models.StatusScheduled, result.Status)
	assert.True(t, result.Message.IsScheduled)
}

func TestSubmitValidationFailures(t *testing.T) {
	env := newTestServer(t)

	// Missing content.
	resp := env.request(t, http.MethodPost, "/api/messages/bob", "alice", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// Missing requester identity.
	resp = env.request(t, http.MethodPost, "/api/messages/bob", "", map[string]interface{}{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// Past-dated schedule.
	past := time.Now().Add(-time.Hour).UTC()
	resp = env.request(t, http.MethodPost, "/api/messages/bob", "alice", map[string]interface{}{
		"text":              "late",
		"scheduledSendTime": past.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var errBody map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errBody))
	assert.Contains(t, errBody, "error")
}

func TestSubmitMalformedBody(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/messages/bob", bytes.NewReader([]byte("{not json")))
	req.Header.Set(userIDHeader, "alice")
	recorder := httptest.NewRecorder()
	env.server.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/messages/bob", "alice", map[string]interface{}{"text": "one"})
	require.Equal(t, http.StatusCreated, resp.Code)
	resp = env.request(t, http.MethodPost, "/api/messages/alice", "bob", map[string]interface{}{"text": "two"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = env.request(t, http.MethodGet, "/api/messages/bob", "alice", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var messages []*models.Message
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].Text)
	assert.Equal(t, "two", messages[1].Text)
}

func TestHistoryEmptyConversation(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodGet, "/api/messages/bob", "alice", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, "[]", resp.Body.String())
}

func TestDeleteForMeHidesFromRequesterOnly(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/messages/bob", "alice", map[string]interface{}{"text": "oops"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var result service.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))

	resp = env.request(t, http.MethodPost, fmt.Sprintf("/api/messages/%s/delete", result.Message.ID), "bob",
		map[string]interface{}{"deleteType": "me"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.request(t, http.MethodGet, "/api/messages/alice", "bob", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, "[]", resp.Body.String())

	resp = env.request(t, http.MethodGet, "/api/messages/bob", "alice", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var aliceView []*models.Message
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &aliceView))
	assert.Len(t, aliceView, 1)
}

func TestDeleteForEveryoneRequiresSender(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/messages/bob", "alice", map[string]interface{}{"text": "mine"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var result service.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))

	resp = env.request(t, http.MethodPost, fmt.Sprintf("/api/messages/%s/delete", result.Message.ID), "bob",
		map[string]interface{}{"deleteType": "everyone"})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = env.request(t, http.MethodPost, fmt.Sprintf("/api/messages/%s/delete", result.Message.ID), "alice",
		map[string]interface{}{"deleteType": "everyone"})
	require.Equal(t, http.StatusOK, resp.Code)

	var info models.DeletionInfo
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &info))
	assert.NotEmpty(t, info.UpdatedText)
}

func TestDeleteMissingMessage(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/messages/m404/delete", "alice",
		map[string]interface{}{"deleteType": "me"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestViewedEndpoint(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/conversations/alice/viewed", "bob", nil)
	assert.Equal(t, http.StatusAccepted, resp.Code)
}

func TestWebSocketRejectsInvalidUserID(t *testing.T) {
	env := newTestServer(t)

	resp := env.request(t, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.request(t, http.MethodGet, "/ws?userId=bad%0Aid", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
