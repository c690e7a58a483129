package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"chatfeed/internal/models"
	"chatfeed/internal/service"
	"chatfeed/internal/store"
	"chatfeed/pkg/feedapi"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeService is an in-memory message service behind httptest, speaking the
// same envelope contract as the real one.
type fakeService struct {
	t *testing.T

	mu       sync.Mutex
	groupID  string
	messages []wireMessage
	failNext int
	requests int
}

type wireMessage struct {
	ID          string             `json:"id"`
	GroupID     string             `json:"groupId"`
	UserID      string             `json:"userId"`
	Content     string             `json:"content"`
	MessageType string             `json:"messageType"`
	ReplyToID   string             `json:"replyToId,omitempty"`
	ReplyTo     *wireReplySnapshot `json:"replyTo,omitempty"`
	IsEdited    bool               `json:"isEdited"`
	IsDeleted   bool               `json:"isDeleted"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type wireReplySnapshot struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	IsDeleted  bool   `json:"isDeleted"`
}

type wirePage struct {
	Messages   []wireMessage `json:"messages"`
	HasMore    bool          `json:"hasMore"`
	NextCursor *string       `json:"nextCursor"`
}

func newFakeService(t *testing.T, groupID string) *fakeService {
	return &fakeService{t: t, groupID: groupID}
}

// AddPeerMessage simulates another participant posting into the group.
func (s *fakeService) AddPeerMessage(userID, content string, at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := wireMessage{
		ID:          "srv-" + uuid.NewString(),
		GroupID:     s.groupID,
		UserID:      userID,
		Content:     content,
		MessageType: "text",
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	s.messages = append(s.messages, msg)
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
	return msg.ID
}

// FailNext makes the next n requests return 503 before the service recovers.
func (s *fakeService) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *fakeService) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *fakeService) Message(id string) (wireMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return wireMessage{}, false
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		if s.failNext > 0 {
			s.failNext--
			s.mu.Unlock()
			s.writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		s.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			s.handleList(w, r)
		case http.MethodPost:
			s.handlePost(w, r)
		case http.MethodPatch:
			s.handlePatch(w, r)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
	mux.HandleFunc("/groups/", func(w http.ResponseWriter, r *http.Request) {
		s.writeData(w, http.StatusOK, map[string]interface{}{
			"id":   s.groupID,
			"name": "Integration Group",
			"members": []map[string]string{
				{"userId": "me", "displayName": "Me"},
				{"userId": "alice", "displayName": "Alice"},
			},
		})
	})
	return mux
}

func (s *fakeService) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	visible := make([]wireMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		if !msg.IsDeleted {
			visible = append(visible, msg)
		}
	}
	s.mu.Unlock()

	if after := r.URL.Query().Get("after"); after != "" {
		t, err := time.Parse(time.RFC3339Nano, after)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
		delta := make([]wireMessage, 0)
		for _, msg := range visible {
			if msg.CreatedAt.After(t) {
				delta = append(delta, msg)
			}
		}
		s.writeData(w, http.StatusOK, delta)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	end := len(visible)
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		end = -1
		for i, msg := range visible {
			if msg.ID == cursor {
				end = i
				break
			}
		}
		if end < 0 {
			s.writeError(w, http.StatusBadRequest, "unknown cursor")
			return
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	page := wirePage{Messages: visible[start:end], HasMore: start > 0}
	if len(page.Messages) > 0 {
		page.NextCursor = &page.Messages[0].ID
	}
	s.writeData(w, http.StatusOK, page)
}

func (s *fakeService) handlePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content   string `json:"content"`
		ReplyToID string `json:"replyToId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	msg := wireMessage{
		ID:          "srv-" + uuid.NewString(),
		GroupID:     s.groupID,
		UserID:      "me",
		Content:     req.Content,
		MessageType: "text",
		ReplyToID:   req.ReplyToID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.writeData(w, http.StatusCreated, map[string]wireMessage{"message": msg})
}

func (s *fakeService) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"messageId"`
		Action    string `json:"action"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != req.MessageID {
			continue
		}
		switch req.Action {
		case "edit":
			s.messages[i].Content = req.Content
			s.messages[i].IsEdited = true
		case "delete":
			s.messages[i].IsDeleted = true
		default:
			s.writeError(w, http.StatusBadRequest, "unknown action")
			return
		}
		s.messages[i].UpdatedAt = time.Now().UTC()
		s.writeData(w, http.StatusOK, map[string]bool{"applied": true})
		return
	}
	s.writeError(w, http.StatusNotFound, "message not found")
}

func (s *fakeService) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
}

func (s *fakeService) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": msg})
}

// testEnvironment assembles a full feed stack against the fake service.
type testEnvironment struct {
	Service *fakeService
	Server  *httptest.Server
	Clock   *manualClock
	Cache   *store.Cache
	Engine  *service.Engine
}

func newTestEnvironment(t *testing.T, groupID string) *testEnvironment {
	t.Helper()

	svc := newFakeService(t, groupID)
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	cache, err := store.OpenCache(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	clock := newManualClock(time.Now().UTC())

	cfg := &models.Config{
		API:   models.APIConfig{BaseURL: server.URL},
		Feed:  models.FeedConfig{GroupID: groupID, UserID: "me", PageSize: 50},
		Poll:  models.PollConfig{Enabled: true, IntervalSec: 1, RequestTimeoutSec: 5},
		Cache: models.CacheConfig{Enabled: true, SeedLimit: 200},
	}

	client := feedapi.NewClientWithLogger(server.URL, "", nil, logger)
	engine := service.NewEngine(cfg, client, service.EngineOptions{
		Cache:  cache,
		Clock:  clock,
		Logger: logger,
	})

	return &testEnvironment{
		Service: svc,
		Server:  server,
		Clock:   clock,
		Cache:   cache,
		Engine:  engine,
	}
}

// manualClock drives the poll loop from the test.
type manualClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now, tick: make(chan time.Time, 1)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Tick() {
	c.tick <- c.Now()
}

func (c *manualClock) NewTicker(d time.Duration) service.Ticker {
	return &manualTicker{ch: c.tick}
}

type manualTicker struct {
	ch chan time.Time
}

func (t *manualTicker) Chan() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()                  {}
