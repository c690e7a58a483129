// Command mockserver is an in-memory message service for local development.
// It implements the same REST contract the real service exposes: envelope
// responses, cursor pagination for history, after-timestamp deltas for
// polling, and edit/delete via PATCH.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var (
	addr      = flag.String("addr", ":8080", "Listen address")
	groupID   = flag.String("group", "group-dev", "Group ID to serve")
	authToken = flag.String("token", "", "Required bearer token (empty disables auth)")
	seed      = flag.Int("seed", 80, "Number of seed messages")
	chatter   = flag.Duration("chatter", 15*time.Second, "Interval for simulated peer messages (0 disables)")
)

type replySnapshot struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	IsDeleted  bool   `json:"isDeleted"`
}

type message struct {
	ID          string         `json:"id"`
	GroupID     string         `json:"groupId"`
	UserID      string         `json:"userId"`
	Content     string         `json:"content"`
	MessageType string         `json:"messageType"`
	ReplyToID   string         `json:"replyToId,omitempty"`
	ReplyTo     *replySnapshot `json:"replyTo,omitempty"`
	IsEdited    bool           `json:"isEdited"`
	IsDeleted   bool           `json:"isDeleted"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

type group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []member `json:"members"`
}

// feedStore holds one group's messages ordered oldest-first.
type feedStore struct {
	mu       sync.Mutex
	group    group
	messages []message
	index    map[string]int
}

func newFeedStore(g group) *feedStore {
	return &feedStore{group: g, index: make(map[string]int)}
}

func (s *feedStore) append(msg message) {
	s.mu.Lock()
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *feedStore) get(id string) (message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return message{}, false
	}
	return s.messages[pos], true
}

func (s *feedStore) update(id string, fn func(*message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	fn(&s.messages[pos])
	s.messages[pos].UpdatedAt = time.Now().UTC()
	return true
}

// visible returns the non-deleted messages oldest-first.
func (s *feedStore) visible() []message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message, 0, len(s.messages))
	for _, msg := range s.messages {
		if !msg.IsDeleted {
			out = append(out, msg)
		}
	}
	return out
}

type page struct {
	Messages   []message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor *string   `json:"nextCursor"`
}

// latestPage returns the newest limit messages oldest-first. The cursor is
// the id of the oldest message in the page; older pages are fetched with it.
func (s *feedStore) latestPage(limit int) page {
	all := s.visible()
	return pageEndingAt(all, len(all), limit)
}

// olderPage returns the limit messages strictly older than cursor.
func (s *feedStore) olderPage(cursor string, limit int) (page, bool) {
	all := s.visible()
	end := -1
	for i, msg := range all {
		if msg.ID == cursor {
			end = i
			break
		}
	}
	if end < 0 {
		return page{}, false
	}
	return pageEndingAt(all, end, limit), true
}

func pageEndingAt(all []message, end, limit int) page {
	start := end - limit
	if start < 0 {
		start = 0
	}
	p := page{
		Messages: all[start:end],
		HasMore:  start > 0,
	}
	if len(p.Messages) > 0 {
		p.NextCursor = &p.Messages[0].ID
	}
	return p
}

// after returns the messages created strictly after the given instant.
func (s *feedStore) after(t time.Time) []message {
	all := s.visible()
	i := sort.Search(len(all), func(i int) bool {
		return all[i].CreatedAt.After(t)
	})
	return all[i:]
}

type server struct {
	store  *feedStore
	token  string
	logger *logrus.Logger
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *server) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: msg}); err != nil {
		s.logger.WithError(err).Warn("Failed to encode error response")
	}
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.token {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("group") != s.store.group.ID {
		s.writeError(w, http.StatusNotFound, "unknown group")
		return
	}

	if after := r.URL.Query().Get("after"); after != "" {
		t, err := time.Parse(time.RFC3339Nano, after)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
		s.writeData(w, http.StatusOK, s.store.after(t))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		p, ok := s.store.olderPage(cursor, limit)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown cursor")
			return
		}
		s.writeData(w, http.StatusOK, p)
		return
	}

	s.writeData(w, http.StatusOK, s.store.latestPage(limit))
}

type sendRequest struct {
	Content   string `json:"content"`
	ReplyToID string `json:"replyToId,omitempty"`
}

func (s *server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("group") != s.store.group.ID {
		s.writeError(w, http.StatusNotFound, "unknown group")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	now := time.Now().UTC()
	msg := message{
		ID:          uuid.NewString(),
		GroupID:     s.store.group.ID,
		UserID:      "you",
		Content:     req.Content,
		MessageType: "text",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ReplyToID != "" {
		target, ok := s.store.get(req.ReplyToID)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "reply target does not exist")
			return
		}
		msg.ReplyToID = target.ID
		msg.ReplyTo = &replySnapshot{
			ID:         target.ID,
			Content:    target.Content,
			AuthorName: s.store.group.MemberName(target.UserID),
			IsDeleted:  target.IsDeleted,
		}
	}
	s.store.append(msg)

	s.logger.WithField("id", msg.ID).Debug("Message created")
	s.writeData(w, http.StatusCreated, map[string]message{"message": msg})
}

type patchRequest struct {
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
	Content   string `json:"content,omitempty"`
}

func (s *server) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, ok := s.store.get(req.MessageID)
	if !ok || msg.IsDeleted {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	}

	switch req.Action {
	case "edit":
		if strings.TrimSpace(req.Content) == "" {
			s.writeError(w, http.StatusBadRequest, "message cannot be empty")
			return
		}
		s.store.update(req.MessageID, func(m *message) {
			m.Content = req.Content
			m.IsEdited = true
		})
	case "delete":
		// Tombstone, never a hard delete
		s.store.update(req.MessageID, func(m *message) {
			m.IsDeleted = true
			m.Content = ""
		})
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	s.writeData(w, http.StatusOK, map[string]bool{"applied": true})
}

func (s *server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id != s.store.group.ID {
		s.writeError(w, http.StatusNotFound, "unknown group")
		return
	}
	s.writeData(w, http.StatusOK, s.store.group)
}

func (g group) MemberName(userID string) string {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m.DisplayName
		}
	}
	return userID
}

var peers = []member{
	{UserID: "alice", DisplayName: "Alice", Role: "admin"},
	{UserID: "bob", DisplayName: "Bob"},
	{UserID: "carol", DisplayName: "Carol"},
}

var chatterLines = []string{
	"Anyone around?",
	"Just pushed the fix",
	"Looks good to me",
	"Lunch in ten",
	"Can someone review my PR?",
	"That took longer than expected",
}

func seedMessages(store *feedStore, count int) {
	base := time.Now().UTC().Add(-time.Duration(count) * time.Minute)
	for i := 0; i < count; i++ {
		peer := peers[i%len(peers)]
		at := base.Add(time.Duration(i) * time.Minute)
		store.append(message{
			ID:          uuid.NewString(),
			GroupID:     store.group.ID,
			UserID:      peer.UserID,
			Content:     fmt.Sprintf("%s (#%d)", chatterLines[i%len(chatterLines)], i+1),
			MessageType: "text",
			CreatedAt:   at,
			UpdatedAt:   at,
		})
	}
}

func runChatter(store *feedStore, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		<-ticker.C
		peer := peers[i%len(peers)]
		now := time.Now().UTC()
		msg := message{
			ID:          uuid.NewString(),
			GroupID:     store.group.ID,
			UserID:      peer.UserID,
			Content:     chatterLines[i%len(chatterLines)],
			MessageType: "text",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		store.append(msg)
		logger.WithFields(logrus.Fields{
			"id":   msg.ID,
			"user": peer.UserID,
		}).Debug("Chatter message appended")
	}
}

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	store := newFeedStore(group{
		ID:   *groupID,
		Name: "Development Group",
		Members: append([]member{
			{UserID: "you", DisplayName: "You"},
		}, peers...),
	})
	seedMessages(store, *seed)

	if *chatter > 0 {
		go runChatter(store, *chatter, logger)
	}

	srv := &server{store: store, token: *authToken, logger: logger}

	r := mux.NewRouter()
	r.Use(srv.authMiddleware)
	r.HandleFunc("/messages", srv.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages", srv.handlePostMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages", srv.handlePatchMessage).Methods(http.MethodPatch)
	r.HandleFunc("/groups/{id}", srv.handleGetGroup).Methods(http.MethodGet)

	logger.WithFields(logrus.Fields{
		"addr":  *addr,
		"group": *groupID,
		"seed":  *seed,
	}).Info("Mock message service listening")

	if err := http.ListenAndServe(*addr, r); err != nil {
		logger.WithError(err).Fatal("Server exited")
	}
}
