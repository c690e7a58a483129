package service

import (
	"context"
	"sync"
	"time"

	"chatfeed/internal/models"
	"chatfeed/pkg/feedapi/types"

	"github.com/stretchr/testify/mock"
)

type mockFeedClient struct {
	mock.Mock
}

func (m *mockFeedClient) GetLatestMessages(ctx context.Context, groupID string, limit int) (*types.MessagePage, error) {
	args := m.Called(ctx, groupID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MessagePage), args.Error(1)
}

func (m *mockFeedClient) GetOlderMessages(ctx context.Context, groupID, cursor string, limit int) (*types.MessagePage, error) {
	args := m.Called(ctx, groupID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MessagePage), args.Error(1)
}

func (m *mockFeedClient) GetMessagesAfter(ctx context.Context, groupID string, after time.Time) ([]types.Message, error) {
	args := m.Called(ctx, groupID, after)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *mockFeedClient) PostMessage(ctx context.Context, groupID string, req types.SendMessageRequest) (*types.Message, error) {
	args := m.Called(ctx, groupID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Message), args.Error(1)
}

func (m *mockFeedClient) EditMessage(ctx context.Context, messageID, content string) error {
	args := m.Called(ctx, messageID, content)
	return args.Error(0)
}

func (m *mockFeedClient) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *mockFeedClient) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

// fakeClock hands out a controllable ticker and a fixed, advanceable now.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, tick: make(chan time.Time, 1)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Tick() {
	c.tick <- c.Now()
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	return &fakeTicker{ch: c.tick}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  {}

// recordingCache records saves without touching disk.
type recordingCache struct {
	mu    sync.Mutex
	saved []models.Message
	err   error
}

func (c *recordingCache) SaveMessages(ctx context.Context, messages []models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, messages...)
	return nil
}

func (c *recordingCache) RecentMessages(ctx context.Context, groupID string, limit int) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.saved))
	copy(out, c.saved)
	return out, c.err
}

func (c *recordingCache) SavedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.saved))
	for i, m := range c.saved {
		ids[i] = m.ID
	}
	return ids
}

// recordingNotifier captures user-facing error messages.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) NotifyError(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}
