package service

import (
	"context"
	"sync"

	"chatfeed/internal/constants"
	"chatfeed/internal/errors"
	"chatfeed/internal/models"
	"chatfeed/internal/store"
	"chatfeed/pkg/feedapi/types"

	"github.com/sirupsen/logrus"
)

// HistoryLoader cold-starts the store with the latest page and walks
// backward through older pages on demand. A failed load never clears
// already-loaded messages; the caller simply retries.
type HistoryLoader struct {
	client   types.Client
	store    *store.Store
	cache    MessageCache
	baseline baselineAdvancer
	groupID  string
	pageSize int
	logger   *logrus.Logger

	mu            sync.Mutex
	olderInFlight bool
	cursor        *string
	hasMore       bool
	loaded        bool
}

type HistoryOptions struct {
	GroupID  string
	PageSize int
	Cache    MessageCache
	Logger   *logrus.Logger
}

func NewHistoryLoader(client types.Client, st *store.Store, baseline baselineAdvancer, opts HistoryOptions) *HistoryLoader {
	if opts.PageSize <= 0 {
		opts.PageSize = constants.DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &HistoryLoader{
		client:   client,
		store:    st,
		cache:    opts.Cache,
		baseline: baseline,
		groupID:  opts.GroupID,
		pageSize: opts.PageSize,
		logger:   opts.Logger,
	}
}

// LoadLatest fetches the newest page, merges it, and establishes both the
// older-page cursor and the poll baseline.
func (h *HistoryLoader) LoadLatest(ctx context.Context) error {
	page, err := h.client.GetLatestMessages(ctx, h.groupID, h.pageSize)
	if err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeFeedAPI, "failed to load latest messages").
			WithUserMessage("Could not load messages, pull to retry")
	}

	messages := fromWireBatch(page.Messages)
	h.store.UpsertBatch(messages)
	h.saveToCache(ctx, messages)

	h.mu.Lock()
	h.cursor = page.NextCursor
	h.hasMore = page.HasMore
	h.loaded = true
	h.mu.Unlock()

	if len(messages) > 0 {
		newest := messages[len(messages)-1]
		for _, msg := range messages {
			if msg.CreatedAt.After(newest.CreatedAt) {
				newest = msg
			}
		}
		h.baseline.AdvanceBaseline(newest.CreatedAt)
	}

	h.logger.WithFields(logrus.Fields{
		"count":   len(messages),
		"hasMore": page.HasMore,
	}).Debug("Loaded latest history page")
	return nil
}

// LoadOlder fetches the page strictly older than the current cursor and
// prepends it. Only one older-page fetch runs at a time; a second call while
// one is in flight is rejected, not queued.
func (h *HistoryLoader) LoadOlder(ctx context.Context) error {
	h.mu.Lock()
	if h.olderInFlight {
		h.mu.Unlock()
		return errors.New(errors.ErrCodeFetchInFlight, "an older-page fetch is already in flight")
	}
	if !h.loaded || !h.hasMore || h.cursor == nil {
		h.mu.Unlock()
		return nil
	}
	cursor := *h.cursor
	h.olderInFlight = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.olderInFlight = false
		h.mu.Unlock()
	}()

	page, err := h.client.GetOlderMessages(ctx, h.groupID, cursor, h.pageSize)
	if err != nil {
		return errors.WrapRetryable(err, errors.ErrCodeFeedAPI, "failed to load older messages").
			WithUserMessage("Could not load older messages, try again")
	}

	messages := fromWireBatch(page.Messages)
	h.store.PrependBatch(messages)
	h.saveToCache(ctx, messages)

	h.mu.Lock()
	h.cursor = page.NextCursor
	h.hasMore = page.HasMore
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"count":   len(messages),
		"hasMore": page.HasMore,
	}).Debug("Loaded older history page")
	return nil
}

// HasMore reports whether older pages remain.
func (h *HistoryLoader) HasMore() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hasMore
}

// Loaded reports whether the initial page has been fetched.
func (h *HistoryLoader) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

func (h *HistoryLoader) saveToCache(ctx context.Context, messages []models.Message) {
	if h.cache == nil || len(messages) == 0 {
		return
	}
	if err := h.cache.SaveMessages(ctx, messages); err != nil {
		h.logger.WithError(err).Warn("Failed to cache history page")
	}
}
