package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatfeed/internal/models"
	"chatfeed/internal/store"
	"chatfeed/pkg/feedapi/types"

	"github.com/sirupsen/logrus"
)

// Engine wires the store, cache, poller, history loader, dispatcher, and
// scroll anchor into one feed. The store is owned by the engine; all
// mutation flows through the components built here.
type Engine struct {
	cfg        *models.Config
	client     types.Client
	store      *store.Store
	cache      MessageCache
	poller     *Poller
	history    *HistoryLoader
	dispatcher *Dispatcher
	anchor     *ScrollAnchor
	clock      Clock
	logger     *logrus.Logger

	mu      sync.Mutex
	group   *models.Group
	started bool
}

type EngineOptions struct {
	Cache          MessageCache
	Notifier       Notifier
	Clock          Clock
	ScrollToLatest func()
	Logger         *logrus.Logger
}

func NewEngine(cfg *models.Config, client types.Client, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	st := store.New()
	anchor := NewScrollAnchor(0, opts.ScrollToLatest)
	st.Subscribe(anchor.OnStoreChange)

	poller := NewPoller(client, st, PollerOptions{
		GroupID:        cfg.Feed.GroupID,
		Interval:       time.Duration(cfg.Poll.IntervalSec) * time.Second,
		RequestTimeout: time.Duration(cfg.Poll.RequestTimeoutSec) * time.Second,
		Clock:          opts.Clock,
		Cache:          opts.Cache,
		Logger:         opts.Logger,
	})

	history := NewHistoryLoader(client, st, poller, HistoryOptions{
		GroupID:  cfg.Feed.GroupID,
		PageSize: cfg.Feed.PageSize,
		Cache:    opts.Cache,
		Logger:   opts.Logger,
	})

	engine := &Engine{
		cfg:     cfg,
		client:  client,
		store:   st,
		cache:   opts.Cache,
		poller:  poller,
		history: history,
		anchor:  anchor,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}

	engine.dispatcher = NewDispatcher(client, st, poller, DispatcherOptions{
		GroupID:          cfg.Feed.GroupID,
		SelfUserID:       cfg.Feed.UserID,
		MaxContentLength: cfg.Feed.MaxContentLength,
		Cache:            opts.Cache,
		Anchor:           anchor,
		Notifier:         opts.Notifier,
		Clock:            opts.Clock,
		AuthorName:       engine.memberName,
		Logger:           opts.Logger,
	})

	return engine
}

// Start seeds the store, loads the latest page, and begins polling. A failed
// initial load is tolerated: the feed stays empty (or cache-seeded) and the
// caller retries LoadLatest through History().
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.started = true
	e.mu.Unlock()

	e.seedFromCache(ctx)
	e.pruneCache(ctx)
	e.fetchGroup(ctx)

	if err := e.history.LoadLatest(ctx); err != nil {
		e.logger.WithError(err).Warn("Initial history load failed, feed starts from cache")
	}

	if e.cfg.Poll.Enabled {
		if err := e.poller.Start(ctx); err != nil {
			return err
		}
	} else {
		e.logger.Info("Polling is disabled in configuration")
	}

	return nil
}

// Stop tears down the poller. In-flight send/edit/delete requests run to
// completion on detached contexts and apply idempotently.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.poller.Stop()
	e.started = false
}

func (e *Engine) Store() *store.Store     { return e.store }
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }
func (e *Engine) History() *HistoryLoader { return e.history }
func (e *Engine) Poller() *Poller         { return e.poller }
func (e *Engine) Anchor() *ScrollAnchor   { return e.anchor }

// Group returns the read-only group display data, if loaded.
func (e *Engine) Group() *models.Group {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.group
}

func (e *Engine) seedFromCache(ctx context.Context) {
	if e.cache == nil {
		return
	}

	seeded, err := e.cache.RecentMessages(ctx, e.cfg.Feed.GroupID, e.cfg.Cache.SeedLimit)
	if err != nil {
		e.logger.WithError(err).Warn("Cache seed failed, starting empty")
		return
	}
	if len(seeded) == 0 {
		return
	}

	e.store.UpsertBatch(seeded)
	e.logger.WithField("count", len(seeded)).Debug("Seeded feed from cache")
}

// pruneCache drops cached messages past the retention horizon. Best-effort;
// seeding already happened, so a failed prune only costs disk.
func (e *Engine) pruneCache(ctx context.Context) {
	if e.cfg.Cache.RetentionDays <= 0 {
		return
	}
	pruner, ok := e.cache.(cachePruner)
	if !ok {
		return
	}

	cutoff := e.clock.Now().AddDate(0, 0, -e.cfg.Cache.RetentionDays)
	pruned, err := pruner.PruneBefore(ctx, e.cfg.Feed.GroupID, cutoff)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to prune message cache")
		return
	}
	if pruned > 0 {
		e.logger.WithField("count", pruned).Debug("Pruned expired cache entries")
	}
}

func (e *Engine) fetchGroup(ctx context.Context) {
	group, err := e.client.GetGroup(ctx, e.cfg.Feed.GroupID)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to load group display data")
		return
	}

	e.mu.Lock()
	e.group = fromWireGroup(group)
	e.mu.Unlock()
}

func (e *Engine) memberName(userID string) string {
	return e.Group().MemberName(userID)
}
