package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatfeed/internal/constants"
	"chatfeed/internal/models"
	"chatfeed/internal/store"
	"chatfeed/pkg/circuitbreaker"
	"chatfeed/pkg/feedapi/types"

	"github.com/sirupsen/logrus"
)

// Poller simulates push delivery by asking the server for messages newer
// than the last known baseline on a fixed interval. Ticks run one at a time
// on a single goroutine; a tick that outlasts the interval collapses the
// ticks it missed. Failures are silent to the user and retried next tick.
type Poller struct {
	client         types.Client
	store          *store.Store
	cache          MessageCache
	groupID        string
	interval       time.Duration
	requestTimeout time.Duration
	dedupWindow    time.Duration
	clock          Clock
	breaker        *circuitbreaker.CircuitBreaker
	logger         *logrus.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex

	baselineMu  sync.Mutex
	baseline    time.Time
	baselineSet bool
}

type PollerOptions struct {
	GroupID        string
	Interval       time.Duration
	RequestTimeout time.Duration
	DedupWindow    time.Duration
	Clock          Clock
	Cache          MessageCache
	Logger         *logrus.Logger
}

func NewPoller(client types.Client, st *store.Store, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = constants.DefaultPollIntervalSec * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = constants.DefaultPollTimeoutSec * time.Second
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = constants.PendingDedupWindowSec * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Poller{
		client:         client,
		store:          st,
		cache:          opts.Cache,
		groupID:        opts.GroupID,
		interval:       opts.Interval,
		requestTimeout: opts.RequestTimeout,
		dedupWindow:    opts.DedupWindow,
		clock:          opts.Clock,
		breaker: circuitbreaker.New("feed-poll",
			constants.PollBreakerMaxFailures,
			constants.PollBreakerResetTimeoutSec*time.Second,
			opts.Logger),
		logger: opts.Logger,
	}
}

// Start begins the background polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.pollLoop()

	p.logger.WithField("interval", p.interval).Info("Feed poller started")
	return nil
}

// Stop tears down the ticker and waits for any in-flight tick. A response
// arriving after Stop is discarded via the cancelled context.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false
	p.logger.Info("Feed poller stopped")
}

// IsRunning returns whether the poller is currently active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// AdvanceBaseline moves the "since" cursor forward, never backward. The
// history loader sets the initial baseline; the dispatcher advances it when
// a send confirms.
func (p *Poller) AdvanceBaseline(t time.Time) {
	p.baselineMu.Lock()
	defer p.baselineMu.Unlock()
	if !p.baselineSet || t.After(p.baseline) {
		p.baseline = t
		p.baselineSet = true
	}
}

// Baseline returns the current "since" cursor and whether one is known.
func (p *Poller) Baseline() (time.Time, bool) {
	p.baselineMu.Lock()
	defer p.baselineMu.Unlock()
	return p.baseline, p.baselineSet
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.tick()
		}
	}
}

// tick runs one poll attempt behind the breaker. Errors never reach the UI;
// the next tick self-heals.
func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(p.ctx, p.requestTimeout)
	defer cancel()

	err := p.breaker.Execute(ctx, p.poll)
	if err == nil {
		return
	}

	if circuitbreaker.IsOpen(err) {
		p.logger.Debug("Poll tick skipped, circuit breaker open")
		return
	}
	p.logger.WithError(err).Warn("Poll tick failed, will retry next interval")
}

// poll fetches and merges the delta since the baseline. The baseline only
// advances after a successful merge, so a failed tick is retried over the
// same window.
func (p *Poller) poll(ctx context.Context) error {
	since, ok := p.Baseline()
	if !ok {
		// Nothing loaded yet, nothing to poll against
		return nil
	}

	incoming, err := p.client.GetMessagesAfter(ctx, p.groupID, since)
	if err != nil {
		return err
	}
	if len(incoming) == 0 {
		return nil
	}

	// Ids already confirmed locally are not worth merging again
	delta := make([]models.Message, 0, len(incoming))
	newest := since
	for _, wire := range incoming {
		if wire.CreatedAt.After(newest) {
			newest = wire.CreatedAt
		}
		if p.store.HasConfirmed(wire.ID) {
			continue
		}
		delta = append(delta, fromWire(wire))
	}

	if len(delta) > 0 {
		p.dropOptimisticDuplicates(delta)
		p.store.UpsertBatch(delta)
		p.saveToCache(ctx, delta)
	}

	p.AdvanceBaseline(newest)
	return nil
}

// dropOptimisticDuplicates removes pending messages that match an incoming
// confirmed message by author, content, and approximate timestamp. This
// closes the visible-duplicate window when a poll tick races the send
// confirmation; the send path's replace-by-local-id stays authoritative
// whenever it wins the race (exact id dedup then applies instead).
func (p *Poller) dropOptimisticDuplicates(delta []models.Message) {
	for _, msg := range delta {
		localID, ok := p.store.FindPendingMatch(msg.UserID, msg.Content, msg.CreatedAt, p.dedupWindow)
		if !ok {
			continue
		}
		p.store.RemoveByID(localID)
		p.logger.WithFields(logrus.Fields{
			"localId":  localID,
			"serverId": msg.ID,
		}).Debug("Dropped optimistic duplicate of polled message")
	}
}

func (p *Poller) saveToCache(ctx context.Context, messages []models.Message) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SaveMessages(ctx, messages); err != nil {
		p.logger.WithError(err).Warn("Failed to cache polled messages")
	}
}
