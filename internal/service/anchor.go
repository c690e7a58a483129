package service

import (
	"sync"

	"chatfeed/internal/constants"
	"chatfeed/internal/store"
)

// ScrollAnchor decides, on every store change, whether the viewport should
// jump to the newest message. It keeps one boolean: whether the user was
// near the bottom at the last observed scroll position. The rendering layer
// reports scroll metrics in and receives scroll-to-latest signals out; no
// rendering framework leaks in here.
type ScrollAnchor struct {
	mu             sync.Mutex
	nearBottom     bool
	threshold      float64
	scrollToLatest func()
}

// NewScrollAnchor creates an anchor controller. threshold <= 0 uses the
// default. scrollToLatest may be nil (headless use).
func NewScrollAnchor(threshold float64, scrollToLatest func()) *ScrollAnchor {
	if threshold <= 0 {
		threshold = constants.NearBottomThresholdPx
	}
	return &ScrollAnchor{
		// A fresh feed opens at the newest message
		nearBottom:     true,
		threshold:      threshold,
		scrollToLatest: scrollToLatest,
	}
}

// ObserveScroll recomputes the near-bottom boolean from container metrics
// reported by the rendering layer on user-initiated scroll.
func (a *ScrollAnchor) ObserveScroll(scrollTop, scrollHeight, clientHeight float64) {
	a.mu.Lock()
	a.nearBottom = scrollHeight-(scrollTop+clientHeight) <= a.threshold
	a.mu.Unlock()
}

// NoteOwnSend marks explicit intent to follow the conversation bottom.
func (a *ScrollAnchor) NoteOwnSend() {
	a.mu.Lock()
	a.nearBottom = true
	a.mu.Unlock()
}

// NearBottom returns the current anchor state.
func (a *ScrollAnchor) NearBottom() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nearBottom
}

// OnStoreChange reacts to a store mutation. Appends and updates follow the
// bottom only while the user is already there; prepended history must never
// move the viewport.
func (a *ScrollAnchor) OnStoreChange(kind store.ChangeKind) {
	if kind == store.ChangePrepend || kind == store.ChangeRemove {
		return
	}

	a.mu.Lock()
	follow := a.nearBottom
	fn := a.scrollToLatest
	a.mu.Unlock()

	if follow && fn != nil {
		fn()
	}
}
