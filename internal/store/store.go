package store

import (
	"sync"
	"time"

	"chatfeed/internal/models"
)

// ChangeKind describes how the ordered list changed, so observers (the
// scroll anchor in particular) can react without diffing the list.
type ChangeKind string

const (
	ChangeAppend  ChangeKind = "append"
	ChangePrepend ChangeKind = "prepend"
	ChangeUpdate  ChangeKind = "update"
	ChangeRemove  ChangeKind = "remove"
)

// Listener observes store changes. Listeners run outside the store lock.
type Listener func(kind ChangeKind)

// Store holds the canonical ordered message list rendered by the UI. All
// mutations flow through the dispatcher, poller, and history loader; the
// store itself only guarantees ordering, dedup by id, and idempotent merge.
//
// Ordering is createdAt ascending. Input from the network is not assumed to
// arrive in order; every insert walks to its position.
type Store struct {
	mu        sync.RWMutex
	messages  []models.Message
	index     map[string]int
	listeners []Listener
}

func New() *Store {
	return &Store{
		index: make(map[string]int),
	}
}

// Subscribe registers a change listener.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Insert adds one message in createdAt order. An existing id is overwritten
// in place instead of duplicated.
func (s *Store) Insert(msg models.Message) {
	s.mu.Lock()
	kind := ChangeAppend
	if pos, ok := s.index[msg.ID]; ok {
		s.messages[pos] = msg
		kind = ChangeUpdate
	} else {
		s.insertOrdered(msg)
	}
	s.mu.Unlock()

	s.notify(kind)
}

// Replace rewrites the message stored under id, which may change the id
// itself (the pending-to-confirmed transition swaps the local id for the
// server id). Position follows createdAt order.
//
// When msg.ID is already present under a different entry, the two collapse
// into one: a poll tick can merge the confirmed copy of an in-flight send
// before the send response lands, and the response must not add a second
// entry under the same server id.
func (s *Store) Replace(id string, msg models.Message) bool {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if existing, dup := s.index[msg.ID]; dup && msg.ID != id {
		s.messages[existing] = msg
		s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
		delete(s.index, id)
		s.reindexFrom(pos)
		s.mu.Unlock()

		s.notify(ChangeUpdate)
		return true
	}

	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	delete(s.index, id)
	s.reindexFrom(pos)
	s.insertOrdered(msg)
	s.mu.Unlock()

	s.notify(ChangeUpdate)
	return true
}

// RemoveByID removes one message and returns it, for delete rollback.
func (s *Store) RemoveByID(id string) (models.Message, bool) {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return models.Message{}, false
	}

	removed := s.messages[pos]
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	delete(s.index, id)
	s.reindexFrom(pos)
	s.mu.Unlock()

	s.notify(ChangeRemove)
	return removed, true
}

// RemoveWhere removes every message matching the predicate and returns how
// many were removed.
func (s *Store) RemoveWhere(pred func(models.Message) bool) int {
	s.mu.Lock()
	kept := s.messages[:0]
	removed := 0
	for _, msg := range s.messages {
		if pred(msg) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	s.messages = kept
	if removed > 0 {
		s.rebuildIndex()
	}
	s.mu.Unlock()

	if removed > 0 {
		s.notify(ChangeRemove)
	}
	return removed
}

// UpsertBatch merges server-confirmed messages: known ids are overwritten in
// place (how edits and tombstones arriving via poll update existing entries),
// unknown ids are inserted in createdAt order. Applying the same batch twice
// leaves the store unchanged.
func (s *Store) UpsertBatch(incoming []models.Message) int {
	return s.mergeBatch(incoming, ChangeAppend)
}

// PrependBatch merges an older history page. Merge semantics are identical
// to UpsertBatch; the distinct change kind tells the scroll anchor that the
// viewport must not move.
func (s *Store) PrependBatch(incoming []models.Message) int {
	return s.mergeBatch(incoming, ChangePrepend)
}

func (s *Store) mergeBatch(incoming []models.Message, kind ChangeKind) int {
	s.mu.Lock()
	inserted := 0
	updated := 0
	for _, msg := range incoming {
		if pos, ok := s.index[msg.ID]; ok {
			s.messages[pos] = msg
			updated++
			continue
		}
		s.insertOrdered(msg)
		inserted++
	}
	s.mu.Unlock()

	if inserted > 0 {
		s.notify(kind)
	} else if updated > 0 {
		s.notify(ChangeUpdate)
	}
	return inserted
}

// Get returns the message stored under id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[pos], true
}

// Contains reports id membership across both id namespaces.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// HasConfirmed reports whether id is present as a confirmed message.
func (s *Store) HasConfirmed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	return ok && s.messages[pos].Lifecycle == models.LifecycleConfirmed
}

// Messages returns a copy of the ordered list.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Pending returns the optimistic messages still awaiting confirmation.
func (s *Store) Pending() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, msg := range s.messages {
		if msg.Lifecycle == models.LifecyclePending {
			out = append(out, msg)
		}
	}
	return out
}

// FindPendingMatch locates a pending message with the same content and
// author within the given window of at. This is the heuristic tie-break for
// the send/poll race; exact id dedup is always preferred when available.
func (s *Store) FindPendingMatch(userID, content string, at time.Time, window time.Duration) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.Lifecycle != models.LifecyclePending {
			continue
		}
		if msg.UserID != userID || msg.Content != content {
			continue
		}
		delta := at.Sub(msg.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= window {
			return msg.ID, true
		}
	}
	return "", false
}

// insertOrdered places msg at its createdAt position. Equal timestamps keep
// arrival order. Caller holds the write lock.
func (s *Store) insertOrdered(msg models.Message) {
	pos := len(s.messages)
	for i, existing := range s.messages {
		if existing.CreatedAt.After(msg.CreatedAt) {
			pos = i
			break
		}
	}

	s.messages = append(s.messages, models.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
	s.reindexFrom(pos)
}

// reindexFrom refreshes index entries at and after pos. Caller holds the
// write lock.
func (s *Store) reindexFrom(pos int) {
	for i := pos; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}

func (s *Store) rebuildIndex() {
	s.index = make(map[string]int, len(s.messages))
	s.reindexFrom(0)
}

func (s *Store) notify(kind ChangeKind) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(kind)
	}
}
