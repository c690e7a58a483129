package service

import (
	"context"
	"sync"
	"unicode/utf8"

	"chatfeed/internal/constants"
	"chatfeed/internal/errors"
	"chatfeed/internal/models"
	"chatfeed/internal/store"
	"chatfeed/internal/validation"
	"chatfeed/pkg/feedapi/types"

	"github.com/sirupsen/logrus"
)

// replySnippetMaxRunes bounds the content carried in a staged reply preview.
const replySnippetMaxRunes = 120

// Notifier receives user-facing failure messages for send/edit/delete.
// Poll failures never reach it.
type Notifier interface {
	NotifyError(message string)
}

// Dispatcher applies user-initiated mutations optimistically and reconciles
// them against the network outcome. Every mutation leaves the store in a
// well-defined, recoverable state: a failed send stays visible as Failed, a
// failed edit rolls back to its pre-edit snapshot, a failed delete reinserts
// the removed message.
type Dispatcher struct {
	client           types.Client
	store            *store.Store
	cache            MessageCache
	baseline         baselineAdvancer
	anchor           *ScrollAnchor
	notifier         Notifier
	clock            Clock
	groupID          string
	selfUserID       string
	authorName       func(userID string) string
	maxContentLength int
	logger           *logrus.Logger

	mu           sync.Mutex
	sendInFlight bool
	stagedReply  *models.ReplySnapshot
}

type DispatcherOptions struct {
	GroupID          string
	SelfUserID       string
	MaxContentLength int
	Cache            MessageCache
	Anchor           *ScrollAnchor
	Notifier         Notifier
	Clock            Clock
	AuthorName       func(userID string) string
	Logger           *logrus.Logger
}

func NewDispatcher(client types.Client, st *store.Store, baseline baselineAdvancer, opts DispatcherOptions) *Dispatcher {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = constants.DefaultMaxContentLength
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Dispatcher{
		client:           client,
		store:            st,
		cache:            opts.Cache,
		baseline:         baseline,
		anchor:           opts.Anchor,
		notifier:         opts.Notifier,
		clock:            opts.Clock,
		groupID:          opts.GroupID,
		selfUserID:       opts.SelfUserID,
		authorName:       opts.AuthorName,
		maxContentLength: opts.MaxContentLength,
		logger:           opts.Logger,
	}
}

// StageReply records a reference to target that will ride along with the
// next Send and is cleared once it fires or is cancelled.
func (d *Dispatcher) StageReply(targetID string) error {
	msg, ok := d.store.Get(targetID)
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "reply target not loaded")
	}

	snippet := msg.Content
	if utf8.RuneCountInString(snippet) > replySnippetMaxRunes {
		runes := []rune(snippet)
		snippet = string(runes[:replySnippetMaxRunes])
	}

	name := msg.UserID
	if d.authorName != nil {
		name = d.authorName(msg.UserID)
	}

	d.mu.Lock()
	d.stagedReply = &models.ReplySnapshot{
		ID:         msg.ID,
		Content:    snippet,
		AuthorName: name,
		IsDeleted:  msg.IsDeleted,
	}
	d.mu.Unlock()
	return nil
}

// CancelReply clears any staged reply reference.
func (d *Dispatcher) CancelReply() {
	d.mu.Lock()
	d.stagedReply = nil
	d.mu.Unlock()
}

// StagedReply returns a copy of the staged reply reference, if any.
func (d *Dispatcher) StagedReply() *models.ReplySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stagedReply == nil {
		return nil
	}
	snapshot := *d.stagedReply
	return &snapshot
}

// Send optimistically inserts a Pending message and issues the create
// request. On success the pending entry is rewritten in place under its
// server id; on failure it is tagged Failed and kept for retry or discard.
// One send may be in flight per compose box.
//
// The request is detached from ctx cancellation once issued: its result is
// applied even if the caller has navigated away, so stale optimistic state
// cannot resurrect on return.
func (d *Dispatcher) Send(ctx context.Context, content string) (string, error) {
	trimmed, err := validation.MessageContent(content, d.maxContentLength)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	if d.sendInFlight {
		d.mu.Unlock()
		return "", errors.New(errors.ErrCodeSendInFlight, "a send is already in flight")
	}
	d.sendInFlight = true
	reply := d.stagedReply
	d.stagedReply = nil
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.sendInFlight = false
		d.mu.Unlock()
	}()

	now := d.clock.Now()
	optimistic := models.Message{
		ID:          models.NewLocalID(),
		GroupID:     d.groupID,
		UserID:      d.selfUserID,
		Content:     trimmed,
		MessageType: models.MessageTypeText,
		ReplyTo:     reply,
		CreatedAt:   now,
		UpdatedAt:   now,
		Lifecycle:   models.LifecyclePending,
	}
	if reply != nil {
		optimistic.ReplyToID = reply.ID
	}

	// Sending states intent to be at the bottom of the conversation
	if d.anchor != nil {
		d.anchor.NoteOwnSend()
	}
	d.store.Insert(optimistic)

	req := types.SendMessageRequest{
		Content:   trimmed,
		ReplyToID: optimistic.ReplyToID,
	}
	wire, err := d.client.PostMessage(context.WithoutCancel(ctx), d.groupID, req)
	if err != nil {
		failed := optimistic
		failed.Lifecycle = models.LifecycleFailed
		d.store.Replace(optimistic.ID, failed)
		d.notifyError(err)
		d.logger.WithError(err).WithField("localId", optimistic.ID).Warn("Send failed")
		return optimistic.ID, err
	}

	confirmed := fromWire(*wire)
	if confirmed.ReplyTo == nil {
		confirmed.ReplyTo = reply
	}
	d.store.Replace(optimistic.ID, confirmed)
	d.baseline.AdvanceBaseline(confirmed.CreatedAt)
	d.saveToCache(ctx, confirmed)

	return confirmed.ID, nil
}

// RetryFailed removes a failed send and hands its content and reply
// reference back for the compose box; the user re-sends explicitly. The
// reply reference is re-staged.
func (d *Dispatcher) RetryFailed(id string) (string, *models.ReplySnapshot, error) {
	msg, ok := d.store.Get(id)
	if !ok {
		return "", nil, errors.New(errors.ErrCodeNotFound, "message not found")
	}
	if msg.Lifecycle != models.LifecycleFailed {
		return "", nil, errors.New(errors.ErrCodeInvalidInput, "only failed sends can be retried")
	}

	d.store.RemoveByID(id)

	d.mu.Lock()
	d.stagedReply = msg.ReplyTo
	d.mu.Unlock()

	return msg.Content, msg.ReplyTo, nil
}

// DiscardFailed permanently removes a failed send. No request is issued.
func (d *Dispatcher) DiscardFailed(id string) error {
	msg, ok := d.store.Get(id)
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "message not found")
	}
	if msg.Lifecycle != models.LifecycleFailed {
		return errors.New(errors.ErrCodeInvalidInput, "only failed sends can be discarded")
	}
	d.store.RemoveByID(id)
	return nil
}

// Edit optimistically rewrites a message and issues the update request,
// rolling back to the exact pre-edit snapshot on failure. Author-only; a
// no-op edit (empty or identical content) issues no request.
func (d *Dispatcher) Edit(ctx context.Context, id, newContent string) error {
	if err := validation.MessageID(id); err != nil {
		return err
	}

	msg, ok := d.store.Get(id)
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "message not found")
	}
	if msg.UserID != d.selfUserID {
		// Usability guard, not a security boundary; the server enforces too
		return errors.New(errors.ErrCodeNotAuthor, "only the author can edit a message").
			WithUserMessage("You can only edit your own messages")
	}

	trimmed, err := validation.MessageContent(newContent, d.maxContentLength)
	if err != nil {
		return err
	}
	if trimmed == msg.Content {
		return errors.NewValidationError("content", "no changes to save")
	}

	snapshot := msg
	updated := msg
	updated.Content = trimmed
	updated.IsEdited = true
	updated.UpdatedAt = d.clock.Now()
	d.store.Replace(id, updated)

	if err := d.client.EditMessage(context.WithoutCancel(ctx), id, trimmed); err != nil {
		d.store.Replace(id, snapshot)
		d.notifyError(err)
		d.logger.WithError(err).WithField("messageId", id).Warn("Edit failed, rolled back")
		return err
	}

	d.saveToCache(ctx, updated)
	return nil
}

// Delete optimistically removes a message and issues the delete request,
// reinserting it at its original position on failure. The server tombstones;
// the client drops it from the visible list.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	if err := validation.MessageID(id); err != nil {
		return err
	}

	msg, ok := d.store.Get(id)
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "message not found")
	}
	if models.IsLocalID(id) {
		return errors.New(errors.ErrCodeInvalidInput, "unsent messages are discarded, not deleted")
	}
	if msg.UserID != d.selfUserID {
		return errors.New(errors.ErrCodeNotAuthor, "only the author can delete a message").
			WithUserMessage("You can only delete your own messages")
	}

	removed, _ := d.store.RemoveByID(id)

	if err := d.client.DeleteMessage(context.WithoutCancel(ctx), id); err != nil {
		d.store.Insert(removed)
		d.notifyError(err)
		d.logger.WithError(err).WithField("messageId", id).Warn("Delete failed, reinserted")
		return err
	}

	tombstone := removed
	tombstone.IsDeleted = true
	d.saveToCache(ctx, tombstone)
	return nil
}

func (d *Dispatcher) notifyError(err error) {
	if d.notifier == nil {
		return
	}
	d.notifier.NotifyError(errors.GetUserMessage(err))
}

func (d *Dispatcher) saveToCache(ctx context.Context, msg models.Message) {
	if d.cache == nil {
		return
	}
	if err := d.cache.SaveMessages(context.WithoutCancel(ctx), []models.Message{msg}); err != nil {
		d.logger.WithError(err).Warn("Failed to cache message")
	}
}
