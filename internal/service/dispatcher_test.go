package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "chatfeed/internal/errors"
	"chatfeed/internal/models"
	"chatfeed/internal/store"
	"chatfeed/pkg/feedapi/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// baselineRecorder captures baseline advances without a running poller.
type baselineRecorder struct {
	mu       sync.Mutex
	advanced []time.Time
}

func (r *baselineRecorder) AdvanceBaseline(t time.Time) {
	r.mu.Lock()
	r.advanced = append(r.advanced, t)
	r.mu.Unlock()
}

func (r *baselineRecorder) Advances() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.advanced))
	copy(out, r.advanced)
	return out
}

type dispatcherFixture struct {
	client   *mockFeedClient
	store    *store.Store
	clock    *fakeClock
	baseline *baselineRecorder
	notifier *recordingNotifier
	cache    *recordingCache
	dispatch *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		client:   &mockFeedClient{},
		store:    store.New(),
		clock:    newFakeClock(testBase),
		baseline: &baselineRecorder{},
		notifier: &recordingNotifier{},
		cache:    &recordingCache{},
	}
	f.dispatch = NewDispatcher(f.client, f.store, f.baseline, DispatcherOptions{
		GroupID:    "group-1",
		SelfUserID: "me",
		Cache:      f.cache,
		Notifier:   f.notifier,
		Clock:      f.clock,
		AuthorName: func(userID string) string { return "name:" + userID },
		Logger:     quietLogger(),
	})
	return f
}

func TestSend_SuccessReplacesOptimisticInPlace(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "alice", "earlier", testBase.Add(-time.Minute)))

	serverTime := testBase.Add(200 * time.Millisecond)
	wire := wireMsg("srv-42", "me", "hello", serverTime)
	f.client.On("PostMessage", mock.Anything, "group-1", types.SendMessageRequest{Content: "hello"}).
		Return(&wire, nil)

	id, err := f.dispatch.Send(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "srv-42", id)

	// One confirmed entry under the server id, no local id left behind
	assert.Equal(t, []string{"srv-1", "srv-42"}, messageIDs(f.store.Messages()))
	msg, ok := f.store.Get("srv-42")
	require.True(t, ok)
	assert.Equal(t, models.LifecycleConfirmed, msg.Lifecycle)
	assert.Equal(t, "hello", msg.Content, "content is trimmed before sending")
	assert.Empty(t, f.store.Pending())

	// The confirmed timestamp advances the poll baseline so the next poll
	// does not re-fetch our own message
	advances := f.baseline.Advances()
	require.Len(t, advances, 1)
	assert.True(t, advances[0].Equal(serverTime))

	assert.Equal(t, []string{"srv-42"}, f.cache.SavedIDs())
	assert.Empty(t, f.notifier.Messages())
}

func TestSend_ValidationRejectedWithoutRequest(t *testing.T) {
	f := newDispatcherFixture(t)

	_, err := f.dispatch.Send(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.GetCode(err))

	_, err = f.dispatch.Send(context.Background(), strings.Repeat("x", 2001))
	require.Error(t, err)

	f.client.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.store.Len())
}

func TestSend_FailureKeepsMessageAsFailed(t *testing.T) {
	f := newDispatcherFixture(t)
	f.client.On("PostMessage", mock.Anything, "group-1", mock.Anything).
		Return(nil, apperrors.NewAPIError("/messages", 503, errors.New("unavailable")))

	localID, err := f.dispatch.Send(context.Background(), "hello")
	require.Error(t, err)
	require.True(t, models.IsLocalID(localID))

	msg, ok := f.store.Get(localID)
	require.True(t, ok)
	assert.Equal(t, models.LifecycleFailed, msg.Lifecycle)
	assert.Equal(t, "hello", msg.Content)

	require.Len(t, f.notifier.Messages(), 1)
	assert.Empty(t, f.cache.SavedIDs(), "failed sends are never cached")
	assert.Empty(t, f.baseline.Advances())
}

func TestSend_SingleFlight(t *testing.T) {
	f := newDispatcherFixture(t)

	release := make(chan struct{})
	wire := wireMsg("srv-1", "me", "first", testBase)
	f.client.On("PostMessage", mock.Anything, "group-1", mock.Anything).Run(func(args mock.Arguments) {
		<-release
	}).Return(&wire, nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.dispatch.Send(context.Background(), "first")
	}()

	require.Eventually(t, func() bool {
		f.dispatch.mu.Lock()
		defer f.dispatch.mu.Unlock()
		return f.dispatch.sendInFlight
	}, time.Second, time.Millisecond)

	_, err := f.dispatch.Send(context.Background(), "second")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSendInFlight, apperrors.GetCode(err))

	close(release)
	wg.Wait()
}

func TestSend_PollMergedCopyNeverDuplicates(t *testing.T) {
	f := newDispatcherFixture(t)

	release := make(chan struct{})
	serverTime := testBase.Add(15 * time.Second)
	wire := wireMsg("srv-42", "me", "hello", serverTime)
	f.client.On("PostMessage", mock.Anything, "group-1", mock.Anything).Run(func(args mock.Arguments) {
		<-release
	}).Return(&wire, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.dispatch.Send(context.Background(), "hello")
	}()

	require.Eventually(t, func() bool {
		return len(f.store.Pending()) == 1
	}, time.Second, time.Millisecond)

	// A poll tick merges the confirmed copy while the send response is
	// still in flight. The server timestamp is skewed past the
	// pending-match window, so the heuristic drop misses and both entries
	// coexist until the response lands.
	f.store.UpsertBatch([]models.Message{confirmedMsg("srv-42", "me", "hello", serverTime)})
	assert.Equal(t, 2, f.store.Len())

	close(release)
	wg.Wait()

	// The send response collapses onto the merged entry
	assert.Equal(t, []string{"srv-42"}, messageIDs(f.store.Messages()))
	assert.Empty(t, f.store.Pending())
}

func TestSend_CarriesStagedReply(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "alice", "original", testBase.Add(-time.Minute)))

	require.NoError(t, f.dispatch.StageReply("srv-1"))
	staged := f.dispatch.StagedReply()
	require.NotNil(t, staged)
	assert.Equal(t, "srv-1", staged.ID)
	assert.Equal(t, "name:alice", staged.AuthorName)

	wire := wireMsg("srv-2", "me", "a reply", testBase)
	f.client.On("PostMessage", mock.Anything, "group-1", types.SendMessageRequest{
		Content:   "a reply",
		ReplyToID: "srv-1",
	}).Return(&wire, nil)

	id, err := f.dispatch.Send(context.Background(), "a reply")
	require.NoError(t, err)

	msg, _ := f.store.Get(id)
	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, "original", msg.ReplyTo.Content)

	// The staged reply is consumed by the send
	assert.Nil(t, f.dispatch.StagedReply())
}

func TestStageReply_TruncatesSnippet(t *testing.T) {
	f := newDispatcherFixture(t)
	long := strings.Repeat("日", 300)
	f.store.Insert(confirmedMsg("srv-1", "alice", long, testBase))

	require.NoError(t, f.dispatch.StageReply("srv-1"))
	staged := f.dispatch.StagedReply()
	require.NotNil(t, staged)
	assert.Equal(t, strings.Repeat("日", replySnippetMaxRunes), staged.Content)
}

func TestCancelReply(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "alice", "hi", testBase))

	require.NoError(t, f.dispatch.StageReply("srv-1"))
	f.dispatch.CancelReply()
	assert.Nil(t, f.dispatch.StagedReply())

	err := f.dispatch.StageReply("missing")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestRetryFailed_ReturnsContentAndRestagesReply(t *testing.T) {
	f := newDispatcherFixture(t)
	failed := confirmedMsg(models.NewLocalID(), "me", "try again", testBase)
	failed.Lifecycle = models.LifecycleFailed
	failed.ReplyTo = &models.ReplySnapshot{ID: "srv-1", Content: "target", AuthorName: "alice"}
	f.store.Insert(failed)

	content, reply, err := f.dispatch.RetryFailed(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, "try again", content)
	require.NotNil(t, reply)
	assert.Equal(t, "srv-1", reply.ID)

	assert.False(t, f.store.Contains(failed.ID))
	staged := f.dispatch.StagedReply()
	require.NotNil(t, staged)
	assert.Equal(t, "srv-1", staged.ID)
}

func TestRetryFailed_RejectsNonFailed(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "me", "fine", testBase))

	_, _, err := f.dispatch.RetryFailed("srv-1")
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

	_, _, err = f.dispatch.RetryFailed("missing")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestDiscardFailed(t *testing.T) {
	f := newDispatcherFixture(t)
	failed := confirmedMsg(models.NewLocalID(), "me", "gone", testBase)
	failed.Lifecycle = models.LifecycleFailed
	f.store.Insert(failed)

	require.NoError(t, f.dispatch.DiscardFailed(failed.ID))
	assert.Zero(t, f.store.Len())
	f.client.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)

	f.store.Insert(confirmedMsg("srv-1", "me", "fine", testBase))
	err := f.dispatch.DiscardFailed("srv-1")
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
}

func TestEdit_SuccessMarksEdited(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "me", "tpyo", testBase))
	f.client.On("EditMessage", mock.Anything, "srv-1", "typo").Return(nil)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.dispatch.Edit(context.Background(), "srv-1", "typo"))

	msg, _ := f.store.Get("srv-1")
	assert.Equal(t, "typo", msg.Content)
	assert.True(t, msg.IsEdited)
	assert.True(t, msg.UpdatedAt.After(msg.CreatedAt))
	assert.Equal(t, []string{"srv-1"}, f.cache.SavedIDs())
}

func TestEdit_FailureRollsBackSnapshot(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "me", "original", testBase))
	f.client.On("EditMessage", mock.Anything, "srv-1", "changed").
		Return(apperrors.NewServerRejection("/messages", "message too old to edit"))

	err := f.dispatch.Edit(context.Background(), "srv-1", "changed")
	require.Error(t, err)

	msg, _ := f.store.Get("srv-1")
	assert.Equal(t, "original", msg.Content)
	assert.False(t, msg.IsEdited)
	assert.Equal(t, []string{"message too old to edit"}, f.notifier.Messages())
}

func TestEdit_GuardsAuthorAndNoop(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "alice", "hers", testBase))
	f.store.Insert(confirmedMsg("srv-2", "me", "mine", testBase.Add(time.Second)))

	err := f.dispatch.Edit(context.Background(), "srv-1", "hijacked")
	assert.Equal(t, apperrors.ErrCodeNotAuthor, apperrors.GetCode(err))

	err = f.dispatch.Edit(context.Background(), "srv-2", "  mine  ")
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.GetCode(err))

	f.client.AssertNotCalled(t, "EditMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditDelete_RejectMalformedIDs(t *testing.T) {
	f := newDispatcherFixture(t)
	oversized := strings.Repeat("x", 129)

	err := f.dispatch.Edit(context.Background(), oversized, "content")
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

	err = f.dispatch.Delete(context.Background(), oversized)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

	err = f.dispatch.Edit(context.Background(), "", "content")
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

	f.client.AssertNotCalled(t, "EditMessage", mock.Anything, mock.Anything, mock.Anything)
	f.client.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}

func TestDelete_SuccessRemovesAndTombstonesCache(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "me", "regret", testBase))
	f.client.On("DeleteMessage", mock.Anything, "srv-1").Return(nil)

	require.NoError(t, f.dispatch.Delete(context.Background(), "srv-1"))
	assert.Zero(t, f.store.Len())

	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	require.Len(t, f.cache.saved, 1)
	assert.True(t, f.cache.saved[0].IsDeleted)
}

func TestDelete_FailureReinsertsAtOriginalPosition(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.Insert(confirmedMsg("srv-1", "alice", "before", testBase))
	f.store.Insert(confirmedMsg("srv-2", "me", "middle", testBase.Add(time.Second)))
	f.store.Insert(confirmedMsg("srv-3", "bob", "after", testBase.Add(2*time.Second)))
	f.client.On("DeleteMessage", mock.Anything, "srv-2").Return(errors.New("boom"))

	err := f.dispatch.Delete(context.Background(), "srv-2")
	require.Error(t, err)

	assert.Equal(t, []string{"srv-1", "srv-2", "srv-3"}, messageIDs(f.store.Messages()))
	require.Len(t, f.notifier.Messages(), 1)
}

func TestDelete_Guards(t *testing.T) {
	f := newDispatcherFixture(t)
	local := confirmedMsg(models.NewLocalID(), "me", "unsent", testBase)
	local.Lifecycle = models.LifecycleFailed
	f.store.Insert(local)
	f.store.Insert(confirmedMsg("srv-1", "alice", "hers", testBase.Add(time.Second)))

	err := f.dispatch.Delete(context.Background(), local.ID)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

	err = f.dispatch.Delete(context.Background(), "srv-1")
	assert.Equal(t, apperrors.ErrCodeNotAuthor, apperrors.GetCode(err))

	err = f.dispatch.Delete(context.Background(), "missing")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

	f.client.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}
