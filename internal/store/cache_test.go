package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatfeed/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCache_SaveAndLoadRoundTrip(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	messages := []models.Message{
		confirmed("srv-1", "first", time.Second),
		confirmed("srv-2", "second", 2*time.Second),
	}
	require.NoError(t, cache.SaveMessages(ctx, messages))

	loaded, err := cache.RecentMessages(ctx, "group-1", 10)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "srv-1", loaded[0].ID)
	assert.Equal(t, "first", loaded[0].Content)
	assert.Equal(t, models.LifecycleConfirmed, loaded[0].Lifecycle)
	assert.Equal(t, models.MessageTypeText, loaded[0].MessageType)
}

func TestCache_SkipsPendingAndLocalMessages(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SaveMessages(ctx, []models.Message{
		pending("never cached", time.Second),
		confirmed("srv-1", "cached", 2*time.Second),
	}))

	loaded, err := cache.RecentMessages(ctx, "group-1", 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "srv-1", loaded[0].ID)
}

func TestCache_UpsertAppliesEdits(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	msg := confirmed("srv-1", "original", time.Second)
	require.NoError(t, cache.SaveMessages(ctx, []models.Message{msg}))

	msg.Content = "edited"
	msg.IsEdited = true
	require.NoError(t, cache.SaveMessages(ctx, []models.Message{msg}))

	loaded, err := cache.RecentMessages(ctx, "group-1", 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "edited", loaded[0].Content)
	assert.True(t, loaded[0].IsEdited)
}

func TestCache_ReplySnapshotSurvives(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	msg := confirmed("srv-2", "a reply", 2*time.Second)
	msg.ReplyToID = "srv-1"
	msg.ReplyTo = &models.ReplySnapshot{
		ID:         "srv-1",
		Content:    "the original",
		AuthorName: "Alice",
		IsDeleted:  true,
	}
	require.NoError(t, cache.SaveMessages(ctx, []models.Message{msg}))

	loaded, err := cache.RecentMessages(ctx, "group-1", 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.NotNil(t, loaded[0].ReplyTo)
	assert.Equal(t, "srv-1", loaded[0].ReplyTo.ID)
	assert.True(t, loaded[0].ReplyTo.IsDeleted)
}

func TestCache_RecentMessagesHonorsLimitAndOrder(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	var batch []models.Message
	for i := 1; i <= 5; i++ {
		batch = append(batch, confirmed(
			"srv-"+string(rune('0'+i)), "msg", time.Duration(i)*time.Second))
	}
	require.NoError(t, cache.SaveMessages(ctx, batch))

	loaded, err := cache.RecentMessages(ctx, "group-1", 3)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	// Newest three, returned ascending
	assert.Equal(t, "srv-3", loaded[0].ID)
	assert.Equal(t, "srv-5", loaded[2].ID)
}

func TestCache_EncryptionRoundTrip(t *testing.T) {
	t.Setenv("CHATFEED_CACHE_SECRET", "0123456789abcdef0123456789abcdef")

	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SaveMessages(ctx, []models.Message{
		confirmed("srv-1", "secret content", time.Second),
	}))

	loaded, err := cache.RecentMessages(ctx, "group-1", 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "secret content", loaded[0].Content)

	// Raw row must not contain the plaintext
	var raw string
	require.NoError(t, cache.db.QueryRow("SELECT content FROM messages WHERE id = 'srv-1'").Scan(&raw))
	assert.NotEqual(t, "secret content", raw)
}

func TestCache_ShortSecretRejected(t *testing.T) {
	t.Setenv("CHATFEED_CACHE_SECRET", "too short")

	_, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	assert.Error(t, err)
}

func TestCache_PruneBefore(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SaveMessages(ctx, []models.Message{
		confirmed("srv-1", "old", time.Second),
		confirmed("srv-2", "new", time.Hour),
	}))

	pruned, err := cache.PruneBefore(ctx, "group-1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	loaded, err := cache.RecentMessages(ctx, "group-1", 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "srv-2", loaded[0].ID)
}
