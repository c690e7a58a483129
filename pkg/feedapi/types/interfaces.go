package types

import (
	"context"
	"time"
)

// Client is the message service contract the synchronization engine consumes.
type Client interface {
	// GetLatestMessages fetches the newest page for the group, newest-last.
	GetLatestMessages(ctx context.Context, groupID string, limit int) (*MessagePage, error)
	// GetOlderMessages fetches a page strictly older than cursor.
	GetOlderMessages(ctx context.Context, groupID, cursor string, limit int) (*MessagePage, error)
	// GetMessagesAfter fetches all messages with createdAt > after, ascending.
	GetMessagesAfter(ctx context.Context, groupID string, after time.Time) ([]Message, error)
	// PostMessage creates a message; the returned message carries a server id.
	PostMessage(ctx context.Context, groupID string, req SendMessageRequest) (*Message, error)
	// EditMessage rewrites a message's content.
	EditMessage(ctx context.Context, messageID, content string) error
	// DeleteMessage tombstones a message.
	DeleteMessage(ctx context.Context, messageID string) error
	// GetGroup fetches read-only group display data.
	GetGroup(ctx context.Context, groupID string) (*Group, error)
}
