package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatfeed/internal/constants"
	"chatfeed/internal/errors"
	"chatfeed/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Cache persists confirmed messages so a cold start can render history
// before the first network page lands. The network stays authoritative:
// seeded rows are overwritten by the first LoadLatest merge. Pending and
// failed messages are never cached.
type Cache struct {
	db        *sql.DB
	encryptor *encryptor
}

func OpenCache(path string) (*Cache, error) {
	if path == "" {
		return nil, errors.New(errors.ErrCodeCacheOpen, "cache path cannot be empty")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheOpen, "failed to open cache")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeCacheOpen, "failed to ping cache")
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeCacheOpen, "failed to initialize cache schema")
	}

	enc, err := newEncryptor()
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeCacheOpen, "failed to initialize cache encryption")
	}

	return &Cache{db: db, encryptor: enc}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveMessages upserts confirmed messages. Local-id and non-confirmed
// entries are skipped.
func (c *Cache) SaveMessages(ctx context.Context, messages []models.Message) error {
	for _, msg := range messages {
		if msg.Lifecycle != models.LifecycleConfirmed || models.IsLocalID(msg.ID) {
			continue
		}
		if err := c.saveOne(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) saveOne(ctx context.Context, msg models.Message) error {
	content, err := c.encryptor.encrypt(msg.Content)
	if err != nil {
		return errors.NewCacheError("encrypt", err)
	}

	var replySnapshot *string
	if msg.ReplyTo != nil {
		raw, err := json.Marshal(msg.ReplyTo)
		if err != nil {
			return errors.NewCacheError("marshal reply snapshot", err)
		}
		encrypted, err := c.encryptor.encrypt(string(raw))
		if err != nil {
			return errors.NewCacheError("encrypt reply snapshot", err)
		}
		replySnapshot = &encrypted
	}

	var replyToID *string
	if msg.ReplyToID != "" {
		replyToID = &msg.ReplyToID
	}

	return c.withRetry(ctx, "save message", func() error {
		_, err := c.db.ExecContext(ctx, upsertMessageQuery,
			msg.ID, msg.GroupID, msg.UserID, content, string(msg.MessageType),
			replyToID, replySnapshot, msg.IsEdited, msg.IsDeleted,
			msg.CreatedAt.UTC(), msg.UpdatedAt.UTC(),
		)
		return err
	})
}

// RecentMessages returns up to limit newest cached messages for the group,
// ascending by createdAt, tagged Confirmed.
func (c *Cache) RecentMessages(ctx context.Context, groupID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = constants.DefaultCacheSeedLimit
	}

	var rows *sql.Rows
	err := c.withRetry(ctx, "load recent messages", func() error {
		var qerr error
		rows, qerr = c.db.QueryContext(ctx, selectRecentMessagesQuery, groupID, limit)
		return qerr
	})
	if err != nil {
		return nil, errors.NewCacheError("query recent messages", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := c.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCacheError("iterate recent messages", err)
	}

	// Query returns newest-first; the store wants ascending
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (c *Cache) scanMessage(rows *sql.Rows) (models.Message, error) {
	var (
		msg           models.Message
		messageType   string
		replyToID     *string
		replySnapshot *string
	)

	if err := rows.Scan(
		&msg.ID, &msg.GroupID, &msg.UserID, &msg.Content, &messageType,
		&replyToID, &replySnapshot, &msg.IsEdited, &msg.IsDeleted,
		&msg.CreatedAt, &msg.UpdatedAt,
	); err != nil {
		return models.Message{}, errors.NewCacheError("scan message", err)
	}

	content, err := c.encryptor.decrypt(msg.Content)
	if err != nil {
		return models.Message{}, errors.NewCacheError("decrypt", err)
	}
	msg.Content = content
	msg.MessageType = models.MessageType(messageType)
	if replyToID != nil {
		msg.ReplyToID = *replyToID
	}
	if replySnapshot != nil {
		raw, err := c.encryptor.decrypt(*replySnapshot)
		if err != nil {
			return models.Message{}, errors.NewCacheError("decrypt reply snapshot", err)
		}
		var snapshot models.ReplySnapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			return models.Message{}, errors.NewCacheError("unmarshal reply snapshot", err)
		}
		msg.ReplyTo = &snapshot
	}
	msg.Lifecycle = models.LifecycleConfirmed
	return msg, nil
}

// PruneBefore removes cached messages older than cutoff.
func (c *Cache) PruneBefore(ctx context.Context, groupID string, cutoff time.Time) (int64, error) {
	var affected int64
	err := c.withRetry(ctx, "prune", func() error {
		res, err := c.db.ExecContext(ctx, deleteOldMessagesQuery, groupID, cutoff.UTC())
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, errors.NewCacheError("prune", err)
	}
	return affected, nil
}

// withRetry retries transient sqlite failures (mainly lock contention).
func (c *Cache) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	backoff := time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= constants.DefaultCacheRetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableCacheError(err) {
			return fmt.Errorf("%s failed: %w", operation, err)
		}
		if attempt == constants.DefaultCacheRetryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, constants.DefaultCacheRetryAttempts, lastErr)
}

func isRetryableCacheError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "database is locked") {
		return true
	}
	if strings.Contains(errStr, "disk I/O error") {
		return true
	}
	return false
}
