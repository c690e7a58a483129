package store

// Message cache queries
const (
	cacheSchema = `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL,
			reply_to_id TEXT,
			reply_snapshot TEXT,
			is_edited INTEGER NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_group_created
			ON messages(group_id, created_at);
	`

	upsertMessageQuery = `
		INSERT INTO messages (
			id, group_id, user_id, content, message_type,
			reply_to_id, reply_snapshot, is_edited, is_deleted,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			is_edited = excluded.is_edited,
			is_deleted = excluded.is_deleted,
			updated_at = excluded.updated_at
	`

	selectRecentMessagesQuery = `
		SELECT id, group_id, user_id, content, message_type,
		       reply_to_id, reply_snapshot, is_edited, is_deleted,
		       created_at, updated_at
		FROM messages
		WHERE group_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	deleteOldMessagesQuery = `
		DELETE FROM messages
		WHERE group_id = ? AND created_at < ?
	`
)
