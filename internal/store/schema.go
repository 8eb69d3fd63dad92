package store

// schema is applied on every open; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	file_key TEXT NOT NULL,
	parent_id TEXT,
	root_id TEXT,
	message_text TEXT NOT NULL,
	author_id TEXT NOT NULL,
	author_handle TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT,
	deleted_at TEXT,
	reactions_json TEXT,
	remote_status_emoji TEXT,
	local_status TEXT NOT NULL DEFAULT 'OPEN',
	posted_by_agent INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_comments_file_key ON comments(file_key);
CREATE INDEX IF NOT EXISTS idx_comments_root_id ON comments(file_key, root_id);
CREATE INDEX IF NOT EXISTS idx_comments_status ON comments(file_key, local_status);

CREATE TABLE IF NOT EXISTS operations (
	op_id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	file_key TEXT NOT NULL,
	op_type TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'PENDING',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	remote_result_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_operations_file_state ON operations(file_key, state);

CREATE TABLE IF NOT EXISTS sync_state (
	file_key TEXT PRIMARY KEY,
	bot_user_id TEXT,
	last_full_sync_at TEXT
);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
