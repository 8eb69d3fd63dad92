package models

import (
	"encoding/json"
	"time"
)

// Thread status lifecycle

// Status is the local lifecycle state of a comment thread.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusPending Status = "PENDING"
	StatusDone    Status = "DONE"
	StatusWontfix Status = "WONTFIX"
)

// Actionable reports whether a thread in this status still needs work.
func (s Status) Actionable() bool {
	return s == StatusOpen || s == StatusPending
}

// Reaction is a single emoji reaction on a comment, as observed remotely.
type Reaction struct {
	UserID     string    `json:"user_id"`
	UserHandle string    `json:"user_handle,omitempty"`
	Emoji      string    `json:"emoji"`
	CreatedAt  time.Time `json:"created_at"`
}

// Comment is a persisted comment row mirrored from the remote service.
type Comment struct {
	ID                string     `json:"id" db:"id"`
	FileKey           string     `json:"file_key" db:"file_key"`
	ParentID          *string    `json:"parent_id,omitempty" db:"parent_id"`
	RootID            string     `json:"root_id" db:"root_id"`
	Text              string     `json:"text" db:"message_text"`
	AuthorID          string     `json:"author_id" db:"author_id"`
	AuthorHandle      *string    `json:"author_handle,omitempty" db:"author_handle"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty" db:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	Reactions         []Reaction `json:"reactions,omitempty" db:"reactions_json"`
	RemoteStatusEmoji *string    `json:"remote_status_emoji,omitempty" db:"remote_status_emoji"`
	LocalStatus       Status     `json:"local_status" db:"local_status"`
	PostedByAgent     bool       `json:"posted_by_agent" db:"posted_by_agent"`
}

// IsRoot reports whether this comment starts a thread.
func (c *Comment) IsRoot() bool {
	return c.ParentID == nil || *c.ParentID == ""
}

// Outbox operations

// OpType identifies the kind of remote write an outbox operation performs.
type OpType string

const (
	OpReply          OpType = "REPLY"
	OpAddReaction    OpType = "ADD_REACTION"
	OpRemoveReaction OpType = "REMOVE_REACTION"
	OpDeleteComment  OpType = "DELETE_COMMENT"
)

// OpState is the outbox state machine position of an operation.
type OpState string

const (
	OpStatePending    OpState = "PENDING"
	OpStateProcessing OpState = "PROCESSING"
	OpStateConfirmed  OpState = "CONFIRMED"
	OpStateFailed     OpState = "FAILED"
)

// Operation is a persisted outbox row describing one intended remote write.
type Operation struct {
	OpID           string          `json:"op_id" db:"op_id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	FileKey        string          `json:"file_key" db:"file_key"`
	OpType         OpType          `json:"op_type" db:"op_type"`
	Payload        json.RawMessage `json:"payload" db:"payload_json"`
	State          OpState         `json:"state" db:"state"`
	RetryCount     int             `json:"retry_count" db:"retry_count"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	RemoteResultID *string         `json:"remote_result_id,omitempty" db:"remote_result_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// SyncState is the persisted per-file synchronization bookkeeping row.
type SyncState struct {
	FileKey        string     `json:"file_key" db:"file_key"`
	BotUserID      *string    `json:"bot_user_id,omitempty" db:"bot_user_id"`
	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty" db:"last_full_sync_at"`
}

// Thread projection (returned to callers, never persisted as its own row)

// Author identifies the writer of a comment in thread projections.
type Author struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// AggregatedReaction collapses a thread root's reactions by emoji.
type AggregatedReaction struct {
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
	MeReacted bool   `json:"me_reacted"`
}

// RootComment is the opening message of a thread projection.
type RootComment struct {
	ID        string               `json:"id"`
	Text      string               `json:"text"`
	Author    Author               `json:"author"`
	CreatedAt time.Time            `json:"created_at"`
	Reactions []AggregatedReaction `json:"reactions"`
}

// Reply is a single reply message in a thread projection.
type Reply struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	IsAgent   bool      `json:"is_agent"`
}

// Thread is a root comment plus its ordered replies, materialized on read.
type Thread struct {
	ID             string      `json:"id"`
	FileKey        string      `json:"file_key"`
	Status         Status      `json:"status"`
	NeedsAttention bool        `json:"needs_attention"`
	Root           RootComment `json:"root_comment"`
	Replies        []Reply     `json:"replies"`
}

// SyncStats summarizes what a full sync observed and changed.
type SyncStats struct {
	TotalThreads         int `json:"total_threads"`
	NewThreads           int `json:"new_threads"`
	UpdatedThreads       int `json:"updated_threads"`
	TotalCommentsFetched int `json:"total_comments_fetched"`
}

// SyncResult is the caller-facing outcome of a full sync.
type SyncResult struct {
	Threads []Thread  `json:"threads"`
	Stats   SyncStats `json:"stats"`
}

// EnqueueStatus reports whether an enqueue created a new operation or
// collapsed onto an existing one.
type EnqueueStatus string

const (
	EnqueueCreated   EnqueueStatus = "created"
	EnqueueDuplicate EnqueueStatus = "duplicate"
)

// EnqueueResult is returned by every outbox enqueue call.
type EnqueueResult struct {
	OpID     string        `json:"op_id"`
	Status   EnqueueStatus `json:"status"`
	Existing *Operation    `json:"existing_op,omitempty"`
}
