package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/figsync/pkg/models"
)

const commentColumns = `id, file_key, parent_id, root_id, message_text, author_id, author_handle,
	created_at, updated_at, deleted_at, reactions_json, remote_status_emoji, local_status, posted_by_agent`

// UpsertRoot inserts or refreshes a thread root. On conflict the remote
// mirror fields and the reconciled status are updated; deleted_at is
// never touched so a soft-deleted row stays deleted.
func (s *Store) UpsertRoot(ctx context.Context, q DBTX, c *models.Comment) error {
	reactions, err := marshalReactions(c.Reactions)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO comments (
		id, file_key, parent_id, root_id, message_text, author_id, author_handle,
		created_at, updated_at, reactions_json, remote_status_emoji, local_status, posted_by_agent
	) VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		message_text = excluded.message_text,
		updated_at = excluded.updated_at,
		reactions_json = excluded.reactions_json,
		remote_status_emoji = excluded.remote_status_emoji,
		local_status = excluded.local_status,
		author_handle = excluded.author_handle
	`

	_, err = q.ExecContext(ctx, query,
		c.ID, c.FileKey, c.ID, c.Text, c.AuthorID, ptrOrNil(c.AuthorHandle),
		fmtTime(c.CreatedAt), fmtTimePtr(c.UpdatedAt), reactions,
		ptrOrNil(c.RemoteStatusEmoji), string(c.LocalStatus), boolToInt(c.PostedByAgent),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert root comment %s: %w", c.ID, err)
	}
	return nil
}

// UpsertReply inserts or refreshes a reply row. Replies carry no status
// of their own; on insert they default OPEN and conflicts never touch
// status or deleted_at.
func (s *Store) UpsertReply(ctx context.Context, q DBTX, c *models.Comment) error {
	reactions, err := marshalReactions(c.Reactions)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO comments (
		id, file_key, parent_id, root_id, message_text, author_id, author_handle,
		created_at, updated_at, reactions_json, local_status, posted_by_agent
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', ?)
	ON CONFLICT(id) DO UPDATE SET
		message_text = excluded.message_text,
		updated_at = excluded.updated_at,
		author_handle = excluded.author_handle
	`

	_, err = q.ExecContext(ctx, query,
		c.ID, c.FileKey, ptrOrNil(c.ParentID), c.RootID, c.Text, c.AuthorID,
		ptrOrNil(c.AuthorHandle), fmtTime(c.CreatedAt), fmtTimePtr(c.UpdatedAt),
		reactions, boolToInt(c.PostedByAgent),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reply %s: %w", c.ID, err)
	}
	return nil
}

// GetComment returns a comment by id, or nil when no row exists.
func (s *Store) GetComment(ctx context.Context, fileKey, id string) (*models.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE id = ? AND file_key = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id, fileKey))
}

// GetRoot returns a thread root by id, or nil when no root row exists.
func (s *Store) GetRoot(ctx context.Context, fileKey, id string) (*models.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments
	WHERE id = ? AND file_key = ? AND parent_id IS NULL`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id, fileKey))
}

// ListByFile returns every stored comment for a file.
func (s *Store) ListByFile(ctx context.Context, fileKey string) ([]models.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE file_key = ?`
	rows, err := s.db.QueryContext(ctx, query, fileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

// ListReplies returns a thread's replies ordered by creation time.
func (s *Store) ListReplies(ctx context.Context, fileKey, rootID string) ([]models.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments
	WHERE file_key = ? AND root_id = ? AND parent_id IS NOT NULL
	ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, fileKey, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies for %s: %w", rootID, err)
	}
	defer rows.Close()
	return scanComments(rows)
}

// ListOpenRoots returns actionable (OPEN/PENDING) thread roots that are
// not soft-deleted, newest first.
func (s *Store) ListOpenRoots(ctx context.Context, fileKey string, limit int) ([]models.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments
	WHERE file_key = ? AND parent_id IS NULL
	  AND local_status IN ('OPEN', 'PENDING')
	  AND deleted_at IS NULL
	ORDER BY created_at DESC
	LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, fileKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open roots: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

// UpdateStatus sets a comment's local status and stored marker emoji.
func (s *Store) UpdateStatus(ctx context.Context, fileKey, id string, status models.Status, markerEmoji *string) error {
	query := `UPDATE comments SET local_status = ?, remote_status_emoji = ? WHERE id = ? AND file_key = ?`
	res, err := s.db.ExecContext(ctx, query, string(status), ptrOrNil(markerEmoji), id, fileKey)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("comment %s not found", id)
	}
	return nil
}

// SoftDelete marks a comment deleted without removing the row.
func (s *Store) SoftDelete(ctx context.Context, fileKey, id string, deletedAt time.Time) error {
	query := `UPDATE comments SET deleted_at = ? WHERE id = ? AND file_key = ?`
	if _, err := s.db.ExecContext(ctx, query, fmtTime(deletedAt), id, fileKey); err != nil {
		return fmt.Errorf("failed to soft-delete comment %s: %w", id, err)
	}
	return nil
}

func (s *Store) scanOne(row *sql.Row) (*models.Comment, error) {
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan comment: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (*models.Comment, error) {
	var (
		c            models.Comment
		parentID     sql.NullString
		rootID       sql.NullString
		authorHandle sql.NullString
		createdAt    string
		updatedAt    sql.NullString
		deletedAt    sql.NullString
		reactions    sql.NullString
		remoteEmoji  sql.NullString
		status       string
		postedAgent  int
	)

	err := row.Scan(
		&c.ID, &c.FileKey, &parentID, &rootID, &c.Text, &c.AuthorID, &authorHandle,
		&createdAt, &updatedAt, &deletedAt, &reactions, &remoteEmoji, &status, &postedAgent,
	)
	if err != nil {
		return nil, err
	}

	c.ParentID = strPtr(parentID)
	if rootID.Valid {
		c.RootID = rootID.String
	}
	c.AuthorHandle = strPtr(authorHandle)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTimePtr(updatedAt)
	c.DeletedAt = parseTimePtr(deletedAt)
	c.RemoteStatusEmoji = strPtr(remoteEmoji)
	c.LocalStatus = models.Status(status)
	c.PostedByAgent = postedAgent != 0

	if reactions.Valid && reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &c.Reactions); err != nil {
			// A malformed blob should not make the whole row unreadable.
			log.Debug().Str("comment_id", c.ID).Err(err).Msg("Dropping unreadable reactions blob")
			c.Reactions = nil
		}
	}

	return &c, nil
}

func scanComments(rows *sql.Rows) ([]models.Comment, error) {
	var out []models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment row: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comment rows: %w", err)
	}
	return out, nil
}

func marshalReactions(reactions []models.Reaction) (any, error) {
	if reactions == nil {
		return nil, nil
	}
	b, err := json.Marshal(reactions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reactions: %w", err)
	}
	return string(b), nil
}

func ptrOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
