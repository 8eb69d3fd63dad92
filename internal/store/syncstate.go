package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/figsync/pkg/models"
)

// GetSyncState returns the sync bookkeeping row for a file, or nil when
// the file has never been synced.
func (s *Store) GetSyncState(ctx context.Context, fileKey string) (*models.SyncState, error) {
	query := `SELECT file_key, bot_user_id, last_full_sync_at FROM sync_state WHERE file_key = ?`

	var (
		state    models.SyncState
		botUser  sql.NullString
		lastSync sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, fileKey).Scan(&state.FileKey, &botUser, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state for %s: %w", fileKey, err)
	}

	state.BotUserID = strPtr(botUser)
	state.LastFullSyncAt = parseTimePtr(lastSync)
	return &state, nil
}

// UpsertBotUser records the resolved bot identity for a file, creating
// the sync_state row lazily on first sync.
func (s *Store) UpsertBotUser(ctx context.Context, fileKey, botUserID string) error {
	query := `
	INSERT INTO sync_state (file_key, bot_user_id) VALUES (?, ?)
	ON CONFLICT(file_key) DO UPDATE SET bot_user_id = excluded.bot_user_id
	`
	if _, err := s.db.ExecContext(ctx, query, fileKey, botUserID); err != nil {
		return fmt.Errorf("failed to upsert bot user for %s: %w", fileKey, err)
	}
	return nil
}

// TouchLastFullSync stamps the completion time of a full sync.
func (s *Store) TouchLastFullSync(ctx context.Context, fileKey string, at time.Time) error {
	query := `
	INSERT INTO sync_state (file_key, last_full_sync_at) VALUES (?, ?)
	ON CONFLICT(file_key) DO UPDATE SET last_full_sync_at = excluded.last_full_sync_at
	`
	if _, err := s.db.ExecContext(ctx, query, fileKey, fmtTime(at)); err != nil {
		return fmt.Errorf("failed to update last sync time for %s: %w", fileKey, err)
	}
	return nil
}

// GetConfigValue reads a key from the local config table (used for
// stored access tokens).
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read config key %s: %w", key, err)
	}
	return value, true, nil
}

// SetConfigValue writes a key to the local config table.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO config (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write config key %s: %w", key, err)
	}
	return nil
}
