package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/figsync/pkg/models"
)

const operationColumns = `op_id, idempotency_key, file_key, op_type, payload_json, state,
	retry_count, error_message, remote_result_id, created_at, updated_at`

// InsertOperation inserts a new PENDING outbox row. A UNIQUE violation
// on idempotency_key is returned as-is for the caller to map to a
// duplicate result; see IsUniqueViolation.
func (s *Store) InsertOperation(ctx context.Context, op *models.Operation) error {
	query := `
	INSERT INTO operations (
		op_id, idempotency_key, file_key, op_type, payload_json, state,
		retry_count, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := fmtTime(op.CreatedAt)
	_, err := s.db.ExecContext(ctx, query,
		op.OpID, op.IdempotencyKey, op.FileKey, string(op.OpType),
		string(op.Payload), string(op.State), op.RetryCount, now, now,
	)
	return err
}

// GetOperation returns an operation by op_id, or nil when absent.
func (s *Store) GetOperation(ctx context.Context, opID string) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE op_id = ?`
	return s.scanOneOperation(s.db.QueryRowContext(ctx, query, opID))
}

// GetOperationByKey returns an operation by idempotency key, or nil.
func (s *Store) GetOperationByKey(ctx context.Context, idempotencyKey string) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE idempotency_key = ?`
	return s.scanOneOperation(s.db.QueryRowContext(ctx, query, idempotencyKey))
}

// ListRunnable returns a file's operations still eligible for dispatch,
// oldest first.
func (s *Store) ListRunnable(ctx context.Context, fileKey string, maxRetries int) ([]models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations
	WHERE file_key = ? AND state IN ('PENDING', 'PROCESSING') AND retry_count < ?
	ORDER BY created_at ASC, op_id ASC`
	rows, err := s.db.QueryContext(ctx, query, fileKey, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to list runnable operations: %w", err)
	}
	defer rows.Close()

	var out []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		out = append(out, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation rows: %w", err)
	}
	return out, nil
}

// ClaimProcessing atomically claims an operation for dispatch. Only
// PENDING rows are claimable; a PROCESSING row belongs to another
// dispatcher and is re-claimable only once its last update predates
// staleBefore (the dispatcher died mid-flight). Exactly one concurrent
// claimer can win.
func (s *Store) ClaimProcessing(ctx context.Context, opID string, staleBefore time.Time) (bool, error) {
	query := `UPDATE operations SET state = 'PROCESSING', updated_at = ?
	WHERE op_id = ?
	  AND (state = 'PENDING' OR (state = 'PROCESSING' AND updated_at < ?))`
	res, err := s.db.ExecContext(ctx, query, fmtTime(time.Now()), opID, fmtTime(staleBefore))
	if err != nil {
		return false, fmt.Errorf("failed to claim operation %s: %w", opID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for %s: %w", opID, err)
	}
	return n > 0, nil
}

// MarkConfirmed finalizes a successful operation, recording the remote
// result id when the API returned one.
func (s *Store) MarkConfirmed(ctx context.Context, opID string, remoteResultID *string) error {
	query := `UPDATE operations SET state = 'CONFIRMED', remote_result_id = ?, updated_at = ?
	WHERE op_id = ?`
	if _, err := s.db.ExecContext(ctx, query, ptrOrNil(remoteResultID), fmtTime(time.Now()), opID); err != nil {
		return fmt.Errorf("failed to confirm operation %s: %w", opID, err)
	}
	return nil
}

// MarkFailure records a failed attempt: either back to PENDING with the
// bumped retry count, or FAILED once the ceiling is reached.
func (s *Store) MarkFailure(ctx context.Context, opID string, state models.OpState, retryCount int, errMessage string) error {
	query := `UPDATE operations SET state = ?, retry_count = ?, error_message = ?, updated_at = ?
	WHERE op_id = ?`
	if _, err := s.db.ExecContext(ctx, query, string(state), retryCount, errMessage, fmtTime(time.Now()), opID); err != nil {
		return fmt.Errorf("failed to record failure for operation %s: %w", opID, err)
	}
	return nil
}

// DeleteFinishedBefore removes CONFIRMED/FAILED rows created before the
// cutoff. In-flight rows are never touched regardless of age.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM operations
	WHERE state IN ('CONFIRMED', 'FAILED') AND created_at < ?`
	res, err := s.db.ExecContext(ctx, query, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted operations: %w", err)
	}
	return n, nil
}

func (s *Store) scanOneOperation(row *sql.Row) (*models.Operation, error) {
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}
	return op, nil
}

func scanOperation(row rowScanner) (*models.Operation, error) {
	var (
		op           models.Operation
		opType       string
		payload      string
		state        string
		errMessage   sql.NullString
		remoteResult sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&op.OpID, &op.IdempotencyKey, &op.FileKey, &opType, &payload, &state,
		&op.RetryCount, &errMessage, &remoteResult, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	op.OpType = models.OpType(opType)
	op.Payload = []byte(payload)
	op.State = models.OpState(state)
	op.ErrorMessage = strPtr(errMessage)
	op.RemoteResultID = strPtr(remoteResult)
	op.CreatedAt = parseTime(createdAt)
	op.UpdatedAt = parseTime(updatedAt)

	return &op, nil
}
