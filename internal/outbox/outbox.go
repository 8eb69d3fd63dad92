// Package outbox is the durable queue of intended remote writes. Every
// write is fingerprinted for deduplication, retried up to a ceiling on
// transient failure, and confirmed or failed in place so callers can
// observe the outcome.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/figsync/internal/remote"
	"github.com/figsync/internal/sanitize"
	"github.com/figsync/internal/store"
	"github.com/figsync/pkg/models"
)

const (
	// MaxRetries is the attempt ceiling; a failing operation is tried
	// at most this many times before it is permanently FAILED.
	MaxRetries = 3

	// RetentionWindow is how long finished operations are kept before
	// cleanup removes them.
	RetentionWindow = 24 * time.Hour

	// staleClaimWindow is how long a PROCESSING claim is honored before
	// another drain may assume the claimer died and take the row over.
	staleClaimWindow = 5 * time.Minute
)

// payload is the stored argument set of an operation. Only the fields
// the op type needs are populated.
type payload struct {
	CommentID string `json:"comment_id"`
	Message   string `json:"message,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
}

// Outbox queues and dispatches remote writes for the sync core.
type Outbox struct {
	store         *store.Store
	client        remote.Client
	replyPrefix   string
	agentIdentity string
}

// New creates an outbox over the given store and remote capability.
func New(st *store.Store, client remote.Client, replyPrefix string) *Outbox {
	return &Outbox{
		store:         st,
		client:        client,
		replyPrefix:   replyPrefix,
		agentIdentity: DefaultAgentIdentity,
	}
}

// EnqueueReply queues an agent reply to a thread. The message is
// prefixed with the agent marker before fingerprinting, so re-wrapped
// retries of the same text dedupe.
func (o *Outbox) EnqueueReply(ctx context.Context, fileKey, rootCommentID, message string) (*models.EnqueueResult, error) {
	formatted := sanitize.FormatAgentReply(message, o.replyPrefix)
	key := IdempotencyKey(fileKey, rootCommentID, models.OpReply, formatted, o.agentIdentity)
	return o.enqueue(ctx, fileKey, models.OpReply, key, payload{
		CommentID: rootCommentID,
		Message:   formatted,
	})
}

// EnqueueAddReaction queues adding a status marker reaction.
func (o *Outbox) EnqueueAddReaction(ctx context.Context, fileKey, commentID, emoji string) (*models.EnqueueResult, error) {
	key := IdempotencyKey(fileKey, commentID, models.OpAddReaction, emoji, o.agentIdentity)
	return o.enqueue(ctx, fileKey, models.OpAddReaction, key, payload{
		CommentID: commentID,
		Emoji:     emoji,
	})
}

// EnqueueRemoveReaction queues removing a status marker reaction.
func (o *Outbox) EnqueueRemoveReaction(ctx context.Context, fileKey, commentID, emoji string) (*models.EnqueueResult, error) {
	key := IdempotencyKey(fileKey, commentID, models.OpRemoveReaction, emoji, o.agentIdentity)
	return o.enqueue(ctx, fileKey, models.OpRemoveReaction, key, payload{
		CommentID: commentID,
		Emoji:     emoji,
	})
}

// EnqueueDelete queues deleting one of the agent's own comments.
func (o *Outbox) EnqueueDelete(ctx context.Context, fileKey, commentID string) (*models.EnqueueResult, error) {
	key := IdempotencyKey(fileKey, commentID, models.OpDeleteComment, commentID, o.agentIdentity)
	return o.enqueue(ctx, fileKey, models.OpDeleteComment, key, payload{
		CommentID: commentID,
	})
}

func (o *Outbox) enqueue(ctx context.Context, fileKey string, opType models.OpType, key string, p payload) (*models.EnqueueResult, error) {
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation payload: %w", err)
	}

	op := &models.Operation{
		OpID:           uuid.NewString(),
		IdempotencyKey: key,
		FileKey:        fileKey,
		OpType:         opType,
		Payload:        payloadJSON,
		State:          models.OpStatePending,
		CreatedAt:      time.Now(),
	}

	err = o.store.InsertOperation(ctx, op)
	if err == nil {
		return &models.EnqueueResult{OpID: op.OpID, Status: models.EnqueueCreated}, nil
	}

	if store.IsUniqueViolation(err) {
		// Lost the race (or a genuine duplicate): map onto the winner.
		existing, lookupErr := o.store.GetOperationByKey(ctx, key)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			return &models.EnqueueResult{
				OpID:     existing.OpID,
				Status:   models.EnqueueDuplicate,
				Existing: existing,
			}, nil
		}
	}

	return nil, fmt.Errorf("failed to enqueue %s operation: %w", opType, err)
}

// Drain dispatches every runnable operation for a file in creation
// order. Each operation's outcome is independent: a failure is recorded
// on its row and the batch continues. Returns the number of operations
// confirmed in this pass.
func (o *Outbox) Drain(ctx context.Context, fileKey string) (int, error) {
	runnable, err := o.store.ListRunnable(ctx, fileKey, MaxRetries)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range runnable {
		op := &runnable[i]

		claimed, err := o.store.ClaimProcessing(ctx, op.OpID, time.Now().Add(-staleClaimWindow))
		if err != nil {
			return processed, err
		}
		if !claimed {
			// Another drain holds or already finished this row.
			continue
		}

		// Re-read after claiming: a concurrent drain may have bumped
		// the retry count since the listing.
		current, err := o.store.GetOperation(ctx, op.OpID)
		if err != nil {
			return processed, err
		}
		if current == nil || current.State != models.OpStateProcessing {
			continue
		}

		if o.dispatch(ctx, current) {
			processed++
		}
	}

	return processed, nil
}

// dispatch executes one claimed operation and records its outcome.
// Returns true when the operation was confirmed.
func (o *Outbox) dispatch(ctx context.Context, op *models.Operation) bool {
	var p payload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		o.recordFailure(ctx, op, fmt.Errorf("malformed payload: %w", err), true)
		return false
	}

	var remoteResultID *string
	var err error

	switch op.OpType {
	case models.OpReply:
		var posted *remote.PostedComment
		posted, err = o.client.PostComment(ctx, op.FileKey, remote.PostCommentRequest{
			Message:   p.Message,
			CommentID: p.CommentID,
		})
		if err == nil && posted != nil {
			remoteResultID = &posted.ID
		}
	case models.OpAddReaction:
		err = o.client.AddReaction(ctx, op.FileKey, p.CommentID, p.Emoji)
	case models.OpRemoveReaction:
		err = o.client.RemoveReaction(ctx, op.FileKey, p.CommentID, p.Emoji)
	case models.OpDeleteComment:
		err = o.client.DeleteComment(ctx, op.FileKey, p.CommentID)
	default:
		o.recordFailure(ctx, op, fmt.Errorf("unknown operation type %q", op.OpType), true)
		return false
	}

	if err != nil {
		o.recordFailure(ctx, op, err, false)
		return false
	}

	if markErr := o.store.MarkConfirmed(ctx, op.OpID, remoteResultID); markErr != nil {
		log.Error().Str("op_id", op.OpID).Err(markErr).Msg("Failed to confirm operation")
		return false
	}
	return true
}

// recordFailure bumps the retry count and reverts the row to PENDING,
// or marks it FAILED at the ceiling. Permanent input errors skip the
// retry budget entirely.
func (o *Outbox) recordFailure(ctx context.Context, op *models.Operation, cause error, permanent bool) {
	newRetryCount := op.RetryCount + 1
	newState := models.OpStatePending
	if permanent || newRetryCount >= MaxRetries {
		newState = models.OpStateFailed
	}

	if err := o.store.MarkFailure(ctx, op.OpID, newState, newRetryCount, cause.Error()); err != nil {
		log.Error().Str("op_id", op.OpID).Err(err).Msg("Failed to record operation failure")
		return
	}

	log.Warn().
		Str("op_id", op.OpID).
		Str("op_type", string(op.OpType)).
		Int("retry_count", newRetryCount).
		Int("max_retries", MaxRetries).
		Err(cause).
		Msg("Operation dispatch failed")
}

// Cleanup removes CONFIRMED/FAILED operations older than the retention
// window. In-flight operations are kept regardless of age.
func (o *Outbox) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := o.store.DeleteFinishedBefore(ctx, time.Now().Add(-RetentionWindow))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Debug().Int64("deleted", deleted).Msg("Cleaned up expired outbox operations")
	}
	return deleted, nil
}
