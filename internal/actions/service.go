// Package actions implements the caller-facing write flows: replying to
// a thread, changing its status, and deleting the agent's own replies.
// Every expected failure comes back as a structured result, never as an
// error; errors are reserved for storage or dispatch breakage.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/figsync/internal/outbox"
	"github.com/figsync/internal/reconcile"
	"github.com/figsync/internal/store"
	"github.com/figsync/pkg/models"
)

// Service wires the outbox and store into the exposed write flows.
type Service struct {
	store  *store.Store
	outbox *outbox.Outbox
}

// NewService creates the action service.
func NewService(st *store.Store, ob *outbox.Outbox) *Service {
	return &Service{store: st, outbox: ob}
}

// ReplyResult is the outcome of PostReply.
type ReplyResult struct {
	OpID    string `json:"op_id"`
	Status  string `json:"status"` // queued | duplicate | confirmed
	Message string `json:"message"`
}

// PostReply enqueues an agent reply to a thread and drains immediately
// so the caller observes a near-synchronous outcome.
func (s *Service) PostReply(ctx context.Context, fileKey, rootCommentID, message string) (*ReplyResult, error) {
	result, err := s.outbox.EnqueueReply(ctx, fileKey, rootCommentID, message)
	if err != nil {
		return nil, err
	}

	if result.Status == models.EnqueueDuplicate {
		existingState := models.OpState("UNKNOWN")
		if result.Existing != nil {
			existingState = result.Existing.State
		}
		return &ReplyResult{
			OpID:    result.OpID,
			Status:  "duplicate",
			Message: fmt.Sprintf("Duplicate operation detected (state: %s). Original op_id: %s", existingState, result.OpID),
		}, nil
	}

	if _, err := s.outbox.Drain(ctx, fileKey); err != nil {
		return nil, err
	}

	return &ReplyResult{
		OpID:    result.OpID,
		Status:  "confirmed",
		Message: fmt.Sprintf("Reply queued and dispatched. op_id: %s", result.OpID),
	}, nil
}

// StatusResult is the outcome of SetStatus.
type StatusResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	OpIDs   []string `json:"op_ids"`
}

// SetStatus changes a thread's status by managing marker reactions:
// the previous marker is removed, the new one added, the local row
// updated immediately, and the outbox drained. A comment unknown to the
// local store is a non-throwing failure telling the caller to sync.
func (s *Service) SetStatus(ctx context.Context, fileKey, commentID string, status models.Status) (*StatusResult, error) {
	comment, err := s.store.GetComment(ctx, fileKey, commentID)
	if err != nil {
		return nil, err
	}
	if comment == nil {
		return &StatusResult{
			Success: false,
			Message: fmt.Sprintf("Comment %s not found in local store. Run a sync first.", commentID),
			OpIDs:   []string{},
		}, nil
	}

	currentStatus := comment.LocalStatus
	currentMarker, hasCurrent := reconcile.StatusMarker(currentStatus)
	newMarker, hasNew := reconcile.StatusMarker(status)

	opIDs := []string{}

	if hasCurrent && currentMarker != newMarker {
		removeResult, err := s.outbox.EnqueueRemoveReaction(ctx, fileKey, commentID, currentMarker)
		if err != nil {
			return nil, err
		}
		opIDs = append(opIDs, removeResult.OpID)
	}

	if hasNew {
		addResult, err := s.outbox.EnqueueAddReaction(ctx, fileKey, commentID, newMarker)
		if err != nil {
			return nil, err
		}
		opIDs = append(opIDs, addResult.OpID)
	}

	// Local write first so the caller sees the change even if dispatch
	// is still retrying. Last local write wins on races; the next sync
	// reconciles.
	var markerPtr *string
	if hasNew {
		markerPtr = &newMarker
	}
	if err := s.store.UpdateStatus(ctx, fileKey, commentID, status, markerPtr); err != nil {
		return nil, err
	}

	if _, err := s.outbox.Drain(ctx, fileKey); err != nil {
		return nil, err
	}

	return &StatusResult{
		Success: true,
		Message: fmt.Sprintf("Status changed from %s to %s", currentStatus, status),
		OpIDs:   opIDs,
	}, nil
}

// DeleteResult is the outcome of DeleteOwnReply.
type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeleteOwnReply deletes a reply previously posted by the agent. Only
// agent-authored rows are deletable; anything else is a non-throwing
// failure.
func (s *Service) DeleteOwnReply(ctx context.Context, fileKey, commentID string) (*DeleteResult, error) {
	comment, err := s.store.GetComment(ctx, fileKey, commentID)
	if err != nil {
		return nil, err
	}
	if comment == nil {
		return &DeleteResult{
			Success: false,
			Message: fmt.Sprintf("Comment %s not found in local store.", commentID),
		}, nil
	}

	if !comment.PostedByAgent {
		return &DeleteResult{
			Success: false,
			Message: fmt.Sprintf("Comment %s was not posted by the agent. Only agent replies can be deleted.", commentID),
		}, nil
	}

	result, err := s.outbox.EnqueueDelete(ctx, fileKey, commentID)
	if err != nil {
		return nil, err
	}
	if result.Status == models.EnqueueDuplicate {
		return &DeleteResult{
			Success: false,
			Message: fmt.Sprintf("Delete operation for comment %s already exists.", commentID),
		}, nil
	}

	if _, err := s.outbox.Drain(ctx, fileKey); err != nil {
		return nil, err
	}

	if err := s.store.SoftDelete(ctx, fileKey, commentID, time.Now()); err != nil {
		return nil, err
	}

	log.Debug().Str("file_key", fileKey).Str("comment_id", commentID).Msg("Agent reply deleted")

	return &DeleteResult{
		Success: true,
		Message: fmt.Sprintf("Reply %s deleted.", commentID),
	}, nil
}
