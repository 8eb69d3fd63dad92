// Package syncengine reconciles remote comment threads into the local
// store and builds the attention-ranked projection callers consume.
package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/figsync/internal/outbox"
	"github.com/figsync/internal/reconcile"
	"github.com/figsync/internal/remote"
	"github.com/figsync/internal/store"
	"github.com/figsync/pkg/models"
)

// Engine orchestrates full syncs and local thread reads for one store.
type Engine struct {
	store       *store.Store
	client      remote.Client
	outbox      *outbox.Outbox
	replyPrefix string
	locks       *keyedLocks
}

// New creates a sync engine. The outbox may be nil, in which case no
// opportunistic drain runs after a sync.
func New(st *store.Store, client remote.Client, ob *outbox.Outbox, replyPrefix string) *Engine {
	return &Engine{
		store:       st,
		client:      client,
		outbox:      ob,
		replyPrefix: replyPrefix,
		locks:       newKeyedLocks(),
	}
}

// FullSync fetches the complete remote comment set for a file, merges
// it into the local store under the reconciliation policy, and returns
// the actionable threads. Concurrent calls for the same file serialize
// on a per-file lock; different files run in parallel.
//
// With force set, remote silence maps to OPEN unconditionally (local
// history is ignored) and closed threads are included in the result.
func (e *Engine) FullSync(ctx context.Context, fileKey string, force bool) (*models.SyncResult, error) {
	release := e.locks.Acquire(fileKey)
	defer release()

	botUserID, err := e.ensureBotUserID(ctx, fileKey)
	if err != nil {
		return nil, err
	}

	fetched, err := e.client.FetchComments(ctx, fileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote comments: %w", err)
	}

	groups := groupByThread(fetched.Comments)

	existing, err := e.store.ListByFile(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	existingRoots := make(map[string]*models.Comment)
	for i := range existing {
		if existing[i].IsRoot() {
			existingRoots[existing[i].ID] = &existing[i]
		}
	}

	stats := models.SyncStats{
		TotalThreads:         len(groups),
		TotalCommentsFetched: len(fetched.Comments),
	}

	// One transaction covers the whole batch of thread upserts: either
	// every row of this sync lands or none does.
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	finalStatuses := make(map[string]models.Status, len(groups))

	for rootID, group := range groups {
		existingRoot := existingRoots[rootID]

		rootReactions := toReactions(group.root.Reactions)
		remoteSignal, hasSignal := reconcile.ResolveRemoteSignal(rootReactions)

		currentLocal := models.StatusOpen
		if existingRoot != nil {
			currentLocal = existingRoot.LocalStatus
		}

		var finalStatus models.Status
		if force {
			finalStatus = models.StatusOpen
			if hasSignal {
				finalStatus = remoteSignal
			}
		} else {
			finalStatus = reconcile.Reconcile(remoteSignal, hasSignal, currentLocal)
		}
		finalStatuses[rootID] = finalStatus

		var remoteEmoji *string
		if hasSignal {
			if marker, ok := reconcile.FirstMarker(rootReactions); ok {
				remoteEmoji = &marker
			}
		}

		rootRow := e.toStoredComment(fileKey, rootID, group.root, botUserID)
		rootRow.RemoteStatusEmoji = remoteEmoji
		rootRow.LocalStatus = finalStatus
		if err := e.store.UpsertRoot(ctx, tx, rootRow); err != nil {
			return nil, err
		}

		for _, reply := range group.replies {
			replyRow := e.toStoredComment(fileKey, rootID, reply, botUserID)
			if err := e.store.UpsertReply(ctx, tx, replyRow); err != nil {
				return nil, err
			}
		}

		if existingRoot == nil {
			stats.NewThreads++
		} else if existingRoot.LocalStatus != finalStatus || existingRoot.Text != group.root.Message {
			stats.UpdatedThreads++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sync batch: %w", err)
	}
	committed = true

	if err := e.store.TouchLastFullSync(ctx, fileKey, time.Now()); err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(groups))
	for rootID, group := range groups {
		// Re-read the committed status: a soft-deleted root keeps its
		// stored state rather than what this batch computed.
		status := finalStatuses[rootID]
		if stored, err := e.store.GetComment(ctx, fileKey, rootID); err == nil && stored != nil {
			status = stored.LocalStatus
		}

		if !status.Actionable() && !force {
			continue
		}

		rootRow := e.toStoredComment(fileKey, rootID, group.root, botUserID)
		replyRows := make([]models.Comment, 0, len(group.replies))
		for _, reply := range group.replies {
			replyRows = append(replyRows, *e.toStoredComment(fileKey, rootID, reply, botUserID))
		}
		threads = append(threads, buildThread(rootRow, replyRows, status, botUserID, e.replyPrefix))
	}
	sortThreads(threads)

	log.Info().
		Str("file_key", fileKey).
		Int("total_threads", stats.TotalThreads).
		Int("new_threads", stats.NewThreads).
		Int("updated_threads", stats.UpdatedThreads).
		Int("comments_fetched", stats.TotalCommentsFetched).
		Msg("Full sync completed")

	// Opportunistic flush of queued writes. A drain failure never fails
	// the sync itself.
	if e.outbox != nil {
		if _, err := e.outbox.Drain(ctx, fileKey); err != nil {
			log.Warn().Str("file_key", fileKey).Err(err).Msg("Post-sync outbox drain failed")
		}
	}

	return &models.SyncResult{Threads: threads, Stats: stats}, nil
}

// GetThread reconstructs one thread from the local store. No network
// calls. Returns nil when the root does not exist locally.
func (e *Engine) GetThread(ctx context.Context, fileKey, threadID string) (*models.Thread, error) {
	botUserID, err := e.ensureBotUserID(ctx, fileKey)
	if err != nil {
		return nil, err
	}

	root, err := e.store.GetRoot(ctx, fileKey, threadID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	replies, err := e.store.ListReplies(ctx, fileKey, threadID)
	if err != nil {
		return nil, err
	}

	thread := buildThread(root, replies, root.LocalStatus, botUserID, e.replyPrefix)
	return &thread, nil
}

// ListOpenThreads returns up to limit actionable threads from the local
// store, attention-first. No network calls.
func (e *Engine) ListOpenThreads(ctx context.Context, fileKey string, limit int) ([]models.Thread, error) {
	if limit <= 0 {
		limit = 20
	}

	botUserID, err := e.ensureBotUserID(ctx, fileKey)
	if err != nil {
		return nil, err
	}

	roots, err := e.store.ListOpenRoots(ctx, fileKey, limit)
	if err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(roots))
	for i := range roots {
		replies, err := e.store.ListReplies(ctx, fileKey, roots[i].ID)
		if err != nil {
			return nil, err
		}
		threads = append(threads, buildThread(&roots[i], replies, roots[i].LocalStatus, botUserID, e.replyPrefix))
	}

	sortThreads(threads)
	return threads, nil
}

// ensureBotUserID returns the cached bot identity for a file, resolving
// it through the remote API exactly once per file.
func (e *Engine) ensureBotUserID(ctx context.Context, fileKey string) (string, error) {
	state, err := e.store.GetSyncState(ctx, fileKey)
	if err != nil {
		return "", err
	}
	if state != nil && state.BotUserID != nil && *state.BotUserID != "" {
		return *state.BotUserID, nil
	}

	me, err := e.client.WhoAmI(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve bot identity: %w", err)
	}

	if err := e.store.UpsertBotUser(ctx, fileKey, me.ID); err != nil {
		return "", err
	}
	return me.ID, nil
}

// toStoredComment converts a fetched comment into its stored row shape.
func (e *Engine) toStoredComment(fileKey, rootID string, c remote.Comment, botUserID string) *models.Comment {
	row := &models.Comment{
		ID:            c.ID,
		FileKey:       fileKey,
		RootID:        rootID,
		Text:          c.Message,
		AuthorID:      c.User.ID,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.ResolvedAt,
		Reactions:     toReactions(c.Reactions),
		LocalStatus:   models.StatusOpen,
		PostedByAgent: isAgentComment(c.User.ID, c.Message, botUserID, e.replyPrefix),
	}
	if c.User.Handle != "" {
		handle := c.User.Handle
		row.AuthorHandle = &handle
	}
	if c.ParentID != "" {
		parent := c.ParentID
		row.ParentID = &parent
	}
	return row
}
