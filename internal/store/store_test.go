package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/figsync/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "figsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strp(s string) *string { return &s }

func rootComment(id, fileKey string, createdAt time.Time) *models.Comment {
	return &models.Comment{
		ID:           id,
		FileKey:      fileKey,
		RootID:       id,
		Text:         "root text",
		AuthorID:     "author-1",
		AuthorHandle: strp("alice"),
		CreatedAt:    createdAt,
		LocalStatus:  models.StatusOpen,
	}
}

func TestCommentUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	t.Run("insert and read back root", func(t *testing.T) {
		root := rootComment("c1", "f1", now)
		root.Reactions = []models.Reaction{{UserID: "u1", Emoji: ":heart:", CreatedAt: now}}
		require.NoError(t, s.UpsertRoot(ctx, s.db, root))

		got, err := s.GetRoot(ctx, "f1", "c1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "root text", got.Text)
		assert.Equal(t, models.StatusOpen, got.LocalStatus)
		assert.Nil(t, got.ParentID)
		assert.Equal(t, "c1", got.RootID)
		require.Len(t, got.Reactions, 1)
		assert.Equal(t, ":heart:", got.Reactions[0].Emoji)
		assert.Equal(t, "u1", got.Reactions[0].UserID)
	})

	t.Run("conflict updates mirror fields", func(t *testing.T) {
		root := rootComment("c1", "f1", now)
		root.Text = "edited text"
		root.LocalStatus = models.StatusDone
		root.RemoteStatusEmoji = strp(":white_check_mark:")
		require.NoError(t, s.UpsertRoot(ctx, s.db, root))

		got, err := s.GetRoot(ctx, "f1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "edited text", got.Text)
		assert.Equal(t, models.StatusDone, got.LocalStatus)
		require.NotNil(t, got.RemoteStatusEmoji)
		assert.Equal(t, ":white_check_mark:", *got.RemoteStatusEmoji)
	})

	t.Run("upsert never resurrects a soft-deleted row", func(t *testing.T) {
		require.NoError(t, s.SoftDelete(ctx, "f1", "c1", now))

		root := rootComment("c1", "f1", now)
		require.NoError(t, s.UpsertRoot(ctx, s.db, root))

		got, err := s.GetRoot(ctx, "f1", "c1")
		require.NoError(t, err)
		assert.NotNil(t, got.DeletedAt)
	})

	t.Run("reply upsert keeps status and orders by creation", func(t *testing.T) {
		for i, id := range []string{"r3", "r1", "r2"} {
			offset := map[string]time.Duration{"r1": 1, "r2": 2, "r3": 3}[id]
			reply := &models.Comment{
				ID:        id,
				FileKey:   "f1",
				ParentID:  strp("c1"),
				RootID:    "c1",
				Text:      "reply",
				AuthorID:  "author-2",
				CreatedAt: now.Add(offset * time.Second),
			}
			require.NoError(t, s.UpsertReply(ctx, s.db, reply), "insert %d", i)
		}

		replies, err := s.ListReplies(ctx, "f1", "c1")
		require.NoError(t, err)
		require.Len(t, replies, 3)
		assert.Equal(t, "r1", replies[0].ID)
		assert.Equal(t, "r2", replies[1].ID)
		assert.Equal(t, "r3", replies[2].ID)
		assert.Equal(t, models.StatusOpen, replies[0].LocalStatus)
	})

	t.Run("missing row is nil not error", func(t *testing.T) {
		got, err := s.GetComment(ctx, "f1", "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestListOpenRoots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	mk := func(id string, status models.Status, offset time.Duration) {
		root := rootComment(id, "f1", now.Add(offset))
		root.LocalStatus = status
		require.NoError(t, s.UpsertRoot(ctx, s.db, root))
	}

	mk("open-old", models.StatusOpen, 0)
	mk("open-new", models.StatusOpen, 2*time.Second)
	mk("pending", models.StatusPending, time.Second)
	mk("done", models.StatusDone, 3*time.Second)
	mk("deleted", models.StatusOpen, 4*time.Second)
	require.NoError(t, s.SoftDelete(ctx, "f1", "deleted", now))

	roots, err := s.ListOpenRoots(ctx, "f1", 10)
	require.NoError(t, err)
	require.Len(t, roots, 3)
	assert.Equal(t, "open-new", roots[0].ID) // newest first
	assert.Equal(t, "pending", roots[1].ID)
	assert.Equal(t, "open-old", roots[2].ID)

	limited, err := s.ListOpenRoots(ctx, "f1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRoot(ctx, s.db, rootComment("c1", "f1", time.Now())))

	require.NoError(t, s.UpdateStatus(ctx, "f1", "c1", models.StatusWontfix, strp(":no_entry_sign:")))
	got, err := s.GetRoot(ctx, "f1", "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWontfix, got.LocalStatus)

	err = s.UpdateStatus(ctx, "f1", "missing", models.StatusDone, nil)
	assert.Error(t, err)
}

func TestOperationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	op := &models.Operation{
		OpID:           "op-1",
		IdempotencyKey: "key-1",
		FileKey:        "f1",
		OpType:         models.OpReply,
		Payload:        []byte(`{"comment_id":"c1","message":"hi"}`),
		State:          models.OpStatePending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.InsertOperation(ctx, op))

	t.Run("duplicate key is a unique violation", func(t *testing.T) {
		dup := *op
		dup.OpID = "op-2"
		err := s.InsertOperation(ctx, &dup)
		require.Error(t, err)
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("lookup by key", func(t *testing.T) {
		got, err := s.GetOperationByKey(ctx, "key-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "op-1", got.OpID)
		assert.JSONEq(t, `{"comment_id":"c1","message":"hi"}`, string(got.Payload))
	})

	t.Run("claim and confirm", func(t *testing.T) {
		claimed, err := s.ClaimProcessing(ctx, "op-1", time.Now().Add(-5*time.Minute))
		require.NoError(t, err)
		assert.True(t, claimed)

		require.NoError(t, s.MarkConfirmed(ctx, "op-1", strp("remote-9")))

		got, err := s.GetOperation(ctx, "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.OpStateConfirmed, got.State)
		require.NotNil(t, got.RemoteResultID)
		assert.Equal(t, "remote-9", *got.RemoteResultID)

		// A finished row cannot be re-claimed
		claimed, err = s.ClaimProcessing(ctx, "op-1", time.Now().Add(-5*time.Minute))
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("runnable excludes exhausted retries", func(t *testing.T) {
		op2 := &models.Operation{
			OpID:           "op-3",
			IdempotencyKey: "key-3",
			FileKey:        "f1",
			OpType:         models.OpDeleteComment,
			Payload:        []byte(`{"comment_id":"c2"}`),
			State:          models.OpStatePending,
			CreatedAt:      time.Now(),
		}
		require.NoError(t, s.InsertOperation(ctx, op2))
		require.NoError(t, s.MarkFailure(ctx, "op-3", models.OpStatePending, 3, "boom"))

		runnable, err := s.ListRunnable(ctx, "f1", 3)
		require.NoError(t, err)
		assert.Empty(t, runnable)
	})
}

func TestDeleteFinishedBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	insert := func(opID, key string, state models.OpState, createdAt time.Time) {
		op := &models.Operation{
			OpID:           opID,
			IdempotencyKey: key,
			FileKey:        "f1",
			OpType:         models.OpReply,
			Payload:        []byte(`{}`),
			State:          models.OpStatePending,
			CreatedAt:      createdAt,
		}
		require.NoError(t, s.InsertOperation(ctx, op))
		if state != models.OpStatePending {
			if state == models.OpStateConfirmed {
				require.NoError(t, s.MarkConfirmed(ctx, opID, nil))
			} else {
				require.NoError(t, s.MarkFailure(ctx, opID, state, 3, "x"))
			}
		}
	}

	insert("old-confirmed", "k1", models.OpStateConfirmed, old)
	insert("old-failed", "k2", models.OpStateFailed, old)
	insert("old-pending", "k3", models.OpStatePending, old)
	insert("new-confirmed", "k4", models.OpStateConfirmed, time.Now())

	deleted, err := s.DeleteFinishedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	// Pending rows survive regardless of age
	got, err := s.GetOperation(ctx, "old-pending")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = s.GetOperation(ctx, "new-confirmed")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSyncState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t.Run("absent state is nil", func(t *testing.T) {
		state, err := s.GetSyncState(ctx, "f1")
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("bot user round-trip", func(t *testing.T) {
		require.NoError(t, s.UpsertBotUser(ctx, "f1", "bot-1"))
		state, err := s.GetSyncState(ctx, "f1")
		require.NoError(t, err)
		require.NotNil(t, state)
		require.NotNil(t, state.BotUserID)
		assert.Equal(t, "bot-1", *state.BotUserID)
	})

	t.Run("last sync stamp does not clear bot user", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.TouchLastFullSync(ctx, "f1", now))
		state, err := s.GetSyncState(ctx, "f1")
		require.NoError(t, err)
		require.NotNil(t, state.BotUserID)
		require.NotNil(t, state.LastFullSyncAt)
		assert.WithinDuration(t, now, *state.LastFullSyncAt, time.Second)
	})
}

func TestConfigKV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetConfigValue(ctx, "access_token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfigValue(ctx, "access_token", "tok-1"))
	require.NoError(t, s.SetConfigValue(ctx, "access_token", "tok-2"))

	value, ok, err := s.GetConfigValue(ctx, "access_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-2", value)
}

func TestClaimProcessingExclusivity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	staleBefore := time.Now().Add(-5 * time.Minute)

	op := &models.Operation{
		OpID:           "op-claim",
		IdempotencyKey: "key-claim",
		FileKey:        "f1",
		OpType:         models.OpReply,
		Payload:        []byte(`{}`),
		State:          models.OpStatePending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.InsertOperation(ctx, op))

	t.Run("only one claimer wins", func(t *testing.T) {
		claimed, err := s.ClaimProcessing(ctx, "op-claim", staleBefore)
		require.NoError(t, err)
		assert.True(t, claimed)

		// The row is PROCESSING and freshly updated: a second drain
		// must not take it over.
		claimed, err = s.ClaimProcessing(ctx, "op-claim", staleBefore)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("stale claims are recoverable", func(t *testing.T) {
		// Simulate a dispatcher that died mid-flight long ago.
		_, err := s.db.ExecContext(ctx,
			`UPDATE operations SET updated_at = ? WHERE op_id = ?`,
			fmtTime(time.Now().Add(-time.Hour)), "op-claim")
		require.NoError(t, err)

		claimed, err := s.ClaimProcessing(ctx, "op-claim", staleBefore)
		require.NoError(t, err)
		assert.True(t, claimed)
	})
}

func TestTimestampOrderingMixedPrecision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	whole := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)

	t.Run("replies", func(t *testing.T) {
		require.NoError(t, s.UpsertRoot(ctx, s.db, rootComment("root", "f1", whole.Add(-time.Minute))))

		// Insert the later, sub-second reply first; a whole-second
		// timestamp must still sort ahead of it.
		for _, r := range []struct {
			id string
			at time.Time
		}{{"r-late", half}, {"r-early", whole}} {
			reply := &models.Comment{
				ID:        r.id,
				FileKey:   "f1",
				ParentID:  strp("root"),
				RootID:    "root",
				Text:      "reply",
				AuthorID:  "author-1",
				CreatedAt: r.at,
			}
			require.NoError(t, s.UpsertReply(ctx, s.db, reply))
		}

		replies, err := s.ListReplies(ctx, "f1", "root")
		require.NoError(t, err)
		require.Len(t, replies, 2)
		assert.Equal(t, "r-early", replies[0].ID)
		assert.Equal(t, "r-late", replies[1].ID)
	})

	t.Run("runnable operations", func(t *testing.T) {
		for _, o := range []struct {
			id string
			at time.Time
		}{{"op-late", half}, {"op-early", whole}} {
			op := &models.Operation{
				OpID:           o.id,
				IdempotencyKey: "key-" + o.id,
				FileKey:        "f1",
				OpType:         models.OpReply,
				Payload:        []byte(`{}`),
				State:          models.OpStatePending,
				CreatedAt:      o.at,
			}
			require.NoError(t, s.InsertOperation(ctx, op))
		}

		runnable, err := s.ListRunnable(ctx, "f1", 3)
		require.NoError(t, err)
		require.Len(t, runnable, 2)
		assert.Equal(t, "op-early", runnable[0].OpID)
		assert.Equal(t, "op-late", runnable[1].OpID)
	})
}
