package syncengine

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/figsync/internal/remote"
	"github.com/figsync/internal/sanitize"
	"github.com/figsync/pkg/models"
)

// commentGroup is one remote thread: a root and its fetched replies.
type commentGroup struct {
	root    remote.Comment
	replies []remote.Comment
}

// groupByThread splits a fetched comment set into threads. A comment
// whose parent id matches no root in the same fetch is an orphan and is
// dropped; it never attaches to a synthetic root and never surfaces as
// an error. Replies are ordered by creation time within each group.
func groupByThread(comments []remote.Comment) map[string]*commentGroup {
	groups := make(map[string]*commentGroup)

	for _, c := range comments {
		if c.ParentID == "" {
			groups[c.ID] = &commentGroup{root: c}
		}
	}

	for _, c := range comments {
		if c.ParentID == "" {
			continue
		}
		group, ok := groups[c.ParentID]
		if !ok {
			log.Debug().
				Str("comment_id", c.ID).
				Str("parent_id", c.ParentID).
				Msg("Dropping orphaned reply with unknown parent")
			continue
		}
		group.replies = append(group.replies, c)
	}

	for _, group := range groups {
		sort.SliceStable(group.replies, func(i, j int) bool {
			return group.replies[i].CreatedAt.Before(group.replies[j].CreatedAt)
		})
	}

	return groups
}

// toReactions converts fetched reactions to their stored form.
func toReactions(reactions []remote.Reaction) []models.Reaction {
	if reactions == nil {
		return nil
	}
	out := make([]models.Reaction, 0, len(reactions))
	for _, r := range reactions {
		out = append(out, models.Reaction{
			UserID:     r.User.ID,
			UserHandle: r.User.Handle,
			Emoji:      r.Emoji,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out
}

// aggregateReactions collapses a reaction list by emoji, marking the
// emojis the bot itself reacted with.
func aggregateReactions(reactions []models.Reaction, botUserID string) []models.AggregatedReaction {
	type agg struct {
		count     int
		meReacted bool
	}
	byEmoji := make(map[string]*agg)
	var order []string

	for _, r := range reactions {
		a, ok := byEmoji[r.Emoji]
		if !ok {
			a = &agg{}
			byEmoji[r.Emoji] = a
			order = append(order, r.Emoji)
		}
		a.count++
		if r.UserID == botUserID {
			a.meReacted = true
		}
	}

	out := make([]models.AggregatedReaction, 0, len(order))
	for _, emoji := range order {
		a := byEmoji[emoji]
		out = append(out, models.AggregatedReaction{
			Emoji:     emoji,
			Count:     a.count,
			MeReacted: a.meReacted,
		})
	}
	return out
}

// isAgentComment reports whether a stored comment is attributable to
// the agent, by identity match or reply-prefix match.
func isAgentComment(authorID, text, botUserID, prefix string) bool {
	return sanitize.IsAgentMessage(text, prefix) || (botUserID != "" && authorID == botUserID)
}

// buildThread materializes the caller-facing thread projection from
// stored rows. All free text passes through the sanitizer exactly once.
func buildThread(root *models.Comment, replies []models.Comment, status models.Status, botUserID, prefix string) models.Thread {
	handle := ""
	if root.AuthorHandle != nil {
		handle = *root.AuthorHandle
	}

	thread := models.Thread{
		ID:      root.ID,
		FileKey: root.FileKey,
		Status:  status,
		Root: models.RootComment{
			ID:        root.ID,
			Text:      sanitize.ForLLM(root.Text),
			Author:    models.Author{ID: root.AuthorID, Handle: handle},
			CreatedAt: root.CreatedAt,
			Reactions: aggregateReactions(root.Reactions, botUserID),
		},
	}

	lastIsAgent := false
	for _, r := range replies {
		replyHandle := ""
		if r.AuthorHandle != nil {
			replyHandle = *r.AuthorHandle
		}
		isAgent := isAgentComment(r.AuthorID, r.Text, botUserID, prefix)
		lastIsAgent = isAgent
		thread.Replies = append(thread.Replies, models.Reply{
			ID:        r.ID,
			Text:      sanitize.ForLLM(r.Text),
			Author:    models.Author{ID: r.AuthorID, Handle: replyHandle},
			CreatedAt: r.CreatedAt,
			IsAgent:   isAgent,
		})
	}

	thread.NeedsAttention = status.Actionable() && !lastIsAgent
	return thread
}

// sortThreads orders a result set attention-first, then newest root
// first.
func sortThreads(threads []models.Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		if threads[i].NeedsAttention != threads[j].NeedsAttention {
			return threads[i].NeedsAttention
		}
		return threads[i].Root.CreatedAt.After(threads[j].Root.CreatedAt)
	})
}
