// Package remote speaks to the collaboration service's comment API.
// The Client interface is the capability the sync engine and outbox
// consume; FigmaClient is the HTTP implementation.
package remote

import (
	"context"
	"time"
)

// User identifies a remote account.
type User struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// Reaction is an emoji reaction as returned by the comments API.
type Reaction struct {
	User      User      `json:"user"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a single remote comment. ParentID is empty for roots.
type Comment struct {
	ID         string     `json:"id"`
	FileKey    string     `json:"file_key"`
	ParentID   string     `json:"parent_id"`
	User       User       `json:"user"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
	Message    string     `json:"message"`
	Reactions  []Reaction `json:"reactions"`
}

// CommentSet is the full comment listing for one file.
type CommentSet struct {
	Comments []Comment `json:"comments"`
}

// PostCommentRequest creates a comment; CommentID, when set, makes the
// new comment a reply to that thread.
type PostCommentRequest struct {
	Message   string `json:"message"`
	CommentID string `json:"comment_id,omitempty"`
}

// PostedComment is the remote service's acknowledgement of a post.
type PostedComment struct {
	ID string `json:"id"`
}

// Client is the remote comment API capability. Every call blocks and
// returns an error classifiable via IsTransient.
type Client interface {
	FetchComments(ctx context.Context, fileKey string) (*CommentSet, error)
	WhoAmI(ctx context.Context) (*User, error)
	PostComment(ctx context.Context, fileKey string, req PostCommentRequest) (*PostedComment, error)
	DeleteComment(ctx context.Context, fileKey, commentID string) error
	AddReaction(ctx context.Context, fileKey, commentID, emoji string) error
	RemoveReaction(ctx context.Context, fileKey, commentID, emoji string) error
}
