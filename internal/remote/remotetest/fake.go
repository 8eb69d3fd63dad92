// Package remotetest provides an in-memory Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/figsync/internal/remote"
)

// Call records one invocation against the fake.
type Call struct {
	Method    string
	FileKey   string
	CommentID string
	Emoji     string
	Message   string
}

// FakeClient is a scriptable remote.Client. Comments returns the canned
// listing, Bot is the WhoAmI identity, and Fail maps a method name
// ("PostComment", "AddReaction", ...) to an error returned on each call
// until cleared.
type FakeClient struct {
	mu       sync.Mutex
	Comments []remote.Comment
	Bot      remote.User
	Fail     map[string]error
	Calls    []Call

	nextID int
}

// NewFakeClient returns a fake with a default bot identity and no
// scripted failures.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Bot:  remote.User{ID: "bot-user", Handle: "figsync-bot"},
		Fail: map[string]error{},
	}
}

// FailWith scripts every subsequent call of the named method to fail.
func (f *FakeClient) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail[method] = err
}

// Heal clears a scripted failure.
func (f *FakeClient) Heal(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Fail, method)
}

// CallsTo returns the recorded calls for one method.
func (f *FakeClient) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeClient) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)
	return f.Fail[c.Method]
}

func (f *FakeClient) FetchComments(ctx context.Context, fileKey string) (*remote.CommentSet, error) {
	if err := f.record(Call{Method: "FetchComments", FileKey: fileKey}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	comments := make([]remote.Comment, len(f.Comments))
	copy(comments, f.Comments)
	return &remote.CommentSet{Comments: comments}, nil
}

func (f *FakeClient) WhoAmI(ctx context.Context) (*remote.User, error) {
	if err := f.record(Call{Method: "WhoAmI"}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	bot := f.Bot
	return &bot, nil
}

func (f *FakeClient) PostComment(ctx context.Context, fileKey string, req remote.PostCommentRequest) (*remote.PostedComment, error) {
	err := f.record(Call{
		Method:    "PostComment",
		FileKey:   fileKey,
		CommentID: req.CommentID,
		Message:   req.Message,
	})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return &remote.PostedComment{ID: fmt.Sprintf("posted-%d", f.nextID)}, nil
}

func (f *FakeClient) DeleteComment(ctx context.Context, fileKey, commentID string) error {
	return f.record(Call{Method: "DeleteComment", FileKey: fileKey, CommentID: commentID})
}

func (f *FakeClient) AddReaction(ctx context.Context, fileKey, commentID, emoji string) error {
	return f.record(Call{Method: "AddReaction", FileKey: fileKey, CommentID: commentID, Emoji: emoji})
}

func (f *FakeClient) RemoveReaction(ctx context.Context, fileKey, commentID, emoji string) error {
	return f.record(Call{Method: "RemoveReaction", FileKey: fileKey, CommentID: commentID, Emoji: emoji})
}
