package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/figsync/internal/retry"
)

const (
	defaultBaseURL = "https://api.figma.com"
	callTimeout    = 30 * time.Second

	// Stored-token key in the local config table, written by the auth
	// flow; a configured personal access token takes precedence.
	accessTokenKey = "access_token"
)

// TokenSource resolves the access token used for each request.
type TokenSource interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
}

// FigmaClient posts outbound requests to the Figma REST API.
type FigmaClient struct {
	httpClient *http.Client
	baseURL    string
	pat        string
	tokens     TokenSource

	// Tier-2 rate assumptions: reads spaced 100ms apart, writes 1/s.
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	retryConfig retry.Config
}

// NewFigmaClient creates a client with sane defaults. pat may be empty,
// in which case the stored OAuth token from tokens is used.
func NewFigmaClient(baseURL, pat string, tokens TokenSource) *FigmaClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &FigmaClient{
		httpClient:   &http.Client{Timeout: callTimeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		pat:          pat,
		tokens:       tokens,
		readLimiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		writeLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		retryConfig:  retry.DefaultConfig(),
	}
}

// FetchComments returns all comments and their reactions for a file.
func (c *FigmaClient) FetchComments(ctx context.Context, fileKey string) (*CommentSet, error) {
	if err := c.readLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out CommentSet
	path := fmt.Sprintf("/v1/files/%s/comments", url.PathEscape(fileKey))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch comments for %s: %w", fileKey, err)
	}
	return &out, nil
}

// WhoAmI resolves the authenticated account.
func (c *FigmaClient) WhoAmI(ctx context.Context) (*User, error) {
	if err := c.readLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out User
	if err := c.do(ctx, http.MethodGet, "/v1/me", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to resolve bot identity: %w", err)
	}
	return &out, nil
}

// PostComment creates a comment or a threaded reply.
func (c *FigmaClient) PostComment(ctx context.Context, fileKey string, req PostCommentRequest) (*PostedComment, error) {
	if req.Message == "" {
		return nil, errors.New("comment message cannot be empty")
	}
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out PostedComment
	path := fmt.Sprintf("/v1/files/%s/comments", url.PathEscape(fileKey))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, fmt.Errorf("failed to post comment: %w", err)
	}
	return &out, nil
}

// DeleteComment deletes a comment. Only the author's own comments can
// be deleted.
func (c *FigmaClient) DeleteComment(ctx context.Context, fileKey, commentID string) error {
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/files/%s/comments/%s", url.PathEscape(fileKey), url.PathEscape(commentID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete comment %s: %w", commentID, err)
	}
	return nil
}

// AddReaction adds an emoji reaction to a comment.
func (c *FigmaClient) AddReaction(ctx context.Context, fileKey, commentID, emoji string) error {
	if emoji == "" {
		return errors.New("emoji value cannot be empty")
	}
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/files/%s/comments/%s/reactions", url.PathEscape(fileKey), url.PathEscape(commentID))
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, nil); err != nil {
		return fmt.Errorf("failed to add reaction to %s: %w", commentID, err)
	}
	return nil
}

// RemoveReaction removes the bot's own emoji reaction from a comment.
func (c *FigmaClient) RemoveReaction(ctx context.Context, fileKey, commentID, emoji string) error {
	if emoji == "" {
		return errors.New("emoji value cannot be empty")
	}
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/files/%s/comments/%s/reactions?emoji=%s",
		url.PathEscape(fileKey), url.PathEscape(commentID), url.QueryEscape(emoji))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to remove reaction from %s: %w", commentID, err)
	}
	return nil
}

func (c *FigmaClient) do(ctx context.Context, method, path string, requestBody, responseBody any) error {
	var jsonBody []byte
	if requestBody != nil {
		var err error
		jsonBody, err = json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	// Short in-call retry for transient failures; the outbox owns
	// longer-horizon retries of whole operations.
	return retry.Do(ctx, c.retryConfig, IsTransient, func() error {
		return c.doOnce(ctx, method, path, jsonBody, responseBody)
	})
}

func (c *FigmaClient) doOnce(ctx context.Context, method, path string, jsonBody []byte, responseBody any) error {
	var body io.Reader
	if jsonBody != nil {
		body = bytes.NewReader(jsonBody)
	}

	requestCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.authorize(requestCtx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Err: err, Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		log.Warn().Str("retry_after", retryAfter).Msg("Figma API rate limited")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			Transient:  isTransientStatus(resp.StatusCode),
		}
	}

	if responseBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(responseBody); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *FigmaClient) authorize(ctx context.Context, req *http.Request) error {
	if c.pat != "" {
		req.Header.Set("X-Figma-Token", c.pat)
		return nil
	}

	if c.tokens != nil {
		token, ok, err := c.tokens.GetConfigValue(ctx, accessTokenKey)
		if err != nil {
			return fmt.Errorf("failed to read stored access token: %w", err)
		}
		if ok && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		}
	}

	return errors.New("no Figma access token configured; set figma.token or authenticate first")
}
