// Package nexus implements the read-only feed client against the network
// indexer REST API.
package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PastaGringo/tagky/internal/domain"
	"go.uber.org/zap"
)

const (
	contentScanLimit = 20
	profileTagLimit  = 100
)

// Client fetches mentions, post streams and profile tags. Empty or non-JSON
// bodies are treated as empty results, never errors.
type Client struct {
	baseURL    string
	publicKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a feed client for the given indexer base URL.
func NewClient(baseURL, publicKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		publicKey: publicKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type mentionItem struct {
	Body struct {
		PostURI     string `json:"post_uri"`
		MentionedBy string `json:"mentioned_by"`
	} `json:"body"`
}

type postItem struct {
	Details struct {
		ID      string `json:"id"`
		URI     string `json:"uri"`
		Content string `json:"content"`
	} `json:"details"`
	URI     string `json:"uri"`
	Content string `json:"content"`
	Body    string `json:"body"`
}

type tagItem struct {
	Label string `json:"label"`
}

// Mentions fetches the most recent mention notifications for the agent.
func (c *Client) Mentions(ctx context.Context, limit int) ([]domain.Mention, error) {
	u := fmt.Sprintf("%s/v0/user/%s/notifications?type=mentioned_by&limit=%d",
		c.baseURL, url.PathEscape(c.publicKey), limit)

	var items []mentionItem
	if err := c.getJSON(ctx, u, &items); err != nil {
		return nil, fmt.Errorf("fetch mentions: %w", err)
	}

	mentions := make([]domain.Mention, 0, len(items))
	for _, it := range items {
		mentions = append(mentions, domain.Mention{
			PostURI:  it.Body.PostURI,
			AuthorID: it.Body.MentionedBy,
		})
	}
	return mentions, nil
}

// RecentPosts fetches an author's most recent posts. Field layout varies
// between endpoints, so each field falls back through the known shapes.
func (c *Client) RecentPosts(ctx context.Context, authorID string, limit int) ([]domain.Post, error) {
	u := fmt.Sprintf("%s/v0/stream/posts?source=author&author_id=%s&limit=%d",
		c.baseURL, url.QueryEscape(authorID), limit)

	var items []postItem
	if err := c.getJSON(ctx, u, &items); err != nil {
		return nil, fmt.Errorf("fetch posts for %s: %w", authorID, err)
	}

	posts := make([]domain.Post, 0, len(items))
	for _, it := range items {
		p := domain.Post{
			ID:      it.Details.ID,
			URI:     it.Details.URI,
			Content: it.Details.Content,
		}
		if p.URI == "" {
			p.URI = it.URI
		}
		if p.Content == "" {
			p.Content = it.Content
		}
		if p.Content == "" {
			p.Content = it.Body
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// UserTags returns the tag labels currently attached to a user's profile.
func (c *Client) UserTags(ctx context.Context, userID string) ([]string, error) {
	u := fmt.Sprintf("%s/v0/user/%s/tags?limit_tags=%d",
		c.baseURL, url.PathEscape(userID), profileTagLimit)

	var items []tagItem
	if err := c.getJSON(ctx, u, &items); err != nil {
		return nil, fmt.Errorf("fetch tags for %s: %w", userID, err)
	}

	labels := make([]string, 0, len(items))
	for _, it := range items {
		if it.Label != "" {
			labels = append(labels, it.Label)
		}
	}
	return labels, nil
}

// PostContent resolves the text of a post by scanning its author's recent
// posts for a matching ID. A post that cannot be found yields ("", nil).
func (c *Client) PostContent(ctx context.Context, postURI string) (string, error) {
	ref, ok := domain.ParsePostURI(postURI)
	if !ok {
		return "", nil
	}
	posts, err := c.RecentPosts(ctx, ref.AuthorID, contentScanLimit)
	if err != nil {
		return "", err
	}
	for _, p := range posts {
		if p.ID == ref.PostID {
			return p.Content, nil
		}
	}
	return "", nil
}

func (c *Client) getJSON(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if len(body) == 0 {
		c.logger.Warn("empty response from API", zap.String("url", url))
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		c.logger.Warn("invalid JSON response treated as empty",
			zap.String("url", url),
			zap.String("body", truncate(string(body), 200)),
			zap.Error(err))
		return nil
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
