// Package pubky implements the signed write client for the agent's
// homeserver: posts, replies and tag records.
package pubky

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PastaGringo/tagky/internal/domain"
)

// crockford is the base32 alphabet used for record IDs.
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// Client writes records to the agent's own repository on its homeserver.
// Every write is keyed by the agent's identity and authenticated with the
// session token.
type Client struct {
	homeserver string
	publicKey  string
	session    string
	httpClient *http.Client

	now func() time.Time
}

// NewClient creates a write client. homeserver is the HTTP endpoint that
// serves the agent's repository; session is the signed-in session token.
func NewClient(homeserver, publicKey, session string) *Client {
	return &Client{
		homeserver: strings.TrimRight(homeserver, "/"),
		publicKey:  publicKey,
		session:    session,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

type postRecord struct {
	Content string `json:"content"`
	Kind    string `json:"kind"`
	Parent  string `json:"parent,omitempty"`
}

type tagRecord struct {
	URI       string `json:"uri"`
	Label     string `json:"label"`
	CreatedAt int64  `json:"created_at"`
}

// CreatePost publishes a standalone short post and returns its URI.
func (c *Client) CreatePost(ctx context.Context, text string) (string, error) {
	return c.putPost(ctx, text, "")
}

// ReplyToPost publishes a short post as a reply to parentURI.
func (c *Client) ReplyToPost(ctx context.Context, parentURI, text string) error {
	_, err := c.putPost(ctx, text, parentURI)
	return err
}

// TagPost attaches a tag record for label to the target post.
func (c *Client) TagPost(ctx context.Context, postURI, label string) error {
	if err := c.putRecord(ctx, c.tagURI(postURI, label), tagRecord{
		URI:       postURI,
		Label:     label,
		CreatedAt: c.now().UnixMicro(),
	}); err != nil {
		return fmt.Errorf("tag publish failed for %q: %w", label, err)
	}
	return nil
}

// UntagPost removes the tag record for label from the target post.
func (c *Client) UntagPost(ctx context.Context, postURI, label string) error {
	if err := c.deleteRecord(ctx, c.tagURI(postURI, label)); err != nil {
		return fmt.Errorf("tag removal failed for %q: %w", label, err)
	}
	return nil
}

// TagProfile attaches a tag to a user's profile record.
func (c *Client) TagProfile(ctx context.Context, userID, label string) error {
	return c.TagPost(ctx, domain.ProfileURI(userID), label)
}

// UntagProfile removes a tag from a user's profile record.
func (c *Client) UntagProfile(ctx context.Context, userID, label string) error {
	return c.UntagPost(ctx, domain.ProfileURI(userID), label)
}

func (c *Client) putPost(ctx context.Context, text, parent string) (string, error) {
	uri := fmt.Sprintf("pubky://%s/pub/pubky.app/posts/%s", c.publicKey, c.timestampID())
	record := postRecord{Content: text, Kind: "short", Parent: parent}
	if err := c.putRecord(ctx, uri, record); err != nil {
		return "", fmt.Errorf("post creation failed: %w", err)
	}
	return uri, nil
}

// tagURI derives the deterministic tag record URI for a target and label, so
// that creating and deleting the same tag address the same record.
func (c *Client) tagURI(targetURI, label string) string {
	sum := sha256.Sum256([]byte(targetURI + ":" + label))
	id := strings.ToLower(crockford.EncodeToString(sum[:10]))
	return fmt.Sprintf("pubky://%s/pub/pubky.app/tags/%s", c.publicKey, id)
}

// timestampID yields a time-ordered record ID from the current microsecond
// clock, so post records sort chronologically.
func (c *Client) timestampID() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(c.now().UnixMicro()))
	return strings.ToLower(crockford.EncodeToString(buf[:]))
}

func (c *Client) putRecord(ctx context.Context, recordURI string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return c.send(ctx, http.MethodPut, recordURI, payload)
}

func (c *Client) deleteRecord(ctx context.Context, recordURI string) error {
	return c.send(ctx, http.MethodDelete, recordURI, nil)
}

func (c *Client) send(ctx context.Context, method, recordURI string, payload []byte) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.httpURL(recordURI), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.Header.Set("Authorization", "Bearer "+c.session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// httpURL maps a pubky:// record URI onto the homeserver's HTTP surface.
func (c *Client) httpURL(recordURI string) string {
	return c.homeserver + "/" + strings.TrimPrefix(recordURI, "pubky://")
}
