// Package ollama implements the keyword classifier against a local Ollama
// server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrModelNotFound is returned by CheckModel when the configured model is
// not present on the server.
type ErrModelNotFound struct {
	Model string
}

func (e *ErrModelNotFound) Error() string {
	return fmt.Sprintf("model not found: %s", e.Model)
}

// Client calls the text-completion endpoint with the post content embedded
// in the configured prompt template.
type Client struct {
	baseURL    string
	model      string
	prompt     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a classifier client. prompt must contain the {{TEXT}}
// placeholder.
func NewClient(baseURL, model, prompt string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		prompt:  prompt,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // local inference can be slow
		},
		logger: logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Choices  []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// CheckModel verifies the server is reachable and the configured model is
// installed. Older servers only answer POST on /api/tags, hence the retry
// with the other method.
func (c *Client) CheckModel(ctx context.Context) error {
	names, err := c.listModels(ctx, http.MethodGet)
	if err != nil {
		names, err = c.listModels(ctx, http.MethodPost)
	}
	if err != nil {
		return fmt.Errorf("classifier check failed: %w", err)
	}
	for _, name := range names {
		if name == c.model {
			return nil
		}
	}
	return &ErrModelNotFound{Model: c.model}
}

func (c *Client) listModels(ctx context.Context, method string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// Generate runs one completion for the given text. Transient failures are
// retried with exponential backoff within the attempt.
func (c *Client) Generate(ctx context.Context, text string) (string, error) {
	prompt := strings.ReplaceAll(c.prompt, "{{TEXT}}", text)
	c.logger.Debug("prompt sent to classifier",
		zap.Int("text_length", len(text)),
		zap.Int("prompt_length", len(prompt)))

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	), 3), ctx)

	return backoff.RetryWithData(func() (string, error) {
		return c.generate(ctx, prompt)
	}, policy)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("classifier HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// Malformed completions degrade to the normalization fallback
		// downstream instead of failing the job.
		c.logger.Warn("non-JSON classifier response", zap.Error(err))
		return "", nil
	}
	if out.Response != "" {
		return out.Response, nil
	}
	if len(out.Choices) > 0 {
		return out.Choices[0].Text, nil
	}
	return "", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
