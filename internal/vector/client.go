// Package vector is the HTTP client for the embedding and dedup index
// service. The service embeds text server side, stores vectors keyed by
// normalized URL, and answers nearest-neighbor and existence queries. The
// pipeline uses it two ways: semantic brand matching and cross-run dedup.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/urlshield/urlshield/internal/common"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Neighbor is one nearest-neighbor hit from the index.
type Neighbor struct {
	ID    string  `json:"id"`
	URL   string  `json:"url"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Config configures the index client.
type Config struct {
	// BaseURL is the index service endpoint. Required.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds one round trip.
	Timeout time.Duration
}

// Client talks to the vector index service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates an index client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: vector index URL", common.ErrMissingConfig)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Embed returns the embedding for text, computed by the service.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var resp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.post(ctx, "/embed", map[string]any{"text": text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Embedding, nil
}

// Upsert stores the embedding under the normalized URL, replacing any
// previous vector for the same URL.
func (c *Client) Upsert(ctx context.Context, normalizedURL string, embedding []float64) error {
	body := map[string]any{
		"url":    normalizedURL,
		"values": embedding,
	}
	return c.post(ctx, "/vectors/upsert", body, nil)
}

// QueryNearest returns up to topK neighbors of the embedding, best first.
func (c *Client) QueryNearest(ctx context.Context, embedding []float64, topK int) ([]Neighbor, error) {
	if topK <= 0 {
		topK = 5
	}
	var resp struct {
		Matches []Neighbor `json:"matches"`
	}
	body := map[string]any{
		"values": embedding,
		"top_k":  topK,
	}
	if err := c.post(ctx, "/vectors/query", body, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// Exists reports whether a vector is stored for the normalized URL.
func (c *Client) Exists(ctx context.Context, normalizedURL string) (bool, error) {
	endpoint := c.baseURL + "/vectors/exists?url=" + url.QueryEscape(normalizedURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("vector index error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Exists bool `json:"exists"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Exists, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(jsonBody)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector index error (status %d): %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
