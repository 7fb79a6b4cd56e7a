package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
	"github.com/urlshield/urlshield/internal/service"
)

const firecrawlName = "firecrawl"

// FirecrawlConfig configures the managed scraping API backend.
type FirecrawlConfig struct {
	// APIKey authenticates against the scraping API. Required.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Timeout bounds a single scrape request.
	Timeout time.Duration
	// MaxAttempts bounds retries on retryable failures.
	MaxAttempts int
	// RetryDelay is the initial backoff delay between attempts.
	RetryDelay time.Duration
}

// firecrawlBackend fetches pages through a managed scraping API that handles
// rendering and anti-bot measures server side.
type firecrawlBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retry      service.RetryOptions
}

// NewFirecrawl creates the managed scraper backend.
func NewFirecrawl(cfg FirecrawlConfig) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: firecrawl API key", common.ErrMissingConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &firecrawlBackend{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: service.RetryOptions{
			MaxAttempts:  maxAttempts,
			InitialDelay: retryDelay,
		},
	}, nil
}

func (b *firecrawlBackend) Name() string {
	return firecrawlName
}

// Fetch scrapes the URL, retrying retryable failures per the backend's
// retry policy.
func (b *firecrawlBackend) Fetch(ctx context.Context, rawURL string) (*model.ContentRecord, error) {
	var rec *model.ContentRecord
	var lastErr error

	err := common.WithRetry(ctx, func() error {
		r, fetchErr := b.scrape(ctx, rawURL)
		if fetchErr != nil {
			lastErr = fetchErr
			if !fetchErr.Retryable() {
				return &common.RetryableError{Err: fetchErr, Retryable: false}
			}
			return fetchErr
		}
		rec = r
		return nil
	}, b.retry)
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return rec, nil
}

type firecrawlRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Metadata struct {
			Title      string `json:"title"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

func (b *firecrawlBackend) scrape(ctx context.Context, rawURL string) (*model.ContentRecord, *FetchError) {
	start := time.Now()

	jsonBody, err := json.Marshal(firecrawlRequest{
		URL:             rawURL,
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, &FetchError{Backend: firecrawlName, Kind: KindMalformed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/scrape", strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, &FetchError{Backend: firecrawlName, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transportError(firecrawlName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(firecrawlName, err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{
			Backend:    firecrawlName,
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", common.ErrRateLimit, strings.TrimSpace(string(body))),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &FetchError{
			Backend:    firecrawlName,
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("scrape API error: %s", strings.TrimSpace(string(body))),
		}
	}

	var response firecrawlResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &FetchError{Backend: firecrawlName, Kind: KindMalformed, Err: err}
	}
	if !response.Success {
		return nil, &FetchError{
			Backend: firecrawlName,
			Kind:    KindRender,
			Err:     fmt.Errorf("scrape failed: %s", response.Error),
		}
	}
	if code := response.Data.Metadata.StatusCode; code >= 400 {
		return nil, &FetchError{
			Backend:    firecrawlName,
			Kind:       KindHTTPStatus,
			StatusCode: code,
			Err:        fmt.Errorf("target returned status %d", code),
		}
	}

	title := response.Data.Metadata.Title
	text := strings.TrimSpace(response.Data.Markdown)
	if text == "" && response.Data.HTML != "" {
		htmlTitle, htmlText, extractErr := extractHTML([]byte(response.Data.HTML))
		if extractErr != nil {
			return nil, &FetchError{Backend: firecrawlName, Kind: KindMalformed, Err: extractErr}
		}
		if title == "" {
			title = htmlTitle
		}
		text = htmlText
	}
	if text == "" {
		return nil, &FetchError{
			Backend: firecrawlName,
			Kind:    KindMalformed,
			Err:     fmt.Errorf("empty content for %s", rawURL),
		}
	}

	return &model.ContentRecord{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Title:     title,
		Text:      text,
		Backend:   firecrawlName,
		FetchedAt: time.Now(),
		Elapsed:   time.Since(start),
	}, nil
}
