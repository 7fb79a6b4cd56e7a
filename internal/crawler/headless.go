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

const headlessName = "headless"

// HeadlessConfig configures the self-hosted render service backend.
type HeadlessConfig struct {
	// BaseURL is the render service endpoint. Required.
	BaseURL string
	// Timeout bounds one render round trip. Rendering is slow, so the
	// default is generous.
	Timeout time.Duration
	// MaxAttempts bounds retries on retryable failures.
	MaxAttempts int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
}

// headlessBackend drives a local headless-browser render service. It covers
// JavaScript-heavy pages the direct backend cannot read, without the cost of
// the managed API.
type headlessBackend struct {
	httpClient *http.Client
	baseURL    string
	retry      service.RetryOptions
}

// NewHeadless creates the render service backend.
func NewHeadless(cfg HeadlessConfig) (Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: headless render service URL", common.ErrMissingConfig)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 2
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}

	return &headlessBackend{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry: service.RetryOptions{
			MaxAttempts:  maxAttempts,
			InitialDelay: retryDelay,
			Multiplier:   1, // fixed delay
		},
	}, nil
}

func (b *headlessBackend) Name() string {
	return headlessName
}

func (b *headlessBackend) Fetch(ctx context.Context, rawURL string) (*model.ContentRecord, error) {
	var rec *model.ContentRecord
	var lastErr error

	err := common.WithRetry(ctx, func() error {
		r, fetchErr := b.render(ctx, rawURL)
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

type headlessRequest struct {
	URLs []string `json:"urls"`
}

type headlessResponse struct {
	Results []struct {
		URL          string `json:"url"`
		Markdown     string `json:"markdown"`
		CleanedHTML  string `json:"cleaned_html"`
		ErrorMessage string `json:"error_message"`
		Metadata     struct {
			Title string `json:"title"`
		} `json:"metadata"`
		StatusCode int  `json:"status_code"`
		Success    bool `json:"success"`
	} `json:"results"`
}

func (b *headlessBackend) render(ctx context.Context, rawURL string) (*model.ContentRecord, *FetchError) {
	start := time.Now()

	jsonBody, err := json.Marshal(headlessRequest{URLs: []string{rawURL}})
	if err != nil {
		return nil, &FetchError{Backend: headlessName, Kind: KindMalformed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/crawl", strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, &FetchError{Backend: headlessName, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transportError(headlessName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(headlessName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Backend:    headlessName,
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("render service error: %s", strings.TrimSpace(string(body))),
		}
	}

	var response headlessResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &FetchError{Backend: headlessName, Kind: KindMalformed, Err: err}
	}
	if len(response.Results) == 0 {
		return nil, &FetchError{
			Backend: headlessName,
			Kind:    KindMalformed,
			Err:     fmt.Errorf("no results for %s", rawURL),
		}
	}

	result := response.Results[0]
	if !result.Success {
		return nil, &FetchError{
			Backend: headlessName,
			Kind:    KindRender,
			Err:     fmt.Errorf("render failed: %s", result.ErrorMessage),
		}
	}
	if result.StatusCode >= 400 {
		return nil, &FetchError{
			Backend:    headlessName,
			Kind:       KindHTTPStatus,
			StatusCode: result.StatusCode,
			Err:        fmt.Errorf("target returned status %d", result.StatusCode),
		}
	}

	title := result.Metadata.Title
	text := strings.TrimSpace(result.Markdown)
	if text == "" && result.CleanedHTML != "" {
		htmlTitle, htmlText, extractErr := extractHTML([]byte(result.CleanedHTML))
		if extractErr != nil {
			return nil, &FetchError{Backend: headlessName, Kind: KindMalformed, Err: extractErr}
		}
		if title == "" {
			title = htmlTitle
		}
		text = htmlText
	}
	if text == "" {
		return nil, &FetchError{
			Backend: headlessName,
			Kind:    KindMalformed,
			Err:     fmt.Errorf("empty content for %s", rawURL),
		}
	}

	return &model.ContentRecord{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Title:     title,
		Text:      text,
		Backend:   headlessName,
		FetchedAt: time.Now(),
		Elapsed:   time.Since(start),
	}, nil
}
