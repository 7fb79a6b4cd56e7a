package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	colly "github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/urlshield/urlshield/internal/model"
)

const directName = "direct"

const defaultMaxBodySize = 10 * 1024 * 1024 // 10MB

// DirectConfig configures the plain HTTP backend.
type DirectConfig struct {
	// UserAgent identifies the crawler to target sites.
	UserAgent string
	// Timeout bounds one request.
	Timeout time.Duration
	// HostDelay is the politeness cooldown between requests to one host.
	HostDelay time.Duration
	// Parallelism caps concurrent requests per host.
	Parallelism int
	// MaxBodySize caps the response body in bytes.
	MaxBodySize int
}

// directBackend fetches pages with a plain HTTP GET. Last in the chain: it
// cannot render JavaScript, but it costs nothing and has no external
// dependency.
type directBackend struct {
	collector *colly.Collector
}

type directResult struct {
	err         error
	contentType string
	body        []byte
	status      int
}

// NewDirect creates the plain HTTP backend.
func NewDirect(cfg DirectConfig) (Backend, error) {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "urlshield/1.0 (+compliance scanner)"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	hostDelay := cfg.HostDelay
	if hostDelay == 0 {
		hostDelay = 500 * time.Millisecond
	}
	parallelism := cfg.Parallelism
	if parallelism == 0 {
		parallelism = 2
	}
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = defaultMaxBodySize
	}

	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxBodySize(maxBodySize),
		colly.ParseHTTPErrorResponse(),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       hostDelay,
		Parallelism: parallelism,
	}); err != nil {
		return nil, fmt.Errorf("failed to set rate limit: %w", err)
	}

	collector.OnResponse(func(r *colly.Response) {
		if res, ok := r.Ctx.GetAny("result").(*directResult); ok {
			res.status = r.StatusCode
			res.contentType = r.Headers.Get("Content-Type")
			res.body = r.Body
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if res, ok := r.Ctx.GetAny("result").(*directResult); ok {
			res.err = err
		}
	})

	return &directBackend{collector: collector}, nil
}

func (b *directBackend) Name() string {
	return directName
}

// Fetch retrieves the URL with a single GET. The collector enforces the
// request timeout and the per-host cooldown; cancellation is honored between
// requests.
func (b *directBackend) Fetch(ctx context.Context, rawURL string) (*model.ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Backend: directName, Kind: KindNetwork, Err: err}
	}
	start := time.Now()

	res := &directResult{}
	rctx := colly.NewContext()
	rctx.Put("result", res)

	if err := b.collector.Request(http.MethodGet, rawURL, nil, rctx, nil); err != nil {
		return nil, transportError(directName, err)
	}
	if res.err != nil {
		return nil, transportError(directName, res.err)
	}
	if res.status >= 400 {
		return nil, &FetchError{
			Backend:    directName,
			Kind:       KindHTTPStatus,
			StatusCode: res.status,
			Err:        fmt.Errorf("target returned status %d", res.status),
		}
	}
	if ct := res.contentType; ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return nil, &FetchError{
			Backend: directName,
			Kind:    KindMalformed,
			Err:     fmt.Errorf("unsupported content type %q", ct),
		}
	}

	title, text, err := extractHTML(res.body)
	if err != nil {
		return nil, &FetchError{Backend: directName, Kind: KindMalformed, Err: err}
	}
	if text == "" {
		return nil, &FetchError{
			Backend: directName,
			Kind:    KindMalformed,
			Err:     fmt.Errorf("empty content for %s", rawURL),
		}
	}

	return &model.ContentRecord{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Title:     title,
		Text:      text,
		Backend:   directName,
		FetchedAt: time.Now(),
		Elapsed:   time.Since(start),
	}, nil
}
