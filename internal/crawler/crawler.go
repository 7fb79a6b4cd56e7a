// Package crawler fetches page content through a prioritized chain of
// backends. A backend knows how to retrieve one URL and owns its own timeout
// and retry policy; the orchestrator walks the chain in priority order and
// returns the first successful result.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/urlshield/urlshield/internal/model"
)

// Backend retrieves the content of a single URL.
type Backend interface {
	// Name identifies the backend in fetch metadata and diagnostics.
	Name() string
	// Fetch retrieves the URL. Errors are *FetchError.
	Fetch(ctx context.Context, rawURL string) (*model.ContentRecord, error)
}

// ErrorKind categorizes fetch failures.
type ErrorKind string

// Fetch error kinds.
const (
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindRender      ErrorKind = "render"
	KindRateLimited ErrorKind = "rate_limited"
	KindMalformed   ErrorKind = "malformed"
	KindHTTPStatus  ErrorKind = "http_status"
)

// FetchError is the error type every backend returns. StatusCode is set only
// for http_status errors.
type FetchError struct {
	Err        error
	Backend    string
	Kind       ErrorKind
	StatusCode int
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Backend, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same backend could help. Client
// errors and unparseable content fail the same way every time.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500
	}
	return false
}

// transportError classifies an HTTP client error as timeout or network.
func transportError(backend string, err error) *FetchError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &FetchError{Backend: backend, Kind: kind, Err: err}
}
