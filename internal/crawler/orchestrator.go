package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

// Attempt records one backend's try at a URL, kept for diagnostics when the
// whole chain fails.
type Attempt struct {
	Err     error
	Backend string
	Elapsed time.Duration
}

// Orchestrator walks a prioritized backend chain until one fetch succeeds.
type Orchestrator struct {
	backends []Backend
}

// NewOrchestrator builds an orchestrator trying backends in the given order.
func NewOrchestrator(backends ...Backend) (*Orchestrator, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no crawler backends configured", common.ErrInvalidConfig)
	}
	return &Orchestrator{backends: backends}, nil
}

// Fetch tries each backend in priority order and returns the first success.
// The returned record's Backend and Elapsed cover the whole fetch, including
// time spent in backends that failed first. On total failure the error wraps
// ErrAllBackendsFailed and the last backend's error; attempts carry every
// backend's diagnostic.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string) (*model.ContentRecord, []Attempt, error) {
	start := time.Now()
	attempts := make([]Attempt, 0, len(o.backends))

	var lastErr error
	for _, backend := range o.backends {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		attemptStart := time.Now()
		rec, err := backend.Fetch(ctx, rawURL)
		elapsed := time.Since(attemptStart)
		if err == nil {
			rec.Backend = backend.Name()
			rec.Elapsed = time.Since(start)
			return rec, attempts, nil
		}

		attempts = append(attempts, Attempt{
			Backend: backend.Name(),
			Err:     err,
			Elapsed: elapsed,
		})
		lastErr = err
		slog.Debug("backend failed, trying next",
			"backend", backend.Name(),
			"url", rawURL,
			"error", err)
	}

	return nil, attempts, fmt.Errorf("%w: %w", common.ErrAllBackendsFailed, lastErr)
}
