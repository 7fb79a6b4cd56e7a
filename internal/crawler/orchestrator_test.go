package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

// fakeBackend fails a fixed number of calls, then succeeds.
type fakeBackend struct {
	err   error
	name  string
	calls int
	delay time.Duration
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Fetch(_ context.Context, rawURL string) (*model.ContentRecord, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.ContentRecord{
		URL:     rawURL,
		Text:    "content from " + f.name,
		Backend: f.name,
	}, nil
}

func TestOrchestratorFirstBackendWins(t *testing.T) {
	primary := &fakeBackend{name: "primary"}
	secondary := &fakeBackend{name: "secondary"}

	o, err := NewOrchestrator(primary, secondary)
	require.NoError(t, err)

	rec, attempts, err := o.Fetch(context.Background(), "https://a.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "primary", rec.Backend)
	assert.Empty(t, attempts)
	assert.Equal(t, 0, secondary.calls)
}

func TestOrchestratorFailsOver(t *testing.T) {
	primary := &fakeBackend{
		name:  "primary",
		err:   &FetchError{Backend: "primary", Kind: KindTimeout, Err: errors.New("deadline")},
		delay: 20 * time.Millisecond,
	}
	secondary := &fakeBackend{name: "secondary"}

	o, err := NewOrchestrator(primary, secondary)
	require.NoError(t, err)

	rec, attempts, err := o.Fetch(context.Background(), "https://a.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "secondary", rec.Backend)

	// Total elapsed covers the failed primary attempt too.
	assert.GreaterOrEqual(t, rec.Elapsed, 20*time.Millisecond)

	require.Len(t, attempts, 1)
	assert.Equal(t, "primary", attempts[0].Backend)
	var fetchErr *FetchError
	require.ErrorAs(t, attempts[0].Err, &fetchErr)
	assert.Equal(t, KindTimeout, fetchErr.Kind)
}

func TestOrchestratorAllBackendsFail(t *testing.T) {
	first := &fakeBackend{
		name: "first",
		err:  &FetchError{Backend: "first", Kind: KindNetwork, Err: errors.New("refused")},
	}
	last := &fakeBackend{
		name: "last",
		err:  &FetchError{Backend: "last", Kind: KindHTTPStatus, StatusCode: 403, Err: errors.New("forbidden")},
	}

	o, err := NewOrchestrator(first, last)
	require.NoError(t, err)

	rec, attempts, err := o.Fetch(context.Background(), "https://a.example.com/")
	assert.Nil(t, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAllBackendsFailed)

	// The last backend's error is in the chain.
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "last", fetchErr.Backend)
	assert.Equal(t, 403, fetchErr.StatusCode)

	assert.Len(t, attempts, 2)
}

func TestOrchestratorHonorsCancellation(t *testing.T) {
	backend := &fakeBackend{name: "only"}
	o, err := NewOrchestrator(backend)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = o.Fetch(ctx, "https://a.example.com/")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backend.calls)
}

func TestOrchestratorRequiresBackends(t *testing.T) {
	_, err := NewOrchestrator()
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestFetchErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  FetchError
		want bool
	}{
		{"network", FetchError{Kind: KindNetwork}, true},
		{"timeout", FetchError{Kind: KindTimeout}, true},
		{"rate limited", FetchError{Kind: KindRateLimited}, true},
		{"server error", FetchError{Kind: KindHTTPStatus, StatusCode: 503}, true},
		{"client error", FetchError{Kind: KindHTTPStatus, StatusCode: 404}, false},
		{"render", FetchError{Kind: KindRender}, false},
		{"malformed", FetchError{Kind: KindMalformed}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}

func TestFetchErrorMessage(t *testing.T) {
	err := &FetchError{
		Backend:    "direct",
		Kind:       KindHTTPStatus,
		StatusCode: 500,
		Err:        fmt.Errorf("target returned status 500"),
	}
	assert.Contains(t, err.Error(), "direct")
	assert.Contains(t, err.Error(), "500")
}
