package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urlshield/urlshield/internal/classify"
	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/crawler"
	"github.com/urlshield/urlshield/internal/model"
	"github.com/urlshield/urlshield/internal/prefilter"
	"github.com/urlshield/urlshield/internal/service"
)

type fakeStorage struct {
	mu         sync.Mutex
	batches    map[string]*model.Batch
	urls       map[string]*model.URLRecord
	contents   []*model.ContentRecord
	matches    map[string][]model.MatchResult
	reports    []model.URLReport
	compliance map[string]*model.ComplianceReport

	reportErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		batches:    make(map[string]*model.Batch),
		urls:       make(map[string]*model.URLRecord),
		matches:    make(map[string][]model.MatchResult),
		compliance: make(map[string]*model.ComplianceReport),
	}
}

func (s *fakeStorage) SaveBatch(_ context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *batch
	s.batches[batch.ID] = &copied
	return nil
}

func (s *fakeStorage) GetBatch(_ context.Context, id string) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *batch
	return &copied, nil
}

func (s *fakeStorage) ListBatches(_ context.Context) ([]model.Batch, error) {
	return nil, nil
}

func (s *fakeStorage) SaveURL(_ context.Context, rec *model.URLRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.urls[rec.ID] = &copied
	return nil
}

func (s *fakeStorage) UpdateURLStatus(_ context.Context, id string, status model.URLStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.urls[id]
	if !ok {
		return common.ErrNotFound
	}
	rec.Status = status
	rec.LastError = lastError
	return nil
}

func (s *fakeStorage) GetURLsByBatch(_ context.Context, batchID string) ([]model.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []model.URLRecord
	for _, rec := range s.urls {
		if rec.BatchID == batchID {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (s *fakeStorage) SaveContent(_ context.Context, content *model.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *content
	s.contents = append(s.contents, &copied)
	return nil
}

func (s *fakeStorage) SaveMatches(_ context.Context, contentID string, matches []model.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[contentID] = append([]model.MatchResult(nil), matches...)
	return nil
}

func (s *fakeStorage) SaveURLReport(_ context.Context, report *model.URLReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportErr != nil {
		return s.reportErr
	}
	s.reports = append(s.reports, *report)
	return nil
}

func (s *fakeStorage) LatestReportForURL(_ context.Context, normalized string) (*model.URLReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.reports) - 1; i >= 0; i-- {
		if s.reports[i].Normalized == normalized {
			copied := s.reports[i]
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: no report", common.ErrNotFound)
}

func (s *fakeStorage) SaveComplianceReport(_ context.Context, report *model.ComplianceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *report
	s.compliance[report.BatchID] = &copied
	return nil
}

func (s *fakeStorage) GetComplianceReport(_ context.Context, batchID string) (*model.ComplianceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.compliance[batchID]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *report
	return &copied, nil
}

func (s *fakeStorage) Migrate(context.Context) error { return nil }
func (s *fakeStorage) Close() error                  { return nil }

func (s *fakeStorage) urlByRaw(raw string) *model.URLRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.urls {
		if rec.RawURL == raw {
			copied := *rec
			return &copied
		}
	}
	return nil
}

func (s *fakeStorage) reportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

var _ service.Storage = (*fakeStorage)(nil)

type fakeFetcher struct {
	calls atomic.Int64
	fetch func(ctx context.Context, rawURL string) (*model.ContentRecord, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*model.ContentRecord, []crawler.Attempt, error) {
	f.calls.Add(1)
	content, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, []crawler.Attempt{{Err: err, Backend: "fake"}}, err
	}
	return content, nil, nil
}

func pageFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{fetch: func(_ context.Context, rawURL string) (*model.ContentRecord, error) {
		text, ok := pages[rawURL]
		if !ok {
			return nil, fmt.Errorf("%w: no backend reached %s", common.ErrAllBackendsFailed, rawURL)
		}
		return &model.ContentRecord{
			ID:        uuid.NewString(),
			URL:       rawURL,
			Title:     "Page",
			Text:      text,
			Backend:   "direct",
			FetchedAt: time.Now(),
		}, nil
	}}
}

type fakeMatcher struct{}

func (fakeMatcher) Match(_ context.Context, content *model.ContentRecord) ([]model.MatchResult, error) {
	if !strings.Contains(strings.ToLower(content.Text), "acme") {
		return nil, nil
	}
	return []model.MatchResult{{
		ID:        uuid.NewString(),
		ContentID: content.ID,
		Text:      "acme",
	}}, nil
}

type fakeClassifier struct {
	classify func(content *model.ContentRecord, matches []model.MatchResult) *classify.Outcome
}

func (f *fakeClassifier) Classify(_ context.Context, content *model.ContentRecord, matches []model.MatchResult) (*classify.Outcome, error) {
	return f.classify(content, matches), nil
}

func keywordClassifier() *fakeClassifier {
	return &fakeClassifier{classify: func(content *model.ContentRecord, matches []model.MatchResult) *classify.Outcome {
		if len(matches) == 0 {
			return &classify.Outcome{Category: model.CategoryWhitelist, Method: model.MethodPattern, Confidence: 1.0}
		}
		if strings.Contains(content.Text, "guaranteed") {
			return &classify.Outcome{
				Category:    model.CategoryBlacklist,
				Method:      model.MethodLLM,
				Explanation: "guaranteed profit claims",
				Issues:      []string{"investment_guarantees"},
				Confidence:  0.9,
			}
		}
		return &classify.Outcome{Category: model.CategoryWhitelist, Method: model.MethodLLM, Confidence: 0.8}
	}}
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []model.BlacklistEntry
	domains map[string]bool
}

func (l *fakeLedger) Append(entry model.BlacklistEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.entries {
		if existing.URL == entry.URL {
			return false, nil
		}
	}
	l.entries = append(l.entries, entry)
	return true, nil
}

func (l *fakeLedger) ContainsDomain(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.domains[domain]
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type fakePrefilter struct {
	dead map[string]model.FilterReason
}

func (f *fakePrefilter) Probe(_ context.Context, urls []string) ([]string, []prefilter.Result, error) {
	var reachable []string
	var skipped []prefilter.Result
	for _, raw := range urls {
		if reason, ok := f.dead[raw]; ok {
			skipped = append(skipped, prefilter.Result{URL: raw, Reason: reason})
			continue
		}
		reachable = append(reachable, raw)
	}
	return reachable, skipped, nil
}

type fakeDedup struct {
	mu      sync.Mutex
	known   map[string]bool
	upserts int
}

func (d *fakeDedup) Exists(_ context.Context, normalized string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.known[normalized], nil
}

func (d *fakeDedup) Embed(context.Context, string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func (d *fakeDedup) Upsert(_ context.Context, normalized string, _ []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.known == nil {
		d.known = make(map[string]bool)
	}
	d.known[normalized] = true
	d.upserts++
	return nil
}

func newTestCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	coord, err := New(cfg)
	require.NoError(t, err)
	return coord
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = New(Config{Storage: newFakeStorage()})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestProcessBatchEndToEnd(t *testing.T) {
	storage := newFakeStorage()
	ledger := &fakeLedger{domains: map[string]bool{}}
	dedup := &fakeDedup{}
	fetcher := pageFetcher(map[string]string{
		"https://scam.example.com/offer": "acme broker with guaranteed profit",
		"https://news.example.com/story": "unrelated market news",
	})

	coord := newTestCoordinator(t, Config{
		Storage: storage,
		Prefilter: &fakePrefilter{dead: map[string]model.FilterReason{
			"https://dead.example.com/": model.ReasonDNSError,
		}},
		Fetcher:    fetcher,
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		Blacklist:  ledger,
		Dedup:      dedup,
		MaxWorkers: 2,
	})

	stats, err := coord.ProcessBatch(context.Background(), []string{
		"https://scam.example.com/offer",
		"https://news.example.com/story",
		"https://dead.example.com/",
		"https://gone.example.com/404",
	}, "urls.csv")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 1, stats.FilteredOut)
	assert.Equal(t, 1, stats.Errored)
	assert.Equal(t, 1, stats.Blacklisted)
	assert.Equal(t, 1, stats.Whitelisted)
	assert.Equal(t, 0, stats.Review)
	assert.Equal(t, 0, stats.CacheHits)

	scam := storage.urlByRaw("https://scam.example.com/offer")
	require.NotNil(t, scam)
	assert.Equal(t, model.StatusCategorized, scam.Status)

	dead := storage.urlByRaw("https://dead.example.com/")
	require.NotNil(t, dead)
	assert.Equal(t, model.StatusFilteredOut, dead.Status)
	assert.Equal(t, string(model.ReasonDNSError), dead.LastError)

	gone := storage.urlByRaw("https://gone.example.com/404")
	require.NotNil(t, gone)
	assert.Equal(t, model.StatusErrored, gone.Status)
	assert.Contains(t, gone.LastError, "no backend reached")

	// Blacklist outcome above the threshold landed in the ledger.
	require.Equal(t, 1, ledger.count())
	assert.Equal(t, "https://scam.example.com/offer", ledger.entries[0].URL)
	assert.InDelta(t, 0.9, ledger.entries[0].Confidence, 1e-9)

	// Matched content got embedded for future dedup.
	assert.Equal(t, 1, dedup.upserts)

	batch := scam.BatchID
	got, err := storage.GetComplianceReport(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, got.Status)
	assert.Equal(t, 4, got.Processed)
	assert.Equal(t, 1, got.Blacklisted)

	saved, err := storage.GetBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, saved.Status)
	assert.Equal(t, 4, saved.Processed)
}

func TestProcessBatchDeduplicatesInput(t *testing.T) {
	storage := newFakeStorage()
	coord := newTestCoordinator(t, Config{
		Storage:    storage,
		Fetcher:    pageFetcher(map[string]string{"https://a.example.com/page": "plain"}),
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
	})

	stats, err := coord.ProcessBatch(context.Background(), []string{
		"https://a.example.com/page",
		"HTTPS://A.example.com/page#frag",
	}, "urls.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Processed)
}

func TestBlacklistedDomainSkippedWithoutFetch(t *testing.T) {
	storage := newFakeStorage()
	fetcher := pageFetcher(nil)
	coord := newTestCoordinator(t, Config{
		Storage:    storage,
		Fetcher:    fetcher,
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		Blacklist:  &fakeLedger{domains: map[string]bool{"banned.com": true}},
	})

	stats, err := coord.ProcessBatch(context.Background(),
		[]string{"https://www.banned.com/page"}, "urls.csv")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilteredOut)
	assert.Equal(t, int64(0), fetcher.calls.Load())

	rec := storage.urlByRaw("https://www.banned.com/page")
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusFilteredOut, rec.Status)
	assert.Equal(t, string(model.ReasonBlacklisted), rec.LastError)
}

func TestUnrelatedSharedSuffixDomainIsFetched(t *testing.T) {
	storage := newFakeStorage()
	fetcher := pageFetcher(map[string]string{
		"https://completely-unrelated.co.uk/": "local gardening tips",
	})
	coord := newTestCoordinator(t, Config{
		Storage:    storage,
		Fetcher:    fetcher,
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		Blacklist:  &fakeLedger{domains: map[string]bool{"shop.example.co.uk": true}},
	})

	stats, err := coord.ProcessBatch(context.Background(),
		[]string{"https://completely-unrelated.co.uk/"}, "urls.csv")
	require.NoError(t, err)

	assert.Equal(t, 0, stats.FilteredOut)
	assert.Equal(t, 1, stats.Whitelisted)
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestRerunReusesCachedOutcome(t *testing.T) {
	storage := newFakeStorage()
	ledger := &fakeLedger{domains: map[string]bool{}}
	fetcher := pageFetcher(map[string]string{
		"https://scam.example.com/offer": "acme guaranteed profit",
	})
	cfg := Config{
		Storage:    storage,
		Fetcher:    fetcher,
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		Blacklist:  ledger,
	}
	coord := newTestCoordinator(t, cfg)

	urls := []string{"https://scam.example.com/offer"}
	_, err := coord.ProcessBatch(context.Background(), urls, "run1.csv")
	require.NoError(t, err)
	require.Equal(t, int64(1), fetcher.calls.Load())

	stats, err := coord.ProcessBatch(context.Background(), urls, "run2.csv")
	require.NoError(t, err)

	// No refetch; the stored outcome carries over into the new batch.
	assert.Equal(t, int64(1), fetcher.calls.Load())
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, stats.Blacklisted)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 2, storage.reportCount())
	assert.Equal(t, 1, ledger.count())
}

func TestVectorIndexHitSkipsProcessing(t *testing.T) {
	storage := newFakeStorage()
	fetcher := pageFetcher(nil)
	coord := newTestCoordinator(t, Config{
		Storage:    storage,
		Fetcher:    fetcher,
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		Dedup: &fakeDedup{known: map[string]bool{
			model.NormalizeURL("https://seen.example.com/page"): true,
		}},
	})

	stats, err := coord.ProcessBatch(context.Background(),
		[]string{"https://seen.example.com/page"}, "urls.csv")
	require.NoError(t, err)

	assert.Equal(t, int64(0), fetcher.calls.Load())
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Blacklisted+stats.Whitelisted+stats.Review)

	rec := storage.urlByRaw("https://seen.example.com/page")
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusCategorized, rec.Status)
}

func TestCancellationLeavesResumableState(t *testing.T) {
	storage := newFakeStorage()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{fetch: func(ctx context.Context, _ string) (*model.ContentRecord, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	coord := newTestCoordinator(t, Config{
		Storage:    storage,
		Fetcher:    fetcher,
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		MaxWorkers: 1,
	})

	stats, err := coord.ProcessBatch(ctx, []string{
		"https://one.example.com/",
		"https://two.example.com/",
	}, "urls.csv")
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 0, stats.Errored)

	// The in-flight URL went back to queued; the undispatched one never left.
	one := storage.urlByRaw("https://one.example.com/")
	require.NotNil(t, one)
	assert.Equal(t, model.StatusQueued, one.Status)
	two := storage.urlByRaw("https://two.example.com/")
	require.NotNil(t, two)
	assert.Equal(t, model.StatusQueued, two.Status)

	saved, err := storage.GetBatch(context.Background(), one.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, saved.Status)
}

func TestPersistenceFailureFallsBackToReplayFile(t *testing.T) {
	storage := newFakeStorage()
	storage.reportErr = errors.New("disk full")
	replayPath := filepath.Join(t.TempDir(), "replay.jsonl")

	coord := newTestCoordinator(t, Config{
		Storage:    storage,
		Fetcher:    pageFetcher(map[string]string{"https://a.example.com/": "plain"}),
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		ReplayPath: replayPath,
		PersistRetry: service.RetryOptions{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	})

	stats, err := coord.ProcessBatch(context.Background(),
		[]string{"https://a.example.com/"}, "urls.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Whitelisted)

	data, err := os.ReadFile(replayPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"https://a.example.com/"`)
	assert.Equal(t, 0, storage.reportCount())

	// Storage recovers; the stranded outcome replays and the file clears.
	storage.mu.Lock()
	storage.reportErr = nil
	storage.mu.Unlock()

	replayed, err := coord.ReplayPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 1, storage.reportCount())
	_, err = os.Stat(replayPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReplayPendingWithoutFile(t *testing.T) {
	coord := newTestCoordinator(t, Config{
		Storage:    newFakeStorage(),
		Fetcher:    pageFetcher(nil),
		Matcher:    fakeMatcher{},
		Classifier: keywordClassifier(),
		ReplayPath: filepath.Join(t.TempDir(), "replay.jsonl"),
	})

	replayed, err := coord.ReplayPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, replayed)
}
