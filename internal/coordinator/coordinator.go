// Package coordinator drives a batch of URLs through the pipeline: prefilter,
// fetch, match, classify, persist. It owns the worker pool, the per-URL state
// machine, the batch counters, and graceful cancellation. Runs are idempotent
// across invocations: URLs with a stored outcome are not reprocessed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/urlshield/urlshield/internal/classify"
	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/crawler"
	"github.com/urlshield/urlshield/internal/model"
	"github.com/urlshield/urlshield/internal/prefilter"
	"github.com/urlshield/urlshield/internal/service"
)

const (
	defaultMaxWorkers          = 5
	defaultConfidenceThreshold = 0.7
)

// Prefilterer removes dead URLs before fetching.
type Prefilterer interface {
	Probe(ctx context.Context, urls []string) ([]string, []prefilter.Result, error)
}

// Fetcher retrieves page content, reporting each backend attempt.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*model.ContentRecord, []crawler.Attempt, error)
}

// Matcher finds brand mentions in fetched content.
type Matcher interface {
	Match(ctx context.Context, content *model.ContentRecord) ([]model.MatchResult, error)
}

// Classifier assigns a category from the mentions.
type Classifier interface {
	Classify(ctx context.Context, content *model.ContentRecord, matches []model.MatchResult) (*classify.Outcome, error)
}

// Ledger is the blacklist store surface the coordinator needs.
type Ledger interface {
	Append(entry model.BlacklistEntry) (bool, error)
	ContainsDomain(domain string) bool
}

// DedupIndex is the vector index surface used for cross-run dedup and
// content upserts.
type DedupIndex interface {
	Exists(ctx context.Context, normalized string) (bool, error)
	Embed(ctx context.Context, text string) ([]float64, error)
	Upsert(ctx context.Context, normalized string, embedding []float64) error
}

// Config wires the coordinator's collaborators and tuning knobs. Storage,
// Fetcher, Matcher and Classifier are required; the rest degrade gracefully
// when absent.
type Config struct {
	Storage    service.Storage
	Prefilter  Prefilterer
	Fetcher    Fetcher
	Matcher    Matcher
	Classifier Classifier
	Blacklist  Ledger
	Dedup      DedupIndex

	// ProgressWriter receives the progress bar. Nil disables it.
	ProgressWriter io.Writer
	// ReplayPath is the side-channel file for outcomes that could not be
	// persisted. Empty disables the side channel.
	ReplayPath string
	// MaxWorkers is the worker pool size.
	MaxWorkers int
	// ConfidenceThreshold gates ledger writes for blacklist outcomes.
	ConfidenceThreshold float64
	// PersistRetry tunes retries around report persistence.
	PersistRetry service.RetryOptions
}

// Coordinator processes URL batches.
type Coordinator struct {
	storage    service.Storage
	prefilter  Prefilterer
	fetcher    Fetcher
	matcher    Matcher
	classifier Classifier
	blacklist  Ledger
	dedup      DedupIndex
	replay     *replayLog

	progressWriter io.Writer
	maxWorkers     int
	threshold      float64
	persistRetry   service.RetryOptions

	reportMu sync.Mutex
}

// New validates the config and creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("%w: storage", common.ErrMissingConfig)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", common.ErrMissingConfig)
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("%w: matcher", common.ErrMissingConfig)
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("%w: classifier", common.ErrMissingConfig)
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}

	var replay *replayLog
	if cfg.ReplayPath != "" {
		replay = newReplayLog(cfg.ReplayPath)
	}

	return &Coordinator{
		storage:        cfg.Storage,
		prefilter:      cfg.Prefilter,
		fetcher:        cfg.Fetcher,
		matcher:        cfg.Matcher,
		classifier:     cfg.Classifier,
		blacklist:      cfg.Blacklist,
		dedup:          cfg.Dedup,
		replay:         replay,
		progressWriter: cfg.ProgressWriter,
		maxWorkers:     maxWorkers,
		threshold:      threshold,
		persistRetry:   cfg.PersistRetry,
	}, nil
}

// counters aggregates batch progress. Workers update them concurrently.
type counters struct {
	processed   atomic.Int64
	filteredOut atomic.Int64
	errored     atomic.Int64
	blacklisted atomic.Int64
	whitelisted atomic.Int64
	review      atomic.Int64
	cacheHits   atomic.Int64
}

// ProcessBatch runs one batch of URLs end to end and returns its stats. The
// batch completes even when individual URLs fail; only setup errors (storage,
// input) abort the run. Cancelling the context stops dispatch, lets in-flight
// URLs finish, and flushes a resumable state.
func (c *Coordinator) ProcessBatch(ctx context.Context, urls []string, source string) (*service.CompletionStats, error) {
	start := time.Now()

	batch := &model.Batch{
		ID:     uuid.NewString(),
		Source: source,
		Status: model.BatchPending,
	}

	records := c.dedupe(batch.ID, urls)
	batch.TotalURLs = len(records)
	if err := c.storage.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	for _, rec := range records {
		if err := c.storage.SaveURL(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to enqueue URL: %w", err)
		}
	}

	var tally counters
	pending := c.filter(ctx, batch.ID, records, &tally)

	batch.Status = model.BatchRunning
	if err := c.storage.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to start batch: %w", err)
	}
	c.flushReport(ctx, batch, &tally)

	bar := c.newProgressBar(len(records))
	_ = bar.Add(int(tally.processed.Load()))

	sem := make(chan struct{}, c.maxWorkers)
	var wg sync.WaitGroup

dispatch:
	for _, rec := range pending {
		select {
		case <-ctx.Done():
			// Stop dispatching; queued URLs stay queued for the next run.
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(rec *model.URLRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			c.processURL(ctx, batch, rec, &tally)
			_ = bar.Add(1)
			c.flushReport(ctx, batch, &tally)
		}(rec)
	}
	wg.Wait()

	batch.Processed = int(tally.processed.Load())
	if ctx.Err() != nil {
		batch.Status = model.BatchFailed
	} else {
		batch.Status = model.BatchCompleted
	}

	// Final flush happens even when the run context is cancelled.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.storage.SaveBatch(flushCtx, batch); err != nil {
		slog.Error("failed to finalize batch", "batch_id", batch.ID, "error", err)
	}
	c.flushReport(flushCtx, batch, &tally)

	return &service.CompletionStats{
		Duration:    time.Since(start),
		Total:       batch.TotalURLs,
		Processed:   int(tally.processed.Load()),
		FilteredOut: int(tally.filteredOut.Load()),
		Errored:     int(tally.errored.Load()),
		Blacklisted: int(tally.blacklisted.Load()),
		Whitelisted: int(tally.whitelisted.Load()),
		Review:      int(tally.review.Load()),
		CacheHits:   int(tally.cacheHits.Load()),
	}, nil
}

// dedupe drops URLs that normalize to one already in the batch, keeping the
// first occurrence.
func (c *Coordinator) dedupe(batchID string, urls []string) []*model.URLRecord {
	seen := make(map[string]struct{}, len(urls))
	records := make([]*model.URLRecord, 0, len(urls))
	for _, raw := range urls {
		normalized := model.NormalizeURL(raw)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		records = append(records, &model.URLRecord{
			ID:         uuid.NewString(),
			BatchID:    batchID,
			RawURL:     raw,
			Normalized: normalized,
			Status:     model.StatusQueued,
		})
	}
	return records
}

// filter removes URLs on already-blacklisted domains and dead hosts, marking
// them filtered-out. It returns the URLs still worth fetching.
func (c *Coordinator) filter(ctx context.Context, batchID string, records []*model.URLRecord, tally *counters) []*model.URLRecord {
	byURL := make(map[string]*model.URLRecord, len(records))

	var probeList []string
	var pending []*model.URLRecord
	for _, rec := range records {
		if c.blacklist != nil && c.blacklist.ContainsDomain(model.MainDomain(rec.RawURL)) {
			c.markFiltered(ctx, rec, model.ReasonBlacklisted, tally)
			continue
		}
		byURL[rec.RawURL] = rec
		probeList = append(probeList, rec.RawURL)
	}

	if c.prefilter == nil {
		for _, raw := range probeList {
			pending = append(pending, byURL[raw])
		}
		return pending
	}

	c.setStatus(ctx, batchID, byURL, model.StatusPrefilter)
	reachable, skipped, err := c.prefilter.Probe(ctx, probeList)
	if err != nil {
		// Fail open: an unusable prefilter must not drop the batch.
		slog.Warn("prefilter failed, fetching everything", "error", err)
		reachable = probeList
		skipped = nil
	}

	for _, skip := range skipped {
		if rec, ok := byURL[skip.URL]; ok {
			c.markFiltered(ctx, rec, skip.Reason, tally)
		}
	}
	for _, raw := range reachable {
		if rec, ok := byURL[raw]; ok {
			pending = append(pending, rec)
		}
	}
	return pending
}

func (c *Coordinator) setStatus(ctx context.Context, batchID string, byURL map[string]*model.URLRecord, status model.URLStatus) {
	for _, rec := range byURL {
		rec.Status = status
		if err := c.storage.UpdateURLStatus(ctx, rec.ID, status, ""); err != nil {
			slog.Warn("failed to update URL status",
				"batch_id", batchID, "url", rec.RawURL, "error", err)
		}
	}
}

func (c *Coordinator) markFiltered(ctx context.Context, rec *model.URLRecord, reason model.FilterReason, tally *counters) {
	rec.Status = model.StatusFilteredOut
	if err := c.storage.UpdateURLStatus(ctx, rec.ID, model.StatusFilteredOut, string(reason)); err != nil {
		slog.Warn("failed to mark URL filtered", "url", rec.RawURL, "error", err)
	}
	tally.filteredOut.Add(1)
	// Filtered URLs count as processed so a completed batch always ends
	// with processed == total.
	tally.processed.Add(1)
}

// processURL walks one URL through fetch, match, classify, persist.
func (c *Coordinator) processURL(ctx context.Context, batch *model.Batch, rec *model.URLRecord, tally *counters) {
	if hit := c.resume(ctx, batch, rec, tally); hit {
		return
	}
	if ctx.Err() != nil {
		return
	}

	c.transition(ctx, rec, model.StatusFetching, "")
	content, attempts, err := c.fetcher.Fetch(ctx, rec.RawURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Cancelled mid-fetch: requeue for the next run.
			c.transition(ctx, rec, model.StatusQueued, "")
			return
		}
		for _, attempt := range attempts {
			slog.Debug("backend attempt failed",
				"url", rec.RawURL,
				"backend", attempt.Backend,
				"elapsed", attempt.Elapsed,
				"error", attempt.Err)
		}
		c.markErrored(ctx, rec, err, tally)
		return
	}

	content.URLID = rec.ID
	c.transition(ctx, rec, model.StatusFetched, "")
	if err := c.storage.SaveContent(ctx, content); err != nil {
		slog.Warn("failed to save content", "url", rec.RawURL, "error", err)
	}

	c.transition(ctx, rec, model.StatusAnalyzing, "")
	matches, err := c.matcher.Match(ctx, content)
	if err != nil {
		c.markErrored(ctx, rec, err, tally)
		return
	}
	if len(matches) > 0 {
		if err := c.storage.SaveMatches(ctx, content.ID, matches); err != nil {
			slog.Warn("failed to save matches", "url", rec.RawURL, "error", err)
		}
		c.indexContent(ctx, rec, content)
	}

	outcome, err := c.classifier.Classify(ctx, content, matches)
	if err != nil {
		c.markErrored(ctx, rec, err, tally)
		return
	}

	report := &model.URLReport{
		ID:          uuid.NewString(),
		URLID:       rec.ID,
		BatchID:     batch.ID,
		URL:         rec.RawURL,
		Normalized:  rec.Normalized,
		Category:    outcome.Category,
		Method:      outcome.Method,
		Explanation: outcome.Explanation,
		Issues:      outcome.Issues,
		Confidence:  outcome.Confidence,
		CreatedAt:   time.Now(),
	}
	c.persistReport(ctx, report)
	c.recordOutcome(ctx, rec, report, tally, false)
}

// resume checks the already-processed index. A hit reuses the cached outcome
// without refetching.
func (c *Coordinator) resume(ctx context.Context, batch *model.Batch, rec *model.URLRecord, tally *counters) bool {
	cached, err := c.storage.LatestReportForURL(ctx, rec.Normalized)
	if err == nil {
		report := &model.URLReport{
			ID:          uuid.NewString(),
			URLID:       rec.ID,
			BatchID:     batch.ID,
			URL:         rec.RawURL,
			Normalized:  rec.Normalized,
			Category:    cached.Category,
			Method:      cached.Method,
			Explanation: cached.Explanation,
			Issues:      cached.Issues,
			Confidence:  cached.Confidence,
			CreatedAt:   time.Now(),
		}
		c.persistReport(ctx, report)
		c.recordOutcome(ctx, rec, report, tally, true)
		return true
	}
	if !errors.Is(err, common.ErrNotFound) {
		slog.Warn("resume lookup failed", "url", rec.RawURL, "error", err)
	}

	if c.dedup != nil {
		exists, err := c.dedup.Exists(ctx, rec.Normalized)
		if err != nil {
			slog.Warn("dedup lookup failed", "url", rec.RawURL, "error", err)
			return false
		}
		if exists {
			// Indexed by an earlier run whose report is gone. Skip the
			// work but don't guess a category.
			c.transition(ctx, rec, model.StatusCategorized, "")
			tally.cacheHits.Add(1)
			tally.processed.Add(1)
			return true
		}
	}
	return false
}

// recordOutcome finalizes a categorized URL: status, counters, ledger.
func (c *Coordinator) recordOutcome(ctx context.Context, rec *model.URLRecord, report *model.URLReport, tally *counters, cached bool) {
	c.transition(ctx, rec, model.StatusCategorized, "")

	switch report.Category {
	case model.CategoryBlacklist:
		tally.blacklisted.Add(1)
	case model.CategoryWhitelist:
		tally.whitelisted.Add(1)
	default:
		tally.review.Add(1)
	}
	if cached {
		tally.cacheHits.Add(1)
	}
	tally.processed.Add(1)

	if c.blacklist != nil && report.Category == model.CategoryBlacklist && report.Confidence >= c.threshold {
		added, err := c.blacklist.Append(model.BlacklistEntry{
			URL:        report.URL,
			Reason:     report.Explanation,
			Confidence: report.Confidence,
			Category:   report.Category,
			Issues:     report.Issues,
			BatchID:    report.BatchID,
		})
		if err != nil {
			slog.Error("failed to append blacklist entry", "url", report.URL, "error", err)
		} else if added {
			slog.Info("blacklisted", "url", report.URL, "confidence", report.Confidence)
		}
	}
}

// persistReport saves the outcome, retrying, and falls back to the replay
// side channel so a storage outage cannot lose a finished classification.
func (c *Coordinator) persistReport(ctx context.Context, report *model.URLReport) {
	// Outcomes from in-flight URLs persist even when the run is cancelled.
	pctx := context.WithoutCancel(ctx)
	err := common.WithRetry(pctx, func() error {
		return c.storage.SaveURLReport(pctx, report)
	}, c.persistRetry)
	if err == nil {
		return
	}

	slog.Error("failed to persist report", "url", report.URL, "error", err)
	if c.replay != nil {
		if replayErr := c.replay.Append(report); replayErr != nil {
			slog.Error("failed to write replay entry", "url", report.URL, "error", replayErr)
		}
	}
}

// indexContent embeds and upserts fetched content for future dedup. Best
// effort only.
func (c *Coordinator) indexContent(ctx context.Context, rec *model.URLRecord, content *model.ContentRecord) {
	if c.dedup == nil {
		return
	}
	embedding, err := c.dedup.Embed(ctx, content.Text)
	if err != nil {
		slog.Warn("failed to embed content", "url", rec.RawURL, "error", err)
		return
	}
	if err := c.dedup.Upsert(ctx, rec.Normalized, embedding); err != nil {
		slog.Warn("failed to upsert embedding", "url", rec.RawURL, "error", err)
	}
}

func (c *Coordinator) markErrored(ctx context.Context, rec *model.URLRecord, cause error, tally *counters) {
	c.transition(ctx, rec, model.StatusErrored, cause.Error())
	tally.errored.Add(1)
	tally.processed.Add(1)
}

func (c *Coordinator) transition(ctx context.Context, rec *model.URLRecord, status model.URLStatus, lastError string) {
	rec.Status = status
	rec.LastError = lastError
	if err := c.storage.UpdateURLStatus(context.WithoutCancel(ctx), rec.ID, status, lastError); err != nil {
		slog.Warn("failed to update URL status", "url", rec.RawURL, "error", err)
	}
}

// flushReport upserts the batch's aggregate report from the live counters.
func (c *Coordinator) flushReport(ctx context.Context, batch *model.Batch, tally *counters) {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	report := &model.ComplianceReport{
		BatchID:     batch.ID,
		Status:      batch.Status,
		Total:       batch.TotalURLs,
		Processed:   int(tally.processed.Load()),
		Blacklisted: int(tally.blacklisted.Load()),
		Whitelisted: int(tally.whitelisted.Load()),
		Review:      int(tally.review.Load()),
		FilteredOut: int(tally.filteredOut.Load()),
		Errored:     int(tally.errored.Load()),
	}
	if err := c.storage.SaveComplianceReport(context.WithoutCancel(ctx), report); err != nil {
		slog.Warn("failed to flush compliance report", "batch_id", batch.ID, "error", err)
	}
}

func (c *Coordinator) newProgressBar(total int) *progressbar.ProgressBar {
	if c.progressWriter == nil {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(c.progressWriter),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Processing URLs...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
