package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func saveTestBatch(t *testing.T, store *SQLiteStorage) *model.Batch {
	t.Helper()
	batch := &model.Batch{
		ID:        uuid.NewString(),
		Source:    "urls.csv",
		Status:    model.BatchPending,
		TotalURLs: 3,
	}
	require.NoError(t, store.SaveBatch(context.Background(), batch))
	return batch
}

func saveTestURL(t *testing.T, store *SQLiteStorage, batchID, raw string) *model.URLRecord {
	t.Helper()
	rec := &model.URLRecord{
		ID:         uuid.NewString(),
		BatchID:    batchID,
		RawURL:     raw,
		Normalized: model.NormalizeURL(raw),
		Status:     model.StatusQueued,
	}
	require.NoError(t, store.SaveURL(context.Background(), rec))
	return rec
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStorage(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestSaveAndGetBatch(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	batch := saveTestBatch(t, store)

	got, err := store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, got.ID)
	assert.Equal(t, "urls.csv", got.Source)
	assert.Equal(t, model.BatchPending, got.Status)
	assert.Equal(t, 3, got.TotalURLs)

	// Upsert advances status and counters.
	batch.Status = model.BatchCompleted
	batch.Processed = 3
	require.NoError(t, store.SaveBatch(ctx, batch))

	got, err = store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, got.Status)
	assert.Equal(t, 3, got.Processed)
}

func TestGetBatchNotFound(t *testing.T) {
	store := setupTestStorage(t)
	_, err := store.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListBatchesNewestFirst(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	older := &model.Batch{
		ID: "older", Source: "a.csv", Status: model.BatchCompleted,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	newer := &model.Batch{
		ID: "newer", Source: "b.csv", Status: model.BatchRunning,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveBatch(ctx, older))
	require.NoError(t, store.SaveBatch(ctx, newer))

	batches, err := store.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "newer", batches[0].ID)
	assert.Equal(t, "older", batches[1].ID)
}

func TestSaveURLRejectsDuplicateNormalized(t *testing.T) {
	store := setupTestStorage(t)
	batch := saveTestBatch(t, store)

	saveTestURL(t, store, batch.ID, "https://a.example.com/page")

	dup := &model.URLRecord{
		ID:         uuid.NewString(),
		BatchID:    batch.ID,
		RawURL:     "HTTPS://A.example.com/page#frag",
		Normalized: model.NormalizeURL("HTTPS://A.example.com/page#frag"),
		Status:     model.StatusQueued,
	}
	err := store.SaveURL(context.Background(), dup)
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestUpdateURLStatus(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	batch := saveTestBatch(t, store)
	rec := saveTestURL(t, store, batch.ID, "https://a.example.com/")

	require.NoError(t, store.UpdateURLStatus(ctx, rec.ID, model.StatusErrored, "all backends failed"))

	urls, err := store.GetURLsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, model.StatusErrored, urls[0].Status)
	assert.Equal(t, "all backends failed", urls[0].LastError)

	err = store.UpdateURLStatus(ctx, "missing", model.StatusQueued, "")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveContentAndMatches(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	batch := saveTestBatch(t, store)
	rec := saveTestURL(t, store, batch.ID, "https://a.example.com/")

	content := &model.ContentRecord{
		ID:        uuid.NewString(),
		URLID:     rec.ID,
		URL:       rec.RawURL,
		Title:     "Acme Review",
		Text:      "long text mentioning acme twice",
		Backend:   "direct",
		Elapsed:   1500 * time.Millisecond,
		FetchedAt: time.Now(),
	}
	require.NoError(t, store.SaveContent(ctx, content))

	matches := []model.MatchResult{
		{ID: uuid.NewString(), ContentID: content.ID, Text: "acme", Offset: 21, ContextBefore: "mentioning "},
		{ID: uuid.NewString(), ContentID: content.ID, Text: "acme", Offset: 5, Semantic: true, Similarity: 0.9, EmbeddingID: "n1"},
	}
	require.NoError(t, store.SaveMatches(ctx, content.ID, matches))

	got, err := store.GetMatchesByContent(ctx, content.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by position.
	assert.Equal(t, 5, got[0].Offset)
	assert.True(t, got[0].Semantic)
	assert.Equal(t, 21, got[1].Offset)
	assert.Equal(t, "mentioning ", got[1].ContextBefore)

	// Saving again replaces, not appends.
	require.NoError(t, store.SaveMatches(ctx, content.ID, matches[:1]))
	got, err = store.GetMatchesByContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestURLReportsAppendOnlyLatestWins(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	batch := saveTestBatch(t, store)
	rec := saveTestURL(t, store, batch.ID, "https://a.example.com/offer")

	first := &model.URLReport{
		ID:         uuid.NewString(),
		URLID:      rec.ID,
		BatchID:    batch.ID,
		URL:        rec.RawURL,
		Normalized: rec.Normalized,
		Category:   model.CategoryReview,
		Method:     model.MethodDegraded,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.SaveURLReport(ctx, first))

	second := &model.URLReport{
		ID:          uuid.NewString(),
		URLID:       rec.ID,
		BatchID:     batch.ID,
		URL:         rec.RawURL,
		Normalized:  rec.Normalized,
		Category:    model.CategoryBlacklist,
		Method:      model.MethodLLM,
		Explanation: "unauthorized bonus promotion",
		Issues:      []string{"unauthorized_offer"},
		Confidence:  0.9,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.SaveURLReport(ctx, second))

	latest, err := store.LatestReportForURL(ctx, rec.Normalized)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, model.CategoryBlacklist, latest.Category)
	assert.Equal(t, []string{"unauthorized_offer"}, latest.Issues)
	assert.InDelta(t, 0.9, latest.Confidence, 1e-9)

	reports, err := store.GetURLReportsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestLatestReportForURLNotFound(t *testing.T) {
	store := setupTestStorage(t)
	_, err := store.LatestReportForURL(context.Background(), "https://never.example.com/")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestComplianceReportUpsert(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	batch := saveTestBatch(t, store)

	report := &model.ComplianceReport{
		BatchID: batch.ID,
		Status:  model.BatchRunning,
		Total:   3,
	}
	require.NoError(t, store.SaveComplianceReport(ctx, report))

	report.Processed = 3
	report.Blacklisted = 1
	report.Whitelisted = 1
	report.FilteredOut = 1
	report.Status = model.BatchCompleted
	require.NoError(t, store.SaveComplianceReport(ctx, report))

	got, err := store.GetComplianceReport(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, got.Status)
	assert.Equal(t, 3, got.Processed)
	assert.Equal(t, 1, got.Blacklisted)
	assert.Equal(t, 1, got.FilteredOut)

	_, err = store.GetComplianceReport(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
