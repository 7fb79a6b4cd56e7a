package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

// replayLog is a JSON-lines side channel for URL reports that could not be
// persisted. Entries are replayed into storage on the next run.
type replayLog struct {
	mu   sync.Mutex
	path string
}

func newReplayLog(path string) *replayLog {
	return &replayLog{path: path}
}

// Append writes one report as a JSON line, creating the file and its parent
// directory as needed.
func (l *replayLog) Append(report *model.URLReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create replay directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}
	defer func() { _ = f.Close() }()

	line, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode replay entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write replay entry: %w", err)
	}
	return f.Close()
}

// ReplayPending persists reports stranded in the replay file by an earlier
// run, then truncates it. Entries that still fail stay in the file.
func (c *Coordinator) ReplayPending(ctx context.Context) (int, error) {
	if c.replay == nil {
		return 0, nil
	}

	c.replay.mu.Lock()
	defer c.replay.mu.Unlock()

	f, err := os.Open(c.replay.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open replay file: %w", err)
	}

	var reports []model.URLReport
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var report model.URLReport
		if err := json.Unmarshal(line, &report); err != nil {
			slog.Warn("skipping malformed replay entry", "error", err)
			continue
		}
		reports = append(reports, report)
	}
	scanErr := scanner.Err()
	_ = f.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("failed to read replay file: %w", scanErr)
	}
	if len(reports) == 0 {
		return 0, nil
	}

	var stranded []model.URLReport
	replayed := 0
	for i := range reports {
		report := reports[i]
		err := common.WithRetry(ctx, func() error {
			return c.storage.SaveURLReport(ctx, &report)
		}, c.persistRetry)
		if err != nil {
			slog.Error("replay failed for report", "url", report.URL, "error", err)
			stranded = append(stranded, report)
			continue
		}
		replayed++
	}

	if err := rewriteReplayFile(c.replay.path, stranded); err != nil {
		return replayed, err
	}
	if len(stranded) > 0 {
		return replayed, fmt.Errorf("%d replay entries still pending", len(stranded))
	}
	return replayed, nil
}

func rewriteReplayFile(path string, reports []model.URLReport) error {
	if len(reports) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove replay file: %w", err)
		}
		return nil
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to rewrite replay file: %w", err)
	}
	for i := range reports {
		line, err := json.Marshal(&reports[i])
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to encode replay entry: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write replay entry: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close replay file: %w", err)
	}
	return os.Rename(tmp, path)
}
