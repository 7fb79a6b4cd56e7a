// Package blacklist maintains the consolidated ledger of disallowed URLs.
//
// The ledger is a CSV file with a stable column order. All mutations go
// through a single mutex so concurrent workers cannot interleave partial
// writes, and the in-memory index guarantees at most one entry per unique
// URL. The file is replayed in full at startup; when replay encounters more
// than one row for a URL the last row wins.
package blacklist

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/urlshield/urlshield/internal/model"
)

// header is the stable ledger column order. Changing it breaks round-trips
// with previously exported files.
var header = []string{
	"URL",
	"Main Domain",
	"Reason",
	"Confidence",
	"Category",
	"Compliance Issues",
	"Batch ID",
	"Timestamp",
}

// Store is the append-only blacklist ledger plus its in-memory index.
type Store struct {
	entries map[string]model.BlacklistEntry
	domains map[string]int
	path    string
	mu      sync.Mutex
}

// Open loads the ledger at path, creating it (with header) if absent.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blacklist directory: %w", err)
	}

	s := &Store{
		path:    path,
		entries: make(map[string]model.BlacklistEntry),
		domains: make(map[string]int),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blacklist file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := s.replay(f); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) writeHeader() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create blacklist file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write blacklist header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// replay rebuilds the in-memory index from the ledger file. Last row per
// URL wins.
func (s *Store) replay(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read blacklist file: %w", err)
		}
		if first {
			first = false
			continue // header
		}
		entry, ok := parseRow(row)
		if !ok {
			continue
		}
		s.index(entry)
	}
	return nil
}

func parseRow(row []string) (model.BlacklistEntry, bool) {
	if len(row) < len(header) || row[0] == "" {
		return model.BlacklistEntry{}, false
	}
	confidence, _ := strconv.ParseFloat(row[3], 64)
	ts, err := time.Parse(time.RFC3339, row[7])
	if err != nil {
		ts = time.Time{}
	}
	var issues []string
	if row[5] != "" {
		for _, issue := range strings.Split(row[5], ",") {
			issues = append(issues, strings.TrimSpace(issue))
		}
	}
	return model.BlacklistEntry{
		URL:        row[0],
		MainDomain: row[1],
		Reason:     row[2],
		Confidence: confidence,
		Category:   model.Category(row[4]),
		Issues:     issues,
		BatchID:    row[6],
		Timestamp:  ts,
	}, true
}

// index updates the in-memory maps. Caller holds the lock (or owns the
// store exclusively during replay).
func (s *Store) index(entry model.BlacklistEntry) {
	key := model.NormalizeURL(entry.URL)
	if _, seen := s.entries[key]; !seen {
		s.domains[entry.MainDomain]++
	}
	s.entries[key] = entry
}

// Append upserts an entry keyed on its URL. It reports whether the URL was
// new to the ledger. Re-appending an unchanged entry is a no-op; a changed
// entry for a known URL wins in the index (last-write-wins) and is persisted
// as a superseding row that replay collapses.
func (s *Store) Append(entry model.BlacklistEntry) (bool, error) {
	if entry.MainDomain == "" {
		entry.MainDomain = model.MainDomain(entry.URL)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.NormalizeURL(entry.URL)
	prev, seen := s.entries[key]
	if seen && prev.Category == entry.Category && prev.Reason == entry.Reason {
		return false, nil
	}

	if err := s.appendRow(entry); err != nil {
		return false, err
	}
	s.index(entry)
	return !seen, nil
}

func (s *Store) appendRow(entry model.BlacklistEntry) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open blacklist file for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(row(entry)); err != nil {
		return fmt.Errorf("failed to append blacklist entry: %w", err)
	}
	w.Flush()
	return w.Error()
}

func row(entry model.BlacklistEntry) []string {
	return []string{
		entry.URL,
		entry.MainDomain,
		entry.Reason,
		strconv.FormatFloat(entry.Confidence, 'f', -1, 64),
		string(entry.Category),
		strings.Join(entry.Issues, ","),
		entry.BatchID,
		entry.Timestamp.Format(time.RFC3339),
	}
}

// Contains reports whether the exact URL is blacklisted.
func (s *Store) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[model.NormalizeURL(url)]
	return ok
}

// ContainsDomain reports whether any ledger entry aggregates under domain.
func (s *Store) ContainsDomain(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domains[strings.ToLower(domain)] > 0
}

// Len returns the number of unique blacklisted URLs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a snapshot of the ledger sorted by URL.
func (s *Store) Entries() []model.BlacklistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.BlacklistEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// ExportCSV writes a compacted copy of the ledger (one row per URL) to path.
// The output is round-trippable: opening it with Open reconstructs an
// equivalent set of entries.
func (s *Store) ExportCSV(path string) error {
	entries := s.Entries()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}
	for _, e := range entries {
		if err := w.Write(row(e)); err != nil {
			return fmt.Errorf("failed to write export row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ExportTXT writes the sorted set of blacklisted main domains, one per line.
func (s *Store) ExportTXT(path string) error {
	s.mu.Lock()
	domains := make([]string, 0, len(s.domains))
	for d := range s.domains {
		domains = append(domains, d)
	}
	s.mu.Unlock()
	sort.Strings(domains)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, d := range domains {
		if _, err := fmt.Fprintln(f, d); err != nil {
			return fmt.Errorf("failed to write domain: %w", err)
		}
	}
	return nil
}
