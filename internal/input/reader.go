// Package input reads URL lists out of tabular files. It auto-detects the
// character encoding and delimiter of CSV-like files, reads .xlsx workbooks
// directly, and silently discards rows whose designated column does not hold
// an http(s) URL.
package input

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/urlshield/urlshield/internal/common"
)

// Options selects what to read from a URL list file.
type Options struct {
	// Column is the header name of the URL column, matched
	// case-insensitively after trimming.
	Column string
	// Offset skips the first N URLs, Limit caps how many are returned.
	// Zero means no offset / no limit.
	Offset int
	Limit  int
}

// ReadURLs loads the URL column of a tabular file. The returned slice
// preserves file order after offset/limit are applied.
func ReadURLs(path string, opts Options) ([]string, error) {
	if opts.Column == "" {
		return nil, fmt.Errorf("%w: no URL column configured", common.ErrInputColumn)
	}

	var rows [][]string
	var err error
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err = readWorkbook(path)
	} else {
		rows, err = readDelimited(path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", common.ErrInputFile, path)
	}

	col := findColumn(rows[0], opts.Column)
	if col < 0 {
		return nil, fmt.Errorf("%w: %q not in header %v", common.ErrInputColumn, opts.Column, rows[0])
	}

	urls := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			continue
		}
		urls = append(urls, value)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(urls) {
			return nil, nil
		}
		urls = urls[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(urls) {
		urls = urls[:opts.Limit]
	}
	return urls, nil
}

func readDelimited(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInputFile, err)
	}

	decoded, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable content: %v", common.ErrInputFile, err)
	}

	reader := csv.NewReader(strings.NewReader(string(decoded)))
	reader.Comma = sniffDelimiter(string(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed rows: %v", common.ErrInputFile, err)
	}
	return rows, nil
}

func readWorkbook(path string) ([][]string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInputFile, err)
	}
	defer func() { _ = wb.Close() }()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", common.ErrInputFile)
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInputFile, err)
	}
	return rows, nil
}

// sniffDelimiter picks the separator that splits the first line into the
// most fields. Comma wins ties, matching the common case.
func sniffDelimiter(content string) rune {
	line := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}

	best := ','
	bestCount := strings.Count(line, ",")
	for _, cand := range []rune{';', '\t'} {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

func findColumn(headerRow []string, name string) int {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, field := range headerRow {
		if strings.ToLower(strings.TrimSpace(field)) == want {
			return i
		}
	}
	return -1
}
