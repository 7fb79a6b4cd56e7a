package model

import (
	"net/url"
	"strings"
	"time"
)

// URLStatus is the per-run processing state of a URL. Transitions are
// monotonic except for bounded retries inside the fetch stage.
type URLStatus string

// URL statuses.
const (
	StatusQueued      URLStatus = "queued"
	StatusPrefilter   URLStatus = "prefiltering"
	StatusFilteredOut URLStatus = "filtered-out"
	StatusFetching    URLStatus = "fetching"
	StatusFetched     URLStatus = "fetched"
	StatusAnalyzing   URLStatus = "analyzing"
	StatusCategorized URLStatus = "categorized"
	StatusErrored     URLStatus = "errored"
)

// Terminal reports whether no further transitions are possible in this run.
func (s URLStatus) Terminal() bool {
	switch s {
	case StatusFilteredOut, StatusCategorized, StatusErrored:
		return true
	}
	return false
}

// FilterReason explains why a URL was removed before or instead of fetching.
type FilterReason string

// Filter reasons.
const (
	ReasonHealthy     FilterReason = "healthy"
	ReasonDNSError    FilterReason = "dns_error"
	ReasonTimeout     FilterReason = "timeout"
	ReasonKnownDead   FilterReason = "known_dead"
	ReasonInvalidURL  FilterReason = "invalid_url"
	ReasonBlacklisted FilterReason = "blacklisted"
)

// URLRecord tracks one URL through one batch.
type URLRecord struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ID         string
	BatchID    string
	RawURL     string
	Normalized string
	Status     URLStatus
	LastError  string
}

// NormalizeURL canonicalizes a raw URL for dedup and idempotence checks:
// scheme and host are lowercased, the fragment is dropped, and a trailing
// slash on a bare path is removed. Invalid URLs normalize to their trimmed
// raw form so lookups still key consistently.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}
	return u.String()
}

// MainDomain extracts the domain a URL aggregates under: the host
// lowercased, with a leading "www." removed. Subdomains are kept so that
// distinct sites under shared suffixes such as co.uk never key to the same
// domain. Returns "" when the URL has no host.
func MainDomain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
