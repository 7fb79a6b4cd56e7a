package model

import "time"

// URLReport is the per-URL outcome of one analysis pass. Reports are
// append-only; a URL re-processed across runs accumulates reports and the
// latest one is authoritative.
type URLReport struct {
	CreatedAt   time.Time
	ID          string
	URLID       string
	BatchID     string
	URL         string
	Normalized  string
	Category    Category
	Method      AnalysisMethod
	Explanation string
	Issues      []string
	Confidence  float64
}

// ComplianceReport aggregates a batch's outcomes. One per batch, updated
// incrementally as URLs complete.
//
// Policy: filtered-out URLs count toward Processed, so a batch that runs to
// completion always ends with Processed == Total.
type ComplianceReport struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	BatchID     string
	Status      BatchStatus
	Total       int
	Processed   int
	Blacklisted int
	Whitelisted int
	Review      int
	FilteredOut int
	Errored     int
}
