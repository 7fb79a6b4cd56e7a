package model

import "time"

// BlacklistEntry is one row of the consolidated blacklist ledger. The ledger
// holds at most one entry per unique URL; domains may aggregate many URLs.
type BlacklistEntry struct {
	Timestamp  time.Time
	URL        string
	MainDomain string
	Reason     string
	Category   Category
	BatchID    string
	Issues     []string
	Confidence float64
}
