package model

import "time"

// ContentRecord holds the content fetched for one URL. Records are immutable
// once written and only replaced by an explicit re-fetch.
type ContentRecord struct {
	FetchedAt time.Time
	ID        string
	URLID     string
	URL       string
	Title     string
	Text      string
	Backend   string
	Elapsed   time.Duration
}

// MatchResult is one brand mention found in fetched content. Semantic
// matches carry a similarity score and the embedding they matched against.
type MatchResult struct {
	ID            string
	ContentID     string
	Text          string
	ContextBefore string
	ContextAfter  string
	EmbeddingID   string
	Offset        int
	Similarity    float64
	Semantic      bool
}

// Context returns the full window around the match, the shape the classifier
// rules evaluate.
func (m MatchResult) Context() string {
	return m.ContextBefore + m.Text + m.ContextAfter
}
