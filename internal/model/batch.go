package model

import "time"

// BatchStatus is the lifecycle state of a submitted batch.
type BatchStatus string

// Batch statuses.
const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Batch is one submitted unit of work containing many URLs. Batches are
// never deleted, only superseded by later runs.
type Batch struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	ID        string
	Source    string
	Status    BatchStatus
	TotalURLs int
	Processed int
}
