// Package queue is the durable embedding work queue.
//
// Jobs live in the embedding_jobs table; there is no in-process queue, so any
// number of worker processes can pull from it concurrently. The only
// coordination mechanism is the atomic claim: a conditional status update
// that exactly one racing worker can win.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is an embedding job's lifecycle state.
type Status string

// Job states. pending → processing → completed, or processing → pending
// (retry) / processing → failed (attempts exhausted). completed and failed
// are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxAttempts is the retry ceiling. A job that fails on its MaxAttempts-th
// attempt moves to failed and is never retried automatically.
const MaxAttempts = 5

// maxErrorLength caps stored error messages.
const maxErrorLength = 1000

// ErrNoPendingJobs signals an empty queue to the worker loop.
var ErrNoPendingJobs = errors.New("no pending jobs")

// ErrChunkNotFound marks a non-retryable data error: the job references a
// chunk (or content hash) that no longer exists.
var ErrChunkNotFound = errors.New("chunk not found")

// Job is one unit of embedding work, 1:1 with a chunk.
type Job struct {
	ID        uuid.UUID
	ChunkID   uuid.UUID
	TenantID  uuid.UUID
	Status    Status
	Attempts  int
	LockedBy  string
	LockedAt  *time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats is the operational status view of a tenant's queue.
type Stats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// truncateError caps an error message for storage.
func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
