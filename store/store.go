// Package store is the durable persistence layer: jobs, their chunks, and
// the activity completion markers that make each pipeline stage's effect
// idempotent across crashes and retries.
package store

import (
	"context"

	"transcribepipeline/core"
)

// SearchQuery scopes a chunk similarity search to one user's completed jobs.
type SearchQuery struct {
	UserID    string
	Embedding []float32
	TopK      int
}

// Store is the full persistence contract every scheduler and search
// component depends on. PostgresStore is the production implementation;
// MemoryStore is a brute-force in-process double used in tests.
type Store interface {
	CreateJob(ctx context.Context, job *core.Job) (int64, error)
	GetJob(ctx context.Context, jobID int64) (*core.Job, error)
	ListJobsByUser(ctx context.Context, userID string) ([]*core.Job, error)
	UpdateStatus(ctx context.Context, jobID int64, status core.JobStatus, jobErr string) error
	SetCancelled(ctx context.Context, jobID int64) error
	IsCancelled(ctx context.Context, jobID int64) (bool, error)

	// SaveTranscription persists the Transcribe activity's output and its
	// completion marker in a single transaction.
	SaveTranscription(ctx context.Context, jobID int64, transcript string, language string, segments []core.Segment, marker core.ActivityCompletionMarker) error

	// ReplaceChunks persists the Chunk activity's output (discarding any
	// prior chunk set for the job) and its completion marker transactionally.
	ReplaceChunks(ctx context.Context, jobID int64, chunks []core.Chunk, marker core.ActivityCompletionMarker) error

	// PatchChunkEmbeddings writes the Embed activity's per-chunk vectors and
	// its completion marker transactionally.
	PatchChunkEmbeddings(ctx context.Context, jobID int64, embeddings map[int64][]float32, marker core.ActivityCompletionMarker) error

	ListChunks(ctx context.Context, jobID int64) ([]core.Chunk, error)

	SearchChunks(ctx context.Context, q SearchQuery) ([]core.SearchHit, error)

	IsActivityComplete(ctx context.Context, workflowRunID, activityName string) (bool, error)
	MarkActivityComplete(ctx context.Context, marker core.ActivityCompletionMarker) error

	// ListResumable returns jobs left in a non-terminal status, for the
	// scheduler's crash-recovery sweep on startup.
	ListResumable(ctx context.Context) ([]*core.Job, error)

	Close(ctx context.Context) error
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: not found" }
