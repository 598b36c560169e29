package store

import (
	"context"

	"transcribepipeline/core"
)

// HybridStore pairs a PostgresStore, the durable source of truth for jobs
// and chunks, with a MilvusStore search index updated after every
// embedding patch and every transition to completed. SearchChunks is served by Milvus; everything else is served by
// Postgres. Selected by config.VectorBackendMilvus.
type HybridStore struct {
	*PostgresStore
	index *MilvusStore
}

// NewHybridStore builds a HybridStore over an already-connected Postgres
// and Milvus pair.
func NewHybridStore(pg *PostgresStore, milvus *MilvusStore) *HybridStore {
	return &HybridStore{PostgresStore: pg, index: milvus}
}

func (s *HybridStore) PatchChunkEmbeddings(ctx context.Context, jobID int64, embeddings map[int64][]float32, marker core.ActivityCompletionMarker) error {
	if err := s.PostgresStore.PatchChunkEmbeddings(ctx, jobID, embeddings, marker); err != nil {
		return err
	}
	// Postgres has already committed the embeddings by this point, so a
	// reindex failure here leaves Milvus briefly stale rather than losing
	// any durable state.
	return s.reindexJob(ctx, jobID)
}

// UpdateStatus re-tags a job's indexed chunks with its new status once
// Postgres commits the transition, so a job reaching completed becomes
// searchable in Milvus even though its chunks were first indexed while the
// job was still processing.
func (s *HybridStore) UpdateStatus(ctx context.Context, jobID int64, status core.JobStatus, jobErr string) error {
	if err := s.PostgresStore.UpdateStatus(ctx, jobID, status, jobErr); err != nil {
		return err
	}
	if status != core.JobCompleted {
		return nil
	}
	return s.reindexJob(ctx, jobID)
}

// reindexJob re-projects every already-embedded chunk of jobID into Milvus,
// tagged with the job's current status, so SearchChunks's job_status filter
// stays in sync with Postgres.
func (s *HybridStore) reindexJob(ctx context.Context, jobID int64) error {
	job, err := s.PostgresStore.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	chunks, err := s.PostgresStore.ListEmbeddedChunks(ctx, jobID)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := s.index.IndexChunk(ctx, job.UserID, jobID, job.Status, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *HybridStore) SearchChunks(ctx context.Context, q SearchQuery) ([]core.SearchHit, error) {
	return s.index.SearchChunks(ctx, q)
}

func (s *HybridStore) Close(ctx context.Context) error {
	closeErr := s.PostgresStore.Close(ctx)
	if err := s.index.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}
