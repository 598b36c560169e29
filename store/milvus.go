package store

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"transcribepipeline/core"
)

// MilvusStore is the optional Milvus-backed SearchIndex, selected by
// config.VectorBackendMilvus. It serves SearchChunks only; job/chunk
// bookkeeping still lives in a PostgresStore. HybridStore calls IndexChunk
// after Postgres commits an embedding patch or a status change, so the two
// stay in sync.
type MilvusStore struct {
	mc   client.Client
	coll string
	dim  int
}

// NewMilvusStore connects to addr and ensures the collection and its HNSW
// cosine index exist.
func NewMilvusStore(ctx context.Context, addr, collection string, dim int) (*MilvusStore, error) {
	mc, err := client.NewClient(ctx, client.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := &MilvusStore{mc: mc, coll: collection, dim: dim}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return fmt.Errorf("has collection: %w", err)
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("user_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("job_id").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("job_status").WithDataType(entity.FieldTypeVarChar).WithMaxLength(32))
		schema.WithField(entity.NewField().WithName("chunk_id").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("chunk_index").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("topic_summary").WithDataType(entity.FieldTypeVarChar).WithMaxLength(2048))
		schema.WithField(entity.NewField().WithName("start_time").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end_time").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 64)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_chunk_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return s.mc.LoadCollection(ctx, s.coll, false)
}

// IndexChunk inserts one row holding a chunk's vector and filterable
// fields, including the parent job's status so SearchChunks can exclude
// chunks belonging to jobs that aren't completed. Rows inserted earlier for
// the same chunk are not replaced or removed. Called by HybridStore after
// PostgresStore commits an embedding patch or a job's transition to
// completed, so Postgres remains the durable source of truth and Milvus is
// a rebuildable search projection.
func (s *MilvusStore) IndexChunk(ctx context.Context, userID string, jobID int64, jobStatus core.JobStatus, c core.Chunk) error {
	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("user_id", []string{userID}),
		entity.NewColumnInt64("job_id", []int64{jobID}),
		entity.NewColumnVarChar("job_status", []string{string(jobStatus)}),
		entity.NewColumnInt64("chunk_id", []int64{c.ID}),
		entity.NewColumnInt64("chunk_index", []int64{int64(c.ChunkIndex)}),
		entity.NewColumnVarChar("text", []string{c.Text}),
		entity.NewColumnVarChar("topic_summary", []string{c.TopicSummary}),
		entity.NewColumnDouble("start_time", []float64{c.StartTime}),
		entity.NewColumnDouble("end_time", []float64{c.EndTime}),
		entity.NewColumnFloatVector("vector", s.dim, [][]float32{c.Embedding}),
	)
	return err
}

// searchFilter builds the Milvus boolean expression restricting a search to
// one user's chunks whose parent job has reached completed, mirroring the
// job-status join condition PostgresStore.SearchChunks enforces in SQL.
func searchFilter(userID string) string {
	return fmt.Sprintf("user_id == %q && job_status == %q", userID, string(core.JobCompleted))
}

// SearchChunks ranks by cosine similarity within one user's indexed chunks
// whose parent job is completed.
func (s *MilvusStore) SearchChunks(ctx context.Context, q SearchQuery) ([]core.SearchHit, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("search param: %w", err)
	}
	filter := searchFilter(q.UserID)
	res, err := s.mc.Search(ctx, s.coll, []string{}, filter,
		[]string{"job_id", "chunk_id", "chunk_index", "text", "topic_summary", "start_time", "end_time"},
		[]entity.Vector{entity.FloatVector(q.Embedding)}, "vector", entity.COSINE, q.TopK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []core.SearchHit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			hit := core.SearchHit{Score: float64(r.Scores[i])}
			if c, ok := cols["job_id"].(*entity.ColumnInt64); ok {
				if d := c.Data(); i < len(d) {
					hit.JobID = d[i]
				}
			}
			if c, ok := cols["chunk_id"].(*entity.ColumnInt64); ok {
				if d := c.Data(); i < len(d) {
					hit.ChunkID = d[i]
				}
			}
			if c, ok := cols["chunk_index"].(*entity.ColumnInt64); ok {
				if d := c.Data(); i < len(d) {
					hit.ChunkIndex = int(d[i])
				}
			}
			if c, ok := cols["text"].(*entity.ColumnVarChar); ok {
				if d := c.Data(); i < len(d) {
					hit.Text = d[i]
				}
			}
			if c, ok := cols["topic_summary"].(*entity.ColumnVarChar); ok {
				if d := c.Data(); i < len(d) {
					hit.TopicSummary = d[i]
				}
			}
			if c, ok := cols["start_time"].(*entity.ColumnDouble); ok {
				if d := c.Data(); i < len(d) {
					hit.StartTime = d[i]
				}
			}
			if c, ok := cols["end_time"].(*entity.ColumnDouble); ok {
				if d := c.Data(); i < len(d) {
					hit.EndTime = d[i]
				}
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

func (s *MilvusStore) Close() error {
	return s.mc.Close()
}
