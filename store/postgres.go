package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"transcribepipeline/core"
)

// PostgresStore is the production Store backend: pgx against a Postgres
// database with the pgvector extension, HNSW-indexed for cosine search.
type PostgresStore struct {
	conn *pgx.Conn
}

// NewPostgresStore connects to dbURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := &PostgresStore{conn: conn}
	if err := s.ensureSchema(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id SERIAL PRIMARY KEY,
			workflow_run_id VARCHAR(64) UNIQUE NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			filename VARCHAR(500) NOT NULL,
			file_path VARCHAR(1000) NOT NULL,
			status VARCHAR(32) NOT NULL,
			transcript TEXT,
			segments JSONB,
			language VARCHAR(16),
			error TEXT,
			cancelled BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS job_chunks (
			id SERIAL PRIMARY KEY,
			job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			topic_summary TEXT,
			keywords JSONB,
			confidence DOUBLE PRECISION,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			start_char_pos INTEGER NOT NULL,
			end_char_pos INTEGER NOT NULL,
			embedding vector(384),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(job_id, chunk_index)
		);`,
		`CREATE TABLE IF NOT EXISTS activity_completion (
			workflow_run_id VARCHAR(64) NOT NULL,
			activity_name VARCHAR(64) NOT NULL,
			payload JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (workflow_run_id, activity_name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_job_chunks_job_id ON job_chunks(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_job_chunks_embedding ON job_chunks
			USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "ensure schema: %s", stmt)
		}
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *core.Job) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO jobs (workflow_run_id, user_id, filename, file_path, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id
	`, job.WorkflowRunID, job.UserID, job.Filename, job.FilePath, job.Status).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "create job")
	}
	return id, nil
}

func (s *PostgresStore) scanJob(row pgx.Row) (*core.Job, error) {
	var j core.Job
	var segmentsJSON []byte
	err := row.Scan(&j.ID, &j.WorkflowRunID, &j.UserID, &j.Filename, &j.FilePath, &j.Status,
		&j.Transcript, &segmentsJSON, &j.Language, &j.Error, &j.Cancelled, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "scan job")
	}
	if len(segmentsJSON) > 0 {
		if err := json.Unmarshal(segmentsJSON, &j.Segments); err != nil {
			return nil, errors.Wrap(err, "unmarshal segments")
		}
	}
	return &j, nil
}

const jobColumns = `id, workflow_run_id, user_id, filename, file_path, status, transcript, segments, language, error, cancelled, created_at, updated_at`

func (s *PostgresStore) GetJob(ctx context.Context, jobID int64) (*core.Job, error) {
	row := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns), jobID)
	return s.scanJob(row)
}

func (s *PostgresStore) ListJobsByUser(ctx context.Context, userID string) ([]*core.Job, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`, jobColumns), userID)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs by user")
	}
	defer rows.Close()
	var out []*core.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListResumable(ctx context.Context) ([]*core.Job, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE status IN ($1, $2) ORDER BY created_at ASC`, jobColumns),
		core.JobPending, core.JobProcessing)
	if err != nil {
		return nil, errors.Wrap(err, "list resumable jobs")
	}
	defer rows.Close()
	var out []*core.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, jobID int64, status core.JobStatus, jobErr string) error {
	_, err := s.conn.Exec(ctx, `UPDATE jobs SET status = $1, error = $2, updated_at = now() WHERE id = $3`, status, jobErr, jobID)
	return errors.Wrap(err, "update job status")
}

func (s *PostgresStore) SetCancelled(ctx context.Context, jobID int64) error {
	_, err := s.conn.Exec(ctx, `UPDATE jobs SET cancelled = true, updated_at = now() WHERE id = $1`, jobID)
	return errors.Wrap(err, "set cancelled")
}

func (s *PostgresStore) IsCancelled(ctx context.Context, jobID int64) (bool, error) {
	var cancelled bool
	err := s.conn.QueryRow(ctx, `SELECT cancelled FROM jobs WHERE id = $1`, jobID).Scan(&cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return cancelled, errors.Wrap(err, "is cancelled")
}

func (s *PostgresStore) SaveTranscription(ctx context.Context, jobID int64, transcript, language string, segments []core.Segment, marker core.ActivityCompletionMarker) error {
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return errors.Wrap(err, "marshal segments")
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE jobs SET transcript = $1, language = $2, segments = $3, updated_at = now() WHERE id = $4`,
		transcript, language, segmentsJSON, jobID); err != nil {
		return errors.Wrap(err, "save transcription")
	}
	if err := insertMarker(ctx, tx, marker); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit transcription")
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, jobID int64, chunks []core.Chunk, marker core.ActivityCompletionMarker) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM job_chunks WHERE job_id = $1`, jobID); err != nil {
		return errors.Wrap(err, "clear chunks")
	}
	for _, c := range chunks {
		keywordsJSON, err := json.Marshal(c.Keywords)
		if err != nil {
			return errors.Wrap(err, "marshal keywords")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO job_chunks (job_id, chunk_index, text, topic_summary, keywords, confidence, start_time, end_time, start_char_pos, end_char_pos, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		`, jobID, c.ChunkIndex, c.Text, c.TopicSummary, keywordsJSON, c.Confidence, c.StartTime, c.EndTime, c.StartCharPos, c.EndCharPos); err != nil {
			return errors.Wrap(err, "insert chunk")
		}
	}
	if err := insertMarker(ctx, tx, marker); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit chunks")
}

func (s *PostgresStore) PatchChunkEmbeddings(ctx context.Context, jobID int64, embeddings map[int64][]float32, marker core.ActivityCompletionMarker) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	for chunkID, vec := range embeddings {
		if _, err := tx.Exec(ctx, `UPDATE job_chunks SET embedding = $1 WHERE id = $2 AND job_id = $3`,
			pgvector.NewVector(vec), chunkID, jobID); err != nil {
			return errors.Wrap(err, "patch chunk embedding")
		}
	}
	if err := insertMarker(ctx, tx, marker); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit embeddings")
}

// ListEmbeddedChunks returns the subset of a job's chunks that already
// carry an embedding, including the vector itself. Used by HybridStore to
// re-project chunks into its secondary search index.
func (s *PostgresStore) ListEmbeddedChunks(ctx context.Context, jobID int64) ([]core.Chunk, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, job_id, chunk_index, text, topic_summary, keywords, confidence, start_time, end_time, start_char_pos, end_char_pos, created_at, embedding
		FROM job_chunks WHERE job_id = $1 AND embedding IS NOT NULL ORDER BY chunk_index ASC
	`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "list embedded chunks")
	}
	defer rows.Close()

	var out []core.Chunk
	for rows.Next() {
		var c core.Chunk
		var keywordsJSON []byte
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.JobID, &c.ChunkIndex, &c.Text, &c.TopicSummary, &keywordsJSON,
			&c.Confidence, &c.StartTime, &c.EndTime, &c.StartCharPos, &c.EndCharPos, &c.CreatedAt, &vec); err != nil {
			return nil, errors.Wrap(err, "scan embedded chunk")
		}
		if len(keywordsJSON) > 0 {
			if err := json.Unmarshal(keywordsJSON, &c.Keywords); err != nil {
				return nil, errors.Wrap(err, "unmarshal keywords")
			}
		}
		c.Embedding = vec.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListChunks(ctx context.Context, jobID int64) ([]core.Chunk, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, job_id, chunk_index, text, topic_summary, keywords, confidence, start_time, end_time, start_char_pos, end_char_pos, created_at
		FROM job_chunks WHERE job_id = $1 ORDER BY chunk_index ASC
	`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "list chunks")
	}
	defer rows.Close()

	var out []core.Chunk
	for rows.Next() {
		var c core.Chunk
		var keywordsJSON []byte
		if err := rows.Scan(&c.ID, &c.JobID, &c.ChunkIndex, &c.Text, &c.TopicSummary, &keywordsJSON,
			&c.Confidence, &c.StartTime, &c.EndTime, &c.StartCharPos, &c.EndCharPos, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan chunk")
		}
		if len(keywordsJSON) > 0 {
			if err := json.Unmarshal(keywordsJSON, &c.Keywords); err != nil {
				return nil, errors.Wrap(err, "unmarshal keywords")
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SearchChunks(ctx context.Context, q SearchQuery) ([]core.SearchHit, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}
	rows, err := s.conn.Query(ctx, `
		SELECT c.job_id, c.id, c.chunk_index, c.text, c.topic_summary,
			1 - (c.embedding <=> $1) AS score, c.start_time, c.end_time, c.created_at
		FROM job_chunks c
		JOIN jobs j ON j.id = c.job_id
		WHERE j.user_id = $2 AND j.status = $3 AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1 ASC, j.created_at DESC, c.id ASC
		LIMIT $4
	`, pgvector.NewVector(q.Embedding), q.UserID, core.JobCompleted, q.TopK)
	if err != nil {
		return nil, errors.Wrap(err, "search chunks")
	}
	defer rows.Close()

	var out []core.SearchHit
	for rows.Next() {
		var h core.SearchHit
		if err := rows.Scan(&h.JobID, &h.ChunkID, &h.ChunkIndex, &h.Text, &h.TopicSummary, &h.Score, &h.StartTime, &h.EndTime, &h.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan search hit")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertMarker(ctx context.Context, tx pgx.Tx, marker core.ActivityCompletionMarker) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO activity_completion (workflow_run_id, activity_name, payload, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (workflow_run_id, activity_name) DO NOTHING
	`, marker.WorkflowRunID, marker.ActivityName, marker.Payload)
	return errors.Wrap(err, "insert completion marker")
}

func (s *PostgresStore) IsActivityComplete(ctx context.Context, workflowRunID, activityName string) (bool, error) {
	var n int
	err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM activity_completion WHERE workflow_run_id = $1 AND activity_name = $2`,
		workflowRunID, activityName).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "is activity complete")
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkActivityComplete(ctx context.Context, marker core.ActivityCompletionMarker) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)
	if err := insertMarker(ctx, tx, marker); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit marker")
}

func (s *PostgresStore) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
