// Package core defines the durable data model shared by every component of
// the transcription pipeline: jobs, their transcript segments, and the
// semantic chunks derived from them.
package core

import "time"

// JobStatus is one node of the job state machine DAG:
// pending -> processing -> {completed, failed}.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal edge of
// the job state machine DAG. No transition leaves a terminal status.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next == JobFailed
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// Segment is one Whisper-style timestamped span of the transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Job is one uploaded audio file moving through the pipeline.
type Job struct {
	ID            int64     `json:"id"`
	WorkflowRunID string    `json:"workflow_run_id"`
	UserID        string    `json:"user_id"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"file_path"`
	Status        JobStatus `json:"status"`
	Transcript    *string   `json:"transcript,omitempty"`
	Segments      []Segment `json:"segments,omitempty"`
	Language      *string   `json:"language,omitempty"`
	Error         string    `json:"error,omitempty"`
	Cancelled     bool      `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasTranscript reports whether the job has passed the Transcribe stage.
func (j *Job) HasTranscript() bool {
	return j.Transcript != nil && j.Segments != nil
}

// EmbeddingDim is the fixed embedding dimension the core asserts at
// startup; mixing dimensions across embedder backends is a configuration
// error (spec §4.2/§6.5).
const EmbeddingDim = 384

// Chunk is a contiguous, topic-coherent span of a Job's transcript.
type Chunk struct {
	ID           int64     `json:"id"`
	JobID        int64     `json:"job_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Text         string    `json:"text"`
	TopicSummary string    `json:"topic_summary"`
	Keywords     []string  `json:"keywords"`
	Confidence   float64   `json:"confidence"`
	StartTime    float64   `json:"start_time"`
	EndTime      float64   `json:"end_time"`
	StartCharPos int       `json:"start_char_pos"`
	EndCharPos   int       `json:"end_char_pos"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasEmbedding reports whether the chunk has passed the Embed stage.
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) == EmbeddingDim
}

// ActivityCompletionMarker certifies that an activity's durable output has
// been persisted in the same transaction as the marker itself.
type ActivityCompletionMarker struct {
	WorkflowRunID string    `json:"workflow_run_id"`
	ActivityName  string    `json:"activity_name"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

// SearchHit is one ranked result from the semantic search engine.
type SearchHit struct {
	JobID        int64     `json:"job_id"`
	ChunkID      int64     `json:"chunk_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Text         string    `json:"text"`
	TopicSummary string    `json:"topic_summary"`
	Score        float64   `json:"score"`
	StartTime    float64   `json:"start_time"`
	EndTime      float64   `json:"end_time"`
	CreatedAt    time.Time `json:"created_at"`
}
