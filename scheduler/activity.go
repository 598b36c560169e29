package scheduler

import (
	"context"
	"time"

	"transcribepipeline/chunker"
	"transcribepipeline/embedder"
	"transcribepipeline/errs"
	"transcribepipeline/progressbus"
	"transcribepipeline/store"
	"transcribepipeline/transcriber"
)

// Activity is one step of a job's workflow. Implementations re-read the
// job's state from Store rather than receiving large payloads directly,
// bounding how much state the Scheduler itself needs to hold in memory.
type Activity interface {
	Name() string
	Execute(ctx context.Context, jobID int64) error
}

// retryPolicy mirrors one row of the per-activity retry table: independent
// start-to-close and heartbeat timeouts, exponential backoff between
// attempts, and a hard attempt ceiling.
type retryPolicy struct {
	StartToClose   time.Duration
	Heartbeat      time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

func backoffCoefficient() float64 { return 2.0 }

var (
	transcribePolicy = retryPolicy{StartToClose: 60 * time.Minute, Heartbeat: 5 * time.Minute, InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxAttempts: 3}
	chunkPolicy      = retryPolicy{StartToClose: 30 * time.Minute, Heartbeat: time.Minute, InitialBackoff: time.Second, MaxBackoff: 60 * time.Second, MaxAttempts: 3}
	embedPolicy      = retryPolicy{StartToClose: 10 * time.Minute, Heartbeat: 30 * time.Second, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, MaxAttempts: 3}
)

// transcribeActivity runs the Transcriber and persists transcript + segments.
type transcribeActivity struct {
	store       store.Store
	transcriber transcriber.Transcriber
	bus         *progressbus.Bus
}

// NewTranscribeActivity builds the transcribe step of a job's workflow.
func NewTranscribeActivity(s store.Store, t transcriber.Transcriber, bus *progressbus.Bus) Activity {
	return &transcribeActivity{store: s, transcriber: t, bus: bus}
}

func (a *transcribeActivity) Name() string { return "transcribe" }

func (a *transcribeActivity) Execute(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return errs.Wrap(err, "load job")
	}
	res, err := a.transcriber.Transcribe(ctx, job.FilePath)
	if err != nil {
		return errs.Wrap(err, "transcribe")
	}
	marker, err := completionMarker(job.WorkflowRunID, a.Name(), map[string]any{
		"language":     res.Language,
		"segmentCount": len(res.Segments),
	})
	if err != nil {
		return err
	}
	if err := a.store.SaveTranscription(ctx, jobID, res.Transcript, res.Language, res.Segments, marker); err != nil {
		return errs.Wrap(err, "save transcription")
	}
	a.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventActivityDone, Activity: a.Name()})
	return nil
}

// chunkActivity runs the Chunker and replaces the job's chunk set.
type chunkActivity struct {
	store   store.Store
	chunker *chunker.Chunker
	bus     *progressbus.Bus
}

// NewChunkActivity builds the chunk step of a job's workflow.
func NewChunkActivity(s store.Store, c *chunker.Chunker, bus *progressbus.Bus) Activity {
	return &chunkActivity{store: s, chunker: c, bus: bus}
}

func (a *chunkActivity) Name() string { return "chunk" }

func (a *chunkActivity) Execute(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return errs.Wrap(err, "load job")
	}
	if !job.HasTranscript() {
		return errs.Permanentf("chunk activity: job %d has no transcript", jobID)
	}
	chunks, err := a.chunker.Chunk(ctx, *job.Transcript, job.Segments)
	if err != nil {
		return errs.Wrap(err, "chunk transcript")
	}
	marker, err := completionMarker(job.WorkflowRunID, a.Name(), map[string]any{"chunkCount": len(chunks)})
	if err != nil {
		return err
	}
	if err := a.store.ReplaceChunks(ctx, jobID, chunks, marker); err != nil {
		return errs.Wrap(err, "replace chunks")
	}
	a.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventActivityDone, Activity: a.Name()})
	return nil
}

// embedActivity embeds every chunk of the job and patches the vectors in.
type embedActivity struct {
	store    store.Store
	embedder embedder.Embedder
	bus      *progressbus.Bus
}

// NewEmbedActivity builds the embed step of a job's workflow.
func NewEmbedActivity(s store.Store, e embedder.Embedder, bus *progressbus.Bus) Activity {
	return &embedActivity{store: s, embedder: e, bus: bus}
}

func (a *embedActivity) Name() string { return "embed" }

func (a *embedActivity) Execute(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return errs.Wrap(err, "load job")
	}
	chunks, err := a.store.ListChunks(ctx, jobID)
	if err != nil {
		return errs.Wrap(err, "list chunks")
	}
	if len(chunks) == 0 {
		a.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventActivityDone, Activity: a.Name()})
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := a.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return errs.Wrap(err, "embed chunks")
	}

	embeddings := make(map[int64][]float32, len(chunks))
	for i, c := range chunks {
		embeddings[c.ID] = vecs[i]
	}
	marker, err := completionMarker(job.WorkflowRunID, a.Name(), map[string]any{"embeddedCount": len(chunks)})
	if err != nil {
		return err
	}
	if err := a.store.PatchChunkEmbeddings(ctx, jobID, embeddings, marker); err != nil {
		return errs.Wrap(err, "patch chunk embeddings")
	}
	a.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventActivityDone, Activity: a.Name()})
	return nil
}
