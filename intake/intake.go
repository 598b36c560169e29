// Package intake is the collaborator boundary an HTTP layer sits behind:
// it turns an uploaded file into a durable Job plus a workflow-start
// request, and serves status, transcript downloads, and live updates by
// reading Store and ProgressBus. It never talks to Transcriber, Chunker,
// or Embedder directly — that is entirely the Scheduler's concern.
package intake

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"transcribepipeline/core"
	"transcribepipeline/errs"
	"transcribepipeline/progressbus"
	"transcribepipeline/store"
)

// scheduler is the subset of scheduler.Scheduler the Intake API drives.
// Declared locally so intake does not import scheduler just to name a
// one-method dependency.
type scheduler interface {
	Submit(jobID int64)
}

// API is the Intake collaborator boundary.
type API struct {
	store     store.Store
	scheduler scheduler
	bus       *progressbus.Bus
	dataRoot  string
}

// New builds an Intake API. Uploaded file bytes are written under
// dataRoot/<uuid>/<filename>.
func New(s store.Store, sched scheduler, bus *progressbus.Bus, dataRoot string) *API {
	return &API{store: s, scheduler: sched, bus: bus, dataRoot: dataRoot}
}

// Submit persists body under a fresh job directory, creates the Job row,
// and hands it to the Scheduler to start its workflow. It returns the new
// job's ID.
func (a *API) Submit(ctx context.Context, userID, filename string, body io.Reader) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errs.Permanentf("intake: user_id is required")
	}
	if strings.TrimSpace(filename) == "" {
		return 0, errs.Permanentf("intake: filename is required")
	}

	runID := uuid.NewString()
	jobDir := filepath.Join(a.dataRoot, runID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return 0, errs.Wrap(err, "create job directory")
	}

	filePath := filepath.Join(jobDir, filepath.Base(filename))
	f, err := os.Create(filePath)
	if err != nil {
		return 0, errs.Wrap(err, "create uploaded file")
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return 0, errs.Wrap(err, "write uploaded file")
	}

	jobID, err := a.store.CreateJob(ctx, &core.Job{
		WorkflowRunID: runID,
		UserID:        userID,
		Filename:      filename,
		FilePath:      filePath,
		Status:        core.JobPending,
	})
	if err != nil {
		return 0, errs.Wrap(err, "create job")
	}

	a.scheduler.Submit(jobID)
	return jobID, nil
}

// GetStatus returns the current Job row.
func (a *API) GetStatus(ctx context.Context, jobID int64) (*core.Job, error) {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errs.Wrap(err, "get job")
	}
	return job, nil
}

// TranscriptFormat selects how GetTranscript renders a job's transcript.
type TranscriptFormat string

const (
	FormatText TranscriptFormat = "txt"
	FormatSRT  TranscriptFormat = "srt"
)

// GetTranscript renders a completed job's transcript. It returns a
// Permanent error for jobs that have not yet completed, matching the
// spec's "only for completed jobs" contract.
func (a *API) GetTranscript(ctx context.Context, jobID int64, format TranscriptFormat) ([]byte, error) {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errs.Wrap(err, "get job")
	}
	if job.Status != core.JobCompleted {
		return nil, errs.Permanentf("intake: job %d is not completed (status %s)", jobID, job.Status)
	}
	if !job.HasTranscript() {
		return nil, errs.Permanentf("intake: job %d has no transcript", jobID)
	}

	switch format {
	case FormatSRT:
		return []byte(RenderSRT(job.Segments)), nil
	case FormatText, "":
		return []byte(*job.Transcript), nil
	default:
		return nil, errs.Permanentf("intake: unsupported transcript format %q", format)
	}
}

// Cancel flags jobID for cancellation in Store. The running workflow, if
// any, observes the flag at its next heartbeat tick or activity boundary.
func (a *API) Cancel(ctx context.Context, jobID int64) error {
	if err := a.store.SetCancelled(ctx, jobID); err != nil {
		return errs.Wrap(err, "set cancelled")
	}
	return nil
}

// SubscribeUpdates delegates to ProgressBus for live progress events.
func (a *API) SubscribeUpdates(jobID int64) *progressbus.Subscription {
	return a.bus.Subscribe(jobID)
}
