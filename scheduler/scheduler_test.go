package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"transcribepipeline/core"
	"transcribepipeline/errs"
	"transcribepipeline/progressbus"
	"transcribepipeline/store"
)

// fakeActivity is a scriptable Activity test double: failUntil attempts
// return err before succeeding, or err is returned forever if permanent.
type fakeActivity struct {
	name      string
	failUntil int32
	err       error
	permanent bool
	calls     int32
	onExecute func(ctx context.Context, jobID int64)
}

func (a *fakeActivity) Name() string { return a.name }

func (a *fakeActivity) Execute(ctx context.Context, jobID int64) error {
	n := atomic.AddInt32(&a.calls, 1)
	if a.onExecute != nil {
		a.onExecute(ctx, jobID)
	}
	if a.permanent {
		return a.err
	}
	if int(n) <= int(a.failUntil) {
		return a.err
	}
	return nil
}

func newTestJob(t *testing.T, s store.Store) int64 {
	t.Helper()
	id, err := s.CreateJob(context.Background(), &core.Job{
		WorkflowRunID: "run-1",
		UserID:        "user-1",
		Filename:      "audio.wav",
		FilePath:      "/tmp/audio.wav",
		Status:        core.JobPending,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return id
}

func waitForStatus(t *testing.T, s store.Store, jobID int64, want core.JobStatus) *core.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %d did not reach status %q in time", jobID, want)
	return nil
}

// startScheduler starts the worker pool against an empty store, so the
// crash-recovery sweep has nothing to resume and every job in these tests
// reaches the workers exactly once, via the explicit Submit call that
// follows job creation.
func startScheduler(t *testing.T, sched *Scheduler) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	return ctx
}

func TestSchedulerHappyPath(t *testing.T) {
	s := store.NewMemoryStore()
	bus := progressbus.NewBus()

	transcribe := &fakeActivity{name: "transcribe"}
	chunk := &fakeActivity{name: "chunk"}
	embed := &fakeActivity{name: "embed"}

	sched := New(s, bus, 2, time.Millisecond, transcribe, chunk, embed)
	startScheduler(t, sched)

	jobID := newTestJob(t, s)
	sched.Submit(jobID)

	job := waitForStatus(t, s, jobID, core.JobCompleted)
	if job.Error != "" {
		t.Errorf("expected no error, got %q", job.Error)
	}
	for _, a := range []*fakeActivity{transcribe, chunk, embed} {
		if atomic.LoadInt32(&a.calls) != 1 {
			t.Errorf("activity %s: expected exactly 1 call, got %d", a.name, a.calls)
		}
	}
}

func TestSchedulerRetriesTransientThenSucceeds(t *testing.T) {
	s := store.NewMemoryStore()
	bus := progressbus.NewBus()

	transcribe := &fakeActivity{name: "transcribe", failUntil: 2, err: errs.Transientf("flaky transcriber")}
	chunk := &fakeActivity{name: "chunk"}
	embed := &fakeActivity{name: "embed"}

	sched := New(s, bus, 1, time.Millisecond, transcribe, chunk, embed)
	startScheduler(t, sched)

	jobID := newTestJob(t, s)
	sched.Submit(jobID)

	job := waitForStatus(t, s, jobID, core.JobCompleted)
	if job.Error != "" {
		t.Errorf("expected no error, got %q", job.Error)
	}
	if calls := atomic.LoadInt32(&transcribe.calls); calls != 3 {
		t.Errorf("expected transcribe to be called 3 times (2 failures + 1 success), got %d", calls)
	}
}

func TestSchedulerExhaustsRetriesAndFails(t *testing.T) {
	s := store.NewMemoryStore()
	bus := progressbus.NewBus()

	wantErr := errs.Transientf("transcriber unreachable")
	transcribe := &fakeActivity{name: "transcribe", failUntil: 999, err: wantErr}
	chunk := &fakeActivity{name: "chunk"}
	embed := &fakeActivity{name: "embed"}

	sched := New(s, bus, 1, time.Millisecond, transcribe, chunk, embed)
	startScheduler(t, sched)

	jobID := newTestJob(t, s)
	sched.Submit(jobID)

	job := waitForStatus(t, s, jobID, core.JobFailed)
	if job.Error != wantErr.Error() {
		t.Errorf("expected error %q, got %q", wantErr.Error(), job.Error)
	}
	if calls := atomic.LoadInt32(&transcribe.calls); calls != int32(transcribePolicy.MaxAttempts) {
		t.Errorf("expected %d attempts, got %d", transcribePolicy.MaxAttempts, calls)
	}
	if atomic.LoadInt32(&chunk.calls) != 0 {
		t.Error("chunk activity should never run after transcribe exhausts its retries")
	}
}

func TestSchedulerPermanentErrorSkipsRetries(t *testing.T) {
	s := store.NewMemoryStore()
	bus := progressbus.NewBus()

	transcribe := &fakeActivity{name: "transcribe", permanent: true, err: errs.Permanentf("file missing")}
	chunk := &fakeActivity{name: "chunk"}
	embed := &fakeActivity{name: "embed"}

	sched := New(s, bus, 1, time.Millisecond, transcribe, chunk, embed)
	startScheduler(t, sched)

	jobID := newTestJob(t, s)
	sched.Submit(jobID)

	waitForStatus(t, s, jobID, core.JobFailed)
	if calls := atomic.LoadInt32(&transcribe.calls); calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
}

func TestSchedulerCancelDuringActivityFailsJobAsCancelled(t *testing.T) {
	s := store.NewMemoryStore()
	bus := progressbus.NewBus()

	var sched *Scheduler
	transcribe := &fakeActivity{
		name:      "transcribe",
		failUntil: 999,
		err:       errs.Transientf("still working"),
		onExecute: func(ctx context.Context, id int64) {
			if err := sched.Cancel(ctx, id); err != nil {
				t.Errorf("cancel: %v", err)
			}
		},
	}
	chunk := &fakeActivity{name: "chunk"}
	embed := &fakeActivity{name: "embed"}

	sched = New(s, bus, 1, time.Millisecond, transcribe, chunk, embed)
	startScheduler(t, sched)

	jobID := newTestJob(t, s)
	sched.Submit(jobID)

	job := waitForStatus(t, s, jobID, core.JobFailed)
	if job.Error != "cancelled" {
		t.Errorf("expected error %q, got %q", "cancelled", job.Error)
	}
	if calls := atomic.LoadInt32(&transcribe.calls); calls != 1 {
		t.Errorf("expected cancellation to stop retries after the first attempt, got %d calls", calls)
	}
}

func TestSchedulerResumesFromLowestIncompleteActivity(t *testing.T) {
	s := store.NewMemoryStore()
	bus := progressbus.NewBus()

	jobID, err := s.CreateJob(context.Background(), &core.Job{
		WorkflowRunID: "run-resume",
		UserID:        "user-1",
		Filename:      "audio.wav",
		FilePath:      "/tmp/audio.wav",
		Status:        core.JobProcessing,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	marker, err := completionMarker("run-resume", "transcribe", map[string]any{"language": "en"})
	if err != nil {
		t.Fatalf("build marker: %v", err)
	}
	if err := s.SaveTranscription(context.Background(), jobID, "hello world.", "en", []core.Segment{{Start: 0, End: 1, Text: "hello world."}}, marker); err != nil {
		t.Fatalf("save transcription: %v", err)
	}

	transcribe := &fakeActivity{name: "transcribe"}
	chunk := &fakeActivity{name: "chunk"}
	embed := &fakeActivity{name: "embed"}

	sched := New(s, bus, 1, time.Millisecond, transcribe, chunk, embed)
	// Start itself performs the crash-recovery sweep here: the job
	// already exists as "processing" before the scheduler starts.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	job := waitForStatus(t, s, jobID, core.JobCompleted)
	if job.Error != "" {
		t.Errorf("expected no error, got %q", job.Error)
	}
	if atomic.LoadInt32(&transcribe.calls) != 0 {
		t.Error("transcribe already had a completion marker and should not have run again")
	}
	if atomic.LoadInt32(&chunk.calls) != 1 || atomic.LoadInt32(&embed.calls) != 1 {
		t.Error("chunk and embed should each run exactly once to complete the resumed workflow")
	}
}
