package intake

import (
	"context"
	"strings"
	"testing"

	"transcribepipeline/core"
	"transcribepipeline/progressbus"
	"transcribepipeline/store"
)

type fakeScheduler struct {
	submitted []int64
}

func (f *fakeScheduler) Submit(jobID int64) { f.submitted = append(f.submitted, jobID) }

func TestSubmitPersistsFileAndStartsWorkflow(t *testing.T) {
	s := store.NewMemoryStore()
	sched := &fakeScheduler{}
	bus := progressbus.NewBus()
	api := New(s, sched, bus, t.TempDir())

	jobID, err := api.Submit(context.Background(), "user-1", "lecture.wav", strings.NewReader("fake audio bytes"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job, err := api.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if job.Status != core.JobPending {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if job.UserID != "user-1" || job.Filename != "lecture.wav" {
		t.Errorf("unexpected job fields: %+v", job)
	}
	if len(sched.submitted) != 1 || sched.submitted[0] != jobID {
		t.Errorf("expected job %d submitted to scheduler, got %v", jobID, sched.submitted)
	}
}

func TestSubmitRejectsMissingUserOrFilename(t *testing.T) {
	s := store.NewMemoryStore()
	api := New(s, &fakeScheduler{}, progressbus.NewBus(), t.TempDir())

	if _, err := api.Submit(context.Background(), "", "f.wav", strings.NewReader("x")); err == nil {
		t.Error("expected error for empty user_id")
	}
	if _, err := api.Submit(context.Background(), "user-1", "", strings.NewReader("x")); err == nil {
		t.Error("expected error for empty filename")
	}
}

func TestGetTranscriptRequiresCompletedJob(t *testing.T) {
	s := store.NewMemoryStore()
	api := New(s, &fakeScheduler{}, progressbus.NewBus(), t.TempDir())
	ctx := context.Background()

	jobID, err := api.Submit(ctx, "user-1", "lecture.wav", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := api.GetTranscript(ctx, jobID, FormatText); err == nil {
		t.Error("expected error fetching transcript of a pending job")
	}

	marker := core.ActivityCompletionMarker{WorkflowRunID: "run", ActivityName: "transcribe"}
	segments := []core.Segment{{Start: 0, End: 1, Text: "hello"}}
	if err := s.SaveTranscription(ctx, jobID, "hello", "en", segments, marker); err != nil {
		t.Fatalf("save transcription: %v", err)
	}
	if err := s.UpdateStatus(ctx, jobID, core.JobCompleted, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	txt, err := api.GetTranscript(ctx, jobID, FormatText)
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if string(txt) != "hello" {
		t.Errorf("expected transcript text %q, got %q", "hello", txt)
	}

	srt, err := api.GetTranscript(ctx, jobID, FormatSRT)
	if err != nil {
		t.Fatalf("get transcript srt: %v", err)
	}
	if !strings.Contains(string(srt), "00:00:00,000 --> 00:00:01,000") {
		t.Errorf("expected srt timing in output, got %q", srt)
	}
}

func TestCancelSetsStoreFlag(t *testing.T) {
	s := store.NewMemoryStore()
	api := New(s, &fakeScheduler{}, progressbus.NewBus(), t.TempDir())
	ctx := context.Background()

	jobID, err := api.Submit(ctx, "user-1", "lecture.wav", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := api.Cancel(ctx, jobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, err := s.IsCancelled(ctx, jobID)
	if err != nil {
		t.Fatalf("is cancelled: %v", err)
	}
	if !cancelled {
		t.Error("expected job to be flagged cancelled in store")
	}
}

func TestSubscribeUpdatesDelegatesToProgressBus(t *testing.T) {
	s := store.NewMemoryStore()
	bus := progressbus.NewBus()
	api := New(s, &fakeScheduler{}, bus, t.TempDir())

	jobID, err := api.Submit(context.Background(), "user-1", "lecture.wav", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sub := api.SubscribeUpdates(jobID)
	defer sub.Close()

	bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventStatusChanged, Message: "0%"})
	select {
	case ev := <-sub.Events():
		if ev.Message != "0%" {
			t.Errorf("expected message %q, got %q", "0%", ev.Message)
		}
	default:
		t.Fatal("expected subscription to receive the published event")
	}
}
