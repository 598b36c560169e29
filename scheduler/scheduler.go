// Package scheduler is the workflow engine: it runs each job's fixed
// Transcribe -> Chunk -> Embed sequence with retries, heartbeats, timeouts,
// at-most-once durable effects, and crash recovery.
package scheduler

import (
	"context"
	"log"
	"time"

	sentry "github.com/getsentry/sentry-go"

	"transcribepipeline/core"
	"transcribepipeline/errs"
	"transcribepipeline/progressbus"
	"transcribepipeline/store"
)

type activityEntry struct {
	activity Activity
	policy   retryPolicy
}

// Scheduler runs a fixed-size pool of workers executing job workflows.
type Scheduler struct {
	store      store.Store
	bus        *progressbus.Bus
	activities [3]activityEntry

	queue        chan int64
	workers      int
	tickInterval time.Duration
}

// New builds a Scheduler with the given worker pool size, heartbeat tick
// interval, and the three ordered activities a workflow runs.
func New(s store.Store, bus *progressbus.Bus, workers int, tickInterval time.Duration, transcribe Activity, chunk Activity, embed Activity) *Scheduler {
	if workers <= 0 {
		workers = 3
	}
	if tickInterval <= 0 {
		tickInterval = 5 * time.Second
	}
	return &Scheduler{
		store: s,
		bus:   bus,
		activities: [3]activityEntry{
			{transcribe, transcribePolicy},
			{chunk, chunkPolicy},
			{embed, embedPolicy},
		},
		queue:        make(chan int64, workers*4),
		workers:      workers,
		tickInterval: tickInterval,
	}
}

// Start launches the worker pool and performs the crash-recovery sweep:
// every non-terminal job in Store is re-enqueued before new submissions
// are accepted, so a restart always resumes from the lowest-indexed
// activity lacking a completion marker.
func (s *Scheduler) Start(ctx context.Context) error {
	for i := 0; i < s.workers; i++ {
		go s.worker(ctx)
	}

	resumable, err := s.store.ListResumable(ctx)
	if err != nil {
		return errs.Wrap(err, "list resumable jobs")
	}
	for _, job := range resumable {
		s.Submit(job.ID)
	}
	return nil
}

// Submit enqueues jobID for processing. If the queue is saturated the job
// simply stays pending in Store; a future Submit or the next crash-recovery
// sweep drains it — submission itself never blocks or fails for this
// reason.
func (s *Scheduler) Submit(jobID int64) {
	select {
	case s.queue <- jobID:
	default:
		log.Printf("scheduler: queue saturated, job %d remains pending", jobID)
	}
}

// Cancel sets jobID's cancellation flag in Store; the running workflow
// observes it at its next heartbeat tick or activity boundary and fails
// the job with error "cancelled".
func (s *Scheduler) Cancel(ctx context.Context, jobID int64) error {
	return s.store.SetCancelled(ctx, jobID)
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-s.queue:
			s.runWorkflow(ctx, jobID)
		}
	}
}

func (s *Scheduler) runWorkflow(ctx context.Context, jobID int64) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			log.Printf("scheduler: recovered panic running job %d: %v", jobID, r)
			_ = s.store.UpdateStatus(ctx, jobID, core.JobFailed, "internal error")
			s.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventStatusChanged, Message: "failed"})
		}
	}()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("scheduler: load job %d: %v", jobID, err)
		return
	}

	if job.Status == core.JobPending {
		if err := s.store.UpdateStatus(ctx, jobID, core.JobProcessing, ""); err != nil {
			log.Printf("scheduler: mark job %d processing: %v", jobID, err)
			return
		}
		s.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventStatusChanged, Message: "0%"})
	}

	progressAfter := map[string]string{"transcribe": "60%", "chunk": "80%", "embed": "100%"}

	for _, entry := range s.activities {
		done, err := s.store.IsActivityComplete(ctx, job.WorkflowRunID, entry.activity.Name())
		if err != nil {
			s.fail(ctx, jobID, err)
			return
		}
		if done {
			continue
		}

		if err := s.runActivity(ctx, jobID, entry); err != nil {
			s.fail(ctx, jobID, err)
			return
		}
		s.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventStatusChanged, Message: progressAfter[entry.activity.Name()]})
	}

	if err := s.store.UpdateStatus(ctx, jobID, core.JobCompleted, ""); err != nil {
		log.Printf("scheduler: mark job %d completed: %v", jobID, err)
		return
	}
	s.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventStatusChanged, Message: "completed"})
}

func (s *Scheduler) fail(ctx context.Context, jobID int64, cause error) {
	message := cause.Error()
	if ae, ok := cause.(*errs.Error); ok && ae.Kind == errs.Cancelled {
		message = "cancelled"
	}
	if err := s.store.UpdateStatus(ctx, jobID, core.JobFailed, message); err != nil {
		log.Printf("scheduler: mark job %d failed: %v", jobID, err)
	}
	s.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventStatusChanged, Message: "failed: " + message})
	sentry.CaptureException(cause)
}

func (s *Scheduler) runActivity(parent context.Context, jobID int64, entry activityEntry) error {
	var lastErr error
	backoff := entry.policy.InitialBackoff

	for attempt := 1; attempt <= entry.policy.MaxAttempts; attempt++ {
		s.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventActivityStarted, Activity: entry.activity.Name()})

		attemptCtx, attemptCancel := context.WithTimeout(parent, entry.policy.StartToClose)
		hbCtx, stopHeartbeat := startHeartbeat(attemptCtx, s.bus, jobID, entry.activity.Name(), s.tickInterval, entry.policy.Heartbeat, func(ctx context.Context) (bool, error) {
			return s.store.IsCancelled(ctx, jobID)
		})

		err := entry.activity.Execute(hbCtx, jobID)
		stopHeartbeat()
		attemptCancel()

		if err == nil {
			return nil
		}

		if cancelled, cErr := s.store.IsCancelled(parent, jobID); cErr == nil && cancelled {
			return errs.NewCancelled()
		}
		if errs.IsPermanent(err) {
			return err
		}

		lastErr = err
		if attempt < entry.policy.MaxAttempts {
			s.bus.Publish(progressbus.Event{JobID: jobID, Type: progressbus.EventActivityRetried, Activity: entry.activity.Name(), Message: err.Error()})
			select {
			case <-time.After(backoff):
			case <-parent.Done():
				return errs.Wrap(parent.Err(), "context cancelled during backoff")
			}
			backoff = nextBackoff(backoff, entry.policy.MaxBackoff)
		}
	}
	return lastErr
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffCoefficient())
	if next > max {
		next = max
	}
	return next
}
