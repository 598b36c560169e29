package scheduler

import (
	"context"
	"time"

	"transcribepipeline/progressbus"
)

// heartbeatPacemaker ticks at a fixed interval while an activity is in
// flight, touching the activity's liveness and checking for an operator
// cancellation request. If the liveness check itself fails to succeed for
// longer than heartbeatTimeout (e.g. Store is unreachable), or the job is
// found cancelled, the activity's context is cancelled so its blocking
// call unwinds instead of running to completion.
type heartbeatPacemaker struct {
	bus          *progressbus.Bus
	jobID        int64
	activity     string
	tickInterval time.Duration
	staleTimeout time.Duration
	cancel       context.CancelFunc
	stop         chan struct{}
	done         chan struct{}
}

// startHeartbeat launches a pacemaker and returns a derived context that is
// cancelled on operator cancellation or liveness staleness, plus a stop
// function the caller must call once the activity attempt finishes.
func startHeartbeat(parent context.Context, bus *progressbus.Bus, jobID int64, activity string, tickInterval, staleTimeout time.Duration, isCancelled func(context.Context) (bool, error)) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	hb := &heartbeatPacemaker{
		bus: bus, jobID: jobID, activity: activity,
		tickInterval: tickInterval, staleTimeout: staleTimeout,
		cancel: cancel, stop: make(chan struct{}), done: make(chan struct{}),
	}
	go hb.loop(ctx, isCancelled)
	return ctx, hb.close
}

func (h *heartbeatPacemaker) loop(ctx context.Context, isCancelled func(context.Context) (bool, error)) {
	defer close(h.done)

	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()
	staleSince := time.Time{}

	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := isCancelled(ctx)
			if err != nil {
				if staleSince.IsZero() {
					staleSince = time.Now()
				} else if time.Since(staleSince) >= h.staleTimeout {
					h.cancel()
					return
				}
				continue
			}
			staleSince = time.Time{}
			if cancelled {
				h.bus.Publish(progressbus.Event{JobID: h.jobID, Type: progressbus.EventHeartbeat, Activity: h.activity, Message: "cancelled"})
				h.cancel()
				return
			}
			h.bus.Publish(progressbus.Event{JobID: h.jobID, Type: progressbus.EventHeartbeat, Activity: h.activity})
		}
	}
}

func (h *heartbeatPacemaker) close() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
	h.cancel()
}
