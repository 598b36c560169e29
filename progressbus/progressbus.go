// Package progressbus fans job progress events out to subscribers without
// ever letting a slow subscriber block the scheduler that publishes them.
package progressbus

import (
	"sync"
	"time"
)

// EventType classifies one progress message.
type EventType string

const (
	EventStatusChanged   EventType = "status_changed"
	EventActivityStarted EventType = "activity_started"
	EventActivityRetried EventType = "activity_retried"
	EventActivityDone    EventType = "activity_done"
	EventHeartbeat       EventType = "heartbeat"
	EventLagging         EventType = "lagging"
)

// Event is one message delivered to a job's subscribers.
type Event struct {
	JobID     int64
	Type      EventType
	Activity  string
	Message   string
	Timestamp time.Time
}

const subscriberQueueDepth = 64

// Subscription is one subscriber's bounded view of a job's events.
type Subscription struct {
	jobID int64
	ch    chan Event
	bus   *Bus
}

// Events returns the channel to range over for this subscription's events.
// It is closed when Close is called or when CloseJob is called for its job.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.jobID, s)
}

// Bus is an in-process pub/sub for job progress. Publish never blocks:
// a subscriber whose queue is full has its two oldest events dropped to
// make room for a single EventLagging marker followed by the new event, so
// it knows it missed something instead of silently desynchronizing.
type Bus struct {
	mu   sync.Mutex
	subs map[int64][]*Subscription
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int64][]*Subscription)}
}

// Subscribe registers a new Subscription for jobID's events.
func (b *Bus) Subscribe(jobID int64) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{jobID: jobID, ch: make(chan Event, subscriberQueueDepth), bus: b}
	b.subs[jobID] = append(b.subs[jobID], sub)
	return sub
}

func (b *Bus) unsubscribe(jobID int64, target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[jobID]
	for i, s := range subs {
		if s == target {
			close(s.ch)
			b.subs[jobID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every current subscriber of event.JobID. It
// never blocks on a slow subscriber: a full queue is drained by two slots
// (oldest events dropped), an EventLagging marker takes the first and the
// real event the second.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.subs[event.JobID]...)
	b.mu.Unlock()

	for _, s := range subs {
		publishTo(s.ch, event)
	}
}

func publishTo(ch chan Event, event Event) {
	select {
	case ch <- event:
		return
	default:
	}

	// Queue is full: drop the two oldest events to make room, then signal
	// the gap with a lagging marker before queuing the real event.
	select {
	case <-ch:
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- Event{JobID: event.JobID, Type: EventLagging, Timestamp: event.Timestamp}:
	default:
	}
	select {
	case ch <- event:
	default:
		// Still full even after dropping two slots (a racing publisher
		// beat us to it); give up on this delivery rather than block.
	}
}

// CloseJob unregisters and closes every subscription for jobID, used once
// a job reaches a terminal state and no further events will be published.
func (b *Bus) CloseJob(jobID int64) {
	b.mu.Lock()
	subs := b.subs[jobID]
	delete(b.subs, jobID)
	b.mu.Unlock()
	for _, s := range subs {
		close(s.ch)
	}
}
