package progressbus

import "testing"

func TestSubscribeAndPublish(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1)
	defer sub.Close()

	b.Publish(Event{JobID: 1, Type: EventStatusChanged, Message: "processing"})

	select {
	case ev := <-sub.Events():
		if ev.Message != "processing" {
			t.Errorf("expected message 'processing', got %q", ev.Message)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublishDoesNotReachOtherJobsSubscribers(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1)
	defer sub.Close()

	b.Publish(Event{JobID: 2, Type: EventStatusChanged})

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event delivered to job 1 subscriber: %+v", ev)
	default:
	}
}

func TestOverflowDropsOldestAndMarksLagging(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1)
	defer sub.Close()

	for i := 0; i < subscriberQueueDepth+5; i++ {
		b.Publish(Event{JobID: 1, Type: EventHeartbeat, Message: "tick"})
	}

	sawLagging := false
	for i := 0; i < subscriberQueueDepth; i++ {
		ev := <-sub.Events()
		if ev.Type == EventLagging {
			sawLagging = true
		}
	}
	if !sawLagging {
		t.Error("expected at least one lagging marker after overflow")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1)
	sub.Close()

	b.Publish(Event{JobID: 1, Type: EventStatusChanged})

	_, ok := <-sub.Events()
	if ok {
		t.Error("expected channel to be closed after Close")
	}
}

func TestCloseJobClosesAllSubscriptions(t *testing.T) {
	b := NewBus()
	sub1 := b.Subscribe(5)
	sub2 := b.Subscribe(5)

	b.CloseJob(5)

	if _, ok := <-sub1.Events(); ok {
		t.Error("expected sub1 channel closed")
	}
	if _, ok := <-sub2.Events(); ok {
		t.Error("expected sub2 channel closed")
	}
}
