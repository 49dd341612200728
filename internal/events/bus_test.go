package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesTopicEvents(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe(TopicTask, 8)
	b.Publish(TopicTask, TaskStartedEvent{ID: "t1", Name: "deploy", Timestamp: time.Now()})

	select {
	case e := <-ch:
		if e.EventType() != EventTypeTaskStarted || e.TaskID() != "t1" {
			t.Errorf("received %s for %s", e.EventType(), e.TaskID())
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestSubscribeDoesNotCrossTopics(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe(TopicPhase, 8)
	b.Publish(TopicTask, TaskStartedEvent{ID: "t1"})

	select {
	case e := <-ch:
		t.Errorf("phase subscriber got task event %s", e.EventType())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.SubscribeAll(8)
	b.Publish(TopicTask, TaskCompletedEvent{ID: "t1"})
	b.Publish(TopicPhase, PhaseStartedEvent{Phase: "Design", Index: 1})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-ch:
			got[e.EventType()] = true
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	if !got[EventTypeTaskCompleted] || !got[EventTypePhaseStarted] {
		t.Errorf("received = %v", got)
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe(TopicTask, 1)
	b.Publish(TopicTask, TaskStartedEvent{ID: "kept"})

	done := make(chan struct{})
	go func() {
		// Must not block even though the buffer is full.
		b.Publish(TopicTask, TaskStartedEvent{ID: "dropped"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if e := <-ch; e.TaskID() != "kept" {
		t.Errorf("buffered event = %s, want the first one", e.TaskID())
	}
}

func TestCloseIdempotentAndTerminatesSubscribers(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TopicTask, 1)

	b.Close()
	b.Close() // Second close must not panic

	if _, ok := <-ch; ok {
		t.Error("subscriber channel not closed")
	}

	// Publishing and subscribing after close are no-ops.
	b.Publish(TopicTask, TaskStartedEvent{ID: "late"})
	late := b.Subscribe(TopicTask, 1)
	if _, ok := <-late; ok {
		t.Error("post-close subscription returned an open channel")
	}
}
