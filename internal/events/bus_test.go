package events

import (
	"context"
	"testing"
	"time"
)

func TestBusPublishesToSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := bus.Subscribe(ctx, TopicHostConnectivity)
	defer cleanup()

	bus.Publish(Event{Topic: TopicHostConnectivity, Type: TypeOnline})

	select {
	case received := <-stream:
		if received.Type != TypeOnline {
			t.Fatalf("expected %s, got %s", TypeOnline, received.Type)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected publish to stamp the event")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestBusIsolatedByTopic(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostStream, cleanup := bus.Subscribe(ctx, TopicHostConnectivity)
	defer cleanup()
	statusStream, statusCleanup := bus.Subscribe(ctx, TopicSyncStatus)
	defer statusCleanup()

	bus.Publish(Event{Topic: TopicSyncStatus, Type: TypeSyncProgress, Payload: 50})

	select {
	case <-hostStream:
		t.Fatal("host subscriber should not receive sync status events")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case received := <-statusStream:
		if received.Payload != 50 {
			t.Fatalf("unexpected payload %v", received.Payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected status event")
	}
}

func TestBusCleanupStopsDelivery(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := bus.Subscribe(ctx, TopicSyncStatus)
	cleanup()
	cleanup()

	bus.Publish(Event{Topic: TopicSyncStatus, Type: TypeOffline})
	select {
	case <-stream:
		t.Fatal("unsubscribed stream should not receive events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusDropsEventsWithoutTopicOrType(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := bus.Subscribe(ctx, TopicSyncStatus)
	defer cleanup()

	bus.Publish(Event{Topic: TopicSyncStatus})
	bus.Publish(Event{Type: TypeOnline})
	select {
	case <-stream:
		t.Fatal("incomplete events must be ignored")
	case <-time.After(100 * time.Millisecond):
	}
}
