package events

import (
	"context"
	"sync"
	"time"
)

// Topics carried on the bus.
const (
	// TopicHostConnectivity carries edge-triggered reachability signals from the host.
	TopicHostConnectivity = "host.connectivity"
	// TopicSyncStatus carries offline manager state changes and drain progress.
	TopicSyncStatus = "sync.status"
)

// Event types.
const (
	TypeOnline       = "online"
	TypeOffline      = "offline"
	TypeSyncProgress = "sync-progress"
	TypeSyncComplete = "sync-complete"
)

const defaultBufferSize = 16

// Event is a single message delivered to topic subscribers.
type Event struct {
	Topic     string
	Type      string
	Payload   any
	Timestamp time.Time
}

// Bus fans events out to per-topic subscribers over buffered channels.
// Publishing never blocks: a subscriber with a full buffer misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers for topic until ctx is done or the returned cleanup runs.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     b.nextSequence(),
		stream: make(chan Event, b.bufferSize),
	}
	b.register(topic, sub)

	var once sync.Once
	done := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			b.unregister(topic, sub.id)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

// Publish delivers event to the current subscribers of its topic.
func (b *Bus) Publish(event Event) {
	if event.Topic == "" || event.Type == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	subscribers := b.subscribers[event.Topic]
	if len(subscribers) == 0 {
		b.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	b.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (b *Bus) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Bus) register(topic string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[int64]*subscriber)
	}
	b.subscribers[topic][sub.id] = sub
}

func (b *Bus) unregister(topic string, subscriberID int64) {
	b.mu.Lock()
	subscribers := b.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(b.subscribers, topic)
		}
	}
	b.mu.Unlock()
}
