package eventbus

import (
	"sync"
)

const (
	// maxQueue bounds each subscriber's channel. Publish drops silently
	// once a subscriber's queue is full rather than block the publisher.
	maxQueue = 10_000

	// replayBufferSize bounds the ring buffer a new subscriber is seeded
	// with, so late subscribers still see recent history.
	replayBufferSize = 100
)

// Subscriber is a bound, ordered FIFO view onto the bus. Events arrive on
// Events(); Closed() fires once after Unsubscribe.
type Subscriber struct {
	id     uint64
	events chan Event
	closed chan struct{}
	once   sync.Once
}

// Events returns the channel events are delivered on.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Closed returns a channel that is closed when the subscriber is removed.
func (s *Subscriber) Closed() <-chan struct{} { return s.closed }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.closed) })
}

// isDroppable classifies an event kind for the replay ring and the
// high/low priority split: stream tokens are high-volume and safe to
// drop under pressure, structural and message events are not.
func isDroppable(k Kind) bool {
	return k == KindStreamToken
}

// Bus is the process-wide pub/sub. Publish never blocks and never
// returns an error: a full subscriber queue silently drops the event,
// matching the "best-effort observability" guarantee in SPEC_FULL §4.1.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	replay      []Event
	replayHead  int
	replayLen   int

	uds *udsServer
}

// New creates an empty Bus. Call Init to additionally start the UDS
// broadcast listener for a project root.
func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscriber),
		replay:      make([]Event, replayBufferSize),
	}
}

// Publish delivers e to every subscriber's queue (dropping on a full
// queue), appends it to the replay ring, and forwards it to any open UDS
// clients. Safe to call concurrently; never blocks.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	b.appendReplayLocked(e)
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	uds := b.uds
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.events <- e:
		default:
			// Queue full. Structural events are worth a blocking retry
			// against a short grace window; pure stream tokens are
			// dropped outright, mirroring the teacher's BackpressureSink
			// high/low lane split.
			if !isDroppable(e.Kind) {
				select {
				case s.events <- e:
				default:
				}
			}
		}
	}

	if uds != nil {
		uds.broadcast(e)
	}
}

func (b *Bus) appendReplayLocked(e Event) {
	idx := (b.replayHead + b.replayLen) % replayBufferSize
	b.replay[idx] = e
	if b.replayLen < replayBufferSize {
		b.replayLen++
	} else {
		b.replayHead = (b.replayHead + 1) % replayBufferSize
	}
}

// Subscribe returns a new Subscriber seeded with the current replay
// buffer, so a late subscriber observes recent history before live
// events.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{
		id:     b.nextID,
		events: make(chan Event, maxQueue),
		closed: make(chan struct{}),
	}
	for i := 0; i < b.replayLen; i++ {
		idx := (b.replayHead + i) % replayBufferSize
		select {
		case sub.events <- b.replay[idx]:
		default:
		}
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe idempotently removes sub from the bus.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.subscribers[sub.id]; ok {
		delete(b.subscribers, sub.id)
	}
	b.mu.Unlock()
	sub.close()
}

// SubscriberCount reports the number of active subscribers, for
// diagnostics and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
