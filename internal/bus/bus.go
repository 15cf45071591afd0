// File: internal/bus/bus.go
package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType categorizes workspace events.
type EventType string

const (
	EventJobUpdated        EventType = "job_updated"
	EventSnapshotReplaced  EventType = "snapshot_replaced"
	EventMergeApplied      EventType = "merge_applied"
	EventTransientError    EventType = "transient_error"
	EventSelectionChanged  EventType = "selection_changed"
	EventAnnotationsLoaded EventType = "annotations_loaded"
)

// ErrClosed is returned by Publish after Shutdown.
var ErrClosed = errors.New("event bus is shut down")

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Payload   interface{}
}

// TransientError is the payload of EventTransientError: a failure the session
// recovered from by keeping its previous state.
type TransientError struct {
	Source  string // "job_poll", "graph_poll", "pivot", "annotations", ...
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Message, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

type subscriber struct {
	ch    chan Event
	types map[EventType]struct{} // empty means every type
}

func (s *subscriber) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans session events out to subscribers. Delivery never blocks the
// publisher: an event that does not fit in a subscriber's buffer is dropped for
// that subscriber and counted.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	isShutdown  bool

	dropped      atomic.Uint64
	shutdownOnce sync.Once
}

// New initializes a bus whose subscriber channels hold bufferSize events.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:      logger.Named("event_bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[int]*subscriber),
	}
}

// Publish wraps payload in an Event and offers it to every interested subscriber.
func (b *Bus) Publish(eventType EventType, payload interface{}) error {
	// The read lock is held across the sends so Shutdown cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isShutdown {
		return ErrClosed
	}

	evt := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Payload:   payload,
	}

	for id, sub := range b.subscribers {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Subscriber buffer full, event dropped",
				zap.String("type", string(eventType)), zap.Int("subscriber", id))
		}
	}
	return nil
}

// Subscribe returns a channel receiving the given event types (every type when
// none are given) and a function that detaches it. The channel is closed by
// the unsubscribe function or by Shutdown, whichever comes first.
func (b *Bus) Subscribe(types ...EventType) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown {
		closedCh := make(chan Event)
		close(closedCh)
		return closedCh, func() {}
	}

	sub := &subscriber{
		ch:    make(chan Event, b.bufferSize),
		types: make(map[EventType]struct{}, len(types)),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, unsubscribe
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Shutdown closes every subscriber channel. Later Publish calls return ErrClosed.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.isShutdown = true
		for id, sub := range b.subscribers {
			close(sub.ch)
			delete(b.subscribers, id)
		}
		b.mu.Unlock()

		if n := b.dropped.Load(); n > 0 {
			b.logger.Debug("Event bus shut down with dropped deliveries.", zap.Uint64("dropped", n))
		}
	})
}
