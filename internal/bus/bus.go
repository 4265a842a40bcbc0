// Package bus implements a strictly-ordered, synchronous-publish
// fan-out of tagged workflow events with bounded history replay for
// late subscribers.
package bus

import (
	"sync"
	"time"

	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/google/uuid"
)

// MaxHistory bounds the retained event history; on overflow the oldest
// entries are dropped and a single EventHistoryTruncated marker is
// emitted.
const MaxHistory = 10_000

// Handler receives events in the order they were published.
type Handler func(types.Event)

// subscription is one registered handler and its private, ordered
// delivery queue. The queue is an unbounded slice guarded by its own
// mutex rather than a fixed-capacity channel: Publish only ever appends
// under that per-subscriber lock, so one stalled handler backs up only
// its own backlog and can never block delivery to any other
// subscriber, let alone Publish itself.
type subscription struct {
	id      int
	handler Handler

	qmu    sync.Mutex
	queue  []types.Event
	notify chan struct{} // buffered 1; wakes the dispatch loop

	done chan struct{}
}

// enqueue appends event to the subscriber's backlog and wakes its
// dispatch loop if it is idle. Never blocks.
func (s *subscription) enqueue(event types.Event) {
	s.qmu.Lock()
	s.queue = append(s.queue, event)
	s.qmu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest queued event, if any.
func (s *subscription) dequeue() (types.Event, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return types.Event{}, false
	}
	e := s.queue[0]
	s.queue[0] = types.Event{}
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil // release the backing array once the backlog drains
	}
	return e, true
}

// Bus is the process-wide event fan-out point. The zero value is not
// usable; construct with New.
type Bus struct {
	mu            sync.Mutex
	history       []types.Event
	dropped       int
	subs          []*subscription
	nextSubID     int
	truncatedOnce bool
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Publish appends event to history, stamps it with a sequence token and
// timestamp if unset, then delivers it to every current subscriber in
// registration order. Publish is synchronous with respect to history
// (the event is visible to History()/Subscribe() before Publish
// returns) but each subscriber's handler runs on its own dispatch
// goroutine, fed by an unbounded per-subscriber backlog: enqueueing
// never blocks, so a slow subscriber cannot block Publish or starve
// delivery to any other subscriber, and no event is ever dropped for
// any subscriber. Per-subscriber ordering is preserved by the backlog's
// FIFO append/pop discipline.
func (b *Bus) Publish(event types.Event) {
	if event.Seq == "" {
		event.Seq = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.appendHistoryLocked(event)
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(event)
	}
}

// appendHistoryLocked must be called with b.mu held.
func (b *Bus) appendHistoryLocked(event types.Event) {
	b.history = append(b.history, event)
	head := 0
	if b.truncatedOnce {
		head = 1 // history[0] is the truncation marker
	}
	if excess := len(b.history) - head - MaxHistory; excess > 0 {
		b.dropped += excess
		marker := b.history[0]
		if !b.truncatedOnce {
			b.truncatedOnce = true
			marker = types.Event{
				Kind:      types.EventHistoryTruncated,
				Timestamp: time.Now(),
				Seq:       uuid.NewString(),
				Payload:   types.HistoryTruncatedPayload{Dropped: b.dropped},
			}
		}
		// The marker takes the slot of the newest dropped event, so it
		// stays at the head of the retained history.
		b.history[head+excess-1] = marker
		b.history = b.history[head+excess-1:]
	}
}

// Subscribe registers handler and, before returning, replays every event
// published so far to it — atomically, under the same lock as the
// registration, so no concurrent Publish can land between the replay
// snapshot and the live registration (closing the "replay gap" a
// separate snapshot-then-subscribe implementation would have).
//
// Replay runs synchronously on the calling goroutine; live delivery
// after that runs on a per-subscriber dispatch goroutine. The returned
// unsubscribe function stops delivery and is safe to call more than
// once.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	snapshot := make([]types.Event, len(b.history))
	copy(snapshot, b.history)

	b.nextSubID++
	sub := &subscription{
		id:      b.nextSubID,
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	for _, e := range snapshot {
		handler(e)
	}

	go b.dispatchLoop(sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub) })
	}
}

func (b *Bus) dispatchLoop(sub *subscription) {
	for {
		if e, ok := sub.dequeue(); ok {
			sub.handler(e)
			continue
		}
		select {
		case <-sub.notify:
		case <-sub.done:
			return
		}
	}
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	close(sub.done)
}

// History returns a snapshot of past events.
func (b *Bus) History() []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Event, len(b.history))
	copy(out, b.history)
	return out
}
