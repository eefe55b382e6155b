package eventbus

import (
	"sync"
	"time"
)

// Topic names a class of events, e.g. "loop.started".
type Topic string

// Event carries one payload of the bus's type to subscribers.
type Event[T any] struct {
	Topic   Topic
	Time    time.Time
	Payload T
}

// Bus is an in-process fanout for one payload type. It decouples the
// loop service from its observers (journal, log sinks).
//
// Publish never blocks: the frame path must not wait on an observer, so
// a subscriber whose buffer is full loses the event instead of stalling
// the publisher.
type Bus[T any] struct {
	mu   sync.Mutex
	seq  uint64
	subs map[uint64]chan Event[T]
}

func New[T any]() *Bus[T] {
	return &Bus[T]{subs: map[uint64]chan Event[T]{}}
}

// Publish stamps the event and offers it to every subscriber. Sends are
// non-blocking, so holding the lock across the fanout is cheap and
// guarantees no send ever races an unsubscribe's close.
func (b *Bus[T]) Publish(topic Topic, payload T) {
	e := Event[T]{Topic: topic, Time: time.Now(), Payload: payload}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered receiver and returns it with its
// cancel func. Cancel is idempotent and closes the channel; a buffer
// below 1 gets a small default.
func (b *Bus[T]) Subscribe(buffer int) (<-chan Event[T], func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event[T], buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
