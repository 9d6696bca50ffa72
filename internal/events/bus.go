package events

import (
	"sync"

	"bay-allocation-backend/internal/model"
)

// Subscriber receives committed events in commit order.
type Subscriber interface {
	// Deliver hands an envelope to the subscriber. It is called with the bus
	// lock held and must not block. Returning false removes the subscriber.
	Deliver(env *Envelope) bool
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(env *Envelope) bool

// Deliver calls f(env).
func (f SubscriberFunc) Deliver(env *Envelope) bool { return f(env) }

// Bus fans committed events out to the current subscriber set and numbers
// them in commit order.
type Bus struct {
	mu   sync.Mutex
	seq  uint64
	subs map[string]Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]Subscriber)}
}

// Publish assigns the next sequence numbers to evts and delivers them, in
// order, to every subscriber. It returns the sequence of the last event.
// Callers serialize Publish with the commit that produced the events.
func (b *Bus) Publish(evts ...model.Event) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ev := range evts {
		b.seq++
		env := NewEnvelope(b.seq, ev)
		for id, sub := range b.subs {
			if !sub.Deliver(env) {
				delete(b.subs, id)
			}
		}
	}
	return b.seq
}

// Subscribe registers sub under id, replacing any previous subscriber with
// the same id.
func (b *Bus) Subscribe(id string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = sub
}

// Attach delivers initial to sub, stamped with the current sequence, and
// registers it in the same critical section, so sub sees exactly the events
// committed after initial. If sub refuses initial it is not registered.
func (b *Bus) Attach(id string, sub Subscriber, initial model.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !sub.Deliver(NewEnvelope(b.seq, initial)) {
		return false
	}
	b.subs[id] = sub
	return true
}

// Unsubscribe removes the subscriber registered under id, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Seq returns the sequence of the last published event.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Advance moves the sequence forward to seq, so the next event is numbered
// seq+1. It never moves the sequence backwards.
func (b *Bus) Advance(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.seq {
		b.seq = seq
	}
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
