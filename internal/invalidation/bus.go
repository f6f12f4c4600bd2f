package invalidation

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ocx/devserver/internal/logging"
)

// Bus is the ordered multi-consumer fan-out ("daisy chain") described in
// spec §4.3. Subscribers are linked in the order they call Subscribe: the
// first subscriber receives every event first, and only after it calls
// Release on the returned Obligation does the event become visible to the
// second subscriber, and so on. There is no shared-mutable bus state touched
// at steady state — each link owns exactly one inbound channel and forwards
// directly into the next link's inbound channel.
//
// Publish must not be called concurrently with the first Subscribe call;
// the Supervisor wires every consumer before launching the Watcher, so this
// is never a runtime race in practice.
type Bus struct {
	mu       sync.Mutex
	capacity int
	entry    chan Event
	last     *link
}

type link struct {
	in  chan Event
	out atomic.Pointer[chan Event] // nil until a later Subscribe chains after this link
}

// New creates a bus whose per-link channel capacity is capacity. A slow
// subscriber's full channel blocks Publish (and blocks Release on the
// previous link), which is the intended backpressure mechanism (spec P4).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{capacity: capacity}
}

// Subscribe appends a new link to the chain and returns a Subscription bound
// to it.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	in := make(chan Event, b.capacity)
	l := &link{in: in}

	if b.last == nil {
		b.entry = in
	} else {
		ch := in
		b.last.out.Store(&ch)
	}
	b.last = l

	return &Subscription{name: name, link: l}
}

// Publish sends ev to the head of the chain. It blocks if the first
// subscriber's inbox is full (backpressure) or until ctx is done. Publish
// must only be called after at least one Subscribe.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	entry := b.entry
	b.mu.Unlock()

	if entry == nil {
		return fmt.Errorf("invalidation: Publish called with no subscribers")
	}

	select {
	case entry <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscription is one consumer's link in the chain.
type Subscription struct {
	name string
	link *link
}

// Depth reports the number of buffered, unreleased events waiting on this
// subscription's inbox — a proxy for bus backpressure, exposed for metrics.
func (s *Subscription) Depth() int {
	return len(s.link.in)
}

// Receive blocks until the next event is available or ctx is done. The
// returned Obligation must be released exactly once.
func (s *Subscription) Receive(ctx context.Context) (*Obligation, error) {
	select {
	case ev := <-s.link.in:
		ob := &Obligation{event: ev, link: s.link, subscriber: s.name}
		runtime.SetFinalizer(ob, finalizeUnreleased)
		return ob, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Obligation carries one event and the duty to forward it to the next link
// in the chain. Per spec §9's redesign of the source's drop-triggered
// forwarding, release is explicit: a dropped, unreleased Obligation is
// diagnosed (logged) rather than silently tolerated.
type Obligation struct {
	event      Event
	link       *link
	subscriber string
	released   atomic.Bool
}

// Event returns the carried invalidation event.
func (o *Obligation) Event() Event {
	return o.event
}

// Release forwards the event to the next link (or drops it, at the tail of
// the chain) and marks the obligation discharged. Release is idempotent:
// calling it more than once is a no-op after the first call.
func (o *Obligation) Release(ctx context.Context) error {
	if !o.released.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(o, nil)

	nextPtr := o.link.out.Load()
	if nextPtr == nil {
		return nil // tail of the chain: nothing further observes this event
	}

	select {
	case *nextPtr <- o.event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func finalizeUnreleased(o *Obligation) {
	if o.released.Load() {
		return
	}
	logging.Structured().Error("invalidation obligation dropped without Release",
		"subscriber", o.subscriber,
		"event_id", o.event.ID.String(),
		"path", o.event.Path,
		"kind", o.event.Kind.String(),
	)
}
