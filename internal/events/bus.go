// Package events implements the stable pub/sub surface (C10) that couples
// the host router, the certificate orchestrator, and the admin collaborator
// to state changes in the supervisor and orchestrator, replacing the
// in-language event emitter the teacher's modules would otherwise use with
// a single typed Subscribe/Publish interface.
package events

import "sync"

// Kind identifies the event stream an event belongs to.
type Kind string

const (
	AppAdded    Kind = "app-added"
	AppUpdated  Kind = "app-updated"
	AppRemoved  Kind = "app-removed"
	AppStart    Kind = "app-start"
	AppStop     Kind = "app-stop"
	AppExit     Kind = "app-exit"
	AppLog      Kind = "app-log"
	AppHealth   Kind = "app-health"
	ConfigSaved Kind = "config-saved"
)

// Event is the payload delivered to subscribers. Host is set for every kind
// except ConfigSaved. Data carries kind-specific detail (a *LogLine, a
// *HealthState, etc.) and is nil for structural events like AppAdded/Removed
// where the host alone is the signal.
type Event struct {
	Kind Kind
	Host string
	Data any
}

// Handler receives published events. Handlers run synchronously, in
// subscription order, over a snapshot of the subscriber list taken at
// publish time — a handler that subscribes or cancels during dispatch never
// deadlocks and never observes a half-updated list.
type Handler func(Event)

// CancelFunc removes a subscription when called. Calling it more than once
// is a no-op.
type CancelFunc func()

// Bus is a single process-wide event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]*subscription
	seq  uint64
}

type subscription struct {
	id      uint64
	handler Handler
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]*subscription)}
}

// Subscribe registers handler for events of the given kind. The returned
// CancelFunc removes the subscription.
func (b *Bus) Subscribe(kind Kind, handler Handler) CancelFunc {
	b.mu.Lock()
	b.seq++
	id := b.seq
	sub := &subscription{id: id, handler: handler}
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish dispatches ev to every current subscriber of ev.Kind. It takes a
// read lock only long enough to snapshot the subscriber slice, so handlers
// may safely call Subscribe or the cancel func without deadlocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	list := b.subs[ev.Kind]
	snapshot := make([]*subscription, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.handler(ev)
	}
}
