// Package events is a small in-process pub/sub used to notify observers of
// room- and stream-level changes. Dispatch is synchronous and FIFO per
// dispatcher; handlers run on the caller's goroutine.
package events

import "sync"

// Type tags an event, e.g. "room-connected" or "stream-failed".
type Type string

// Event is any notification record carrying a Type tag.
type Event interface {
	Kind() Type
}

// Handler consumes one event. Handlers must not block.
type Handler func(Event)

type Dispatcher struct {
	mu       sync.Mutex
	handlers map[Type][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Type][]Handler)}
}

// On registers a handler for one event type. Handlers fire in registration
// order.
func (d *Dispatcher) On(t Type, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// Dispatch delivers e to every handler registered for its type before
// returning. The handler list is snapshotted first, so handlers may register
// listeners or dispatch further events reentrantly.
func (d *Dispatcher) Dispatch(e Event) {
	d.mu.Lock()
	hs := make([]Handler, len(d.handlers[e.Kind()]))
	copy(hs, d.handlers[e.Kind()])
	d.mu.Unlock()

	for _, h := range hs {
		h(e)
	}
}
