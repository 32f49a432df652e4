package friction

import (
	"sync"
	"time"
)

// EventKind identifies a raw input event type.
type EventKind int

const (
	PointerDown EventKind = iota
	PointerMove
	Scroll
)

func (k EventKind) String() string {
	switch k {
	case PointerDown:
		return "pointer_down"
	case PointerMove:
		return "pointer_move"
	case Scroll:
		return "scroll"
	}
	return "unknown"
}

// InputEvent is a normalized pointer, click or scroll event.
type InputEvent struct {
	Kind   EventKind
	Target NodeID
	X      float64
	Y      float64
	Time   time.Time
}

// EventSource delivers input events to subscribers. The returned function
// detaches the handler.
type EventSource interface {
	Subscribe(kind EventKind, fn func(InputEvent)) (unsubscribe func())
}

// Bus is an in-memory EventSource. Handlers run on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventKind]map[int]func(InputEvent)
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventKind]map[int]func(InputEvent)),
	}
}

// Subscribe registers fn for events of the given kind
func (b *Bus) Subscribe(kind EventKind, fn func(InputEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]func(InputEvent))
	}
	b.handlers[kind][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[kind], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every handler registered for its kind
func (b *Bus) Publish(ev InputEvent) {
	b.mu.RLock()
	fns := make([]func(InputEvent), 0, len(b.handlers[ev.Kind]))
	for _, fn := range b.handlers[ev.Kind] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribers reports how many handlers are attached for kind
func (b *Bus) Subscribers(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}
