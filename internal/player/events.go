package player

import (
	"fmt"
	"sync"
)

// EventKind identifies the type of a player event.
type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventPaused
	EventResumed
	EventStopped
	EventBufferProgress
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventStopped:
		return "stopped"
	case EventBufferProgress:
		return "buffer_progress"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an immutable notification about playback activity.
type Event struct {
	Kind    EventKind
	URL     string // set for EventConnecting
	Bytes   int64  // set for EventBufferProgress
	Message string // set for EventError
}

func (e Event) String() string {
	switch e.Kind {
	case EventConnecting:
		return fmt.Sprintf("connecting to %s", e.URL)
	case EventBufferProgress:
		return fmt.Sprintf("buffered %d KB", e.Bytes/1024)
	case EventError:
		return fmt.Sprintf("error: %s", e.Message)
	default:
		return e.Kind.String()
	}
}

// Subscription receives player events. Each subscription holds only the
// most recent event: a slow consumer may miss intermediate events but
// always observes the latest one.
type Subscription struct {
	C   chan Event
	bus *EventBus
}

// Cancel detaches the subscription from the bus.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
}

// EventBus broadcasts the latest player event to all subscribers with
// single-slot, replace-on-send semantics.
type EventBus struct {
	mu        sync.Mutex
	latest    Event
	hasLatest bool
	subs      map[*Subscription]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new observer. The channel is primed with the most
// recent event so late subscribers see the current situation immediately.
func (b *EventBus) Subscribe() *Subscription {
	sub := &Subscription{
		C:   make(chan Event, 1),
		bus: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[sub] = struct{}{}
	if b.hasLatest {
		sub.C <- b.latest
	}
	return sub
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Publish replaces the latest event and pushes it to every subscriber,
// displacing any undelivered previous event.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = ev
	b.hasLatest = true

	for sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			// Slot occupied: drop the stale event, then deliver the new one.
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- ev:
			default:
			}
		}
	}
}

// Latest returns the most recently published event, if any.
func (b *EventBus) Latest() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}
