package tracking

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventSessionStarted   EventKind = "session.started"
	EventFixAccepted      EventKind = "fix.accepted"
	EventFixRejected      EventKind = "fix.rejected"
	EventEndPrompt        EventKind = "session.end_prompt"
	EventInterrupted      EventKind = "session.interrupted"
	EventSessionEnded     EventKind = "session.ended"
	EventSessionDiscarded EventKind = "session.discarded"
	EventRecoveryDecided  EventKind = "recovery.decided"
	EventSourceError      EventKind = "source.error"
	EventTick             EventKind = "tick"
)

type Event struct {
	Kind                EventKind         `json:"kind"`
	SessionID           string            `json:"session_id,omitempty"`
	At                  time.Time         `json:"at"`
	Point               *RoutePoint       `json:"point,omitempty"`
	Reason              string            `json:"reason,omitempty"`
	DistanceMeters      float64           `json:"distance_m,omitempty"`
	TotalDistanceMeters float64           `json:"total_distance_m,omitempty"`
	ElapsedSeconds      int64             `json:"elapsed_sec,omitempty"`
	Elapsed             string            `json:"elapsed,omitempty"`
	Decision            *RecoveryDecision `json:"decision,omitempty"`
	Error               string            `json:"error,omitempty"`
}

// droppable reports whether a lagging subscriber may miss events of kind k.
// Ticks and per-fix events are superseded by the next one; the rest are not.
func (k EventKind) droppable() bool {
	switch k {
	case EventTick, EventFixAccepted, EventFixRejected:
		return true
	}
	return false
}

// Bus fans engine events out to subscribers. Delivery never blocks the
// engine. When a subscriber's buffer is full a droppable event is skipped;
// any other event evicts the oldest droppable one still queued so prompts
// and interruptions always arrive.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: map[*Subscription]struct{}{}}
}

// Subscription is a cancellable handle on the bus.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	bus  *Bus
	once sync.Once
}

func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
			continue
		default:
		}
		if evt.Kind.droppable() {
			continue
		}
		sub.makeRoom()
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// makeRoom frees one slot in a full buffer, preferring the oldest droppable
// event and otherwise the oldest event. Queue order is kept. Callers hold the
// bus lock so no other send can interleave.
func (s *Subscription) makeRoom() {
	queued := make([]Event, 0, cap(s.ch))
drain:
	for {
		select {
		case old := <-s.ch:
			queued = append(queued, old)
		default:
			break drain
		}
	}
	if len(queued) == cap(s.ch) {
		victim := 0
		for i, old := range queued {
			if old.Kind.droppable() {
				victim = i
				break
			}
		}
		queued = append(queued[:victim], queued[victim+1:]...)
	}
	for _, old := range queued {
		s.ch <- old
	}
}
