package interview

import (
	"sync"
	"time"
)

// EventKind names a session event
type EventKind string

const (
	EventStarted           EventKind = "started"
	EventAgentTurnBegan    EventKind = "agent-turn-began"
	EventAgentTurnEnded    EventKind = "agent-turn-ended"
	EventUserTurnBegan     EventKind = "user-turn-began"
	EventUserTurnEnded     EventKind = "user-turn-ended"
	EventEnded             EventKind = "ended"
	EventTranscriptUpdated EventKind = "transcript-updated"
	EventInterim           EventKind = "interim"
	EventTick              EventKind = "tick"
)

// Event is published to subscribers. Fields not relevant to Kind are zero.
type Event struct {
	Kind      EventKind
	SessionID string

	// Index is the question cursor when the event was published
	Index int

	// Text carries the spoken question, the captured answer or an interim caption
	Text string

	// Entry is set on transcript-updated
	Entry *Entry

	// Reason and Err are set on ended
	Reason Reason
	Err    error

	Elapsed  time.Duration
	Progress float64
	At       time.Time
}

// Handler receives events in publish order on a goroutine owned by its subscription
type Handler func(Event)

// Bus fans events out to subscribers. Each subscriber has its own ordered,
// unbounded queue so a slow or re-entrant handler never blocks the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers fn for the given kinds, or for every kind when none are given.
// The returned function unsubscribes; queued events are dropped.
func (b *Bus) Subscribe(fn Handler, kinds ...EventKind) (unsubscribe func()) {
	sub := newSubscriber(fn, kinds)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close(false)
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close(false)
	}
}

// Publish queues e for every interested subscriber. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.push(e)
	}
}

// Close stops accepting events. Subscribers still receive what was already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close(true)
		delete(b.subs, id)
	}
}

type subscriber struct {
	fn    Handler
	kinds map[EventKind]bool

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	drain  bool
}

func newSubscriber(fn Handler, kinds []EventKind) *subscriber {
	s := &subscriber{fn: fn}
	if len(kinds) > 0 {
		s.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) push(e Event) {
	if s.kinds != nil && !s.kinds[e.Kind] {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, e)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// close ends delivery; with drain set, queued events are still handed to fn
func (s *subscriber) close(drain bool) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.drain = drain
		if !drain {
			s.queue = nil
		}
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 || (s.closed && !s.drain) {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(e)
	}
}
