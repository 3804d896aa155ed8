package events

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Type enumerates the domain events the state machine emits after a
// committed transition. Absence of a subscriber is a no-op.
type Type string

const (
	TypeSessionStarted       Type = "session_started"
	TypeSessionEnded         Type = "session_ended"
	TypeSocketActivated      Type = "socket_activated"
	TypeSocketDeactivated    Type = "socket_deactivated"
	TypeConfigurationChanged Type = "configuration_changed"
)

// Event is one committed domain transition.
type Event struct {
	Type          Type         `json:"type"`
	SessionID     snowflake.ID `json:"session_id,omitempty"`
	ChargePointID snowflake.ID `json:"charge_point_id,omitempty"`
	ConnectorID   int          `json:"connector_id"`
	Timestamp     time.Time    `json:"timestamp"`
}

const (
	defaultBufferSize       = 50
	defaultSubscriberBuffer = 16
)

// Hub fans committed domain events out to subscribers. Publishing never
// blocks; slow subscribers lose events rather than stalling a transition.
type Hub struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64

	bufferSize       int
	subscriberBuffer int
}

type Subscription struct {
	hub  *Hub
	id   uint64
	ch   chan Event
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs:             make(map[uint64]chan Event),
		bufferSize:       defaultBufferSize,
		subscriberBuffer: defaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}

	h.mu.Lock()
	h.buffer = append(h.buffer, event)
	if len(h.buffer) > h.bufferSize {
		h.buffer = h.buffer[len(h.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a listener and returns the recent event backlog.
func (h *Hub) Subscribe() (*Subscription, []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	h.subs[h.nextID] = ch

	backlog := make([]Event, len(h.buffer))
	copy(backlog, h.buffer)

	return &Subscription{hub: h, id: h.nextID, ch: ch}, backlog
}

func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}
