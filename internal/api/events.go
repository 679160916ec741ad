package api

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one activity notification (recover.completed, sync.finished, ...).
type Event struct {
	ID   int64
	Type string
	At   time.Time
	Data json.RawMessage
}

// EventHub fans activity events out to SSE clients and keeps the most
// recent ones for clients that reconnect with Last-Event-ID.
type EventHub struct {
	mu     sync.Mutex
	lastID int64
	recent []Event
	limit  int
	subs   map[chan Event]struct{}
}

func NewEventHub(limit int) *EventHub {
	if limit <= 0 {
		limit = 1
	}
	return &EventHub{
		recent: make([]Event, 0, limit),
		limit:  limit,
		subs:   make(map[chan Event]struct{}),
	}
}

// Publish records and broadcasts an event. Slow subscribers miss events
// rather than block the publisher.
func (h *EventHub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.recent) == h.limit {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:h.limit-1]
	}
	h.recent = append(h.recent, ev)

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes
// the channel.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Since returns retained events with ID > lastID, oldest first.
func (h *EventHub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.recent))
	for _, ev := range h.recent {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
