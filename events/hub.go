// Package events fans out lead activity to live subscribers such as the
// dashboard websocket.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	LeadQualified    Type = "lead.qualified"
	TaskCreated      Type = "task.created"
	TaskCompleted    Type = "task.completed"
	ActionDispatched Type = "nurturing.dispatched"
	ActionFailed     Type = "nurturing.failed"
	PassCompleted    Type = "nurturing.pass_completed"
)

type Event struct {
	Type   Type        `json:"type"`
	LeadID uint        `json:"lead_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	At     time.Time   `json:"at"`
}

// Hub is an in-process broadcaster. Slow subscribers lose events instead of
// blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
