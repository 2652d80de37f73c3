// Package realtime delivers best-effort cache-invalidation events to
// connected clients. Events are never authoritative data: a recipient's only
// correct reaction is to re-fetch state from the API. Subscribers must drop
// events whose actor_id equals their own member id, since their own
// mutation's response already carries fresh state.
package realtime

import (
	"sync"
)

// Event is the enumerated invalidation payload. Every event names the acting
// member so subscribers can self-filter.
type Event struct {
	Channel    string `json:"channel"`
	Action     string `json:"action"`
	ResourceID string `json:"resource_id"`
	ActorID    string `json:"actor_id"`
}

// subscriber is one attached consumer. Its send channel is buffered; a full
// buffer drops the event rather than blocking the emitter (at-most-once).
type subscriber struct {
	send chan Event
}

// Hub is a reference-counted channel manager. Subscribers attach to named
// channels and must detach with the same handle; a channel's fan-out list
// exists while at least one subscriber holds it. No subscriber can tear the
// hub or another subscriber down.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*subscriber]struct{})}
}

// Subscription is the detach handle for one subscriber across its channels.
type Subscription struct {
	hub      *Hub
	sub      *subscriber
	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

// Attach registers a new subscriber with a buffered delivery queue.
// Subscriptions do not survive a reconnect; clients re-join their channels
// on every connect.
func (h *Hub) Attach(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	return &Subscription{
		hub:      h,
		sub:      &subscriber{send: make(chan Event, buffer)},
		channels: make(map[string]struct{}),
	}
}

// Join adds the subscriber to a named channel.
func (s *Subscription) Join(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.channels[channel]; ok {
		return
	}
	s.channels[channel] = struct{}{}

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	subs, ok := s.hub.channels[channel]
	if !ok {
		subs = make(map[*subscriber]struct{})
		s.hub.channels[channel] = subs
	}
	subs[s.sub] = struct{}{}
}

// Leave removes the subscriber from a named channel, dropping the channel's
// fan-out list when it was the last member.
func (s *Subscription) Leave(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return
	}
	delete(s.channels, channel)
	s.hub.drop(channel, s.sub)
}

// Events exposes the delivery queue.
func (s *Subscription) Events() <-chan Event {
	return s.sub.send
}

// Close detaches the subscriber from every channel. Idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for channel := range s.channels {
		s.hub.drop(channel, s.sub)
		delete(s.channels, channel)
	}
	close(s.sub.send)
}

func (h *Hub) drop(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// Emit fans the event out to every current subscriber of the channel.
// Fire-and-forget: slow consumers lose the event.
func (h *Hub) Emit(channel string, ev Event) {
	ev.Channel = channel

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.channels[channel] {
		select {
		case sub.send <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers currently hold the channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
