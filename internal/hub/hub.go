// Package hub fans typed events out to an open set of live observers.
// Events are ephemeral: anything published while nobody is subscribed is
// lost, and consumers that need history must read the execution records
// instead.
package hub

import (
	"sync"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

// Event is the two-field envelope sent to observers.
type Event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Event types emitted by the service.
const (
	EventTypeConnected       = "connected"
	EventTypeExecutionUpdate = "execution_update"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind is dropped rather than stalling publishers.
const subscriberBuffer = 64

// Subscriber is one observer's handle onto the hub. Close it (or let the
// hub drop it) to stop receiving events.
type Subscriber struct {
	ch   chan Event
	hub  *Hub
	once sync.Once
}

// Events returns the channel on which the subscriber receives events. The
// channel is closed when the subscriber is dropped or closed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber from the hub and closes its event channel.
func (s *Subscriber) Close() {
	s.hub.remove(s)
}

// Hub is a process-wide broadcast of events to live subscribers. A single
// Hub is constructed at startup and passed explicitly to every component
// that publishes or serves subscriptions.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	logger Logger
}

// New creates an empty Hub.
func New(logger Logger) *Hub {
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new observer and returns its handle.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ch:  make(chan Event, subscriberBuffer),
		hub: h,
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	if h.logger != nil {
		h.logger.Debug("hub: subscriber added, total %d", n)
	}
	return s
}

// Publish delivers the event to every live subscriber without blocking. A
// subscriber whose buffer is full is dropped so one slow consumer cannot
// stall or starve the others. Events published sequentially by one caller
// are observed by every surviving subscriber in publish order; the mutex
// serializes delivery per publisher.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	var dropped []*Subscriber
	for s := range h.subs {
		select {
		case s.ch <- event:
		default:
			dropped = append(dropped, s)
		}
	}
	for _, s := range dropped {
		h.dropLocked(s)
	}
	h.mu.Unlock()

	for range dropped {
		if h.logger != nil {
			h.logger.Warn("hub: dropped slow subscriber")
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	h.dropLocked(s)
	h.mu.Unlock()
}

// dropLocked detaches a subscriber and closes its channel. Caller holds mu.
func (h *Hub) dropLocked(s *Subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.once.Do(func() { close(s.ch) })
}
