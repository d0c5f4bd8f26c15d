// Package hub fans incident events out to live operator sessions.
//
// Every subscriber has its own bounded queue. Publish never waits on a
// subscriber: a session whose queue is full is disconnected and must resync
// through a fresh listing.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/observability"
)

// DefaultQueueSize is the per-subscriber buffer when none is configured.
const DefaultQueueSize = 200

var (
	// ErrSlowSubscriber ends a subscription whose queue overflowed.
	ErrSlowSubscriber = errors.New("subscriber too slow, queue full")

	// ErrClosed is returned by Subscribe after Close, and ends every
	// subscription still attached when the hub shuts down.
	ErrClosed = errors.New("hub closed")
)

// Hub is the in-process event broadcaster. The zero value is not usable;
// call New.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	seq    uint64
	closed bool

	queueSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a hub. A non-positive queueSize selects DefaultQueueSize.
func New(queueSize int, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Subscription is one attached operator session.
type Subscription struct {
	hub    *Hub
	events chan domain.Event
	err    error
	stop   func() bool
}

// Events delivers events in publish order. The channel is closed when the
// subscription ends; Err then reports why.
func (s *Subscription) Events() <-chan domain.Event { return s.events }

// Err is nil while the subscription is live or after a normal Close or
// context cancellation. It is ErrSlowSubscriber or ErrClosed when the hub
// ended the subscription.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.hub.remove(s, nil, "closed")
}

// Subscribe attaches a session. The subscription ends when ctx is done or
// Close is called.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	s := &Subscription{hub: h, events: make(chan domain.Event, h.queueSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.HubSubscribers.Inc()
	h.logger.Debug("hub subscriber attached", "subscribers", n)

	s.stop = context.AfterFunc(ctx, func() {
		h.remove(s, nil, "cancelled")
	})
	return s, nil
}

// Publish stamps ev with the next sequence number and queues it for every
// subscriber. It returns the stamped event.
func (h *Hub) Publish(ev domain.Event) domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev.Seq = h.seq
	h.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	for s := range h.subs {
		select {
		case s.events <- ev:
		default:
			h.drop(s, ErrSlowSubscriber, "slow")
			h.logger.Warn("hub subscriber dropped, queue full",
				"queue_size", h.queueSize, "seq", ev.Seq)
		}
	}
	return ev
}

// Seq returns the sequence number of the last published event.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription with ErrClosed and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		h.drop(s, ErrClosed, "shutdown")
	}
}

func (h *Hub) remove(s *Subscription, reason error, label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(s, reason, label)
}

// drop must be called with h.mu held.
func (h *Hub) drop(s *Subscription, reason error, label string) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.err = reason
	close(s.events)
	h.metrics.HubSubscribers.Dec()
	h.metrics.SubscribersDropped.WithLabelValues(label).Inc()
}
