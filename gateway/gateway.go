// Package gateway fans progress events out to per-session subscribers
// with bounded queues and FIFO delivery.
package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/capiware/capi-orchestrator/event"
	"github.com/capiware/capi-orchestrator/log"
)

// Tunables.
const (
	// defaultQueueSize bounds each subscriber's pending event queue.
	defaultQueueSize = 256
	// maxPayloadBytes is the serialized size above which event data is
	// replaced by a truncation marker.
	maxPayloadBytes = 5 << 20
)

// Subscriber receives events for one session. Send must not block
// indefinitely; a returned error marks the subscriber disconnected.
type Subscriber interface {
	Send(evt *event.Event) error
	Close()
}

type subscription struct {
	sub     Subscriber
	queue   chan *event.Event
	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
}

// Gateway delivers events to registered subscribers. Emission never
// blocks the producer: each subscriber has a bounded queue drained by
// its own goroutine, and overflow drops the oldest entries.
type Gateway struct {
	queueSize int

	mu       sync.Mutex
	sessions map[string][]*subscription
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithQueueSize sets the per-subscriber queue bound.
func WithQueueSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.queueSize = n
		}
	}
}

// New creates a gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		queueSize: defaultQueueSize,
		sessions:  make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register attaches a subscriber to a session's event stream.
func (g *Gateway) Register(sessionID string, sub Subscriber) {
	s := &subscription{
		sub:   sub,
		queue: make(chan *event.Event, g.queueSize),
		done:  make(chan struct{}),
	}
	g.mu.Lock()
	g.sessions[sessionID] = append(g.sessions[sessionID], s)
	g.mu.Unlock()
	go g.pump(sessionID, s)
}

// Unregister detaches a subscriber and closes it.
func (g *Gateway) Unregister(sessionID string, sub Subscriber) {
	g.mu.Lock()
	subs := g.sessions[sessionID]
	for i, s := range subs {
		if s.sub == sub {
			g.sessions[sessionID] = append(subs[:i], subs[i+1:]...)
			if len(g.sessions[sessionID]) == 0 {
				delete(g.sessions, sessionID)
			}
			g.mu.Unlock()
			s.stop()
			return
		}
	}
	g.mu.Unlock()
}

// SubscriberCount returns the number of subscribers for a session.
func (g *Gateway) SubscriberCount(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions[sessionID])
}

// Emit delivers an event to every subscriber of the session in FIFO
// order. Oversized payloads are truncated; slow subscribers lose their
// oldest queued events rather than blocking the producer.
func (g *Gateway) Emit(sessionID string, evt *event.Event) {
	evt = truncateOversized(evt)

	g.mu.Lock()
	subs := append([]*subscription(nil), g.sessions[sessionID]...)
	g.mu.Unlock()

	for _, s := range subs {
		for {
			select {
			case s.queue <- evt:
			default:
				// Queue full: drop the oldest entry and retry.
				select {
				case <-s.queue:
					s.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// pump drains one subscriber's queue. A send failure disconnects the
// subscriber; producers never observe it.
func (g *Gateway) pump(sessionID string, s *subscription) {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.queue:
			if n := s.dropped.Swap(0); n > 0 {
				notice := event.New(event.TypeDroppedEvents, sessionID, evt.TraceID)
				notice.Meta = map[string]any{"dropped": n}
				if err := s.sub.Send(notice); err != nil {
					g.disconnect(sessionID, s, err)
					return
				}
			}
			if err := s.sub.Send(evt); err != nil {
				g.disconnect(sessionID, s, err)
				return
			}
		}
	}
}

func (g *Gateway) disconnect(sessionID string, s *subscription, err error) {
	log.Warnf("gateway: subscriber for session %s disconnected: %v", sessionID, err)
	g.Unregister(sessionID, s.sub)
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Close()
	})
}

// truncateOversized replaces the data of an event whose serialized size
// exceeds the payload limit with a truncation marker.
func truncateOversized(evt *event.Event) *event.Event {
	raw, err := json.Marshal(evt)
	if err != nil || len(raw) <= maxPayloadBytes {
		return evt
	}
	truncated := *evt
	truncated.Data = map[string]any{
		"truncated":    true,
		"size_bytes":   len(raw),
		"truncated_at": maxPayloadBytes,
	}
	return &truncated
}
