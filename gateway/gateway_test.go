package gateway

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/event"
)

// chanSubscriber records every delivered event.
type chanSubscriber struct {
	mu     sync.Mutex
	events []*event.Event
	closed bool
}

func (s *chanSubscriber) Send(evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *chanSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *chanSubscriber) snapshot() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.Event(nil), s.events...)
}

func (s *chanSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// gatedSubscriber blocks every Send until the gate is released.
type gatedSubscriber struct {
	chanSubscriber
	gate chan struct{}
}

func (s *gatedSubscriber) Send(evt *event.Event) error {
	<-s.gate
	return s.chanSubscriber.Send(evt)
}

// failingSubscriber rejects every send.
type failingSubscriber struct {
	chanSubscriber
}

func (s *failingSubscriber) Send(evt *event.Event) error {
	return errors.New("peer gone")
}

func transition(sessionID, traceID, from, to string) *event.Event {
	return event.NewNodeTransition(sessionID, traceID, from, to, "advance")
}

func TestGatewayDeliversInOrder(t *testing.T) {
	g := New()
	sub := &chanSubscriber{}
	g.Register("sess-1", sub)
	defer g.Unregister("sess-1", sub)

	for i := 0; i < 10; i++ {
		g.Emit("sess-1", transition("sess-1", "t1", fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1)))
	}

	require.Eventually(t, func() bool {
		return len(sub.snapshot()) == 10
	}, time.Second, 5*time.Millisecond)

	events := sub.snapshot()
	for i, evt := range events {
		assert.Equal(t, fmt.Sprintf("n%d", i), evt.FromNode)
	}
}

func TestGatewayScopesToSession(t *testing.T) {
	g := New()
	subA := &chanSubscriber{}
	subB := &chanSubscriber{}
	g.Register("sess-a", subA)
	g.Register("sess-b", subB)
	defer g.Unregister("sess-a", subA)
	defer g.Unregister("sess-b", subB)

	g.Emit("sess-a", transition("sess-a", "t1", "x", "y"))

	require.Eventually(t, func() bool {
		return len(subA.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, subB.snapshot())

	assert.Equal(t, 1, g.SubscriberCount("sess-a"))
	assert.Equal(t, 0, g.SubscriberCount("missing"))
}

func TestGatewayDropsOldestWhenQueueOverflows(t *testing.T) {
	g := New(WithQueueSize(2))
	sub := &gatedSubscriber{gate: make(chan struct{})}
	g.Register("sess-1", sub)
	defer g.Unregister("sess-1", sub)

	// The pump takes the first event and blocks; the next two fill the
	// queue and the rest push out the oldest entries.
	for i := 0; i < 6; i++ {
		g.Emit("sess-1", transition("sess-1", "t1", fmt.Sprintf("n%d", i), "next"))
	}
	close(sub.gate)

	require.Eventually(t, func() bool {
		events := sub.snapshot()
		return len(events) > 0 && events[len(events)-1].FromNode == "n5"
	}, time.Second, 5*time.Millisecond)

	var dropped int64
	for _, evt := range sub.snapshot() {
		if evt.Type == event.TypeDroppedEvents {
			dropped += evt.Meta["dropped"].(int64)
		}
	}
	assert.Greater(t, dropped, int64(0))
}

func TestGatewayDisconnectsFailingSubscriber(t *testing.T) {
	g := New()
	sub := &failingSubscriber{}
	g.Register("sess-1", sub)

	g.Emit("sess-1", transition("sess-1", "t1", "x", "y"))

	require.Eventually(t, func() bool {
		return g.SubscriberCount("sess-1") == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, sub.isClosed())
}

func TestGatewayUnregisterClosesSubscriber(t *testing.T) {
	g := New()
	sub := &chanSubscriber{}
	g.Register("sess-1", sub)
	require.Equal(t, 1, g.SubscriberCount("sess-1"))

	g.Unregister("sess-1", sub)
	assert.Equal(t, 0, g.SubscriberCount("sess-1"))
	assert.True(t, sub.isClosed())

	// Unregistering twice is harmless.
	g.Unregister("sess-1", sub)
}

func TestTruncateOversizedPayload(t *testing.T) {
	evt := event.NewStateSnapshot("sess-1", "t1", map[string]any{
		"blob": strings.Repeat("x", maxPayloadBytes+1024),
	})

	out := truncateOversized(evt)
	require.NotSame(t, evt, out)
	assert.Equal(t, true, out.Data["truncated"])
	assert.Equal(t, maxPayloadBytes, out.Data["truncated_at"])
	assert.Greater(t, out.Data["size_bytes"].(int), maxPayloadBytes)
	// The original event keeps its payload.
	assert.Contains(t, evt.Data, "blob")
}

func TestTruncateSmallPayloadUntouched(t *testing.T) {
	evt := event.NewStateSnapshot("sess-1", "t1", map[string]any{"k": "v"})
	assert.Same(t, evt, truncateOversized(evt))
}

func TestEmitterPublishesTypedEvents(t *testing.T) {
	g := New()
	sub := &chanSubscriber{}
	g.Register("sess-1", sub)
	defer g.Unregister("sess-1", sub)

	e := NewEmitter(g)
	e.EmitNodeTransition("sess-1", "t1", "router", "capi_datab", "advance")
	e.EmitAgentStart("sess-1", "t1", "capi_datab")
	e.EmitAgentEnd("sess-1", "t1", "capi_datab")
	e.EmitStateSnapshot("sess-1", "t1", map[string]any{"status": "processing"})

	require.Eventually(t, func() bool {
		return len(sub.snapshot()) == 4
	}, time.Second, 5*time.Millisecond)

	events := sub.snapshot()
	assert.Equal(t, event.TypeNodeTransition, events[0].Type)
	assert.Equal(t, "capi_datab", events[0].ToNode)
	assert.Equal(t, event.TypeAgentStart, events[1].Type)
	assert.Equal(t, "capi_datab", events[1].Meta["agent"])
	assert.Equal(t, event.TypeAgentEnd, events[2].Type)
	assert.Equal(t, event.TypeStateSnapshot, events[3].Type)
	assert.Equal(t, "processing", events[3].Data["status"])
}
