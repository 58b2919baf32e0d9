// Package event defines the progress events streamed to subscribed clients.
package event

import (
	"time"
)

// Type enumerates the progress event kinds.
type Type string

// Progress event types.
const (
	TypeAgentStart     Type = "agent_start"
	TypeAgentEnd       Type = "agent_end"
	TypeNodeTransition Type = "node_transition"
	TypeStateSnapshot  Type = "state_snapshot"
	// TypeDroppedEvents is a synthetic event injected when a slow
	// subscriber overflows its queue and older events are discarded.
	TypeDroppedEvents Type = "dropped_events"
)

// Event is one progress event on the per-session stream. Wire frames are
// JSON with snake_case keys.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	TraceID   string         `json:"trace_id"`
	FromNode  string         `json:"from_node,omitempty"`
	ToNode    string         `json:"to_node,omitempty"`
	Action    string         `json:"action,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// New creates an event stamped with the current UTC time.
func New(t Type, sessionID, traceID string) *Event {
	return &Event{
		Type:      t,
		SessionID: sessionID,
		TraceID:   traceID,
		EmittedAt: time.Now().UTC(),
	}
}

// NewNodeTransition creates a node_transition event for the edge from→to.
func NewNodeTransition(sessionID, traceID, from, to, action string) *Event {
	evt := New(TypeNodeTransition, sessionID, traceID)
	evt.FromNode = from
	evt.ToNode = to
	evt.Action = action
	return evt
}

// NewAgentStart creates an agent_start event for the given agent node.
func NewAgentStart(sessionID, traceID, agent string) *Event {
	evt := New(TypeAgentStart, sessionID, traceID)
	evt.ToNode = agent
	evt.Meta = map[string]any{"agent": agent}
	return evt
}

// NewAgentEnd creates an agent_end event for the given agent node.
func NewAgentEnd(sessionID, traceID, agent string) *Event {
	evt := New(TypeAgentEnd, sessionID, traceID)
	evt.FromNode = agent
	evt.Meta = map[string]any{"agent": agent}
	return evt
}

// NewStateSnapshot creates a state_snapshot event carrying the snapshot
// payload in Data.
func NewStateSnapshot(sessionID, traceID string, snapshot map[string]any) *Event {
	evt := New(TypeStateSnapshot, sessionID, traceID)
	evt.Data = snapshot
	return evt
}
