package gateway

import (
	"github.com/capiware/capi-orchestrator/event"
)

// Emitter adapts the gateway to the executor's progress event sink.
type Emitter struct {
	gateway *Gateway
}

// NewEmitter creates the adapter.
func NewEmitter(g *Gateway) *Emitter {
	return &Emitter{gateway: g}
}

// EmitNodeTransition publishes a node_transition event.
func (e *Emitter) EmitNodeTransition(sessionID, traceID, from, to, action string) {
	e.gateway.Emit(sessionID, event.NewNodeTransition(sessionID, traceID, from, to, action))
}

// EmitAgentStart publishes an agent_start event.
func (e *Emitter) EmitAgentStart(sessionID, traceID, agent string) {
	e.gateway.Emit(sessionID, event.NewAgentStart(sessionID, traceID, agent))
}

// EmitAgentEnd publishes an agent_end event.
func (e *Emitter) EmitAgentEnd(sessionID, traceID, agent string) {
	e.gateway.Emit(sessionID, event.NewAgentEnd(sessionID, traceID, agent))
}

// EmitStateSnapshot publishes a state_snapshot event.
func (e *Emitter) EmitStateSnapshot(sessionID, traceID string, snapshot map[string]any) {
	e.gateway.Emit(sessionID, event.NewStateSnapshot(sessionID, traceID, snapshot))
}
