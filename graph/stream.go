package graph

// StreamMode distinguishes the two interleaved stream item kinds.
type StreamMode string

// Stream modes.
const (
	// StreamModeUpdates carries per-node output after each node completes.
	StreamModeUpdates StreamMode = "updates"
	// StreamModeValues carries the full merged state after each step.
	StreamModeValues StreamMode = "values"
)

// StreamItem is one element of the interpreter's pull-based output.
type StreamItem struct {
	Mode StreamMode
	// Updates maps node ID to that node's output state. Set for
	// StreamModeUpdates items.
	Updates map[string]*State
	// Values is the full merged state. Set for StreamModeValues items.
	Values *State
	// Interrupt is set on the final updates item of a paused execution.
	Interrupt *InterruptError
}

// Emitter receives progress events produced during execution. The
// gateway implements it; a nil emitter disables emission.
type Emitter interface {
	EmitNodeTransition(sessionID, traceID, from, to, action string)
	EmitAgentStart(sessionID, traceID, agent string)
	EmitAgentEnd(sessionID, traceID, agent string)
	EmitStateSnapshot(sessionID, traceID string, snapshot map[string]any)
}
