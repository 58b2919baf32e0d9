package graph

import (
	"errors"
	"fmt"
	"time"
)

// InterruptError pauses graph execution at a node until an external
// resume. It travels as an error out of NodeFunc and is persisted with
// the pre-interrupt checkpoint.
type InterruptError struct {
	// NodeID is the node that raised the interrupt.
	NodeID string `json:"node_id"`
	// Reason is a short machine-readable cause.
	Reason string `json:"reason"`
	// Payload carries the operation preview shown to the human.
	Payload any `json:"payload,omitempty"`
	// RequiresHumanApproval marks interrupts that gate a side effect.
	RequiresHumanApproval bool `json:"requires_human_approval"`
	// Step is the executor step at which the interrupt occurred.
	Step int `json:"step"`
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %s", e.NodeID, e.Step, e.Reason)
}

// NewInterrupt creates an interrupt raised by the given node.
func NewInterrupt(nodeID, reason string, payload any) *InterruptError {
	return &InterruptError{
		NodeID:    nodeID,
		Reason:    reason,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// AsInterrupt extracts an InterruptError from an error chain.
func AsInterrupt(err error) (*InterruptError, bool) {
	var intr *InterruptError
	if errors.As(err, &intr) {
		return intr, true
	}
	return nil, false
}

// ResumeCommand resumes an interrupted execution with a decision value.
type ResumeCommand struct {
	// Resume is the human decision injected into the interrupted node's
	// metadata under the human_decision key.
	Resume any
}

// NewResumeCommand creates a resume command carrying the decision.
func NewResumeCommand(decision any) *ResumeCommand {
	return &ResumeCommand{Resume: decision}
}
