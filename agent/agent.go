// Package agent defines the specialist agent contract and the registry
// that enumerates, enables and instantiates agents at runtime.
package agent

import (
	"context"

	"github.com/capiware/capi-orchestrator/model"
)

// Task is the unit of work handed to a specialist.
type Task struct {
	SessionID   string
	TraceID     string
	UserID      string
	Instruction string
	// Payload holds structured inputs when the query was JSON.
	Payload map[string]any
	// Artifacts exposes the shared artifacts written by earlier agents
	// in this turn. Read-only for the receiving agent.
	Artifacts map[string]map[string]any
	// Entities holds extracted entities such as branch_id.
	Entities map[string]string
	// HumanDecision carries the resume decision when the task was
	// previously gated by an approval interrupt.
	HumanDecision any
}

// Result is what a specialist produced for one task.
type Result struct {
	// Message is the user-facing outcome summary.
	Message string
	// Data is merged into the turn's response_data.
	Data map[string]any
	// Artifact is stored under shared_artifacts[<agent name>].
	Artifact map[string]any
	// Metadata is merged into response_metadata (routing hints, artifact
	// pointers, pending flags).
	Metadata map[string]any
	// RequiresApproval pauses the turn with the given preview before the
	// agent's side effect runs.
	RequiresApproval bool
	// ApprovalPreview describes the gated operation to the human.
	ApprovalPreview map[string]any
}

// Agent is a named specialist.
type Agent interface {
	Name() string
	Process(ctx context.Context, task *Task) (*Result, error)
}

// Deps carries the shared dependencies injected into agent factories.
type Deps struct {
	// WorkspaceRoot is the base directory for session artifacts.
	WorkspaceRoot string
	// Model is the LLM used by conversational agents. May be nil; agents
	// must degrade to deterministic behavior without it.
	Model model.Model
}

// Factory instantiates an agent from its dependencies.
type Factory func(deps Deps) (Agent, error)
