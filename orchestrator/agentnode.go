package orchestrator

import (
	"context"
	"fmt"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
)

// AgentNode wraps a registered specialist as a graph node. The wrapper
// resolves the instance lazily so registry refreshes take effect without
// a graph rebuild.
func (n *Nodes) AgentNode(name string) graph.NodeFunc {
	return func(ctx context.Context, state *graph.State) (*graph.State, error) {
		inst, err := n.registry.Instantiate(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", graph.ErrorCodeAgentUnavailable, err)
		}
		task := taskFromState(state)
		res, err := inst.Process(ctx, task)
		if err != nil {
			return nil, err
		}
		if res.RequiresApproval {
			intr := graph.NewInterrupt(name, "operation requires approval", res.ApprovalPreview)
			intr.RequiresHumanApproval = true
			return nil, intr
		}
		return applyResult(state, name, res), nil
	}
}

// taskFromState projects the turn state into the agent task contract.
func taskFromState(state *graph.State) *agent.Task {
	return &agent.Task{
		SessionID:     state.SessionID,
		TraceID:       state.TraceID,
		UserID:        state.UserID,
		Instruction:   state.OriginalQuery,
		Payload:       state.ExternalPayload,
		Artifacts:     state.SharedArtifacts,
		Entities:      semanticEntities(state),
		HumanDecision: state.ResponseMetadata[graph.MetaKeyHumanDecision],
	}
}

// applyResult folds an agent result into a new state snapshot.
func applyResult(state *graph.State, name string, res *agent.Result) *graph.State {
	var mut graph.StateMutator
	next := state.Clone()
	next.ActiveAgent = name
	if res.Message != "" {
		next.ResponseMessage = res.Message
	}
	if len(res.Data) > 0 {
		next = mut.MergeResponseData(next, res.Data)
	}
	if len(res.Artifact) > 0 {
		next = mut.SetSharedArtifact(next, name, res.Artifact)
	}
	if len(res.Metadata) > 0 {
		next = mut.MergeResponseMetadata(next, res.Metadata)
	}
	return mut.AppendCompletedNode(next, name)
}

// semanticEntities extracts the entity map left by the intent node.
func semanticEntities(state *graph.State) map[string]string {
	semantic, ok := state.ResponseMetadata[graph.MetaKeySemanticResult].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := semantic["entities"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
