package orchestrator

import (
	"context"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/log"
)

// manualFallback drives the linear chain directly through the node
// functions when the compiled stream misbehaves. It guarantees the turn
// always reaches finalize.
func (r *Runtime) manualFallback(ctx context.Context, state *graph.State) *graph.State {
	var mut graph.StateMutator
	current := state.Clone()

	steps := []struct {
		name string
		fn   graph.NodeFunc
	}{
		{NodeStart, r.nodes.Start},
		{NodeIntent, r.nodes.Intent},
		{NodeReact, r.nodes.React},
		{NodeReasoning, r.nodes.Reasoning},
		{NodeSupervisor, r.nodes.Supervisor},
		{NodeRouter, r.nodes.Router},
	}
	for _, step := range steps {
		next, err := step.fn(ctx, current)
		if err != nil {
			log.Warnf("orchestrator: fallback node %s failed: %v", step.name, err)
			current = mut.AddError(current, graph.ErrorCodeNodeFailure, err.Error(), step.name, nil)
			current = mut.AppendCompletedNode(current, step.name)
			continue
		}
		current = next
	}

	agentName := current.ActiveAgent
	if agentName == "" || agentName == NodeAssemble || !r.registry.IsEnabled(agentName) {
		agentName = agent.NameGus
	}
	if r.registry.IsEnabled(agentName) {
		next, err := r.nodes.AgentNode(agentName)(ctx, current)
		if err != nil {
			// Interrupts cannot pause the fallback chain; record and move on.
			current = mut.AddError(current, graph.ErrorCodeNodeFailure, err.Error(), agentName, nil)
			current = mut.AppendCompletedNode(current, agentName)
		} else {
			current = next
		}
	}

	for _, step := range []struct {
		name string
		fn   graph.NodeFunc
	}{
		{NodeHumanGate, r.nodes.HumanGate},
		{NodeAssemble, r.nodes.Assemble},
		{NodeFinalize, r.nodes.Finalize},
	} {
		next, err := step.fn(ctx, current)
		if err != nil {
			current = mut.AddError(current, graph.ErrorCodeNodeFailure, err.Error(), step.name, nil)
			current = mut.AppendCompletedNode(current, step.name)
			continue
		}
		current = next
	}
	return current
}

// finishFallback closes out a turn that cannot be routed, such as an
// empty query, while still reaching finalize.
func (r *Runtime) finishFallback(ctx context.Context, state *graph.State) *graph.State {
	current, _ := r.nodes.Start(ctx, state)
	current, _ = r.nodes.Assemble(ctx, current)
	current.Status = graph.StatusFailed
	if current.ResponseMessage == "" || current.ResponseMessage == fallbackApology {
		current.ResponseMessage = "Tu consulta llegó vacía. Por favor escribí una pregunta."
	}
	current, _ = r.nodes.Finalize(ctx, current)
	return current
}
