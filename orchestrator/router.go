package orchestrator

import (
	"context"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/log"
)

// Router resolves the final routing decision. Precedence:
//  1. explicit routing_decision set upstream with enabled targets
//  2. response_metadata.parallel_targets (fan-out)
//  3. response_metadata.recommended_agent
//  4. active_agent
//  5. assemble
func (n *Nodes) Router(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	targets := n.resolveTargets(state)
	next := mut.SetRouting(state, targets...)
	if len(targets) > 0 && targets[0] != NodeAssemble {
		next.ActiveAgent = targets[0]
	}
	return mut.AppendCompletedNode(next, NodeRouter), nil
}

func (n *Nodes) resolveTargets(state *graph.State) []string {
	if targets := n.enabledOnly(state.RoutingDecision); len(targets) > 0 {
		return targets
	}
	if targets := n.enabledOnly(state.MetaStrings(graph.MetaKeyParallelTargets)); len(targets) > 0 {
		return targets
	}
	if recommended := state.MetaString(graph.MetaKeyRecommendedAgent); recommended != "" {
		if n.registry.IsEnabled(recommended) {
			return []string{recommended}
		}
		log.Infof("orchestrator: recommended agent %s disabled, routing fallback", recommended)
		if n.registry.IsEnabled(agent.NameGus) {
			return []string{agent.NameGus}
		}
	}
	if state.ActiveAgent != "" && n.registry.IsEnabled(state.ActiveAgent) {
		return []string{state.ActiveAgent}
	}
	return []string{NodeAssemble}
}

func (n *Nodes) enabledOnly(candidates []string) []string {
	var out []string
	for _, name := range candidates {
		if name == NodeAssemble || n.registry.IsEnabled(name) {
			out = append(out, name)
		}
	}
	return out
}

// RouterResolver turns the routing decision into conditional edge labels.
func (n *Nodes) RouterResolver(ctx context.Context, state *graph.State) ([]string, error) {
	if len(state.RoutingDecision) == 0 {
		return []string{NodeAssemble}, nil
	}
	return state.RoutingDecision, nil
}

// LoopResolver reads the loop controller's decision.
func (n *Nodes) LoopResolver(ctx context.Context, state *graph.State) ([]string, error) {
	if decision := state.MetaString("loop_decision"); decision == NodeAssemble {
		return []string{NodeAssemble}, nil
	}
	return []string{NodeRouter}, nil
}

// DatabResolver chains capi_datab into follow-up specialists based on
// the hints it left in response metadata.
func (n *Nodes) DatabResolver(ctx context.Context, state *graph.State) ([]string, error) {
	switch {
	case state.MetaBool(graph.MetaKeyElCajasPending) && n.registry.IsEnabled(agent.NameElCajas):
		return []string{agent.NameElCajas}, nil
	case state.MetaBool(graph.MetaKeyDatabAlertsPending) && n.registry.IsEnabled(agent.NameAlertas):
		return []string{agent.NameAlertas}, nil
	case state.MetaString(graph.MetaKeyDesktopInstruction) != "" && n.registry.IsEnabled(agent.NameDesktop):
		return []string{agent.NameDesktop}, nil
	}
	return []string{NodeHumanGate}, nil
}

// ElCajasResolver hands off to alerting when findings are pending and to
// conversational synthesis otherwise.
func (n *Nodes) ElCajasResolver(ctx context.Context, state *graph.State) ([]string, error) {
	if state.MetaBool(graph.MetaKeyDatabAlertsPending) && n.registry.IsEnabled(agent.NameAlertas) {
		return []string{agent.NameAlertas}, nil
	}
	if n.registry.IsEnabled(agent.NameGus) {
		return []string{agent.NameGus}, nil
	}
	return []string{NodeHumanGate}, nil
}

// AlertasResolver routes corrective follow-ups and approval-pending
// actions; everything else converges.
func (n *Nodes) AlertasResolver(ctx context.Context, state *graph.State) ([]string, error) {
	switch {
	case state.MetaString(graph.MetaKeyDesktopInstruction) != "" && n.registry.IsEnabled(agent.NameDesktop):
		return []string{agent.NameDesktop}, nil
	case state.MetaBool(graph.MetaKeyRequiresHumanApproval):
		return []string{NodeHumanGate}, nil
	}
	return []string{NodeAssemble}, nil
}
