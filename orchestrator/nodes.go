// Package orchestrator assembles the financial assistant runtime: the
// orchestration nodes, the static and dynamic graph builders and the
// ProcessQuery entry points on top of the graph executor.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/intent"
	"github.com/capiware/capi-orchestrator/log"
)

// Node names of the standard topology.
const (
	NodeStart          = "start"
	NodeIntent         = "intent"
	NodeReact          = "react"
	NodeReasoning      = "reasoning"
	NodeSupervisor     = "supervisor"
	NodeLoopController = "loop_controller"
	NodeRouter         = "router"
	NodeHumanGate      = "human_gate"
	NodeAssemble       = "assemble"
	NodeFinalize       = "finalize"
)

// maxLoopCount bounds loop_controller retries per turn.
const maxLoopCount = 2

const fallbackApology = "Lo siento, no pude generar una respuesta en este momento. Por favor intentá nuevamente."

// Nodes bundles the dependencies behind the orchestration node functions.
type Nodes struct {
	intents  intent.Service
	registry *agent.Registry
}

// NewNodes creates the node set.
func NewNodes(intents intent.Service, registry *agent.Registry) *Nodes {
	return &Nodes{intents: intents, registry: registry}
}

// Start marks the turn as processing and stamps the start metric.
func (n *Nodes) Start(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := mut.SetStatus(state, graph.StatusProcessing)
	next = mut.AddMetric(next, graph.MetricKeyTurnStart, float64(time.Now().UnixMilli()))
	return mut.AppendCompletedNode(next, NodeStart), nil
}

// Intent classifies the query. Classification fails open: any service
// fault leaves the intent UNKNOWN with zero confidence.
func (n *Nodes) Intent(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := state.Clone()
	// A structured operation routes to the DB specialist regardless of
	// the free-text wording.
	if op := payloadOperation(state.ExternalPayload); op != "" {
		next.DetectedIntent = graph.IntentDBOperation
		next.IntentConfidence = 1
		semantic := map[string]any{
			"intent":     string(graph.IntentDBOperation),
			"confidence": 1.0,
			"entities":   map[string]any{"operation": op},
		}
		if table, ok := state.ExternalPayload["table"].(string); ok && table != "" {
			semantic["entities"].(map[string]any)["table"] = table
		}
		next = mut.MergeResponseMetadata(next, map[string]any{
			graph.MetaKeySemanticResult: semantic,
		})
		return mut.AppendCompletedNode(next, NodeIntent), nil
	}
	res, err := n.intents.Classify(ctx, state.OriginalQuery, state.ConversationHistory)
	if err != nil || res == nil {
		log.Warnf("orchestrator: intent classification failed for %s: %v", state.SessionID, err)
		next.DetectedIntent = graph.IntentUnknown
		next.IntentConfidence = 0
		return mut.AppendCompletedNode(next, NodeIntent), nil
	}
	next.DetectedIntent = res.Intent
	next.IntentConfidence = res.Confidence
	semantic := map[string]any{
		"intent":     string(res.Intent),
		"confidence": res.Confidence,
	}
	if res.TargetAgent != "" {
		semantic["target_agent"] = res.TargetAgent
	}
	if len(res.Entities) > 0 {
		entities := make(map[string]any, len(res.Entities))
		for k, v := range res.Entities {
			entities[k] = v
		}
		semantic["entities"] = entities
	}
	next = mut.MergeResponseMetadata(next, map[string]any{
		graph.MetaKeySemanticResult: semantic,
	})
	return mut.AppendCompletedNode(next, NodeIntent), nil
}

// Reasoning builds the turn plan and records the agent recommendation.
func (n *Nodes) Reasoning(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	enabled := enabledSet(n.registry)
	plan := buildPlan(state, enabled)
	next := state.Clone()
	next.ReasoningSummary = planSummary(plan)
	next = mut.MergeResponseMetadata(next, map[string]any{
		graph.MetaKeyReasoningPlan:    planAsMap(plan),
		graph.MetaKeyRecommendedAgent: plan.RecommendedAgent,
	})
	return mut.AppendCompletedNode(next, NodeReasoning), nil
}

// Supervisor validates the plan against the enabled-agent set and swaps
// in the fallback agent when the recommendation is unusable.
func (n *Nodes) Supervisor(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := state.Clone()
	recommended := state.MetaString(graph.MetaKeyRecommendedAgent)
	if recommended != "" && !n.registry.IsEnabled(recommended) {
		fallback := planFallback(state)
		log.Infof("orchestrator: agent %s disabled, supervisor replans to %s", recommended, fallback)
		next = mut.MergeResponseMetadata(next, map[string]any{
			graph.MetaKeyReplanRequested:  true,
			graph.MetaKeyRecommendedAgent: fallback,
		})
	}
	if failedAgent := lastAgentError(state); failedAgent != "" && failedAgent == recommended {
		fallback := planFallback(state)
		if fallback != recommended {
			next = mut.MergeResponseMetadata(next, map[string]any{
				graph.MetaKeyReplanRequested:  true,
				graph.MetaKeyRecommendedAgent: fallback,
			})
		}
	}
	return mut.AppendCompletedNode(next, NodeSupervisor), nil
}

// LoopController decides between another router pass and assembly. The
// loop counter in processing metrics bounds retries.
func (n *Nodes) LoopController(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := state.Clone()
	count := state.ProcessingMetrics[graph.MetricKeyLoopCount]
	decision := NodeRouter
	switch {
	case count >= maxLoopCount:
		decision = NodeAssemble
	case state.Status == graph.StatusFailed:
		decision = NodeAssemble
	}
	if decision == NodeRouter {
		next, _ = mut.IncrMetric(next, graph.MetricKeyLoopCount, 1)
	}
	next = mut.MergeResponseMetadata(next, map[string]any{
		"loop_decision": decision,
	})
	return mut.AppendCompletedNode(next, NodeLoopController), nil
}

// HumanGate pauses the turn when pending actions require approval. On
// the post-resume pass it records the decision outcome.
func (n *Nodes) HumanGate(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := state.Clone()
	decision, hasDecision := state.ResponseMetadata[graph.MetaKeyHumanDecision]
	requires := state.MetaBool(graph.MetaKeyRequiresHumanApproval)
	_, hasActions := state.ResponseMetadata[graph.MetaKeyActions]

	if (requires || hasActions) && !hasDecision {
		return nil, graph.NewInterrupt(NodeHumanGate, "pending actions require approval", map[string]any{
			"actions": state.ResponseMetadata[graph.MetaKeyActions],
		})
	}
	if hasDecision {
		next = mut.MergeResponseMetadata(next, map[string]any{
			graph.MetaKeyHumanApproved:         approved(decision),
			graph.MetaKeyRequiresHumanApproval: false,
		})
		if !approved(decision) {
			next.ResponseMessage = "Las acciones propuestas fueron rechazadas y no se ejecutaron."
		}
	}
	return mut.AppendCompletedNode(next, NodeHumanGate), nil
}

// Assemble folds shared artifacts into the response and guarantees a
// non-empty message before finalization.
func (n *Nodes) Assemble(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := state.Clone()

	data := map[string]any{}
	for name, artifact := range state.SharedArtifacts {
		if _, exists := next.ResponseData[name]; !exists {
			data[name] = artifact
		}
		if p, ok := artifact["export_path"].(string); ok && p != "" {
			data["export_path"] = p
		}
	}
	if len(data) > 0 {
		next = mut.MergeResponseData(next, data)
	}
	if targets := state.MetaStrings(graph.MetaKeyParallelTargets); len(targets) > 1 {
		if combined := combineArtifactMessages(state, targets); combined != "" {
			next.ResponseMessage = combined
		}
	}
	if next.ResponseMessage == "" {
		next.ResponseMessage = composeMessage(state)
	}
	return mut.AppendCompletedNode(next, NodeAssemble), nil
}

// combineArtifactMessages joins the summaries of the fan-out branches so
// the final message reflects every parallel result.
func combineArtifactMessages(state *graph.State, targets []string) string {
	var parts []string
	for _, name := range targets {
		artifact, ok := state.SharedArtifacts[name]
		if !ok {
			continue
		}
		if summary, ok := artifact["summary"].(string); ok && summary != "" {
			parts = append(parts, summary)
		}
	}
	return strings.Join(parts, " ")
}

// Finalize completes the turn.
func (n *Nodes) Finalize(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := state.Clone()
	if next.Status != graph.StatusFailed {
		next.Status = graph.StatusCompleted
	}
	if next.ResponseMessage == "" {
		next.ResponseMessage = fallbackApology
	}
	return mut.AppendCompletedNode(next, NodeFinalize), nil
}

// payloadOperation extracts the DB operation of a structured payload.
func payloadOperation(payload map[string]any) string {
	op, _ := payload["operation"].(string)
	return strings.TrimSpace(op)
}

func enabledSet(registry *agent.Registry) map[string]bool {
	out := make(map[string]bool)
	for _, name := range registry.EnabledAgents() {
		out[name] = true
	}
	return out
}

// planFallback reads the fallback agent out of the stored plan.
func planFallback(state *graph.State) string {
	plan, ok := state.ResponseMetadata[graph.MetaKeyReasoningPlan].(map[string]any)
	if ok {
		if fb, ok := plan["fallback_agent"].(string); ok && fb != "" {
			return fb
		}
	}
	return agent.NameGus
}

// lastAgentError returns the node of the most recent agent failure.
func lastAgentError(state *graph.State) string {
	for i := len(state.Errors) - 1; i >= 0; i-- {
		e := state.Errors[i]
		if e.Code == graph.ErrorCodeNodeFailure || e.Code == graph.ErrorCodeAgentUnavailable {
			return e.Node
		}
	}
	return ""
}

func approved(decision any) bool {
	switch d := decision.(type) {
	case bool:
		return d
	case string:
		return d == "approved" || d == "approve" || d == "yes" || d == "si"
	case map[string]any:
		v, _ := d["approved"].(bool)
		return v
	}
	return false
}

func planSummary(p *ReasoningPlan) string {
	return fmt.Sprintf("Plan de %d paso(s), agente recomendado: %s, complejidad %s.",
		len(p.Steps), p.RecommendedAgent, p.Complexity)
}

func composeMessage(state *graph.State) string {
	if summary := state.MetaString(graph.MetaKeyResultSummary); summary != "" {
		return "Procesé tu consulta: " + summary + "."
	}
	if len(state.Errors) > 0 {
		return "Tu consulta no pudo completarse: " + state.Errors[len(state.Errors)-1].Message
	}
	if len(state.SharedArtifacts) > 0 {
		return "Procesé tu consulta y los resultados están disponibles en los datos adjuntos."
	}
	return fallbackApology
}
