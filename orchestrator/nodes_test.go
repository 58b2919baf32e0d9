package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/intent"
)

func newTurnState(query string) *graph.State {
	return graph.NewState("sess-1", "trace-1", "user-1", query)
}

func TestStartNode(t *testing.T) {
	nodes, _ := newTestNodes(t)
	out, err := nodes.Start(context.Background(), newTurnState("hola"))
	require.NoError(t, err)

	assert.Equal(t, graph.StatusProcessing, out.Status)
	assert.Equal(t, []string{NodeStart}, out.CompletedNodes)
	assert.Contains(t, out.ProcessingMetrics, graph.MetricKeyTurnStart)
}

func TestIntentNodeClassifies(t *testing.T) {
	nodes, _ := newTestNodes(t)
	out, err := nodes.Intent(context.Background(), newTurnState("saldo de la sucursal 23"))
	require.NoError(t, err)

	assert.Equal(t, graph.IntentBranchQuery, out.DetectedIntent)
	assert.Greater(t, out.IntentConfidence, 0.8)

	semantic := out.ResponseMetadata[graph.MetaKeySemanticResult].(map[string]any)
	assert.Equal(t, string(graph.IntentBranchQuery), semantic["intent"])
	entities := semantic["entities"].(map[string]any)
	assert.Equal(t, "23", entities["branch_id"])
}

func TestIntentNodeStructuredOperation(t *testing.T) {
	nodes, _ := newTestNodes(t)
	state := newTurnState("actualiza el monto")
	state.ExternalPayload = map[string]any{
		"operation": "update",
		"table":     "saldos",
		"values":    map[string]any{"monto": 100},
	}

	out, err := nodes.Intent(context.Background(), state)
	require.NoError(t, err)

	// The wording carries no SQL keyword; the payload operation alone
	// must classify the turn as a DB operation.
	assert.Equal(t, graph.IntentDBOperation, out.DetectedIntent)
	assert.Equal(t, 1.0, out.IntentConfidence)
	semantic := out.ResponseMetadata[graph.MetaKeySemanticResult].(map[string]any)
	entities := semantic["entities"].(map[string]any)
	assert.Equal(t, "update", entities["operation"])
	assert.Equal(t, "saldos", entities["table"])
}

type faultyIntentService struct{}

func (faultyIntentService) Classify(ctx context.Context, query string, history []graph.Turn) (*intent.Result, error) {
	return nil, assert.AnError
}

func TestIntentNodeFailsOpen(t *testing.T) {
	registry, err := agent.NewRegistry()
	require.NoError(t, err)
	nodes := NewNodes(faultyIntentService{}, registry)

	out, err := nodes.Intent(context.Background(), newTurnState("hola"))
	require.NoError(t, err)
	assert.Equal(t, graph.IntentUnknown, out.DetectedIntent)
	assert.Zero(t, out.IntentConfidence)
	assert.Contains(t, out.CompletedNodes, NodeIntent)
}

func TestAgentNodeUnavailable(t *testing.T) {
	nodes, _ := newTestNodes(t)

	_, err := nodes.AgentNode("ghost")(context.Background(), newTurnState("hola"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.ErrorCodeAgentUnavailable)
	assert.Contains(t, err.Error(), "ghost")
}

func TestReasoningNodeStoresPlan(t *testing.T) {
	nodes, _ := newTestNodes(t)
	state := newTurnState("saldo de la sucursal 23")
	state.DetectedIntent = graph.IntentBranchQuery
	state.IntentConfidence = 0.9

	out, err := nodes.Reasoning(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, agent.NameDatab, out.MetaString(graph.MetaKeyRecommendedAgent))
	assert.NotEmpty(t, out.ReasoningSummary)
	plan := out.ResponseMetadata[graph.MetaKeyReasoningPlan].(map[string]any)
	assert.Equal(t, agent.NameDatab, plan["recommended_agent"])
	assert.Equal(t, ComplexityMedium, plan["complexity"])
}

func TestSupervisorReplansWhenAgentDisabled(t *testing.T) {
	nodes, registry := newTestNodes(t)
	require.NoError(t, registry.SetEnabled(agent.NameDesktop, false))

	state := newTurnState("abrir archivo")
	state.ResponseMetadata[graph.MetaKeyRecommendedAgent] = agent.NameDesktop
	state.ResponseMetadata[graph.MetaKeyReasoningPlan] = map[string]any{
		"fallback_agent": agent.NameGus,
	}

	out, err := nodes.Supervisor(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, out.MetaBool(graph.MetaKeyReplanRequested))
	assert.Equal(t, agent.NameGus, out.MetaString(graph.MetaKeyRecommendedAgent))
}

func TestSupervisorKeepsEnabledRecommendation(t *testing.T) {
	nodes, _ := newTestNodes(t)
	state := newTurnState("hola")
	state.ResponseMetadata[graph.MetaKeyRecommendedAgent] = agent.NameGus

	out, err := nodes.Supervisor(context.Background(), state)
	require.NoError(t, err)

	assert.False(t, out.MetaBool(graph.MetaKeyReplanRequested))
	assert.Equal(t, agent.NameGus, out.MetaString(graph.MetaKeyRecommendedAgent))
}

func TestLoopControllerBoundsRetries(t *testing.T) {
	nodes, _ := newTestNodes(t)

	state := newTurnState("hola")
	out, err := nodes.LoopController(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, NodeRouter, out.MetaString("loop_decision"))
	assert.Equal(t, 1.0, out.ProcessingMetrics[graph.MetricKeyLoopCount])

	state = newTurnState("hola")
	state.ProcessingMetrics[graph.MetricKeyLoopCount] = maxLoopCount
	out, err = nodes.LoopController(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, NodeAssemble, out.MetaString("loop_decision"))
}

func TestHumanGateRaisesInterrupt(t *testing.T) {
	nodes, _ := newTestNodes(t)
	state := newTurnState("transferir excedente")
	state.ResponseMetadata[graph.MetaKeyActions] = []map[string]any{
		{"action": "transfer_to_vault", "box_id": "23-02"},
	}

	_, err := nodes.HumanGate(context.Background(), state)
	require.Error(t, err)
	intr, ok := graph.AsInterrupt(err)
	require.True(t, ok)
	assert.Equal(t, NodeHumanGate, intr.NodeID)
}

func TestHumanGateRecordsDecision(t *testing.T) {
	nodes, _ := newTestNodes(t)

	state := newTurnState("transferir excedente")
	state.ResponseMetadata[graph.MetaKeyRequiresHumanApproval] = true
	state.ResponseMetadata[graph.MetaKeyHumanDecision] = map[string]any{"approved": true}

	out, err := nodes.HumanGate(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, out.MetaBool(graph.MetaKeyHumanApproved))
	assert.False(t, out.MetaBool(graph.MetaKeyRequiresHumanApproval))

	state.ResponseMetadata[graph.MetaKeyHumanDecision] = false
	out, err = nodes.HumanGate(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, out.MetaBool(graph.MetaKeyHumanApproved))
	assert.Contains(t, out.ResponseMessage, "rechazadas")
}

func TestHumanGatePassesWithoutPendingActions(t *testing.T) {
	nodes, _ := newTestNodes(t)
	out, err := nodes.HumanGate(context.Background(), newTurnState("hola"))
	require.NoError(t, err)
	assert.Contains(t, out.CompletedNodes, NodeHumanGate)
}

func TestAssembleFoldsArtifacts(t *testing.T) {
	nodes, _ := newTestNodes(t)
	state := newTurnState("consulta")
	state.SharedArtifacts[agent.NameDatab] = map[string]any{
		"rows":        []map[string]any{{"branch_id": 23}},
		"export_path": "/tmp/export.csv",
	}
	state.ResponseMetadata[graph.MetaKeyResultSummary] = "1 row(s) exported"

	out, err := nodes.Assemble(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/export.csv", out.ResponseData["export_path"])
	assert.Contains(t, out.ResponseData, agent.NameDatab)
	assert.Contains(t, out.ResponseMessage, "1 row(s) exported")
}

func TestAssembleCombinesFanOutSummaries(t *testing.T) {
	nodes, _ := newTestNodes(t)
	state := newTurnState("analisis completo")
	state.ResponseMetadata[graph.MetaKeyParallelTargets] = []string{agent.NameBranch, agent.NameAnomaly}
	state.SharedArtifacts[agent.NameBranch] = map[string]any{"summary": "Ranking de 7 sucursales."}
	state.SharedArtifacts[agent.NameAnomaly] = map[string]any{"summary": "Detecté 5 anomalía(s)."}
	state.ResponseMessage = "solo una parte"

	out, err := nodes.Assemble(context.Background(), state)
	require.NoError(t, err)

	assert.Contains(t, out.ResponseMessage, "Ranking de 7 sucursales.")
	assert.Contains(t, out.ResponseMessage, "Detecté 5 anomalía(s).")
}

func TestFinalizeNode(t *testing.T) {
	nodes, _ := newTestNodes(t)

	state := newTurnState("hola")
	state.ResponseMessage = "listo"
	out, err := nodes.Finalize(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, out.Status)
	assert.Equal(t, "listo", out.ResponseMessage)

	state = newTurnState("hola")
	state.Status = graph.StatusFailed
	out, err = nodes.Finalize(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusFailed, out.Status)
	assert.Equal(t, fallbackApology, out.ResponseMessage)
}

func TestComposeMessageFallbacks(t *testing.T) {
	state := newTurnState("consulta")
	assert.Equal(t, fallbackApology, composeMessage(state))

	state.SharedArtifacts["x"] = map[string]any{"k": "v"}
	assert.Contains(t, composeMessage(state), "resultados están disponibles")

	var mut graph.StateMutator
	state = mut.AddError(state, graph.ErrorCodeNodeFailure, "agente caído", "capi_datab", nil)
	assert.Contains(t, composeMessage(state), "agente caído")
}
