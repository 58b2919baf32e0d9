package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
)

// maxReactIterations bounds the reason-act loop per turn.
const maxReactIterations = 3

// ReAct tool names. Tools read from state only; none performs external
// I/O, so a retried iteration is idempotent.
const (
	toolSummarizeContext = "summarize_context"
	toolCollectMetrics   = "collect_metrics"
	toolInspectDesktop   = "inspect_desktop"
	toolDetectAnomalies  = "detect_anomalies"
	toolGatherNews       = "gather_news"
)

type reactTool func(state *graph.State) string

var reactTools = map[string]reactTool{
	toolSummarizeContext: func(state *graph.State) string {
		if n := len(state.ConversationHistory); n > 0 {
			return fmt.Sprintf("la sesión lleva %d intercambio(s) previos", n)
		}
		return "sin historial previo, consulta inicial"
	},
	toolCollectMetrics: func(state *graph.State) string {
		return fmt.Sprintf("%d métrica(s) de procesamiento registradas", len(state.ProcessingMetrics))
	},
	toolInspectDesktop: func(state *graph.State) string {
		if artifact, ok := state.SharedArtifacts[agent.NameDesktop]; ok {
			return fmt.Sprintf("el escritorio tiene artefactos previos: %v", artifact["file_count"])
		}
		return "sin artefactos de escritorio en esta sesión"
	},
	toolDetectAnomalies: func(state *graph.State) string {
		if artifact, ok := state.SharedArtifacts[agent.NameAnomaly]; ok {
			if summary, ok := artifact["summary"].(string); ok {
				return summary
			}
		}
		return "sin señales de anomalías detectadas todavía"
	},
	toolGatherNews: func(state *graph.State) string {
		return "sin novedades externas relevantes para esta consulta"
	},
}

// React runs bounded reason-act iterations over the state-reading
// toolset and records the trace plus an agent hint for the router.
func (n *Nodes) React(ctx context.Context, state *graph.State) (*graph.State, error) {
	var mut graph.StateMutator
	next := state.Clone()

	for _, step := range reactStepsFor(state) {
		if len(next.ReactTrace) >= maxReactIterations {
			break
		}
		tool, ok := reactTools[step.Action]
		if !ok {
			continue
		}
		step.Observation = tool(state)
		next.ReactTrace = append(next.ReactTrace, step)
	}

	if hint := reactAgentHint(state); hint != "" {
		next = mut.MergeResponseMetadata(next, map[string]any{
			graph.MetaKeyReactRecommendedAgent: hint,
		})
	}
	return mut.AppendCompletedNode(next, NodeReact), nil
}

// reactStepsFor selects which tools to reason with for the detected
// intent. The first step always grounds the context.
func reactStepsFor(state *graph.State) []graph.ReactStep {
	steps := []graph.ReactStep{{
		Thought: "Primero necesito entender el contexto de la conversación.",
		Action:  toolSummarizeContext,
	}}
	switch state.DetectedIntent {
	case graph.IntentAnomalyQuery:
		steps = append(steps, graph.ReactStep{
			Thought: "La consulta menciona irregularidades, reviso señales de anomalías.",
			Action:  toolDetectAnomalies,
		})
	case graph.IntentFileOperation:
		steps = append(steps, graph.ReactStep{
			Thought: "La consulta involucra archivos, inspecciono el escritorio.",
			Action:  toolInspectDesktop,
		})
	case graph.IntentSummaryRequest:
		steps = append(steps, graph.ReactStep{
			Thought: "Para resumir necesito las métricas acumuladas del turno.",
			Action:  toolCollectMetrics,
		})
	default:
		if strings.Contains(strings.ToLower(state.OriginalQuery), "noticia") {
			steps = append(steps, graph.ReactStep{
				Thought: "El usuario pregunta por novedades, busco noticias.",
				Action:  toolGatherNews,
			})
		}
	}
	steps = append(steps, graph.ReactStep{
		Thought: "Con las observaciones reunidas puedo recomendar el especialista.",
		Action:  toolCollectMetrics,
	})
	return steps
}

func reactAgentHint(state *graph.State) string {
	if hint, ok := intentAgentMap[state.DetectedIntent]; ok {
		return hint
	}
	return ""
}
