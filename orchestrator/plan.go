package orchestrator

import (
	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
)

// Complexity buckets of a reasoning plan.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// ReasoningStep is one planned unit of work.
type ReasoningStep struct {
	StepID      string   `json:"step_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Agent       string   `json:"agent,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// ReasoningPlan is the reasoning node's output: an ordered step list
// plus the agent recommendation that drives routing.
type ReasoningPlan struct {
	Steps                  []ReasoningStep `json:"steps"`
	RecommendedAgent       string          `json:"recommended_agent"`
	FallbackAgent          string          `json:"fallback_agent"`
	Confidence             float64         `json:"confidence"`
	CooperativeAgents      []string        `json:"cooperative_agents,omitempty"`
	ProgressPercent        float64         `json:"progress_percent"`
	Complexity             string          `json:"complexity"`
	EstimatedEffortSeconds float64         `json:"estimated_effort_seconds"`
	Version                int             `json:"version"`
	History                []string        `json:"history,omitempty"`
}

// intentAgentMap assigns the primary agent per intent family.
var intentAgentMap = map[graph.Intent]string{
	graph.IntentGreeting:        agent.NameGus,
	graph.IntentSmallTalk:       agent.NameGus,
	graph.IntentSummaryRequest:  agent.NameSummary,
	graph.IntentBranchQuery:     agent.NameDatab,
	graph.IntentAnomalyQuery:    agent.NameAnomaly,
	graph.IntentFileOperation:   agent.NameDesktop,
	graph.IntentDBOperation:     agent.NameDatab,
	graph.IntentGoogleWorkspace: agent.NameAgenteG,
	graph.IntentGoogleGmail:     agent.NameAgenteG,
	graph.IntentGoogleDrive:     agent.NameAgenteG,
	graph.IntentGoogleCalendar:  agent.NameAgenteG,
}

// buildPlan derives the plan for one turn from the detected intent and
// the enabled-agent set.
func buildPlan(state *graph.State, enabled map[string]bool) *ReasoningPlan {
	recommended, ok := intentAgentMap[state.DetectedIntent]
	if !ok {
		// Unknown and generic queries go through the conversational chain.
		recommended = agent.NameGus
	}
	fallback := agent.NameGus
	if recommended == agent.NameGus {
		fallback = agent.NameSummary
	}

	steps := []ReasoningStep{
		{StepID: "s1", Title: "Entender la consulta",
			Description: "Clasificar la intención y extraer entidades"},
		{StepID: "s2", Title: "Ejecutar el especialista",
			Description: "Delegar la consulta al agente recomendado",
			Agent:       recommended, DependsOn: []string{"s1"}},
		{StepID: "s3", Title: "Componer la respuesta",
			Description: "Integrar artefactos y redactar el mensaje final",
			DependsOn:   []string{"s2"}},
	}

	var cooperative []string
	switch state.DetectedIntent {
	case graph.IntentBranchQuery:
		cooperative = []string{agent.NameElCajas, agent.NameGus}
	case graph.IntentAnomalyQuery:
		cooperative = []string{agent.NameAlertas}
	}

	complexity := ComplexityLow
	if len(cooperative) > 0 {
		complexity = ComplexityMedium
	}
	if targets := state.MetaStrings(graph.MetaKeyParallelTargets); len(targets) > 1 {
		complexity = ComplexityHigh
	}

	confidence := state.IntentConfidence
	if confidence == 0 {
		confidence = 0.3
	}
	effort := 5.0 * float64(len(steps)+len(cooperative))

	plan := &ReasoningPlan{
		Steps:                  steps,
		RecommendedAgent:       recommended,
		FallbackAgent:          fallback,
		Confidence:             confidence,
		CooperativeAgents:      cooperative,
		ProgressPercent:        float64(len(state.CompletedNodes)) * 10,
		Complexity:             complexity,
		EstimatedEffortSeconds: effort,
		Version:                1,
	}
	if plan.ProgressPercent > 90 {
		plan.ProgressPercent = 90
	}
	if !enabled[recommended] {
		plan.History = append(plan.History,
			"recommended agent "+recommended+" disabled, fallback "+fallback)
	}
	return plan
}

// planAsMap renders the plan for storage inside response metadata.
func planAsMap(p *ReasoningPlan) map[string]any {
	steps := make([]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, map[string]any{
			"step_id":     s.StepID,
			"title":       s.Title,
			"description": s.Description,
			"agent":       s.Agent,
			"depends_on":  s.DependsOn,
		})
	}
	return map[string]any{
		"steps":                    steps,
		"recommended_agent":        p.RecommendedAgent,
		"fallback_agent":           p.FallbackAgent,
		"confidence":               p.Confidence,
		"cooperative_agents":       p.CooperativeAgents,
		"progress_percent":         p.ProgressPercent,
		"complexity":               p.Complexity,
		"estimated_effort_seconds": p.EstimatedEffortSeconds,
		"version":                  p.Version,
		"history":                  p.History,
	}
}
