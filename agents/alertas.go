package agents

import (
	"context"
	"fmt"

	"github.com/capiware/capi-orchestrator/agent"
)

// Alertas scans cash-box findings and raises alerts. High-severity
// alerts come with proposed corrective actions that require human
// approval before dispatch.
type Alertas struct{}

// NewAlertas creates the capi_alertas agent.
func NewAlertas(agent.Deps) (agent.Agent, error) {
	return &Alertas{}, nil
}

// Name returns the agent name.
func (a *Alertas) Name() string {
	return agent.NameAlertas
}

// Process converts out-of-policy boxes into alerts. It prefers the
// findings left by capi_elcajas and falls back to a full table scan.
func (a *Alertas) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	findings := priorFindings(task)
	if findings == nil {
		findings = fullScanFindings()
	}

	var alerts, actions []map[string]any
	for _, f := range findings {
		severity := "warning"
		if f["finding"] == "over_max" {
			severity = "high"
		}
		alert := map[string]any{
			"branch_id":   f["branch_id"],
			"branch_name": f["branch_name"],
			"box_id":      f["box_id"],
			"kind":        f["finding"],
			"severity":    severity,
			"delta":       f["delta"],
		}
		alerts = append(alerts, alert)
		if severity == "high" {
			actions = append(actions, map[string]any{
				"action":    "transfer_to_vault",
				"box_id":    f["box_id"],
				"branch_id": f["branch_id"],
				"amount":    f["delta"],
			})
		}
	}

	message := "No hay alertas activas: todas las cajas están dentro de la política."
	if len(alerts) > 0 {
		message = fmt.Sprintf("Detecté %d alerta(s) de caja.", len(alerts))
	}
	metadata := map[string]any{
		"result_summary": fmt.Sprintf("%d alert(s), %d action(s)", len(alerts), len(actions)),
	}
	if len(actions) > 0 {
		metadata["actions"] = actions
		metadata["requires_human_approval"] = true
		message = fmt.Sprintf("Detecté %d alerta(s) y propongo %d acción(es) correctivas que requieren aprobación.",
			len(alerts), len(actions))
	}
	return &agent.Result{
		Message: message,
		Data: map[string]any{
			"alerts": alerts,
		},
		Artifact: map[string]any{
			"alerts":  alerts,
			"actions": actions,
			"summary": message,
		},
		Metadata: metadata,
	}, nil
}

func priorFindings(task *agent.Task) []map[string]any {
	artifact, ok := task.Artifacts[agent.NameElCajas]
	if !ok {
		return nil
	}
	switch findings := artifact["findings"].(type) {
	case []map[string]any:
		return findings
	case []any:
		out := make([]map[string]any, 0, len(findings))
		for _, raw := range findings {
			if f, ok := raw.(map[string]any); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

func fullScanFindings() []map[string]any {
	var findings []map[string]any
	for i := range branchTable {
		b := &branchTable[i]
		for _, box := range b.Boxes {
			switch {
			case box.Balance > box.Max:
				findings = append(findings, boxFinding(b, box, "over_max", box.Balance-box.Max))
			case box.Balance < box.Min:
				findings = append(findings, boxFinding(b, box, "under_min", box.Min-box.Balance))
			}
		}
	}
	return findings
}
