package agents

import (
	"context"
	"fmt"
	"strconv"

	"github.com/capiware/capi-orchestrator/agent"
)

// ElCajas runs cash-box policy diagnostics: for each branch in scope it
// flags boxes outside their configured band and suggests rebalancing.
type ElCajas struct{}

// NewElCajas creates the capi_elcajas agent.
func NewElCajas(agent.Deps) (agent.Agent, error) {
	return &ElCajas{}, nil
}

// Name returns the agent name.
func (a *ElCajas) Name() string {
	return agent.NameElCajas
}

// Process diagnoses the branches referenced by the task. Scope comes
// from the branch entity when present, from rows left by capi_datab in
// the shared artifacts otherwise, and defaults to the whole table.
func (a *ElCajas) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	branches := a.scope(task)
	var findings []map[string]any
	boxesChecked := 0
	for _, b := range branches {
		for _, box := range b.Boxes {
			boxesChecked++
			switch {
			case box.Balance > box.Max:
				findings = append(findings, boxFinding(b, box, "over_max",
					box.Balance-box.Max))
			case box.Balance < box.Min:
				findings = append(findings, boxFinding(b, box, "under_min",
					box.Min-box.Balance))
			}
		}
	}

	message := fmt.Sprintf("Revisé %d caja(s) en %d sucursal(es): todas dentro de la política.",
		boxesChecked, len(branches))
	if len(findings) > 0 {
		message = fmt.Sprintf("Revisé %d caja(s) en %d sucursal(es) y encontré %d fuera de política.",
			boxesChecked, len(branches), len(findings))
	}
	return &agent.Result{
		Message: message,
		Data: map[string]any{
			"findings":      findings,
			"boxes_checked": boxesChecked,
		},
		Artifact: map[string]any{
			"findings":      findings,
			"boxes_checked": boxesChecked,
			"summary":       message,
		},
		Metadata: map[string]any{
			"result_summary":       fmt.Sprintf("%d policy finding(s)", len(findings)),
			"datab_alerts_pending": len(findings) > 0,
		},
	}, nil
}

func (a *ElCajas) scope(task *agent.Task) []*branchRecord {
	if id, ok := task.Entities["branch_id"]; ok {
		if n, err := strconv.Atoi(id); err == nil {
			if b := findBranch(n); b != nil {
				return []*branchRecord{b}
			}
		}
	}
	if artifact, ok := task.Artifacts[agent.NameDatab]; ok {
		if rows, ok := artifact["rows"].([]map[string]any); ok {
			branches := scopeFromRows(rows)
			if len(branches) > 0 {
				return branches
			}
		}
		if rows, ok := artifact["rows"].([]any); ok {
			branches := scopeFromAnyRows(rows)
			if len(branches) > 0 {
				return branches
			}
		}
	}
	branches := make([]*branchRecord, 0, len(branchTable))
	for i := range branchTable {
		branches = append(branches, &branchTable[i])
	}
	return branches
}

func scopeFromRows(rows []map[string]any) []*branchRecord {
	var branches []*branchRecord
	for _, row := range rows {
		if b := branchFromRow(row); b != nil {
			branches = append(branches, b)
		}
	}
	return branches
}

func scopeFromAnyRows(rows []any) []*branchRecord {
	var branches []*branchRecord
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if b := branchFromRow(row); b != nil {
			branches = append(branches, b)
		}
	}
	return branches
}

// branchFromRow tolerates both int and float64 branch ids; the latter
// appears after a checkpoint JSON round trip.
func branchFromRow(row map[string]any) *branchRecord {
	switch id := row["branch_id"].(type) {
	case int:
		return findBranch(id)
	case float64:
		return findBranch(int(id))
	}
	return nil
}

func boxFinding(b *branchRecord, box cashBox, kind string, delta float64) map[string]any {
	return map[string]any{
		"branch_id":   b.ID,
		"branch_name": b.Name,
		"box_id":      box.ID,
		"finding":     kind,
		"balance":     box.Balance,
		"min":         box.Min,
		"max":         box.Max,
		"delta":       delta,
	}
}
