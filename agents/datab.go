package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/capiware/capi-orchestrator/agent"
)

// writeOperations are the payload operations that mutate data and
// therefore require human approval before running.
var writeOperations = map[string]bool{
	"insert": true,
	"update": true,
	"delete": true,
}

// Datab answers database queries against the branch dataset and exports
// result rows as session artifacts. Structured write operations are
// approval-gated.
type Datab struct {
	workspaceRoot string
}

// NewDatab creates the capi_datab agent.
func NewDatab(deps agent.Deps) (agent.Agent, error) {
	return &Datab{workspaceRoot: deps.WorkspaceRoot}, nil
}

// Name returns the agent name.
func (a *Datab) Name() string {
	return agent.NameDatab
}

// Process executes the task. A structured payload takes precedence over
// the natural-language instruction.
func (a *Datab) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	if op, ok := payloadOperation(task.Payload); ok {
		return a.processOperation(ctx, task, op)
	}
	return a.processQuery(ctx, task)
}

func payloadOperation(payload map[string]any) (string, bool) {
	if payload == nil {
		return "", false
	}
	op, _ := payload["operation"].(string)
	return strings.ToLower(op), op != ""
}

// processOperation handles structured payloads. Write operations pause
// for approval with an operation preview; the decision arrives on the
// re-run via task.HumanDecision.
func (a *Datab) processOperation(ctx context.Context, task *agent.Task, op string) (*agent.Result, error) {
	table, _ := task.Payload["table"].(string)
	if table == "" {
		return nil, fmt.Errorf("parse_error: operation %q lacks a table", op)
	}
	if writeOperations[op] {
		if task.HumanDecision == nil {
			return &agent.Result{
				RequiresApproval: true,
				ApprovalPreview: map[string]any{
					"operation":  op,
					"table":      table,
					"values":     task.Payload["values"],
					"conditions": task.Payload["conditions"],
				},
			}, nil
		}
		if !decisionApproved(task.HumanDecision) {
			return &agent.Result{
				Message: fmt.Sprintf("Operación %s sobre %s cancelada por el usuario.", op, table),
				Metadata: map[string]any{
					"operation_cancelled": true,
				},
			}, nil
		}
	}

	rows := []map[string]any{{
		"operation": op,
		"table":     table,
		"affected":  1,
		"status":    "applied",
	}}
	exportPath, err := exportRowsCSV(a.workspaceRoot, task.SessionID, a.Name(), rows)
	if err != nil {
		return nil, fmt.Errorf("external_io_error: %w", err)
	}
	return &agent.Result{
		Message: fmt.Sprintf("Operación %s sobre la tabla %s ejecutada correctamente.", op, table),
		Data: map[string]any{
			"operation":   op,
			"table":       table,
			"export_path": exportPath,
		},
		Artifact: map[string]any{
			"rows":        rows,
			"export_path": exportPath,
			"row_count":   len(rows),
		},
		Metadata: map[string]any{
			"result_summary": fmt.Sprintf("%s on %s applied", op, table),
		},
	}, nil
}

// processQuery answers a natural-language balance query.
func (a *Datab) processQuery(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	rows := a.lookupRows(task)
	if len(rows) == 0 {
		return &agent.Result{
			Message: "No encontré datos para esa consulta.",
			Metadata: map[string]any{
				"result_summary": "query returned no rows",
			},
		}, nil
	}
	exportPath, err := exportRowsCSV(a.workspaceRoot, task.SessionID, a.Name(), rows)
	if err != nil {
		return nil, fmt.Errorf("external_io_error: %w", err)
	}
	message := fmt.Sprintf("Encontré %d registro(s) para tu consulta.", len(rows))
	if len(rows) == 1 {
		message = fmt.Sprintf("El saldo de la sucursal %v (%v) es $%.2f.",
			rows[0]["branch_id"], rows[0]["branch_name"], rows[0]["balance"])
	}
	return &agent.Result{
		Message: message,
		Data: map[string]any{
			"rows":        rows,
			"export_path": exportPath,
		},
		Artifact: map[string]any{
			"rows":        rows,
			"export_path": exportPath,
			"row_count":   len(rows),
		},
		Metadata: map[string]any{
			"result_summary":       fmt.Sprintf("%d row(s) exported", len(rows)),
			"el_cajas_pending":     true,
			"datab_alerts_pending": hasLowBoxes(rows),
		},
	}, nil
}

func (a *Datab) lookupRows(task *agent.Task) []map[string]any {
	if id, ok := task.Entities["branch_id"]; ok {
		if n, err := strconv.Atoi(id); err == nil {
			if b := findBranch(n); b != nil {
				return []map[string]any{branchRow(b)}
			}
			return nil
		}
	}
	instruction := strings.ToLower(task.Instruction)
	if strings.Contains(instruction, "todas") || strings.Contains(instruction, "all") {
		return allBranchRows()
	}
	// No branch entity: default to the full listing.
	return allBranchRows()
}

func hasLowBoxes(rows []map[string]any) bool {
	for _, row := range rows {
		id, ok := row["branch_id"].(int)
		if !ok {
			continue
		}
		b := findBranch(id)
		if b == nil {
			continue
		}
		for _, box := range b.Boxes {
			if box.Balance < box.Min || box.Balance > box.Max {
				return true
			}
		}
	}
	return false
}

func decisionApproved(decision any) bool {
	switch d := decision.(type) {
	case bool:
		return d
	case string:
		return d == "approved" || d == "approve" || d == "yes" || d == "si"
	case map[string]any:
		approved, _ := d["approved"].(bool)
		return approved
	}
	return false
}
