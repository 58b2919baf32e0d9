package agents

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/capiware/capi-orchestrator/agent"
)

// Branch produces branch-level analytics: ranking by balance and the
// position of the branch in scope within the network.
type Branch struct{}

// NewBranch creates the branch analytics agent.
func NewBranch(agent.Deps) (agent.Agent, error) {
	return &Branch{}, nil
}

// Name returns the agent name.
func (a *Branch) Name() string {
	return agent.NameBranch
}

// Process ranks branches by balance. With a branch entity it also
// reports that branch's rank and share of the network total.
func (a *Branch) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	ranked := make([]branchRecord, len(branchTable))
	copy(ranked, branchTable)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Balance > ranked[j].Balance })

	total := 0.0
	for _, b := range ranked {
		total += b.Balance
	}
	ranking := make([]map[string]any, 0, len(ranked))
	for i, b := range ranked {
		ranking = append(ranking, map[string]any{
			"rank":        i + 1,
			"branch_id":   b.ID,
			"branch_name": b.Name,
			"balance":     b.Balance,
			"share_pct":   100 * b.Balance / total,
		})
	}

	message := fmt.Sprintf("Ranking de %d sucursales por saldo. %s lidera con $%.2f.",
		len(ranked), ranked[0].Name, ranked[0].Balance)
	data := map[string]any{"ranking": ranking, "network_total": total}

	if id, ok := task.Entities["branch_id"]; ok {
		if n, err := strconv.Atoi(id); err == nil {
			for _, row := range ranking {
				if row["branch_id"] == n {
					message = fmt.Sprintf("La sucursal %v ocupa el puesto %v de %d con $%.2f (%.1f%% de la red).",
						row["branch_name"], row["rank"], len(ranked),
						row["balance"], row["share_pct"])
					data["branch"] = row
					break
				}
			}
		}
	}
	return &agent.Result{
		Message: message,
		Data:    data,
		Artifact: map[string]any{
			"ranking": ranking,
			"summary": message,
		},
		Metadata: map[string]any{
			"result_summary": fmt.Sprintf("%d branch(es) ranked", len(ranked)),
		},
	}, nil
}
