package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/capiware/capi-orchestrator/agent"
)

// anomalyZThreshold marks a branch balance as anomalous when it sits
// more than this many standard deviations from the network mean.
const anomalyZThreshold = 1.5

// Anomaly flags branches whose balances deviate from the network
// distribution, plus boxes outside their policy band.
type Anomaly struct{}

// NewAnomaly creates the anomaly detection agent.
func NewAnomaly(agent.Deps) (agent.Agent, error) {
	return &Anomaly{}, nil
}

// Name returns the agent name.
func (a *Anomaly) Name() string {
	return agent.NameAnomaly
}

// Process computes a z-score per branch balance and reports outliers.
func (a *Anomaly) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	mean, stddev := balanceStats()
	var anomalies []map[string]any
	for i := range branchTable {
		b := &branchTable[i]
		if stddev > 0 {
			z := (b.Balance - mean) / stddev
			if math.Abs(z) >= anomalyZThreshold {
				anomalies = append(anomalies, map[string]any{
					"branch_id":   b.ID,
					"branch_name": b.Name,
					"kind":        "balance_outlier",
					"balance":     b.Balance,
					"z_score":     z,
				})
			}
		}
		for _, box := range b.Boxes {
			if box.Balance > box.Max || box.Balance < box.Min {
				anomalies = append(anomalies, map[string]any{
					"branch_id":   b.ID,
					"branch_name": b.Name,
					"kind":        "box_out_of_band",
					"box_id":      box.ID,
					"balance":     box.Balance,
				})
			}
		}
	}

	message := "No detecté anomalías en la red de sucursales."
	if len(anomalies) > 0 {
		message = fmt.Sprintf("Detecté %d anomalía(s) en la red de sucursales.", len(anomalies))
	}
	return &agent.Result{
		Message: message,
		Data: map[string]any{
			"anomalies":    anomalies,
			"network_mean": mean,
		},
		Artifact: map[string]any{
			"anomalies": anomalies,
			"summary":   message,
		},
		Metadata: map[string]any{
			"result_summary": fmt.Sprintf("%d anomaly(ies)", len(anomalies)),
		},
	}, nil
}

func balanceStats() (mean, stddev float64) {
	n := float64(len(branchTable))
	if n == 0 {
		return 0, 0
	}
	for _, b := range branchTable {
		mean += b.Balance
	}
	mean /= n
	var variance float64
	for _, b := range branchTable {
		d := b.Balance - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
