package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/agent"
)

func TestAnomalyDetection(t *testing.T) {
	a, err := NewAnomaly(agent.Deps{})
	require.NoError(t, err)

	res, err := a.Process(context.Background(), &agent.Task{SessionID: "sess-1"})
	require.NoError(t, err)

	anomalies := res.Data["anomalies"].([]map[string]any)
	var outliers, outOfBand []map[string]any
	for _, an := range anomalies {
		switch an["kind"] {
		case "balance_outlier":
			outliers = append(outliers, an)
		case "box_out_of_band":
			outOfBand = append(outOfBand, an)
		}
	}

	// Casa Central dominates the balance distribution.
	require.Len(t, outliers, 1)
	assert.Equal(t, 1, outliers[0]["branch_id"])
	assert.Greater(t, outliers[0]["z_score"].(float64), 1.5)

	assert.Len(t, outOfBand, 4)
	assert.Contains(t, res.Message, "anomalía(s)")
}

func TestBalanceStats(t *testing.T) {
	mean, stddev := balanceStats()
	assert.Greater(t, mean, 0.0)
	assert.Greater(t, stddev, 0.0)
	// Mean sits inside the observed balance range.
	assert.Greater(t, mean, 4_310_775.90)
	assert.Less(t, mean, 18_450_300.50)
}
