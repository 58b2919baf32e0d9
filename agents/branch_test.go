package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/agent"
)

func TestBranchRanking(t *testing.T) {
	a, err := NewBranch(agent.Deps{})
	require.NoError(t, err)

	res, err := a.Process(context.Background(), &agent.Task{SessionID: "sess-1"})
	require.NoError(t, err)

	ranking := res.Data["ranking"].([]map[string]any)
	require.Len(t, ranking, len(branchTable))
	assert.Equal(t, 1, ranking[0]["rank"])
	assert.Equal(t, "Casa Central", ranking[0]["branch_name"])

	// Ranking is descending by balance.
	for i := 1; i < len(ranking); i++ {
		assert.GreaterOrEqual(t,
			ranking[i-1]["balance"].(float64), ranking[i]["balance"].(float64))
	}

	total := res.Data["network_total"].(float64)
	var shareSum float64
	for _, row := range ranking {
		shareSum += row["share_pct"].(float64)
	}
	assert.InDelta(t, 100.0, shareSum, 0.001)
	assert.Greater(t, total, 0.0)
	assert.Contains(t, res.Message, "Casa Central")
}

func TestBranchRankingWithEntity(t *testing.T) {
	a, err := NewBranch(agent.Deps{})
	require.NoError(t, err)

	res, err := a.Process(context.Background(), &agent.Task{
		SessionID: "sess-1",
		Entities:  map[string]string{"branch_id": "23"},
	})
	require.NoError(t, err)

	row, ok := res.Data["branch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 23, row["branch_id"])
	assert.Equal(t, 2, row["rank"])
	assert.Contains(t, res.Message, "Rosario Centro")
	assert.Contains(t, res.Message, "puesto")
}
