package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/model"
)

type fakeModel struct {
	content string
	err     error
	lastReq *model.Request
}

func (m *fakeModel) Info() model.Info { return model.Info{Name: "fake"} }

func (m *fakeModel) GenerateContent(ctx context.Context, req *model.Request) (*model.Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &model.Response{Content: m.content}, nil
}

func TestLLMClassifyParsesVerdict(t *testing.T) {
	m := &fakeModel{content: `{"intent": "BRANCH_QUERY", "confidence": 0.92, "target_agent": "capi_datab"}`}
	svc := NewLLMService(m)

	res, err := svc.Classify(context.Background(), "saldo de la sucursal 5", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.IntentBranchQuery, res.Intent)
	assert.Equal(t, 0.92, res.Confidence)
	assert.Equal(t, "capi_datab", res.TargetAgent)
}

func TestLLMClassifyToleratesSurroundingProse(t *testing.T) {
	m := &fakeModel{content: "Sure, here is the verdict:\n{\"intent\": \"GREETING\", \"confidence\": 0.99}\nDone."}
	svc := NewLLMService(m)

	res, err := svc.Classify(context.Background(), "hola", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.IntentGreeting, res.Intent)
}

func TestLLMClassifyClampsConfidence(t *testing.T) {
	m := &fakeModel{content: `{"intent": "QUERY", "confidence": 3.5}`}
	svc := NewLLMService(m)

	res, err := svc.Classify(context.Background(), "algo", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestLLMClassifyFallsBackOnModelError(t *testing.T) {
	m := &fakeModel{err: errors.New("upstream down")}
	svc := NewLLMService(m)

	res, err := svc.Classify(context.Background(), "hola buen dia", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.IntentGreeting, res.Intent)
}

func TestLLMClassifyFallsBackOnGarbage(t *testing.T) {
	m := &fakeModel{content: "no json here"}
	svc := NewLLMService(m)

	res, err := svc.Classify(context.Background(), "saldo sucursal 23", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.IntentBranchQuery, res.Intent)
	assert.Equal(t, "23", res.Entities["branch_id"])
}

func TestLLMClassifyFallsBackOnInvalidIntent(t *testing.T) {
	m := &fakeModel{content: `{"intent": "MADE_UP", "confidence": 0.8}`}
	svc := NewLLMService(m)

	res, err := svc.Classify(context.Background(), "hola", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.IntentGreeting, res.Intent)
}

func TestLLMClassifyIncludesRecentHistory(t *testing.T) {
	m := &fakeModel{content: `{"intent": "QUERY", "confidence": 0.5}`}
	svc := NewLLMService(m)

	history := []graph.Turn{
		{Role: "user", Content: "t1"},
		{Role: "assistant", Content: "t2"},
		{Role: "user", Content: "t3"},
		{Role: "assistant", Content: "t4"},
		{Role: "user", Content: "t5"},
		{Role: "assistant", Content: "t6"},
	}
	_, err := svc.Classify(context.Background(), "y ahora?", nil)
	require.NoError(t, err)

	_, err = svc.Classify(context.Background(), "y ahora?", history)
	require.NoError(t, err)
	// System prompt, the four most recent turns and the query itself.
	require.NotNil(t, m.lastReq)
	assert.Len(t, m.lastReq.Messages, 6)
	assert.Equal(t, "t3", m.lastReq.Messages[1].Content)
}

func TestLLMClassifyEmptyQuery(t *testing.T) {
	m := &fakeModel{content: `{"intent": "GREETING", "confidence": 1}`}
	svc := NewLLMService(m)

	res, err := svc.Classify(context.Background(), "  ", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.IntentUnknown, res.Intent)
	assert.Nil(t, m.lastReq)
}
