package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/agent"
)

type fakeWorkspace struct {
	messages []map[string]any
	files    []map[string]any
	events   []map[string]any
	err      error
	called   string
}

func (w *fakeWorkspace) ListMessages(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	w.called = "gmail"
	return w.messages, w.err
}

func (w *fakeWorkspace) ListFiles(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	w.called = "drive"
	return w.files, w.err
}

func (w *fakeWorkspace) ListEvents(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	w.called = "calendar"
	return w.events, w.err
}

func TestAgenteGWithoutClient(t *testing.T) {
	a, err := NewAgenteG(agent.Deps{})
	require.NoError(t, err)

	res, err := a.Process(context.Background(), &agent.Task{Instruction: "revisar mi correo"})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Gmail")
	assert.Contains(t, res.Message, "no está configurada")
	assert.Equal(t, true, res.Metadata["service_unavailable"])
}

func TestAgenteGServiceDispatch(t *testing.T) {
	cases := []struct {
		instruction string
		service     string
	}{
		{"buscar correos de ayer", "gmail"},
		{"buscar el archivo de presupuesto en drive", "drive"},
		{"que reuniones tengo hoy", "calendar"},
	}
	for _, tc := range cases {
		ws := &fakeWorkspace{
			messages: []map[string]any{{"id": "m1"}},
			files:    []map[string]any{{"id": "f1"}, {"id": "f2"}},
			events:   []map[string]any{{"id": "e1"}},
		}
		a := NewAgenteGWithClient(ws)

		res, err := a.Process(context.Background(), &agent.Task{Instruction: tc.instruction})
		require.NoError(t, err)
		assert.Equal(t, tc.service, ws.called, "instruction %q", tc.instruction)
		assert.Equal(t, tc.service, res.Data["service"])
		assert.Equal(t, res.Artifact["item_count"], len(res.Data["items"].([]map[string]any)))
	}
}

func TestAgenteGClientError(t *testing.T) {
	a := NewAgenteGWithClient(&fakeWorkspace{err: errors.New("quota exceeded")})

	_, err := a.Process(context.Background(), &agent.Task{Instruction: "buscar correos"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external_io_error")
	assert.Contains(t, err.Error(), "quota exceeded")
}
