package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiware/capi-orchestrator/graph"
)

func newCheckpoint(sessionID string, step int) *graph.Checkpoint {
	state := graph.NewState(sessionID, "trace-1", "user-1", "hola")
	return graph.NewCheckpoint(sessionID, step, state, nil)
}

func TestSaverPutAndGet(t *testing.T) {
	saver := NewSaver()
	ckpt := newCheckpoint("sess-1", 0)
	require.NoError(t, saver.Put(context.Background(), ckpt))

	got, err := saver.Get(context.Background(), "sess-1", ckpt.ID)
	require.NoError(t, err)
	assert.Equal(t, ckpt.ID, got.ID)
	assert.Equal(t, 0, got.Step)
}

func TestSaverLatestFollowsInsertionOrder(t *testing.T) {
	saver := NewSaver()
	first := newCheckpoint("sess-1", 0)
	second := newCheckpoint("sess-1", 1)
	require.NoError(t, saver.Put(context.Background(), first))
	require.NoError(t, saver.Put(context.Background(), second))

	latest, err := saver.Latest(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 1, latest.Step)
}

func TestSaverMissingCheckpoint(t *testing.T) {
	saver := NewSaver()
	_, err := saver.Get(context.Background(), "sess-1", "nope")
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)

	_, err = saver.Latest(context.Background(), "sess-1")
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)
}

func TestSaverRequiresSessionID(t *testing.T) {
	saver := NewSaver()
	assert.ErrorIs(t, saver.Put(context.Background(), nil), graph.ErrSessionIDRequired)
	_, err := saver.Get(context.Background(), "", "id")
	assert.ErrorIs(t, err, graph.ErrSessionIDRequired)
}

func TestSaverStoresSnapshot(t *testing.T) {
	saver := NewSaver()
	ckpt := newCheckpoint("sess-1", 0)
	require.NoError(t, saver.Put(context.Background(), ckpt))

	// Mutating the caller's state must not reach the stored copy.
	ckpt.State.ResponseMessage = "mutated"
	got, err := saver.Latest(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got.State.ResponseMessage)
}

func TestSaverDeleteSession(t *testing.T) {
	saver := NewSaver()
	require.NoError(t, saver.Put(context.Background(), newCheckpoint("sess-1", 0)))
	require.NoError(t, saver.Put(context.Background(), newCheckpoint("sess-2", 0)))

	require.NoError(t, saver.DeleteSession(context.Background(), "sess-1"))
	_, err := saver.Latest(context.Background(), "sess-1")
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)

	_, err = saver.Latest(context.Background(), "sess-2")
	assert.NoError(t, err)
}
