package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckpointVersion is the current version of the checkpoint payload format.
const CheckpointVersion = 1

// Checkpoint is a durable snapshot of graph state at a node boundary.
// It carries enough to resume: the merged state, the frontier of nodes
// scheduled next and any pending interrupt.
type Checkpoint struct {
	// Version is the payload format version tag.
	Version int `json:"v"`
	// SessionID partitions checkpoints per conversation.
	SessionID string `json:"session_id"`
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// Step is the executor step that produced this checkpoint.
	Step int `json:"step"`
	// State is the merged state snapshot.
	State *State `json:"state"`
	// NextNodes is the frontier scheduled after this step.
	NextNodes []string `json:"next_nodes,omitempty"`
	// Interrupt is set when execution paused awaiting a human.
	Interrupt *InterruptError `json:"interrupt,omitempty"`
	// CreatedAt is when the checkpoint was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewCheckpoint creates a checkpoint for the given session and step.
func NewCheckpoint(sessionID string, step int, state *State, nextNodes []string) *Checkpoint {
	return &Checkpoint{
		Version:   CheckpointVersion,
		SessionID: sessionID,
		ID:        uuid.New().String(),
		Step:      step,
		State:     state.Clone(),
		NextNodes: append([]string(nil), nextNodes...),
		CreatedAt: time.Now().UTC(),
	}
}

// Encode serializes the checkpoint into its self-describing payload.
func (c *Checkpoint) Encode() ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return payload, nil
}

// DecodeCheckpoint deserializes a checkpoint payload. Unknown versions
// are rejected so a newer writer never corrupts an older reader.
func DecodeCheckpoint(payload []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if c.Version != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", c.Version)
	}
	return &c, nil
}

// CheckpointSaver defines the interface for checkpoint storage backends.
// Implementations must be safe for concurrent use; writes for the same
// session are serialized by the executor.
type CheckpointSaver interface {
	// Put stores a checkpoint atomically.
	Put(ctx context.Context, ckpt *Checkpoint) error
	// Get retrieves a checkpoint by session and checkpoint ID. Returns
	// ErrCheckpointNotFound when absent.
	Get(ctx context.Context, sessionID, checkpointID string) (*Checkpoint, error)
	// Latest retrieves the most recent checkpoint for a session. Returns
	// ErrCheckpointNotFound when the session has none.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)
	// DeleteSession removes all checkpoints for a session.
	DeleteSession(ctx context.Context, sessionID string) error
}
