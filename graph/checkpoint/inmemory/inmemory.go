// Package inmemory provides an in-memory checkpoint saver. It is
// suitable for tests and single-process deployments without durability
// requirements.
package inmemory

import (
	"context"
	"sync"

	"github.com/capiware/capi-orchestrator/graph"
)

// Saver is a map-backed implementation of graph.CheckpointSaver.
type Saver struct {
	mu sync.RWMutex
	// byID maps sessionID -> checkpointID -> checkpoint.
	byID map[string]map[string]*graph.Checkpoint
	// order keeps insertion order per session so Latest is O(1).
	order map[string][]string
}

// NewSaver creates an empty in-memory saver.
func NewSaver() *Saver {
	return &Saver{
		byID:  make(map[string]map[string]*graph.Checkpoint),
		order: make(map[string][]string),
	}
}

// Put stores a checkpoint.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if ckpt == nil || ckpt.SessionID == "" {
		return graph.ErrSessionIDRequired
	}
	// Round-trip through the payload encoding so stored snapshots are
	// value-independent of the caller's state reference.
	payload, err := ckpt.Encode()
	if err != nil {
		return err
	}
	stored, err := graph.DecodeCheckpoint(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[ckpt.SessionID] == nil {
		s.byID[ckpt.SessionID] = make(map[string]*graph.Checkpoint)
	}
	if _, exists := s.byID[ckpt.SessionID][ckpt.ID]; !exists {
		s.order[ckpt.SessionID] = append(s.order[ckpt.SessionID], ckpt.ID)
	}
	s.byID[ckpt.SessionID][ckpt.ID] = stored
	return nil
}

// Get retrieves a checkpoint by session and checkpoint ID.
func (s *Saver) Get(ctx context.Context, sessionID, checkpointID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ckpt, ok := s.byID[sessionID][checkpointID]
	if !ok {
		return nil, graph.ErrCheckpointNotFound
	}
	return ckpt, nil
}

// Latest retrieves the most recent checkpoint for a session.
func (s *Saver) Latest(ctx context.Context, sessionID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[sessionID]
	if len(ids) == 0 {
		return nil, graph.ErrCheckpointNotFound
	}
	return s.byID[sessionID][ids[len(ids)-1]], nil
}

// DeleteSession removes all checkpoints for a session.
func (s *Saver) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sessionID)
	delete(s.order, sessionID)
	return nil
}
