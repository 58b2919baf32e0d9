// Package session persists per-session manifests: audit snapshots of
// completed nodes, the last response, exports and conversation history.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/capiware/capi-orchestrator/graph"
)

// Manifest is the on-disk snapshot of one session.
type Manifest struct {
	SessionID         string         `json:"session_id"`
	CompletedNodes    []string       `json:"completed_nodes"`
	LastResponse      string         `json:"last_response"`
	LastIntent        string         `json:"last_intent,omitempty"`
	DatabExports      []string       `json:"datab_exports"`
	LastProgressSteps []string       `json:"last_progress_steps"`
	History           []graph.Turn   `json:"history"`
	Meta              map[string]any `json:"meta,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Store reads and writes session manifests as JSON files under a root
// directory. Writes go through temp-file-then-rename and a per-session
// lock so a manifest is never read mid-write.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a manifest store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.root, "session_"+sanitize(sessionID)+".json")
}

// UpdateFromState folds a final turn state into the session manifest.
// The user turn and assistant reply are appended to the history and any
// export path found in the response data is recorded.
func (s *Store) UpdateFromState(state *graph.State) error {
	if state == nil || state.SessionID == "" {
		return fmt.Errorf("state with session_id required")
	}
	l := s.lock(state.SessionID)
	l.Lock()
	defer l.Unlock()

	m, err := s.readLocked(state.SessionID)
	if err != nil {
		return err
	}
	if m == nil {
		m = &Manifest{SessionID: state.SessionID}
	}
	m.CompletedNodes = append([]string(nil), state.CompletedNodes...)
	m.LastResponse = state.ResponseMessage
	m.LastIntent = string(state.DetectedIntent)
	m.LastProgressSteps = progressSteps(state)
	if state.OriginalQuery != "" {
		m.History = append(m.History, graph.Turn{
			Role:    "user",
			Content: state.OriginalQuery,
			TraceID: state.TraceID,
			At:      time.Now().UTC(),
		})
	}
	if state.ResponseMessage != "" {
		m.History = append(m.History, graph.Turn{
			Role:    "assistant",
			Content: state.ResponseMessage,
			TraceID: state.TraceID,
			At:      time.Now().UTC(),
		})
	}
	for _, export := range exportPaths(state) {
		if !contains(m.DatabExports, export) {
			m.DatabExports = append(m.DatabExports, export)
		}
	}
	m.UpdatedAt = time.Now().UTC()
	return s.writeLocked(m)
}

// GetManifest returns the manifest for a session, or nil when none exists.
func (s *Store) GetManifest(sessionID string) (*Manifest, error) {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()
	return s.readLocked(sessionID)
}

// History returns the conversation history for a session.
func (s *Store) History(sessionID string) ([]graph.Turn, error) {
	m, err := s.GetManifest(sessionID)
	if err != nil || m == nil {
		return nil, err
	}
	return m.History, nil
}

// ListSessions returns the session ids that have a manifest, sorted.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "session_"), ".json"))
	}
	sort.Strings(out)
	return out, nil
}

// Clear removes a session's manifest. Missing manifests are not an error.
func (s *Store) Clear(sessionID string) error {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) readLocked(sessionID string) (*Manifest, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func (s *Store) writeLocked(m *Manifest) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp, err := os.CreateTemp(s.root, ".manifest-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(m.SessionID)); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

func progressSteps(state *graph.State) []string {
	n := len(state.CompletedNodes)
	if n > 5 {
		return append([]string(nil), state.CompletedNodes[n-5:]...)
	}
	return append([]string(nil), state.CompletedNodes...)
}

// exportPaths scans response data and shared artifacts for export_path
// entries.
func exportPaths(state *graph.State) []string {
	var out []string
	if p, ok := state.ResponseData["export_path"].(string); ok && p != "" {
		out = append(out, p)
	}
	for _, artifact := range state.SharedArtifacts {
		if p, ok := artifact["export_path"].(string); ok && p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
