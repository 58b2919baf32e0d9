// Package sqlite provides a SQLite-backed checkpoint saver. It stores
// each checkpoint as a self-describing payload blob keyed by
// (session_id, checkpoint_id) and is the default durable backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/capiware/capi-orchestrator/graph"
)

const (
	createCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"session_id TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"payload BLOB NOT NULL, " +
		"created_at TIMESTAMP NOT NULL, " +
		"PRIMARY KEY (session_id, checkpoint_id)" +
		")"

	insertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"session_id, checkpoint_id, payload, created_at) VALUES (?, ?, ?, ?)"

	selectByID = "SELECT payload FROM checkpoints " +
		"WHERE session_id = ? AND checkpoint_id = ? LIMIT 1"

	selectLatest = "SELECT payload FROM checkpoints " +
		"WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1"

	deleteSession = "DELETE FROM checkpoints WHERE session_id = ?"
)

// Saver is a SQLite-backed implementation of graph.CheckpointSaver.
type Saver struct {
	db *sql.DB
}

// NewSaverFromDB creates a saver using the provided DB. The DB must use
// a SQLite driver. The constructor creates the schema if needed.
func NewSaverFromDB(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Open opens (or creates) a SQLite database at path and returns a saver
// bound to it.
func Open(path string) (*Saver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	return NewSaverFromDB(db)
}

// Close closes the underlying database.
func (s *Saver) Close() error {
	return s.db.Close()
}

// Put stores a checkpoint atomically.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if ckpt == nil || ckpt.SessionID == "" {
		return graph.ErrSessionIDRequired
	}
	payload, err := ckpt.Encode()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertCheckpoint,
		ckpt.SessionID, ckpt.ID, payload, ckpt.CreatedAt); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Get retrieves a checkpoint by session and checkpoint ID.
func (s *Saver) Get(ctx context.Context, sessionID, checkpointID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	row := s.db.QueryRowContext(ctx, selectByID, sessionID, checkpointID)
	return scanCheckpoint(row)
}

// Latest retrieves the most recent checkpoint for a session.
func (s *Saver) Latest(ctx context.Context, sessionID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	row := s.db.QueryRowContext(ctx, selectLatest, sessionID)
	return scanCheckpoint(row)
}

// DeleteSession removes all checkpoints for a session.
func (s *Saver) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, deleteSession, sessionID); err != nil {
		return fmt.Errorf("delete session checkpoints: %w", err)
	}
	return nil
}

func scanCheckpoint(row *sql.Row) (*graph.Checkpoint, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, graph.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return graph.DecodeCheckpoint(payload)
}
