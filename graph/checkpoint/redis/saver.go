package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/capiware/capi-orchestrator/graph"
)

const (
	checkpointKeyPrefix = "checkpoint:"
	indexKeyPrefix      = "checkpoint_index:"
)

// Saver is a Redis-backed implementation of graph.CheckpointSaver.
// Checkpoints are stored as payload blobs with a per-session sorted set
// indexing them by creation time.
type Saver struct {
	client redis.UniversalClient
	opts   Options
}

// NewSaver creates a redis checkpoint saver.
func NewSaver(opts ...Option) (*Saver, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.url == "" {
		return nil, errors.New("redis checkpoint saver requires a client URL")
	}
	redisOpts, err := redis.ParseURL(options.url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Saver{
		client: redis.NewClient(redisOpts),
		opts:   options,
	}, nil
}

// NewSaverFromClient creates a saver using an existing client.
func NewSaverFromClient(client redis.UniversalClient, opts ...Option) *Saver {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Saver{client: client, opts: options}
}

// Close closes the underlying client.
func (s *Saver) Close() error {
	return s.client.Close()
}

// Put stores a checkpoint and indexes it by creation time.
func (s *Saver) Put(ctx context.Context, ckpt *graph.Checkpoint) error {
	if ckpt == nil || ckpt.SessionID == "" {
		return graph.ErrSessionIDRequired
	}
	payload, err := ckpt.Encode()
	if err != nil {
		return err
	}
	key := checkpointKey(ckpt.SessionID, ckpt.ID)
	idx := indexKey(ckpt.SessionID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, payload, s.opts.ttl)
	pipe.ZAdd(ctx, idx, redis.Z{
		Score:  float64(ckpt.CreatedAt.UnixMilli()),
		Member: ckpt.ID,
	})
	if s.opts.ttl > 0 {
		pipe.Expire(ctx, idx, s.opts.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

// Get retrieves a checkpoint by session and checkpoint ID.
func (s *Saver) Get(ctx context.Context, sessionID, checkpointID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	payload, err := s.client.Get(ctx, checkpointKey(sessionID, checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, graph.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return graph.DecodeCheckpoint(payload)
}

// Latest retrieves the most recent checkpoint for a session.
func (s *Saver) Latest(ctx context.Context, sessionID string) (*graph.Checkpoint, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	ids, err := s.client.ZRevRange(ctx, indexKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("read checkpoint index: %w", err)
	}
	if len(ids) == 0 {
		return nil, graph.ErrCheckpointNotFound
	}
	return s.Get(ctx, sessionID, ids[0])
}

// DeleteSession removes all checkpoints for a session.
func (s *Saver) DeleteSession(ctx context.Context, sessionID string) error {
	ids, err := s.client.ZRange(ctx, indexKey(sessionID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read checkpoint index: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, checkpointKey(sessionID, id))
	}
	keys = append(keys, indexKey(sessionID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

func checkpointKey(sessionID, checkpointID string) string {
	return checkpointKeyPrefix + sessionID + ":" + checkpointID
}

func indexKey(sessionID string) string {
	return indexKeyPrefix + sessionID
}
