package graph

import "errors"

// Sentinel errors shared across the graph runtime.
var (
	// ErrSessionBusy is returned when a session already has an in-flight
	// execution and the caller chose rejection over queueing.
	ErrSessionBusy = errors.New("session busy: execution already in flight")
	// ErrCheckpointNotFound is returned by savers when no checkpoint
	// matches the requested session or checkpoint ID.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrSessionIDRequired is returned when a saver call lacks a session ID.
	ErrSessionIDRequired = errors.New("session_id is required")
	// ErrEmptyNodeID is returned when a node is registered without an ID.
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrNoEntryPoint is returned when execution starts on a graph
	// without an entry point.
	ErrNoEntryPoint = errors.New("graph has no entry point")
	// ErrNoPendingInterrupt is returned when resuming a session whose
	// latest checkpoint carries no interrupt.
	ErrNoPendingInterrupt = errors.New("no pending interrupt for session")
)

// Error codes recorded into State.Errors.
const (
	ErrorCodeNodeTimeout      = "node_timeout"
	ErrorCodeAgentUnavailable = "agent_unavailable"
	ErrorCodeCheckpointWrite  = "checkpoint_write_error"
	ErrorCodeCheckpointRead   = "checkpoint_read_error"
	ErrorCodeParse            = "parse_error"
	ErrorCodeExternalIO       = "external_io_error"
	ErrorCodeNodeFailure      = "node_failure"
	ErrorCodeTurnTimeout      = "turn_timeout"
	ErrorCodeHumanTimeout     = "human_timeout"
)
