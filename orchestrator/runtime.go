package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/intent"
	"github.com/capiware/capi-orchestrator/log"
	"github.com/capiware/capi-orchestrator/session"
	"github.com/capiware/capi-orchestrator/telemetry"
)

// Envelope response types.
const (
	ResponseTypeSuccess = "success"
	ResponseTypeNotice  = "notice"
	ResponseTypeError   = "error"
)

// ResponseEnvelope is the unit returned to the API caller for one turn.
type ResponseEnvelope struct {
	TraceID      string         `json:"trace_id"`
	ResponseType string         `json:"response_type"`
	Intent       string         `json:"intent"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// Runtime is the orchestration facade: it owns the compiled graph, the
// executor and the session bookkeeping behind ProcessQuery and friends.
type Runtime struct {
	registry *agent.Registry
	nodes    *Nodes
	builder  *Builder
	executor *graph.Executor
	saver    graph.CheckpointSaver
	sessions *session.Store
	emitter  graph.Emitter

	interruptTTL    time.Duration
	executorOptions []graph.ExecutorOption
	turnCounter     metric.Int64Counter
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithCheckpointSaver sets the checkpoint backend.
func WithCheckpointSaver(saver graph.CheckpointSaver) RuntimeOption {
	return func(r *Runtime) { r.saver = saver }
}

// WithSessionStore sets the session manifest store.
func WithSessionStore(store *session.Store) RuntimeOption {
	return func(r *Runtime) { r.sessions = store }
}

// WithEmitter sets the progress event sink.
func WithEmitter(emitter graph.Emitter) RuntimeOption {
	return func(r *Runtime) { r.emitter = emitter }
}

// WithInterruptTTL bounds how long an interrupt may wait for a human
// before DeclineExpired auto-declines it.
func WithInterruptTTL(ttl time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if ttl > 0 {
			r.interruptTTL = ttl
		}
	}
}

// WithExecutorOptions forwards extra options to the graph executor
// (timeouts, fan-out limit, static interrupt points).
func WithExecutorOptions(opts ...graph.ExecutorOption) RuntimeOption {
	return func(r *Runtime) { r.executorOptions = append(r.executorOptions, opts...) }
}

// NewRuntime wires the orchestration stack around a registry and an
// intent service.
func NewRuntime(registry *agent.Registry, intents intent.Service, opts ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{
		registry:     registry,
		interruptTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.nodes = NewNodes(intents, registry)
	builder, err := NewBuilder(r.nodes, registry)
	if err != nil {
		return nil, err
	}
	r.builder = builder

	execOpts := []graph.ExecutorOption{}
	if r.saver != nil {
		execOpts = append(execOpts, graph.WithCheckpointSaver(r.saver))
	}
	if r.emitter != nil {
		execOpts = append(execOpts, graph.WithEmitter(r.emitter))
	}
	execOpts = append(execOpts, r.executorOptions...)
	executor, err := graph.NewExecutor(builder.Graph(), execOpts...)
	if err != nil {
		return nil, err
	}
	r.executor = executor
	if counter, err := telemetry.Meter().Int64Counter("orchestrator.turns"); err == nil {
		r.turnCounter = counter
	}
	return r, nil
}

// Close releases runtime resources.
func (r *Runtime) Close() {
	if r.executor != nil {
		r.executor.Close()
	}
}

// ProcessQuery runs one turn. Text may be natural language or a JSON
// object with a query and structured payload. Returns ErrSessionBusy
// when the session already has an in-flight turn.
func (r *Runtime) ProcessQuery(ctx context.Context, sessionID, userID, text string) (*ResponseEnvelope, error) {
	if sessionID == "" {
		return nil, graph.ErrSessionIDRequired
	}
	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.ProcessQuery",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()
	if r.turnCounter != nil {
		r.turnCounter.Add(ctx, 1)
	}

	traceID := uuid.New().String()
	state := graph.NewState(sessionID, traceID, userID, text)
	r.seedHistory(state)
	if payload, query, mode := parseQuery(text); payload != nil {
		state.ExternalPayload = payload
		// A structured payload replaces the raw JSON as the query text,
		// even when it carries no free text at all.
		state.OriginalQuery = query
		if mode != "" {
			state.WorkflowMode = graph.WorkflowMode(mode)
		}
		if targets := payloadTargets(payload); len(targets) > 0 {
			state.ResponseMetadata[graph.MetaKeyParallelTargets] = targets
		}
	}
	if strings.TrimSpace(state.OriginalQuery) == "" {
		var mut graph.StateMutator
		failed := mut.AddError(state, graph.ErrorCodeParse, "empty query", NodeStart, nil)
		failed = r.finishFallback(ctx, failed)
		return r.envelope(failed, nil), nil
	}

	stream, err := r.executor.Execute(ctx, state)
	if err != nil {
		return nil, err
	}
	final, intr, updates := drain(stream)
	if updates == 0 && intr == nil {
		log.Warnf("orchestrator: stream for %s yielded no updates, using manual fallback", sessionID)
		final = r.manualFallback(ctx, state)
	}
	r.persistSession(final)
	return r.envelope(final, intr), nil
}

// ResumeHumanGate continues an interrupted session with a decision.
func (r *Runtime) ResumeHumanGate(ctx context.Context, sessionID string, decision any) (*ResponseEnvelope, error) {
	stream, err := r.executor.Resume(ctx, sessionID, graph.NewResumeCommand(decision))
	if err != nil {
		return nil, err
	}
	final, intr, _ := drain(stream)
	if final == nil {
		return nil, fmt.Errorf("resume for session %s produced no state", sessionID)
	}
	r.persistSession(final)
	return r.envelope(final, intr), nil
}

// DeclineExpired auto-declines the pending interrupt of a session when
// it has been waiting longer than the configured TTL.
func (r *Runtime) DeclineExpired(ctx context.Context, sessionID string) (*ResponseEnvelope, error) {
	if r.saver == nil {
		return nil, graph.ErrNoPendingInterrupt
	}
	ckpt, err := r.saver.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ckpt.Interrupt == nil {
		return nil, graph.ErrNoPendingInterrupt
	}
	if time.Since(ckpt.Interrupt.Timestamp) < r.interruptTTL {
		return nil, nil
	}
	envelope, err := r.ResumeHumanGate(ctx, sessionID, map[string]any{"approved": false, "reason": "human_timeout"})
	if err != nil {
		return nil, err
	}
	envelope.ResponseType = ResponseTypeNotice
	if envelope.Meta == nil {
		envelope.Meta = map[string]any{}
	}
	envelope.Meta["human_timeout"] = true
	return envelope, nil
}

// GetSessionHistory returns the persisted conversation history.
func (r *Runtime) GetSessionHistory(sessionID string) ([]graph.Turn, error) {
	if r.sessions == nil {
		return nil, nil
	}
	return r.sessions.History(sessionID)
}

// ListActiveSessions returns the sessions with a persisted manifest.
func (r *Runtime) ListActiveSessions() ([]string, error) {
	if r.sessions == nil {
		return nil, nil
	}
	return r.sessions.ListSessions()
}

// ClearSessionHistory removes the manifest and checkpoints of a session.
func (r *Runtime) ClearSessionHistory(ctx context.Context, sessionID string) error {
	if r.sessions != nil {
		if err := r.sessions.Clear(sessionID); err != nil {
			return err
		}
	}
	if r.saver != nil {
		return r.saver.DeleteSession(ctx, sessionID)
	}
	return nil
}

// RegisterAgent adds or re-enables an agent and rebuilds the graph.
func (r *Runtime) RegisterAgent(name string) error {
	if err := r.registry.Register(name); err != nil {
		return err
	}
	return r.rebuild()
}

// UnregisterAgent removes an agent and rebuilds the graph.
func (r *Runtime) UnregisterAgent(name string) error {
	if err := r.registry.Unregister(name); err != nil {
		return err
	}
	return r.rebuild()
}

// RefreshGraph re-reads the registry manifest and rebuilds the graph.
func (r *Runtime) RefreshGraph() error {
	if err := r.registry.Refresh(); err != nil {
		return err
	}
	return r.rebuild()
}

// GraphStatus reports the compiled topology.
func (r *Runtime) GraphStatus() GraphStatus {
	return r.builder.Status()
}

// RebuildGraph recompiles the topology from the current registry
// snapshot, for callers reacting to out-of-band registry changes.
func (r *Runtime) RebuildGraph() error {
	return r.rebuild()
}

func (r *Runtime) rebuild() error {
	if err := r.builder.Rebuild(); err != nil {
		return err
	}
	return r.executor.SetGraph(r.builder.Graph())
}

// historyWindow bounds how many persisted turns seed a new state.
const historyWindow = 10

// seedHistory loads the persisted conversation tail into a fresh turn
// state so classification and the context tools see prior turns.
func (r *Runtime) seedHistory(state *graph.State) {
	if r.sessions == nil {
		return
	}
	history, err := r.sessions.History(state.SessionID)
	if err != nil {
		log.Warnf("orchestrator: history load failed for %s: %v", state.SessionID, err)
		return
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	state.ConversationHistory = history
	window := make([]string, 0, len(history))
	for _, turn := range history {
		window = append(window, turn.Role+": "+turn.Content)
	}
	state.MemoryWindow = window
}

func (r *Runtime) persistSession(state *graph.State) {
	if r.sessions == nil || state == nil {
		return
	}
	if err := r.sessions.UpdateFromState(state); err != nil {
		log.Errorf("orchestrator: session manifest update failed for %s: %v", state.SessionID, err)
	}
}

// envelope converts the final state into the caller-facing envelope.
func (r *Runtime) envelope(state *graph.State, intr *graph.InterruptError) *ResponseEnvelope {
	if state == nil {
		return &ResponseEnvelope{
			ResponseType: ResponseTypeError,
			Message:      fallbackApology,
		}
	}
	env := &ResponseEnvelope{
		TraceID: state.TraceID,
		Intent:  string(state.DetectedIntent),
		Message: state.ResponseMessage,
		Data:    state.ResponseData,
		Meta: map[string]any{
			"completed_nodes": state.CompletedNodes,
			"active_agent":    state.ActiveAgent,
			"status":          string(state.Status),
		},
	}
	switch {
	case intr != nil:
		env.ResponseType = ResponseTypeNotice
		env.Meta["requires_human"] = true
		env.Meta["interrupt"] = map[string]any{
			"node":    intr.NodeID,
			"reason":  intr.Reason,
			"payload": intr.Payload,
		}
		if env.Message == "" {
			env.Message = "La operación requiere tu aprobación antes de continuar."
		}
	case state.Status == graph.StatusFailed:
		env.ResponseType = ResponseTypeError
	case len(state.Errors) > 0:
		env.ResponseType = ResponseTypeNotice
		env.Meta["errors"] = errorSummaries(state.Errors)
	default:
		env.ResponseType = ResponseTypeSuccess
	}
	if env.Message == "" {
		env.Message = fallbackApology
	}
	// An apology is never a success, even when the turn completed.
	if env.Message == fallbackApology && env.ResponseType == ResponseTypeSuccess {
		env.ResponseType = ResponseTypeNotice
	}
	return env
}

func errorSummaries(records []graph.ErrorRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, e := range records {
		out = append(out, map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"node":    e.Node,
		})
	}
	return out
}

// drain consumes the execution stream and returns the last full state,
// the pending interrupt if any, and the number of update items seen.
func drain(stream <-chan graph.StreamItem) (*graph.State, *graph.InterruptError, int) {
	var (
		final   *graph.State
		intr    *graph.InterruptError
		updates int
	)
	for item := range stream {
		switch item.Mode {
		case graph.StreamModeUpdates:
			updates += len(item.Updates)
			if item.Interrupt != nil {
				intr = item.Interrupt
			}
		case graph.StreamModeValues:
			final = item.Values
		}
	}
	return final, intr, updates
}

// parseQuery detects a JSON object query and extracts its free-text
// part and workflow mode.
func parseQuery(text string) (payload map[string]any, query, mode string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, "", ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, "", ""
	}
	query, _ = obj["query"].(string)
	mode, _ = obj["workflow_mode"].(string)
	if query == "" {
		// A structured operation without free text still drives routing.
		if op, ok := obj["operation"].(string); ok {
			query = op + " operation"
		}
	}
	return obj, query, mode
}

// payloadTargets extracts a fan-out target list from a structured query.
func payloadTargets(payload map[string]any) []string {
	raw, ok := payload["parallel_targets"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
