package graph

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/capiware/capi-orchestrator/log"
)

// Default executor tunables.
const (
	defaultChannelBufferSize = 256
	defaultNodeTimeout       = 60 * time.Second
	defaultTurnTimeout       = 180 * time.Second
	defaultMaxFanout         = 4
	defaultPoolSize          = 16
)

// Executor drives a compiled graph for one turn per call. It guarantees
// at-most-one in-flight execution per session, persists a checkpoint
// after every step and emits ordered progress events.
type Executor struct {
	saver           CheckpointSaver
	emitter         Emitter
	interruptBefore map[string]bool
	nodeTimeout     time.Duration
	turnTimeout     time.Duration
	maxFanout       int
	bufferSize      int
	pool            *ants.Pool

	gmu   sync.RWMutex
	graph *Graph

	mu       sync.Mutex
	inFlight map[string]bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointSaver sets the checkpoint backend.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(e *Executor) { e.saver = saver }
}

// WithEmitter sets the progress event sink.
func WithEmitter(emitter Emitter) ExecutorOption {
	return func(e *Executor) { e.emitter = emitter }
}

// WithInterruptBefore pauses execution before each named node.
func WithInterruptBefore(nodes []string) ExecutorOption {
	return func(e *Executor) {
		for _, n := range nodes {
			if n != "" {
				e.interruptBefore[n] = true
			}
		}
	}
}

// WithNodeTimeout bounds the runtime of a single node.
func WithNodeTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.nodeTimeout = d
		}
	}
}

// WithTurnTimeout bounds the runtime of a whole turn.
func WithTurnTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.turnTimeout = d
		}
	}
}

// WithMaxFanout caps the number of parallel fan-out targets per step.
func WithMaxFanout(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxFanout = n
		}
	}
}

// WithChannelBufferSize sets the buffer size of the stream channel.
func WithChannelBufferSize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// NewExecutor creates an executor for the compiled graph.
func NewExecutor(g *Graph, opts ...ExecutorOption) (*Executor, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		graph:           g,
		interruptBefore: make(map[string]bool),
		nodeTimeout:     defaultNodeTimeout,
		turnTimeout:     defaultTurnTimeout,
		maxFanout:       defaultMaxFanout,
		bufferSize:      defaultChannelBufferSize,
		inFlight:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	pool, err := ants.NewPool(defaultPoolSize)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return e, nil
}

// Close releases the executor's worker pool.
func (e *Executor) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// SetGraph swaps the compiled graph used by subsequent turns. In-flight
// executions keep the graph they started with.
func (e *Executor) SetGraph(g *Graph) error {
	if err := g.validate(); err != nil {
		return err
	}
	e.gmu.Lock()
	e.graph = g
	e.gmu.Unlock()
	return nil
}

func (e *Executor) currentGraph() *Graph {
	e.gmu.RLock()
	defer e.gmu.RUnlock()
	return e.graph
}

// Execute runs the graph with the given initial state and returns the
// stream of (updates, values) items. It returns ErrSessionBusy when the
// session already has an in-flight execution.
func (e *Executor) Execute(ctx context.Context, initial *State) (<-chan StreamItem, error) {
	g := e.currentGraph()
	if g.EntryPoint() == "" {
		return nil, ErrNoEntryPoint
	}
	if err := e.acquire(initial.SessionID); err != nil {
		return nil, err
	}
	out := make(chan StreamItem, e.bufferSize)
	frontier := []string{g.EntryPoint()}
	go e.run(ctx, g, initial.Clone(), frontier, 0, nil, out)
	return out, nil
}

// Resume continues an interrupted session with the given decision. The
// state is reconstructed from the latest checkpoint and the decision is
// injected into response_metadata under the human_decision key.
func (e *Executor) Resume(ctx context.Context, sessionID string, cmd *ResumeCommand) (<-chan StreamItem, error) {
	if e.saver == nil {
		return nil, ErrNoPendingInterrupt
	}
	ckpt, err := e.saver.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ckpt.Interrupt == nil {
		return nil, ErrNoPendingInterrupt
	}
	if err := e.acquire(sessionID); err != nil {
		return nil, err
	}
	state := ckpt.State.Clone()
	state.Status = StatusProcessing
	if state.ResponseMetadata == nil {
		state.ResponseMetadata = map[string]any{}
	}
	if cmd != nil {
		state.ResponseMetadata[MetaKeyHumanDecision] = cmd.Resume
	}
	frontier := ckpt.NextNodes
	if len(frontier) == 0 {
		frontier = []string{ckpt.Interrupt.NodeID}
	}
	skip := make(map[string]bool, len(frontier))
	for _, n := range frontier {
		skip[n] = true
	}
	out := make(chan StreamItem, e.bufferSize)
	go e.run(ctx, e.currentGraph(), state, frontier, ckpt.Step+1, skip, out)
	return out, nil
}

func (e *Executor) acquire(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[sessionID] {
		return ErrSessionBusy
	}
	e.inFlight[sessionID] = true
	return nil
}

func (e *Executor) release(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, sessionID)
}

type taskResult struct {
	nodeID string
	output *State
	err    error
}

// run is the step loop. It owns the authoritative state and is the only
// goroutine that emits to the gateway, which preserves per-session order.
func (e *Executor) run(ctx context.Context, g *Graph, state *State, frontier []string, step int, skipInterrupt map[string]bool, out chan<- StreamItem) {
	defer close(out)
	defer e.release(state.SessionID)

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()

	var mut StateMutator
	converge := g.ConvergenceNode()

	for len(frontier) > 0 {
		select {
		case <-ctx.Done():
			state = mut.AddError(state, ErrorCodeTurnTimeout, ctx.Err().Error(), "", nil)
			state = mut.SetStatus(state, StatusFailed)
			out <- StreamItem{Mode: StreamModeValues, Values: state}
			return
		default:
		}

		frontier = sortedUnique(frontier)

		// Static interrupt: pause before any configured node unless the
		// frontier was just resumed past it.
		if intr := e.pendingStaticInterrupt(frontier, skipInterrupt, step); intr != nil {
			e.pause(ctx, state, frontier, step, intr, out)
			return
		}
		skipInterrupt = nil

		results := e.runTasks(ctx, g, state, frontier)

		// A raised interrupt wins over any sibling output: persist the
		// pre-interrupt state and stop.
		for _, res := range results {
			if intr, ok := AsInterrupt(res.err); ok {
				intr.Step = step
				e.pause(ctx, state, []string{res.nodeID}, step, intr, out)
				return
			}
		}

		failed := make(map[string]bool)
		updates := make(map[string]*State, len(results))
		for _, res := range results {
			if res.err != nil {
				code := ErrorCodeNodeFailure
				if errors.Is(res.err, context.DeadlineExceeded) {
					code = ErrorCodeNodeTimeout
				}
				state = mut.AddError(state, code, res.err.Error(), res.nodeID, nil)
				failed[res.nodeID] = true
				continue
			}
			if res.output != nil {
				state = MergeStates(state, res.output)
				updates[res.nodeID] = res.output
			}
		}
		for _, nodeID := range frontier {
			if !state.HasCompleted(nodeID) {
				state = mut.AppendCompletedNode(state, nodeID)
			}
		}
		state.CurrentNode = frontier[len(frontier)-1]

		e.persist(ctx, state, nil, step, nil)

		if len(updates) > 0 {
			out <- StreamItem{Mode: StreamModeUpdates, Updates: updates}
		}
		out <- StreamItem{Mode: StreamModeValues, Values: state.Clone()}

		next := e.advance(ctx, g, state, frontier, failed, converge)
		e.emitStep(g, state, frontier, next)
		frontier = next
		step++
	}
}

// runTasks executes the frontier. A single node runs inline; siblings
// run concurrently on the worker pool, each against its own clone.
func (e *Executor) runTasks(ctx context.Context, g *Graph, state *State, frontier []string) []taskResult {
	if len(frontier) == 1 {
		return []taskResult{e.runNode(ctx, g, state, frontier[0])}
	}
	results := make([]taskResult, len(frontier))
	var wg sync.WaitGroup
	for i, nodeID := range frontier {
		i, nodeID := i, nodeID
		wg.Add(1)
		submit := func() {
			defer wg.Done()
			results[i] = e.runNode(ctx, g, state, nodeID)
		}
		if err := e.pool.Submit(submit); err != nil {
			// Pool saturated or released: degrade to inline execution.
			submit()
		}
	}
	wg.Wait()
	return results
}

// runNode executes one node under the node timeout.
func (e *Executor) runNode(ctx context.Context, g *Graph, state *State, nodeID string) taskResult {
	node, ok := g.Node(nodeID)
	if !ok || node.Function == nil {
		return taskResult{nodeID: nodeID, output: nil}
	}
	if node.IsAgentNode && e.emitter != nil {
		e.emitter.EmitAgentStart(state.SessionID, state.TraceID, nodeID)
		defer e.emitter.EmitAgentEnd(state.SessionID, state.TraceID, nodeID)
	}
	nodeCtx, cancel := context.WithTimeout(ctx, e.nodeTimeout)
	defer cancel()

	input := state.Clone()
	input.CurrentNode = nodeID
	done := make(chan taskResult, 1)
	go func() {
		output, err := node.Function(nodeCtx, input)
		done <- taskResult{nodeID: nodeID, output: output, err: err}
	}()
	select {
	case res := <-done:
		return res
	case <-nodeCtx.Done():
		return taskResult{nodeID: nodeID, err: nodeCtx.Err()}
	}
}

// advance computes the next frontier from unconditional edges and
// conditional resolvers. Failed nodes route to the convergence node.
// When the convergence node shares the frontier with other nodes it is
// deferred, which gives fan-out branches their merge barrier.
func (e *Executor) advance(ctx context.Context, g *Graph, state *State, frontier []string, failed map[string]bool, converge string) []string {
	nextSet := make(map[string]bool)
	for _, nodeID := range frontier {
		if failed[nodeID] {
			if converge != "" && nodeID != converge {
				nextSet[converge] = true
			}
			continue
		}
		for _, succ := range e.successors(ctx, g, state, nodeID) {
			nextSet[succ] = true
		}
	}
	delete(nextSet, End)
	next := make([]string, 0, len(nextSet))
	for n := range nextSet {
		next = append(next, n)
	}
	sort.Strings(next)
	if len(next) > 1 && converge != "" && nextSet[converge] {
		// Barrier: assemble waits until it is the only remaining target.
		filtered := next[:0]
		for _, n := range next {
			if n != converge {
				filtered = append(filtered, n)
			}
		}
		next = filtered
	}
	if len(next) > e.maxFanout {
		log.Warnf("graph: fan-out of %d exceeds limit %d, truncating", len(next), e.maxFanout)
		next = next[:e.maxFanout]
	}
	return next
}

// successors resolves the outgoing routing of one node.
func (e *Executor) successors(ctx context.Context, g *Graph, state *State, nodeID string) []string {
	converge := g.ConvergenceNode()
	if condEdge, ok := g.ConditionalEdge(nodeID); ok {
		targets, err := condEdge.Condition(ctx, state)
		if err != nil {
			log.Warnf("graph: conditional edge from %s failed: %v", nodeID, err)
			if converge != "" {
				return []string{converge}
			}
			return nil
		}
		out := make([]string, 0, len(targets))
		for _, label := range targets {
			if dst, ok := condEdge.PathMap[label]; ok {
				out = append(out, dst)
				continue
			}
			// Unknown names fall back to the convergence node.
			if converge != "" && converge != nodeID {
				out = append(out, converge)
			}
		}
		if len(out) == 0 && converge != "" && converge != nodeID {
			out = append(out, converge)
		}
		return out
	}
	edges := g.Edges(nodeID)
	out := make([]string, 0, len(edges))
	for _, edge := range edges {
		out = append(out, edge.To)
	}
	return out
}

// pendingStaticInterrupt reports an interrupt_before hit on the frontier.
func (e *Executor) pendingStaticInterrupt(frontier []string, skip map[string]bool, step int) *InterruptError {
	for _, nodeID := range frontier {
		if e.interruptBefore[nodeID] && !skip[nodeID] {
			intr := NewInterrupt(nodeID, "interrupt_before", map[string]any{"node": nodeID})
			intr.Step = step
			return intr
		}
	}
	return nil
}

// pause persists the pre-interrupt state and yields the final interrupt
// updates item.
func (e *Executor) pause(ctx context.Context, state *State, frontier []string, step int, intr *InterruptError, out chan<- StreamItem) {
	var mut StateMutator
	state = mut.SetStatus(state, StatusAwaitingHuman)
	if state.ResponseMetadata == nil {
		state.ResponseMetadata = map[string]any{}
	}
	state.ResponseMetadata[MetaKeyRequiresHumanApproval] = true
	e.persist(ctx, state, frontier, step, intr)
	out <- StreamItem{
		Mode:      StreamModeUpdates,
		Updates:   map[string]*State{intr.NodeID: state.Clone()},
		Interrupt: intr,
	}
	out <- StreamItem{Mode: StreamModeValues, Values: state.Clone()}
}

// persist writes a checkpoint. Checkpoint loss is recoverable, so write
// failures are logged and execution continues.
func (e *Executor) persist(ctx context.Context, state *State, nextNodes []string, step int, intr *InterruptError) {
	if e.saver == nil {
		return
	}
	ckpt := NewCheckpoint(state.SessionID, step, state, nextNodes)
	ckpt.Interrupt = intr
	if err := e.saver.Put(ctx, ckpt); err != nil {
		log.Errorf("graph: checkpoint write failed for session %s: %v", state.SessionID, err)
	}
}

// emitStep emits node_transition and state_snapshot events for one step.
func (e *Executor) emitStep(g *Graph, state *State, frontier, next []string) {
	if e.emitter == nil {
		return
	}
	for _, from := range frontier {
		for _, to := range e.transitionTargets(g, from, next) {
			if to == from {
				continue
			}
			e.emitter.EmitNodeTransition(state.SessionID, state.TraceID, from, to, "advance")
		}
	}
	e.emitter.EmitStateSnapshot(state.SessionID, state.TraceID, snapshotOf(state))
}

// transitionTargets intersects a node's outgoing edges with the actual
// next frontier so emitted transitions reflect scheduled work only.
func (e *Executor) transitionTargets(g *Graph, from string, next []string) []string {
	if len(next) == 0 {
		return nil
	}
	if len(next) == 1 {
		return next
	}
	nextSet := make(map[string]bool, len(next))
	for _, n := range next {
		nextSet[n] = true
	}
	var out []string
	for _, edge := range g.Edges(from) {
		if nextSet[edge.To] {
			out = append(out, edge.To)
		}
	}
	if condEdge, ok := g.ConditionalEdge(from); ok {
		for _, dst := range condEdge.PathMap {
			if nextSet[dst] {
				out = append(out, dst)
			}
		}
	}
	if len(out) == 0 {
		return next
	}
	return sortedUnique(out)
}

func snapshotOf(state *State) map[string]any {
	return map[string]any{
		"status":           string(state.Status),
		"current_node":     state.CurrentNode,
		"completed_nodes":  append([]string(nil), state.CompletedNodes...),
		"detected_intent":  string(state.DetectedIntent),
		"active_agent":     state.ActiveAgent,
		"response_message": state.ResponseMessage,
	}
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
