// Package graph provides the graph-based orchestration runtime: a typed
// conversation state, a fluent topology builder, durable checkpointing and
// a step-driven executor with interrupts and parallel fan-out.
package graph

import (
	"context"
	"fmt"
	"sync"
)

// Virtual node names used by every topology.
const (
	// Start is the virtual entry node.
	Start = "__start__"
	// End is the virtual terminal node.
	End = "__end__"
)

// NodeFunc transforms a state snapshot into a new one. Implementations
// receive a clone and must not retain references to it after returning.
type NodeFunc func(ctx context.Context, state *State) (*State, error)

// ConditionalFunc resolves the successor node(s) for a conditional edge.
// Returning more than one name requests parallel fan-out.
type ConditionalFunc func(ctx context.Context, state *State) ([]string, error)

// Node is a processing unit in the graph.
type Node struct {
	// ID is the unique identifier of the node.
	ID string
	// Name is the human-readable name of the node.
	Name string
	// Description is the description of the node.
	Description string
	// Function is executed when the node runs.
	Function NodeFunc
	// IsAgentNode marks nodes that wrap a domain agent; the executor
	// emits agent_start/agent_end events around them.
	IsAgentNode bool

	interruptBefore bool
}

// Edge is an unconditional arc between two nodes.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from a node through a resolver function. The
// resolver's return values must appear in PathMap; unknown names fall
// back to the graph's convergence node.
type ConditionalEdge struct {
	From      string
	Condition ConditionalFunc
	// PathMap maps resolver outputs to destination node IDs.
	PathMap map[string]string
}

// Graph is a compiled directed topology. It is immutable after Compile;
// in-flight executions hold a reference and remain valid across rebuilds.
type Graph struct {
	nodes            map[string]*Node
	edges            map[string][]*Edge
	conditionalEdges map[string]*ConditionalEdge
	entryPoint       string
	convergenceNode  string

	mu sync.RWMutex
}

// newGraph creates an empty graph.
func newGraph() *Graph {
	return &Graph{
		nodes:            make(map[string]*Node),
		edges:            make(map[string][]*Edge),
		conditionalEdges: make(map[string]*ConditionalEdge),
	}
}

func (g *Graph) addNode(node *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node.ID == "" {
		return ErrEmptyNodeID
	}
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("node with ID %s already exists", node.ID)
	}
	g.nodes[node.ID] = node
	return nil
}

func (g *Graph) addEdge(edge *Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if edge.From == "" || edge.To == "" {
		return fmt.Errorf("edge from and to cannot be empty")
	}
	g.edges[edge.From] = append(g.edges[edge.From], edge)
	return nil
}

func (g *Graph) addConditionalEdge(edge *ConditionalEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if edge.From == "" {
		return fmt.Errorf("conditional edge from cannot be empty")
	}
	if edge.Condition == nil {
		return fmt.Errorf("conditional edge from %s has no condition", edge.From)
	}
	g.conditionalEdges[edge.From] = edge
	return nil
}

func (g *Graph) setEntryPoint(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entryPoint = nodeID
}

func (g *Graph) setConvergenceNode(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.convergenceNode = nodeID
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	return node, ok
}

// Nodes returns the IDs of all registered nodes.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	return out
}

// Edges returns all unconditional edges from a node.
func (g *Graph) Edges(nodeID string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[nodeID]
}

// EdgeCount returns the total number of edges, conditional ones included.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := len(g.conditionalEdges)
	for _, edges := range g.edges {
		n += len(edges)
	}
	return n
}

// ConditionalEdge returns the conditional edge leaving a node, if any.
func (g *Graph) ConditionalEdge(nodeID string) (*ConditionalEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edge, ok := g.conditionalEdges[nodeID]
	return edge, ok
}

// EntryPoint returns the entry node ID.
func (g *Graph) EntryPoint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryPoint
}

// ConvergenceNode returns the node where fan-out branches merge and
// where unknown resolver outputs fall back to.
func (g *Graph) ConvergenceNode() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.convergenceNode
}

// validate checks structural integrity before compilation.
func (g *Graph) validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.entryPoint == "" {
		return fmt.Errorf("graph must have an entry point")
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("entry point %s does not exist", g.entryPoint)
	}
	for from, edges := range g.edges {
		if from != Start {
			if _, ok := g.nodes[from]; !ok {
				return fmt.Errorf("edge source node %s does not exist", from)
			}
		}
		for _, edge := range edges {
			if edge.To == End {
				continue
			}
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge target node %s does not exist", edge.To)
			}
		}
	}
	for from, edge := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("conditional edge source node %s does not exist", from)
		}
		for label, to := range edge.PathMap {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return fmt.Errorf("conditional edge %s path %q targets missing node %s", from, label, to)
			}
		}
	}
	if g.convergenceNode != "" {
		if _, ok := g.nodes[g.convergenceNode]; !ok {
			return fmt.Errorf("convergence node %s does not exist", g.convergenceNode)
		}
	}
	return nil
}
