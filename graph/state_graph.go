package graph

import (
	"fmt"
)

// StateGraph provides a fluent interface for building graphs.
// This is the primary public API for creating executable topologies.
//
// Example usage:
//
//	g, err := NewStateGraph().
//	  AddNode("intent", intentFunc).
//	  AddNode("assemble", assembleFunc).
//	  AddEdge("intent", "assemble").
//	  SetEntryPoint("intent").
//	  SetFinishPoint("assemble").
//	  Compile()
//
// The compiled Graph can then be executed with NewExecutor(g).
type StateGraph struct {
	graph *Graph
	errs  []error
}

// NewStateGraph creates a new graph builder.
func NewStateGraph() *StateGraph {
	return &StateGraph{graph: newGraph()}
}

// Option is a function that configures a Node.
type Option func(*Node)

// WithName sets the name of the node.
func WithName(name string) Option {
	return func(node *Node) {
		node.Name = name
	}
}

// WithDescription sets the description of the node.
func WithDescription(description string) Option {
	return func(node *Node) {
		node.Description = description
	}
}

// WithAgentNode marks the node as wrapping a domain agent.
func WithAgentNode() Option {
	return func(node *Node) {
		node.IsAgentNode = true
	}
}

// AddNode adds a node with the given ID and function.
func (sg *StateGraph) AddNode(id string, function NodeFunc, opts ...Option) *StateGraph {
	node := &Node{
		ID:       id,
		Name:     id,
		Function: function,
	}
	for _, opt := range opts {
		opt(node)
	}
	if err := sg.graph.addNode(node); err != nil {
		sg.errs = append(sg.errs, err)
	}
	return sg
}

// AddEdge adds a normal edge between two nodes.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if err := sg.graph.addEdge(&Edge{From: from, To: to}); err != nil {
		sg.errs = append(sg.errs, err)
	}
	return sg
}

// AddConditionalEdges adds conditional routing from a node. Resolver
// outputs must be labels of pathMap; unknown outputs fall back to the
// convergence node at execution time.
func (sg *StateGraph) AddConditionalEdges(from string, condition ConditionalFunc, pathMap map[string]string) *StateGraph {
	err := sg.graph.addConditionalEdge(&ConditionalEdge{
		From:      from,
		Condition: condition,
		PathMap:   pathMap,
	})
	if err != nil {
		sg.errs = append(sg.errs, err)
	}
	return sg
}

// SetEntryPoint sets the entry point of the graph.
// This is equivalent to AddEdge(Start, nodeID).
func (sg *StateGraph) SetEntryPoint(nodeID string) *StateGraph {
	sg.graph.setEntryPoint(nodeID)
	sg.AddEdge(Start, nodeID)
	return sg
}

// SetFinishPoint adds an edge from the node to End.
// This is equivalent to AddEdge(nodeID, End).
func (sg *StateGraph) SetFinishPoint(nodeID string) *StateGraph {
	sg.AddEdge(nodeID, End)
	return sg
}

// SetConvergenceNode declares the node where parallel fan-out branches
// merge. Unknown conditional resolver outputs also route here.
func (sg *StateGraph) SetConvergenceNode(nodeID string) *StateGraph {
	sg.graph.setConvergenceNode(nodeID)
	return sg
}

// Compile validates and returns the graph for execution.
func (sg *StateGraph) Compile() (*Graph, error) {
	if len(sg.errs) > 0 {
		return nil, fmt.Errorf("invalid graph: %w", sg.errs[0])
	}
	if err := sg.graph.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return sg.graph, nil
}

// MustCompile compiles the graph or panics if invalid.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}
