package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/log"
)

// GraphStatus describes the currently compiled topology.
type GraphStatus struct {
	Nodes         []string  `json:"nodes"`
	Edges         int       `json:"edges"`
	EnabledAgents []string  `json:"enabled_agents"`
	Version       int       `json:"version"`
	BuiltAt       time.Time `json:"built_at"`
}

// Builder compiles the orchestration topology from the agent registry.
// Rebuilds are atomic: in-flight executions keep their reference to the
// previous graph, new turns pick up the fresh one.
type Builder struct {
	nodes    *Nodes
	registry *agent.Registry

	mu      sync.RWMutex
	graph   *graph.Graph
	version int
	builtAt time.Time
}

// NewBuilder creates a builder and compiles the initial graph.
func NewBuilder(nodes *Nodes, registry *agent.Registry) (*Builder, error) {
	b := &Builder{nodes: nodes, registry: registry}
	if err := b.Rebuild(); err != nil {
		return nil, err
	}
	return b, nil
}

// Graph returns the currently compiled graph.
func (b *Builder) Graph() *graph.Graph {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.graph
}

// Rebuild recompiles the topology from the current registry snapshot.
func (b *Builder) Rebuild() error {
	g, err := buildGraph(b.nodes, b.registry.EnabledAgents())
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.graph = g
	b.version++
	b.builtAt = time.Now().UTC()
	version := b.version
	b.mu.Unlock()
	log.Infof("orchestrator: graph rebuilt, version %d", version)
	return nil
}

// Status reports the compiled topology.
func (b *Builder) Status() GraphStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nodes := b.graph.Nodes()
	sort.Strings(nodes)
	return GraphStatus{
		Nodes:         nodes,
		Edges:         b.graph.EdgeCount(),
		EnabledAgents: b.registry.EnabledAgents(),
		Version:       b.version,
		BuiltAt:       b.builtAt,
	}
}

// BuildStaticGraph compiles the topology with the full built-in agent
// set, ignoring registry enablement. Used by tests and as a reference
// shape; production wiring goes through the Builder.
func BuildStaticGraph(nodes *Nodes) (*graph.Graph, error) {
	return buildGraph(nodes, []string{
		agent.NameDatab, agent.NameGus, agent.NameDesktop, agent.NameElCajas,
		agent.NameAlertas, agent.NameAgenteG, agent.NameSummary,
		agent.NameBranch, agent.NameAnomaly,
	})
}

// buildGraph wires the standard shape around the given agent set:
//
//	start -> intent -> react -> reasoning -> supervisor -> loop_controller
//	loop_controller --cond--> {router, assemble}
//	router --cond--> {agents..., assemble}
//	capi_datab --cond--> {capi_elcajas, capi_alertas, capi_desktop, human_gate}
//	capi_elcajas --cond--> {capi_alertas, capi_gus, human_gate}
//	capi_alertas --cond--> {capi_desktop, human_gate, assemble}
//	other agents -> human_gate
//	human_gate -> assemble -> finalize -> END
func buildGraph(n *Nodes, agentNames []string) (*graph.Graph, error) {
	present := make(map[string]bool, len(agentNames))
	for _, name := range agentNames {
		present[name] = true
	}

	sg := graph.NewStateGraph().
		AddNode(NodeStart, n.Start).
		AddNode(NodeIntent, n.Intent).
		AddNode(NodeReact, n.React).
		AddNode(NodeReasoning, n.Reasoning).
		AddNode(NodeSupervisor, n.Supervisor).
		AddNode(NodeLoopController, n.LoopController).
		AddNode(NodeRouter, n.Router).
		AddNode(NodeHumanGate, n.HumanGate).
		AddNode(NodeAssemble, n.Assemble).
		AddNode(NodeFinalize, n.Finalize).
		AddEdge(NodeStart, NodeIntent).
		AddEdge(NodeIntent, NodeReact).
		AddEdge(NodeReact, NodeReasoning).
		AddEdge(NodeReasoning, NodeSupervisor).
		AddEdge(NodeSupervisor, NodeLoopController).
		AddConditionalEdges(NodeLoopController, n.LoopResolver, map[string]string{
			NodeRouter:   NodeRouter,
			NodeAssemble: NodeAssemble,
		}).
		AddEdge(NodeHumanGate, NodeAssemble).
		AddEdge(NodeAssemble, NodeFinalize).
		SetEntryPoint(NodeStart).
		SetFinishPoint(NodeFinalize).
		SetConvergenceNode(NodeAssemble)

	routerPaths := map[string]string{NodeAssemble: NodeAssemble}
	for _, name := range agentNames {
		sg.AddNode(name, n.AgentNode(name), graph.WithAgentNode())
		routerPaths[name] = name
	}
	sg.AddConditionalEdges(NodeRouter, n.RouterResolver, routerPaths)

	for _, name := range agentNames {
		switch name {
		case agent.NameDatab:
			sg.AddConditionalEdges(name, n.DatabResolver, filterPaths(present,
				agent.NameElCajas, agent.NameAlertas, agent.NameDesktop, NodeHumanGate, NodeAssemble))
		case agent.NameElCajas:
			sg.AddConditionalEdges(name, n.ElCajasResolver, filterPaths(present,
				agent.NameAlertas, agent.NameGus, NodeHumanGate))
		case agent.NameAlertas:
			sg.AddConditionalEdges(name, n.AlertasResolver, filterPaths(present,
				agent.NameDesktop, NodeHumanGate, NodeAssemble))
		default:
			sg.AddEdge(name, NodeHumanGate)
		}
	}

	g, err := sg.Compile()
	if err != nil {
		return nil, fmt.Errorf("build orchestration graph: %w", err)
	}
	return g, nil
}

// filterPaths keeps only targets that exist in the compiled graph. The
// infrastructure nodes are always present.
func filterPaths(present map[string]bool, targets ...string) map[string]string {
	paths := make(map[string]string, len(targets))
	for _, t := range targets {
		if t == NodeHumanGate || t == NodeAssemble || present[t] {
			paths[t] = t
		}
	}
	return paths
}
