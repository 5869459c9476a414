package cfg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sessionlab/chorus/model"
)

// NodeKind enumerates the control-flow node variants.
type NodeKind string

const (
	NodeInitial   NodeKind = "initial"
	NodeTerminal  NodeKind = "terminal"
	NodeAction    NodeKind = "action"
	NodeBranch    NodeKind = "branch"
	NodeMerge     NodeKind = "merge"
	NodeFork      NodeKind = "fork"
	NodeJoin      NodeKind = "join"
	NodeRecursive NodeKind = "recursive"
)

// EdgeKind enumerates the control-flow edge variants. Continue edges are
// back-edges targeting a recursive node; they are the only legal cycles.
type EdgeKind string

const (
	EdgeSequence EdgeKind = "sequence"
	EdgeMessage  EdgeKind = "message"
	EdgeBranch   EdgeKind = "branch"
	EdgeFork     EdgeKind = "fork"
	EdgeContinue EdgeKind = "continue"
	EdgeEpsilon  EdgeKind = "epsilon"
)

// MessageAction describes a single global message exchange.
type MessageAction struct {
	Label     string
	Payload   []string
	Sender    model.Role
	Receivers []model.Role
}

func (a *MessageAction) String() string {
	if a == nil {
		return ""
	}
	to := make([]string, len(a.Receivers))
	for i, r := range a.Receivers {
		to[i] = string(r)
	}
	payload := ""
	if len(a.Payload) > 0 {
		payload = "(" + strings.Join(a.Payload, ", ") + ")"
	}
	return fmt.Sprintf("%s -> %s : %s%s", a.Sender, strings.Join(to, ", "), a.Label, payload)
}

// Node is a control-flow node. Exactly the fields relevant to Kind are set:
// Action for action nodes, Decider and MergeID for branch nodes, ParallelID
// for fork/join pairs, Label for recursive nodes.
type Node struct {
	ID   string
	Kind NodeKind

	Action     *MessageAction
	Decider    model.Role
	MergeID    string
	ParallelID string
	Label      string
}

// Edge connects two nodes. Message edges carry the action of the target
// action node for convenience.
type Edge struct {
	Kind   EdgeKind
	From   string
	To     string
	Action *MessageAction
}

// Graph is a flat arena of nodes and edges addressed by string ids. Cycles
// are ordinary data; no node owns another.
type Graph struct {
	Roles   []model.Role
	Initial string

	nodes map[string]*Node
	edges []*Edge
	out   map[string][]*Edge
	in    map[string][]*Edge
	seq   int
}

// NewGraph creates an empty graph for the supplied role list.
func NewGraph(roles ...model.Role) *Graph {
	return &Graph{
		Roles: roles,
		nodes: make(map[string]*Node),
		out:   make(map[string][]*Edge),
		in:    make(map[string][]*Edge),
	}
}

// AddNode allocates a node of the given kind with a fresh id.
func (g *Graph) AddNode(kind NodeKind) *Node {
	g.seq++
	node := &Node{ID: fmt.Sprintf("%s%d", kind, g.seq), Kind: kind}
	g.nodes[node.ID] = node
	return node
}

// AddEdge connects from to to with the given kind.
func (g *Graph) AddEdge(kind EdgeKind, from, to string) *Edge {
	edge := &Edge{Kind: kind, From: from, To: to}
	if target := g.nodes[to]; target != nil && target.Kind == NodeAction {
		edge.Action = target.Action
	}
	g.edges = append(g.edges, edge)
	g.out[from] = append(g.out[from], edge)
	g.in[to] = append(g.in[to], edge)
	return edge
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all nodes in deterministic id order.
func (g *Graph) Nodes() []*Node {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = g.nodes[id]
	}
	return nodes
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// Outgoing returns the edges leaving node id in insertion order.
func (g *Graph) Outgoing(id string) []*Edge {
	return g.out[id]
}

// Incoming returns the edges entering node id in insertion order.
func (g *Graph) Incoming(id string) []*Edge {
	return g.in[id]
}

// NodesOf returns the nodes of the given kind in deterministic order.
func (g *Graph) NodesOf(kind NodeKind) []*Node {
	var nodes []*Node
	for _, node := range g.Nodes() {
		if node.Kind == kind {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// Join returns the join node matching the supplied parallel id, or nil.
func (g *Graph) Join(parallelID string) *Node {
	for _, node := range g.Nodes() {
		if node.Kind == NodeJoin && node.ParallelID == parallelID {
			return node
		}
	}
	return nil
}

// Region collects the nodes reachable from node id without traversing
// continue edges, stopping before the stop node. With an empty stop the walk
// covers everything forward-reachable.
func (g *Graph) Region(id string, stop string) []*Node {
	var nodes []*Node
	visited := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] || (stop != "" && current == stop) {
			continue
		}
		visited[current] = true
		if node := g.nodes[current]; node != nil {
			nodes = append(nodes, node)
		}
		for _, edge := range g.out[current] {
			if edge.Kind == EdgeContinue {
				continue
			}
			stack = append(stack, edge.To)
		}
	}
	return nodes
}

// Reaches reports whether target is reachable from id without traversing
// continue edges.
func (g *Graph) Reaches(id, target string) bool {
	visited := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == target {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, edge := range g.out[current] {
			if edge.Kind == EdgeContinue {
				continue
			}
			stack = append(stack, edge.To)
		}
	}
	return false
}

// Dump renders the graph as deterministic text, one edge per line.
func (g *Graph) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "graph roles=%v initial=%s\n", g.Roles, g.Initial)
	lines := make([]string, 0, len(g.edges))
	for _, edge := range g.edges {
		line := fmt.Sprintf("  %s -[%s]-> %s", edge.From, edge.Kind, edge.To)
		if edge.Action != nil {
			line += "  " + edge.Action.String()
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
