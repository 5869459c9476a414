package verifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/model/cfg"
	"github.com/sessionlab/chorus/policy"
	"github.com/sessionlab/chorus/progress"
)

// Severity distinguishes hard defects from advisory findings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding categories. A policy attached to the context can disable
// categories by name.
const (
	CategoryDeadlockCycle    = "deadlockCycle"
	CategoryProgress         = "progress"
	CategoryLiveness         = "liveness"
	CategoryForkJoin         = "forkJoinMismatch"
	CategoryParallelConflict = "parallelConflict"
	CategoryRace             = "raceWarning"
)

// Finding is a single non-fatal verification diagnostic.
type Finding struct {
	Category string
	Severity Severity
	Message  string
	Nodes    []string
	Role     model.Role
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s/%s] %s", f.Category, f.Severity, f.Message)
}

// Report aggregates all findings of a verification run. Every check runs to
// completion; findings never short-circuit one another.
type Report struct {
	DeadlockCycles    []Finding
	Progress          []Finding
	Liveness          []Finding
	ForkJoin          []Finding
	ParallelConflicts []Finding
	Races             []Finding
}

// Findings returns all findings in report order.
func (r *Report) Findings() []Finding {
	var all []Finding
	all = append(all, r.DeadlockCycles...)
	all = append(all, r.Progress...)
	all = append(all, r.Liveness...)
	all = append(all, r.ForkJoin...)
	all = append(all, r.ParallelConflicts...)
	all = append(all, r.Races...)
	return all
}

// HasErrors reports whether any finding carries error severity.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings() {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Verify runs every static analysis over the graph and collects the
// findings. The graph is read-only; concurrent verification of independent
// graphs is safe.
func Verify(ctx context.Context, g *cfg.Graph) *Report {
	v := &verifier{g: g, gate: policy.FromContext(ctx)}
	report := &Report{}
	report.DeadlockCycles = v.run(CategoryDeadlockCycle, v.deadlockCycles)
	report.Progress = v.run(CategoryProgress, v.progressViolations)
	report.Liveness = v.run(CategoryLiveness, v.liveness)
	report.ForkJoin = v.run(CategoryForkJoin, v.forkJoin)
	report.ParallelConflicts = v.run(CategoryParallelConflict, v.parallelConflicts)
	report.Races = v.run(CategoryRace, v.races)
	progress.UpdateCtx(ctx, progress.Delta{Findings: len(report.Findings())})
	return report
}

type verifier struct {
	g    *cfg.Graph
	gate *policy.Policy
}

func (v *verifier) run(category string, check func() []Finding) []Finding {
	if !v.gate.IsEnabled(category) {
		return nil
	}
	return check()
}

// deadlockCycles finds strongly connected components with a cycle that is
// not closed purely by continue edges. A recursion loop is a cycle by
// construction and must not be reported.
func (v *verifier) deadlockCycles() []Finding {
	var findings []Finding
	for _, component := range stronglyConnected(v.g, nil) {
		if !hasCycle(v.g, component, false) {
			continue
		}
		// re-run on the component with continue edges removed; a surviving
		// cycle cannot be explained by recursion
		members := map[string]bool{}
		for _, id := range component {
			members[id] = true
		}
		deadlock := false
		for _, sub := range stronglyConnected(v.g, func(e *cfg.Edge) bool {
			return e.Kind != cfg.EdgeContinue && members[e.From] && members[e.To]
		}) {
			if members[sub[0]] && hasCycle(v.g, sub, true) {
				deadlock = true
				break
			}
		}
		if deadlock {
			sort.Strings(component)
			findings = append(findings, Finding{
				Category: CategoryDeadlockCycle,
				Severity: SeverityError,
				Message:  fmt.Sprintf("nodes {%s} form a cycle with no continue edge", strings.Join(component, ", ")),
				Nodes:    component,
			})
		}
	}
	return findings
}

// progressViolations reports non-terminal nodes with no way forward.
func (v *verifier) progressViolations() []Finding {
	var findings []Finding
	for _, node := range v.g.Nodes() {
		if node.Kind == cfg.NodeTerminal {
			continue
		}
		if len(v.g.Outgoing(node.ID)) == 0 {
			findings = append(findings, Finding{
				Category: CategoryProgress,
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %s (%s) has no outgoing edge", node.ID, node.Kind),
				Nodes:    []string{node.ID},
			})
		}
	}
	return findings
}

// liveness warns when no terminal node is reachable from the initial node.
// An unbounded server loop is a legitimate design, hence warning severity.
func (v *verifier) liveness() []Finding {
	visited := map[string]bool{}
	stack := []string{v.g.Initial}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		if node := v.g.Node(current); node != nil && node.Kind == cfg.NodeTerminal {
			return nil
		}
		for _, edge := range v.g.Outgoing(current) {
			stack = append(stack, edge.To)
		}
	}
	return []Finding{{
		Category: CategoryLiveness,
		Severity: SeverityWarning,
		Message:  "no terminal node is reachable from the initial node",
		Nodes:    []string{v.g.Initial},
	}}
}

// forkJoin checks that every fork has exactly one join with its parallel id
// and that every launched branch reaches that join.
func (v *verifier) forkJoin() []Finding {
	var findings []Finding
	for _, fork := range v.g.NodesOf(cfg.NodeFork) {
		var joins []*cfg.Node
		for _, join := range v.g.NodesOf(cfg.NodeJoin) {
			if join.ParallelID == fork.ParallelID {
				joins = append(joins, join)
			}
		}
		if len(joins) != 1 {
			findings = append(findings, Finding{
				Category: CategoryForkJoin,
				Severity: SeverityError,
				Message:  fmt.Sprintf("fork %s has %d matching joins, expected exactly one", fork.ID, len(joins)),
				Nodes:    []string{fork.ID},
			})
			continue
		}
		join := joins[0]
		for _, edge := range v.g.Outgoing(fork.ID) {
			if edge.Kind == cfg.EdgeContinue {
				continue
			}
			if !v.g.Reaches(edge.To, join.ID) {
				findings = append(findings, Finding{
					Category: CategoryForkJoin,
					Severity: SeverityError,
					Message:  fmt.Sprintf("fork %s branch starting at %s never reaches join %s", fork.ID, edge.To, join.ID),
					Nodes:    []string{fork.ID, edge.To, join.ID},
				})
			}
		}
	}
	return findings
}

// parallelConflicts flags a role sending in two or more branches of the same
// fork: a role cannot perform concurrent blocking sends. Receiving in
// several branches is modelled as buffering and stays silent.
func (v *verifier) parallelConflicts() []Finding {
	var findings []Finding
	for _, fork := range v.g.NodesOf(cfg.NodeFork) {
		branchSenders := v.perBranch(fork, func(a *cfg.MessageAction) []string {
			return []string{string(a.Sender)}
		})
		for sender, branches := range branchSenders {
			if len(branches) < 2 {
				continue
			}
			findings = append(findings, Finding{
				Category: CategoryParallelConflict,
				Severity: SeverityError,
				Message:  fmt.Sprintf("role %s sends in %d concurrent branches of fork %s", sender, len(branches), fork.ID),
				Nodes:    []string{fork.ID},
				Role:     model.Role(sender),
			})
		}
	}
	sortFindings(findings)
	return findings
}

// races flags the same (sender, receiver, label) triple in two or more
// branches of one fork: the receiver cannot tell which logical message
// arrived.
func (v *verifier) races() []Finding {
	var findings []Finding
	for _, fork := range v.g.NodesOf(cfg.NodeFork) {
		branchTriples := v.perBranch(fork, func(a *cfg.MessageAction) []string {
			triples := make([]string, 0, len(a.Receivers))
			for _, receiver := range a.Receivers {
				triples = append(triples, fmt.Sprintf("%s->%s:%s", a.Sender, receiver, a.Label))
			}
			return triples
		})
		for triple, branches := range branchTriples {
			if len(branches) < 2 {
				continue
			}
			findings = append(findings, Finding{
				Category: CategoryRace,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("message %s appears in %d concurrent branches of fork %s; interleaving is ambiguous", triple, len(branches), fork.ID),
				Nodes:    []string{fork.ID},
			})
		}
	}
	sortFindings(findings)
	return findings
}

// perBranch collects keys per fork branch and returns, for every key, the
// set of branch indices it occurred in.
func (v *verifier) perBranch(fork *cfg.Node, keys func(*cfg.MessageAction) []string) map[string]map[int]bool {
	join := v.g.Join(fork.ParallelID)
	stop := ""
	if join != nil {
		stop = join.ID
	}
	occurrences := map[string]map[int]bool{}
	for index, edge := range v.g.Outgoing(fork.ID) {
		if edge.Kind == cfg.EdgeContinue {
			continue
		}
		for _, node := range v.g.Region(edge.To, stop) {
			if node.Kind != cfg.NodeAction || node.Action == nil {
				continue
			}
			for _, key := range keys(node.Action) {
				if occurrences[key] == nil {
					occurrences[key] = map[int]bool{}
				}
				occurrences[key][index] = true
			}
		}
	}
	return occurrences
}

func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		return findings[i].Message < findings[j].Message
	})
}

// stronglyConnected computes the graph's SCCs with an iterative Tarjan walk.
// The optional filter restricts which edges are followed.
func stronglyConnected(g *cfg.Graph, filter func(*cfg.Edge) bool) [][]string {
	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var components [][]string

	type frame struct {
		node string
		edge int
	}

	edgesOf := func(id string) []*cfg.Edge {
		var edges []*cfg.Edge
		for _, e := range g.Outgoing(id) {
			if filter == nil || filter(e) {
				edges = append(edges, e)
			}
		}
		return edges
	}

	var visit func(root string)
	visit = func(root string) {
		frames := []frame{{node: root}}
		indices[root] = index
		lowlink[root] = index
		index++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			top := &frames[len(frames)-1]
			edges := edgesOf(top.node)
			if top.edge < len(edges) {
				next := edges[top.edge].To
				top.edge++
				if _, seen := indices[next]; !seen {
					indices[next] = index
					lowlink[next] = index
					index++
					stack = append(stack, next)
					onStack[next] = true
					frames = append(frames, frame{node: next})
				} else if onStack[next] {
					if indices[next] < lowlink[top.node] {
						lowlink[top.node] = indices[next]
					}
				}
				continue
			}
			if lowlink[top.node] == indices[top.node] {
				var component []string
				for {
					last := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[last] = false
					component = append(component, last)
					if last == top.node {
						break
					}
				}
				components = append(components, component)
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[top.node] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[top.node]
				}
			}
		}
	}

	for _, node := range g.Nodes() {
		if _, seen := indices[node.ID]; !seen {
			visit(node.ID)
		}
	}
	return components
}

// hasCycle reports whether the component contains a cycle: more than one
// member, or a self-loop. When skipContinue is set, continue edges do not
// count towards self-loops.
func hasCycle(g *cfg.Graph, component []string, skipContinue bool) bool {
	if len(component) > 1 {
		return true
	}
	id := component[0]
	for _, edge := range g.Outgoing(id) {
		if skipContinue && edge.Kind == cfg.EdgeContinue {
			continue
		}
		if edge.To == id {
			return true
		}
	}
	return false
}
