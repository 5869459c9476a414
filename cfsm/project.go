package cfsm

import (
	"fmt"
	"sort"

	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/model/cfg"
)

// Projection error codes.
const (
	ErrNondeterministicChoice = "nondeterministicChoice"
	ErrUnresolvedLabel        = "unresolvedLabel"
	ErrMalformedGraph         = "malformedGraph"
)

// ProjectionError is a per-role recoverable diagnostic; other roles still
// project when one role fails.
type ProjectionError struct {
	Role   model.Role
	Code   string
	Detail string
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection of %s failed: %s: %s", e.Role, e.Code, e.Detail)
}

// ProjectAll derives one machine per graph role. Roles that fail to project
// are omitted from the map and reported in the error slice.
func ProjectAll(g *cfg.Graph) (map[model.Role]*Machine, []error) {
	machines := make(map[model.Role]*Machine, len(g.Roles))
	var errs []error
	for _, role := range g.Roles {
		m, err := Project(g, role)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		machines[role] = m
	}
	return machines, errs
}

// Project derives the local automaton of role from the control-flow graph
// using LTS semantics: actions live on transitions, nodes irrelevant to the
// role are skipped without creating states.
func Project(g *cfg.Graph, role model.Role) (*Machine, error) {
	p := &projector{
		g:        g,
		role:     role,
		m:        &Machine{Role: role},
		recEntry: map[string]string{},
		alias:    map[string]string{},
		visited:  map[visit]bool{},
		finals:   map[string]bool{},
	}
	p.m.Initial = p.newState()
	if _, _, err := p.walk(g.Initial, p.m.Initial, ""); err != nil {
		return nil, err
	}
	if err := p.resolveContinues(); err != nil {
		return nil, err
	}
	p.normalize()
	if err := p.checkDeterminism(); err != nil {
		return nil, err
	}
	return p.m, nil
}

type visit struct {
	node  string
	state string
}

type backEdge struct {
	from   string // machine state at the continue point
	target string // recursive node the continue edge points at
}

type projector struct {
	g    *cfg.Graph
	role model.Role
	m    *Machine
	seq  int

	recEntry map[string]string
	pending  []backEdge
	alias    map[string]string
	visited  map[visit]bool
	finals   map[string]bool
}

func (p *projector) newState() string {
	id := fmt.Sprintf("s%d", p.seq)
	p.seq++
	p.m.States = append(p.m.States, id)
	return id
}

func (p *projector) resolve(state string) string {
	for {
		next, ok := p.alias[state]
		if !ok {
			return state
		}
		state = next
	}
}

// mergeStates unifies drop into keep, rewiring every transition endpoint.
func (p *projector) mergeStates(keep, drop string) {
	keep, drop = p.resolve(keep), p.resolve(drop)
	if keep == drop {
		return
	}
	for i := range p.m.Transitions {
		if p.m.Transitions[i].From == drop {
			p.m.Transitions[i].From = keep
		}
		if p.m.Transitions[i].To == drop {
			p.m.Transitions[i].To = keep
		}
	}
	if p.finals[drop] {
		delete(p.finals, drop)
		p.finals[keep] = true
	}
	p.alias[drop] = keep
}

func (p *projector) transition(from, to string, action Action) {
	p.m.Transitions = append(p.m.Transitions, Transition{From: from, To: to, Action: action})
}

// walk traverses the graph from node n with the machine currently in state s
// until it reaches the stop node (region delimiter) or flow ends. The second
// return value is false when control never falls through: the path ended in
// a continue back-edge or at the terminal node.
//
// The traversal is keyed by (node, state) pairs so that the same node reached
// through a different projection context is processed independently; a repeat
// of the same pair means a cycle that is not a continue edge.
func (p *projector) walk(n, s, stop string) (string, bool, error) {
	for {
		s = p.resolve(s)
		if stop != "" && n == stop {
			return s, true, nil
		}
		key := visit{node: n, state: s}
		if p.visited[key] {
			return "", false, &ProjectionError{
				Role:   p.role,
				Code:   ErrMalformedGraph,
				Detail: fmt.Sprintf("cycle through %s is not closed by a continue edge", n),
			}
		}
		p.visited[key] = true

		node := p.g.Node(n)
		if node == nil {
			return "", false, &ProjectionError{
				Role:   p.role,
				Code:   ErrMalformedGraph,
				Detail: fmt.Sprintf("edge references unknown node %s", n),
			}
		}
		switch node.Kind {
		case cfg.NodeTerminal:
			p.finals[s] = true
			return s, false, nil

		case cfg.NodeAction:
			s = p.applyAction(node.Action, s)

		case cfg.NodeBranch:
			next, ok, err := p.projectChoice(node, s)
			if err != nil || !ok {
				return next, ok, err
			}
			n, s = node.MergeID, next
			continue

		case cfg.NodeFork:
			next, ok, err := p.projectFork(node, s)
			if err != nil || !ok {
				return next, ok, err
			}
			n, s = p.g.Join(node.ParallelID).ID, next
			continue

		case cfg.NodeRecursive:
			p.recEntry[n] = s

		case cfg.NodeInitial, cfg.NodeMerge, cfg.NodeJoin:
			// transparent, advance below
		}

		edge, err := p.next(node)
		if err != nil {
			return "", false, err
		}
		if edge == nil {
			// dead end; the verifier reports it as a progress violation
			return s, false, nil
		}
		if edge.Kind == cfg.EdgeContinue {
			p.pending = append(p.pending, backEdge{from: s, target: edge.To})
			return s, false, nil
		}
		n = edge.To
	}
}

func (p *projector) next(node *cfg.Node) (*cfg.Edge, error) {
	edges := p.g.Outgoing(node.ID)
	if len(edges) == 0 {
		return nil, nil
	}
	if len(edges) > 1 {
		return nil, &ProjectionError{
			Role:   p.role,
			Code:   ErrMalformedGraph,
			Detail: fmt.Sprintf("%s node %s has %d outgoing edges", node.Kind, node.ID, len(edges)),
		}
	}
	return edges[0], nil
}

// applyAction emits a send or receive transition when the role takes part in
// the exchange; otherwise the action is skipped without creating a state.
// A multicast by this role becomes one pairwise send per receiver, in order.
func (p *projector) applyAction(action *cfg.MessageAction, s string) string {
	if action.Sender == p.role {
		for _, receiver := range action.Receivers {
			next := p.newState()
			p.transition(s, next, Action{Op: OpSend, Peer: receiver, Label: action.Label, Payload: action.Payload})
			s = next
		}
		return s
	}
	for _, receiver := range action.Receivers {
		if receiver == p.role {
			next := p.newState()
			p.transition(s, next, Action{Op: OpRecv, Peer: action.Sender, Label: action.Label, Payload: action.Payload})
			return next
		}
	}
	return s
}

// projectChoice walks every alternative to the shared merge node and reunites
// the arrival states. Alternatives the role does not take part in keep the
// source state and contribute a single tau into the merged state; that tau
// is deliberately left as one alternative among others so that the safety
// checker does not resolve the branch before the decider does.
func (p *projector) projectChoice(node *cfg.Node, s string) (string, bool, error) {
	var arrivals []string
	for _, edge := range p.g.Outgoing(node.ID) {
		if edge.Kind == cfg.EdgeContinue {
			p.pending = append(p.pending, backEdge{from: s, target: edge.To})
			continue
		}
		arrival, reached, err := p.walk(edge.To, s, node.MergeID)
		if err != nil {
			return "", false, err
		}
		if reached {
			arrivals = append(arrivals, arrival)
		}
	}
	if len(arrivals) == 0 {
		return s, false, nil
	}
	s = p.resolve(s)
	canonical := ""
	for _, arrival := range arrivals {
		if p.resolve(arrival) != s {
			canonical = p.resolve(arrival)
			break
		}
	}
	if canonical == "" {
		// the role takes part in no alternative; the whole choice is silent
		return s, true, nil
	}
	tauAdded := false
	for _, arrival := range arrivals {
		arrival = p.resolve(arrival)
		switch {
		case arrival == s:
			if !tauAdded {
				p.transition(s, canonical, Action{Op: OpTau})
				tauAdded = true
			}
		case arrival != canonical:
			p.mergeStates(canonical, arrival)
		}
	}
	return canonical, true, nil
}

// projectFork minimizes the fork/join region by the role's membership count:
// zero participating branches skip the region, a single one is sequenced
// inline, two or more produce local fork and join states with tau
// transitions delimiting the concurrent section.
func (p *projector) projectFork(node *cfg.Node, s string) (string, bool, error) {
	join := p.g.Join(node.ParallelID)
	if join == nil {
		return "", false, &ProjectionError{
			Role:   p.role,
			Code:   ErrMalformedGraph,
			Detail: fmt.Sprintf("fork %s has no matching join", node.ID),
		}
	}
	var participating []*cfg.Edge
	for _, edge := range p.g.Outgoing(node.ID) {
		if edge.Kind == cfg.EdgeContinue {
			continue
		}
		if p.branchInvolves(edge.To, join.ID) {
			participating = append(participating, edge)
		}
	}
	switch len(participating) {
	case 0:
		return s, true, nil
	case 1:
		arrival, reached, err := p.walk(participating[0].To, s, join.ID)
		if err != nil || !reached {
			return arrival, reached, err
		}
		return arrival, true, nil
	}

	joined := p.newState()
	for _, edge := range participating {
		entry := p.newState()
		p.transition(s, entry, Action{Op: OpTau})
		arrival, reached, err := p.walk(edge.To, entry, join.ID)
		if err != nil {
			return "", false, err
		}
		if reached {
			p.transition(p.resolve(arrival), joined, Action{Op: OpTau})
		}
	}
	return joined, true, nil
}

func (p *projector) branchInvolves(start, stop string) bool {
	for _, node := range p.g.Region(start, stop) {
		if node.Kind != cfg.NodeAction || node.Action == nil {
			continue
		}
		if node.Action.Sender == p.role {
			return true
		}
		for _, receiver := range node.Action.Receivers {
			if receiver == p.role {
				return true
			}
		}
	}
	return false
}

// resolveContinues is the second pass: every saved continue edge becomes a
// back-edge between actual states by unifying the continue-point state with
// the first real state after the recursion label.
func (p *projector) resolveContinues() error {
	for _, back := range p.pending {
		entry, ok := p.recEntry[back.target]
		if !ok {
			return &ProjectionError{
				Role:   p.role,
				Code:   ErrUnresolvedLabel,
				Detail: fmt.Sprintf("continue edge targets unvisited recursion node %s", back.target),
			}
		}
		p.mergeStates(entry, back.from)
	}
	return nil
}

// normalize resolves aliases, deduplicates transitions and rebuilds the
// state list in reachability order.
func (p *projector) normalize() {
	m := p.m
	m.Initial = p.resolve(m.Initial)

	seen := map[string]bool{}
	var transitions []Transition
	for _, t := range m.Transitions {
		t.From = p.resolve(t.From)
		t.To = p.resolve(t.To)
		key := t.From + "|" + t.Action.String() + "|" + t.To
		if seen[key] {
			continue
		}
		seen[key] = true
		transitions = append(transitions, t)
	}
	m.Transitions = transitions
	m.out = nil

	reachable := map[string]bool{m.Initial: true}
	order := []string{m.Initial}
	for i := 0; i < len(order); i++ {
		for _, t := range m.Transitions {
			if t.From == order[i] && !reachable[t.To] {
				reachable[t.To] = true
				order = append(order, t.To)
			}
		}
	}
	m.States = order

	var finals []string
	for state := range p.finals {
		state = p.resolve(state)
		if reachable[state] {
			finals = append(finals, state)
		}
	}
	sort.Strings(finals)
	m.Finals = dedupeStrings(finals)
}

// checkDeterminism enforces the external-choice invariant: alternatives a
// role reacts to must be distinguishable by label, so two receive
// transitions from the same peer with the same label may not diverge.
func (p *projector) checkDeterminism() error {
	for _, state := range p.m.States {
		targets := map[string]string{}
		for _, t := range p.m.Outgoing(state) {
			if t.Action.Op != OpRecv {
				continue
			}
			key := string(t.Action.Peer) + "?" + t.Action.Label
			if prior, ok := targets[key]; ok && prior != t.To {
				return &ProjectionError{
					Role:   p.role,
					Code:   ErrNondeterministicChoice,
					Detail: fmt.Sprintf("state %s receives %s from %s on two diverging alternatives", state, t.Action.Label, t.Action.Peer),
				}
			}
			targets[key] = t.To
		}
	}
	return nil
}

func dedupeStrings(values []string) []string {
	var out []string
	for i, v := range values {
		if i > 0 && values[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
