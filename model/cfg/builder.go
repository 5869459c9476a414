package cfg

import (
	"fmt"

	"github.com/sessionlab/chorus/model"
)

// Structural error codes raised during CFG construction.
const (
	ErrArityMismatch       = "arityMismatch"
	ErrRoleAliasing        = "roleAliasing"
	ErrRoleOutOfScope      = "roleOutOfScope"
	ErrUnknownLabel        = "unknownLabel"
	ErrUnreachableCode     = "unreachableAfterContinue"
	ErrUnknownProtocol     = "unknownProtocol"
	ErrRecursiveInvocation = "recursiveInvocation"
)

// StructuralError is a fatal construction diagnostic. A graph flagged with a
// structural error must not be passed on to projection or verification.
type StructuralError struct {
	Code     string
	Protocol string
	Role     model.Role
	Label    string
	Detail   string
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Detail)
	if e.Protocol != "" {
		msg = fmt.Sprintf("protocol %s: %s", e.Protocol, msg)
	}
	return msg
}

type recursionEnv map[string]string

// extend returns a copy of the environment with label bound to node. The
// receiver is never mutated so sibling scopes reusing a label cannot
// interfere.
func (e recursionEnv) extend(label, node string) recursionEnv {
	extended := make(recursionEnv, len(e)+1)
	for k, v := range e {
		extended[k] = v
	}
	extended[label] = node
	return extended
}

type resolver func(name string) (*model.Protocol, bool)

// Builder turns protocol interaction trees into control-flow graphs.
// Subprotocol invocations are resolved against the protocol's own
// subprotocol list first and the optional shared registry second.
type Builder struct {
	registry  *model.Registry
	fragments map[*model.Protocol]*Graph
	building  map[*model.Protocol]bool
}

// NewBuilder creates a builder. The registry may be nil.
func NewBuilder(registry *model.Registry) *Builder {
	return &Builder{
		registry:  registry,
		fragments: make(map[*model.Protocol]*Graph),
		building:  make(map[*model.Protocol]bool),
	}
}

// Build constructs the control-flow graph of the supplied protocol.
func (b *Builder) Build(p *model.Protocol) (*Graph, error) {
	if issues := p.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	return b.build(p, b.resolverFor(p, nil))
}

func (b *Builder) resolverFor(p *model.Protocol, outer resolver) resolver {
	return func(name string) (*model.Protocol, bool) {
		for _, sub := range p.Subprotocols {
			if sub.Name == name {
				return sub, true
			}
		}
		if outer != nil {
			return outer(name)
		}
		if b.registry != nil {
			return b.registry.Lookup(name)
		}
		return nil, false
	}
}

func (b *Builder) build(p *model.Protocol, resolve resolver) (*Graph, error) {
	g := NewGraph(p.Roles...)
	initial := g.AddNode(NodeInitial)
	g.Initial = initial.ID

	exit, err := b.construct(g, p, resolve, p.Body, initial.ID, EdgeSequence, recursionEnv{})
	if err != nil {
		return nil, err
	}
	terminal := g.AddNode(NodeTerminal)
	if exit != "" {
		g.AddEdge(EdgeSequence, exit, terminal.ID)
	}
	return g, nil
}

// construct wires node between entry and the returned exit, recursively per
// interaction kind. An empty exit means control does not fall through (the
// subtree ended in continue on every path).
func (b *Builder) construct(g *Graph, p *model.Protocol, resolve resolver, node *model.Interaction, entry string, entryKind EdgeKind, env recursionEnv) (string, error) {
	switch node.Kind {
	case model.KindMessage:
		action := g.AddNode(NodeAction)
		action.Action = &MessageAction{
			Label:     node.Label,
			Payload:   append([]string(nil), node.Payload...),
			Sender:    node.From,
			Receivers: append([]model.Role(nil), node.To...),
		}
		kind := entryKind
		if kind == EdgeSequence {
			kind = EdgeMessage
		}
		g.AddEdge(kind, entry, action.ID)
		return action.ID, nil

	case model.KindSequence:
		exit := entry
		kind := entryKind
		for _, step := range node.Steps {
			if exit == "" {
				return "", &StructuralError{
					Code:     ErrUnreachableCode,
					Protocol: p.Name,
					Detail:   "statement is unreachable after continue",
				}
			}
			var err error
			exit, err = b.construct(g, p, resolve, step, exit, kind, env)
			if err != nil {
				return "", err
			}
			kind = EdgeSequence
		}
		return exit, nil

	case model.KindChoice:
		branch := g.AddNode(NodeBranch)
		branch.Decider = node.At
		g.AddEdge(entryKind, entry, branch.ID)
		merge := ""
		for _, alternative := range node.Branches {
			exit, err := b.construct(g, p, resolve, alternative, branch.ID, EdgeBranch, env)
			if err != nil {
				return "", err
			}
			if exit == "" {
				continue
			}
			if merge == "" {
				mergeNode := g.AddNode(NodeMerge)
				merge = mergeNode.ID
				branch.MergeID = merge
			}
			g.AddEdge(EdgeEpsilon, exit, merge)
		}
		return merge, nil

	case model.KindRecursion:
		rec := g.AddNode(NodeRecursive)
		rec.Label = node.Loop
		g.AddEdge(entryKind, entry, rec.ID)
		return b.construct(g, p, resolve, node.Body, rec.ID, EdgeSequence, env.extend(node.Loop, rec.ID))

	case model.KindContinue:
		target, ok := env[node.Loop]
		if !ok {
			return "", &StructuralError{
				Code:     ErrUnknownLabel,
				Protocol: p.Name,
				Label:    node.Loop,
				Detail:   fmt.Sprintf("continue %s has no enclosing recursion", node.Loop),
			}
		}
		g.AddEdge(EdgeContinue, entry, target)
		return "", nil

	case model.KindParallel:
		fork := g.AddNode(NodeFork)
		fork.ParallelID = fork.ID
		join := g.AddNode(NodeJoin)
		join.ParallelID = fork.ID
		g.AddEdge(entryKind, entry, fork.ID)
		for _, alternative := range node.Branches {
			exit, err := b.construct(g, p, resolve, alternative, fork.ID, EdgeFork, env)
			if err != nil {
				return "", err
			}
			if exit != "" {
				g.AddEdge(EdgeEpsilon, exit, join.ID)
			}
		}
		return join.ID, nil

	case model.KindInvocation:
		return b.invoke(g, p, resolve, node, entry, entryKind)

	default:
		return "", fmt.Errorf("unknown interaction kind %q", node.Kind)
	}
}

func (b *Builder) invoke(g *Graph, p *model.Protocol, resolve resolver, node *model.Interaction, entry string, entryKind EdgeKind) (string, error) {
	sub, ok := resolve(node.Protocol)
	if !ok {
		return "", &StructuralError{
			Code:     ErrUnknownProtocol,
			Protocol: p.Name,
			Detail:   fmt.Sprintf("do references unknown protocol %s", node.Protocol),
		}
	}
	if len(node.Args) != len(sub.Roles) {
		return "", &StructuralError{
			Code:     ErrArityMismatch,
			Protocol: p.Name,
			Detail:   fmt.Sprintf("do %s passes %d roles, %d expected", sub.Name, len(node.Args), len(sub.Roles)),
		}
	}
	seen := map[model.Role]bool{}
	scope := map[model.Role]bool{}
	for _, role := range p.Roles {
		scope[role] = true
	}
	for _, arg := range node.Args {
		if seen[arg] {
			return "", &StructuralError{
				Code:     ErrRoleAliasing,
				Protocol: p.Name,
				Role:     arg,
				Detail:   fmt.Sprintf("do %s passes role %s more than once", sub.Name, arg),
			}
		}
		seen[arg] = true
		if !scope[arg] {
			return "", &StructuralError{
				Code:     ErrRoleOutOfScope,
				Protocol: p.Name,
				Role:     arg,
				Detail:   fmt.Sprintf("do %s passes role %s which is not in scope", sub.Name, arg),
			}
		}
	}

	fragment, err := b.fragment(sub, resolve)
	if err != nil {
		return "", err
	}
	substitution := make(map[model.Role]model.Role, len(sub.Roles))
	for i, formal := range sub.Roles {
		substitution[formal] = node.Args[i]
	}
	return b.splice(g, fragment, substitution, entry, entryKind), nil
}

// fragment builds (once) the invoked protocol's own CFG. Direct or indirect
// self-invocation cannot be inlined and is rejected.
func (b *Builder) fragment(sub *model.Protocol, outer resolver) (*Graph, error) {
	if cached, ok := b.fragments[sub]; ok {
		return cached, nil
	}
	if b.building[sub] {
		return nil, &StructuralError{
			Code:     ErrRecursiveInvocation,
			Protocol: sub.Name,
			Detail:   fmt.Sprintf("protocol %s invokes itself; use rec/continue for loops", sub.Name),
		}
	}
	if issues := sub.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	b.building[sub] = true
	defer delete(b.building, sub)
	fragment, err := b.build(sub, b.resolverFor(sub, outer))
	if err != nil {
		return nil, err
	}
	b.fragments[sub] = fragment
	return fragment, nil
}

// splice deep-clones the fragment into g, applying the role substitution to
// every cloned node, and wires it between entry and the returned exit. The
// fragment itself is never mutated so repeated invocation sites stay
// independent.
func (b *Builder) splice(g *Graph, fragment *Graph, substitution map[model.Role]model.Role, entry string, entryKind EdgeKind) string {
	rename := func(role model.Role) model.Role {
		if actual, ok := substitution[role]; ok {
			return actual
		}
		return role
	}

	idMap := make(map[string]string, len(fragment.nodes))
	for _, node := range fragment.Nodes() {
		if node.Kind == NodeInitial || node.Kind == NodeTerminal {
			continue
		}
		clone := g.AddNode(node.Kind)
		clone.Decider = rename(node.Decider)
		clone.Label = node.Label
		if node.Action != nil {
			receivers := make([]model.Role, len(node.Action.Receivers))
			for i, r := range node.Action.Receivers {
				receivers[i] = rename(r)
			}
			clone.Action = &MessageAction{
				Label:     node.Action.Label,
				Payload:   append([]string(nil), node.Action.Payload...),
				Sender:    rename(node.Action.Sender),
				Receivers: receivers,
			}
		}
		idMap[node.ID] = clone.ID
	}
	// Pairing ids (fork/join, branch/merge) follow the cloned node ids.
	for _, node := range fragment.Nodes() {
		clone := g.nodes[idMap[node.ID]]
		if clone == nil {
			continue
		}
		if node.ParallelID != "" {
			clone.ParallelID = idMap[node.ParallelID]
		}
		if node.MergeID != "" {
			clone.MergeID = idMap[node.MergeID]
		}
	}

	exit := ""
	for _, edge := range fragment.Edges() {
		from := fragment.Node(edge.From)
		to := fragment.Node(edge.To)
		switch {
		case from.Kind == NodeInitial:
			kind := edge.Kind
			if entryKind != EdgeSequence {
				kind = entryKind
			}
			g.AddEdge(kind, entry, idMap[edge.To])
		case to.Kind == NodeTerminal:
			exit = idMap[edge.From]
		default:
			g.AddEdge(edge.Kind, idMap[edge.From], idMap[edge.To])
		}
	}
	return exit
}
