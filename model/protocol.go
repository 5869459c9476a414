package model

import (
	"fmt"
)

// Role identifies a protocol participant.
type Role string

// InteractionKind discriminates the variant of an Interaction node. The set
// is closed; every consumer switches exhaustively over these values.
type InteractionKind string

const (
	KindMessage    InteractionKind = "message"
	KindSequence   InteractionKind = "sequence"
	KindChoice     InteractionKind = "choice"
	KindRecursion  InteractionKind = "recursion"
	KindContinue   InteractionKind = "continue"
	KindParallel   InteractionKind = "parallel"
	KindInvocation InteractionKind = "do"
)

// Interaction is a single node of the global-protocol syntax tree. Exactly
// one variant is populated, selected by Kind:
//
//   - message:   From, To, Label, Payload
//   - sequence:  Steps
//   - choice:    At, Branches
//   - recursion: Loop, Body
//   - continue:  Loop
//   - parallel:  Branches
//   - do:        Protocol, Args
type Interaction struct {
	Kind InteractionKind `json:"kind" yaml:"kind"`

	From    Role     `json:"from,omitempty" yaml:"from,omitempty"`
	To      []Role   `json:"to,omitempty" yaml:"to,omitempty"`
	Label   string   `json:"label,omitempty" yaml:"label,omitempty"`
	Payload []string `json:"payload,omitempty" yaml:"payload,omitempty"`

	Steps []*Interaction `json:"steps,omitempty" yaml:"steps,omitempty"`

	At       Role           `json:"at,omitempty" yaml:"at,omitempty"`
	Branches []*Interaction `json:"branches,omitempty" yaml:"branches,omitempty"`

	Loop string       `json:"loop,omitempty" yaml:"loop,omitempty"`
	Body *Interaction `json:"body,omitempty" yaml:"body,omitempty"`

	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Args     []Role `json:"args,omitempty" yaml:"args,omitempty"`
}

// Protocol is a named global choreography over a fixed role list. Roles act
// as formal parameters when the protocol is invoked with `do`.
type Protocol struct {
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description of the protocol
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Roles []Role `json:"roles" yaml:"roles"`

	Body *Interaction `json:"protocol,omitempty" yaml:"protocol,omitempty"`

	// Subprotocols are definitions referenced by `do` within Body.
	Subprotocols []*Protocol `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"`
}

// NewProtocol creates a protocol with the given name and role list.
func NewProtocol(name string, roles ...Role) *Protocol {
	return &Protocol{Name: name, Roles: roles}
}

// WithDescription sets the description of the protocol
func (p *Protocol) WithDescription(description string) *Protocol {
	p.Description = description
	return p
}

// WithBody sets the protocol interaction tree
func (p *Protocol) WithBody(body *Interaction) *Protocol {
	p.Body = body
	return p
}

// AddSubprotocol registers a definition referenced by `do` in the body
func (p *Protocol) AddSubprotocol(sub *Protocol) *Protocol {
	p.Subprotocols = append(p.Subprotocols, sub)
	return p
}

// Message builds a point-to-point or multicast message interaction.
func Message(from Role, label string, to ...Role) *Interaction {
	return &Interaction{Kind: KindMessage, From: from, Label: label, To: to}
}

// WithPayload sets payload type names on a message interaction.
func (i *Interaction) WithPayload(types ...string) *Interaction {
	i.Payload = types
	return i
}

// Seq sequences the supplied interactions.
func Seq(steps ...*Interaction) *Interaction {
	return &Interaction{Kind: KindSequence, Steps: steps}
}

// ChoiceAt builds a choice decided by role at.
func ChoiceAt(at Role, branches ...*Interaction) *Interaction {
	return &Interaction{Kind: KindChoice, At: at, Branches: branches}
}

// Rec introduces a labelled recursion scope around body.
func Rec(label string, body *Interaction) *Interaction {
	return &Interaction{Kind: KindRecursion, Loop: label, Body: body}
}

// Continue jumps back to the enclosing recursion with the given label.
func Continue(label string) *Interaction {
	return &Interaction{Kind: KindContinue, Loop: label}
}

// Par composes the supplied branches in parallel.
func Par(branches ...*Interaction) *Interaction {
	return &Interaction{Kind: KindParallel, Branches: branches}
}

// Do invokes a named subprotocol with the supplied actual roles.
func Do(protocol string, args ...Role) *Interaction {
	return &Interaction{Kind: KindInvocation, Protocol: protocol, Args: args}
}

// Validate performs a best-effort structural validation of the protocol. The
// returned slice is empty when the protocol is sound; otherwise it contains
// human-readable error descriptions. Scope and recursion-label resolution
// that require the full construction environment are left to the CFG builder.
func (p *Protocol) Validate() []error {
	var issues []error
	if p.Name == "" {
		issues = append(issues, fmt.Errorf("protocol name is empty"))
	}
	if len(p.Roles) == 0 {
		issues = append(issues, fmt.Errorf("protocol %s declares no roles", p.Name))
	}
	seen := map[Role]bool{}
	for _, role := range p.Roles {
		if seen[role] {
			issues = append(issues, fmt.Errorf("protocol %s declares duplicate role %s", p.Name, role))
		}
		seen[role] = true
	}
	if p.Body == nil {
		issues = append(issues, fmt.Errorf("protocol %s has no body", p.Name))
		return issues
	}
	issues = append(issues, p.validateInteraction(p.Body, seen)...)
	for _, sub := range p.Subprotocols {
		issues = append(issues, sub.Validate()...)
	}
	return issues
}

func (p *Protocol) validateInteraction(node *Interaction, roles map[Role]bool) []error {
	var issues []error
	if node == nil {
		return []error{fmt.Errorf("protocol %s contains a nil interaction", p.Name)}
	}
	switch node.Kind {
	case KindMessage:
		if node.Label == "" {
			issues = append(issues, fmt.Errorf("message in %s has no label", p.Name))
		}
		if !roles[node.From] {
			issues = append(issues, fmt.Errorf("message %s: sender %s is not a declared role", node.Label, node.From))
		}
		if len(node.To) == 0 {
			issues = append(issues, fmt.Errorf("message %s has no receivers", node.Label))
		}
		for _, to := range node.To {
			if !roles[to] {
				issues = append(issues, fmt.Errorf("message %s: receiver %s is not a declared role", node.Label, to))
			}
			if to == node.From {
				issues = append(issues, fmt.Errorf("message %s: role %s sends to itself", node.Label, to))
			}
		}
	case KindSequence:
		if len(node.Steps) == 0 {
			issues = append(issues, fmt.Errorf("empty sequence in %s", p.Name))
		}
		for _, step := range node.Steps {
			issues = append(issues, p.validateInteraction(step, roles)...)
		}
	case KindChoice:
		if !roles[node.At] {
			issues = append(issues, fmt.Errorf("choice decider %s is not a declared role", node.At))
		}
		if len(node.Branches) < 2 {
			issues = append(issues, fmt.Errorf("choice at %s needs at least two branches", node.At))
		}
		for _, branch := range node.Branches {
			issues = append(issues, p.validateInteraction(branch, roles)...)
		}
	case KindRecursion:
		if node.Loop == "" {
			issues = append(issues, fmt.Errorf("recursion in %s has no label", p.Name))
		}
		issues = append(issues, p.validateInteraction(node.Body, roles)...)
	case KindContinue:
		if node.Loop == "" {
			issues = append(issues, fmt.Errorf("continue in %s has no label", p.Name))
		}
	case KindParallel:
		if len(node.Branches) < 2 {
			issues = append(issues, fmt.Errorf("parallel in %s needs at least two branches", p.Name))
		}
		for _, branch := range node.Branches {
			issues = append(issues, p.validateInteraction(branch, roles)...)
		}
	case KindInvocation:
		if node.Protocol == "" {
			issues = append(issues, fmt.Errorf("do in %s names no protocol", p.Name))
		}
		for _, arg := range node.Args {
			if !roles[arg] {
				issues = append(issues, fmt.Errorf("do %s: argument %s is not a declared role", node.Protocol, arg))
			}
		}
	default:
		issues = append(issues, fmt.Errorf("unknown interaction kind %q in %s", node.Kind, p.Name))
	}
	return issues
}

// Clone creates a deep copy of the protocol
func (p *Protocol) Clone() *Protocol {
	if p == nil {
		return nil
	}
	clone := &Protocol{
		Name:        p.Name,
		Description: p.Description,
		Roles:       append([]Role(nil), p.Roles...),
		Body:        p.Body.Clone(),
	}
	for _, sub := range p.Subprotocols {
		clone.Subprotocols = append(clone.Subprotocols, sub.Clone())
	}
	return clone
}

// Clone creates a deep copy of the interaction tree
func (i *Interaction) Clone() *Interaction {
	if i == nil {
		return nil
	}
	clone := &Interaction{
		Kind:     i.Kind,
		From:     i.From,
		To:       append([]Role(nil), i.To...),
		Label:    i.Label,
		Payload:  append([]string(nil), i.Payload...),
		At:       i.At,
		Loop:     i.Loop,
		Body:     i.Body.Clone(),
		Protocol: i.Protocol,
		Args:     append([]Role(nil), i.Args...),
	}
	for _, step := range i.Steps {
		clone.Steps = append(clone.Steps, step.Clone())
	}
	for _, branch := range i.Branches {
		clone.Branches = append(clone.Branches, branch.Clone())
	}
	return clone
}
