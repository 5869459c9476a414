package cfsm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sessionlab/chorus/model"
)

// Op discriminates transition actions.
type Op string

const (
	OpSend Op = "send"
	OpRecv Op = "recv"
	OpTau  Op = "tau"
)

// Action is the label of a single transition. Peer is the receiver for a
// send and the sender for a receive; tau carries neither peer nor label.
type Action struct {
	Op      Op
	Peer    model.Role
	Label   string
	Payload []string
}

func (a Action) String() string {
	switch a.Op {
	case OpSend:
		return fmt.Sprintf("%s!%s%s", a.Peer, a.Label, payloadSuffix(a.Payload))
	case OpRecv:
		return fmt.Sprintf("%s?%s%s", a.Peer, a.Label, payloadSuffix(a.Payload))
	default:
		return "tau"
	}
}

func payloadSuffix(types []string) string {
	if len(types) == 0 {
		return ""
	}
	return "(" + strings.Join(types, ", ") + ")"
}

// Matches reports whether a send and a receive pair up: equal label and
// payload, performed by the respective peers. The caller checks the roles.
func (a Action) Matches(other Action) bool {
	if a.Op != OpSend || other.Op != OpRecv {
		return false
	}
	if a.Label != other.Label || len(a.Payload) != len(other.Payload) {
		return false
	}
	for i := range a.Payload {
		if a.Payload[i] != other.Payload[i] {
			return false
		}
	}
	return true
}

// Transition moves the machine from From to To while performing Action.
type Transition struct {
	From   string
	To     string
	Action Action
}

// Machine is one role's local automaton. Actions live on transitions; states
// are opaque ids. The machine is immutable once projection finished.
type Machine struct {
	Role        model.Role
	Initial     string
	States      []string
	Finals      []string
	Transitions []Transition

	out map[string][]Transition
}

// Outgoing returns the transitions leaving the given state.
func (m *Machine) Outgoing(state string) []Transition {
	if m.out == nil {
		m.index()
	}
	return m.out[state]
}

func (m *Machine) index() {
	m.out = make(map[string][]Transition, len(m.States))
	for _, t := range m.Transitions {
		m.out[t.From] = append(m.out[t.From], t)
	}
}

// IsFinal reports whether state is a terminal state.
func (m *Machine) IsFinal(state string) bool {
	for _, f := range m.Finals {
		if f == state {
			return true
		}
	}
	return false
}

// Dump renders the machine as deterministic text, one transition per line.
func Dump(m *Machine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "machine %s initial=%s finals=%v\n", m.Role, m.Initial, append([]string(nil), m.Finals...))
	lines := make([]string, 0, len(m.Transitions))
	for _, t := range m.Transitions {
		lines = append(lines, fmt.Sprintf("  %s --%s--> %s", t.From, t.Action, t.To))
	}
	sort.Strings(lines)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
