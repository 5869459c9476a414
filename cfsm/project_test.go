package cfsm

import (
	"errors"
	"testing"

	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/model/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, p *model.Protocol) *cfg.Graph {
	t.Helper()
	g, err := cfg.NewBuilder(nil).Build(p)
	require.Nil(t, err, "building %s", p.Name)
	return g
}

func transitionsOf(m *Machine, op Op) []Transition {
	var out []Transition
	for _, t := range m.Transitions {
		if t.Action.Op == op {
			out = append(out, t)
		}
	}
	return out
}

func TestProject_RequestResponse(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("ping", "A", "B").WithBody(model.Seq(
		model.Message("A", "ping", "B").WithPayload("int"),
		model.Message("B", "pong", "A"),
	)))

	machines, errs := ProjectAll(g)
	require.Empty(t, errs)
	require.Len(t, machines, 2)

	a := machines["A"]
	require.Len(t, a.Transitions, 2)
	assert.Equal(t, "B!ping(int)", a.Transitions[0].Action.String())
	assert.Equal(t, "B?pong", a.Transitions[1].Action.String())
	assert.Len(t, a.Finals, 1)
	assert.True(t, a.IsFinal(a.Transitions[1].To))

	b := machines["B"]
	require.Len(t, b.Transitions, 2)
	assert.Equal(t, "A?ping(int)", b.Transitions[0].Action.String())
	assert.Equal(t, "A!pong", b.Transitions[1].Action.String())

	// Dual endpoints pair up action by action.
	assert.True(t, a.Transitions[0].Action.Matches(b.Transitions[0].Action))
	assert.True(t, b.Transitions[1].Action.Matches(a.Transitions[1].Action))
}

func TestProject_UninvolvedRole(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("aside", "A", "B", "C").WithBody(
		model.Message("A", "secret", "B"),
	))

	c, err := Project(g, "C")
	require.Nil(t, err)
	assert.Empty(t, c.Transitions)
	require.Len(t, c.States, 1)
	assert.Equal(t, c.Initial, c.States[0])
	assert.True(t, c.IsFinal(c.Initial))
}

func TestProject_Multicast(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("notify", "A", "B", "C").WithBody(
		model.Message("A", "update", "B", "C"),
	))

	a, err := Project(g, "A")
	require.Nil(t, err)
	// One pairwise send per receiver, in declaration order.
	require.Len(t, a.Transitions, 2)
	assert.Equal(t, "B!update", a.Transitions[0].Action.String())
	assert.Equal(t, "C!update", a.Transitions[1].Action.String())
	assert.Equal(t, a.Transitions[0].To, a.Transitions[1].From)

	c, err := Project(g, "C")
	require.Nil(t, err)
	require.Len(t, c.Transitions, 1)
	assert.Equal(t, "A?update", c.Transitions[0].Action.String())
}

func TestProject_Choice(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("deal", "Buyer", "Seller").WithBody(model.Seq(
		model.Message("Buyer", "offer", "Seller"),
		model.ChoiceAt("Seller",
			model.Message("Seller", "accept", "Buyer"),
			model.Message("Seller", "reject", "Buyer"),
		),
	)))

	seller, err := Project(g, "Seller")
	require.Nil(t, err)
	sends := transitionsOf(seller, OpSend)
	require.Len(t, sends, 2)
	// Internal choice: both sends leave the same state and reconverge.
	assert.Equal(t, sends[0].From, sends[1].From)
	assert.Equal(t, sends[0].To, sends[1].To)

	buyer, err := Project(g, "Buyer")
	require.Nil(t, err)
	recvs := transitionsOf(buyer, OpRecv)
	require.Len(t, recvs, 2)
	assert.Equal(t, recvs[0].From, recvs[1].From)
	assert.Equal(t, recvs[0].To, recvs[1].To)
	assert.True(t, buyer.IsFinal(recvs[0].To))
}

func TestProject_ChoiceWithSilentBranch(t *testing.T) {
	// C takes part in one alternative only; the silent alternative becomes a
	// single tau left among the other transitions, so the branch stays
	// unresolved until the decider moves.
	g := buildGraph(t, model.NewProtocol("maybe", "A", "B", "C").WithBody(model.Seq(
		model.ChoiceAt("A",
			model.Seq(model.Message("A", "go", "B"), model.Message("B", "fwd", "C")),
			model.Message("A", "skip", "B"),
		),
		model.Message("A", "done", "C"),
	)))

	c, err := Project(g, "C")
	require.Nil(t, err)

	taus := transitionsOf(c, OpTau)
	recvs := transitionsOf(c, OpRecv)
	require.Len(t, taus, 1)
	require.Len(t, recvs, 2)

	// The tau competes with the fwd receive out of the initial state.
	outgoing := c.Outgoing(c.Initial)
	require.Len(t, outgoing, 2)
	assert.Equal(t, taus[0].From, c.Initial)
}

func TestProject_ChoiceFullySilent(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("aside", "A", "B", "C").WithBody(model.Seq(
		model.ChoiceAt("A",
			model.Message("A", "yes", "B"),
			model.Message("A", "no", "B"),
		),
		model.Message("A", "done", "C"),
	)))

	c, err := Project(g, "C")
	require.Nil(t, err)
	// The whole choice is invisible to C: no tau, just the final receive.
	assert.Empty(t, transitionsOf(c, OpTau))
	require.Len(t, c.Transitions, 1)
	assert.Equal(t, "A?done", c.Transitions[0].Action.String())
}

func TestProject_Recursion(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("stream", "Src", "Sink").WithBody(
		model.Rec("more", model.Seq(
			model.Message("Src", "item", "Sink"),
			model.ChoiceAt("Src",
				model.Seq(model.Message("Src", "next", "Sink"), model.Continue("more")),
				model.Message("Src", "done", "Sink"),
			),
		)),
	))

	src, err := Project(g, "Src")
	require.Nil(t, err)

	// The continue edge becomes a back transition into the loop entry.
	backs := 0
	for _, tr := range src.Transitions {
		if tr.To == src.Initial {
			backs++
			assert.Equal(t, "Sink!next", tr.Action.String())
		}
	}
	assert.Equal(t, 1, backs)
	require.Len(t, src.Finals, 1)
	assert.NotEqual(t, src.Initial, src.Finals[0])

	sink, err := Project(g, "Sink")
	require.Nil(t, err)
	recvs := transitionsOf(sink, OpRecv)
	require.Len(t, recvs, 3)
	for _, tr := range recvs {
		if tr.Action.Label == "next" {
			assert.Equal(t, sink.Initial, tr.To)
		}
	}
}

func TestProject_ForkMembership(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("scatter", "A", "B", "C", "D").WithBody(model.Par(
		model.Message("A", "left", "B"),
		model.Message("A", "right", "C"),
	)))

	// D takes part in no branch: the region disappears.
	d, err := Project(g, "D")
	require.Nil(t, err)
	assert.Empty(t, d.Transitions)

	// B takes part in exactly one branch: sequenced inline, no taus.
	b, err := Project(g, "B")
	require.Nil(t, err)
	assert.Empty(t, transitionsOf(b, OpTau))
	require.Len(t, b.Transitions, 1)
	assert.Equal(t, "A?left", b.Transitions[0].Action.String())

	// A takes part in both branches: tau-delimited concurrent section.
	a, err := Project(g, "A")
	require.Nil(t, err)
	entryTaus := 0
	for _, tr := range a.Outgoing(a.Initial) {
		if tr.Action.Op == OpTau {
			entryTaus++
		}
	}
	assert.Equal(t, 2, entryTaus)
	assert.Len(t, transitionsOf(a, OpSend), 2)
	require.Len(t, a.Finals, 1)
}

func TestProject_NondeterministicChoice(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("ambiguous", "A", "B").WithBody(
		model.ChoiceAt("A",
			model.Seq(model.Message("A", "m", "B"), model.Message("A", "x", "B")),
			model.Seq(model.Message("A", "m", "B"), model.Message("A", "y", "B")),
		),
	))

	machines, errs := ProjectAll(g)
	require.Len(t, errs, 1)
	var projErr *ProjectionError
	require.True(t, errors.As(errs[0], &projErr))
	assert.Equal(t, ErrNondeterministicChoice, projErr.Code)
	assert.Equal(t, model.Role("B"), projErr.Role)

	// The decider still projects: the failure is per-role.
	_, ok := machines["A"]
	assert.True(t, ok)
	_, ok = machines["B"]
	assert.False(t, ok)
}

func TestDumpAndDiff(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("ping", "A", "B").WithBody(model.Seq(
		model.Message("A", "ping", "B"),
		model.Message("B", "pong", "A"),
	)))
	a, err := Project(g, "A")
	require.Nil(t, err)
	b, err := Project(g, "B")
	require.Nil(t, err)

	assert.Equal(t, Dump(a), Dump(a))
	assert.Contains(t, Dump(a), "B!ping")
	assert.Empty(t, Diff(a, a))
	assert.NotEmpty(t, Diff(a, b))
}
