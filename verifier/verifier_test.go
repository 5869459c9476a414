package verifier

import (
	"context"
	"testing"

	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/model/cfg"
	"github.com/sessionlab/chorus/policy"
	"github.com/sessionlab/chorus/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, p *model.Protocol) *cfg.Graph {
	t.Helper()
	g, err := cfg.NewBuilder(nil).Build(p)
	require.Nil(t, err, "building %s", p.Name)
	return g
}

func TestVerify_CleanProtocol(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("ping", "A", "B").WithBody(model.Seq(
		model.Message("A", "ping", "B"),
		model.Message("B", "pong", "A"),
	)))
	report := Verify(context.Background(), g)
	assert.Empty(t, report.Findings())
	assert.False(t, report.HasErrors())
}

func TestVerify_RecursionIsNotADeadlock(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("stream", "Src", "Sink").WithBody(
		model.Rec("more", model.Seq(
			model.Message("Src", "item", "Sink"),
			model.ChoiceAt("Src",
				model.Continue("more"),
				model.Message("Src", "done", "Sink"),
			),
		)),
	))
	report := Verify(context.Background(), g)
	assert.Empty(t, report.DeadlockCycles)
	assert.Empty(t, report.Liveness)
	assert.False(t, report.HasErrors())
}

func TestVerify_DeadlockCycle(t *testing.T) {
	// A cycle wired with plain sequence edges cannot be explained by
	// recursion and must be reported.
	g := cfg.NewGraph("A", "B")
	initial := g.AddNode(cfg.NodeInitial)
	g.Initial = initial.ID
	first := g.AddNode(cfg.NodeAction)
	first.Action = &cfg.MessageAction{Label: "m1", Sender: "A", Receivers: []model.Role{"B"}}
	second := g.AddNode(cfg.NodeAction)
	second.Action = &cfg.MessageAction{Label: "m2", Sender: "B", Receivers: []model.Role{"A"}}
	g.AddNode(cfg.NodeTerminal)
	g.AddEdge(cfg.EdgeMessage, initial.ID, first.ID)
	g.AddEdge(cfg.EdgeSequence, first.ID, second.ID)
	g.AddEdge(cfg.EdgeSequence, second.ID, first.ID)

	report := Verify(context.Background(), g)
	require.Len(t, report.DeadlockCycles, 1)
	assert.Equal(t, SeverityError, report.DeadlockCycles[0].Severity)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, report.DeadlockCycles[0].Nodes)
	// The same graph never reaches its terminal node.
	require.Len(t, report.Liveness, 1)
	assert.Equal(t, SeverityWarning, report.Liveness[0].Severity)
	assert.True(t, report.HasErrors())
}

func TestVerify_ProgressViolation(t *testing.T) {
	g := cfg.NewGraph("A", "B")
	initial := g.AddNode(cfg.NodeInitial)
	g.Initial = initial.ID
	stuck := g.AddNode(cfg.NodeAction)
	stuck.Action = &cfg.MessageAction{Label: "m", Sender: "A", Receivers: []model.Role{"B"}}
	g.AddNode(cfg.NodeTerminal)
	g.AddEdge(cfg.EdgeMessage, initial.ID, stuck.ID)

	report := Verify(context.Background(), g)
	require.Len(t, report.Progress, 1)
	assert.Equal(t, SeverityError, report.Progress[0].Severity)
	assert.Equal(t, []string{stuck.ID}, report.Progress[0].Nodes)
}

func TestVerify_EndlessLoopWarnsLivenessOnly(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("server", "A", "B").WithBody(
		model.Rec("loop", model.Seq(
			model.Message("A", "req", "B"),
			model.Message("B", "resp", "A"),
			model.Continue("loop"),
		)),
	))
	report := Verify(context.Background(), g)
	assert.Empty(t, report.DeadlockCycles)
	require.Len(t, report.Liveness, 1)
	assert.Equal(t, SeverityWarning, report.Liveness[0].Severity)
	assert.False(t, report.HasErrors())
}

func TestVerify_ForkWithoutJoin(t *testing.T) {
	g := cfg.NewGraph("A", "B")
	initial := g.AddNode(cfg.NodeInitial)
	g.Initial = initial.ID
	fork := g.AddNode(cfg.NodeFork)
	fork.ParallelID = fork.ID
	action := g.AddNode(cfg.NodeAction)
	action.Action = &cfg.MessageAction{Label: "m", Sender: "A", Receivers: []model.Role{"B"}}
	terminal := g.AddNode(cfg.NodeTerminal)
	g.AddEdge(cfg.EdgeSequence, initial.ID, fork.ID)
	g.AddEdge(cfg.EdgeFork, fork.ID, action.ID)
	g.AddEdge(cfg.EdgeSequence, action.ID, terminal.ID)

	report := Verify(context.Background(), g)
	require.Len(t, report.ForkJoin, 1)
	assert.Contains(t, report.ForkJoin[0].Message, "matching joins")
}

func TestVerify_ForkBranchMissesJoin(t *testing.T) {
	g := cfg.NewGraph("A", "B", "C")
	initial := g.AddNode(cfg.NodeInitial)
	g.Initial = initial.ID
	fork := g.AddNode(cfg.NodeFork)
	fork.ParallelID = fork.ID
	join := g.AddNode(cfg.NodeJoin)
	join.ParallelID = fork.ID
	good := g.AddNode(cfg.NodeAction)
	good.Action = &cfg.MessageAction{Label: "left", Sender: "A", Receivers: []model.Role{"B"}}
	stray := g.AddNode(cfg.NodeAction)
	stray.Action = &cfg.MessageAction{Label: "right", Sender: "A", Receivers: []model.Role{"C"}}
	terminal := g.AddNode(cfg.NodeTerminal)
	g.AddEdge(cfg.EdgeSequence, initial.ID, fork.ID)
	g.AddEdge(cfg.EdgeFork, fork.ID, good.ID)
	g.AddEdge(cfg.EdgeEpsilon, good.ID, join.ID)
	g.AddEdge(cfg.EdgeFork, fork.ID, stray.ID)
	g.AddEdge(cfg.EdgeSequence, stray.ID, terminal.ID)
	g.AddEdge(cfg.EdgeSequence, join.ID, terminal.ID)

	report := Verify(context.Background(), g)
	require.Len(t, report.ForkJoin, 1)
	assert.Contains(t, report.ForkJoin[0].Message, "never reaches join")
}

func TestVerify_ParallelConflict(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("conflict", "A", "B", "C").WithBody(model.Par(
		model.Message("A", "left", "B"),
		model.Message("A", "right", "C"),
	)))
	report := Verify(context.Background(), g)
	require.Len(t, report.ParallelConflicts, 1)
	assert.Equal(t, SeverityError, report.ParallelConflicts[0].Severity)
	assert.Equal(t, model.Role("A"), report.ParallelConflicts[0].Role)
	assert.Empty(t, report.Races)
}

func TestVerify_ConcurrentReceiversAreAllowed(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("fanin", "A", "B", "C").WithBody(model.Par(
		model.Message("A", "left", "C"),
		model.Message("B", "right", "C"),
	)))
	report := Verify(context.Background(), g)
	assert.Empty(t, report.ParallelConflicts)
	assert.Empty(t, report.Races)
	assert.False(t, report.HasErrors())
}

func TestVerify_RaceWarning(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("race", "A", "B").WithBody(model.Par(
		model.Message("A", "data", "B"),
		model.Message("A", "data", "B"),
	)))
	report := Verify(context.Background(), g)
	require.Len(t, report.Races, 1)
	assert.Equal(t, SeverityWarning, report.Races[0].Severity)
	assert.Contains(t, report.Races[0].Message, "A->B:data")
	// The same shape also trips the concurrent-send conflict.
	require.Len(t, report.ParallelConflicts, 1)
}

func TestVerify_PolicyDisablesCategories(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("race", "A", "B").WithBody(model.Par(
		model.Message("A", "data", "B"),
		model.Message("A", "data", "B"),
	)))
	ctx := policy.WithPolicy(context.Background(), &policy.Policy{
		DisableList: []string{CategoryRace, CategoryParallelConflict},
	})
	report := Verify(ctx, g)
	assert.Empty(t, report.Races)
	assert.Empty(t, report.ParallelConflicts)
}

func TestVerify_UpdatesProgressTracker(t *testing.T) {
	g := buildGraph(t, model.NewProtocol("race", "A", "B").WithBody(model.Par(
		model.Message("A", "data", "B"),
		model.Message("A", "data", "B"),
	)))
	ctx, tracker := progress.WithNewTracker(context.Background(), "run-1", "race", nil)
	report := Verify(ctx, g)
	snapshot := tracker.Snapshot()
	assert.Equal(t, len(report.Findings()), snapshot.Findings)
	assert.True(t, snapshot.Findings > 0)
}
