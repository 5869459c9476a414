package chorus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CheckURL(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "ping.yaml")
	document := `name: ping
roles:
  - A
  - B
protocol:
  - msg: "A -> B : ping(int)"
  - msg: "B -> A : pong"
`
	require.Nil(t, os.WriteFile(location, []byte(document), 0o644))

	svc := New()
	result, err := svc.CheckURL(context.Background(), location)
	require.Nil(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "ping", result.Protocol.Name)
	assert.False(t, result.Report.HasErrors())
	assert.Empty(t, result.ProjectionErrors)
	require.NotNil(t, result.Safety)
	assert.Equal(t, safety.StatusSafe, result.Safety.Status)
	assert.Equal(t, 3, result.Safety.Metrics.ConfigurationsExplored)
	assert.True(t, result.Passed())

	// The loaded protocol is registered for later invocations.
	registered, ok := svc.Registry().Lookup("ping")
	require.True(t, ok)
	assert.Same(t, result.Protocol, registered)

	// Run counters survive in the aggregated result.
	assert.Equal(t, 3, result.Progress.Configurations)
	assert.Equal(t, "ping", result.Progress.Protocol)
}

func TestService_Check_SafetyAndVerifierAreOrthogonal(t *testing.T) {
	svc := New()
	ctx := context.Background()

	// Structurally clean, yet unsafe: B's ack races ahead of the second
	// multicast send.
	racing := model.NewProtocol("bcast", "A", "B", "C").WithBody(model.Seq(
		model.Message("A", "update", "B", "C"),
		model.Message("B", "ack", "A"),
	))
	result, err := svc.Check(ctx, racing)
	require.Nil(t, err)
	assert.False(t, result.Report.HasErrors())
	require.NotNil(t, result.Safety)
	assert.Equal(t, safety.StatusUnsafe, result.Safety.Status)
	assert.False(t, result.Passed())

	// Structurally flawed, yet safe: the duplicated concurrent send is a
	// verifier conflict, but no reachable configuration has an unmatched
	// send.
	conflicted := model.NewProtocol("dup", "A", "B").WithBody(model.Par(
		model.Message("A", "data", "B"),
		model.Message("A", "data", "B"),
	))
	result, err = svc.Check(ctx, conflicted)
	require.Nil(t, err)
	assert.True(t, result.Report.HasErrors())
	assert.NotEmpty(t, result.Report.ParallelConflicts)
	assert.NotEmpty(t, result.Report.Races)
	require.NotNil(t, result.Safety)
	assert.NotEqual(t, safety.StatusUnsafe, result.Safety.Status)
	assert.False(t, result.Passed())
}

func TestService_Check_ProjectionFailureSkipsSafety(t *testing.T) {
	svc := New()
	ambiguous := model.NewProtocol("ambiguous", "A", "B").WithBody(
		model.ChoiceAt("A",
			model.Seq(model.Message("A", "m", "B"), model.Message("A", "x", "B")),
			model.Seq(model.Message("A", "m", "B"), model.Message("A", "y", "B")),
		),
	)
	result, err := svc.Check(context.Background(), ambiguous)
	require.Nil(t, err)
	assert.NotEmpty(t, result.ProjectionErrors)
	assert.Nil(t, result.Safety)
	assert.False(t, result.Passed())
}

func TestService_Check_BuildErrorsPropagate(t *testing.T) {
	svc := New()
	broken := model.NewProtocol("broken", "A", "B").WithBody(model.Continue("nowhere"))
	result, err := svc.Check(context.Background(), broken)
	assert.NotNil(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Graph)
}

func TestService_SafetyBudgetOption(t *testing.T) {
	svc := New(WithSafetyBudget(safety.Budget{MaxConfigurations: 1}))
	ping := model.NewProtocol("ping", "A", "B").WithBody(model.Seq(
		model.Message("A", "ping", "B"),
		model.Message("B", "pong", "A"),
	))
	result, err := svc.Check(context.Background(), ping)
	require.Nil(t, err)
	require.NotNil(t, result.Safety)
	assert.Equal(t, safety.StatusInconclusive, result.Safety.Status)
	assert.False(t, result.Passed())
}

func TestService_InvocationAcrossDocuments(t *testing.T) {
	dir := t.TempDir()
	authDoc := `name: auth
roles:
  - Client
  - Server
protocol:
  - msg: "Client -> Server : credentials(Token)"
  - msg: "Server -> Client : ok"
`
	sessionDoc := `name: session
roles:
  - U
  - S
protocol:
  - do:
      protocol: auth
      args:
        - U
        - S
  - msg: "U -> S : bye"
`
	require.Nil(t, os.WriteFile(filepath.Join(dir, "auth.yaml"), []byte(authDoc), 0o644))
	require.Nil(t, os.WriteFile(filepath.Join(dir, "session.yaml"), []byte(sessionDoc), 0o644))

	svc := New()
	ctx := context.Background()
	_, err := svc.LoadProtocol(ctx, filepath.Join(dir, "auth.yaml"))
	require.Nil(t, err)

	result, err := svc.CheckURL(ctx, filepath.Join(dir, "session.yaml"))
	require.Nil(t, err)
	assert.True(t, result.Passed())
}

func TestConfig_Validate(t *testing.T) {
	config := DefaultConfig()
	assert.Nil(t, config.Validate())
	assert.Equal(t, safety.DefaultBudget(), config.Safety)

	config.Safety.MaxConfigurations = -1
	assert.NotNil(t, config.Validate())
}
