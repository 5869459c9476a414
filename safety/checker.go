package safety

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sessionlab/chorus/cfsm"
	"github.com/sessionlab/chorus/internal/clock"
	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/progress"
)

// Status is the overall verdict of an exploration run. Budget exhaustion is
// reported as inconclusive, never as a safety verdict.
type Status string

const (
	StatusSafe         Status = "safe"
	StatusUnsafe       Status = "unsafe"
	StatusInconclusive Status = "inconclusive"
)

// Violation records an enabled send with no matching enabled receive, the
// only violation kind of the safety definition. An enabled receive without a
// sender is vacuously safe; stuck-ness is the verifier's concern.
type Violation struct {
	Sender        model.Role
	Receiver      model.Role
	Label         string
	State         string
	Configuration map[model.Role]string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s!%s to %s has no matching receive (state %s)", v.Sender, v.Label, v.Receiver, v.State)
}

// Metrics summarizes an exploration run.
type Metrics struct {
	ConfigurationsExplored int
	Reductions             int
	Elapsed                time.Duration
}

// Result is the outcome of a safety check.
type Result struct {
	Status     Status
	Violations []Violation
	Metrics    Metrics
}

// Safe reports whether the run completed with a safe verdict.
func (r *Result) Safe() bool { return r.Status == StatusSafe }

// Budget bounds the exploration so that buggy or unbounded protocols still
// terminate. Zero fields fall back to the package defaults.
type Budget struct {
	MaxConfigurations int `json:"maxConfigurations,omitempty" yaml:"maxConfigurations,omitempty"`
	MaxSteps          int `json:"maxSteps,omitempty" yaml:"maxSteps,omitempty"`
}

// DefaultBudget returns the default exploration bounds.
func DefaultBudget() Budget {
	return Budget{MaxConfigurations: 10000, MaxSteps: 100000}
}

func (b Budget) orDefault() Budget {
	defaults := DefaultBudget()
	if b.MaxConfigurations <= 0 {
		b.MaxConfigurations = defaults.MaxConfigurations
	}
	if b.MaxSteps <= 0 {
		b.MaxSteps = defaults.MaxSteps
	}
	return b
}

// Configuration is an immutable snapshot mapping every role to its current
// local state. Reductions produce new configurations; the underlying
// machines are shared and read-only.
type Configuration struct {
	states []string
}

// Key returns a canonical identity used for memoization.
func (c Configuration) Key() string {
	return strings.Join(c.states, "|")
}

func (c Configuration) with(index int, state string) Configuration {
	states := append([]string(nil), c.states...)
	states[index] = state
	return Configuration{states: states}
}

// Checker explores reachable joint configurations of the role machines under
// rendezvous reduction semantics. A Checker is immutable after construction
// and safe for concurrent Run calls.
type Checker struct {
	roles    []model.Role
	machines []*cfsm.Machine
	budget   Budget
}

// New creates a checker over one machine per role.
func New(machines map[model.Role]*cfsm.Machine, budget Budget) *Checker {
	roles := make([]model.Role, 0, len(machines))
	for role := range machines {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	ordered := make([]*cfsm.Machine, len(roles))
	for i, role := range roles {
		ordered[i] = machines[role]
	}
	return &Checker{roles: roles, machines: ordered, budget: budget.orDefault()}
}

// Initial returns the configuration with every role at its initial state,
// with deterministic tau-closure already applied.
func (c *Checker) Initial() Configuration {
	states := make([]string, len(c.machines))
	for i, m := range c.machines {
		states[i] = m.Initial
	}
	return c.Close(Configuration{states: states})
}

// State returns the state of role within the configuration.
func (c *Checker) State(conf Configuration, role model.Role) string {
	for i, r := range c.roles {
		if r == role {
			return conf.states[i]
		}
	}
	return ""
}

// Snapshot renders the configuration as a role -> state map.
func (c *Checker) Snapshot(conf Configuration) map[model.Role]string {
	snapshot := make(map[model.Role]string, len(c.roles))
	for i, role := range c.roles {
		snapshot[role] = conf.states[i]
	}
	return snapshot
}

// Close applies deterministic tau-closure: a role advances over tau only
// when that tau is its sole outgoing transition, i.e. forced internal
// progress. A tau among other transitions is an unresolved branch
// alternative and is deliberately left alone; applying it eagerly would
// erase a branch another role may still need. Close is idempotent.
func (c *Checker) Close(conf Configuration) Configuration {
	for {
		advanced := false
		for i, m := range c.machines {
			out := m.Outgoing(conf.states[i])
			if len(out) == 1 && out[0].Action.Op == cfsm.OpTau {
				conf = conf.with(i, out[0].To)
				advanced = true
			}
		}
		if !advanced {
			return conf
		}
	}
}

// Violations evaluates the safety predicate at the configuration: every
// enabled send needs a matching enabled receive at its peer.
func (c *Checker) Violations(conf Configuration) []Violation {
	var violations []Violation
	for i, m := range c.machines {
		for _, t := range m.Outgoing(conf.states[i]) {
			if t.Action.Op != cfsm.OpSend {
				continue
			}
			if c.receiveEnabled(conf, t.Action.Peer, c.roles[i], t.Action) {
				continue
			}
			violations = append(violations, Violation{
				Sender:        c.roles[i],
				Receiver:      t.Action.Peer,
				Label:         t.Action.Label,
				State:         conf.states[i],
				Configuration: c.Snapshot(conf),
			})
		}
	}
	return violations
}

func (c *Checker) receiveEnabled(conf Configuration, receiver, sender model.Role, send cfsm.Action) bool {
	for i, role := range c.roles {
		if role != receiver {
			continue
		}
		for _, t := range c.machines[i].Outgoing(conf.states[i]) {
			if t.Action.Op == cfsm.OpRecv && t.Action.Peer == sender && send.Matches(t.Action) {
				return true
			}
		}
	}
	return false
}

// Step enumerates every enabled reduction of the configuration: a sender and
// its peer advance synchronously over a matching send/receive pair. Each
// successor is returned tau-closed.
func (c *Checker) Step(conf Configuration) []Configuration {
	var successors []Configuration
	for i, m := range c.machines {
		for _, send := range m.Outgoing(conf.states[i]) {
			if send.Action.Op != cfsm.OpSend {
				continue
			}
			for j, peer := range c.machines {
				if c.roles[j] != send.Action.Peer {
					continue
				}
				for _, recv := range peer.Outgoing(conf.states[j]) {
					if recv.Action.Op != cfsm.OpRecv || recv.Action.Peer != c.roles[i] {
						continue
					}
					if !send.Action.Matches(recv.Action) {
						continue
					}
					next := conf.with(i, send.To).with(j, recv.To)
					successors = append(successors, c.Close(next))
				}
			}
		}
	}
	return successors
}

// Run explores the configuration space breadth-first from the initial
// configuration, applying the safety predicate at every frontier node.
// Exploration is bounded by the budget; exhausting it yields an
// inconclusive result.
func (c *Checker) Run(ctx context.Context) *Result {
	started := clock.Now()
	result := &Result{}

	initial := c.Initial()
	queue := []Configuration{initial}
	visited := map[string]bool{initial.Key(): true}

	for len(queue) > 0 {
		if result.Metrics.ConfigurationsExplored >= c.budget.MaxConfigurations ||
			result.Metrics.Reductions >= c.budget.MaxSteps {
			result.Status = StatusInconclusive
			result.Metrics.Elapsed = clock.Now().Sub(started)
			return result
		}
		conf := queue[0]
		queue = queue[1:]
		result.Metrics.ConfigurationsExplored++

		violations := c.Violations(conf)
		result.Violations = append(result.Violations, violations...)
		progress.UpdateCtx(ctx, progress.Delta{Configurations: 1, Violations: len(violations)})

		for _, next := range c.Step(conf) {
			result.Metrics.Reductions++
			progress.UpdateCtx(ctx, progress.Delta{Reductions: 1})
			if visited[next.Key()] {
				continue
			}
			visited[next.Key()] = true
			queue = append(queue, next)
		}
	}

	if len(result.Violations) > 0 {
		result.Status = StatusUnsafe
	} else {
		result.Status = StatusSafe
	}
	result.Metrics.Elapsed = clock.Now().Sub(started)
	return result
}
