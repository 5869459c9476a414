package chorus

import (
	"context"
	"fmt"

	"github.com/sessionlab/chorus/cfsm"
	"github.com/sessionlab/chorus/internal/idgen"
	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/model/cfg"
	"github.com/sessionlab/chorus/progress"
	"github.com/sessionlab/chorus/safety"
	"github.com/sessionlab/chorus/service/dao/protocol"
	"github.com/sessionlab/chorus/service/meta"
	"github.com/sessionlab/chorus/tracing"
	"github.com/sessionlab/chorus/verifier"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	serviceName    = "chorus"
	serviceVersion = "0.1.0"
)

// Service is the façade of the communication analysis pipeline. It loads
// protocol definitions, builds control flow graphs, verifies their structure,
// projects per-role state machines and explores executions for safety.
type Service struct {
	config        Config
	metaService   *meta.Service
	metaFsOptions []storage.Option
	protocolDAO   *protocol.Service
	registry      *model.Registry
	traceExporter sdktrace.SpanExporter
}

// New creates a new analysis service.
func New(options ...Option) *Service {
	ret := &Service{config: DefaultConfig()}
	ret.init(options)
	return ret
}

func (s *Service) init(options []Option) {
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()
	if s.traceExporter != nil {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, s.traceExporter)
	}
}

func (s *Service) ensureBaseSetup() {
	if s.metaService == nil {
		s.metaService = meta.New(afs.New(), s.config.MetaBaseURL, s.metaFsOptions...)
	}
	if s.protocolDAO == nil {
		s.protocolDAO = protocol.New(protocol.WithMetaService(s.metaService))
	}
	if s.registry == nil {
		s.registry = model.NewRegistry()
	}
}

// Protocols exposes the protocol data access service.
func (s *Service) Protocols() *protocol.Service {
	return s.protocolDAO
}

// Registry exposes the protocol registry shared by invocations.
func (s *Service) Registry() *model.Registry {
	return s.registry
}

// LoadProtocol loads a protocol definition from the supplied location and
// registers it (and its subprotocols) for invocation resolution.
func (s *Service) LoadProtocol(ctx context.Context, URL string) (*model.Protocol, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.load", "INTERNAL")
	parsed, err := s.protocolDAO.Load(ctx, URL)
	tracing.EndSpan(span.WithAttributes(map[string]string{"protocol.url": URL}), err)
	if err != nil {
		return nil, err
	}
	s.register(parsed)
	return parsed, nil
}

func (s *Service) register(p *model.Protocol) {
	_ = s.registry.Register(p)
	for _, sub := range p.Subprotocols {
		s.register(sub)
	}
}

// BuildCFG constructs the control flow graph of the supplied protocol.
func (s *Service) BuildCFG(ctx context.Context, p *model.Protocol) (*cfg.Graph, error) {
	_, span := tracing.StartSpan(ctx, "cfg.build", "INTERNAL")
	graph, err := cfg.NewBuilder(s.registry).Build(p)
	tracing.EndSpan(span.WithAttributes(map[string]string{"protocol.name": p.Name}), err)
	return graph, err
}

// Verify runs the structural checks on the supplied graph.
func (s *Service) Verify(ctx context.Context, g *cfg.Graph) *verifier.Report {
	ctx, span := tracing.StartSpan(ctx, "verifier.verify", "INTERNAL")
	report := verifier.Verify(ctx, g)
	var err error
	if report.HasErrors() {
		err = fmt.Errorf("verification found %d findings", len(report.Findings()))
	}
	tracing.EndSpan(span, err)
	return report
}

// ProjectAll projects the graph onto every declared role.
func (s *Service) ProjectAll(ctx context.Context, g *cfg.Graph) (map[model.Role]*cfsm.Machine, []error) {
	_, span := tracing.StartSpan(ctx, "cfsm.project", "INTERNAL")
	machines, errs := cfsm.ProjectAll(g)
	var err error
	if len(errs) > 0 {
		err = errs[0]
	}
	tracing.EndSpan(span, err)
	return machines, errs
}

// CheckSafety explores the executions of the supplied machines within the
// configured budget.
func (s *Service) CheckSafety(ctx context.Context, machines map[model.Role]*cfsm.Machine) *safety.Result {
	ctx, span := tracing.StartSpan(ctx, "safety.check", "INTERNAL")
	result := safety.New(machines, s.config.Safety).Run(ctx)
	var err error
	if result.Status == safety.StatusUnsafe {
		err = fmt.Errorf("protocol is unsafe: %d violations", len(result.Violations))
	}
	tracing.EndSpan(span.WithAttributes(map[string]string{"safety.status": string(result.Status)}), err)
	return result
}

// CheckResult aggregates the outcome of a full analysis run. The structural
// report and the safety result are independent verdicts: a protocol can pass
// one and fail the other.
type CheckResult struct {
	RunID            string
	Protocol         *model.Protocol
	Graph            *cfg.Graph
	Report           *verifier.Report
	Machines         map[model.Role]*cfsm.Machine
	ProjectionErrors []error
	Safety           *safety.Result
	Progress         progress.Stats
}

// Passed reports whether every phase completed without errors and the
// protocol was found safe.
func (r *CheckResult) Passed() bool {
	if r.Report != nil && r.Report.HasErrors() {
		return false
	}
	if len(r.ProjectionErrors) > 0 {
		return false
	}
	return r.Safety != nil && r.Safety.Safe()
}

// Check runs the complete pipeline on the supplied protocol: graph
// construction, structural verification, projection and safety exploration.
// Projection failures skip the safety phase; structural findings do not,
// since the two analyses are independent.
func (s *Service) Check(ctx context.Context, p *model.Protocol) (*CheckResult, error) {
	runID := idgen.New()
	ctx, tracker := progress.WithNewTracker(ctx, runID, p.Name, nil)
	ctx, span := tracing.StartSpan(ctx, "chorus.check", "INTERNAL")

	result := &CheckResult{RunID: runID, Protocol: p}
	defer func() {
		result.Progress = tracker.Snapshot()
	}()

	s.register(p)
	graph, err := s.BuildCFG(ctx, p)
	if err != nil {
		tracing.EndSpan(span, err)
		return result, err
	}
	result.Graph = graph
	result.Report = s.Verify(ctx, graph)

	result.Machines, result.ProjectionErrors = s.ProjectAll(ctx, graph)
	if len(result.ProjectionErrors) == 0 {
		result.Safety = s.CheckSafety(ctx, result.Machines)
	}
	tracing.EndSpan(span.WithAttributes(map[string]string{
		"run.id":        runID,
		"protocol.name": p.Name,
	}), nil)
	return result, nil
}

// CheckURL loads a protocol definition and runs the complete pipeline on it.
func (s *Service) CheckURL(ctx context.Context, URL string) (*CheckResult, error) {
	parsed, err := s.LoadProtocol(ctx, URL)
	if err != nil {
		return nil, err
	}
	return s.Check(ctx, parsed)
}
