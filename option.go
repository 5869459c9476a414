package chorus

import (
	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/safety"
	"github.com/sessionlab/chorus/service/dao/protocol"
	"github.com/sessionlab/chorus/service/meta"
	"github.com/viant/afs/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customizes the analysis service.
type Option func(*Service)

// WithConfig replaces the whole configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithSafetyBudget overrides the exploration budget of the safety checker.
func WithSafetyBudget(budget safety.Budget) Option {
	return func(s *Service) {
		s.config.Safety = budget
	}
}

// WithMetaService sets the meta service used to download protocol documents.
func WithMetaService(service *meta.Service) Option {
	return func(s *Service) {
		s.metaService = service
	}
}

// WithMetaBaseURL sets the base location for relative protocol URLs.
func WithMetaBaseURL(baseURL string) Option {
	return func(s *Service) {
		s.config.MetaBaseURL = baseURL
	}
}

// WithMetaFsOptions passes storage options (credentials, cache settings) to
// the abstract file system.
func WithMetaFsOptions(options ...storage.Option) Option {
	return func(s *Service) {
		s.metaFsOptions = options
	}
}

// WithProtocolDAO replaces the protocol data access service.
func WithProtocolDAO(dao *protocol.Service) Option {
	return func(s *Service) {
		s.protocolDAO = dao
	}
}

// WithRegistry replaces the protocol registry shared by invocations.
func WithRegistry(registry *model.Registry) Option {
	return func(s *Service) {
		s.registry = registry
	}
}

// WithTraceExporter installs the supplied OpenTelemetry exporter for the
// analysis spans.
func WithTraceExporter(exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		s.traceExporter = exporter
	}
}
