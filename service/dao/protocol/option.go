package protocol

import "github.com/sessionlab/chorus/service/meta"

// Option customizes the protocol service.
type Option func(*Service)

// WithMetaService sets the meta service used to resolve and download
// protocol documents.
func WithMetaService(service *meta.Service) Option {
	return func(s *Service) {
		s.metaService = service
	}
}
