package meta

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service loads metadata documents (protocol definitions) from any location
// supported by the abstract file system: local paths, embedded file systems,
// in-memory storage or cloud URLs.
type Service struct {
	fs      afs.Service
	baseURL string
	options []storage.Option
}

// New creates a meta service backed by the supplied abstract file system.
// A non-empty baseURL resolves relative locations.
func New(fs afs.Service, baseURL string, options ...storage.Option) *Service {
	return &Service{fs: fs, baseURL: baseURL, options: options}
}

// Load downloads the document at URI, expands ${env.X} expressions and
// unmarshals the YAML payload into target.
func (s *Service) Load(ctx context.Context, URI string, target interface{}) error {
	location := URI
	if s.baseURL != "" && !strings.Contains(URI, "://") && !strings.HasPrefix(URI, "/") {
		location = url.Join(s.baseURL, URI)
	}
	data, err := s.fs.DownloadWithURL(ctx, location, s.options...)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", location, err)
	}
	data = []byte(expandEnvExpr(string(data)))
	return yaml.Unmarshal(data, target)
}
