package protocol

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sessionlab/chorus/internal/yml"
	"github.com/sessionlab/chorus/model"
	"github.com/sessionlab/chorus/service/dao/protocol/notation"
	"github.com/sessionlab/chorus/service/meta"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Service loads protocol definitions from YAML documents. Parsed definitions
// are cached per location; Refresh and Upsert support hot-swapping a
// definition without restarting the host application.
type Service struct {
	metaService *meta.Service

	mu    sync.RWMutex
	cache map[string]*model.Protocol
}

// New creates a new protocol service instance
func New(opts ...Option) *Service {
	ret := &Service{
		metaService: meta.New(afs.New(), ""),
		cache:       make(map[string]*model.Protocol),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// DecodeYAML decodes a protocol definition from YAML
func (s *Service) DecodeYAML(encoded []byte) (*model.Protocol, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(encoded, &node); err != nil {
		return nil, err
	}
	return s.parseDocument("", &node)
}

// Load loads a protocol definition from YAML at the specified URL. Parsed
// results are cached until Refresh discards them.
func (s *Service) Load(ctx context.Context, URL string) (*model.Protocol, error) {
	if filepath.Ext(URL) == "" {
		URL += ".yaml"
	}
	s.mu.RLock()
	cached, ok := s.cache[URL]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var node yaml.Node
	if err := s.metaService.Load(ctx, URL, &node); err != nil {
		return nil, fmt.Errorf("failed to load protocol from %s: %w", URL, err)
	}
	parsed, err := s.parseDocument(URL, &node)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[URL] = parsed
	s.mu.Unlock()
	return parsed, nil
}

// Refresh discards the cached definition for the given location so the next
// Load reloads it from storage.
func (s *Service) Refresh(location string) {
	s.mu.Lock()
	delete(s.cache, location)
	s.mu.Unlock()
}

// Upsert stores the supplied definition in the cache under location.
func (s *Service) Upsert(location string, p *model.Protocol) {
	s.mu.Lock()
	s.cache[location] = p
	s.mu.Unlock()
}

func (s *Service) parseDocument(URL string, node *yaml.Node) (*model.Protocol, error) {
	root := (*yml.Node)(node)
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		root = (*yml.Node)(node.Content[0])
	}
	parsed, err := s.parseProtocol(root)
	if err != nil {
		return nil, fmt.Errorf("failed to parse protocol from %s: %w", URL, err)
	}
	if parsed.Name == "" {
		parsed.Name = nameFromURL(URL)
	}
	if issues := parsed.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	return parsed, nil
}

func nameFromURL(URL string) string {
	base := filepath.Base(URL)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Service) parseProtocol(node *yml.Node) (*model.Protocol, error) {
	parsed := &model.Protocol{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "name":
			parsed.Name = valueNode.Value
		case "description":
			parsed.Description = valueNode.Value
		case "roles":
			return valueNode.Items(func(_ int, roleNode *yml.Node) error {
				parsed.Roles = append(parsed.Roles, model.Role(roleNode.Value))
				return nil
			})
		case "protocol":
			body, err := s.parseSteps(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse protocol body: %w", err)
			}
			parsed.Body = body
		case "subprotocols":
			return valueNode.Items(func(_ int, subNode *yml.Node) error {
				sub, err := s.parseProtocol(subNode)
				if err != nil {
					return err
				}
				parsed.Subprotocols = append(parsed.Subprotocols, sub)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

// parseSteps parses a YAML sequence of interaction items. A single item is
// returned as is; several items become a sequence.
func (s *Service) parseSteps(node *yml.Node) (*model.Interaction, error) {
	var steps []*model.Interaction
	err := node.Items(func(index int, itemNode *yml.Node) error {
		step, err := s.parseStep(itemNode)
		if err != nil {
			return fmt.Errorf("step %d: %w", index, err)
		}
		steps = append(steps, step)
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch len(steps) {
	case 0:
		return nil, fmt.Errorf("empty interaction list")
	case 1:
		return steps[0], nil
	}
	return model.Seq(steps...), nil
}

func (s *Service) parseStep(node *yml.Node) (*model.Interaction, error) {
	var result *model.Interaction
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		var err error
		switch strings.ToLower(key) {
		case "msg":
			result, err = notation.Parse([]byte(valueNode.Value))
		case "choice":
			result, err = s.parseChoice(valueNode)
		case "rec":
			result, err = s.parseRecursion(valueNode)
		case "continue":
			result = model.Continue(valueNode.Value)
		case "par":
			result, err = s.parseParallel(valueNode)
		case "do":
			result, err = s.parseInvocation(valueNode)
		default:
			err = fmt.Errorf("unknown interaction key %q", key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("interaction item is empty")
	}
	return result, nil
}

func (s *Service) parseChoice(node *yml.Node) (*model.Interaction, error) {
	choice := &model.Interaction{Kind: model.KindChoice}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "at":
			choice.At = model.Role(valueNode.Value)
		case "branches":
			return valueNode.Items(func(index int, branchNode *yml.Node) error {
				branch, err := s.parseSteps(branchNode)
				if err != nil {
					return fmt.Errorf("branch %d: %w", index, err)
				}
				choice.Branches = append(choice.Branches, branch)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return choice, nil
}

func (s *Service) parseRecursion(node *yml.Node) (*model.Interaction, error) {
	rec := &model.Interaction{Kind: model.KindRecursion}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "label":
			rec.Loop = valueNode.Value
		case "body":
			body, err := s.parseSteps(valueNode)
			if err != nil {
				return err
			}
			rec.Body = body
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) parseParallel(node *yml.Node) (*model.Interaction, error) {
	par := &model.Interaction{Kind: model.KindParallel}
	err := node.Items(func(index int, branchNode *yml.Node) error {
		branch, err := s.parseSteps(branchNode)
		if err != nil {
			return fmt.Errorf("branch %d: %w", index, err)
		}
		par.Branches = append(par.Branches, branch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return par, nil
}

func (s *Service) parseInvocation(node *yml.Node) (*model.Interaction, error) {
	invocation := &model.Interaction{Kind: model.KindInvocation}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "protocol":
			invocation.Protocol = valueNode.Value
		case "args":
			return valueNode.Items(func(_ int, argNode *yml.Node) error {
				invocation.Args = append(invocation.Args, model.Role(argNode.Value))
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invocation, nil
}
