// Package policy provides a simple, optional gate over verification checks
// that can be attached to an analysis run via context.  It is deliberately
// decoupled from the rest of chorus so that using it is entirely opt-in –
// runs that do not embed a Policy in their context execute every check.

package policy

import (
	"context"
	"strings"
)

// Policy selects which finding categories a verification run executes.
//
//   - EnableList, DisableList allow coarse filtering by category name.
//   - DisableList has priority; an empty EnableList means "all".
//
// A nil *Policy means "run every check" and is therefore the zero-cost
// default.
type Policy struct {
	EnableList  []string `json:"enable,omitempty" yaml:"enable,omitempty"`
	DisableList []string `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// IsEnabled evaluates EnableList / DisableList. Both lists match by exact,
// case-insensitive comparison of the category name.
func (p *Policy) IsEnabled(category string) bool {
	if p == nil {
		return true
	}

	normalized := strings.ToLower(category)

	for _, d := range p.DisableList {
		if normalized == strings.ToLower(d) {
			return false
		}
	}

	if len(p.EnableList) == 0 {
		return true
	}

	for _, e := range p.EnableList {
		if normalized == strings.ToLower(e) {
			return true
		}
	}

	return false
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts the policy, or nil when none is attached.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
