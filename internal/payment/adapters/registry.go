package adapters

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/viotraix/internal/payment/domain"
)

// Registry resolves a webhook path segment such as "lemonsqueezy" to the
// adapter that verifies and parses that provider's deliveries.
type Registry struct {
	byName map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{byName: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := normalize(f.Provider()); name != "" {
			r.byName[name] = f
		}
	}
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.lookup(provider)
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	f, ok := r.lookup(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, provider)
	}
	return f.NewAdapter(cfg)
}

func (r *Registry) lookup(provider string) (domain.AdapterFactory, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.byName[normalize(provider)]
	return f, ok
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
