// Package search fans entity queries out to registered search providers.
package search

import (
	"context"
	"fmt"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

// Provider captures a single search backend (a configured news site, an API, etc.).
type Provider interface {
	Name() string
	Search(ctx context.Context, q ports.SearchQuery) ([]domain.SourceItem, error)
}

// Registry keeps providers by name in registration order.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds or replaces a provider implementation.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = map[string]Provider{}
	}
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Resolve returns a provider by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("search provider %s is not registered", name)
}

// Names lists providers in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len reports how many providers are registered.
func (r *Registry) Len() int {
	return len(r.order)
}
