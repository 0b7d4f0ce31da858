// Package fetcher contains per-store price acquisition connectors.
package fetcher

import (
	"context"
	"sort"
	"strings"

	"grocery-pricing/internal/models"
)

// Fetcher acquires the current price of a product at one store.
// A nil observation with a nil error means the store has no matching product.
type Fetcher interface {
	Store() string
	Fetch(ctx context.Context, product string) (*models.PriceObservation, error)
}

// Registry holds one fetcher per store id
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry creates a registry from the given fetchers; later fetchers
// replace earlier ones registered for the same store.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[string]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.fetchers[strings.ToLower(f.Store())] = f
	}
	return r
}

// Get returns the fetcher for a store
func (r *Registry) Get(store string) (Fetcher, bool) {
	f, ok := r.fetchers[strings.ToLower(store)]
	return f, ok
}

// Stores returns the registered store ids in sorted order
func (r *Registry) Stores() []string {
	stores := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		stores = append(stores, s)
	}
	sort.Strings(stores)
	return stores
}
