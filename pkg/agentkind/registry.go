package agentkind

import (
	"fmt"

	"github.com/sobrief/orchestrator/pkg/registry"
)

// Registry holds Declarations keyed by kind name, built on the generic
// registry so registration/lookup/concurrency semantics match the rest of
// the module.
type Registry struct {
	base *registry.BaseRegistry[Declaration]
}

// NewRegistry builds a registry seeded with Defaults(). Callers that need a
// bare registry for tests can call NewEmptyRegistry instead.
func NewRegistry() (*Registry, error) {
	r := NewEmptyRegistry()
	for _, d := range Defaults() {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewEmptyRegistry builds a registry with no declarations registered.
func NewEmptyRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Declaration]()}
}

// Register adds a declaration, failing if its kind is already registered.
func (r *Registry) Register(d Declaration) error {
	if err := r.base.Register(string(d.Kind), d); err != nil {
		return fmt.Errorf("register agent kind %q: %w", d.Kind, err)
	}
	return nil
}

// Get looks up a declaration by kind name.
func (r *Registry) Get(kind string) (Declaration, bool) {
	return r.base.Get(kind)
}

// List returns every registered declaration in no particular order; callers
// that need determinism (e.g. the scheduler's merge) must sort by kind name
// themselves.
func (r *Registry) List() []Declaration {
	return r.base.List()
}

// Count returns the number of registered kinds.
func (r *Registry) Count() int {
	return r.base.Count()
}
