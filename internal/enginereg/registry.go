// Package enginereg implements the Engine Registry & Auth Cache:
// an insertion-ordered list of agent engines plus a 5-minute TTL cache
// over their authentication checks.
package enginereg

import (
	"sort"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// Registry holds the discovery-ordered list of engine descriptors. The
// first-registered engine is the default.
type Registry struct {
	order []string
	byID  map[string]types.Engine
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[string]types.Engine)}
}

// Register adds an engine under its metadata id. Re-registering an id
// replaces the engine but keeps its original position in the order, so
// the default (first-registered) never silently changes underfoot.
func (r *Registry) Register(e types.Engine) {
	id := e.Metadata().ID
	if _, exists := r.byID[id]; !exists {
		r.order = append(r.order, id)
	}
	r.byID[id] = e
}

// Get resolves an engine by id.
func (r *Registry) Get(id string) (types.Engine, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, cmerrors.EngineNotFound(id)
	}
	return e, nil
}

// Default returns the first-registered engine, or an error if the
// registry is empty.
func (r *Registry) Default() (types.Engine, error) {
	if len(r.order) == 0 {
		return nil, cmerrors.EngineNotFound("<none registered>")
	}
	return r.byID[r.order[0]], nil
}

// List returns every registered engine's metadata in discovery order.
func (r *Registry) List() []types.EngineMetadata {
	out := make([]types.EngineMetadata, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Metadata())
	}
	return out
}

// Order returns the registered engine ids in discovery order.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SortedIDs returns the registered ids sorted lexically, useful for
// deterministic test output; discovery order (Order) is what engine
// selection actually walks.
func (r *Registry) SortedIDs() []string {
	out := r.Order()
	sort.Strings(out)
	return out
}
