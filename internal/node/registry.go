package node

import "github.com/hbomb79/pvplayer/internal/perr"

// CapabilitySet is the set of callables a node publishes, one row per UUID;
// the engine's QueryInterface is then just a lookup against these rows.
type CapabilitySet map[UUID]any

// CapabilityRegistry is a flat, per-node capability table. Nodes populate it
// during construction; the engine's QueryInterface phase (internal/engine's
// adddatasource.go / prepare.go) is then just a map lookup instead of a
// virtual-inheritance dynamic cast.
type CapabilityRegistry struct {
	rows CapabilitySet
}

func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{rows: make(CapabilitySet)}
}

// Publish registers iface under id, overwriting any previous registration.
func (r *CapabilityRegistry) Publish(id UUID, iface any) {
	r.rows[id] = iface
}

// Lookup returns the interface published under id, or ErrNotSupported if no
// such capability was published.
func (r *CapabilityRegistry) Lookup(id UUID) (any, error) {
	iface, ok := r.rows[id]
	if !ok {
		return nil, perr.New(perr.ErrNotSupported, "capability %s not published by this node", id)
	}
	return iface, nil
}

// Has reports whether id is published, without allocating an error.
func (r *CapabilityRegistry) Has(id UUID) bool {
	_, ok := r.rows[id]
	return ok
}
