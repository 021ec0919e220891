package node

import (
	"sync/atomic"

	pvsync "github.com/hbomb79/pvplayer/pkg/sync"
)

// handle is the engine-side registry index plus a generation counter,
// so that graph ownership stays acyclic: nodes only
// ever hold this weak handle back to the engine, never a live pointer, so a
// node that outlives its session cannot resurrect a stale Observer.
type handle struct {
	index      uint64
	generation uint64
}

// SessionRegistry hands out SessionIDs for node sessions and lets the engine
// look up (or safely fail to look up, once closed) the Observer/context a
// session was opened with. Backed by pkg/sync.TypedSyncMap, kept from the
// for registries like this one: the table is read far more often than
// written, which is exactly the access pattern sync.Map is built for.
type SessionRegistry struct {
	nextID     uint64
	generation uint64
	sessions   pvsync.TypedSyncMap[SessionID, *sessionEntry]
}

type sessionEntry struct {
	handle handle
	owner  any // engine-side datapath or node-specific context
	closed atomic.Bool
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// Open allocates a new session id bound to owner and returns it.
func (r *SessionRegistry) Open(owner any) SessionID {
	id := SessionID(atomic.AddUint64(&r.nextID, 1))
	gen := atomic.AddUint64(&r.generation, 1)
	r.sessions.Store(id, &sessionEntry{handle: handle{index: uint64(id), generation: gen}, owner: owner})
	return id
}

// Close marks id closed. Subsequent Lookup calls fail rather than returning
// the stale owner, preventing use-after-free through a callback that arrives
// after the session was torn down.
func (r *SessionRegistry) Close(id SessionID) {
	if e, ok := r.sessions.Load(id); ok {
		e.closed.Store(true)
	}
	r.sessions.Delete(id)
}

// Lookup returns the owner bound to id, or false if the session was never
// opened or has since been closed.
func (r *SessionRegistry) Lookup(id SessionID) (any, bool) {
	e, ok := r.sessions.Load(id)
	if !ok || e.closed.Load() {
		return nil, false
	}
	return e.owner, true
}
