package engine

import (
	"unsafe"

	"github.com/hbomb79/pvplayer/internal/mempool"
	"github.com/hbomb79/pvplayer/internal/node"
)

// engineContextPoolSize bounds the number of sub-commands the engine may
// have outstanding against nodes/datapaths at once. 256 comfortably covers
// every phase of every engine procedure fanning out across a realistic
// track count; exhaustion here means something is leaking contexts rather
// than a legitimate workload.
const engineContextPoolSize = 256

// EngineContext is the engine-internal sub-command context: one per
// outstanding sub-command, used to route a node or datapath completion
// callback back to the right phase of a multi-step procedure. It is handed
// down as the cmdCtx argument of every node call the engine issues and
// echoed back verbatim in CmdResponse.CmdContext.
type EngineContext struct {
	DatapathIndex int
	Node          node.Node
	Datapath      *Datapath
	CmdID         uint64
	CmdContext    any
	CmdType       CmdType

	// Phase identifies which step of the owning procedure issued this
	// sub-command, so a completion callback lands in the right branch
	// without needing to re-derive it from CmdType alone.
	Phase string

	// Aux holds procedure-private bookkeeping that doesn't fit the other
	// fields - e.g. which capability UUID a QueryInterface call was issued
	// for, so the completion callback knows which row to publish into.
	Aux any

	// gen records the engine's procedure generation at issue time. A
	// completion whose generation no longer matches belongs to a procedure
	// that was cancelled or otherwise superseded and is dropped instead of
	// corrupting the current procedure's countdown counters.
	gen uint64

	token unsafe.Pointer
}

// contextPool hands out EngineContext values backed by a
// mempool.FixedChunkAllocator. The allocator's chunk is used purely as a
// capacity/backpressure token - the allocator never reads or writes through
// it, since the EngineContext payload itself is an ordinary Go value.
type contextPool struct {
	alloc *mempool.FixedChunkAllocator
}

func newContextPool() *contextPool {
	return &contextPool{alloc: mempool.NewFixedChunkAllocator(engineContextPoolSize)}
}

// acquire reserves pool capacity for a new sub-command context and returns
// it populated with the given fields. Failure (pool exhausted) means the
// engine has too many sub-commands in flight simultaneously - the caller
// should fail the phase with ErrNoResources rather than proceed unbounded.
func (p *contextPool) acquire(datapathIdx int, n node.Node, dp *Datapath, cmdType CmdType, cmdCtx any, phase string) (*EngineContext, error) {
	tok, err := p.alloc.Allocate(1)
	if err != nil {
		return nil, err
	}

	return &EngineContext{
		DatapathIndex: datapathIdx,
		Node:          n,
		Datapath:      dp,
		CmdType:       cmdType,
		CmdContext:    cmdCtx,
		Phase:         phase,
		token:         tok,
	}, nil
}

// release returns c's reserved capacity to the pool. Safe to call with nil
// or an already-released context.
func (p *contextPool) release(c *EngineContext) {
	if c == nil || c.token == nil {
		return
	}
	_ = p.alloc.Deallocate(c.token)
	c.token = nil
}
