package mempool

import (
	"sync"
	"unsafe"

	"github.com/hbomb79/pvplayer/internal/perr"
	"github.com/hbomb79/pvplayer/pkg/logger"
)

var log = logger.Get("MemPool")

const defaultAlignment = 8

func alignUp(n, alignment int) int {
	if alignment <= 1 {
		return n
	}
	return (n + alignment - 1) &^ (alignment - 1)
}

// freeChunkWaiter is the one-shot registration used by notifyFreeChunkAvailable.
type freeChunkWaiter struct {
	observer func(ctx any)
	context  any
}

// FixedChunkAllocator is the fixed-chunk memory pool: a slab of
// chunkCount identically-sized chunks, refcounted, with a LIFO free list and a
// one-shot "free chunk available" waiter.
//
// Ownership and all mutation of a FixedChunkAllocator must stay on a single
// goroutine - the mutex here exists to catch accidental misuse
// rather than to support concurrent producers/consumers.
type FixedChunkAllocator struct {
	mu sync.Mutex

	chunkCount       int
	chunkSize        int
	chunkSizeAligned int

	slab     []byte
	base     unsafe.Pointer
	freeList []unsafe.Pointer

	refCount  int
	destroyed bool
	waiter    *freeChunkWaiter
}

// NewFixedChunkAllocator creates a pool of chunkCount chunks. The chunk size
// itself is not fixed until the first Allocate call, matching the
// first caller's request.
func NewFixedChunkAllocator(chunkCount int) *FixedChunkAllocator {
	return &FixedChunkAllocator{
		chunkCount: chunkCount,
		refCount:   1,
	}
}

// Allocate returns a pointer to an nBytes-capacity chunk. The pool's chunk
// size is fixed on the first call.
func (p *FixedChunkAllocator) Allocate(nBytes int) (unsafe.Pointer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return nil, perr.New(perr.ErrNotReady, "fixed chunk pool already destroyed")
	}

	if p.chunkSize == 0 {
		p.build(nBytes)
	}

	if nBytes > p.chunkSize {
		return nil, perr.New(perr.ErrArgument, "requested %d bytes exceeds chunk size %d", nBytes, p.chunkSize)
	}

	if len(p.freeList) == 0 {
		return nil, perr.New(perr.ErrNoResources, "fixed chunk pool exhausted (%d chunks in use)", p.chunkCount)
	}

	last := len(p.freeList) - 1
	addr := p.freeList[last]
	p.freeList = p.freeList[:last]
	p.refCount++

	return addr, nil
}

func (p *FixedChunkAllocator) build(nBytes int) {
	p.chunkSize = nBytes
	p.chunkSizeAligned = alignUp(nBytes, defaultAlignment)
	p.slab = make([]byte, p.chunkCount*p.chunkSizeAligned)
	poison(p.slab)
	p.base = unsafe.Pointer(&p.slab[0])

	p.freeList = make([]unsafe.Pointer, 0, p.chunkCount)
	for i := 0; i < p.chunkCount; i++ {
		p.freeList = append(p.freeList, unsafe.Add(p.base, i*p.chunkSizeAligned))
	}
}

// Deallocate returns a chunk to the pool. ptr must be a value previously
// returned by Allocate and not already deallocated.
func (p *FixedChunkAllocator) Deallocate(ptr unsafe.Pointer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return perr.New(perr.ErrArgument, "fixed chunk pool already destroyed")
	}

	if !p.owns(ptr) {
		return perr.New(perr.ErrArgument, "pointer does not belong to this pool or is misaligned")
	}

	p.freeList = append(p.freeList, ptr)

	if p.waiter != nil {
		w := p.waiter
		p.waiter = nil
		w.observer(w.context)
	}

	return p.decrementRefCount()
}

// owns validates that ptr lies within [base, base+chunkCount*chunkSizeAligned)
// and is aligned to a chunk boundary.
func (p *FixedChunkAllocator) owns(ptr unsafe.Pointer) bool {
	if p.slab == nil {
		return false
	}

	start := uintptr(p.base)
	end := start + uintptr(p.chunkCount*p.chunkSizeAligned)
	addr := uintptr(ptr)

	if addr < start || addr >= end {
		return false
	}

	return (addr-start)%uintptr(p.chunkSizeAligned) == 0
}

// NotifyFreeChunkAvailable registers a one-shot observer that fires the next
// time a chunk is deallocated. Registering again before it has fired replaces
// the previous registration.
func (p *FixedChunkAllocator) NotifyFreeChunkAvailable(observer func(ctx any), context any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.waiter = &freeChunkWaiter{observer: observer, context: context}
}

// CancelNotify clears any pending waiter registration without firing it.
func (p *FixedChunkAllocator) CancelNotify() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.waiter = nil
}

// Release is the allocator's destructor-equivalent decrement; the owner
// calls it once it no longer needs the pool.
func (p *FixedChunkAllocator) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.decrementRefCount()
}

// decrementRefCount must be called with mu held. Self-destruction happens
// exactly once, on the decrement that drives refCount to zero or below
// .
func (p *FixedChunkAllocator) decrementRefCount() error {
	p.refCount--
	if p.refCount <= 0 && !p.destroyed {
		p.destroyed = true
		p.slab = nil
		p.freeList = nil
		log.Debugf("fixed chunk pool self-destructed (chunkSize=%d, chunkCount=%d)\n", p.chunkSize, p.chunkCount)
	}
	return nil
}

// FreeCount returns the number of chunks currently available for allocation.
func (p *FixedChunkAllocator) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.freeList)
}

// ChunkSize returns the (possibly not-yet-fixed, i.e. zero) chunk size.
func (p *FixedChunkAllocator) ChunkSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunkSize
}

// Destroyed reports whether the pool has self-destructed.
func (p *FixedChunkAllocator) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}
