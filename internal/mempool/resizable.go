package mempool

import (
	"sync"

	"github.com/hbomb79/pvplayer/internal/perr"
)

// These constants represent the bookkeeping overhead of a block/buffer
// header; a block's recorded size includes it. Headers are not literally
// packed into the byte slab - each lives as an ordinary Go struct - but they
// still count against block/buffer sizing so splitting, growth, and eviction
// arithmetic treats them as if they were.
const (
	blockHeaderSize  = 32
	bufferHeaderSize = 32
	minBlockSize     = 16
)

// blockHeader is one block inside a buffer. prev/next are only meaningful
// while the block is free; a live (allocated) block is unlinked from both.
type blockHeader struct {
	preFence  byte
	postFence byte
	offset    int // start offset (header-inclusive) within parent.payload
	size      int // total size, header included
	free      bool
	parent    *bufferHeader
	prev      *blockHeader
	next      *blockHeader
}

func newBlockHeader(parent *bufferHeader, offset, size int) *blockHeader {
	return &blockHeader{
		preFence:  preFence,
		postFence: postFence,
		offset:    offset,
		size:      size,
		parent:    parent,
		free:      true,
	}
}

func (b *blockHeader) dataCapacity() int { return b.size - blockHeaderSize }

func (b *blockHeader) dataBytes() []byte {
	start := b.offset + blockHeaderSize
	return b.parent.payload[start : start+b.dataCapacity()]
}

func (b *blockHeader) fencesIntact() bool {
	return b.preFence == preFence && b.postFence == postFence
}

// bufferHeader is one growable slab owned by a ResizableBlockAllocator.
type bufferHeader struct {
	preFence         byte
	postFence        byte
	payload          []byte
	size             int
	outstandingCount int
	freeHead         *blockHeader // address-ordered doubly linked free list
}

func (buf *bufferHeader) fencesIntact() bool {
	return buf.preFence == preFence && buf.postFence == postFence
}

// Block is the handle returned by Allocate - callers read/write Bytes() and
// pass the Block back to Deallocate or Trim.
type Block struct {
	header *blockHeader
}

// Bytes returns the block's live data capacity. The slice is only valid until
// the block is deallocated or trimmed.
func (b *Block) Bytes() []byte { return b.header.dataBytes() }

// Len returns the block's current data capacity in bytes.
func (b *Block) Len() int { return b.header.dataCapacity() }

type freeBlockWaiter struct {
	observer      func(ctx any)
	requestedSize int
	context       any
}

// ResizableBlockAllocator is the resizable-block memory pool: one or more
// buffers, each carved into blocks with an address-ordered free list.
type ResizableBlockAllocator struct {
	mu sync.Mutex

	nominalBufferSize       int
	bufferCountLimit        int // 0 = unlimited
	expectedBlocksPerBuffer int

	buffers []*bufferHeader

	refCount       int
	pendingDestroy bool
	destroyed      bool
	waiter         *freeBlockWaiter
}

// NewResizableBlockAllocator constructs an allocator that grows buffers sized
// around nominalBufferSize (aligned), never exceeding bufferCountLimit
// concurrent buffers (0 = unlimited), each expected to hold roughly
// expectedBlocksPerBuffer blocks (used only to size a newly grown buffer's
// bookkeeping overhead).
func NewResizableBlockAllocator(nominalBufferSize, bufferCountLimit, expectedBlocksPerBuffer int) *ResizableBlockAllocator {
	if expectedBlocksPerBuffer <= 0 {
		expectedBlocksPerBuffer = 1
	}

	return &ResizableBlockAllocator{
		nominalBufferSize:       alignUp(nominalBufferSize, defaultAlignment),
		bufferCountLimit:        bufferCountLimit,
		expectedBlocksPerBuffer: expectedBlocksPerBuffer,
		refCount:                1,
	}
}

// Allocate returns a Block with at least nBytes of usable capacity.
func (a *ResizableBlockAllocator) Allocate(nBytes int) (*Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return nil, perr.New(perr.ErrNotReady, "resizable pool already destroyed")
	}
	if nBytes <= 0 {
		return nil, perr.New(perr.ErrArgument, "allocation size must be positive")
	}

	aligned := alignUp(nBytes, defaultAlignment)
	needed := aligned + blockHeaderSize

	for _, buf := range a.buffers {
		if blk := findFirstFit(buf, needed); blk != nil {
			return a.carve(buf, blk, aligned), nil
		}
	}

	buf, err := a.growLocked(nBytes)
	if err != nil {
		return nil, err
	}

	blk := findFirstFit(buf, needed)
	if blk == nil {
		return nil, perr.New(perr.ErrFailure, "newly grown buffer cannot satisfy its own allocation request")
	}

	return a.carve(buf, blk, aligned), nil
}

// growLocked appends a newly allocated buffer, evicting an empty one first if
// the buffer-count limit has been reached. Caller must hold a.mu.
func (a *ResizableBlockAllocator) growLocked(nBytes int) (*bufferHeader, error) {
	if a.bufferCountLimit > 0 && len(a.buffers) >= a.bufferCountLimit {
		idx := a.findEvictableBufferLocked()
		if idx < 0 {
			return nil, perr.New(perr.ErrNoResources, "buffer count limit (%d) reached and no empty buffer to evict", a.bufferCountLimit)
		}
		a.buffers = append(a.buffers[:idx], a.buffers[idx+1:]...)
	}

	size := nBytes
	if a.nominalBufferSize > size {
		size = a.nominalBufferSize
	}
	size += bufferHeaderSize + a.expectedBlocksPerBuffer*blockHeaderSize
	size = alignUp(size, defaultAlignment)

	payload := make([]byte, size)
	poison(payload)

	buf := &bufferHeader{
		preFence:  preFence,
		postFence: postFence,
		payload:   payload,
		size:      size,
	}
	buf.freeHead = newBlockHeader(buf, 0, size)

	a.buffers = append(a.buffers, buf)
	return buf, nil
}

func (a *ResizableBlockAllocator) findEvictableBufferLocked() int {
	for i, buf := range a.buffers {
		if buf.outstandingCount == 0 {
			return i
		}
	}
	return -1
}

func findFirstFit(buf *bufferHeader, needed int) *blockHeader {
	for blk := buf.freeHead; blk != nil; blk = blk.next {
		if blk.size >= needed {
			return blk
		}
	}
	return nil
}

// carve removes blk from buf's free list (splitting off a trailing free
// remainder when it is worth keeping) and returns the live Block. Caller must
// hold a.mu.
func (a *ResizableBlockAllocator) carve(buf *bufferHeader, blk *blockHeader, aligned int) *Block {
	needed := aligned + blockHeaderSize
	remainder := blk.size - needed

	unlinkFree(buf, blk)

	if remainder >= blockHeaderSize+minBlockSize {
		blk.size = needed
		free := newBlockHeader(buf, blk.offset+needed, remainder)
		insertFree(buf, free)
	}

	blk.free = false
	blk.prev, blk.next = nil, nil
	buf.outstandingCount++

	return &Block{header: blk}
}

// Deallocate returns a live block to its parent buffer's free list, merging
// with any address-adjacent free neighbors.
func (a *ResizableBlockAllocator) Deallocate(b *Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, err := a.validateLiveBlock(b)
	if err != nil {
		return err
	}

	blk := b.header
	blk.free = true
	insertFree(buf, blk)
	buf.outstandingCount--

	a.fireWaiterIfSatisfiedLocked()
	a.maybeSelfDestructLocked()

	return nil
}

// Trim releases the trailing nBytes (aligned) of a live block back to the
// pool as a new free block, provided what remains still has room for a
// header plus the minimum block size. It reports whether the trim was
// applied; a false return (with nil error) means the block was left
// untouched because trimming it would leave an unusably small remainder.
func (a *ResizableBlockAllocator) Trim(b *Block, nBytes int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, err := a.validateLiveBlock(b)
	if err != nil {
		return false, err
	}

	blk := b.header
	aligned := alignUp(nBytes, defaultAlignment)
	if aligned <= 0 || aligned >= blk.dataCapacity() {
		return false, nil
	}

	freedSize := aligned + blockHeaderSize
	if freedSize < blockHeaderSize+minBlockSize {
		return false, nil
	}
	if blk.size-freedSize < blockHeaderSize+minBlockSize {
		return false, nil
	}

	newOffset := blk.offset + blk.size - freedSize
	blk.size -= freedSize

	free := newBlockHeader(buf, newOffset, freedSize)
	insertFree(buf, free)

	a.fireWaiterIfSatisfiedLocked()

	return true, nil
}

// validateLiveBlock checks that b belongs to this allocator, is currently
// live, and has intact fences.
func (a *ResizableBlockAllocator) validateLiveBlock(b *Block) (*bufferHeader, error) {
	if b == nil || b.header == nil {
		return nil, perr.New(perr.ErrArgument, "nil block")
	}

	blk := b.header
	if blk.free {
		return nil, perr.New(perr.ErrArgument, "block is already free")
	}
	if !blk.fencesIntact() {
		return nil, perr.New(perr.ErrArgument, "block fence corrupted")
	}

	buf := blk.parent
	if buf == nil || !buf.fencesIntact() {
		return nil, perr.New(perr.ErrArgument, "parent buffer fence corrupted")
	}
	if !a.ownsBuffer(buf) {
		return nil, perr.New(perr.ErrArgument, "block's parent buffer is not registered with this allocator")
	}
	if blk.offset+blk.size > buf.size {
		return nil, perr.New(perr.ErrArgument, "block extends past end of buffer")
	}

	return buf, nil
}

func (a *ResizableBlockAllocator) ownsBuffer(buf *bufferHeader) bool {
	for _, b := range a.buffers {
		if b == buf {
			return true
		}
	}
	return false
}

// insertFree splices blk into buf's address-ordered free list and merges it
// with any address-adjacent neighbors.
func insertFree(buf *bufferHeader, blk *blockHeader) {
	var prev, cur *blockHeader
	for cur = buf.freeHead; cur != nil && cur.offset < blk.offset; cur = cur.next {
		prev = cur
	}

	blk.prev, blk.next = prev, cur
	if prev != nil {
		prev.next = blk
	} else {
		buf.freeHead = blk
	}
	if cur != nil {
		cur.prev = blk
	}

	mergeRight(buf, blk)
	if blk.prev != nil {
		mergeRight(buf, blk.prev)
	}
}

// mergeRight merges blk with its list-successor if they are address-adjacent.
func mergeRight(buf *bufferHeader, blk *blockHeader) {
	right := blk.next
	if right == nil || blk.offset+blk.size != right.offset {
		return
	}

	blk.size += right.size
	blk.next = right.next
	if right.next != nil {
		right.next.prev = blk
	}
}

func unlinkFree(buf *bufferHeader, blk *blockHeader) {
	if blk.prev != nil {
		blk.prev.next = blk.next
	} else {
		buf.freeHead = blk.next
	}
	if blk.next != nil {
		blk.next.prev = blk.prev
	}
	blk.prev, blk.next = nil, nil
}

// NotifyFreeBlockAvailable registers a one-shot waiter that fires on the next
// Deallocate if the registered size predicate is satisfied at
// that time.
func (a *ResizableBlockAllocator) NotifyFreeBlockAvailable(observer func(ctx any), requestedSize int, context any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.waiter = &freeBlockWaiter{observer: observer, requestedSize: requestedSize, context: context}
}

// CancelNotify clears any pending waiter registration without firing it.
func (a *ResizableBlockAllocator) CancelNotify() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.waiter = nil
}

func (a *ResizableBlockAllocator) fireWaiterIfSatisfiedLocked() {
	if a.waiter == nil {
		return
	}

	if a.waiterPredicateSatisfiedLocked(a.waiter.requestedSize) {
		w := a.waiter
		a.waiter = nil
		w.observer(w.context)
	}
}

func (a *ResizableBlockAllocator) waiterPredicateSatisfiedLocked(requestedSize int) bool {
	if requestedSize == 0 {
		return true
	}

	needed := requestedSize + blockHeaderSize
	for _, buf := range a.buffers {
		for blk := buf.freeHead; blk != nil; blk = blk.next {
			if blk.size >= needed {
				return true
			}
		}
	}

	if requestedSize > a.nominalBufferSize {
		if a.bufferCountLimit == 0 || len(a.buffers) < a.bufferCountLimit {
			return true
		}
		return a.findEvictableBufferLocked() >= 0
	}

	return false
}

// Acquire increments the allocator's reference count; pair with Release.
func (a *ResizableBlockAllocator) Acquire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refCount++
}

// Release decrements the allocator's reference count. Self-destruction only
// completes once every buffer's outstandingCount has also reached zero; if
// blocks are still live when the count hits zero, destruction is deferred
// until the last Deallocate drains them (see maybeSelfDestructLocked).
func (a *ResizableBlockAllocator) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.refCount--
	if a.refCount <= 0 {
		a.pendingDestroy = true
		a.maybeSelfDestructLocked()
	}

	return nil
}

func (a *ResizableBlockAllocator) maybeSelfDestructLocked() {
	if !a.pendingDestroy || a.destroyed {
		return
	}

	for _, buf := range a.buffers {
		if buf.outstandingCount > 0 {
			return
		}
	}

	a.destroyed = true
	a.buffers = nil
	log.Debugf("resizable block pool self-destructed\n")
}

// Destroyed reports whether the allocator has self-destructed.
func (a *ResizableBlockAllocator) Destroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}

// BufferCount returns the number of buffers currently owned by the allocator.
func (a *ResizableBlockAllocator) BufferCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// FreeBlockSizes returns the size (data capacity) of every free block across
// every buffer, in buffer-then-address order. Intended for tests asserting
// the allocator's structural invariants.
func (a *ResizableBlockAllocator) FreeBlockSizes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sizes []int
	for _, buf := range a.buffers {
		for blk := buf.freeHead; blk != nil; blk = blk.next {
			sizes = append(sizes, blk.dataCapacity())
		}
	}
	return sizes
}
