package mempool

import (
	"testing"

	"github.com/hbomb79/pvplayer/internal/perr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizableBlockAllocator_AllocateWritesAndReadsBack(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 4)

	blk, err := a.Allocate(100)
	require.NoError(t, err)
	require.GreaterOrEqual(t, blk.Len(), 100)

	data := blk.Bytes()
	for i := range data {
		data[i] = byte(i)
	}
	for i, b := range blk.Bytes() {
		assert.Equal(t, byte(i), b)
	}
}

func TestResizableBlockAllocator_DeallocateMergesAdjacentFreeBlocks(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 8)

	b1, err := a.Allocate(64)
	require.NoError(t, err)
	b2, err := a.Allocate(64)
	require.NoError(t, err)
	b3, err := a.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, a.Deallocate(b1))
	require.NoError(t, a.Deallocate(b3))

	// b1 and b3 are free but not adjacent to each other (b2 sits between
	// them), so the free list should have two distinct entries so far.
	assert.Len(t, a.FreeBlockSizes(), 2)

	require.NoError(t, a.Deallocate(b2))

	// With b2 freed, all three are address-adjacent and should merge into a
	// single free block spanning the whole buffer.
	sizes := a.FreeBlockSizes()
	require.Len(t, sizes, 1)
}

func TestResizableBlockAllocator_GrowsNewBufferWhenExhausted(t *testing.T) {
	a := NewResizableBlockAllocator(256, 0, 2)

	var blocks []*Block
	for i := 0; i < 20; i++ {
		blk, err := a.Allocate(64)
		require.NoError(t, err)
		blocks = append(blocks, blk)
	}

	assert.Greater(t, a.BufferCount(), 1)
}

func TestResizableBlockAllocator_EvictsEmptyBufferAtCountLimit(t *testing.T) {
	a := NewResizableBlockAllocator(128, 1, 2)

	b1, err := a.Allocate(64)
	require.NoError(t, err)
	assert.Equal(t, 1, a.BufferCount())

	require.NoError(t, a.Deallocate(b1))

	// First buffer is now empty; a request too big for it forces a grow,
	// which must evict the empty buffer rather than exceed the limit.
	_, err = a.Allocate(1024)
	require.NoError(t, err)
	assert.Equal(t, 1, a.BufferCount())
}

func TestResizableBlockAllocator_GrowFailsWhenNoBufferEvictable(t *testing.T) {
	a := NewResizableBlockAllocator(128, 1, 2)

	_, err := a.Allocate(64)
	require.NoError(t, err)

	// Buffer still has a live block outstanding, so it cannot be evicted to
	// make room for a second buffer.
	_, err = a.Allocate(4096)
	require.Error(t, err)
	assert.Equal(t, perr.ErrNoResources, perr.StatusOf(err))
}

func TestResizableBlockAllocator_TrimShrinksAndReturnsTailAsFreeBlock(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 4)

	blk, err := a.Allocate(512)
	require.NoError(t, err)
	originalLen := blk.Len()

	applied, err := a.Trim(blk, 64)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Less(t, blk.Len(), originalLen)
	assert.GreaterOrEqual(t, blk.Len(), 64)

	assert.NotEmpty(t, a.FreeBlockSizes())
}

func TestResizableBlockAllocator_TrimAppliesAgainToTrimmedBlock(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 4)

	blk, err := a.Allocate(1024)
	require.NoError(t, err)

	applied1, err := a.Trim(blk, 32)
	require.NoError(t, err)
	require.True(t, applied1)
	lenAfterFirst := blk.Len()

	applied2, err := a.Trim(blk, 32)
	require.NoError(t, err)
	require.True(t, applied2)
	assert.Less(t, blk.Len(), lenAfterFirst)
}

func TestResizableBlockAllocator_TrimRefusesWhenRemainderTooSmall(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 4)

	blk, err := a.Allocate(40)
	require.NoError(t, err)

	applied, err := a.Trim(blk, 32)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestResizableBlockAllocator_NotifyFreeBlockAvailableFiresOnMatchingDeallocate(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 4)

	b1, err := a.Allocate(512)
	require.NoError(t, err)
	b2, err := a.Allocate(512)
	require.NoError(t, err)

	fired := false
	a.NotifyFreeBlockAvailable(func(ctx any) { fired = true }, 256, nil)

	require.NoError(t, a.Deallocate(b1))
	assert.True(t, fired)

	require.NoError(t, a.Deallocate(b2))
}

func TestResizableBlockAllocator_ValidateRejectsCorruptedFence(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 4)

	blk, err := a.Allocate(64)
	require.NoError(t, err)

	blk.header.preFence = 0x00

	err = a.Deallocate(blk)
	require.Error(t, err)
	assert.Equal(t, perr.ErrArgument, perr.StatusOf(err))
}

func TestResizableBlockAllocator_RefCountDefersDestructionUntilBlocksDrain(t *testing.T) {
	a := NewResizableBlockAllocator(4096, 0, 4)

	blk, err := a.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, a.Release())
	assert.False(t, a.Destroyed())

	require.NoError(t, a.Deallocate(blk))
	assert.True(t, a.Destroyed())
}
