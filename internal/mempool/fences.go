package mempool

// Fence byte patterns written either side of every live block/buffer header in
// the resizable allocator, the classic
// oscl_mem_mempool.cpp (OSCLMEMPOOLRESIZABLEALLOCATOR_PRE/POSTFENCE_PATTERN).
const (
	preFence  byte = 0x55
	postFence byte = 0xAA
)

// poison fills a freshly grown buffer's payload with the pre-fence byte, the
// so a new buffer reads as 0x55 before any
// block headers are carved out of it. This makes an unwritten-but-read payload
// visibly wrong in tests instead of silently returning zeroes.
func poison(b []byte) {
	for i := range b {
		b[i] = preFence
	}
}
