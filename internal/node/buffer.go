package node

// MediaBuffer is one unit of media data travelling a datapath leg. Release
// returns the backing storage to whichever pool produced it; producers set it,
// the final consumer calls it exactly once.
type MediaBuffer struct {
	Data        []byte
	TimestampMS int64
	Release     func()
}
