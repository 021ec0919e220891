package engine

import "github.com/hbomb79/pvplayer/internal/node"

// MediaType classifies a datapath's track.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaVideo
	MediaAudio
	MediaText
)

func (m MediaType) String() string {
	switch m {
	case MediaVideo:
		return "Video"
	case MediaAudio:
		return "Audio"
	case MediaText:
		return "Text"
	default:
		return "Unknown"
	}
}

// Datapath is the per-track graph entry: the ordered composition
// source -> (decoder?) -> sink for one track, plus the bookkeeping the
// orchestrator needs to fan sub-commands out to it and join on completion.
type Datapath struct {
	MediaType  MediaType
	TrackInfo  node.TrackInfo
	SrcFormat  string
	SinkFormat string

	TrackActive bool

	SinkRef     node.Node
	DecNodeRef  node.Node // nil when source format == sink format (pass-through)
	SinkNodeRef node.Node

	SessionIDs []node.SessionID

	// Capabilities discovered by QueryInterface against DecNodeRef/SinkNodeRef,
	// keyed by capability uuid.
	Capabilities map[node.UUID]any

	PendingNodeCmdCount     int
	PendingDatapathCmdCount int

	EndOfDataReceived bool
}

// NeedsDecoder reports whether this datapath requires a decoder node, i.e.
// the source's format doesn't already match what the sink accepts.
func (d *Datapath) NeedsDecoder() bool {
	return d.SrcFormat != d.SinkFormat
}

// Reset clears per-command fan-out bookkeeping between procedures without
// discarding the established node graph.
func (d *Datapath) Reset() {
	d.PendingNodeCmdCount = 0
	d.PendingDatapathCmdCount = 0
}
