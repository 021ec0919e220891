package mp3decoder

import (
	"context"
	"sync/atomic"

	"github.com/hbomb79/pvplayer/internal/node"
)

// SourceNode is the MP3 data-source node: it owns the (external) file/stream
// reader for one clip and publishes the capability set AddDataSource requires
// - initialization, track selection, playback control, and metadata. Every
// lifecycle command completes immediately: the actual byte-level reader is an
// external collaborator, and this node's job is the control-plane contract.
type SourceNode struct {
	node.Completer

	caps *node.CapabilityRegistry

	sourceURI  string
	durationMS int64
	positionMS atomic.Int64
	reverse    atomic.Bool
}

// NewSourceNode builds an MP3 source. durationMS is what the (external)
// parser reported for the clip; zero means unknown.
func NewSourceNode(durationMS int64) *SourceNode {
	n := &SourceNode{caps: node.NewCapabilityRegistry(), durationMS: durationMS}
	n.caps.Publish(node.UUIDInitialization, node.SourceInitInterface(n))
	n.caps.Publish(node.UUIDTrackSelection, node.TrackSelectionInterface(n))
	n.caps.Publish(node.UUIDPlaybackControl, node.PlaybackControlInterface(n))
	n.caps.Publish(node.UUIDMetadata, node.MetadataInterface(n))
	return n
}

func (n *SourceNode) complete(cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	n.Complete(id, node.Success, nil, cmdCtx)
	return id, nil
}

func (n *SourceNode) QueryUuid(_ context.Context, mimeType string, _ bool, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	uuids := []node.UUID{}
	if mimeType == MimeTypeMP3 {
		uuids = append(uuids, node.UUIDInitialization, node.UUIDTrackSelection, node.UUIDPlaybackControl, node.UUIDMetadata)
	}
	n.Complete(id, node.Success, uuids, cmdCtx)
	return id, nil
}

func (n *SourceNode) QueryInterface(_ context.Context, uuid node.UUID, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	iface, err := n.caps.Lookup(uuid)
	if err != nil {
		n.Complete(id, node.ErrNotSupported, nil, cmdCtx)
		return id, nil
	}
	n.Complete(id, node.Success, iface, cmdCtx)
	return id, nil
}

func (n *SourceNode) Init(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}
func (n *SourceNode) Prepare(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}
func (n *SourceNode) Start(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}
func (n *SourceNode) Pause(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}
func (n *SourceNode) Resume(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}
func (n *SourceNode) Stop(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}
func (n *SourceNode) Flush(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}

func (n *SourceNode) Reset(_ context.Context, cmdCtx any) (node.CmdID, error) {
	n.positionMS.Store(0)
	n.reverse.Store(false)
	if cmdCtx == nil {
		return n.NextCmdID(), nil
	}
	return n.complete(cmdCtx)
}

func (n *SourceNode) CancelAll(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}

func (n *SourceNode) Cancel(_ context.Context, _ node.CmdID, cmdCtx any) (node.CmdID, error) {
	return n.complete(cmdCtx)
}

// SetDataSource binds the node to its clip.
func (n *SourceNode) SetDataSource(_ context.Context, sourceURI string, cmdCtx any) (node.CmdID, error) {
	n.sourceURI = sourceURI
	log.Debugf("source bound to %s\n", sourceURI)
	return n.complete(cmdCtx)
}

// GetTrackList reports the single audio track an MP3 clip carries.
func (n *SourceNode) GetTrackList(_ context.Context, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	tracks := []node.TrackInfo{{
		TrackID:    0,
		MimeType:   MimeTypeMP3,
		Duration:   n.durationMS,
		Selectable: true,
	}}
	n.Complete(id, node.Success, tracks, cmdCtx)
	return id, nil
}

func (n *SourceNode) SelectTracks(_ context.Context, trackIDs []int, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	for _, tid := range trackIDs {
		if tid != 0 {
			n.Complete(id, node.ErrArgument, nil, cmdCtx)
			return id, nil
		}
	}
	n.Complete(id, node.Success, nil, cmdCtx)
	return id, nil
}

// GetActualNPT snaps the requested target to the previous frame boundary -
// every MP3 frame is independently decodable, so frame starts are this
// format's sync points.
func (n *SourceNode) GetActualNPT(_ context.Context, targetNPT int64, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	snapped := targetNPT - (targetNPT % frameDurationMS)
	if snapped < 0 {
		snapped = 0
	}
	n.Complete(id, node.Success, snapped, cmdCtx)
	return id, nil
}

// SetDataSourcePosition repositions the reader and reports the skip window:
// everything between the old read position and the new target is stale.
func (n *SourceNode) SetDataSourcePosition(_ context.Context, targetNPT int64, _, _ bool, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	previous := n.positionMS.Swap(targetNPT)
	n.Complete(id, node.Success, [2]int64{previous, targetNPT}, cmdCtx)
	return id, nil
}

func (n *SourceNode) SetDataSourceDirection(_ context.Context, forward bool, cmdCtx any) (node.CmdID, error) {
	n.reverse.Store(!forward)
	return n.complete(cmdCtx)
}

func (n *SourceNode) GetMetadataKeys(_ context.Context, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	n.Complete(id, node.Success, []string{"duration", "track-info/type", "clip-type"}, cmdCtx)
	return id, nil
}

func (n *SourceNode) GetMetadataValues(_ context.Context, keys []string, cmdCtx any) (node.CmdID, error) {
	id := n.NextCmdID()
	values := make(map[string]any, len(keys))
	for _, k := range keys {
		switch k {
		case "duration":
			values[k] = n.durationMS
		case "track-info/type":
			values[k] = MimeTypeMP3
		case "clip-type":
			values[k] = "local"
		}
	}
	n.Complete(id, node.Success, values, cmdCtx)
	return id, nil
}

// ReportUnderflow lets the (external) reader signal that its buffer ran dry,
// triggering the engine's auto-pause path; ReportDataReady is the mirrored
// auto-resume trigger.
func (n *SourceNode) ReportUnderflow() {
	n.Info(node.InfoEvent{Code: node.InfoBufferUnderflow})
}

func (n *SourceNode) ReportDataReady() {
	n.Info(node.InfoEvent{Code: node.InfoDataReady})
}

// ReportEndOfClip signals that the reader consumed the final frame.
func (n *SourceNode) ReportEndOfClip() {
	n.Info(node.InfoEvent{Code: node.InfoEndOfClip})
}
