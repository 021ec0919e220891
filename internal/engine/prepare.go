package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// prepareProcedure drives Prepare: query the source's track list,
// select tracks, build a datapath per selected track (decoder if the format
// needs one, sink from the caller's AddDataSink registration or the sink
// factory registry), then drive each datapath through node Init and Prepare,
// joining on the countdown counters before landing in Prepared.
type prepareProcedure struct {
	selected []node.TrackInfo
	failure  perr.Status
	cause    string
}

func (*prepareProcedure) name() string { return "Prepare" }

func (p *Player) beginPrepare(cmd *Command) {
	if p.State() != StateInitialized || p.sourceNode == nil {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	iface, err := p.sourceCaps.Lookup(node.UUIDTrackSelection)
	if err != nil {
		p.completeCurrentCommand(perr.ErrNotSupported, nil)
		return
	}
	trackSel, ok := iface.(node.TrackSelectionInterface)
	if !ok {
		p.completeCurrentCommand(perr.ErrNotSupported, nil)
		return
	}

	proc := &prepareProcedure{}
	p.procedure = proc
	p.setState(StatePreparing)

	err = p.issueNodeSub(-1, p.sourceNode, nil, CmdPrepare, "track-list", func(ec *EngineContext) (node.CmdID, error) {
		return trackSel.GetTrackList(context.Background(), ec)
	})
	if err != nil {
		p.failPrepare(proc, perr.StatusOf(err), err.Error())
	}
}

func (proc *prepareProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--
	if ec.Datapath != nil {
		ec.Datapath.PendingNodeCmdCount--
	}

	switch ec.Phase {
	case "track-list":
		if resp.Status != node.Success {
			p.failPrepare(proc, bridgeStatus(resp.Status), "source track list query failed")
			return
		}
		tracks, ok := resp.Param.([]node.TrackInfo)
		if !ok {
			p.failPrepare(proc, perr.ErrCorrupt, "source published a malformed track list")
			return
		}
		proc.selectTracks(p, tracks)

	case "select-tracks":
		if resp.Status != node.Success {
			p.failPrepare(proc, bridgeStatus(resp.Status), "source track selection failed")
			return
		}
		proc.buildDatapaths(p)

	case "dp-cap":
		// Best-effort: a sink without SkipMediaData simply can't honor the
		// flush window during seeks.
		if resp.Status == node.Success && ec.Datapath != nil {
			ec.Datapath.Capabilities[node.UUIDSkipMediaData] = resp.Param
		}
		proc.maybeAdvanceToPrepare(p)

	case "dp-init":
		if resp.Status != node.Success {
			proc.recordFailure(bridgeStatus(resp.Status), "datapath node Init failed")
		}
		proc.maybeAdvanceToPrepare(p)

	case "dp-prepare":
		if resp.Status != node.Success {
			proc.recordFailure(bridgeStatus(resp.Status), "datapath node Prepare failed")
		}
		if ec.Datapath != nil && ec.Datapath.PendingNodeCmdCount == 0 {
			p.numPendingDatapathCmd--
		}
		if p.numPendingNodeCmd == 0 && p.numPendingDatapathCmd == 0 {
			proc.finish(p)
		}

	default:
		log.Warnf("prepare: unexpected phase %q\n", ec.Phase)
	}
}

// selectTracks applies track selection: default policy is the first playable
// track per media type, unless a selection helper was installed to reorder or
// deselect.
func (proc *prepareProcedure) selectTracks(p *Player, tracks []node.TrackInfo) {
	if p.trackSelector != nil {
		proc.selected = p.trackSelector(tracks)
	} else {
		seen := make(map[MediaType]bool)
		for _, tr := range tracks {
			if !tr.Selectable {
				continue
			}
			media := mediaTypeOfMime(tr.MimeType)
			if seen[media] {
				continue
			}
			seen[media] = true
			proc.selected = append(proc.selected, tr)
		}
	}

	if len(proc.selected) == 0 {
		p.failPrepare(proc, perr.ErrNotSupported, "no playable tracks")
		return
	}

	iface, _ := p.sourceCaps.Lookup(node.UUIDTrackSelection)
	trackSel := iface.(node.TrackSelectionInterface)

	ids := make([]int, len(proc.selected))
	for i, tr := range proc.selected {
		ids[i] = tr.TrackID
	}

	err := p.issueNodeSub(-1, p.sourceNode, nil, CmdPrepare, "select-tracks", func(ec *EngineContext) (node.CmdID, error) {
		return trackSel.SelectTracks(context.Background(), ids, ec)
	})
	if err != nil {
		p.failPrepare(proc, perr.StatusOf(err), err.Error())
	}
}

// buildDatapaths creates one datapath per selected track,
// constructed concurrently (node factories may do real setup work) and joined
// before any sub-command is issued, so every counter mutation still happens on
// the scheduler thread.
func (proc *prepareProcedure) buildDatapaths(p *Player) {
	built := make([]*Datapath, len(proc.selected))

	var g errgroup.Group
	for i, tr := range proc.selected {
		i, tr := i, tr
		g.Go(func() error {
			dp := &Datapath{
				MediaType:    mediaTypeOfMime(tr.MimeType),
				TrackInfo:    tr,
				SrcFormat:    tr.MimeType,
				TrackActive:  true,
				Capabilities: make(map[node.UUID]any),
			}

			// Step 3a/3b: a decoder is required when the source format
			// can't be handed to the sink as-is; absence of a decoder
			// factory means the format passes through.
			if dec, err := p.decoderFactories.Lookup(tr.MimeType); err == nil {
				dp.DecNodeRef = dec
				dp.SinkFormat = rawFormatFor(dp.MediaType)
			} else {
				dp.SinkFormat = tr.MimeType
			}

			// Step 3c: caller-supplied sink wins; otherwise look one up.
			if sink, ok := p.sinksByMedia[dp.MediaType]; ok {
				dp.SinkRef = sink
				dp.SinkNodeRef = sink
			} else {
				sink, err := p.sinkFactories.Lookup(dp.SinkFormat)
				if err != nil {
					return perr.New(perr.ErrNotSupported, "no sink for %s track (format %q)", dp.MediaType, dp.SinkFormat)
				}
				dp.SinkNodeRef = sink
			}

			built[i] = dp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.failPrepare(proc, perr.StatusOf(err), err.Error())
		return
	}

	for _, dp := range built {
		if dp.DecNodeRef != nil {
			dp.DecNodeRef.SetObserver(p)
			dp.SessionIDs = append(dp.SessionIDs, p.sessions.Open(dp))
		}
		dp.SinkNodeRef.SetObserver(p)
		dp.SessionIDs = append(dp.SessionIDs, p.sessions.Open(dp))
		connectPorts(dp)
		p.datapaths = append(p.datapaths, dp)
	}

	// Step 3d/3e begins: query sink capabilities and Init every new node,
	// all counted into the same join.
	for i, dp := range p.datapaths {
		i, dp := i, dp

		err := p.issueNodeSub(i, dp.SinkNodeRef, dp, CmdQueryInterface, "dp-cap", func(ec *EngineContext) (node.CmdID, error) {
			return dp.SinkNodeRef.QueryInterface(context.Background(), node.UUIDSkipMediaData, ec)
		})
		if err != nil {
			proc.recordFailure(perr.StatusOf(err), err.Error())
		}

		for _, n := range dp.legNodes() {
			n := n
			err := p.issueNodeSub(i, n, dp, CmdInit, "dp-init", func(ec *EngineContext) (node.CmdID, error) {
				return n.Init(context.Background(), ec)
			})
			if err != nil {
				proc.recordFailure(perr.StatusOf(err), err.Error())
			}
		}
	}

	if p.numPendingNodeCmd == 0 {
		proc.maybeAdvanceToPrepare(p)
	}
}

// maybeAdvanceToPrepare fires once the dp-cap/dp-init join empties, issuing
// Prepare down each datapath leg. Each datapath counts once in
// numPendingDatapathCmd; its node-level
// sub-commands count in numPendingNodeCmd and the per-dp counter.
func (proc *prepareProcedure) maybeAdvanceToPrepare(p *Player) {
	if p.numPendingNodeCmd != 0 {
		return
	}
	if proc.failure != perr.Success {
		p.failPrepare(proc, proc.failure, proc.cause)
		return
	}

	for i, dp := range p.datapaths {
		i, dp := i, dp
		issued := false
		for _, n := range dp.legNodes() {
			n := n
			err := p.issueNodeSub(i, n, dp, CmdPrepare, "dp-prepare", func(ec *EngineContext) (node.CmdID, error) {
				return n.Prepare(context.Background(), ec)
			})
			if err != nil {
				proc.recordFailure(perr.StatusOf(err), err.Error())
				continue
			}
			issued = true
		}
		if issued {
			p.numPendingDatapathCmd++
		}
	}

	if p.numPendingNodeCmd == 0 && p.numPendingDatapathCmd == 0 {
		proc.finish(p)
	}
}

func (proc *prepareProcedure) recordFailure(status perr.Status, cause string) {
	if proc.failure == perr.Success {
		proc.failure = status
		proc.cause = cause
	}
}

func (proc *prepareProcedure) finish(p *Player) {
	if proc.failure != perr.Success {
		p.failPrepare(proc, proc.failure, proc.cause)
		return
	}

	p.setState(StatePrepared)
	p.completeCurrentCommand(perr.Success, nil)
}

// failPrepare rolls back everything the procedure built - datapaths torn
// down, sessions closed - and returns the engine to Initialized with the
// original failure.
func (p *Player) failPrepare(proc *prepareProcedure, status perr.Status, cause string) {
	log.Warnf("Prepare failed: %s (%s)\n", status, cause)

	p.teardownDatapaths()
	p.setState(StateInitialized)
	p.completeCurrentCommand(status, nil)
}

// bufferProducer/bufferConsumer are the optional port surfaces a node may
// expose; connectPorts joins a producing decoder to its consuming sink
// as part of preparing the datapath. Nodes without
// these surfaces move data out of band (e.g. a shared platform buffer queue).
type bufferProducer interface {
	SetOutput(func(node.MediaBuffer))
}

type bufferConsumer interface {
	Enqueue(node.MediaBuffer)
}

func connectPorts(dp *Datapath) {
	producer, ok := dp.DecNodeRef.(bufferProducer)
	if !ok {
		return
	}
	consumer, ok := dp.SinkNodeRef.(bufferConsumer)
	if !ok {
		return
	}
	producer.SetOutput(consumer.Enqueue)
}

// legNodes returns this datapath's own nodes in pipeline order (decoder, then
// sink); the shared source node is not part of any single datapath's leg.
func (d *Datapath) legNodes() []node.Node {
	nodes := make([]node.Node, 0, 2)
	if d.DecNodeRef != nil {
		nodes = append(nodes, d.DecNodeRef)
	}
	if d.SinkNodeRef != nil {
		nodes = append(nodes, d.SinkNodeRef)
	}
	return nodes
}

// rawFormatFor is the decoded-output format a decoder produces for each media
// class; a sink registered for this format accepts the decoder's output.
func rawFormatFor(m MediaType) string {
	switch m {
	case MediaVideo:
		return "video/raw"
	case MediaAudio:
		return "audio/raw"
	case MediaText:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
