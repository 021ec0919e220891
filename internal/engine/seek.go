package engine

import (
	"context"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// seekProcedure implements SetPlaybackRange during playback:
// freeze the clock and pause the sinks, ask the source what NPT it will
// actually produce for the requested target, reposition the source, have each
// sink flush the skip window, then re-anchor and restart the clock so the
// first post-seek sample lands on its presentation timestamp.
type seekProcedure struct {
	targetBeginMS int64
	targetEndMS   int64
	actualNPT     int64
	skipWindow    [2]int64
	wasRunning    bool
	failure       perr.Status
}

func (*seekProcedure) name() string { return "SetPlaybackRange" }

func (p *Player) beginSeek(cmd *Command) {
	st := p.State()

	// Reentrancy rule: a seek arriving mid-transition is stashed and
	// re-applied once the engine reaches the next steady state (the requeue
	// happens in setState).
	if st.IsTransitional() {
		p.pendingSeek = &pendingSeekRequest{cmd: cmd}
		p.currentCmd = nil
		p.procedure = nil
		return
	}

	switch st {
	case StatePrepared, StateStarted, StatePaused, StateAutoPaused:
	default:
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	if len(cmd.ParamVector) < 2 || cmd.ParamVector[0].Kind != ParamPos || cmd.ParamVector[1].Kind != ParamPos {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	proc := &seekProcedure{
		targetBeginMS: cmd.ParamVector[0].Pos,
		targetEndMS:   cmd.ParamVector[1].Pos,
		wasRunning:    st == StateStarted,
	}
	p.procedure = proc

	// Phase 1: stop the clock and pause sinks - the engine state itself is
	// untouched for the duration of the seek.
	p.clock.Stop()
	proc.issueSinkFanout(p, "seek-pause", func(t graphTarget, ec *EngineContext) (node.CmdID, error) {
		return t.node.Pause(context.Background(), ec)
	})
	if p.numPendingNodeCmd == 0 {
		proc.queryActualNPT(p)
	}
}

func (proc *seekProcedure) issueSinkFanout(p *Player, phase string, call func(graphTarget, *EngineContext) (node.CmdID, error)) {
	for _, t := range p.sinkNodes() {
		t := t
		err := p.issueNodeSub(t.dpIndex, t.node, t.dp, CmdSetPlaybackRange, phase, func(ec *EngineContext) (node.CmdID, error) {
			return call(t, ec)
		})
		if err != nil && proc.failure == perr.Success {
			proc.failure = perr.StatusOf(err)
		}
	}
}

func (proc *seekProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--
	if ec.Datapath != nil {
		ec.Datapath.PendingNodeCmdCount--
	}

	if resp.Status != node.Success && proc.failure == perr.Success {
		proc.failure = bridgeStatus(resp.Status)
	}

	switch ec.Phase {
	case "seek-pause":
		if p.numPendingNodeCmd == 0 {
			proc.queryActualNPT(p)
		}

	case "seek-npt":
		if proc.failure != perr.Success {
			proc.fail(p)
			return
		}
		if npt, ok := resp.Param.(int64); ok {
			proc.actualNPT = npt
		} else {
			proc.actualNPT = proc.targetBeginMS
		}
		proc.setSourcePosition(p)

	case "seek-setpos":
		if proc.failure != perr.Success {
			proc.fail(p)
			return
		}
		if window, ok := resp.Param.([2]int64); ok {
			proc.skipWindow = window
		} else {
			// Source didn't volunteer skip timestamps; skip everything from
			// the frozen clock position up to the snapped target.
			proc.skipWindow = [2]int64{p.clock.CurrentTime(), proc.actualNPT}
		}
		proc.skipMediaData(p)

	case "seek-skip":
		if ec.Datapath != nil && ec.Datapath.PendingNodeCmdCount == 0 {
			p.numPendingDatapathCmd--
		}
		if p.numPendingNodeCmd == 0 && p.numPendingDatapathCmd == 0 {
			proc.restart(p)
		}

	case "seek-resume":
		if p.numPendingNodeCmd == 0 {
			proc.finish(p)
		}

	default:
		log.Warnf("seek: unexpected phase %q\n", ec.Phase)
	}
}

// queryActualNPT is phase 2: the source reports the NPT it will actually
// produce for the requested target (sync-point snap applies per config).
func (proc *seekProcedure) queryActualNPT(p *Player) {
	if proc.failure != perr.Success {
		proc.fail(p)
		return
	}

	ctrl, err := p.playbackControl()
	if err != nil {
		proc.failure = perr.StatusOf(err)
		proc.fail(p)
		return
	}

	target := proc.targetBeginMS
	if !p.cfg.SeekToSyncPoint {
		proc.actualNPT = target
	}

	err = p.issueNodeSub(-1, p.sourceNode, nil, CmdSetPlaybackRange, "seek-npt", func(ec *EngineContext) (node.CmdID, error) {
		return ctrl.GetActualNPT(context.Background(), target, ec)
	})
	if err != nil {
		proc.failure = perr.StatusOf(err)
		proc.fail(p)
	}
}

// setSourcePosition is phase 3.
func (proc *seekProcedure) setSourcePosition(p *Player) {
	ctrl, err := p.playbackControl()
	if err != nil {
		proc.failure = perr.StatusOf(err)
		proc.fail(p)
		return
	}

	err = p.issueNodeSub(-1, p.sourceNode, nil, CmdSetPlaybackRange, "seek-setpos", func(ec *EngineContext) (node.CmdID, error) {
		return ctrl.SetDataSourcePosition(context.Background(), proc.actualNPT, p.cfg.SeekToSyncPoint, p.cfg.SkipToRequestedPos, ec)
	})
	if err != nil {
		proc.failure = perr.StatusOf(err)
		proc.fail(p)
	}
}

// skipMediaData is phase 4: each sink flushes buffers whose timestamps fall in
// the skip window. Sinks that never published SkipMediaData are passed over.
func (proc *seekProcedure) skipMediaData(p *Player) {
	issuedAny := false
	for _, t := range p.sinkNodes() {
		t := t
		skipper, ok := t.node.(node.SkipMediaDataInterface)
		if !ok {
			continue
		}

		err := p.issueNodeSub(t.dpIndex, t.node, t.dp, CmdSetPlaybackRange, "seek-skip", func(ec *EngineContext) (node.CmdID, error) {
			return skipper.SkipMediaData(context.Background(), proc.skipWindow[0], proc.skipWindow[1], ec)
		})
		if err != nil {
			if proc.failure == perr.Success {
				proc.failure = perr.StatusOf(err)
			}
			continue
		}
		issuedAny = true
		if t.dp.PendingNodeCmdCount == 1 {
			p.numPendingDatapathCmd++
		}
	}

	if !issuedAny {
		proc.restart(p)
	}
}

// restart is phase 5: re-anchor the clock at the snapped NPT and resume the
// sinks; the clock only runs again if playback was running when the seek
// arrived.
func (proc *seekProcedure) restart(p *Player) {
	if proc.failure != perr.Success {
		proc.fail(p)
		return
	}

	p.clock.SetPosition(proc.actualNPT)
	if proc.wasRunning {
		p.clock.Restart()
	}

	proc.issueSinkFanout(p, "seek-resume", func(t graphTarget, ec *EngineContext) (node.CmdID, error) {
		return t.node.Resume(context.Background(), ec)
	})
	if p.numPendingNodeCmd == 0 {
		proc.finish(p)
	}
}

func (proc *seekProcedure) finish(p *Player) {
	if proc.failure != perr.Success {
		proc.fail(p)
		return
	}

	p.playbackRangeBeginMS = proc.targetBeginMS
	p.playbackRangeEndMS = proc.targetEndMS
	p.completeCurrentCommand(perr.Success, proc.actualNPT)
}

// fail restarts the clock if it was running (the seek never applied) and
// completes with the first recorded failure.
func (proc *seekProcedure) fail(p *Player) {
	if proc.wasRunning {
		p.clock.Restart()
	}
	p.completeCurrentCommand(proc.failure, nil)
}

// playbackControl resolves the source's playback-control capability, required
// by both seek and rate-change procedures.
func (p *Player) playbackControl() (node.PlaybackControlInterface, error) {
	if p.sourceNode == nil || p.sourceCaps == nil {
		return nil, perr.New(perr.ErrNotReady, "no data source")
	}
	iface, err := p.sourceCaps.Lookup(node.UUIDPlaybackControl)
	if err != nil {
		return nil, err
	}
	ctrl, ok := iface.(node.PlaybackControlInterface)
	if !ok {
		return nil, perr.New(perr.ErrNotSupported, "published playback-control interface has the wrong type")
	}
	return ctrl, nil
}
