package engine

import (
	"context"
	"time"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// rateProcedure implements SetPlaybackRate: validate against the
// advertised range, snapshot the clock at the instant of change, and - only
// when the playback direction flips sign - round-trip through the source's
// SetDataSourceDirection before completing.
type rateProcedure struct {
	newRate int64
}

func (*rateProcedure) name() string { return "SetPlaybackRate" }

func (p *Player) beginSetPlaybackRate(cmd *Command) {
	if p.State().IsTransitional() {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}
	if len(cmd.ParamVector) < 1 || cmd.ParamVector[0].Kind != ParamPos {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	rate := cmd.ParamVector[0].Pos
	minMax := p.minMaxRate()
	if rate < minMax[0] || rate > minMax[1] {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	oldRate := p.clock.Rate()
	oldDirection := p.clock.Direction()
	p.clock.SetRate(rate)
	if p.posTicker != nil {
		// A rate change restarts the position-event interval rather than
		// trying to preserve phase across the discontinuity.
		p.posTicker.Reset(time.Now().UnixMilli())
	}

	newDirection := p.clock.Direction()
	if newDirection == oldDirection || p.sourceNode == nil {
		p.completeCurrentCommand(perr.Success, nil)
		return
	}

	ctrl, err := p.playbackControl()
	if err != nil {
		// Direction changed but the source can't be told; undo and fail.
		p.clock.SetRate(oldRate)
		p.completeCurrentCommand(perr.StatusOf(err), nil)
		return
	}

	proc := &rateProcedure{newRate: rate}
	p.procedure = proc

	err = p.issueNodeSub(-1, p.sourceNode, nil, CmdSetPlaybackRate, "rate-direction", func(ec *EngineContext) (node.CmdID, error) {
		return ctrl.SetDataSourceDirection(context.Background(), newDirection >= 0, ec)
	})
	if err != nil {
		p.completeCurrentCommand(perr.StatusOf(err), nil)
	}
}

func (proc *rateProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--

	if resp.Status != node.Success {
		p.completeCurrentCommand(bridgeStatus(resp.Status), nil)
		return
	}
	p.completeCurrentCommand(perr.Success, nil)
}
