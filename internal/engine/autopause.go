package engine

import (
	"context"

	"github.com/hbomb79/pvplayer/internal/event"
	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// onNodeInfoEvent converts source-side informational events into the internal
// auto-pause/auto-resume commands. Underflow/data-ready churn
// is throttled through underflowLimiter so a flapping source can't flood the
// priority-5 tier.
func (p *Player) onNodeInfoEvent(evt node.InfoEvent) {
	switch evt.Code {
	case node.InfoBufferUnderflow:
		if p.State() != StateStarted {
			return
		}
		if !p.underflowLimiter.Allow() {
			log.Warnf("dropping BufferUnderflow: source is flapping\n")
			return
		}
		p.queue.Enqueue(newCommand(CmdAutoPauseUnderflow, false, nil))

	case node.InfoDataReady:
		if st := p.State(); st != StateAutoPaused && st != StateAutoPausing {
			return
		}
		if !p.underflowLimiter.Allow() {
			log.Warnf("dropping DataReady: source is flapping\n")
			return
		}
		p.queue.Enqueue(newCommand(CmdAutoResumeDataReady, false, nil))

	case node.InfoEndOfClip, node.InfoEndTimeReached:
		if p.State() != StateStarted {
			return
		}
		p.queue.Enqueue(newCommand(CmdAutoPauseEndOfClip, false, nil,
			CmdParam{Kind: ParamI32, I32: int32(evt.Code)}))
	}
}

// autoPauseProcedure drives AutoPausing -> AutoPaused (and the mirrored
// resume). Only the sinks are touched: the source keeps buffering (that is
// the point of an underflow pause) and the decoders drain naturally.
type autoPauseProcedure struct {
	resume   bool
	infoCode node.InfoEventCode
}

func (proc *autoPauseProcedure) name() string {
	if proc.resume {
		return "AutoResume"
	}
	return "AutoPause"
}

func (p *Player) beginAutoPause(cmd *Command) {
	if p.State() != StateStarted {
		// The triggering condition resolved before this command was
		// dispatched; nothing to do.
		p.completeCurrentCommand(perr.Success, nil)
		return
	}

	infoCode := node.InfoBufferUnderflow
	if cmd.CmdType == CmdAutoPauseEndOfClip {
		infoCode = node.InfoEndOfClip
		if len(cmd.ParamVector) > 0 && cmd.ParamVector[0].Kind == ParamI32 {
			infoCode = node.InfoEventCode(cmd.ParamVector[0].I32)
		}
	}

	p.setState(StateAutoPausing)
	p.clock.Stop()

	proc := &autoPauseProcedure{infoCode: infoCode}
	p.procedure = proc
	proc.fanOut(p, func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Pause(context.Background(), ec)
	})
}

func (p *Player) beginAutoResume(cmd *Command) {
	if p.State() != StateAutoPaused {
		p.completeCurrentCommand(perr.Success, nil)
		return
	}

	p.setState(StateAutoResuming)

	proc := &autoPauseProcedure{resume: true, infoCode: node.InfoDataReady}
	p.procedure = proc
	proc.fanOut(p, func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Resume(context.Background(), ec)
	})
}

func (proc *autoPauseProcedure) fanOut(p *Player, verb func(n node.Node, ec *EngineContext) (node.CmdID, error)) {
	for _, t := range p.sinkNodes() {
		t := t
		_ = p.issueNodeSub(t.dpIndex, t.node, t.dp, CmdAutoPauseUnderflow, "autopause", func(ec *EngineContext) (node.CmdID, error) {
			return verb(t.node, ec)
		})
	}

	if p.numPendingNodeCmd == 0 {
		proc.finish(p)
	}
}

func (proc *autoPauseProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--
	if ec.Datapath != nil {
		ec.Datapath.PendingNodeCmdCount--
	}

	if p.numPendingNodeCmd <= 0 {
		proc.finish(p)
	}
}

func (proc *autoPauseProcedure) finish(p *Player) {
	if proc.resume {
		p.clock.Restart()
		p.setState(StateStarted)
	} else {
		p.setState(StateAutoPaused)
	}

	// The client never sees a CommandCompleted for these internal commands;
	// the single informational event is its only visibility.
	p.events.Dispatch(event.HandleInformationalEvent, InformationalEventPayload{Code: proc.infoCode})
	p.completeCurrentCommand(perr.Success, nil)
}
