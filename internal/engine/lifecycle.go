package engine

import (
	"context"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// lifecycleProcedure drives the simple "fan one lifecycle verb out across the
// graph, join on the countdown, land in the target state" commands: Init,
// Start, Pause, Resume, Stop, and Reset all share this shape. The richer
// multi-phase procedures (AddDataSource, Prepare, Seek, CancelAll) have
// their own files.
type lifecycleProcedure struct {
	cmdType CmdType
	failure perr.Status
}

func (proc *lifecycleProcedure) name() string { return proc.cmdType.String() }

func (proc *lifecycleProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--
	if ec.Datapath != nil {
		ec.Datapath.PendingNodeCmdCount--
	}

	if resp.Status != node.Success && proc.failure == perr.Success {
		proc.failure = bridgeStatus(resp.Status)
	}

	if p.numPendingNodeCmd <= 0 {
		proc.finish(p)
	}
}

// fanOut issues verb to every target, joining later via onNodeComplete. If no
// sub-command ever became outstanding (empty graph, or every call failed
// synchronously), the join is run immediately so the command still terminates.
func (proc *lifecycleProcedure) fanOut(p *Player, targets []graphTarget, verb func(n node.Node, ec *EngineContext) (node.CmdID, error)) {
	for _, t := range targets {
		err := p.issueNodeSub(t.dpIndex, t.node, t.dp, proc.cmdType, "lifecycle", func(ec *EngineContext) (node.CmdID, error) {
			return verb(t.node, ec)
		})
		if err != nil && proc.failure == perr.Success {
			proc.failure = perr.StatusOf(err)
		}
	}

	if p.numPendingNodeCmd == 0 {
		proc.finish(p)
	}
}

func (proc *lifecycleProcedure) finish(p *Player) {
	if proc.failure != perr.Success {
		p.failLifecycle(proc.cmdType, proc.failure)
		return
	}

	switch proc.cmdType {
	case CmdInit:
		// AddDataSource already landed the engine in Initialized; Init's
		// fan-out only pushes the source node through its own Init step.
	case CmdStart:
		p.clock.Restart()
		p.setState(StateStarted)
	case CmdPause:
		p.setState(StatePaused)
	case CmdResume:
		p.clock.Restart()
		p.setState(StateStarted)
	case CmdStop:
		p.clock.Stop()
		p.clock.SetPosition(0)
		p.teardownDatapaths()
		p.setState(StateInitialized)
	case CmdReset:
		p.teardownDatapaths()
		p.teardownSource()
		p.clock.Stop()
		p.clock.SetPosition(0)
		p.setState(StateIdle)
	}

	p.completeCurrentCommand(perr.Success, nil)
}

// failLifecycle routes a mid-lifecycle node failure into error recovery:
// the command completes with the node's failure status, then the engine
// stops/resets/cleans up and lands in Error.
func (p *Player) failLifecycle(cmdType CmdType, status perr.Status) {
	log.Warnf("%s failed: %s\n", cmdType, status)

	p.fatalError = &ErrorEventPayload{Status: status, Cause: cmdType.String() + " sub-command failed"}
	p.setState(StateHandlingError)
	p.completeCurrentCommand(status, nil)

	p.queue.Enqueue(newCommand(CmdStopDueToError, false, nil))
	p.queue.Enqueue(newCommand(CmdResetDueToError, false, nil))
	p.queue.Enqueue(newCommand(CmdCleanupDueToError, false, nil))
}

func (p *Player) beginInit(cmd *Command) {
	if p.State() != StateInitialized || p.sourceNode == nil {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	proc := &lifecycleProcedure{cmdType: CmdInit}
	p.procedure = proc
	proc.fanOut(p, []graphTarget{{node: p.sourceNode, dpIndex: -1}}, func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Init(context.Background(), ec)
	})
}

func (p *Player) beginStart(cmd *Command) {
	if p.State() != StatePrepared {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	p.setState(StateStarting)
	proc := &lifecycleProcedure{cmdType: CmdStart}
	p.procedure = proc
	proc.fanOut(p, p.graphNodes(), func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Start(context.Background(), ec)
	})
}

func (p *Player) beginPause(cmd *Command) {
	if st := p.State(); st != StateStarted && st != StateAutoPaused {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	p.setState(StatePausing)
	p.clock.Stop()
	proc := &lifecycleProcedure{cmdType: CmdPause}
	p.procedure = proc
	proc.fanOut(p, p.graphNodes(), func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Pause(context.Background(), ec)
	})
}

func (p *Player) beginResume(cmd *Command) {
	if p.State() != StatePaused {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	p.setState(StateResuming)
	proc := &lifecycleProcedure{cmdType: CmdResume}
	p.procedure = proc
	proc.fanOut(p, p.graphNodes(), func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Resume(context.Background(), ec)
	})
}

func (p *Player) beginStop(cmd *Command) {
	switch p.State() {
	case StateStarted, StatePaused, StateAutoPaused, StatePrepared:
	default:
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	p.setState(StateStopping)
	proc := &lifecycleProcedure{cmdType: CmdStop}
	p.procedure = proc
	proc.fanOut(p, p.graphNodes(), func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Stop(context.Background(), ec)
	})
}

func (p *Player) beginReset(cmd *Command) {
	if p.State() == StateIdle {
		p.completeCurrentCommand(perr.Success, nil)
		return
	}
	if p.State().IsTransitional() {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	p.setState(StateResetting)
	proc := &lifecycleProcedure{cmdType: CmdReset}
	p.procedure = proc
	proc.fanOut(p, p.graphNodes(), func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Reset(context.Background(), ec)
	})
}

// teardownDatapaths closes every datapath's node sessions and drops the graph
// refs; the nodes themselves are left to their own destruction once nothing
// references them.
func (p *Player) teardownDatapaths() {
	for _, dp := range p.datapaths {
		for _, sid := range dp.SessionIDs {
			p.sessions.Close(sid)
		}
	}
	p.datapaths = nil
	p.numPendingNodeCmd = 0
	p.numPendingDatapathCmd = 0
}

// teardownSource releases everything AddDataSource acquired, mirroring its
// rollback path.
func (p *Player) teardownSource() {
	if p.sourceNode == nil {
		return
	}
	p.sessions.Close(p.sourceSession)
	p.sourceNode = nil
	p.sourceCaps = nil
	p.sourceFormat = ""
	p.metadataKeysCache = nil
}
