package engine

import (
	"context"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// cancelProcedure fans CancelAllCommands out to every node in the graph, and once every node has acknowledged, enter Resetting and
// post the internal Stop -> Reset -> Cleanup sequence at priority 2. Cleanup's
// completion (errorhandler.go) is what finally completes the cancellation
// cohort - the interrupted command and every drained pending command - with a
// Cancelled status, in FIFO order.
type cancelProcedure struct{}

func (*cancelProcedure) name() string { return "CancelAllCommands" }

// beginCancelInterrupt is invoked from Run when a cancel-class command claims
// the engine while another command occupies the current-command slot: the
// occupant moves into the cancellation cohort and the cancel command takes
// over.
func (p *Player) beginCancelInterrupt(cancelCmd *Command) {
	interrupted := p.currentCmd
	p.currentCmd = cancelCmd
	p.procedure = nil
	log.Debugf("command %s (id=%d) preempts current command %s (id=%d)\n",
		cancelCmd.CmdType, cancelCmd.CmdID, interrupted.CmdType, interrupted.CmdID)

	p.startCancelSequence(cancelCmd, interrupted)
}

func (p *Player) beginCancelAll(cmd *Command) {
	p.startCancelSequence(cmd, nil)
}

func (p *Player) beginCancelDueToError(cmd *Command) {
	p.startCancelSequence(cmd, nil)
}

func (p *Player) startCancelSequence(cancelCmd *Command, interrupted *Command) {
	p.cancelation = &cancelState{
		interruptedCmd: interrupted,
		drainedPending: p.queue.DrainPendingAsCancelled(),
	}
	p.procedure = &cancelProcedure{}

	// Any still-armed watchdog belongs to a sub-command of the interrupted
	// procedure; those sub-commands are now stale (the generation bump below
	// makes onNodeCommandCompleted drop their completions) so the timeout no
	// longer applies.
	p.procGen++
	p.watchdog.Reset()
	p.numPendingNodeCmd = 0
	p.numPendingDatapathCmd = 0
	for _, dp := range p.datapaths {
		dp.Reset()
	}

	for _, t := range p.graphNodes() {
		t := t
		err := p.issueNodeSub(t.dpIndex, t.node, t.dp, CmdCancelAllCommands, "cancel-node", func(ec *EngineContext) (node.CmdID, error) {
			return t.node.CancelAll(context.Background(), ec)
		})
		if err == nil {
			p.cancelation.pendingCancelCmds++
		}
	}

	if p.cancelation.pendingCancelCmds == 0 {
		p.finishCancelFanout()
	}
}

func (proc *cancelProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--
	if ec.Datapath != nil {
		ec.Datapath.PendingNodeCmdCount--
	}

	switch ec.Phase {
	case "cancel-node":
		if p.cancelation == nil {
			return
		}
		p.cancelation.pendingCancelCmds--
		if p.cancelation.pendingCancelCmds == 0 {
			p.finishCancelFanout()
		}

	default:
		// A completion from a sub-command of the interrupted procedure
		// arriving after the takeover; its outcome no longer matters.
		log.Debugf("cancel: absorbed stale completion from phase %q\n", ec.Phase)
	}
}

// finishCancelFanout runs once every node has acknowledged the cancel, so enter Resetting and post the internal teardown sequence. The
// cancel command itself completes now; the cohort completes after cleanup.
func (p *Player) finishCancelFanout() {
	p.setState(StateResetting)

	p.queue.Enqueue(newCommand(CmdStopDueToError, false, nil))
	p.queue.Enqueue(newCommand(CmdResetDueToError, false, nil))
	p.queue.Enqueue(newCommand(CmdCleanupDueToError, false, nil))

	p.completeCurrentCommand(perr.Success, nil)
}
