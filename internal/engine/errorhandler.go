package engine

import (
	"context"

	"github.com/hbomb79/pvplayer/internal/event"
	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// onNodeErrorEvent applies the engine's error policy to an asynchronous,
// non-command-originated node failure.
func (p *Player) onNodeErrorEvent(evt node.ErrorEvent) {
	st := p.State()
	log.Warnf("node reported asynchronous error in state %s: %v (%s)\n", st, evt.Status, evt.Cause)

	switch {
	case st == StateIdle || st == StateError:
		// Nothing to unwind; report and stay.
		p.events.Dispatch(event.HandleErrorEvent, ErrorEventPayload{Status: bridgeStatus(evt.Status), Cause: evt.Cause})

	case st == StateHandlingError || st == StateResetting:
		// Already unwinding; remember that a second error arrived so cleanup
		// knows recovery itself went wrong.
		p.errorOccurredDuringErrorHandling = true

	case st.IsTransitional():
		// A command is mid-flight: cancel it and
		// report the fatal error once the engine is quiescent.
		p.fatalError = &ErrorEventPayload{Status: bridgeStatus(evt.Status), Cause: evt.Cause}
		p.setState(StateHandlingError)
		p.queue.Enqueue(newCommand(CmdCancelDueToError, false, nil))

	default:
		// Steady state: stop, reset, clean up, end in Error.
		p.fatalError = &ErrorEventPayload{Status: bridgeStatus(evt.Status), Cause: evt.Cause}
		p.setState(StateHandlingError)
		p.queue.Enqueue(newCommand(CmdStopDueToError, false, nil))
		p.queue.Enqueue(newCommand(CmdResetDueToError, false, nil))
		p.queue.Enqueue(newCommand(CmdCleanupDueToError, false, nil))
	}
}

// handleWatchdogExpired runs on the watchdog timer's goroutine: an
// outstanding node sub-command exceeded nodecmd_timeout, which the engine
// treats as a node failure. Routed through the inbox so the
// policy above executes on the scheduler thread.
func (p *Player) handleWatchdogExpired() {
	p.inbox.push(nodeEvent{kind: nodeEventError, errv: node.ErrorEvent{
		Status: node.ErrTimeout,
		Cause:  "outstanding node sub-command exceeded nodecmd_timeout",
	}})
}

// errTeardownProcedure drives the internal StopDueToError / ResetDueToError
// commands: one lifecycle verb fanned across the graph, completing regardless
// of individual node outcomes (a failing node must not be able to wedge its
// own teardown).
type errTeardownProcedure struct {
	cmdType CmdType
}

func (proc *errTeardownProcedure) name() string { return proc.cmdType.String() }

func (proc *errTeardownProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--
	if ec.Datapath != nil {
		ec.Datapath.PendingNodeCmdCount--
	}

	if resp.Status != node.Success && resp.Status != node.Cancelled {
		p.errorOccurredDuringErrorHandling = true
	}

	if p.numPendingNodeCmd <= 0 {
		p.completeCurrentCommand(perr.Success, nil)
	}
}

func (p *Player) beginErrTeardown(cmd *Command, verb func(n node.Node, ec *EngineContext) (node.CmdID, error)) {
	proc := &errTeardownProcedure{cmdType: cmd.CmdType}
	p.procedure = proc

	for _, t := range p.graphNodes() {
		t := t
		_ = p.issueNodeSub(t.dpIndex, t.node, t.dp, cmd.CmdType, "err-teardown", func(ec *EngineContext) (node.CmdID, error) {
			return verb(t.node, ec)
		})
	}

	if p.numPendingNodeCmd == 0 {
		p.completeCurrentCommand(perr.Success, nil)
	}
}

func (p *Player) beginStopDueToError(cmd *Command) {
	p.beginErrTeardown(cmd, func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Stop(context.Background(), ec)
	})
}

func (p *Player) beginResetDueToError(cmd *Command) {
	p.beginErrTeardown(cmd, func(n node.Node, ec *EngineContext) (node.CmdID, error) {
		return n.Reset(context.Background(), ec)
	})
}

// beginCleanupDueToError is the final step of both the cancellation sequence
// and error recovery: release the graph, settle
// the cancellation cohort, and land in the quiescent end state - Idle after a
// clean cancel, Error when a fatal error drove the teardown.
func (p *Player) beginCleanupDueToError(cmd *Command) {
	p.teardownDatapaths()
	p.teardownSource()
	p.clock.Stop()
	p.clock.SetPosition(0)

	if p.cancelation != nil {
		cohort := p.cancelation
		p.cancelation = nil

		if cohort.interruptedCmd != nil {
			p.completeDetachedCommand(cohort.interruptedCmd, perr.Cancelled)
		}
		for _, c := range cohort.drainedPending {
			p.completeDetachedCommand(c, perr.Cancelled)
		}
	}

	if p.errorOccurredDuringErrorHandling {
		log.Errorf("a further error occurred while error handling was already in progress\n")
		p.errorOccurredDuringErrorHandling = false
		if p.fatalError == nil {
			p.fatalError = &ErrorEventPayload{Status: perr.ErrFailure, Cause: "node failure during error recovery"}
		}
	}

	if p.fatalError != nil {
		fatal := *p.fatalError
		p.fatalError = nil
		p.setState(StateError)
		p.events.Dispatch(event.HandleErrorEvent, fatal)
	} else {
		p.setState(StateIdle)
	}

	p.completeCurrentCommand(perr.Success, nil)
}
