package node

import "sync/atomic"

// Completer is embedded by node implementations to manage the observer
// registration and command-id allocation every Node shares, and to deliver
// asynchronous completions back to the engine. Delivery may happen from any
// goroutine - the engine marshals every Observer callback through its own
// inbox before touching state.
type Completer struct {
	obs     atomic.Pointer[observerBox]
	nextCmd atomic.Uint64
}

type observerBox struct{ o Observer }

// SetObserver satisfies the Node contract's registration hook.
func (c *Completer) SetObserver(o Observer) {
	c.obs.Store(&observerBox{o: o})
}

// NextCmdID allocates the id returned from a just-issued asynchronous command.
func (c *Completer) NextCmdID() CmdID {
	return CmdID(c.nextCmd.Add(1))
}

// Complete reports a command's terminal outcome to the registered observer,
// echoing cmdCtx back so the engine can correlate it. A completion with no
// observer registered is dropped - the session was torn down underneath the
// node.
func (c *Completer) Complete(id CmdID, status Status, param any, cmdCtx any) {
	if box := c.obs.Load(); box != nil && box.o != nil {
		box.o.NodeCommandCompleted(CmdResponse{CmdID: id, Status: status, Param: param, CmdContext: cmdCtx})
	}
}

// Info raises an informational event on the registered observer.
func (c *Completer) Info(evt InfoEvent) {
	if box := c.obs.Load(); box != nil && box.o != nil {
		box.o.HandleNodeInfoEvent(evt)
	}
}

// Error raises an asynchronous error event on the registered observer.
func (c *Completer) Error(evt ErrorEvent) {
	if box := c.obs.Load(); box != nil && box.o != nil {
		box.o.HandleNodeErrorEvent(evt)
	}
}
