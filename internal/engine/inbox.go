package engine

import (
	"sync"

	"github.com/hbomb79/pvplayer/internal/node"
)

// nodeEventKind distinguishes the three node.Observer callbacks once they
// have crossed back onto the scheduler thread via nodeInbox.
type nodeEventKind int

const (
	nodeEventCmdCompleted nodeEventKind = iota
	nodeEventInfo
	nodeEventError
)

type nodeEvent struct {
	kind nodeEventKind
	cmd  node.CmdResponse
	info node.InfoEvent
	errv node.ErrorEvent
}

// nodeInbox is the cross-thread boundary for node-originated
// callbacks, playing the same role for Observer methods that CommandQueue
// plays for client-issued commands: a node may invoke NodeCommandCompleted /
// HandleNodeInfoEvent / HandleNodeErrorEvent from any goroutine it likes (its
// own decode worker, a timer, ...). nodeInbox marshals every one of those
// calls onto the single engine scheduler goroutine before anything touches
// Player state, so "no locks guard engine state because no other thread may
// mutate it" stays true even though nodes themselves are free to
// report asynchronously from wherever they like.
type nodeInbox struct {
	mu      sync.Mutex
	items   []nodeEvent
	onReady func()
}

func newNodeInbox(onReady func()) *nodeInbox {
	return &nodeInbox{onReady: onReady}
}

func (b *nodeInbox) push(e nodeEvent) {
	b.mu.Lock()
	b.items = append(b.items, e)
	b.mu.Unlock()

	if b.onReady != nil {
		b.onReady()
	}
}

// drain removes and returns every event currently queued, in arrival order.
func (b *nodeInbox) drain() []nodeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return nil
	}
	items := b.items
	b.items = nil
	return items
}
