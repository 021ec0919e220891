package engine

import (
	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// bridgeStatus converts a node.Status into the engine's perr.Status
// vocabulary. The two enums are deliberately kept decoupled (node.go's
// package comment explains why: node implementations shouldn't need to
// import the engine's internal error package) so the mapping is written out
// explicitly rather than relying on identical ordinal values staying in sync
// by accident.
func bridgeStatus(s node.Status) perr.Status {
	switch s {
	case node.Success:
		return perr.Success
	case node.Pending:
		return perr.Pending
	case node.Cancelled:
		return perr.Cancelled
	case node.ErrArgument:
		return perr.ErrArgument
	case node.ErrNoMemory:
		return perr.ErrNoMemory
	case node.ErrNoResources:
		return perr.ErrNoResources
	case node.ErrNotReady:
		return perr.ErrNotReady
	case node.ErrNotSupported:
		return perr.ErrNotSupported
	case node.ErrBusy:
		return perr.ErrBusy
	case node.ErrCorrupt:
		return perr.ErrCorrupt
	case node.ErrTimeout:
		return perr.ErrTimeout
	case node.ErrUnderflow:
		return perr.ErrUnderflow
	case node.ErrOverflow:
		return perr.ErrOverflow
	default:
		return perr.ErrFailure
	}
}
