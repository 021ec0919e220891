package engine

import (
	"context"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// beginAddDataSink registers a caller-supplied sink for a media type. Pure
// bookkeeping: the sink isn't opened or initialized until Prepare builds the
// datapath that uses it, so this completes synchronously.
func (p *Player) beginAddDataSink(cmd *Command) {
	if st := p.State(); st != StateIdle && st != StateInitialized {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}
	if len(cmd.ParamVector) < 2 || cmd.ParamVector[0].Kind != ParamI32 || cmd.ParamVector[1].Kind != ParamOpaque {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	sink, ok := cmd.ParamVector[1].Opaque.(node.Node)
	if !ok || sink == nil {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	mediaType := MediaType(cmd.ParamVector[0].I32)
	p.sinksByMedia[mediaType] = sink
	p.completeCurrentCommand(perr.Success, nil)
}

func (p *Player) beginRemoveDataSink(cmd *Command) {
	if st := p.State(); st != StateIdle && st != StateInitialized {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}
	if len(cmd.ParamVector) < 1 || cmd.ParamVector[0].Kind != ParamI32 {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	mediaType := MediaType(cmd.ParamVector[0].I32)
	if _, ok := p.sinksByMedia[mediaType]; !ok {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	delete(p.sinksByMedia, mediaType)
	p.completeCurrentCommand(perr.Success, nil)
}

// beginRemoveDataSource releases the source node acquired by AddDataSource
// and returns the engine to Idle. Only legal once playback is fully torn
// down (Idle after Reset leaves nothing to remove; Initialized is the
// expected caller state).
func (p *Player) beginRemoveDataSource(cmd *Command) {
	if p.State() != StateInitialized {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	if p.sourceNode != nil {
		_, _ = p.sourceNode.Reset(context.Background(), nil)
	}
	p.teardownSource()
	p.setState(StateIdle)
	p.completeCurrentCommand(perr.Success, nil)
}
