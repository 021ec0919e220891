package engine

import (
	"context"
	"strings"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// queryProcedure covers the single-round-trip query commands: metadata key and
// value retrieval, QueryUuid, QueryInterface, and AcquireLicense. Each issues
// exactly one source-node sub-command and completes with whatever the node
// returned.
type queryProcedure struct {
	cmdType CmdType
}

func (proc *queryProcedure) name() string { return proc.cmdType.String() }

func (proc *queryProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	p.numPendingNodeCmd--

	if resp.Status != node.Success {
		p.completeCurrentCommand(bridgeStatus(resp.Status), nil)
		return
	}

	if proc.cmdType == CmdGetMetadataKeys {
		if keys, ok := resp.Param.([]string); ok {
			p.metadataKeysCache = keys
		}
	}
	p.completeCurrentCommand(perr.Success, resp.Param)
}

func (p *Player) beginQuery(cmd *Command, phase string, call func(ec *EngineContext) (node.CmdID, error)) {
	proc := &queryProcedure{cmdType: cmd.CmdType}
	p.procedure = proc

	if err := p.issueNodeSub(-1, p.sourceNode, nil, cmd.CmdType, phase, call); err != nil {
		p.completeCurrentCommand(perr.StatusOf(err), nil)
	}
}

func (p *Player) metadata() (node.MetadataInterface, error) {
	if p.sourceNode == nil || p.sourceCaps == nil {
		return nil, perr.New(perr.ErrNotReady, "no data source")
	}
	iface, err := p.sourceCaps.Lookup(node.UUIDMetadata)
	if err != nil {
		return nil, err
	}
	meta, ok := iface.(node.MetadataInterface)
	if !ok {
		return nil, perr.New(perr.ErrNotSupported, "published metadata interface has the wrong type")
	}
	return meta, nil
}

func (p *Player) beginGetMetadataKeys(cmd *Command) {
	meta, err := p.metadata()
	if err != nil {
		p.completeCurrentCommand(perr.StatusOf(err), nil)
		return
	}

	p.beginQuery(cmd, "meta-keys", func(ec *EngineContext) (node.CmdID, error) {
		return meta.GetMetadataKeys(context.Background(), ec)
	})
}

func (p *Player) beginGetMetadataValues(cmd *Command) {
	meta, err := p.metadata()
	if err != nil {
		p.completeCurrentCommand(perr.StatusOf(err), nil)
		return
	}
	if len(cmd.ParamVector) < 1 || cmd.ParamVector[0].Kind != ParamBytes {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	keys := decodeKeys(cmd.ParamVector[0].Bytes)
	if len(keys) == 0 {
		// No explicit keys requested: fall back to the full key list from
		// the last GetMetadataKeys round-trip.
		keys = p.metadataKeysCache
	}
	p.beginQuery(cmd, "meta-values", func(ec *EngineContext) (node.CmdID, error) {
		return meta.GetMetadataValues(context.Background(), keys, ec)
	})
}

// beginQueryUuid resolves a mime type to the capability UUIDs available for
// it, forwarded to the source node (which owns the authoritative table for
// its own mime family).
func (p *Player) beginQueryUuid(cmd *Command) {
	if p.sourceNode == nil {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}
	if len(cmd.ParamVector) < 2 || cmd.ParamVector[0].Kind != ParamStr || cmd.ParamVector[1].Kind != ParamBool {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	mimeType, exactOnly := cmd.ParamVector[0].Str, cmd.ParamVector[1].Bool
	p.beginQuery(cmd, "query-uuid", func(ec *EngineContext) (node.CmdID, error) {
		return p.sourceNode.QueryUuid(context.Background(), mimeType, exactOnly, ec)
	})
}

// beginQueryInterface first consults the capability table already discovered
// during AddDataSource - a hit completes synchronously as a pure getter -
// and only round-trips through the source node on a miss.
func (p *Player) beginQueryInterface(cmd *Command) {
	if len(cmd.ParamVector) < 1 || cmd.ParamVector[0].Kind != ParamOpaque {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}
	id, ok := cmd.ParamVector[0].Opaque.(node.UUID)
	if !ok {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	if p.sourceCaps != nil {
		if iface, err := p.sourceCaps.Lookup(id); err == nil {
			p.completeCurrentCommand(perr.Success, iface)
			return
		}
	}
	if p.sourceNode == nil {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}

	p.beginQuery(cmd, "query-iface", func(ec *EngineContext) (node.CmdID, error) {
		return p.sourceNode.QueryInterface(context.Background(), id, ec)
	})
}

func (p *Player) beginAcquireLicense(cmd *Command) {
	if p.sourceCaps == nil {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}
	iface, err := p.sourceCaps.Lookup(node.UUIDDRMLicense)
	if err != nil {
		p.completeCurrentCommand(perr.ErrNotSupported, nil)
		return
	}
	drm, ok := iface.(node.DRMLicenseInterface)
	if !ok {
		p.completeCurrentCommand(perr.ErrNotSupported, nil)
		return
	}
	if len(cmd.ParamVector) < 2 {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	licenseData, contentName := cmd.ParamVector[0].Opaque, cmd.ParamVector[1].Str
	p.beginQuery(cmd, "acquire-license", func(ec *EngineContext) (node.CmdID, error) {
		return drm.AcquireLicense(context.Background(), licenseData, contentName, ec)
	})
}

// beginCancelAcquireLicense is the sole cancel-by-id entry point:
// a still-pending AcquireLicense is pulled out of the queue and completed
// Cancelled. During HandlingError the cancellation machinery already owns the
// queue, so the request is refused.
func (p *Player) beginCancelAcquireLicense(cmd *Command) {
	if p.State() == StateHandlingError {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}
	if len(cmd.ParamVector) < 1 || cmd.ParamVector[0].Kind != ParamU32 {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	target := p.queue.RemoveByID(uint64(cmd.ParamVector[0].U32))
	if target == nil || target.CmdType != CmdAcquireLicense {
		if target != nil {
			// Wrong kind of command - put it back untouched.
			p.queue.Requeue(target)
		}
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	p.completeDetachedCommand(target, perr.Cancelled)
	p.completeCurrentCommand(perr.Success, nil)
}

func decodeKeys(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return strings.Split(string(b), ";")
}
