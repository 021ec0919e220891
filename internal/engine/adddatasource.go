package engine

import (
	"context"

	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// addDataSourceCaps is the mandatory capability set a source must publish;
// any of these absent fails the command with ErrNotSupported. DRM is
// queried separately, best-effort, once these all succeed.
var addDataSourceCaps = []node.UUID{
	node.UUIDInitialization,
	node.UUIDTrackSelection,
	node.UUIDPlaybackControl,
	node.UUIDMetadata,
}

// addDataSourceProcedure runs AddDataSource's phases: recognize format,
// instantiate the source node, query its mandatory capabilities (plus
// optional DRM/license), then SetDataSource. Any phase failure rolls back
// everything already acquired and fails the command.
type addDataSourceProcedure struct {
	sourceURI string
	capIndex  int
}

func (*addDataSourceProcedure) name() string { return "AddDataSource" }

func (p *Player) beginAddDataSource(cmd *Command) {
	if p.State() != StateIdle {
		p.completeCurrentCommand(perr.ErrNotReady, nil)
		return
	}
	if len(cmd.ParamVector) == 0 || cmd.ParamVector[0].Kind != ParamStr {
		p.completeCurrentCommand(perr.ErrArgument, nil)
		return
	}

	proc := &addDataSourceProcedure{sourceURI: cmd.ParamVector[0].Str}
	p.procedure = proc
	p.setState(StateInitializing)
	proc.recognize(p)
}

// recognize is a pure local lookup - no node is
// involved yet, so it completes synchronously within the same Run().
func (proc *addDataSourceProcedure) recognize(p *Player) {
	mime, err := p.recognizers.Recognize(proc.sourceURI)
	if err != nil {
		p.failAddDataSource(proc, perr.StatusOf(err), err.Error())
		return
	}

	p.sourceFormat = mime
	proc.instantiateSource(p)
}

// instantiateSource looks up and instantiates the source node for the
// recognized format.
func (proc *addDataSourceProcedure) instantiateSource(p *Player) {
	n, err := p.sourceFactories.Lookup(p.sourceFormat)
	if err != nil {
		p.failAddDataSource(proc, perr.StatusOf(err), err.Error())
		return
	}

	p.sourceNode = n
	p.sourceCaps = node.NewCapabilityRegistry()
	p.sourceSession = p.sessions.Open(sourceOwner{})
	n.SetObserver(p)

	proc.capIndex = 0
	proc.queryNextCap(p)
}

// queryNextCap drives capability discovery, one mandatory capability at a
// time; the optional DRM/license query follows once every mandatory one has
// succeeded.
func (proc *addDataSourceProcedure) queryNextCap(p *Player) {
	if proc.capIndex >= len(addDataSourceCaps) {
		proc.issueQuery(p, node.UUIDDRMLicense, "optional-drm", false)
		return
	}

	id := addDataSourceCaps[proc.capIndex]
	proc.issueQuery(p, id, "mandatory-cap", true)
}

func (proc *addDataSourceProcedure) issueQuery(p *Player, id node.UUID, phase string, mandatory bool) {
	ec, err := p.acquireContext(-1, p.sourceNode, nil, CmdQueryInterface, nil, phase)
	if err != nil {
		p.failAddDataSource(proc, perr.ErrNoResources, err.Error())
		return
	}
	ec.Aux = id

	p.watchdog.Arm()
	if _, err := p.sourceNode.QueryInterface(context.Background(), id, ec); err != nil {
		p.watchdog.Disarm()
		p.ctxPool.release(ec)

		if mandatory {
			p.failAddDataSource(proc, perr.StatusOf(err), err.Error())
			return
		}
		// Optional capability: absence isn't fatal, proceed to SetDataSource.
		proc.setSource(p)
	}
}

func (proc *addDataSourceProcedure) onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse) {
	switch ec.Phase {
	case "mandatory-cap":
		if resp.Status != node.Success {
			p.failAddDataSource(proc, bridgeStatus(resp.Status), "mandatory source capability query failed")
			return
		}
		id, _ := ec.Aux.(node.UUID)
		p.sourceCaps.Publish(id, resp.Param)
		proc.capIndex++
		proc.queryNextCap(p)

	case "optional-drm":
		if resp.Status == node.Success {
			p.sourceCaps.Publish(node.UUIDDRMLicense, resp.Param)
		}
		proc.setSource(p)

	case "set-source":
		if resp.Status != node.Success {
			p.failAddDataSource(proc, bridgeStatus(resp.Status), "SetDataSource failed")
			return
		}
		p.setState(StateInitialized)
		p.completeCurrentCommand(perr.Success, nil)

	default:
		log.Warnf("addDataSource: unexpected phase %q\n", ec.Phase)
	}
}

// setSource binds the source node to the caller's URI, the procedure's
// final phase.
func (proc *addDataSourceProcedure) setSource(p *Player) {
	iface, err := p.sourceCaps.Lookup(node.UUIDInitialization)
	if err != nil {
		p.failAddDataSource(proc, perr.ErrNotSupported, "source init interface missing")
		return
	}
	initIface, ok := iface.(node.SourceInitInterface)
	if !ok {
		p.failAddDataSource(proc, perr.ErrNotSupported, "published initialization interface has the wrong type")
		return
	}

	ec, err := p.acquireContext(-1, p.sourceNode, nil, CmdAddDataSource, nil, "set-source")
	if err != nil {
		p.failAddDataSource(proc, perr.ErrNoResources, err.Error())
		return
	}

	p.watchdog.Arm()
	if _, err := initIface.SetDataSource(context.Background(), proc.sourceURI, ec); err != nil {
		p.watchdog.Disarm()
		p.ctxPool.release(ec)
		p.failAddDataSource(proc, perr.StatusOf(err), err.Error())
	}
}

// failAddDataSource rolls back everything the procedure acquired - queried
// interfaces released, node session closed, node dropped - before
// completing the command with the phase's failure.
func (p *Player) failAddDataSource(proc *addDataSourceProcedure, status perr.Status, cause string) {
	log.Warnf("AddDataSource failed: %s (%s)\n", status, cause)

	if p.sourceNode != nil {
		_, _ = p.sourceNode.Reset(context.Background(), nil)
		p.sessions.Close(p.sourceSession)
	}
	p.sourceNode = nil
	p.sourceCaps = nil
	p.sourceFormat = ""

	p.setState(StateIdle)
	p.completeCurrentCommand(status, nil)
}

// sourceOwner is the SessionRegistry owner value for the source node's
// session, distinguishing it from a *Datapath owner at a glance in logs/
// debuggers.
type sourceOwner struct{}
