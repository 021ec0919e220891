// Package engine implements the player core's control plane: the
// cooperative active-object scheduler, the priority command queue, and the
// engine state machine / datapath orchestrator that drives nodes through
// the playback lifecycle.
package engine

import (
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hbomb79/pvplayer/internal/event"
	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
	"github.com/hbomb79/pvplayer/pkg/logger"
)

var log = logger.Get("Engine")

// Config is the subset of the flat configuration surface the engine
// itself consults. internal/config owns decoding the full key set (including
// productinfo) from file/env; Player only needs the handful of values that
// change command-handling behavior.
type Config struct {
	SeekToSyncPoint     bool
	SkipToRequestedPos  bool
	RenderSkipped       bool
	SyncPointSeekWindow uint32
	NodeCmdTimeoutMS    uint32
	PbPosEnable         bool
	PbPosIntervalMS     uint32
}

// DefaultConfig carries the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		SeekToSyncPoint:     true,
		SkipToRequestedPos:  true,
		RenderSkipped:       false,
		SyncPointSeekWindow: 0,
		NodeCmdTimeoutMS:    10000,
		PbPosEnable:         false,
		PbPosIntervalMS:     1000,
	}
}

// Player is the engine active object: the single command-and-datapath
// orchestrator. Exactly one Player instance exists per playback session; all
// of its state is only ever mutated from the scheduler thread that runs its
// Run() method, with the single documented exception of State(), a lock-free
// read.
type Player struct {
	cfg Config

	queue     *CommandQueue
	scheduler *Scheduler

	state atomic.Int32

	currentCmd  *Command
	procedure   procedure
	cancelation *cancelState

	clock *Clock

	datapaths []*Datapath

	sourceNode    node.Node
	sourceSession node.SessionID
	sourceFormat  string
	sourceCaps    *node.CapabilityRegistry

	recognizers      *node.RecognizerRegistry
	sourceFactories  *node.FactoryRegistry
	decoderFactories *node.FactoryRegistry
	sinkFactories    *node.FactoryRegistry
	sessions         *node.SessionRegistry

	// sinksByMedia holds sinks supplied by the caller via AddDataSink,
	// keyed by the media type they were registered for. Prepare's fan-out
	// prefers a caller-supplied sink over looking one up from sinkFactories.
	sinksByMedia map[MediaType]node.Node

	// trackSelector, when set, overrides Prepare's default "first playable
	// track per media type" policy.
	trackSelector func([]node.TrackInfo) []node.TrackInfo

	ctxPool *contextPool
	inbox   *nodeInbox

	watchdog  *Watchdog
	posTicker *PositionTicker

	numPendingNodeCmd     int
	numPendingDatapathCmd int

	pendingSeek *pendingSeekRequest

	// procGen is bumped whenever the current procedure ends or is replaced;
	// sub-command completions stamped with an older generation are stale and
	// dropped (see onNodeCommandCompleted).
	procGen uint64

	// underflowLimiter throttles the BufferUnderflow/DataReady command
	// stream so a flapping source cannot starve the normal-priority queue
	// tier with auto-pause/resume churn.
	underflowLimiter *rate.Limiter

	// fatalError, when set, is the error-event payload delivered to the
	// client once error handling reaches a quiescent state: the client sees
	// exactly one error event, once the engine lands in Error or Idle.
	fatalError *ErrorEventPayload

	errorOccurredDuringErrorHandling bool

	playbackRangeBeginMS int64
	playbackRangeEndMS   int64

	metadataKeysCache []string

	events event.EventCoordinator
}

// procedure is a multi-phase command handler. Each
// phase mutates Player state and either calls p.completeCurrentCommand or
// issues further node/datapath sub-commands before returning; Run() never
// blocks waiting for a phase to finish.
type procedure interface {
	// name identifies the procedure for logging/diagnostics.
	name() string
}

// cancelState tracks the bookkeeping of an in-flight CancelAllCommands
// procedure, kept separate from the generic procedure
// interface because cancellation can be layered on top of whatever
// procedure was previously current.
type cancelState struct {
	interruptedCmd    *Command
	pendingCancelCmds int
	drainedPending    []*Command
}

// pendingSeekRequest holds a SetPlaybackRange that arrived while the engine
// was in a transitional state.
type pendingSeekRequest struct {
	cmd *Command
}

// NewPlayer constructs an idle engine. Enqueuing a command (from any
// goroutine) schedules the engine on scheduler, which wakes the goroutine
// running scheduler.Loop; events receives every CommandCompleted /
// HandleErrorEvent / HandleInformationalEvent / EngineStateChanged.
func NewPlayer(cfg Config, scheduler *Scheduler, events event.EventCoordinator) *Player {
	p := &Player{
		cfg:              cfg,
		scheduler:        scheduler,
		events:           events,
		clock:            NewClock(nil),
		recognizers:      node.NewRecognizerRegistry(),
		sourceFactories:  node.NewFactoryRegistry(),
		decoderFactories: node.NewFactoryRegistry(),
		sinkFactories:    node.NewFactoryRegistry(),
		sessions:         node.NewSessionRegistry(),
		sinksByMedia:     make(map[MediaType]node.Node),
		ctxPool:          newContextPool(),
		underflowLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}
	p.queue = NewCommandQueue(func() { scheduler.Schedule(p) })
	p.inbox = newNodeInbox(func() { scheduler.Schedule(p) })
	p.watchdog = NewWatchdog(scheduler, cfg.NodeCmdTimeoutMS, p.handleWatchdogExpired)

	if cfg.PbPosEnable && cfg.PbPosIntervalMS > 0 {
		p.posTicker = NewPositionTicker(p.clock, int64(cfg.PbPosIntervalMS), func(npt int64) {
			p.events.Dispatch(event.HandleInformationalEvent, InformationalEventPayload{
				Code:  node.InfoPlaybackPosition,
				Param: npt,
			})
		})
		scheduler.RunIfNotReady(&posTickerAO{p: p}, int64(cfg.PbPosIntervalMS)*1000)
	}

	p.setState(StateIdle)
	return p
}

// posTickerAO is the ancillary active object driving the recurring playback
// position event (pbpos_enable / pbpos_interval) alongside the
// engine AO on the same scheduler.
type posTickerAO struct {
	p *Player
}

func (t *posTickerAO) Priority() Priority { return PriorityNormal }

func (t *posTickerAO) Run() {
	if t.p.State() == StateStarted {
		t.p.posTicker.MaybeFire(time.Now().UnixMilli())
	}
	t.p.scheduler.RunIfNotReady(t, int64(t.p.cfg.PbPosIntervalMS)*1000)
}

// Priority satisfies ActiveObject. The engine AO itself always runs at the
// top priority tier - the actual command-to-command ordering is enforced
// inside CommandQueue, not by the scheduler's AO priority, which
// only needs to distinguish the engine from ancillary AOs like the position
// ticker.
func (p *Player) Priority() Priority { return PriorityReserved }

// Run is the engine active object's entry point: pop the
// highest-priority pending command into the single current-command slot (if
// none is already current), and dispatch it. Returns without blocking;
// further progress on an asynchronous phase happens via a node/datapath
// callback that reschedules the engine AO.
func (p *Player) Run() {
	for _, e := range p.inbox.drain() {
		p.handleNodeEvent(e)
	}

	if p.currentCmd != nil {
		// The current command is never preempted by ordinary pending
		// commands - the single exception is a cancel-class
		// command, which claims the slot and moves whatever was current into
		// the cancellation cohort.
		if p.cancelation == nil {
			if c := p.queue.PopCancel(); c != nil {
				p.beginCancelInterrupt(c)
			}
		}
		return
	}

	cmd := p.queue.Pop()
	if cmd == nil {
		return
	}
	p.currentCmd = cmd
	p.procedure = nil
	log.Debugf("dispatching command %s (id=%d, priority=%d)\n", cmd.CmdType, cmd.CmdID, cmd.Priority())

	p.dispatchCurrent()
}

// dispatchCurrent starts the procedure for p.currentCmd the first time it is
// seen. Re-entry for an already-started multi-phase procedure happens via
// direct calls from node/datapath callbacks (adddatasource.go, prepare.go,
// ...), not by re-invoking dispatchCurrent - each procedure file's phase
// methods call p.scheduler.Schedule(p) only when they need Run() itself to
// make further progress (e.g. after arming the watchdog and returning).
func (p *Player) dispatchCurrent() {
	if p.procedure != nil {
		return
	}

	cmd := p.currentCmd
	switch cmd.CmdType {
	case CmdAddDataSource:
		p.beginAddDataSource(cmd)
	case CmdAddDataSink:
		p.beginAddDataSink(cmd)
	case CmdRemoveDataSink:
		p.beginRemoveDataSink(cmd)
	case CmdRemoveDataSource:
		p.beginRemoveDataSource(cmd)
	case CmdInit:
		p.beginInit(cmd)
	case CmdPrepare:
		p.beginPrepare(cmd)
	case CmdStart:
		p.beginStart(cmd)
	case CmdPause:
		p.beginPause(cmd)
	case CmdResume:
		p.beginResume(cmd)
	case CmdStop:
		p.beginStop(cmd)
	case CmdReset:
		p.beginReset(cmd)
	case CmdSetPlaybackRange:
		p.beginSeek(cmd)
	case CmdGetPlaybackRange:
		p.completeCurrentCommand(perr.Success, p.getPlaybackRange())
	case CmdGetCurrentPosition:
		p.completeCurrentCommand(perr.Success, p.clock.CurrentTime())
	case CmdSetPlaybackRate:
		p.beginSetPlaybackRate(cmd)
	case CmdGetPlaybackRate:
		p.completeCurrentCommand(perr.Success, p.clock.Rate())
	case CmdGetPlaybackMinMaxRate:
		p.completeCurrentCommand(perr.Success, p.minMaxRate())
	case CmdGetMetadataKeys:
		p.beginGetMetadataKeys(cmd)
	case CmdGetMetadataValues:
		p.beginGetMetadataValues(cmd)
	case CmdQueryUuid:
		p.beginQueryUuid(cmd)
	case CmdQueryInterface:
		p.beginQueryInterface(cmd)
	case CmdGetPVPlayerState, CmdGetPVPlayerStateSync:
		p.completeCurrentCommand(perr.Success, p.State())
	case CmdCancelAllCommands:
		p.beginCancelAll(cmd)
	case CmdAcquireLicense:
		p.beginAcquireLicense(cmd)
	case CmdCancelAcquireLicense:
		p.beginCancelAcquireLicense(cmd)
	case CmdCancelDueToError:
		p.beginCancelDueToError(cmd)
	case CmdStopDueToError:
		p.beginStopDueToError(cmd)
	case CmdResetDueToError:
		p.beginResetDueToError(cmd)
	case CmdCleanupDueToError:
		p.beginCleanupDueToError(cmd)
	case CmdAutoPauseEndOfClip, CmdAutoPauseUnderflow:
		p.beginAutoPause(cmd)
	case CmdAutoResumeDataReady:
		p.beginAutoResume(cmd)
	default:
		p.completeCurrentCommand(perr.ErrNotSupported, nil)
	}
}

// completeCurrentCommand finishes whatever command is current, dispatches
// CommandCompleted to subscribers, clears the current-command slot, and
// schedules the engine AO again so the next pending command (if any) is
// picked up.
func (p *Player) completeCurrentCommand(status perr.Status, result any) {
	cmd := p.currentCmd
	if cmd == nil {
		return
	}

	p.currentCmd = nil
	p.procedure = nil
	p.procGen++
	p.watchdog.Disarm()

	log.Debugf("command %s (id=%d) completed with status=%s\n", cmd.CmdType, cmd.CmdID, status)

	p.events.Dispatch(event.CommandCompleted, CommandCompletedPayload{
		CmdID:  cmd.CmdID,
		Status: status,
		Result: result,
		Ctx:    cmd.Context,
		API:    cmd.APIFlag,
	})

	p.scheduler.Schedule(p)
}

// completeDetachedCommand reports completion for a command that never made it
// to (or was evicted from) the current-command slot - drained pending commands
// and the interrupted command of a cancellation cohort.
func (p *Player) completeDetachedCommand(cmd *Command, status perr.Status) {
	log.Debugf("command %s (id=%d) completed detached with status=%s\n", cmd.CmdType, cmd.CmdID, status)

	p.events.Dispatch(event.CommandCompleted, CommandCompletedPayload{
		CmdID:  cmd.CmdID,
		Status: status,
		Ctx:    cmd.Context,
		API:    cmd.APIFlag,
	})
}

// CommandCompletedPayload is the value dispatched on event.CommandCompleted.
// API distinguishes client-issued commands from engine-internal ones so
// upward transports can suppress the latter.
type CommandCompletedPayload struct {
	CmdID  uint64
	Status perr.Status
	Result any
	Ctx    any
	API    bool
}

// ErrorEventPayload is the value dispatched on event.HandleErrorEvent.
type ErrorEventPayload struct {
	Status perr.Status
	Cause  string
}

// InformationalEventPayload is the value dispatched on
// event.HandleInformationalEvent.
type InformationalEventPayload struct {
	Code  node.InfoEventCode
	Param any
}

// State returns the current engine state. This is the one documented
// documented cross-thread read - backed by an atomic so callers outside the
// scheduler goroutine (e.g. a synchronous GetPVPlayerStateSync handler) don't
// need to round-trip through the command queue.
func (p *Player) State() EngineState {
	return EngineState(p.state.Load())
}

func (p *Player) setState(s EngineState) {
	old := EngineState(p.state.Swap(int32(s)))
	if old != s {
		p.events.Dispatch(event.EngineStateChanged, s)
		log.Debugf("engine state %s -> %s\n", old, s)
	}

	// A seek that arrived during a transitional state applies on reaching
	// the next steady state.
	if s.IsSteady() && p.pendingSeek != nil {
		deferred := p.pendingSeek.cmd
		p.pendingSeek = nil
		p.queue.Requeue(deferred)
	}
}

// --- Upward API -------------------------------------------------
//
// Every one of these enqueues a Command and returns its id immediately; the
// corresponding CommandCompleted event carries the eventual result. The
// public surface is fully asynchronous - there is no
// blocking "Do" variant, including for the getters, which still round-trip
// through the queue so they observe a consistent, serialized view of engine
// state.

func (p *Player) AddDataSource(sourceURI string, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdAddDataSource, true, ctx, CmdParam{Kind: ParamStr, Str: sourceURI}))
}

func (p *Player) AddDataSink(mediaType MediaType, sink node.Node, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdAddDataSink, true, ctx, CmdParam{Kind: ParamI32, I32: int32(mediaType)}, CmdParam{Kind: ParamOpaque, Opaque: sink}))
}

func (p *Player) RemoveDataSink(mediaType MediaType, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdRemoveDataSink, true, ctx, CmdParam{Kind: ParamI32, I32: int32(mediaType)}))
}

func (p *Player) RemoveDataSource(ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdRemoveDataSource, true, ctx))
}

func (p *Player) Init(ctx any) uint64    { return p.queue.Enqueue(newCommand(CmdInit, true, ctx)) }
func (p *Player) Prepare(ctx any) uint64 { return p.queue.Enqueue(newCommand(CmdPrepare, true, ctx)) }
func (p *Player) Start(ctx any) uint64   { return p.queue.Enqueue(newCommand(CmdStart, true, ctx)) }
func (p *Player) Pause(ctx any) uint64   { return p.queue.Enqueue(newCommand(CmdPause, true, ctx)) }
func (p *Player) Resume(ctx any) uint64  { return p.queue.Enqueue(newCommand(CmdResume, true, ctx)) }
func (p *Player) Stop(ctx any) uint64    { return p.queue.Enqueue(newCommand(CmdStop, true, ctx)) }
func (p *Player) Reset(ctx any) uint64   { return p.queue.Enqueue(newCommand(CmdReset, true, ctx)) }

func (p *Player) CancelAllCommands(ctx any) uint64 { return p.queue.CancelAll(ctx) }

func (p *Player) AcquireLicense(licenseData any, contentName string, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdAcquireLicense, true, ctx,
		CmdParam{Kind: ParamOpaque, Opaque: licenseData},
		CmdParam{Kind: ParamStr, Str: contentName}))
}

func (p *Player) CancelAcquireLicense(id uint64, ctx any) (uint64, error) {
	return p.queue.CancelByID(id, CmdAcquireLicense, ctx)
}

func (p *Player) SetPlaybackRange(beginMS, endMS int64, ctx any) uint64 {
	cmd := newCommand(CmdSetPlaybackRange, true, ctx,
		CmdParam{Kind: ParamPos, Pos: beginMS},
		CmdParam{Kind: ParamPos, Pos: endMS})
	return p.queue.Enqueue(cmd)
}

func (p *Player) GetPlaybackRange(ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdGetPlaybackRange, true, ctx))
}

func (p *Player) GetCurrentPosition(ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdGetCurrentPosition, true, ctx))
}

func (p *Player) SetPlaybackRate(rateMilliPct int64, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdSetPlaybackRate, true, ctx, CmdParam{Kind: ParamPos, Pos: rateMilliPct}))
}

func (p *Player) GetPlaybackRate(ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdGetPlaybackRate, true, ctx))
}

func (p *Player) GetPlaybackMinMaxRate(ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdGetPlaybackMinMaxRate, true, ctx))
}

func (p *Player) GetMetadataKeys(ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdGetMetadataKeys, true, ctx))
}

func (p *Player) GetMetadataValues(keys []string, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdGetMetadataValues, true, ctx, CmdParam{Kind: ParamBytes, Bytes: encodeKeys(keys)}))
}

func (p *Player) QueryUuid(mimeType string, exactOnly bool, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdQueryUuid, true, ctx,
		CmdParam{Kind: ParamStr, Str: mimeType},
		CmdParam{Kind: ParamBool, Bool: exactOnly}))
}

func (p *Player) QueryInterface(id node.UUID, ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdQueryInterface, true, ctx, CmdParam{Kind: ParamOpaque, Opaque: id}))
}

func (p *Player) GetPVPlayerState(ctx any) uint64 {
	return p.queue.Enqueue(newCommand(CmdGetPVPlayerState, true, ctx))
}

// GetPVPlayerStateSync is the synchronous getter supplementing the queued
// GetPVPlayerState.
func (p *Player) GetPVPlayerStateSync() EngineState {
	return p.State()
}

// SDKInfo identifies this engine build to clients.
type SDKInfo struct {
	Label string
	Date  string
}

// GetSDKInfo, and the log-appender/level surface below, are synchronous:
// none of them touch engine state, so they bypass the command queue and
// delegate straight to pkg/logger.
func (p *Player) GetSDKInfo() SDKInfo {
	return SDKInfo{Label: "pvplayer/1.0", Date: "20260801"}
}

func (p *Player) SetLogAppender(a logger.LogAppender) uint32 {
	return logger.SetLogAppender(a)
}

func (p *Player) RemoveLogAppender(handle uint32) {
	logger.RemoveLogAppender(handle)
}

func (p *Player) SetLogLevel(level logger.LogLevel) {
	logger.SetMinLoggingLevel(level)
}

func (p *Player) GetLogLevel() logger.LogLevel {
	return logger.GetLogLevel()
}

// RegisterSourceNodeFactory, RegisterDecoderNodeFactory, and
// RegisterSinkNodeFactory wire node.Factory implementations (MP3 decoder,
// Android sink, ...) into the registries the AddDataSource/Prepare phases
// consult.
func (p *Player) RegisterSourceNodeFactory(mimeType string, f node.Factory) {
	p.sourceFactories.Register(mimeType, f)
}

func (p *Player) RegisterDecoderNodeFactory(mimeType string, f node.Factory) {
	p.decoderFactories.Register(mimeType, f)
}

func (p *Player) RegisterSinkNodeFactory(mimeType string, f node.Factory) {
	p.sinkFactories.Register(mimeType, f)
}

func (p *Player) RegisterRecognizer(r node.FormatRecognizer) {
	p.recognizers.Add(r)
}

// SetTrackSelector installs the optional track-selection helper consulted
// during Prepare. Passing nil reverts to the default "first playable track
// per media type" policy.
func (p *Player) SetTrackSelector(f func([]node.TrackInfo) []node.TrackInfo) {
	p.trackSelector = f
}

func mediaTypeOfMime(mime string) MediaType {
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return MediaAudio
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo
	case strings.HasPrefix(mime, "text/"):
		return MediaText
	default:
		return MediaUnknown
	}
}

// --- node.Observer -------------------------------------------------------
//
// Player is the Observer every node session is registered against. Nodes may
// call these from any goroutine; each method only ever pushes onto nodeInbox and
// wakes the scheduler - actual state mutation happens later, on the engine
// AO's own goroutine, when Run drains the inbox (see handleNodeEvent below).

func (p *Player) NodeCommandCompleted(resp node.CmdResponse) {
	p.inbox.push(nodeEvent{kind: nodeEventCmdCompleted, cmd: resp})
}

func (p *Player) HandleNodeInfoEvent(evt node.InfoEvent) {
	p.inbox.push(nodeEvent{kind: nodeEventInfo, info: evt})
}

func (p *Player) HandleNodeErrorEvent(evt node.ErrorEvent) {
	p.inbox.push(nodeEvent{kind: nodeEventError, errv: evt})
}

func (p *Player) handleNodeEvent(e nodeEvent) {
	switch e.kind {
	case nodeEventCmdCompleted:
		p.onNodeCommandCompleted(e.cmd)
	case nodeEventInfo:
		p.onNodeInfoEvent(e.info)
	case nodeEventError:
		p.onNodeErrorEvent(e.errv)
	}
}

// onNodeCommandCompleted routes a node completion back to whichever
// procedure is current, keyed by the EngineContext it was issued with
// (context.go routes the completion back to the right step of the owning
// multi-phase procedure).
func (p *Player) onNodeCommandCompleted(resp node.CmdResponse) {
	ec, ok := resp.CmdContext.(*EngineContext)
	if !ok || ec == nil {
		log.Warnf("NodeCommandCompleted with unrecognized context: %#v\n", resp.CmdContext)
		return
	}

	p.ctxPool.release(ec)

	if ec.gen != p.procGen {
		// A sub-command of a cancelled/superseded procedure finally landed;
		// its watchdog arm was already cleared when the procedure was torn
		// down, so there is nothing left to account.
		log.Debugf("dropping stale sub-command completion (phase %q)\n", ec.Phase)
		return
	}

	p.watchdog.Disarm()

	if p.procedure == nil {
		return
	}
	if handler, ok := p.procedure.(nodeAware); ok {
		handler.onNodeComplete(p, ec, resp)
	}
}

// acquireContext stamps a fresh EngineContext with the current procedure
// generation. Every sub-command the engine issues goes through this (directly
// or via issueNodeSub).
func (p *Player) acquireContext(dpIdx int, n node.Node, dp *Datapath, cmdType CmdType, cmdCtx any, phase string) (*EngineContext, error) {
	ec, err := p.ctxPool.acquire(dpIdx, n, dp, cmdType, cmdCtx, phase)
	if err != nil {
		return nil, err
	}
	ec.gen = p.procGen
	return ec, nil
}

// nodeAware is implemented by any procedure that issues sub-commands against
// nodes and needs to resume when one of them completes.
type nodeAware interface {
	onNodeComplete(p *Player, ec *EngineContext, resp node.CmdResponse)
}

// issueNodeSub issues one asynchronous sub-command against n with a fresh
// EngineContext and the watchdog armed, undoing both if the call fails before
// becoming outstanding. On success the fan-out countdown counters are
// incremented; the matching decrement happens in whichever procedure handles
// the completion.
func (p *Player) issueNodeSub(dpIdx int, n node.Node, dp *Datapath, cmdType CmdType, phase string, call func(*EngineContext) (node.CmdID, error)) error {
	ec, err := p.acquireContext(dpIdx, n, dp, cmdType, nil, phase)
	if err != nil {
		return err
	}

	p.watchdog.Arm()
	if _, err := call(ec); err != nil {
		p.watchdog.Disarm()
		p.ctxPool.release(ec)
		return err
	}

	p.numPendingNodeCmd++
	if dp != nil {
		dp.PendingNodeCmdCount++
	}
	return nil
}

// graphTarget is one node of the live graph, paired with the datapath it
// belongs to (nil for the source node) so fan-out bookkeeping can track
// per-datapath counters alongside the engine-wide one.
type graphTarget struct {
	node    node.Node
	dpIndex int
	dp      *Datapath
}

// graphNodes returns every live node in the graph: the source first, then each
// active datapath's decoder and sink.
func (p *Player) graphNodes() []graphTarget {
	targets := make([]graphTarget, 0, 1+2*len(p.datapaths))
	if p.sourceNode != nil {
		targets = append(targets, graphTarget{node: p.sourceNode, dpIndex: -1})
	}
	for i, dp := range p.datapaths {
		if !dp.TrackActive {
			continue
		}
		if dp.DecNodeRef != nil {
			targets = append(targets, graphTarget{node: dp.DecNodeRef, dpIndex: i, dp: dp})
		}
		if dp.SinkNodeRef != nil {
			targets = append(targets, graphTarget{node: dp.SinkNodeRef, dpIndex: i, dp: dp})
		}
	}
	return targets
}

// sinkNodes returns only the sink leg of each active datapath - seek and
// auto-pause touch sinks without disturbing the rest of the graph.
func (p *Player) sinkNodes() []graphTarget {
	targets := make([]graphTarget, 0, len(p.datapaths))
	for i, dp := range p.datapaths {
		if dp.TrackActive && dp.SinkNodeRef != nil {
			targets = append(targets, graphTarget{node: dp.SinkNodeRef, dpIndex: i, dp: dp})
		}
	}
	return targets
}

func (p *Player) getPlaybackRange() [2]int64 {
	return [2]int64{p.playbackRangeBeginMS, p.playbackRangeEndMS}
}

func encodeKeys(keys []string) []byte {
	out := make([]byte, 0, 32)
	for i, k := range keys {
		if i > 0 {
			out = append(out, ';')
		}
		out = append(out, k...)
	}
	return out
}

func (p *Player) minMaxRate() [2]int64 {
	return [2]int64{-400000, 400000}
}
