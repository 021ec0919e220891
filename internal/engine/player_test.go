package engine

import (
	"context"
	"testing"
	"time"

	"github.com/hbomb79/go-chanassert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbomb79/pvplayer/internal/androidsink"
	"github.com/hbomb79/pvplayer/internal/event"
	"github.com/hbomb79/pvplayer/internal/mp3decoder"
	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/internal/perr"
)

// harness runs a Player on a real scheduler goroutine and records every
// upward event, exactly as an embedding client would observe them.
type harness struct {
	player    *Player
	scheduler *Scheduler

	completed chan CommandCompletedPayload
	states    chan EngineState
	infos     chan InformationalEventPayload
	errors    chan ErrorEventPayload

	// stateStream/infoStream mirror states/infos for chanassert expecters,
	// which own their channel exclusively once Listen is called; the plain
	// channels above stay free for the await helpers that sequence a test.
	stateStream chan EngineState
	infoStream  chan InformationalEventPayload
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	events := event.New()
	scheduler := NewScheduler(nil)
	player := NewPlayer(cfg, scheduler, events)

	h := &harness{
		player:      player,
		scheduler:   scheduler,
		completed:   make(chan CommandCompletedPayload, 64),
		states:      make(chan EngineState, 64),
		infos:       make(chan InformationalEventPayload, 64),
		errors:      make(chan ErrorEventPayload, 64),
		stateStream: make(chan EngineState, 64),
		infoStream:  make(chan InformationalEventPayload, 64),
	}

	events.RegisterHandlerFunction(event.CommandCompleted, func(_ event.Event, p event.Payload) {
		h.completed <- p.(CommandCompletedPayload)
	})
	events.RegisterHandlerFunction(event.EngineStateChanged, func(_ event.Event, p event.Payload) {
		h.states <- p.(EngineState)
		h.stateStream <- p.(EngineState)
	})
	events.RegisterHandlerFunction(event.HandleInformationalEvent, func(_ event.Event, p event.Payload) {
		h.infos <- p.(InformationalEventPayload)
		h.infoStream <- p.(InformationalEventPayload)
	})
	events.RegisterHandlerFunction(event.HandleErrorEvent, func(_ event.Event, p event.Payload) {
		h.errors <- p.(ErrorEventPayload)
	})

	done := make(chan struct{})
	go scheduler.Loop(done)
	t.Cleanup(func() { close(done) })

	return h
}

func (h *harness) awaitCompletion(t *testing.T, id uint64) CommandCompletedPayload {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-h.completed:
			if c.CmdID == id {
				return c
			}
		case <-deadline:
			t.Fatalf("command %d never completed", id)
		}
	}
}

func (h *harness) awaitState(t *testing.T, want EngineState) {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("engine never reached state %s (currently %s)", want, h.player.State())
		}
	}
}

func (h *harness) drainStates() []EngineState {
	var seen []EngineState
	for {
		select {
		case s := <-h.states:
			seen = append(seen, s)
		default:
			return seen
		}
	}
}

// matchState returns a chanassert matcher for one engine state transition.
func matchState(want EngineState) chanassert.Matcher[EngineState] {
	return chanassert.MatchPredicate(func(got EngineState) bool { return got == want })
}

// matchInfoCode returns a chanassert matcher for informational events
// carrying the given code.
func matchInfoCode(want node.InfoEventCode) chanassert.Matcher[InformationalEventPayload] {
	return chanassert.MatchPredicate(func(got InformationalEventPayload) bool { return got.Code == want })
}

// registerMP3Graph wires the real MP3 source node and Android-style sink the
// way cmd/pvplayer does, returning the source the factory will hand out.
func registerMP3Graph(h *harness) (*mp3decoder.SourceNode, *androidsink.SinkNode) {
	src := mp3decoder.NewSourceNode(180_000)
	sink := androidsink.NewSinkNode(false)

	h.player.RegisterRecognizer(mp3decoder.Recognizer{})
	h.player.RegisterSourceNodeFactory(mp3decoder.MimeTypeMP3, func() node.Node { return src })
	return src, sink
}

func TestPlayer_HappyPathToStarted(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, sink := registerMP3Graph(h)

	// One layer per expected transition: the engine must emit exactly this
	// sequence, in this order, and nothing else.
	exp := chanassert.NewChannelExpecter(h.stateStream).
		Expect(chanassert.OneOf(matchState(StateInitializing))).
		Expect(chanassert.OneOf(matchState(StateInitialized))).
		Expect(chanassert.OneOf(matchState(StatePreparing))).
		Expect(chanassert.OneOf(matchState(StatePrepared))).
		Expect(chanassert.OneOf(matchState(StateStarting))).
		Expect(chanassert.OneOf(matchState(StateStarted)))
	exp.Listen()

	id := h.player.AddDataSource("clip.mp3", nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)

	id = h.player.Init(nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)

	id = h.player.AddDataSink(MediaAudio, sink, nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)

	id = h.player.Prepare(nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)

	id = h.player.Start(nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)

	assert.Equal(t, StateStarted, h.player.GetPVPlayerStateSync())
	exp.AssertSatisfied(t, 3*time.Second)
}

func TestPlayer_AddDataSourceUnknownFormat(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.player.RegisterRecognizer(mp3decoder.Recognizer{})

	id := h.player.AddDataSource("clip.ogg", nil)
	got := h.awaitCompletion(t, id)
	assert.Equal(t, perr.ErrNotSupported, got.Status)
	assert.Equal(t, StateIdle, h.player.GetPVPlayerStateSync())
}

func TestPlayer_CommandsRejectedInWrongState(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	id := h.player.Start(nil)
	assert.Equal(t, perr.ErrNotReady, h.awaitCompletion(t, id).Status)

	id = h.player.Prepare(nil)
	assert.Equal(t, perr.ErrNotReady, h.awaitCompletion(t, id).Status)
}

// startPlayback drives the harness to Started and returns the live graph.
func startPlayback(t *testing.T, h *harness) (*mp3decoder.SourceNode, *androidsink.SinkNode) {
	t.Helper()

	src, sink := registerMP3Graph(h)
	for _, id := range []uint64{
		h.player.AddDataSource("clip.mp3", nil),
		h.player.Init(nil),
		h.player.AddDataSink(MediaAudio, sink, nil),
		h.player.Prepare(nil),
		h.player.Start(nil),
	} {
		require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)
	}
	require.Equal(t, StateStarted, h.player.GetPVPlayerStateSync())
	return src, sink
}

func TestPlayer_SeekFlushesSkipWindow(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, sink := startPlayback(t, h)

	// Buffers straddling the seek target: the pre-target one must be
	// flushed, the post-target one rendered.
	sink.Enqueue(node.MediaBuffer{TimestampMS: 10_000})
	sink.Enqueue(node.MediaBuffer{TimestampMS: 35_000})

	id := h.player.SetPlaybackRange(30_000, 90_000, nil)
	got := h.awaitCompletion(t, id)
	require.Equal(t, perr.Success, got.Status)

	// The source snaps the target back to an MP3 frame boundary.
	snapped, ok := got.Result.(int64)
	require.True(t, ok)
	assert.EqualValues(t, 29_978, snapped)

	assert.Equal(t, 1, sink.QueueDepth(), "pre-seek buffer must be flushed")

	id = h.player.GetCurrentPosition(nil)
	pos := h.awaitCompletion(t, id)
	require.Equal(t, perr.Success, pos.Status)
	assert.InDelta(t, float64(snapped), float64(pos.Result.(int64)), 250)

	id = h.player.GetPlaybackRange(nil)
	rng := h.awaitCompletion(t, id)
	assert.Equal(t, [2]int64{30_000, 90_000}, rng.Result)
}

func TestPlayer_UnderflowAutoPauseAndResume(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	src, _ := startPlayback(t, h)
	h.drainStates()

	// The informational events are the client's only visibility: exactly one
	// underflow notification, then exactly one data-ready - anything extra
	// lands in the wrong layer and fails the assertion.
	exp := chanassert.NewChannelExpecter(h.infoStream).
		Expect(chanassert.OneOf(matchInfoCode(node.InfoBufferUnderflow))).
		Expect(chanassert.OneOf(matchInfoCode(node.InfoDataReady)))
	exp.Listen()

	src.ReportUnderflow()
	h.awaitState(t, StateAutoPausing)
	h.awaitState(t, StateAutoPaused)

	src.ReportDataReady()
	h.awaitState(t, StateAutoResuming)
	h.awaitState(t, StateStarted)

	exp.AssertSatisfied(t, 3*time.Second)

	// No API-flagged CommandCompleted may have surfaced for the internal
	// auto-pause/resume commands.
	for {
		select {
		case c := <-h.completed:
			assert.False(t, c.API, "auto-pause must not surface an API CommandCompleted")
		default:
			return
		}
	}
}

func TestPlayer_PauseResumeStop(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startPlayback(t, h)

	id := h.player.Pause(nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)
	assert.Equal(t, StatePaused, h.player.GetPVPlayerStateSync())

	id = h.player.Resume(nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)
	assert.Equal(t, StateStarted, h.player.GetPVPlayerStateSync())

	id = h.player.Stop(nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)
	assert.Equal(t, StateInitialized, h.player.GetPVPlayerStateSync())

	id = h.player.Reset(nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)
	assert.Equal(t, StateIdle, h.player.GetPVPlayerStateSync())
}

func TestPlayer_SetPlaybackRate(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startPlayback(t, h)

	id := h.player.SetPlaybackRate(200_000, nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)

	id = h.player.GetPlaybackRate(nil)
	got := h.awaitCompletion(t, id)
	assert.EqualValues(t, 200_000, got.Result)

	// Sign flip round-trips through SetDataSourceDirection on the source.
	id = h.player.SetPlaybackRate(-100_000, nil)
	require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)

	id = h.player.GetPlaybackRate(nil)
	got = h.awaitCompletion(t, id)
	assert.EqualValues(t, -100_000, got.Result)

	id = h.player.SetPlaybackRate(999_000_000, nil)
	assert.Equal(t, perr.ErrArgument, h.awaitCompletion(t, id).Status)
}

func TestPlayer_MetadataRoundTrip(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startPlayback(t, h)

	id := h.player.GetMetadataKeys(nil)
	keys := h.awaitCompletion(t, id)
	require.Equal(t, perr.Success, keys.Status)
	assert.Contains(t, keys.Result.([]string), "duration")

	id = h.player.GetMetadataValues([]string{"duration"}, nil)
	values := h.awaitCompletion(t, id)
	require.Equal(t, perr.Success, values.Status)
	assert.EqualValues(t, 180_000, values.Result.(map[string]any)["duration"])
}

// stalledSource is a source-node double whose GetTrackList withholds its
// completion until release is closed (or forever, for the watchdog test),
// letting tests catch the engine mid-Preparing.
type stalledSource struct {
	node.Completer
	caps    *node.CapabilityRegistry
	release chan struct{}
}

func newStalledSource() *stalledSource {
	s := &stalledSource{caps: node.NewCapabilityRegistry(), release: make(chan struct{})}
	s.caps.Publish(node.UUIDInitialization, node.SourceInitInterface(s))
	s.caps.Publish(node.UUIDTrackSelection, node.TrackSelectionInterface(s))
	s.caps.Publish(node.UUIDPlaybackControl, node.PlaybackControlInterface(s))
	s.caps.Publish(node.UUIDMetadata, node.MetadataInterface(s))
	return s
}

func (s *stalledSource) ack(cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	s.Complete(id, node.Success, nil, cmdCtx)
	return id, nil
}

func (s *stalledSource) QueryUuid(_ context.Context, _ string, _ bool, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}

func (s *stalledSource) QueryInterface(_ context.Context, uuid node.UUID, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	iface, err := s.caps.Lookup(uuid)
	if err != nil {
		s.Complete(id, node.ErrNotSupported, nil, cmdCtx)
		return id, nil
	}
	s.Complete(id, node.Success, iface, cmdCtx)
	return id, nil
}

func (s *stalledSource) Init(_ context.Context, cmdCtx any) (node.CmdID, error) { return s.ack(cmdCtx) }
func (s *stalledSource) Prepare(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}
func (s *stalledSource) Start(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}
func (s *stalledSource) Pause(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}
func (s *stalledSource) Resume(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}
func (s *stalledSource) Stop(_ context.Context, cmdCtx any) (node.CmdID, error) { return s.ack(cmdCtx) }
func (s *stalledSource) Flush(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}

func (s *stalledSource) Reset(_ context.Context, cmdCtx any) (node.CmdID, error) {
	if cmdCtx == nil {
		return s.NextCmdID(), nil
	}
	return s.ack(cmdCtx)
}

func (s *stalledSource) CancelAll(_ context.Context, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}

func (s *stalledSource) Cancel(_ context.Context, _ node.CmdID, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}

func (s *stalledSource) SetDataSource(_ context.Context, _ string, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}

func (s *stalledSource) GetTrackList(_ context.Context, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	go func() {
		<-s.release
		s.Complete(id, node.Success, []node.TrackInfo{{TrackID: 0, MimeType: mp3decoder.MimeTypeMP3, Selectable: true}}, cmdCtx)
	}()
	return id, nil
}

func (s *stalledSource) SelectTracks(_ context.Context, _ []int, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}

func (s *stalledSource) GetActualNPT(_ context.Context, targetNPT int64, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	s.Complete(id, node.Success, targetNPT, cmdCtx)
	return id, nil
}

func (s *stalledSource) SetDataSourcePosition(_ context.Context, targetNPT int64, _, _ bool, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	s.Complete(id, node.Success, [2]int64{0, targetNPT}, cmdCtx)
	return id, nil
}

func (s *stalledSource) SetDataSourceDirection(_ context.Context, _ bool, cmdCtx any) (node.CmdID, error) {
	return s.ack(cmdCtx)
}

func (s *stalledSource) GetMetadataKeys(_ context.Context, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	s.Complete(id, node.Success, []string{}, cmdCtx)
	return id, nil
}

func (s *stalledSource) GetMetadataValues(_ context.Context, _ []string, cmdCtx any) (node.CmdID, error) {
	id := s.NextCmdID()
	s.Complete(id, node.Success, map[string]any{}, cmdCtx)
	return id, nil
}

func newStalledHarness(t *testing.T, cfg Config) (*harness, *stalledSource) {
	h := newHarness(t, cfg)
	src := newStalledSource()
	sink := androidsink.NewSinkNode(false)

	h.player.RegisterRecognizer(mp3decoder.Recognizer{})
	h.player.RegisterSourceNodeFactory(mp3decoder.MimeTypeMP3, func() node.Node { return src })

	for _, id := range []uint64{
		h.player.AddDataSource("clip.mp3", nil),
		h.player.Init(nil),
		h.player.AddDataSink(MediaAudio, sink, nil),
	} {
		require.Equal(t, perr.Success, h.awaitCompletion(t, id).Status)
	}
	return h, src
}

func TestPlayer_CancelAllDuringPrepare(t *testing.T) {
	h, _ := newStalledHarness(t, DefaultConfig())

	prepareID := h.player.Prepare(nil)
	h.awaitState(t, StatePreparing)

	cancelID := h.player.CancelAllCommands(nil)

	// The CancelAll command completes once every node acknowledged; the
	// interrupted Prepare completes only after the teardown cleanup.
	cancelled := h.awaitCompletion(t, cancelID)
	assert.Equal(t, perr.Success, cancelled.Status)

	prepared := h.awaitCompletion(t, prepareID)
	assert.Equal(t, perr.Cancelled, prepared.Status, "the interrupted Prepare completes Cancelled")
	assert.True(t, prepared.API)

	h.awaitState(t, StateIdle)
	assert.Equal(t, StateIdle, h.player.GetPVPlayerStateSync())
}

func TestPlayer_CancelAllDrainsPendingCommands(t *testing.T) {
	h, _ := newStalledHarness(t, DefaultConfig())

	prepareID := h.player.Prepare(nil)
	h.awaitState(t, StatePreparing)

	// Queued behind the wedged Prepare; both must come back Cancelled.
	startID := h.player.Start(nil)
	pauseID := h.player.Pause(nil)
	cancelID := h.player.CancelAllCommands(nil)

	assert.Equal(t, perr.Success, h.awaitCompletion(t, cancelID).Status)
	assert.Equal(t, perr.Cancelled, h.awaitCompletion(t, prepareID).Status)
	assert.Equal(t, perr.Cancelled, h.awaitCompletion(t, startID).Status)
	assert.Equal(t, perr.Cancelled, h.awaitCompletion(t, pauseID).Status)
	h.awaitState(t, StateIdle)
}

func TestPlayer_WatchdogExpiryDrivesErrorRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeCmdTimeoutMS = 40

	h, _ := newStalledHarness(t, cfg)
	// src.release is never closed: the sub-command hangs until the watchdog
	// declares the node dead.

	prepareID := h.player.Prepare(nil)
	h.awaitState(t, StatePreparing)

	assert.Equal(t, perr.Cancelled, h.awaitCompletion(t, prepareID).Status)
	h.awaitState(t, StateError)

	select {
	case errEvt := <-h.errors:
		assert.Equal(t, perr.ErrTimeout, errEvt.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("no error event reached the client")
	}
}

func TestPlayer_AsyncNodeErrorInSteadyState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	src, _ := startPlayback(t, h)

	src.Error(node.ErrorEvent{Status: node.ErrCorrupt, Cause: "bitstream damaged"})

	h.awaitState(t, StateError)

	select {
	case errEvt := <-h.errors:
		assert.Equal(t, perr.ErrCorrupt, errEvt.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("no error event reached the client")
	}
}

func TestPlayer_QueryInterfaceLocalHit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startPlayback(t, h)

	id := h.player.QueryInterface(node.UUIDPlaybackControl, nil)
	got := h.awaitCompletion(t, id)
	require.Equal(t, perr.Success, got.Status)

	_, ok := got.Result.(node.PlaybackControlInterface)
	assert.True(t, ok)
}

func TestPlayer_CancelAcquireLicenseUnknownID(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	id, err := h.player.CancelAcquireLicense(12345, nil)
	require.NoError(t, err)
	assert.Equal(t, perr.ErrArgument, h.awaitCompletion(t, id).Status)
}
