// Package node defines the engine's downward contract: the lifecycle
// command set every source/decoder/sink node must implement, plus the
// capability-discovery and session primitives the engine uses to talk to
// them.
package node

import (
	"context"

	"github.com/google/uuid"
)

// UUID identifies a node capability interface. It is a plain 128-bit id, not tied to google/uuid's
// generation helpers, so capability constants can be declared at compile time.
type UUID = uuid.UUID

// SessionID is a token identifying a logical connection from the engine to a
// node.
type SessionID uint64

// CmdID identifies one outstanding asynchronous node command.
type CmdID uint64

// TrackInfo describes one track a source node has discovered.
type TrackInfo struct {
	TrackID    int
	MimeType   string
	Duration   int64 // milliseconds
	Selectable bool
}

// CmdResponse is delivered to NodeCommandCompleted once a previously issued
// command finishes. CmdContext echoes back whatever value the caller passed
// as cmdCtx when it issued the command (Init/Prepare/.../QueryInterface) -
// the engine uses this to correlate the completion with the EngineContext it
// handed down, without needing a separate cmdId->context lookup table.
type CmdResponse struct {
	CmdID      CmdID
	Status     Status
	Param      any
	CmdContext any
}

// Status mirrors the engine's shared status vocabulary; node is intentionally
// decoupled from internal/perr so that node implementations (and any future
// out-of-tree node plugin) don't need to import the engine's internal error
// package. engine/bridge.go converts between the two at the boundary.
type Status int

const (
	Success Status = iota
	Pending
	Cancelled
	ErrArgument
	ErrNoMemory
	ErrNoResources
	ErrNotReady
	ErrNotSupported
	ErrBusy
	ErrCorrupt
	ErrTimeout
	ErrUnderflow
	ErrOverflow
	ErrFailure
)

// InfoEvent is an informational (non-error) event a node raises asynchronously,
// e.g. BufferUnderflow / DataReady.
type InfoEvent struct {
	Code    InfoEventCode
	Session SessionID
	Param   any
}

type InfoEventCode int

const (
	InfoBufferUnderflow InfoEventCode = iota
	InfoDataReady
	InfoEndOfClip
	InfoEndTimeReached

	// InfoPlaybackPosition is raised by the engine itself (never a node) on
	// the recurring pbpos_interval status event; it shares this vocabulary so
	// upward transports handle every informational event uniformly.
	InfoPlaybackPosition
)

// ErrorEvent is an asynchronous, non-command-originated failure a node
// reports.
type ErrorEvent struct {
	Session SessionID
	Status  Status
	Cause   string
}

// Observer receives a node's asynchronous callbacks. The engine implements this once per node session.
type Observer interface {
	NodeCommandCompleted(resp CmdResponse)
	HandleNodeInfoEvent(evt InfoEvent)
	HandleNodeErrorEvent(evt ErrorEvent)
}

// Node is the downward contract every source, decoder, and sink node
// implements. Every call returns a CmdID immediately; completion is
// reported later via the node's registered Observer.
type Node interface {
	QueryUuid(ctx context.Context, mimeType string, exactOnly bool, cmdCtx any) (CmdID, error)
	// QueryInterface resolves id against the node's CapabilityRegistry; the
	// published interface value is delivered as CmdResponse.Param on
	// completion.
	QueryInterface(ctx context.Context, id UUID, cmdCtx any) (CmdID, error)

	Init(ctx context.Context, cmdCtx any) (CmdID, error)
	Prepare(ctx context.Context, cmdCtx any) (CmdID, error)
	Start(ctx context.Context, cmdCtx any) (CmdID, error)
	Pause(ctx context.Context, cmdCtx any) (CmdID, error)
	Resume(ctx context.Context, cmdCtx any) (CmdID, error)
	Stop(ctx context.Context, cmdCtx any) (CmdID, error)
	Reset(ctx context.Context, cmdCtx any) (CmdID, error)
	Flush(ctx context.Context, cmdCtx any) (CmdID, error)

	CancelAll(ctx context.Context, cmdCtx any) (CmdID, error)
	Cancel(ctx context.Context, id CmdID, cmdCtx any) (CmdID, error)

	// SetObserver registers the callback target for this node's async
	// reporting. Called once, at session-open time.
	SetObserver(o Observer)
}

// Well-known capability UUIDs published by nodes and looked up via
// QueryInterface. Source nodes publish Initialization, TrackSelection,
// PlaybackControl, Metadata, and optionally DRMLicense; sink nodes publish
// SkipMediaData.
var (
	UUIDInitialization  = uuid.MustParse("a0a00000-0000-0000-0000-000000000001")
	UUIDTrackSelection  = uuid.MustParse("a0a00000-0000-0000-0000-000000000002")
	UUIDPlaybackControl = uuid.MustParse("a0a00000-0000-0000-0000-000000000003")
	UUIDMetadata        = uuid.MustParse("a0a00000-0000-0000-0000-000000000004")
	UUIDDRMLicense      = uuid.MustParse("a0a00000-0000-0000-0000-000000000005")
	UUIDSkipMediaData   = uuid.MustParse("a0a00000-0000-0000-0000-000000000006")
)

// SourceInitInterface is published by source nodes under UUIDInitialization
// .
type SourceInitInterface interface {
	SetDataSource(ctx context.Context, sourceURI string, cmdCtx any) (CmdID, error)
}

// TrackSelectionInterface is published by source nodes under
// UUIDTrackSelection.
type TrackSelectionInterface interface {
	GetTrackList(ctx context.Context, cmdCtx any) (CmdID, error)
	SelectTracks(ctx context.Context, trackIDs []int, cmdCtx any) (CmdID, error)
}

// PlaybackControlInterface is published by source nodes under
// UUIDPlaybackControl.
type PlaybackControlInterface interface {
	GetActualNPT(ctx context.Context, targetNPT int64, cmdCtx any) (CmdID, error)
	SetDataSourcePosition(ctx context.Context, targetNPT int64, seekToSync, skipToRequestedPos bool, cmdCtx any) (CmdID, error)
	SetDataSourceDirection(ctx context.Context, forward bool, cmdCtx any) (CmdID, error)
}

// MetadataInterface is published by source nodes under UUIDMetadata
// .
type MetadataInterface interface {
	GetMetadataKeys(ctx context.Context, cmdCtx any) (CmdID, error)
	GetMetadataValues(ctx context.Context, keys []string, cmdCtx any) (CmdID, error)
}

// SkipMediaDataInterface is published by sink nodes under UUIDSkipMediaData
// .
type SkipMediaDataInterface interface {
	SkipMediaData(ctx context.Context, preSkipTS, postSkipTS int64, cmdCtx any) (CmdID, error)
}

// DRMLicenseInterface is optionally published by source nodes under
// UUIDDRMLicense. The license plugin surface itself is an external
// collaborator; only this acquisition entry point crosses into the core.
type DRMLicenseInterface interface {
	AcquireLicense(ctx context.Context, licenseData any, contentName string, cmdCtx any) (CmdID, error)
}
