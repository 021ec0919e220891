package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// CmdType identifies the kind of command flowing through the scheduler -
// both the upward API commands and the internal commands the
// engine posts to itself (CancelDueToError, AutoPause, ...).
type CmdType int

const (
	CmdAddDataSource CmdType = iota
	CmdAddDataSink
	CmdRemoveDataSink
	CmdRemoveDataSource
	CmdInit
	CmdPrepare
	CmdStart
	CmdPause
	CmdResume
	CmdStop
	CmdReset
	CmdAcquireLicense
	CmdCancelAcquireLicense
	CmdCancelAllCommands
	CmdSetPlaybackRange
	CmdGetPlaybackRange
	CmdGetCurrentPosition
	CmdSetPlaybackRate
	CmdGetPlaybackRate
	CmdGetPlaybackMinMaxRate
	CmdGetMetadataKeys
	CmdGetMetadataValues
	CmdQueryUuid
	CmdQueryInterface
	CmdGetPVPlayerState
	CmdGetPVPlayerStateSync

	// Internal-only commands, never issued directly by a client.
	CmdCancelDueToError
	CmdDatapathDelete
	CmdStopDueToError
	CmdResetDueToError
	CmdCleanupDueToError
	CmdAutoPauseEndOfClip
	CmdAutoPauseUnderflow
	CmdAutoResumeDataReady
)

func (t CmdType) String() string {
	switch t {
	case CmdAddDataSource:
		return "AddDataSource"
	case CmdAddDataSink:
		return "AddDataSink"
	case CmdRemoveDataSink:
		return "RemoveDataSink"
	case CmdRemoveDataSource:
		return "RemoveDataSource"
	case CmdInit:
		return "Init"
	case CmdPrepare:
		return "Prepare"
	case CmdStart:
		return "Start"
	case CmdPause:
		return "Pause"
	case CmdResume:
		return "Resume"
	case CmdStop:
		return "Stop"
	case CmdReset:
		return "Reset"
	case CmdAcquireLicense:
		return "AcquireLicense"
	case CmdCancelAcquireLicense:
		return "CancelAcquireLicense"
	case CmdCancelAllCommands:
		return "CancelAllCommands"
	case CmdSetPlaybackRange:
		return "SetPlaybackRange"
	case CmdGetPlaybackRange:
		return "GetPlaybackRange"
	case CmdGetCurrentPosition:
		return "GetCurrentPosition"
	case CmdSetPlaybackRate:
		return "SetPlaybackRate"
	case CmdGetPlaybackRate:
		return "GetPlaybackRate"
	case CmdGetPlaybackMinMaxRate:
		return "GetPlaybackMinMaxRate"
	case CmdGetMetadataKeys:
		return "GetMetadataKeys"
	case CmdGetMetadataValues:
		return "GetMetadataValues"
	case CmdQueryUuid:
		return "QueryUuid"
	case CmdQueryInterface:
		return "QueryInterface"
	case CmdGetPVPlayerState:
		return "GetPVPlayerState"
	case CmdGetPVPlayerStateSync:
		return "GetPVPlayerStateSync"
	case CmdCancelDueToError:
		return "CancelDueToError"
	case CmdDatapathDelete:
		return "DatapathDelete"
	case CmdStopDueToError:
		return "StopDueToError"
	case CmdResetDueToError:
		return "ResetDueToError"
	case CmdCleanupDueToError:
		return "CleanupDueToError"
	case CmdAutoPauseEndOfClip:
		return "AutoPauseEndOfClip"
	case CmdAutoPauseUnderflow:
		return "AutoPauseUnderflow"
	case CmdAutoResumeDataReady:
		return "AutoResumeDataReady"
	default:
		return fmt.Sprintf("CmdType(%d)", int(t))
	}
}

// Priority is the command's dispatch priority; lower fires first.
type Priority int

const (
	PriorityReserved           Priority = 0
	PriorityCancelDueToError   Priority = 1
	PriorityStopResetCleanup   Priority = 2
	PriorityCancelAll          Priority = 3
	PriorityAutoPauseEndOfClip Priority = 4
	PriorityNormal             Priority = 5
)

// PriorityOf maps a CmdType to its dispatch priority tier.
func PriorityOf(t CmdType) Priority {
	switch t {
	case CmdCancelDueToError, CmdDatapathDelete:
		return PriorityCancelDueToError
	case CmdStopDueToError, CmdResetDueToError, CmdCleanupDueToError:
		return PriorityStopResetCleanup
	case CmdCancelAllCommands, CmdCancelAcquireLicense:
		return PriorityCancelAll
	case CmdAutoPauseEndOfClip:
		return PriorityAutoPauseEndOfClip
	default:
		return PriorityNormal
	}
}

// ParamKind tags the variant held by a CmdParam.
type ParamKind int

const (
	ParamBool ParamKind = iota
	ParamF32
	ParamI32
	ParamU32
	ParamWStr
	ParamStr
	ParamBytes
	ParamPos
	ParamOpaque
)

// CmdParam is one entry of a Command's paramVector.
type CmdParam struct {
	Kind   ParamKind
	Bool   bool
	F32    float32
	I32    int32
	U32    uint32
	WStr   string
	Str    string
	Bytes  []byte
	Pos    int64 // NPT, expressed in milliseconds
	Opaque any
}

// Command is the immutable record flowing through the queue. cmdId is
// assigned on enqueue, never by the caller.
type Command struct {
	CmdType     CmdType
	CmdID       uint64
	Context     any
	APIFlag     bool
	ParamVector []CmdParam
	MimeType    string
	UUID        uuid.UUID
}

func newCommand(t CmdType, apiFlag bool, ctx any, params ...CmdParam) *Command {
	return &Command{
		CmdType:     t,
		Context:     ctx,
		APIFlag:     apiFlag,
		ParamVector: params,
		UUID:        uuid.New(),
	}
}

// Priority returns this command's dispatch priority.
func (c *Command) Priority() Priority { return PriorityOf(c.CmdType) }
