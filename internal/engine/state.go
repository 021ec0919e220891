package engine

import "fmt"

// EngineState is the global player state machine.
type EngineState int

const (
	StateIdle EngineState = iota
	StateInitializing
	StateInitialized
	StatePreparing
	StatePrepared
	StateStarting
	StateStarted
	StateAutoPausing
	StateAutoPaused
	StateAutoResuming
	StatePausing
	StatePaused
	StateResuming
	StateStopping
	StateResetting
	StateHandlingError
	StateError
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitializing:
		return "Initializing"
	case StateInitialized:
		return "Initialized"
	case StatePreparing:
		return "Preparing"
	case StatePrepared:
		return "Prepared"
	case StateStarting:
		return "Starting"
	case StateStarted:
		return "Started"
	case StateAutoPausing:
		return "AutoPausing"
	case StateAutoPaused:
		return "AutoPaused"
	case StateAutoResuming:
		return "AutoResuming"
	case StatePausing:
		return "Pausing"
	case StatePaused:
		return "Paused"
	case StateResuming:
		return "Resuming"
	case StateStopping:
		return "Stopping"
	case StateResetting:
		return "Resetting"
	case StateHandlingError:
		return "HandlingError"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

// IsTransitional reports whether the state name ends in "-ing" - both seek
// deferral and the error policy key behavior off this distinction.
func (s EngineState) IsTransitional() bool {
	switch s {
	case StateInitializing, StatePreparing, StateStarting, StateAutoPausing,
		StateAutoResuming, StatePausing, StateResuming, StateStopping, StateResetting:
		return true
	default:
		return false
	}
}

// IsSteady reports the complement of IsTransitional, excluding HandlingError
// and Error which are neither steady targets nor dispatchable-from states in
// the usual sense.
func (s EngineState) IsSteady() bool {
	switch s {
	case StateIdle, StateInitialized, StatePrepared, StateStarted, StateAutoPaused, StatePaused:
		return true
	default:
		return false
	}
}
