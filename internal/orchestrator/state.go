package orchestrator

// State is the phase a run is in.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateCollecting
	StateExtracting
	StateFinalizing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateCollecting:
		return "collecting"
	case StateExtracting:
		return "extracting"
	case StateFinalizing:
		return "finalizing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a run in s has ended.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateFailed
}

// StateObserver is told about every transition of a run.
type StateObserver func(runID string, from, to State)
