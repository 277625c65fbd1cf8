package process

// State captures the lifecycle of the managed backend.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateHealthy
	StateTerminating
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateHealthy:
		return "healthy"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Failed may still move to Terminating so a backend that never became ready is
// killed on shutdown.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateNotStarted:
		return next == StateStarting
	case StateStarting:
		return next == StateHealthy || next == StateFailed || next == StateTerminating
	case StateHealthy:
		return next == StateTerminating
	case StateFailed:
		return next == StateTerminating
	case StateTerminating:
		return next == StateTerminated
	default:
		return false
	}
}
