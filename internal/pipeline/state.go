package pipeline

// State is a step of the consumption cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateEvaluating
	StateProcessing
	StateAcking
	StateRepublishing
	StateRecovering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateEvaluating:
		return "evaluating"
	case StateProcessing:
		return "processing"
	case StateAcking:
		return "acking"
	case StateRepublishing:
		return "republishing"
	case StateRecovering:
		return "recovering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
