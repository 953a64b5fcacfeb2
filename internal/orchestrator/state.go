package orchestrator

// State is a step of the per-request pipeline.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StateBuildingContext
	StateDeciding
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateBuildingContext:
		return "building_context"
	case StateDeciding:
		return "deciding"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition is one state change of a request. Err is set when To is
// StateFailed.
type Transition struct {
	RequestID string
	From      State
	To        State
	Err       error
}

// Observer receives every state transition. It is called synchronously on
// the request's goroutine and must not block.
type Observer interface {
	Observe(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) Observe(t Transition) { f(t) }
