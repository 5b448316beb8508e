package orchestrator

// State is the phase of a running turn.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateAccumulatingToolCall
	StateDispatchingTool
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAccumulatingToolCall:
		return "accumulating_tool_call"
	case StateDispatchingTool:
		return "dispatching_tool"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// allowed lists legal transitions. Failed is reachable from every
// non-terminal state and is not listed.
var allowed = map[State][]State{
	StateIdle:                 {StateStreaming},
	StateStreaming:            {StateStreaming, StateAccumulatingToolCall, StateDispatchingTool, StateDone},
	StateAccumulatingToolCall: {StateAccumulatingToolCall, StateStreaming, StateDispatchingTool, StateDone},
	StateDispatchingTool:      {StateStreaming},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
