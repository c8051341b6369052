package agent

// State is a phase of the reasoning loop.
//
//	Thinking -> ToolInvoking -> Observing -> Thinking
//	Thinking -> Responding -> Done
type State int

const (
	StateThinking State = iota
	StateToolInvoking
	StateObserving
	StateResponding
	StateDone
)

func (s State) String() string {
	switch s {
	case StateThinking:
		return "thinking"
	case StateToolInvoking:
		return "tool_invoking"
	case StateObserving:
		return "observing"
	case StateResponding:
		return "responding"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// validNext lists the legal transitions.
var validNext = map[State][]State{
	StateThinking:     {StateThinking, StateToolInvoking, StateResponding},
	StateToolInvoking: {StateObserving},
	StateObserving:    {StateThinking},
	StateResponding:   {StateDone},
}

func canTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
