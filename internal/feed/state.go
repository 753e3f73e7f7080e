package feed

// State is the lifecycle state of the lightning feed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateExhausted
	StateSimulating
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	case StateSimulating:
		return "simulating"
	default:
		return "disconnected"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event drives state transitions.
type Event int

const (
	EventConnect Event = iota
	EventOpen
	EventError
	EventClose
	EventExhaust
	EventSimulate
	EventStop
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventOpen:
		return "open"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	case EventExhaust:
		return "exhaust"
	case EventSimulate:
		return "simulate"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Next returns the state after applying e to s. The second result is false when
// the event is not valid in s; the state is then unchanged.
func Next(s State, e Event) (State, bool) {
	if e == EventStop {
		return StateDisconnected, true
	}
	switch s {
	case StateDisconnected:
		switch e {
		case EventConnect:
			return StateConnecting, true
		case EventExhaust:
			return StateExhausted, true
		case EventSimulate:
			return StateSimulating, true
		}
	case StateConnecting:
		switch e {
		case EventOpen:
			return StateConnected, true
		case EventError:
			return StateConnecting, true
		case EventClose:
			return StateDisconnected, true
		}
	case StateConnected:
		switch e {
		case EventError:
			return StateConnected, true
		case EventClose:
			return StateDisconnected, true
		}
	case StateExhausted:
		if e == EventSimulate {
			return StateSimulating, true
		}
	}
	return s, false
}
