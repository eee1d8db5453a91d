package push

// State is the lifecycle position of the push-channel connection.
type State int

const (
	// StateIdle means Connect has not been called with a usable URL.
	StateIdle State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means frames are being received.
	StateOpen
	// StateClosed means the socket closed and a reconnect is scheduled.
	StateClosed
	// StateExhausted means the reconnect budget is spent. Only an explicit
	// Connect leaves this state.
	StateExhausted
	// StateStopped means Disconnect was called. No timer or dial started
	// before Disconnect can leave this state.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateExhausted:
		return "exhausted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
