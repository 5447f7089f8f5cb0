package session

// State is the lifecycle state of a Session. States only move forward.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
