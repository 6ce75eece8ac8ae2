package conn

// State is the connection lifecycle state. There is one State per Manager,
// mutated only under the manager lock.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateCircuitOpen
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateCircuitOpen:
		return "CircuitOpen"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
