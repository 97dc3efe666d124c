package realtime

// State is the lifecycle state of the Manager's connection.
type State int

const (
	// StateDisconnected means there is no transport and no reconnect pending.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the transport is up and sends are written.
	StateOpen
	// StateClosing means an explicit Disconnect is tearing the transport down.
	StateClosing
	// StateReconnecting means a reconnect timer is pending after an abnormal closure.
	StateReconnecting
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
