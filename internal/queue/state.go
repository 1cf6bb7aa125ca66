package queue

// ConnState is the connection lifecycle state of a Client.
//
// Transitions: Disconnected -> Connecting -> Connected, and back to
// Disconnected on any broker I/O error. There is no background reconnect
// loop; the next Publish or StartConsuming call re-dials from Disconnected.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
