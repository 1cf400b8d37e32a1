package subscribe

// State is the connection state of one streaming endpoint.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	// StateDegraded: read errors observed but the stream is not torn down
	// yet; transient blips recover in place.
	StateDegraded
	// StateReconnecting: the stream is down and a backoff sleep is pending
	// before the next connect attempt.
	StateReconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
