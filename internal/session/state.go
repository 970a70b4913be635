package session

// State is the lifecycle phase of one client session.
type State string

const (
	// StateIdle is the initial state before any start request.
	StateIdle State = "Idle"

	// StateConnecting indicates an upstream connection is being established.
	StateConnecting State = "Connecting"

	// StateStreaming indicates audio is being relayed to a live upstream.
	StateStreaming State = "Streaming"

	// StateStopping indicates teardown has begun but not completed.
	StateStopping State = "Stopping"

	// StateClosed indicates the upstream session has ended. The client
	// transport may still be open and a new start request is accepted.
	StateClosed State = "Closed"
)

// HasUpstream reports whether an upstream handle may exist in this state.
func (s State) HasUpstream() bool {
	switch s {
	case StateConnecting, StateStreaming, StateStopping:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}
