package core

import "fmt"

// ConnectionState is the lifecycle state of a bot session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateAuthenticating
	StateConnected
	// StateDegraded means authenticated but the real-time channel is down.
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and logs.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for _, st := range []ConnectionState{StateDisconnected, StateAuthenticating, StateConnected, StateDegraded} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}
