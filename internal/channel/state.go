// Package channel implements the resilient duplex channel to the display
// peer: connection lifecycle, heartbeat liveness, reconnect backoff and the
// bounded outgoing trigger queue.
package channel

import "time"

// State is the connection state of a Client.
type State int

const (
	// StateDisconnected is the initial state and the terminal state after Shutdown.
	StateDisconnected State = iota

	// StateConnecting means a transport handshake is in flight.
	StateConnecting

	// StateConnected means the transport is open and the heartbeat is running.
	StateConnected

	// StateReconnecting means a reconnect is scheduled after a backoff delay.
	StateReconnecting
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateEvent describes a state transition.
type StateEvent struct {
	Old        State
	New        State
	RetryCount int
	// RetryDelay is only set when New is StateReconnecting.
	RetryDelay time.Duration
	Err        error
}
