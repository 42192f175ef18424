package channel

import "context"

// Liveness tokens. They never reach trigger listeners.
const (
	PingToken = "ping"
	PongToken = "pong"
)

// Conn is an open duplex text-message connection.
//
// ReadMessage is called from a single reader goroutine; WriteMessage and
// Close from the client loop. Close must unblock a pending ReadMessage.
type Conn interface {
	ReadMessage() (string, error)
	WriteMessage(payload string) error
	Close() error
}

// Dialer opens connections to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial calls f(ctx, endpoint).
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// KeySet decides whether an inbound payload names a known trigger.
type KeySet interface {
	Contains(key string) bool
}
