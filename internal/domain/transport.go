package domain

import (
	"context"
	"time"
)

// Transport is one OS-local duplex byte channel to the peer.
//
// Read follows io.Reader but classifies failures: a zero-byte read from a
// closed peer returns ErrConnectionClosed, an expired read deadline returns
// ErrWouldBlock, and anything else wraps ErrIO.
type Transport interface {
	Read(p []byte) (int, error)
	// Send writes the full buffer or fails with ErrIO.
	Send(p []byte) error
	// SetReadTimeout bounds every subsequent Read.
	SetReadTimeout(d time.Duration)
	// Endpoint names the socket or pipe this transport is attached to.
	Endpoint() string
	Close() error
}

// Dialer establishes transports. Dial fails with ErrConnectionRefused when
// no candidate endpoint accepts a connection.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// ConnectionState is the connection manager's lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateHandshaking
	StateConnected
	// StateExhausted is terminal: the retry budget ran out.
	StateExhausted
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
