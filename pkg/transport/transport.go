// Package transport defines the byte-stream contract the transaction engine
// runs on. The engine only needs to write bytes and receive incoming byte
// chunks asynchronously; how the underlying port was obtained or configured
// is the transport's business.
package transport

import (
	"context"
	"time"
)

// ConnectionState represents the current state of a transport connection.
type ConnectionState int

const (
	// StateDisconnected indicates the transport is not connected.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting
	// StateConnected indicates the transport is connected and ready.
	StateConnected
	// StateError indicates the transport is in an error state.
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport is a raw byte-stream channel. Implementations must be safe for
// concurrent use, but callers are expected to serialize request/response
// traffic themselves; a half-duplex serial bus permits one speaker at a time.
type Transport interface {
	// Connect establishes the connection. It blocks until connected or the
	// context is cancelled.
	Connect(ctx context.Context) error

	// Close releases the port and stops any reader goroutines.
	Close() error

	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool

	// Send transmits data and returns the number of bytes written.
	Send(ctx context.Context, data []byte) (int, error)

	// Receive returns the next incoming byte chunk. It blocks until bytes
	// arrive, the context is cancelled, or the transport closes. A nil
	// chunk with nil error means no data arrived within the transport's
	// internal read window; callers should simply call again.
	Receive(ctx context.Context) ([]byte, error)

	// Info returns information about the transport.
	Info() Info
}

// Info contains runtime information about a transport.
type Info struct {
	// ID is a unique identifier for this transport instance.
	ID string `json:"id"`

	// Type is the transport type.
	Type string `json:"type"`

	// Address is the configured address.
	Address string `json:"address"`

	// State is the current connection state.
	State ConnectionState `json:"state"`

	// Statistics contains transport statistics.
	Statistics Statistics `json:"statistics"`

	// ConnectedAt is when the connection was established.
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// Statistics contains transport byte counters.
type Statistics struct {
	// BytesSent is the total number of bytes sent.
	BytesSent uint64 `json:"bytes_sent"`

	// BytesReceived is the total number of bytes received.
	BytesReceived uint64 `json:"bytes_received"`

	// Errors is the total number of errors encountered.
	Errors uint64 `json:"errors"`
}
