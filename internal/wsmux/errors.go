package wsmux

import "errors"

// Multiplexer errors. ErrReconnecting and ErrRequestTimeout are transient:
// callers may retry once the connection recovers.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("multiplexer closed")

	// ErrNotConnected is returned when no connection was ever established.
	ErrNotConnected = errors.New("not connected")

	// ErrReconnecting is returned for operations issued during a reconnect
	// window. Retryable.
	ErrReconnecting = errors.New("reconnect in progress")

	// ErrRequestTimeout is returned when a correlated request receives no
	// response within the configured timeout. Retryable.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrConnectionLost is returned to in-flight requests when the
	// underlying socket drops before a response arrives.
	ErrConnectionLost = errors.New("connection lost")

	// ErrGaveUp is the terminal state after the reconnect budget is
	// exhausted. The multiplexer never retries past it.
	ErrGaveUp = errors.New("reconnect attempts exhausted")
)
