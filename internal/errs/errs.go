// Package errs holds the sentinel errors shared by the node pool, players and
// the session manager. Callers wrap them with fmt.Errorf("%w: ...") and match
// with errors.Is.
package errs

import "errors"

var (
	// ErrConfiguration is returned for missing or invalid setup arguments
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotFound is returned for an unknown node or session key
	ErrNotFound = errors.New("not found")

	// ErrNoNodesAvailable is returned when the pool is empty or nothing is connected
	ErrNoNodesAvailable = errors.New("no nodes available")

	// ErrInvalidArgument is returned for a bad command parameter
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfRange is returned when skipping past the end of the queue
	ErrOutOfRange = errors.New("out of range")

	// ErrUnknownEvent is returned for an unrecognised inbound event type
	ErrUnknownEvent = errors.New("unknown event")

	// ErrTransport is returned for socket send/receive failures
	ErrTransport = errors.New("transport error")

	// ErrReconnectExhausted is reported when a node gives up reconnecting
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotDecodable is returned when the node cannot decode a track
	ErrNotDecodable = errors.New("track not decodable")

	// ErrDestroyed is returned for operations on a destroyed node or player
	ErrDestroyed = errors.New("destroyed")
)
