package transport

import "errors"

var (
	// ErrProtocolError is returned for malformed frames: bad magic, bad
	// version, oversized length, or a record that runs past its body.
	ErrProtocolError = errors.New("transport: protocol error")

	// ErrUnauthenticated is returned when a peer fails the handshake.
	ErrUnauthenticated = errors.New("transport: unauthenticated")

	// ErrPeerUnreachable is returned when a send could not be delivered
	// within send_timeout, including dial failure.
	ErrPeerUnreachable = errors.New("transport: peer unreachable")

	// ErrClosed is returned by operations on a closed Transport or Session.
	ErrClosed = errors.New("transport: closed")
)
