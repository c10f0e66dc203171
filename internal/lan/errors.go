package lan

import "errors"

var (
	// ErrUnknownHost indicates a send targeted a host sequence with no
	// registered shared secret.
	ErrUnknownHost = errors.New("lan: unknown host")

	// ErrClosed indicates an operation on a transport that has been
	// shut down.
	ErrClosed = errors.New("lan: transport closed")
)
