package mempool

import "errors"

// Error kinds reported by the engine. Worker-level failures are wrapped
// with the worker id and surfaced by the pool after join.
var (
	// ErrConfigInvalid is returned when the configuration is rejected
	// before any worker is spawned.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrOutOfSpace is returned when a projection cursor would run past
	// the end of the output portion.
	ErrOutOfSpace = errors.New("out of space")

	// ErrOutOfRange is returned on an internal index or descriptor
	// violation. Unreachable under a validated configuration.
	ErrOutOfRange = errors.New("out of range")

	// ErrMailboxProtocol is returned when a neighbour mailbox is observed
	// in a state the exchange protocol does not allow.
	ErrMailboxProtocol = errors.New("unexpected mailbox state")

	// ErrUnsupportedAlgorithm is returned when the dispatched algorithm is
	// not implemented by this variant.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)
