package sctp

import "errors"

var (
	// ErrAssociationClosed is returned by handle_* after Close
	// (spec.md §5 Cancellation/close).
	ErrAssociationClosed = errors.New("sctp: association is closed")

	// ErrMaxDataChannelsReached is a Resource-kind error (spec.md §7),
	// returned by OpenStream when the stream table is full.
	ErrMaxDataChannelsReached = errors.New("sctp: maximum number of streams reached")

	// ErrStreamNotFound is returned writing to/resetting an unknown stream id.
	ErrStreamNotFound = errors.New("sctp: unknown stream id")

	// ErrVerificationTagMismatch is a Wire-format error: the packet is
	// dropped internally by HandleRead, never surfaced (spec.md §7).
	ErrVerificationTagMismatch = errors.New("sctp: verification tag mismatch")
)
