package ice

import "errors"

var (
	// ErrRemoteMDNSDisabled is a Configuration-kind error (spec.md §7):
	// adding a remote mDNS candidate while mDNS resolution is disabled is
	// refused, surfaced to the caller of AddRemoteCandidate.
	ErrRemoteMDNSDisabled = errors.New("ice: cannot add remote mDNS candidate, mDNS is disabled")

	// ErrInsufficientEntropy guards ICE restart (spec.md §8 boundary
	// behaviour): restarting with identical ufrag/pwd is rejected.
	ErrInsufficientEntropy = errors.New("ice: restart ufrag/pwd must differ from current credentials")

	// ErrAgentClosed is returned by handle_* after Close (spec.md §5).
	ErrAgentClosed = errors.New("ice: agent is closed")
)
