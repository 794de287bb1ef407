package ice

// ConnectionState is the ICE agent's connection state machine
// (spec.md §3/§4.1).
type ConnectionState uint8

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateChecking
	ConnectionStateConnected
	ConnectionStateCompleted
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateChecking:
		return "checking"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateCompleted:
		return "completed"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind discriminates the Event union poll_event drains.
type EventKind uint8

const (
	EventConnectionStateChange EventKind = iota
	EventSelectedPairChange
	EventLocalCandidate
)

// Event is one item produced by Agent.PollEvent.
type Event struct {
	Kind            EventKind
	ConnectionState ConnectionState
	Pair            *CandidatePair
	Candidate       *Candidate
}
