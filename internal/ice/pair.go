package ice

// PairState is the connectivity-check state of a CandidatePair
// (spec.md §3; RFC 8445 §6.1.2.2).
type PairState uint8

const (
	PairFrozen PairState = iota
	PairWaiting
	PairInProgress
	PairSucceeded
	PairFailed
)

func (s PairState) String() string {
	switch s {
	case PairFrozen:
		return "frozen"
	case PairWaiting:
		return "waiting"
	case PairInProgress:
		return "in-progress"
	case PairSucceeded:
		return "succeeded"
	case PairFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CandidatePair is an ordered (local, remote) pair under consideration by
// the checklist.
type CandidatePair struct {
	Local  *Candidate
	Remote *Candidate

	State      PairState
	Nominated  bool
	RTT        int64 // nanoseconds; 0 until a check succeeds

	// transmitCount counts STUN Binding Requests sent for this pair's
	// current attempt, for RTO backoff and the 7-transmission give-up.
	transmitCount int
}

// Priority implements RFC 8445 §6.1.2.3:
// pair priority = 2^32*min(G,D) + 2*max(G,D) + (G>D ? 1 : 0)
// where G is the controlling agent's candidate priority and D is the
// controlled agent's.
func (p *CandidatePair) Priority(isControlling bool) uint64 {
	var g, d uint64
	if isControlling {
		g, d = uint64(p.Local.Priority()), uint64(p.Remote.Priority())
	} else {
		g, d = uint64(p.Remote.Priority()), uint64(p.Local.Priority())
	}
	min, max := g, d
	extra := uint64(0)
	if g > d {
		min, max = d, g
		extra = 1
	}
	return (1<<32)*min + 2*max + extra
}

// foundationKey groups pairs sharing a foundation pair for the
// freeze/unfreeze algorithm (RFC 8445 §6.1.2.6).
func (p *CandidatePair) foundationKey() string {
	return p.Local.Foundation + "/" + p.Remote.Foundation
}

func (p *CandidatePair) sameAddressFamily() bool {
	localV4 := p.Local.Addr().IP.To4() != nil
	remoteV4 := p.Remote.Addr().IP.To4() != nil
	return localV4 == remoteV4
}
