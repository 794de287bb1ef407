package srtp

// rolloverTracker infers the SRTP rollover counter from 16-bit sequence
// number jumps, per spec.md §3/§4.4: "Rollover counter is inferred from
// sequence jumps >= 2^15" and §8's boundary behaviour ("SRTP sequence
// number wraps to ROC+1 exactly at s = 0 following s = 65535").
type rolloverTracker struct {
	roc       uint32
	lastSeq   uint16
	hasSeen   bool
}

// index computes the 48-bit SRTP packet index (ROC<<16 | seq) for an
// inbound sequence number, applying the RFC 3711 Appendix A guessing
// algorithm, and updates the tracker's notion of ROC/last-seq as a side
// effect of accepting this as the new high-water mark when seq is ahead.
func (r *rolloverTracker) index(seq uint16) uint64 {
	if !r.hasSeen {
		r.hasSeen = true
		r.lastSeq = seq
		return uint64(r.roc)<<16 | uint64(seq)
	}

	roc := r.roc
	delta := int32(seq) - int32(r.lastSeq)
	switch {
	case delta < -(1 << 15):
		// seq wrapped forward past 65535 -> 0
		roc++
	case delta > (1 << 15):
		// seq looks like it came from before the last rollover
		if roc > 0 {
			roc--
		}
	}

	idx := uint64(roc)<<16 | uint64(seq)
	// Only adopt the guessed ROC/lastSeq as current state when this
	// packet is not behind the current high-water mark by more than a
	// rollover — i.e. a genuine advance, not an old retransmission.
	if idx >= uint64(r.roc)<<16|uint64(r.lastSeq) {
		r.roc = roc
		r.lastSeq = seq
	}
	return idx
}
