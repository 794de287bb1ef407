// Package twcc implements transport-wide congestion control's wire-level
// plumbing (draft-holmer-rmcat-transport-wide-cc-extensions): tagging
// outgoing RTP packets with a shared transport-wide sequence number and,
// on the receiving side, turning recorded arrival times into periodic
// RTCP feedback reports. This module only builds the tag+feedback
// plumbing spec.md's glossary calls out ("per-packet RTP sequence
// extension + feedback RTCP"); no bandwidth estimator consumes the
// feedback once generated — that is a separate, unbuilt concern.
package twcc

import (
	"encoding/binary"
	"time"

	"github.com/pion/rtp"
)

// URI is the RTP header extension URI negotiated in SDP extmap lines for
// transport-wide sequence numbers.
const URI = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"

const halfRange = 1 << 15

// tickMicros is the feedback wire format's delta unit (250us, per the
// draft); referenceCycleTicks is 64ms expressed in the same ticks.
const (
	tickMicros          = 250
	referenceCycleTicks = 64000 / tickMicros
)

// Sender stamps outgoing RTP packets with a transport-wide sequence
// number: one counter shared across every SSRC this connection sends,
// not a per-stream counter, matching how a single TWCC extension is
// meant to number packets across an entire transport.
type Sender struct {
	next uint16
}

// Tag stamps pkt with the next sequence number as a one-byte RTP header
// extension (RFC 8285) under extensionID and returns the value assigned.
func (s *Sender) Tag(pkt *rtp.Packet, extensionID uint8) (uint16, error) {
	seq := s.next
	s.next++
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], seq)
	if err := pkt.Header.SetExtension(extensionID, buf[:]); err != nil {
		return 0, err
	}
	return seq, nil
}

// unwrapper turns a stream of 16-bit wrapping sequence numbers into a
// monotonically increasing int64, the form ArrivalTimeMap indexes by.
type unwrapper struct {
	have   bool
	last   uint16
	cycles int64
}

func (u *unwrapper) unwrap(seq uint16) int64 {
	if !u.have {
		u.have = true
		u.last = seq
		return int64(seq)
	}
	delta := int32(seq) - int32(u.last)
	switch {
	case delta < -halfRange:
		u.cycles++
	case delta > halfRange:
		u.cycles--
	}
	u.last = seq
	return u.cycles*65536 + int64(seq)
}

// Receiver accumulates arrival times across every RTP stream this side
// of a connection receives — transport-wide sequence numbers are shared
// across SSRCs, not scoped to one stream — and periodically emits a
// feedback report covering everything recorded since the previous one.
type Receiver struct {
	arrivals *ArrivalTimeMap
	unwrap   unwrapper

	haveReported  bool
	lastReportEnd int64
	fbPktCount    uint8
}

// NewReceiver builds an empty Receiver.
func NewReceiver() *Receiver {
	return &Receiver{arrivals: NewArrivalTimeMap()}
}

// RecordArrival notes that the given transport-wide sequence number
// (read back off an inbound packet's header extension) arrived at now.
func (r *Receiver) RecordArrival(transportSeq uint16, now time.Time) {
	seq := r.unwrap.unwrap(transportSeq)
	r.arrivals.AddPacket(seq, now.UnixMicro())
}

// BuildFeedback assembles a feedback report covering every sequence
// number from the previous report's end through the latest arrival,
// returning false if nothing new has arrived since. Reported spans are
// erased from the underlying map afterward, bounding its memory to
// roughly one reporting interval's worth of packets.
func (r *Receiver) BuildFeedback(senderSSRC, mediaSSRC uint32) (*Feedback, bool) {
	if !r.haveReported {
		r.lastReportEnd = r.arrivals.BeginSequenceNumber()
		r.haveReported = true
	}
	begin, end := r.lastReportEnd, r.arrivals.EndSequenceNumber()
	if end <= begin {
		return nil, false
	}

	statuses := make([]packetStatus, 0, end-begin)
	var deltas []recvDelta
	var refTicks int64
	var prevTicks int64
	haveRef := false

	for seq := begin; seq < end; seq++ {
		arrivalMicros, ok := r.arrivals.Get(seq)
		if !ok {
			statuses = append(statuses, statusNotReceived)
			continue
		}
		ticks := arrivalMicros / tickMicros
		if !haveRef {
			refTicks = (ticks / referenceCycleTicks) * referenceCycleTicks
			prevTicks = refTicks
			haveRef = true
		}
		delta := ticks - prevTicks
		prevTicks = ticks
		if delta >= 0 && delta <= 0xFF {
			statuses = append(statuses, statusSmallDelta)
			deltas = append(deltas, recvDelta{small: true, value: int16(delta)})
		} else {
			statuses = append(statuses, statusLargeDelta)
			deltas = append(deltas, recvDelta{small: false, value: int16(clampInt64(delta))})
		}
	}

	fb := &Feedback{
		SenderSSRC:         senderSSRC,
		MediaSSRC:          mediaSSRC,
		BaseSequenceNumber: uint16(begin),
		PacketStatusCount:  uint16(end - begin),
		ReferenceTime:      uint32(refTicks / referenceCycleTicks),
		FbPktCount:         r.fbPktCount,
		Statuses:           statuses,
		Deltas:             deltas,
	}
	r.fbPktCount++
	r.lastReportEnd = end
	r.arrivals.EraseTo(end)
	return fb, true
}

func clampInt64(v int64) int64 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return v
	}
}
