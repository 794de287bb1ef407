package rtc

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/sansio-rtc/rtc/internal/nack"
)

// Kind is the media kind of an RtpTransceiver (spec.md §3).
type Kind uint8

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Direction is the negotiated send/receive direction of an RtpTransceiver
// (spec.md §3).
type Direction uint8

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

func (d Direction) String() string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// nackReceiveLogSize is the width of the per-SSRC receive bitmap used to
// find gaps to NACK — a default within the power-of-two range spec.md §9
// carries over from the replay-window sizing note.
const nackReceiveLogSize = 256

// nackSendBufferSize bounds how many recently sent packets can still be
// resent on request.
const nackSendBufferSize = 1024

// RtpReceiver is the receiving half of an RtpTransceiver: per spec.md §3
// "bound to zero or more SSRCs and a codec parameter set", plus the
// receive-side bookkeeping stage 7's NACK generator and RR jitter
// calculation need.
type RtpReceiver struct {
	ssrc        uint32
	payloadType uint8
	bound       bool

	receiveLog *nack.ReceiveLog

	packetsReceived uint64
	octetsReceived  uint64
	lastSeq         uint16
	lastArrival     time.Time
	lastTransit     int64
	jitter          float64

	lastSRNTP    uint64
	lastSRTime   time.Time
	haveReceived bool
}

func newRtpReceiver() *RtpReceiver {
	log, _ := nack.NewReceiveLog(nackReceiveLogSize)
	return &RtpReceiver{receiveLog: log}
}

// Bind attaches this receiver to a remote SSRC/payload type pair, taken
// from the negotiated mid's m= section (spec.md §1).
func (r *RtpReceiver) Bind(ssrc uint32, payloadType uint8) {
	r.ssrc, r.payloadType, r.bound = ssrc, payloadType, true
}

// SSRC reports the bound remote SSRC, or 0 if unbound.
func (r *RtpReceiver) SSRC() uint32 { return r.ssrc }

// handlePacket records one inbound RTP packet for NACK/jitter purposes
// (RFC 3550 §6.4.1's jitter estimator, RFC 4585 generic NACK gap
// detection).
func (r *RtpReceiver) handlePacket(now time.Time, pkt *rtp.Packet) {
	r.packetsReceived++
	r.octetsReceived += uint64(len(pkt.Payload))
	r.receiveLog.Add(pkt.SequenceNumber)
	r.lastSeq = pkt.SequenceNumber

	if r.haveReceived {
		arrival := rtpTimestamp(now)
		transit := int64(arrival) - int64(pkt.Timestamp)
		d := transit - r.lastTransit
		if d < 0 {
			d = -d
		}
		r.jitter += (float64(d) - r.jitter) / 16
		r.lastTransit = transit
	} else {
		r.lastTransit = int64(rtpTimestamp(now)) - int64(pkt.Timestamp)
		r.haveReceived = true
	}
	r.lastArrival = now
}

// pendingNACKs returns the sequence numbers currently missing, skipping
// the most recent skipLastN so very-recent packets get a chance to
// arrive before being NACKed.
func (r *RtpReceiver) pendingNACKs(skipLastN uint16) []uint16 {
	return r.receiveLog.MissingSeqNumbers(skipLastN)
}

func (r *RtpReceiver) receptionReport() rtcp.ReceptionReport {
	return rtcp.ReceptionReport{
		SSRC:               r.ssrc,
		LastSequenceNumber: uint32(r.lastSeq),
		Jitter:             uint32(r.jitter),
		LastSenderReport:   uint32(r.lastSRNTP >> 16),
	}
}

func (r *RtpReceiver) handleSenderReport(now time.Time, sr *rtcp.SenderReport) {
	r.lastSRNTP = sr.NTPTime
	r.lastSRTime = now
}

// rtpTimestamp approximates an RTP-clock-rate-agnostic local timestamp
// for jitter purposes from a wall instant; callers that need exact
// clock-rate jitter should scale this by the codec's clock rate.
func rtpTimestamp(t time.Time) uint32 {
	return uint32(t.UnixNano() / int64(time.Millisecond))
}

// RtpSender is the sending half of an RtpTransceiver: per-SSRC sequence
// state, a resend buffer for NACK responses, and SR counters.
type RtpSender struct {
	ssrc        uint32
	payloadType uint8
	bound       bool

	sendBuffer *nack.SendBuffer
	seq        uint16

	packetsSent uint32
	octetsSent  uint32
}

func newRtpSender() *RtpSender {
	buf, _ := nack.NewSendBuffer(nackSendBufferSize)
	return &RtpSender{sendBuffer: buf}
}

// Bind assigns the local SSRC/payload type this sender originates.
func (s *RtpSender) Bind(ssrc uint32, payloadType uint8) {
	s.ssrc, s.payloadType, s.bound = ssrc, payloadType, true
}

func (s *RtpSender) SSRC() uint32 { return s.ssrc }

func (s *RtpSender) track(pkt *rtp.Packet) {
	s.sendBuffer.Add(pkt)
	s.packetsSent++
	s.octetsSent += uint32(len(pkt.Payload))
}

func (s *RtpSender) resend(seq uint16) *rtp.Packet {
	return s.sendBuffer.Get(seq)
}

func (s *RtpSender) senderReport(ntpTime uint64, rtpTime uint32) rtcp.SenderReport {
	return rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ntpTime,
		RTPTime:     rtpTime,
		PacketCount: s.packetsSent,
		OctetCount:  s.octetsSent,
	}
}

// RtpTransceiver binds one negotiated m= section's mid to a sender and a
// receiver (spec.md §3: "mid is assigned at first negotiation and
// immutable thereafter").
type RtpTransceiver struct {
	mid       string
	kind      Kind
	direction Direction

	sender   *RtpSender
	receiver *RtpReceiver
}

func newRtpTransceiver(kind Kind, direction Direction) *RtpTransceiver {
	return &RtpTransceiver{
		kind:      kind,
		direction: direction,
		sender:    newRtpSender(),
		receiver:  newRtpReceiver(),
	}
}

func (t *RtpTransceiver) Mid() string          { return t.mid }
func (t *RtpTransceiver) Kind() Kind           { return t.kind }
func (t *RtpTransceiver) Direction() Direction { return t.direction }
func (t *RtpTransceiver) Sender() *RtpSender     { return t.sender }
func (t *RtpTransceiver) Receiver() *RtpReceiver { return t.receiver }

// assignMid sets mid the first time this transceiver is negotiated; a
// later call with a different value is a no-op, so the mid stays
// immutable after the first negotiation whatever
// PeerConnection.SetRemoteDescription passes in.
func (t *RtpTransceiver) assignMid(mid string) {
	if t.mid == "" {
		t.mid = mid
	}
}
