// Package pipeline implements the handler pipeline of spec.md §4.5: the
// linear, statically-composed chain of handlers a PeerConnection drives
// from a single four-tuple datagram stream. Composition is by ownership,
// not by back-reference — a handler never holds a pointer to the
// pipeline that contains it; it returns outbound bytes and events through
// Poll* and the pipeline loop carries them the rest of the way
// (spec.md §9's re-architecting of the original's cyclic weak-reference
// design into plain message passing).
package pipeline

// PacketClass is the demux classification of one inbound datagram,
// following RFC 7983's first-byte range matching, generalized here to
// additionally split RTP from RTCP per RFC 5761 so they can be routed to
// distinct SRTP operations.
type PacketClass int

const (
	ClassUnknown PacketClass = iota
	ClassSTUN
	ClassDTLS
	ClassRTCP
	ClassRTP
)

func (c PacketClass) String() string {
	switch c {
	case ClassSTUN:
		return "stun"
	case ClassDTLS:
		return "dtls"
	case ClassRTCP:
		return "rtcp"
	case ClassRTP:
		return "rtp"
	default:
		return "unknown"
	}
}

// Classify peeks the first two bytes of a datagram and buckets it per
// spec.md §4.5 stage 2: "0–3 → STUN; 20–63 → DTLS; 128–191 + second byte
// in RTCP PT range → RTCP; 128–191 + RTP PT → RTP."
func Classify(buf []byte) PacketClass {
	if len(buf) < 1 {
		return ClassUnknown
	}
	first := buf[0]
	switch {
	case first <= 3:
		return ClassSTUN
	case first >= 20 && first <= 63:
		return ClassDTLS
	case first >= 128 && first <= 191:
		if len(buf) < 2 {
			return ClassUnknown
		}
		// RFC 5761 §4: RTCP payload types conventionally occupy 192-223;
		// anything else in the SRTP/SRTCP range is RTP.
		if buf[1] >= 192 && buf[1] <= 223 {
			return ClassRTCP
		}
		return ClassRTP
	default:
		return ClassUnknown
	}
}
