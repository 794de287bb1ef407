package twcc

import (
	"encoding/binary"
	"fmt"
)

// packetStatus is one of the three symbol values the draft's packet
// status chunks carry per sequence number.
type packetStatus uint8

const (
	statusNotReceived packetStatus = 0
	statusSmallDelta  packetStatus = 1
	statusLargeDelta  packetStatus = 2
)

// recvDelta is one packet's arrival delta, present only for received
// (small- or large-delta) statuses, in the draft's 250us ticks.
type recvDelta struct {
	small bool
	value int16
}

const (
	rtcpVersion                   = 2
	typeTransportSpecificFeedback = 205
	formatTCC                     = 15
	feedbackFixedHeaderLen        = 12 // SenderSSRC + MediaSSRC + base/count; reftime/fbcount follow in 4 more bytes
)

// Feedback is a transport-wide congestion control RTCP feedback packet
// (draft-holmer-rmcat-transport-wide-cc-extensions). It is marshaled by
// hand rather than through a generic third-party RTCP struct: unlike
// TransportLayerNack/SenderReport/ReceiverReport, whose wire layout this
// module confirmed against a vendored reference copy, no TWCC type was
// available anywhere in the reference pack to check field-level wire
// semantics against, so — mirroring the same "can't verify, so build it
// against the spec text directly" call already made for the SRTP replay
// window — this hand-builds the packet against the draft's bit layout.
type Feedback struct {
	SenderSSRC         uint32
	MediaSSRC          uint32
	BaseSequenceNumber uint16
	PacketStatusCount  uint16
	ReferenceTime      uint32 // 24 bits on the wire, in 64ms units
	FbPktCount         uint8

	Statuses []packetStatus
	Deltas   []recvDelta
}

// Marshal encodes the feedback packet, including its common RTCP header,
// padding the variable-length body out to a 4-byte boundary.
func (f *Feedback) Marshal() ([]byte, error) {
	body := make([]byte, feedbackFixedHeaderLen)
	binary.BigEndian.PutUint32(body[0:4], f.SenderSSRC)
	binary.BigEndian.PutUint32(body[4:8], f.MediaSSRC)
	binary.BigEndian.PutUint16(body[8:10], f.BaseSequenceNumber)
	binary.BigEndian.PutUint16(body[10:12], f.PacketStatusCount)

	var refAndCount [4]byte
	refAndCount[0] = byte(f.ReferenceTime >> 16)
	refAndCount[1] = byte(f.ReferenceTime >> 8)
	refAndCount[2] = byte(f.ReferenceTime)
	refAndCount[3] = f.FbPktCount
	body = append(body, refAndCount[:]...)

	body = append(body, marshalStatusVectorChunks(f.Statuses)...)
	for _, d := range f.Deltas {
		if d.small {
			body = append(body, byte(d.value))
		} else {
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(d.value))
			body = append(body, b[:]...)
		}
	}

	for len(body)%4 != 0 {
		body = append(body, 0)
	}

	header := [4]byte{}
	header[0] = rtcpVersion<<6 | formatTCC
	header[1] = typeTransportSpecificFeedback
	binary.BigEndian.PutUint16(header[2:4], uint16(len(body)/4))

	return append(header[:], body...), nil
}

// marshalStatusVectorChunks packs every status into 2-bit-symbol status
// vector chunks (7 symbols/chunk), padding the final chunk's unused
// slots with "not received". This is always a valid encoding per the
// draft even though it forgoes the more compact run-length chunk form.
func marshalStatusVectorChunks(statuses []packetStatus) []byte {
	var out []byte
	for i := 0; i < len(statuses); i += 7 {
		var chunk uint16 = 1<<15 | 1<<14 // vector chunk, 2-bit symbols
		for j := 0; j < 7; j++ {
			var sym packetStatus
			if i+j < len(statuses) {
				sym = statuses[i+j]
			}
			chunk |= uint16(sym) << uint(12-2*j)
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], chunk)
		out = append(out, b[:]...)
	}
	return out
}

// Unmarshal decodes a Feedback packet previously produced by Marshal.
// It is exercised by this module's own tests, not by inbound-packet
// handling: feedback arriving from a peer is parsed generically by
// github.com/pion/rtcp before this module ever sees it, and consuming
// that feedback for bandwidth estimation is out of scope.
func (f *Feedback) Unmarshal(raw []byte) error {
	if len(raw) < 4+feedbackFixedHeaderLen+4 {
		return fmt.Errorf("twcc: feedback packet too short: %d bytes", len(raw))
	}
	if raw[0]>>6 != rtcpVersion || raw[0]&0x1F != formatTCC || raw[1] != typeTransportSpecificFeedback {
		return fmt.Errorf("twcc: not a transport-wide congestion control feedback packet")
	}
	body := raw[4:]
	f.SenderSSRC = binary.BigEndian.Uint32(body[0:4])
	f.MediaSSRC = binary.BigEndian.Uint32(body[4:8])
	f.BaseSequenceNumber = binary.BigEndian.Uint16(body[8:10])
	f.PacketStatusCount = binary.BigEndian.Uint16(body[10:12])
	f.ReferenceTime = uint32(body[12])<<16 | uint32(body[13])<<8 | uint32(body[14])
	f.FbPktCount = body[15]

	rest := body[feedbackFixedHeaderLen+4:]
	statuses := make([]packetStatus, 0, f.PacketStatusCount)
	for len(statuses) < int(f.PacketStatusCount) {
		if len(rest) < 2 {
			return fmt.Errorf("twcc: truncated packet status chunk")
		}
		chunk := binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
		if chunk&(1<<15) == 0 {
			return fmt.Errorf("twcc: run-length chunks are not produced by this module and are not decoded")
		}
		for j := 0; j < 7 && len(statuses) < int(f.PacketStatusCount); j++ {
			sym := packetStatus((chunk >> uint(12-2*j)) & 0x3)
			statuses = append(statuses, sym)
		}
	}
	f.Statuses = statuses

	var deltas []recvDelta
	for _, s := range statuses {
		switch s {
		case statusSmallDelta:
			if len(rest) < 1 {
				return fmt.Errorf("twcc: truncated small recv delta")
			}
			deltas = append(deltas, recvDelta{small: true, value: int16(rest[0])})
			rest = rest[1:]
		case statusLargeDelta:
			if len(rest) < 2 {
				return fmt.Errorf("twcc: truncated large recv delta")
			}
			deltas = append(deltas, recvDelta{small: false, value: int16(binary.BigEndian.Uint16(rest[:2]))})
			rest = rest[2:]
		}
	}
	f.Deltas = deltas
	return nil
}

// DestinationSSRC reports the media SSRC this feedback concerns, so this
// type can sit alongside the rest of this module's RTCP packets.
func (f *Feedback) DestinationSSRC() []uint32 { return []uint32{f.MediaSSRC} }
