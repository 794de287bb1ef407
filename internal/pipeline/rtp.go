package pipeline

import "encoding/binary"

// peekRTPHeader parses only what SRTP needs to dispatch and authenticate
// a packet: the cleartext header's length, sequence number and SSRC. RTP
// header fields are never encrypted by SRTP (RFC 3711 §3.1), so this
// succeeds even though the bytes following headerLen are still
// ciphertext at this point.
func peekRTPHeader(buf []byte) (headerLen int, seq uint16, ssrc uint32, ok bool) {
	if len(buf) < 12 {
		return 0, 0, 0, false
	}
	csrcCount := int(buf[0] & 0x0f)
	hasExtension := buf[0]&0x10 != 0
	headerLen = 12 + csrcCount*4
	if len(buf) < headerLen {
		return 0, 0, 0, false
	}
	if hasExtension {
		if len(buf) < headerLen+4 {
			return 0, 0, 0, false
		}
		extLen := int(binary.BigEndian.Uint16(buf[headerLen+2 : headerLen+4]))
		headerLen += 4 + extLen*4
		if len(buf) < headerLen {
			return 0, 0, 0, false
		}
	}
	seq = binary.BigEndian.Uint16(buf[2:4])
	ssrc = binary.BigEndian.Uint32(buf[8:12])
	return headerLen, seq, ssrc, true
}

// rtcpHeaderLen is the fixed, never-encrypted prefix of every RTCP
// compound packet's first sub-packet: V/P/RC, PT, length, SSRC (RFC 3711
// §3.4 — SRTCP encrypts only what follows this header).
const rtcpHeaderLen = 8

// peekRTCPSSRC reads the SSRC directly out of the cleartext RTCP header
// rather than decoding the (possibly still-encrypted) packet body.
func peekRTCPSSRC(buf []byte) (uint32, bool) {
	if len(buf) < rtcpHeaderLen {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[4:8]), true
}
