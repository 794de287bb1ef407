package sctp

import (
	"encoding/binary"
	"fmt"
)

// ChunkInit represents both INIT and INIT-ACK (RFC 4960 §3.3.2/§3.3.3):
// identical fixed layout, INIT-ACK additionally always carries a
// state-cookie parameter, merged into one type (the ack flag just
// selects the wire ChunkType and requires the cookie parameter).
type ChunkInit struct {
	ack bool

	InitiateTag      uint32
	AdvertisedWindow uint32
	NumOutboundStreams uint16
	NumInboundStreams  uint16
	InitialTSN       uint32

	// Cookie is present only on INIT-ACK: an opaque blob the client must
	// echo back verbatim in COOKIE-ECHO (RFC 4960 §5.1.3). It is opaque to
	// the wire format — internal/sctp fills it with 32 random hex
	// characters, keeps a copy, and accepts a COOKIE-ECHO only if it
	// carries the same bytes.
	Cookie []byte

	// ForwardTSNSupported mirrors RFC 3758's FORWARD-TSN-SUPPORTED
	// parameter, carried by both INIT and INIT-ACK: spec.md's partial
	// reliability modes require both sides advertise it.
	ForwardTSNSupported bool
}

const chunkInitFixedLen = 16

func (c *ChunkInit) Type() ChunkType {
	if c.ack {
		return ChunkTypeInitAck
	}
	return ChunkTypeInit
}

func (c *ChunkInit) Marshal() ([]byte, error) {
	value := make([]byte, chunkInitFixedLen)
	binary.BigEndian.PutUint32(value[0:4], c.InitiateTag)
	binary.BigEndian.PutUint32(value[4:8], c.AdvertisedWindow)
	binary.BigEndian.PutUint16(value[8:10], c.NumOutboundStreams)
	binary.BigEndian.PutUint16(value[10:12], c.NumInboundStreams)
	binary.BigEndian.PutUint32(value[12:16], c.InitialTSN)

	if c.ForwardTSNSupported {
		value = append(value, marshalParam(paramTypeForwardTSNSupported, nil)...)
	}
	if c.ack {
		value = append(value, marshalParam(paramTypeStateCookie, c.Cookie)...)
	}
	return marshalChunk(c.Type(), 0, value), nil
}

func (c *ChunkInit) Unmarshal(raw []byte) error {
	_, value, _, err := splitChunkValue(raw)
	if err != nil {
		return err
	}
	if len(value) < chunkInitFixedLen {
		return fmt.Errorf("sctp: INIT chunk too short: %d bytes", len(value))
	}
	c.InitiateTag = binary.BigEndian.Uint32(value[0:4])
	c.AdvertisedWindow = binary.BigEndian.Uint32(value[4:8])
	c.NumOutboundStreams = binary.BigEndian.Uint16(value[8:10])
	c.NumInboundStreams = binary.BigEndian.Uint16(value[10:12])
	c.InitialTSN = binary.BigEndian.Uint32(value[12:16])

	params, err := parseParams(value[chunkInitFixedLen:])
	if err != nil {
		return err
	}
	for _, p := range params {
		switch p.typ {
		case paramTypeStateCookie:
			c.Cookie = p.value
		case paramTypeForwardTSNSupported:
			c.ForwardTSNSupported = true
		}
	}
	return nil
}

// --- TLV parameters (RFC 4960 §3.2.1) ---

type paramType uint16

const (
	paramTypeStateCookie         paramType = 7
	paramTypeForwardTSNSupported paramType = 49
)

type param struct {
	typ   paramType
	value []byte
}

const paramHeaderLen = 4

func marshalParam(t paramType, value []byte) []byte {
	raw := make([]byte, paramHeaderLen+len(value))
	binary.BigEndian.PutUint16(raw[0:2], uint16(t))
	binary.BigEndian.PutUint16(raw[2:4], uint16(paramHeaderLen+len(value)))
	copy(raw[paramHeaderLen:], value)
	if pad := paddingFor(len(raw)); pad > 0 {
		raw = append(raw, make([]byte, pad)...)
	}
	return raw
}

func parseParams(raw []byte) ([]param, error) {
	var out []param
	offset := 0
	for offset < len(raw) {
		if offset+paramHeaderLen > len(raw) {
			break
		}
		t := paramType(binary.BigEndian.Uint16(raw[offset : offset+2]))
		length := int(binary.BigEndian.Uint16(raw[offset+2 : offset+4]))
		if length < paramHeaderLen || offset+length > len(raw) {
			return nil, fmt.Errorf("sctp: parameter length %d invalid", length)
		}
		out = append(out, param{typ: t, value: raw[offset+paramHeaderLen : offset+length]})
		offset += length + paddingFor(length)
	}
	return out, nil
}
