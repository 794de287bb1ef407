package stun

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // RFC 5389 mandates HMAC-SHA1 for MESSAGE-INTEGRITY
	"encoding/binary"
	"errors"
	"hash/crc32"
	"net"
)

// AttrType is a STUN attribute type (RFC 5389 §18.2, RFC 8445 §16.1).
type AttrType uint16

const (
	AttrMappedAddress     AttrType = 0x0001
	AttrUsername          AttrType = 0x0006
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrXORMappedAddress  AttrType = 0x0020
	AttrPriority          AttrType = 0x0024
	AttrUseCandidate      AttrType = 0x0025
	AttrFingerprint       AttrType = 0x8028
	AttrICEControlled     AttrType = 0x8029
	AttrICEControlling    AttrType = 0x802A
	AttrResponseOrigin    AttrType = 0x802B
	AttrSoftware          AttrType = 0x8022
)

const fingerprintXOR = 0x5354554e

// AddFingerprint appends a FINGERPRINT attribute: CRC-32 of the message so
// far (with the header length field set as if FINGERPRINT were already
// present), XORed with 0x5354554e, per RFC 5389 §15.5. Must be the last
// attribute added.
func (m *Message) AddFingerprint() {
	// Reserve space by adding a placeholder, computing length as it will be
	// post-addition, then replacing the value.
	m.Add(AttrFingerprint, make([]byte, 4))
	raw := m.Marshal()
	// CRC runs over everything before the fingerprint attribute.
	crcInput := raw[:len(raw)-8]
	sum := crc32.ChecksumIEEE(crcInput) ^ fingerprintXOR
	val := make([]byte, 4)
	binary.BigEndian.PutUint32(val, sum)
	m.Add(AttrFingerprint, val)
	m.Marshal()
}

// VerifyFingerprint checks a parsed message's FINGERPRINT attribute against
// its raw bytes. The FINGERPRINT attribute must be the final attribute.
func VerifyFingerprint(m *Message) bool {
	attr, ok := m.Get(AttrFingerprint)
	if !ok || len(attr.Value) != 4 || len(m.Raw) < 8 {
		return false
	}
	want := binary.BigEndian.Uint32(attr.Value)
	crcInput := m.Raw[:len(m.Raw)-8]
	got := crc32.ChecksumIEEE(crcInput) ^ fingerprintXOR
	return got == want
}

// AddMessageIntegrity appends a MESSAGE-INTEGRITY attribute: HMAC-SHA1 over
// the message so far keyed by key (the short-term credential password for
// ICE), with the STUN header length temporarily set to include the 24-byte
// MESSAGE-INTEGRITY attribute. Must be added before FINGERPRINT.
func (m *Message) AddMessageIntegrity(key []byte) {
	m.Add(AttrMessageIntegrity, make([]byte, 20))
	raw := m.Marshal()
	mac := hmac.New(sha1.New, key)
	mac.Write(raw[:len(raw)-24])
	sum := mac.Sum(nil)
	m.Add(AttrMessageIntegrity, sum)
	m.Marshal()
}

// VerifyMessageIntegrity checks a parsed message's MESSAGE-INTEGRITY
// attribute against key. The attribute, if present, must be followed only
// by FINGERPRINT (if any).
func VerifyMessageIntegrity(m *Message, key []byte) bool {
	attr, ok := m.Get(AttrMessageIntegrity)
	if !ok || len(attr.Value) != 20 {
		return false
	}
	// Locate the integrity attribute's byte offset in Raw to truncate
	// correctly, accounting for a possible trailing FINGERPRINT.
	trailer := 0
	if _, hasFP := m.Get(AttrFingerprint); hasFP {
		trailer = 8
	}
	end := len(m.Raw) - trailer - 24
	if end < messageHeaderSize {
		return false
	}
	// The sender computed the HMAC with the header length ending at
	// MESSAGE-INTEGRITY, before any FINGERPRINT was appended.
	buf := append([]byte(nil), m.Raw[:end]...)
	binary.BigEndian.PutUint16(buf[2:4], uint16(end+24-messageHeaderSize))
	mac := hmac.New(sha1.New, key)
	mac.Write(buf)
	return hmac.Equal(mac.Sum(nil), attr.Value)
}

var errBadAddressFamily = errors.New("stun: unsupported address family")

// EncodeXORMappedAddress builds the XOR-MAPPED-ADDRESS attribute value for
// addr, XORed with the magic cookie and (for the port) the transaction ID,
// per RFC 5389 §15.2.
func EncodeXORMappedAddress(addr *net.UDPAddr, txID TransactionID) ([]byte, error) {
	ip4 := addr.IP.To4()
	family := byte(0x01)
	ipBytes := ip4
	if ip4 == nil {
		ip6 := addr.IP.To16()
		if ip6 == nil {
			return nil, errBadAddressFamily
		}
		family = 0x02
		ipBytes = ip6
	}

	xport := uint16(addr.Port) ^ uint16(magicCookie>>16)
	out := make([]byte, 4+len(ipBytes))
	out[1] = family
	binary.BigEndian.PutUint16(out[2:4], xport)

	xorKey := make([]byte, 4+TransactionIDSize)
	binary.BigEndian.PutUint32(xorKey[0:4], magicCookie)
	copy(xorKey[4:], txID[:])
	for i, b := range ipBytes {
		out[4+i] = b ^ xorKey[i]
	}
	return out, nil
}

// DecodeXORMappedAddress parses an XOR-MAPPED-ADDRESS attribute value.
func DecodeXORMappedAddress(value []byte, txID TransactionID) (*net.UDPAddr, error) {
	if len(value) < 4 {
		return nil, errBadAddressFamily
	}
	family := value[1]
	var ipLen int
	switch family {
	case 0x01:
		ipLen = 4
	case 0x02:
		ipLen = 16
	default:
		return nil, errBadAddressFamily
	}
	if len(value) < 4+ipLen {
		return nil, errBadAddressFamily
	}

	xport := binary.BigEndian.Uint16(value[2:4])
	port := int(xport ^ uint16(magicCookie>>16))

	xorKey := make([]byte, 4+TransactionIDSize)
	binary.BigEndian.PutUint32(xorKey[0:4], magicCookie)
	copy(xorKey[4:], txID[:])

	ip := make(net.IP, ipLen)
	for i := 0; i < ipLen; i++ {
		ip[i] = value[4+i] ^ xorKey[i]
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeUint32(v []byte) uint32 {
	if len(v) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}

// SetPriority sets the PRIORITY attribute (RFC 8445 §16.1).
func (m *Message) SetPriority(p uint32) { m.Add(AttrPriority, encodeUint32(p)) }

// Priority returns the PRIORITY attribute, if present.
func (m *Message) Priority() (uint32, bool) {
	a, ok := m.Get(AttrPriority)
	if !ok {
		return 0, false
	}
	return decodeUint32(a.Value), true
}

// SetUseCandidate sets the zero-length USE-CANDIDATE attribute.
func (m *Message) SetUseCandidate() { m.Add(AttrUseCandidate, nil) }

// HasUseCandidate reports whether USE-CANDIDATE is present.
func (m *Message) HasUseCandidate() bool {
	_, ok := m.Get(AttrUseCandidate)
	return ok
}

// SetICEControlling sets the ICE-CONTROLLING attribute to the agent's
// 64-bit tie-breaker value.
func (m *Message) SetICEControlling(tiebreaker uint64) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, tiebreaker)
	m.Add(AttrICEControlling, b)
}

// SetICEControlled sets the ICE-CONTROLLED attribute.
func (m *Message) SetICEControlled(tiebreaker uint64) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, tiebreaker)
	m.Add(AttrICEControlled, b)
}

// SetUsername sets the USERNAME attribute to "remoteUfrag:localUfrag".
func (m *Message) SetUsername(u string) { m.Add(AttrUsername, []byte(u)) }

// Username returns the USERNAME attribute value, if present.
func (m *Message) Username() (string, bool) {
	a, ok := m.Get(AttrUsername)
	if !ok {
		return "", false
	}
	return string(a.Value), true
}
