// Package mdns implements the sans-I/O multicast-DNS resolver of
// spec.md §4.6 (RFC 6762): .local hostname query/response, acting as
// both client and server in one object.
//
// A package-global `_client` singleton reached through package-level
// Start/Resolve/Announce functions is exactly the anti-pattern spec.md
// §9 calls out for replacement — here an explicit *Resolver is
// constructed and passed by reference into the pipeline, never reached
// through package-global state.
package mdns

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	dnsHeaderLen = 12
	typeA        = 1
	classIN      = 1
)

// message is the minimal RFC 1035 subset spec.md §4.6 needs: one question
// or one A-record answer per packet (mDNS candidate resolution never
// needs more).
type message struct {
	id        uint16
	isResponse bool
	questionName string
	answerName   string
	answerIP     net.IP
	answerTTL    uint32
	hasAnswer    bool
}

func encodeName(buf []byte, name string) []byte {
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			buf = append(buf, byte(len(label)))
			buf = append(buf, label...)
			start = i + 1
		}
	}
	return append(buf, 0)
}

func decodeName(raw []byte, offset int) (string, int, error) {
	var labels []byte
	first := true
	for {
		if offset >= len(raw) {
			return "", 0, fmt.Errorf("mdns: name extends past end of message")
		}
		length := int(raw[offset])
		if length == 0 {
			offset++
			break
		}
		if offset+1+length > len(raw) {
			return "", 0, fmt.Errorf("mdns: label extends past end of message")
		}
		if !first {
			labels = append(labels, '.')
		}
		labels = append(labels, raw[offset+1:offset+1+length]...)
		offset += 1 + length
		first = false
	}
	return string(labels), offset, nil
}

// marshalQuery builds a single-question A-record query packet.
func marshalQuery(id uint16, name string) []byte {
	hdr := make([]byte, dnsHeaderLen)
	binary.BigEndian.PutUint16(hdr[0:2], id)
	binary.BigEndian.PutUint16(hdr[4:6], 1) // QDCOUNT

	raw := hdr
	raw = encodeName(raw, name)
	raw = binary.BigEndian.AppendUint16(raw, typeA)
	raw = binary.BigEndian.AppendUint16(raw, classIN)
	return raw
}

// marshalResponse builds a single-answer A-record response packet.
func marshalResponse(id uint16, name string, ip net.IP, ttl uint32) []byte {
	hdr := make([]byte, dnsHeaderLen)
	binary.BigEndian.PutUint16(hdr[0:2], id)
	hdr[2] = 0x84 // QR=1 (response), AA=1 (authoritative)
	binary.BigEndian.PutUint16(hdr[6:8], 1) // ANCOUNT

	raw := hdr
	raw = encodeName(raw, name)
	raw = binary.BigEndian.AppendUint16(raw, typeA)
	raw = binary.BigEndian.AppendUint16(raw, classIN)
	raw = binary.BigEndian.AppendUint32(raw, ttl)
	ip4 := ip.To4()
	raw = binary.BigEndian.AppendUint16(raw, uint16(len(ip4)))
	raw = append(raw, ip4...)
	return raw
}

func unmarshal(raw []byte) (*message, error) {
	if len(raw) < dnsHeaderLen {
		return nil, fmt.Errorf("mdns: message shorter than header: %d bytes", len(raw))
	}
	m := &message{
		id:         binary.BigEndian.Uint16(raw[0:2]),
		isResponse: raw[2]&0x80 != 0,
	}
	qdCount := int(binary.BigEndian.Uint16(raw[4:6]))
	anCount := int(binary.BigEndian.Uint16(raw[6:8]))

	offset := dnsHeaderLen
	for i := 0; i < qdCount; i++ {
		name, next, err := decodeName(raw, offset)
		if err != nil {
			return nil, err
		}
		offset = next + 4 // type + class
		if i == 0 {
			m.questionName = name
		}
	}
	for i := 0; i < anCount; i++ {
		name, next, err := decodeName(raw, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		if offset+10 > len(raw) {
			return nil, fmt.Errorf("mdns: answer record truncated")
		}
		ttl := binary.BigEndian.Uint32(raw[offset+4 : offset+8])
		rdlen := int(binary.BigEndian.Uint16(raw[offset+8 : offset+10]))
		offset += 10
		if offset+rdlen > len(raw) {
			return nil, fmt.Errorf("mdns: answer rdata truncated")
		}
		if rdlen == 4 {
			m.answerName = name
			m.answerIP = net.IP(append([]byte(nil), raw[offset:offset+rdlen]...))
			m.answerTTL = ttl
			m.hasAnswer = true
		}
		offset += rdlen
	}
	return m, nil
}
