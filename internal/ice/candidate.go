// Package ice implements the ICE agent: candidate gathering input,
// connectivity checking, nomination and consent freshness (RFC 8445),
// built directly around the sans-I/O contract of spec.md §2:
// handle_read/poll_transmit/poll_event/handle_timeout, with no internal
// goroutines or channels.
package ice

import (
	"fmt"
	"hash/crc32"
	"net"
)

// CandidateType classifies how a Candidate was discovered (RFC 8445 §5.1.1).
type CandidateType uint8

const (
	CandidateTypeHost CandidateType = iota
	CandidateTypeServerReflexive
	CandidateTypePeerReflexive
	CandidateTypeRelay
)

func (t CandidateType) String() string {
	switch t {
	case CandidateTypeHost:
		return "host"
	case CandidateTypeServerReflexive:
		return "srflx"
	case CandidateTypePeerReflexive:
		return "prflx"
	case CandidateTypeRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// typePreference implements the recommended values of RFC 8445 §5.1.2.1.
func (t CandidateType) typePreference() uint32 {
	switch t {
	case CandidateTypeHost:
		return 126
	case CandidateTypePeerReflexive:
		return 110
	case CandidateTypeServerReflexive:
		return 100
	case CandidateTypeRelay:
		return 0
	default:
		return 0
	}
}

// Candidate is a reachable (protocol, address, port, type) tuple with a
// derived priority (spec.md §3).
type Candidate struct {
	Foundation string
	Component  uint16 // 1 = RTP, 2 = RTCP (unused when rtcp-mux is required)
	Protocol   string // "udp" or "tcp"
	Address    string
	Port       int
	Type       CandidateType

	// RelatedAddress/RelatedPort hold the base of a reflexive/relay
	// candidate (the local socket it was derived from).
	RelatedAddress string
	RelatedPort    int

	// LocalPreference ranks candidates of equal type (RFC 8445 §5.1.2.1);
	// defaults to 65535 for a single-homed host.
	LocalPreference uint32

	// Generation distinguishes candidates gathered across an ICE restart.
	Generation uint32

	// overridePriority holds the exact priority carried by a triggering
	// STUN request for a synthesized peer-reflexive candidate (RFC 8445
	// §7.3.1.3 permits preserving the observed value instead of
	// recomputing one from local preference).
	overridePriority *uint32
}

// NewHostCandidate constructs a host candidate from a locally bound address.
func NewHostCandidate(addr *net.UDPAddr, component uint16, localPreference uint32) *Candidate {
	c := &Candidate{
		Component:       component,
		Protocol:        "udp",
		Address:         addr.IP.String(),
		Port:            addr.Port,
		Type:            CandidateTypeHost,
		LocalPreference: localPreference,
	}
	c.Foundation = c.computeFoundation()
	return c
}

// NewPeerReflexiveCandidate synthesizes a peer-reflexive candidate on
// receipt of a STUN request from an address not already known as a remote
// candidate (spec.md §4.1), with priority taken from the PRIORITY
// attribute of the triggering request.
func NewPeerReflexiveCandidate(addr *net.UDPAddr, component uint16, priority uint32) *Candidate {
	c := &Candidate{
		Component: component,
		Protocol:  "udp",
		Address:   addr.IP.String(),
		Port:      addr.Port,
		Type:      CandidateTypePeerReflexive,
	}
	c.Foundation = c.computeFoundation()
	c.overridePriority = &priority
	return c
}

// Priority implements spec.md §3:
// priority = (2^24)*type_pref + (2^8)*local_pref + (256 - component)
func (c *Candidate) Priority() uint32 {
	if c.overridePriority != nil {
		return *c.overridePriority
	}
	lp := c.LocalPreference
	if lp == 0 {
		lp = 65535
	}
	component := uint32(c.Component)
	if component == 0 {
		component = 1
	}
	return (1<<24)*c.Type.typePreference() + (1<<8)*lp + (256 - component)
}

// computeFoundation implements spec.md §3: CRC-32/ISCSI over (type, address).
func (c *Candidate) computeFoundation() string {
	table := crc32.MakeTable(crc32.Castagnoli)
	input := fmt.Sprintf("%s|%s", c.Type, c.Address)
	sum := crc32.Checksum([]byte(input), table)
	return fmt.Sprintf("%08x", sum)
}

// Addr returns the candidate's transport address.
func (c *Candidate) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(c.Address), Port: c.Port}
}

func (c *Candidate) String() string {
	return fmt.Sprintf("%s:%s %s:%d (prio %d, found %s)", c.Protocol, c.Type, c.Address, c.Port, c.Priority(), c.Foundation)
}

// Marshal renders the candidate as an SDP "a=candidate" attribute value
// (without the "candidate:" prefix or "a=" prefix), per RFC 8839 §5.1.
func (c *Candidate) Marshal() string {
	s := fmt.Sprintf("%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Protocol, c.Priority(), c.Address, c.Port, c.Type)
	if c.Type != CandidateTypeHost {
		s += fmt.Sprintf(" raddr %s rport %d", c.RelatedAddress, c.RelatedPort)
	}
	return s
}

// UnmarshalCandidate parses an SDP candidate attribute value produced by
// Marshal (or by a remote peer's SDP). The parsed candidate's Priority()
// returns the literal transmitted value, preserving spec.md §8's
// unmarshal(marshal(c)).priority() == c.priority() round-trip law exactly
// even though priority is normally derived, not stored.
func UnmarshalCandidate(line string) (*Candidate, error) {
	var foundation, proto, typ, addr string
	var component, priority uint32
	var port int
	n, err := fmt.Sscanf(line, "%s %d %s %d %s %d typ %s",
		&foundation, &component, &proto, &priority, &addr, &port, &typ)
	if err != nil || n < 7 {
		return nil, fmt.Errorf("ice: malformed candidate line %q: %w", line, err)
	}

	c := &Candidate{
		Foundation: foundation,
		Component:  uint16(component),
		Protocol:   proto,
		Address:    addr,
		Port:       port,
	}
	switch typ {
	case "host":
		c.Type = CandidateTypeHost
	case "srflx":
		c.Type = CandidateTypeServerReflexive
	case "prflx":
		c.Type = CandidateTypePeerReflexive
	case "relay":
		c.Type = CandidateTypeRelay
	default:
		return nil, fmt.Errorf("ice: unknown candidate type %q", typ)
	}
	c.overridePriority = &priority

	if idx := indexOf(line, "raddr "); idx >= 0 {
		var raddr string
		var rport int
		if _, err := fmt.Sscanf(line[idx:], "raddr %s rport %d", &raddr, &rport); err == nil {
			c.RelatedAddress = raddr
			c.RelatedPort = rport
		}
	}
	return c, nil
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
