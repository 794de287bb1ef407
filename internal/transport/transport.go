// Package transport holds the small set of types every sans-I/O endpoint
// (ICE agent, DTLS endpoint, SCTP association, SRTP context, the handler
// pipeline) shares to describe a flow and a unit of output, without ever
// touching a socket itself.
package transport

import (
	"net"
	"time"
)

// Protocol distinguishes the transport protocol of a FourTuple.
type Protocol uint8

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
)

func (p Protocol) String() string {
	if p == ProtocolTCP {
		return "tcp"
	}
	return "udp"
}

// FourTuple identifies a flow: (local_addr, peer_addr, transport_protocol,
// ecn). It is immutable once created and keys every demultiplexing table
// in the pipeline (spec.md §3).
type FourTuple struct {
	LocalAddr  net.Addr
	PeerAddr   net.Addr
	Protocol   Protocol
	ECN        uint8
	ECNPresent bool
}

// String renders a FourTuple for logging.
func (t FourTuple) String() string {
	local := "<nil>"
	if t.LocalAddr != nil {
		local = t.LocalAddr.String()
	}
	peer := "<nil>"
	if t.PeerAddr != nil {
		peer = t.PeerAddr.String()
	}
	return local + "<->" + peer + "/" + t.Protocol.String()
}

// Transmit is one fully framed outbound datagram, already encrypted where
// applicable, queued by poll_transmit. now is the instant the endpoint
// decided to send; it is informational (e.g. for RTT bookkeeping by the
// caller) and never used by the endpoint itself to decide when to send.
type Transmit struct {
	Now       time.Time
	FourTuple FourTuple
	Payload   []byte
}

// Instant is a monotonic point in time, supplied by the caller to every
// handle_timeout/handle_read/handle_write call. The core never reads the
// wall clock itself (spec.md §5).
type Instant = time.Time
