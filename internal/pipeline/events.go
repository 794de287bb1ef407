package pipeline

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/sansio-rtc/rtc/internal/dtls"
	"github.com/sansio-rtc/rtc/internal/ice"
	"github.com/sansio-rtc/rtc/internal/sctp"
)

// EventKind enumerates everything a Pipeline surfaces through PollEvent.
// It is a flat union over the inner handlers' own event types plus the
// two kinds the pipeline itself originates (decrypted media and an SRTP
// context becoming available), matching stage 8's job of lifting
// whatever the inner handlers produced into something the endpoint
// handler (the root rtc package's PeerConnection) can route to a
// transceiver or data channel.
type EventKind int

const (
	EventICE EventKind = iota
	EventDTLS
	EventSCTP
	EventSRTPReady
	EventRTP
	EventRTCP
)

// Event is one pipeline-level notification. Exactly one of the payload
// fields is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	ICE  ice.Event
	DTLS dtls.Event
	SCTP sctp.Event

	// RTPPacket/RTCPPackets carry the SRTP/SRTCP-decrypted, structurally
	// parsed plaintext, ready for the interceptor chain (spec.md §4.5
	// stage 7).
	RTPPacket   *rtp.Packet
	RTCPPackets []rtcp.Packet
}
