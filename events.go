package rtc

import (
	"github.com/sansio-rtc/rtc/internal/datachannel"
	"github.com/sansio-rtc/rtc/internal/ice"
)

// EventKind discriminates the Event union PeerConnection.PollEvent
// drains. Every state transition the API surfaces is delivered this way:
// spec.md never has the core reject or resolve a promise asynchronously,
// so there is nothing here that blocks a caller's goroutine.
type EventKind int

const (
	// EventConnectionStateChange fires when the aggregate PeerConnection
	// state (derived from ICE + DTLS) changes.
	EventConnectionStateChange EventKind = iota
	// EventICEConnectionStateChange mirrors the ICE agent's own state
	// machine one-for-one (spec.md §4.1).
	EventICEConnectionStateChange
	// EventICECandidate fires once per local candidate gathered.
	EventICECandidate
	// EventDataChannelOpen fires when a DataChannel becomes usable through
	// DCEP: a peer-initiated one when its DATA_CHANNEL_OPEN arrives, a
	// locally created non-negotiated one when the peer's ACK arrives.
	EventDataChannelOpen
	// EventDataChannelMessage delivers one inbound DataChannel message.
	EventDataChannelMessage
	// EventDataChannelClose fires once a DataChannel reaches Closed.
	EventDataChannelClose
	// EventTrack delivers one decoded, de-SRTP'd RTP packet for a remote
	// track, after the NACK/jitter bookkeeping of stage 7.
	EventTrack
	// EventRTCP delivers one decrypted inbound RTCP compound packet's
	// feedback reports, after any NACKs in it have already triggered a
	// resend.
	EventRTCP
)

// ConnectionState is the aggregate PeerConnection state spec.md §9 derives
// from its ICE and DTLS handlers: New until ICE starts connecting,
// Connecting while either is in flight, Connected once DTLS completes,
// Disconnected/Failed/Closed mirroring the worse of the two inner states.
type ConnectionState uint8

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one PeerConnection-level notification. Exactly one payload
// field is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	ConnectionState    ConnectionState
	ICEConnectionState ice.ConnectionState
	Candidate          *ice.Candidate

	DataChannel   *DataChannel
	DataChannelID uint16
	Data          []byte
	IsString      bool

	Transceiver *RtpTransceiver
	RTPPayload  []byte
	RTPSeq      uint16
	SSRC        uint32
}

// dataChannelEventKind translates one internal/datachannel state-change
// event into the EventKind PollEvent callers switch on, keeping that
// mapping in one place rather than duplicated at each call site.
func dataChannelEventKind(k datachannel.EventKind, state datachannel.State) EventKind {
	if k == datachannel.EventStateChange && state == datachannel.StateClosed {
		return EventDataChannelClose
	}
	return EventDataChannelOpen
}
