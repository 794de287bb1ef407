package sctp

// EventKind discriminates the Event union PollEvent drains.
type EventKind uint8

const (
	// EventEstablished fires once both sides reach Established
	// (COOKIE-ACK observed client-side, COOKIE-ECHO processed server-side).
	EventEstablished EventKind = iota
	// EventMessage delivers one fully reassembled, in-order (for ordered
	// streams) message.
	EventMessage
	// EventStreamOpened fires the first time a peer-initiated stream id is
	// seen (used by internal/datachannel to know a new DataChannel arrived).
	EventStreamOpened
	// EventStreamClosed fires once an outgoing or incoming stream reset
	// completes (spec.md §4.3 "Stream reset").
	EventStreamClosed
	// EventClosed fires once a graceful close finishes (SHUTDOWN-ACK
	// received by the initiator, SHUTDOWN-COMPLETE by the responder) or
	// INIT retransmissions are exhausted (spec.md §5). There is no
	// shutdown timer.
	EventClosed
	// EventAborted fires on a received ABORT chunk (Protocol-violation,
	// spec.md §7): the caller must treat the association as gone.
	EventAborted
)

// Event is one item produced by Association.PollEvent.
type Event struct {
	Kind     EventKind
	StreamID uint16
	PPI      PPI
	Data     []byte
	Reason   string
}
