// Package datachannel implements the DataChannel lifecycle of spec.md §3 on
// top of a sans-I/O sctp.Association and the internal/dcep wire codec: no
// goroutine, no blocking ReadSCTP/WriteSCTP loop, just HandleMessage/Send/
// Close driven by whatever owns the association's PollEvent loop (the
// handler pipeline).
package datachannel

import (
	"fmt"
	"time"

	"github.com/sansio-rtc/rtc/internal/dcep"
	"github.com/sansio-rtc/rtc/internal/sctp"
)

// State is the DataChannel lifecycle of spec.md §3.
type State uint8

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config mirrors spec.md §3's DataChannel.Config: channel-type (ordered +
// reliability mode), label, protocol, priority, reliability parameter, and
// whether this is a pre-negotiated channel (Negotiated channels skip the
// DCEP open/ack exchange entirely, per spec.md §3).
type Config struct {
	Label                string
	Protocol             string
	ChannelType          dcep.ChannelType
	Priority             uint16
	ReliabilityParameter uint32
	Negotiated           bool
}

// DataChannel is one SCTP-stream-keyed data channel (spec.md §3: "Keyed by
// stream-id within an association").
type DataChannel struct {
	id    uint16
	assoc *sctp.Association
	cfg   Config
	state State

	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64

	eventQueue []Event
}

// New allocates local stream state for an application-initiated channel and
// returns it in Connecting state (or Open immediately, for a negotiated
// channel — spec.md §3). Call Open to start the DCEP handshake for
// non-negotiated channels.
func New(assoc *sctp.Association, id uint16, cfg Config) (*DataChannel, error) {
	if _, err := assoc.OpenStream(id); err != nil {
		return nil, fmt.Errorf("datachannel: opening stream %d: %w", id, err)
	}
	dc := &DataChannel{id: id, assoc: assoc, cfg: cfg, state: StateConnecting}
	if cfg.Negotiated {
		dc.setState(StateOpen)
	}
	return dc, nil
}

// Accept builds a DataChannel from a peer-initiated DATA_CHANNEL_OPEN
// message (spec.md §3 "Lifecycle: Connecting -> Open"; a remote-initiated
// channel is Open as soon as it is ACKed, never observed Connecting by this
// side). The caller is expected to have already registered the stream via
// the association's EventStreamOpened/EventMessage dispatch.
func Accept(now time.Time, assoc *sctp.Association, id uint16, openRaw []byte) (*DataChannel, error) {
	msg, err := dcep.Parse(openRaw)
	if err != nil {
		return nil, fmt.Errorf("datachannel: parsing DATA_CHANNEL_OPEN: %w", err)
	}
	open, ok := msg.(*dcep.ChannelOpen)
	if !ok {
		return nil, fmt.Errorf("datachannel: expected DATA_CHANNEL_OPEN, got %T", msg)
	}

	dc := &DataChannel{
		id:    id,
		assoc: assoc,
		cfg: Config{
			Label:                open.Label,
			Protocol:             open.Protocol,
			ChannelType:          open.ChannelType,
			Priority:             open.Priority,
			ReliabilityParameter: open.ReliabilityParameter,
		},
		state: StateOpen,
	}
	if err := dc.sendAck(now); err != nil {
		return nil, err
	}
	dc.eventQueue = append(dc.eventQueue, Event{Kind: EventStateChange, State: StateOpen})
	return dc, nil
}

// ID returns the SCTP stream id this channel is keyed by.
func (d *DataChannel) ID() uint16 { return d.id }

// State reports the current lifecycle state.
func (d *DataChannel) State() State { return d.state }

// Config returns the channel's configuration.
func (d *DataChannel) Config() Config { return d.cfg }

// Stats returns the counters of spec.md §3 (messages/bytes sent/received).
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
}

func (d *DataChannel) Stats() Stats {
	return Stats{
		MessagesSent:     d.messagesSent,
		MessagesReceived: d.messagesReceived,
		BytesSent:        d.bytesSent,
		BytesReceived:    d.bytesReceived,
	}
}

func (d *DataChannel) setState(s State) {
	if d.state == s {
		return
	}
	d.state = s
	d.eventQueue = append(d.eventQueue, Event{Kind: EventStateChange, State: s})
}

// Open sends the initial DATA_CHANNEL_OPEN (spec.md §4.5 DCEP). A no-op for
// a Negotiated channel, which is already Open.
func (d *DataChannel) Open(now time.Time) error {
	if d.cfg.Negotiated || d.state != StateConnecting {
		return nil
	}
	msg := &dcep.ChannelOpen{
		ChannelType:          d.cfg.ChannelType,
		Priority:             d.cfg.Priority,
		ReliabilityParameter: d.cfg.ReliabilityParameter,
		Label:                d.cfg.Label,
		Protocol:             d.cfg.Protocol,
	}
	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("datachannel: marshaling DATA_CHANNEL_OPEN: %w", err)
	}
	return d.assoc.SendMessage(now, d.id, sctp.PPIDCEP, raw, sctp.Reliability{Ordered: true})
}

// reliability translates the DCEP ChannelType (spec.md §4.3's three
// reliability modes) into the sctp.Reliability the association's send path
// uses to decide rexmit/timed abandonment.
func (d *DataChannel) reliability() sctp.Reliability {
	rel := sctp.Reliability{Ordered: d.cfg.ChannelType.Ordered(), Param: d.cfg.ReliabilityParameter}
	switch d.cfg.ChannelType.Reliability() {
	case dcep.ReliabilityPartialRexmit:
		rel.Mode = sctp.ReliabilityModeRexmit
	case dcep.ReliabilityPartialTimed:
		rel.Mode = sctp.ReliabilityModeTimed
	default:
		rel.Mode = sctp.ReliabilityModeReliable
	}
	return rel
}

func (d *DataChannel) sendAck(now time.Time) error {
	raw, err := (&dcep.ChannelAck{}).Marshal()
	if err != nil {
		return fmt.Errorf("datachannel: marshaling DATA_CHANNEL_ACK: %w", err)
	}
	return d.assoc.SendMessage(now, d.id, sctp.PPIDCEP, raw, sctp.Reliability{Ordered: true})
}

// HandleMessage routes one SCTP-delivered message for this channel's stream
// (spec.md §4.5: DCEP messages are consumed by the data-channel layer, user
// payloads surface to the application). Mirrors the PPI-empty-payload
// convention of spec.md §6: WebRTC String/Binary Empty PPIs carry a single
// zero byte standing in for a zero-length message.
func (d *DataChannel) HandleMessage(now time.Time, ppi sctp.PPI, data []byte) error {
	switch ppi {
	case sctp.PPIDCEP:
		return d.handleDCEP(now, data)
	case sctp.PPIString, sctp.PPIStringEmpty:
		d.deliverMessage(data, true, ppi == sctp.PPIStringEmpty)
		return nil
	case sctp.PPIBinary, sctp.PPIBinaryEmpty:
		d.deliverMessage(data, false, ppi == sctp.PPIBinaryEmpty)
		return nil
	default:
		return fmt.Errorf("datachannel: unexpected PPI %v on stream %d", ppi, d.id)
	}
}

func (d *DataChannel) deliverMessage(data []byte, isString, empty bool) {
	if empty {
		data = nil
	}
	d.messagesReceived++
	d.bytesReceived += uint64(len(data))
	d.eventQueue = append(d.eventQueue, Event{Kind: EventMessage, Data: data, IsString: isString})
}

func (d *DataChannel) handleDCEP(now time.Time, data []byte) error {
	msg, err := dcep.Parse(data)
	if err != nil {
		return fmt.Errorf("datachannel: parsing DCEP message: %w", err)
	}
	switch msg.(type) {
	case *dcep.ChannelAck:
		if d.state == StateConnecting {
			d.setState(StateOpen)
		}
	case *dcep.ChannelOpen:
		// A peer resending OPEN (e.g. its own ACK was lost) is answered
		// idempotently; this channel's state does not regress.
		if err := d.sendAck(now); err != nil {
			return err
		}
	default:
		return fmt.Errorf("datachannel: unhandled DCEP message %T", msg)
	}
	return nil
}

// Send transmits one application message (spec.md §6's empty-message PPI
// convention applies automatically for zero-length p).
func (d *DataChannel) Send(now time.Time, p []byte, isString bool) error {
	if d.state != StateOpen {
		return fmt.Errorf("datachannel: stream %d is %s, not open", d.id, d.state)
	}
	var ppi sctp.PPI
	switch {
	case !isString && len(p) > 0:
		ppi = sctp.PPIBinary
	case !isString:
		ppi = sctp.PPIBinaryEmpty
	case len(p) > 0:
		ppi = sctp.PPIString
	default:
		ppi = sctp.PPIStringEmpty
	}
	if err := d.assoc.SendMessage(now, d.id, ppi, p, d.reliability()); err != nil {
		return err
	}
	d.messagesSent++
	d.bytesSent += uint64(len(p))
	return nil
}

// Close begins the stream-reset handshake (spec.md §4.3 "Used to signal
// DataChannel close") and reports Closed to the local application right
// away: per spec.md's Open Questions, the source this is ported from emits
// the close event immediately rather than waiting on the peer's RE-CONFIG
// response, and this module follows that choice. HandleStreamReset still
// absorbs the eventual EventStreamClosed from the association without
// emitting a second Closed transition.
func (d *DataChannel) Close(now time.Time) {
	if d.state == StateClosing || d.state == StateClosed {
		return
	}
	d.setState(StateClosing)
	d.assoc.ResetStream(now, d.id)
	d.setState(StateClosed)
}

// HandleStreamReset absorbs the association's EventStreamClosed for this
// channel's stream id — fired either by our own RE-CONFIG completing or by
// a peer-initiated reset. A peer-initiated reset transitions straight to
// Closed even if Close was never called locally.
func (d *DataChannel) HandleStreamReset() {
	d.setState(StateClosed)
}

// PollEvent drains one queued Event, oldest first.
func (d *DataChannel) PollEvent() (Event, bool) {
	if len(d.eventQueue) == 0 {
		return Event{}, false
	}
	ev := d.eventQueue[0]
	d.eventQueue = d.eventQueue[1:]
	return ev, true
}
