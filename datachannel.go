package rtc

import (
	"time"

	"github.com/sansio-rtc/rtc/internal/dcep"
	"github.com/sansio-rtc/rtc/internal/datachannel"
)

// DataChannel is the application-facing handle for one internal
// datachannel.DataChannel, adding the label/protocol/ID accessors and
// typed Send/SendText calls spec.md §3 describes at the API surface,
// while leaving the DCEP/lifecycle mechanics to internal/datachannel.
type DataChannel struct {
	inner *datachannel.DataChannel
	pc    *PeerConnection
}

// DataChannelInit mirrors spec.md §3's DataChannel.Config at the API
// surface: ordered + reliability mode collapse into ChannelType exactly
// as RFC 8832 encodes them (internal/dcep.ChannelType).
type DataChannelInit struct {
	Ordered              bool
	MaxRetransmits        *uint16
	MaxPacketLifeTime     *uint16
	Protocol              string
	Negotiated            bool
	ID                    *uint16
}

func (i DataChannelInit) channelType() dcep.ChannelType {
	switch {
	case i.MaxRetransmits != nil && !i.Ordered:
		return dcep.ChannelTypePartialReliableRexmitUnordered
	case i.MaxRetransmits != nil:
		return dcep.ChannelTypePartialReliableRexmit
	case i.MaxPacketLifeTime != nil && !i.Ordered:
		return dcep.ChannelTypePartialReliableTimedUnordered
	case i.MaxPacketLifeTime != nil:
		return dcep.ChannelTypePartialReliableTimed
	case !i.Ordered:
		return dcep.ChannelTypeReliableUnordered
	default:
		return dcep.ChannelTypeReliable
	}
}

func (i DataChannelInit) reliabilityParameter() uint32 {
	switch {
	case i.MaxRetransmits != nil:
		return uint32(*i.MaxRetransmits)
	case i.MaxPacketLifeTime != nil:
		return uint32(*i.MaxPacketLifeTime)
	default:
		return 0
	}
}

// ID returns the SCTP stream id this channel is keyed by.
func (d *DataChannel) ID() uint16 { return d.inner.ID() }

// Label returns the channel's configured label.
func (d *DataChannel) Label() string { return d.inner.Config().Label }

// Protocol returns the channel's configured subprotocol.
func (d *DataChannel) Protocol() string { return d.inner.Config().Protocol }

// ReadyState reports the current lifecycle state (spec.md §3).
func (d *DataChannel) ReadyState() datachannel.State { return d.inner.State() }

// Stats returns the messages/bytes sent/received counters.
func (d *DataChannel) Stats() datachannel.Stats { return d.inner.Stats() }

// Send transmits a binary application message.
func (d *DataChannel) Send(now time.Time, p []byte) error {
	if err := d.inner.Send(now, p, false); err != nil {
		return newInvalidState("%w", err)
	}
	return d.pc.flush(now)
}

// SendText transmits a UTF-8 string application message.
func (d *DataChannel) SendText(now time.Time, s string) error {
	if err := d.inner.Send(now, []byte(s), true); err != nil {
		return newInvalidState("%w", err)
	}
	return d.pc.flush(now)
}

// Close begins closing the channel (spec.md §3's Open Question: this
// reports Closed to the local application immediately, matching
// internal/datachannel.Close's documented resolution).
func (d *DataChannel) Close(now time.Time) error {
	d.inner.Close(now)
	return d.pc.flush(now)
}
