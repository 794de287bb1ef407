// Package dcep implements the Data Channel Establishment Protocol
// (RFC 8832): the DATA_CHANNEL_OPEN / DATA_CHANNEL_ACK messages carried as
// SCTP payload (spec.md §4.5 DCEP, §6). This is a pure codec package — it
// has no notion of a stream or association, matching how internal/sctp and
// internal/datachannel keep protocol codecs separate from state machines.
package dcep

import "fmt"

// MessageType is the first byte of every DCEP message.
type MessageType byte

const (
	MessageTypeAck  MessageType = 0x02
	MessageTypeOpen MessageType = 0x03
)

// Message is a parsed DCEP message.
type Message interface {
	Marshal() ([]byte, error)
	MessageType() MessageType
}

// Parse dispatches on the leading type byte and returns a fully
// populated message.
func Parse(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("dcep: message is empty")
	}
	switch MessageType(raw[0]) {
	case MessageTypeOpen:
		m := &ChannelOpen{}
		if err := m.Unmarshal(raw); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeAck:
		m := &ChannelAck{}
		if err := m.Unmarshal(raw); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("dcep: unknown message type %#x", raw[0])
	}
}
