package dcep

import (
	"encoding/binary"
	"fmt"
)

// ChannelOpen is the DATA_CHANNEL_OPEN message (RFC 8832 §5.1), with a
// full Marshal implementation since this module both sends and receives
// channel-open messages (an SCTP client that only ever received OPEN
// would have no need to marshal one).
type ChannelOpen struct {
	ChannelType          ChannelType
	Priority             uint16
	ReliabilityParameter uint32
	Label                string
	Protocol             string
}

const channelOpenHeaderLen = 12

func (c *ChannelOpen) MessageType() MessageType { return MessageTypeOpen }

func (c *ChannelOpen) Marshal() ([]byte, error) {
	raw := make([]byte, channelOpenHeaderLen+len(c.Label)+len(c.Protocol))
	raw[0] = byte(MessageTypeOpen)
	raw[1] = byte(c.ChannelType)
	binary.BigEndian.PutUint16(raw[2:4], c.Priority)
	binary.BigEndian.PutUint32(raw[4:8], c.ReliabilityParameter)
	binary.BigEndian.PutUint16(raw[8:10], uint16(len(c.Label)))
	binary.BigEndian.PutUint16(raw[10:12], uint16(len(c.Protocol)))
	copy(raw[channelOpenHeaderLen:], c.Label)
	copy(raw[channelOpenHeaderLen+len(c.Label):], c.Protocol)
	return raw, nil
}

func (c *ChannelOpen) Unmarshal(raw []byte) error {
	if len(raw) < channelOpenHeaderLen {
		return fmt.Errorf("dcep: ChannelOpen too short: %d bytes", len(raw))
	}
	c.ChannelType = ChannelType(raw[1])
	c.Priority = binary.BigEndian.Uint16(raw[2:4])
	c.ReliabilityParameter = binary.BigEndian.Uint32(raw[4:8])
	labelLen := binary.BigEndian.Uint16(raw[8:10])
	protoLen := binary.BigEndian.Uint16(raw[10:12])
	want := channelOpenHeaderLen + int(labelLen) + int(protoLen)
	if len(raw) < want {
		return fmt.Errorf("dcep: ChannelOpen label/protocol truncated: have %d want %d", len(raw), want)
	}
	c.Label = string(raw[channelOpenHeaderLen : channelOpenHeaderLen+labelLen])
	c.Protocol = string(raw[channelOpenHeaderLen+labelLen : want])
	return nil
}
