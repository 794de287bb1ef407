package dcep

import "fmt"

// ChannelAck is the DATA_CHANNEL_ACK message (RFC 8832 §5.2): a bare
// one-byte message type, sent by the peer that received ChannelOpen.
type ChannelAck struct{}

func (c *ChannelAck) MessageType() MessageType { return MessageTypeAck }

func (c *ChannelAck) Marshal() ([]byte, error) {
	return []byte{byte(MessageTypeAck)}, nil
}

func (c *ChannelAck) Unmarshal(raw []byte) error {
	if len(raw) < 1 || MessageType(raw[0]) != MessageTypeAck {
		return fmt.Errorf("dcep: not a ChannelAck message")
	}
	return nil
}
