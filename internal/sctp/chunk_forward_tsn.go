package sctp

import (
	"encoding/binary"
	"fmt"
)

// ForwardTSNStream names one stream's sequence number being skipped past
// by a FORWARD-TSN (RFC 3758 §3.2).
type ForwardTSNStream struct {
	StreamID  uint16
	StreamSeq uint16
}

// ChunkForwardTSN signals "skip these TSNs" to the peer, emitted by
// partial-reliable channels once a message is abandoned (reliability
// parameter exceeded, spec.md §4.3/§4.3 "Reliability modes").
type ChunkForwardTSN struct {
	NewCumulativeTSN uint32
	Streams          []ForwardTSNStream
}

const chunkForwardTSNFixedLen = 4

func (c *ChunkForwardTSN) Type() ChunkType { return ChunkTypeForwardTSN }

func (c *ChunkForwardTSN) Marshal() ([]byte, error) {
	value := make([]byte, chunkForwardTSNFixedLen+4*len(c.Streams))
	binary.BigEndian.PutUint32(value[0:4], c.NewCumulativeTSN)
	for i, s := range c.Streams {
		off := chunkForwardTSNFixedLen + i*4
		binary.BigEndian.PutUint16(value[off:off+2], s.StreamID)
		binary.BigEndian.PutUint16(value[off+2:off+4], s.StreamSeq)
	}
	return marshalChunk(ChunkTypeForwardTSN, 0, value), nil
}

func (c *ChunkForwardTSN) Unmarshal(raw []byte) error {
	_, value, _, err := splitChunkValue(raw)
	if err != nil {
		return err
	}
	if len(value) < chunkForwardTSNFixedLen {
		return fmt.Errorf("sctp: FORWARD-TSN chunk too short: %d bytes", len(value))
	}
	c.NewCumulativeTSN = binary.BigEndian.Uint32(value[0:4])
	for off := chunkForwardTSNFixedLen; off+4 <= len(value); off += 4 {
		c.Streams = append(c.Streams, ForwardTSNStream{
			StreamID:  binary.BigEndian.Uint16(value[off : off+2]),
			StreamSeq: binary.BigEndian.Uint16(value[off+2 : off+4]),
		})
	}
	return nil
}
