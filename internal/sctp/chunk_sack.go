package sctp

import (
	"encoding/binary"
	"fmt"
)

// GapAckBlock is one (start, end) run of TSNs received beyond the
// cumulative ack point (RFC 4960 §3.3.4).
type GapAckBlock struct {
	Start uint16
	End   uint16
}

// ChunkSack is a SACK chunk: cumulative TSN ack plus gap-ack blocks
// (out-of-order received TSNs) and duplicate-TSN reports. Sent at most
// once per sack_delay or immediately on an out-of-order arrival
// (spec.md §4.3).
type ChunkSack struct {
	CumulativeTSNAck uint32
	AdvertisedWindow uint32
	GapAckBlocks     []GapAckBlock
	DuplicateTSN     []uint32
}

const chunkSackFixedLen = 12

func (c *ChunkSack) Type() ChunkType { return ChunkTypeSack }

func (c *ChunkSack) Marshal() ([]byte, error) {
	value := make([]byte, chunkSackFixedLen)
	binary.BigEndian.PutUint32(value[0:4], c.CumulativeTSNAck)
	binary.BigEndian.PutUint32(value[4:8], c.AdvertisedWindow)
	binary.BigEndian.PutUint16(value[8:10], uint16(len(c.GapAckBlocks)))
	binary.BigEndian.PutUint16(value[10:12], uint16(len(c.DuplicateTSN)))

	for _, g := range c.GapAckBlocks {
		b := make([]byte, 4)
		binary.BigEndian.PutUint16(b[0:2], g.Start)
		binary.BigEndian.PutUint16(b[2:4], g.End)
		value = append(value, b...)
	}
	for _, d := range c.DuplicateTSN {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, d)
		value = append(value, b...)
	}
	return marshalChunk(ChunkTypeSack, 0, value), nil
}

func (c *ChunkSack) Unmarshal(raw []byte) error {
	_, value, _, err := splitChunkValue(raw)
	if err != nil {
		return err
	}
	if len(value) < chunkSackFixedLen {
		return fmt.Errorf("sctp: SACK chunk too short: %d bytes", len(value))
	}
	c.CumulativeTSNAck = binary.BigEndian.Uint32(value[0:4])
	c.AdvertisedWindow = binary.BigEndian.Uint32(value[4:8])
	numGap := int(binary.BigEndian.Uint16(value[8:10]))
	numDup := int(binary.BigEndian.Uint16(value[10:12]))

	offset := chunkSackFixedLen
	for i := 0; i < numGap; i++ {
		if offset+4 > len(value) {
			return fmt.Errorf("sctp: SACK gap-ack block truncated")
		}
		c.GapAckBlocks = append(c.GapAckBlocks, GapAckBlock{
			Start: binary.BigEndian.Uint16(value[offset : offset+2]),
			End:   binary.BigEndian.Uint16(value[offset+2 : offset+4]),
		})
		offset += 4
	}
	for i := 0; i < numDup; i++ {
		if offset+4 > len(value) {
			return fmt.Errorf("sctp: SACK duplicate-TSN list truncated")
		}
		c.DuplicateTSN = append(c.DuplicateTSN, binary.BigEndian.Uint32(value[offset:offset+4]))
		offset += 4
	}
	return nil
}
