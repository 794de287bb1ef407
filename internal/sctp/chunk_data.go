package sctp

import (
	"encoding/binary"
	"fmt"
)

// PPI is the Payload Protocol Identifier tagging an SCTP payload's kind
// (spec.md §3/GLOSSARY): DCEP, string, binary, and their "empty" variants
// (RFC 8831 §6 requires a single zero byte plus the *-Empty PPI when the
// application payload is zero-length, since some middleboxes drop
// zero-length DATA chunks).
type PPI uint32

const (
	PPIDCEP         PPI = 50
	PPIString       PPI = 51
	PPIBinary       PPI = 53
	PPIStringEmpty  PPI = 56
	PPIBinaryEmpty  PPI = 57
)

func (p PPI) String() string {
	switch p {
	case PPIDCEP:
		return "DCEP"
	case PPIString:
		return "string"
	case PPIBinary:
		return "binary"
	case PPIStringEmpty:
		return "string-empty"
	case PPIBinaryEmpty:
		return "binary-empty"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(p))
	}
}

const (
	dataFlagEnd       byte = 1 << 0
	dataFlagBeginning byte = 1 << 1
	dataFlagUnordered byte = 1 << 2
)

// ChunkData is a DATA chunk (RFC 4960 §3.3.1): carries one TSN, the
// stream id/sequence number it belongs to, a PPI, and the
// Unordered/Beginning/End fragmentation bits.
type ChunkData struct {
	TSN        uint32
	StreamID   uint16
	StreamSeq  uint16
	PPI        PPI
	Unordered  bool
	Beginning  bool
	Ending     bool
	UserData   []byte

	// retransmit bookkeeping, not on the wire: set by the association when
	// the chunk is queued, read back when deciding retransmission/ACK.
	retransmitCount int
	sentAt          int64 // unix nano of last (re)transmission, caller-time
	acked           bool
	submittedAtNano int64 // when first handed to the association, for timed partial reliability
}

const chunkDataHeaderLen = 12

func (c *ChunkData) Type() ChunkType { return ChunkTypeData }

func (c *ChunkData) Marshal() ([]byte, error) {
	value := make([]byte, chunkDataHeaderLen+len(c.UserData))
	binary.BigEndian.PutUint32(value[0:4], c.TSN)
	binary.BigEndian.PutUint16(value[4:6], c.StreamID)
	binary.BigEndian.PutUint16(value[6:8], c.StreamSeq)
	binary.BigEndian.PutUint32(value[8:12], uint32(c.PPI))
	copy(value[chunkDataHeaderLen:], c.UserData)

	var flags byte
	if c.Ending {
		flags |= dataFlagEnd
	}
	if c.Beginning {
		flags |= dataFlagBeginning
	}
	if c.Unordered {
		flags |= dataFlagUnordered
	}
	return marshalChunk(ChunkTypeData, flags, value), nil
}

func (c *ChunkData) Unmarshal(raw []byte) error {
	hdr, value, _, err := splitChunkValue(raw)
	if err != nil {
		return err
	}
	if len(value) < chunkDataHeaderLen {
		return fmt.Errorf("sctp: DATA chunk too short: %d bytes", len(value))
	}
	c.TSN = binary.BigEndian.Uint32(value[0:4])
	c.StreamID = binary.BigEndian.Uint16(value[4:6])
	c.StreamSeq = binary.BigEndian.Uint16(value[6:8])
	c.PPI = PPI(binary.BigEndian.Uint32(value[8:12]))
	c.UserData = append([]byte(nil), value[chunkDataHeaderLen:]...)
	c.Ending = hdr.Flags&dataFlagEnd != 0
	c.Beginning = hdr.Flags&dataFlagBeginning != 0
	c.Unordered = hdr.Flags&dataFlagUnordered != 0
	return nil
}

// DataLen returns the on-wire size this chunk occupies, used for flight
// size / congestion-window accounting (RFC 4960 §7.2.1 counts the chunk
// including header and padding).
func (c *ChunkData) DataLen() int {
	n := chunkDataHeaderLen + len(c.UserData)
	return n + paddingFor(n)
}
