package sctp

import "encoding/binary"

// RE-CONFIG parameter types (RFC 6525 §3.1-3.2), added to the generic TLV
// parameter space chunk_init.go already defines.
const (
	paramTypeOutgoingSSNResetRequest paramType = 13
	paramTypeIncomingSSNResetRequest paramType = 14
	paramTypeReconfigResponse        paramType = 16
)

// OutgoingResetRequest asks the peer to reset one or more outgoing
// streams (RFC 6525 §3.1), used to signal DataChannel close
// (spec.md §4.3 "Stream reset").
type OutgoingResetRequest struct {
	ReqSeqNum  uint32
	RespSeqNum uint32
	LastTSN    uint32
	StreamIDs  []uint16
}

func (r OutgoingResetRequest) marshal() []byte {
	v := make([]byte, 12+2*len(r.StreamIDs))
	binary.BigEndian.PutUint32(v[0:4], r.ReqSeqNum)
	binary.BigEndian.PutUint32(v[4:8], r.RespSeqNum)
	binary.BigEndian.PutUint32(v[8:12], r.LastTSN)
	for i, id := range r.StreamIDs {
		binary.BigEndian.PutUint16(v[12+2*i:14+2*i], id)
	}
	return marshalParam(paramTypeOutgoingSSNResetRequest, v)
}

func parseOutgoingResetRequest(v []byte) (OutgoingResetRequest, bool) {
	if len(v) < 12 {
		return OutgoingResetRequest{}, false
	}
	r := OutgoingResetRequest{
		ReqSeqNum:  binary.BigEndian.Uint32(v[0:4]),
		RespSeqNum: binary.BigEndian.Uint32(v[4:8]),
		LastTSN:    binary.BigEndian.Uint32(v[8:12]),
	}
	for off := 12; off+2 <= len(v); off += 2 {
		r.StreamIDs = append(r.StreamIDs, binary.BigEndian.Uint16(v[off:off+2]))
	}
	return r, true
}

// ReconfigResult mirrors RFC 6525 §4.2's result codes; only the two this
// association ever produces are named.
type ReconfigResult uint32

const (
	ReconfigResultSuccess ReconfigResult = 1
	ReconfigResultDenied  ReconfigResult = 3
)

// ReconfigResponse answers an OutgoingResetRequest (RFC 6525 §3.2).
type ReconfigResponse struct {
	RespSeqNum uint32
	Result     ReconfigResult
}

func (r ReconfigResponse) marshal() []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint32(v[0:4], r.RespSeqNum)
	binary.BigEndian.PutUint32(v[4:8], uint32(r.Result))
	return marshalParam(paramTypeReconfigResponse, v)
}

func parseReconfigResponse(v []byte) (ReconfigResponse, bool) {
	if len(v) < 8 {
		return ReconfigResponse{}, false
	}
	return ReconfigResponse{
		RespSeqNum: binary.BigEndian.Uint32(v[0:4]),
		Result:     ReconfigResult(binary.BigEndian.Uint32(v[4:8])),
	}, true
}

// ChunkReConfig carries one or two re-configuration parameters
// (RFC 6525 §3.1). This association only ever sends a single
// OutgoingResetRequest or a single ReconfigResponse per chunk, which
// covers spec.md's stream-reset scenario end to end.
type ChunkReConfig struct {
	OutgoingReset *OutgoingResetRequest
	Response      *ReconfigResponse
}

func (c *ChunkReConfig) Type() ChunkType { return ChunkTypeReConfig }

func (c *ChunkReConfig) Marshal() ([]byte, error) {
	var value []byte
	if c.OutgoingReset != nil {
		value = append(value, c.OutgoingReset.marshal()...)
	}
	if c.Response != nil {
		value = append(value, c.Response.marshal()...)
	}
	return marshalChunk(ChunkTypeReConfig, 0, value), nil
}

func (c *ChunkReConfig) Unmarshal(raw []byte) error {
	_, value, _, err := splitChunkValue(raw)
	if err != nil {
		return err
	}
	params, err := parseParams(value)
	if err != nil {
		return err
	}
	for _, p := range params {
		switch p.typ {
		case paramTypeOutgoingSSNResetRequest:
			if r, ok := parseOutgoingResetRequest(p.value); ok {
				c.OutgoingReset = &r
			}
		case paramTypeReconfigResponse:
			if r, ok := parseReconfigResponse(p.value); ok {
				c.Response = &r
			}
		}
	}
	return nil
}
