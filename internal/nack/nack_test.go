package nack

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiveLogFindsGaps(t *testing.T) {
	log, err := NewReceiveLog(128)
	require.NoError(t, err)

	for _, seq := range []uint16{1, 2, 4, 5, 7} {
		log.Add(seq)
	}

	missing := log.MissingSeqNumbers(0)
	assert.Equal(t, []uint16{3, 6}, missing)
}

func TestReceiveLogRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewReceiveLog(100)
	assert.Error(t, err)
}

func TestSendBufferResend(t *testing.T) {
	buf, err := NewSendBuffer(64)
	require.NoError(t, err)

	for seq := uint16(1); seq <= 5; seq++ {
		buf.Add(&rtp.Packet{Header: rtp.Header{SequenceNumber: seq}})
	}

	pkt := buf.Get(3)
	require.NotNil(t, pkt)
	assert.EqualValues(t, 3, pkt.SequenceNumber)

	assert.Nil(t, buf.Get(999))
}
