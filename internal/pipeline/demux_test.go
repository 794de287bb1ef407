package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRanges(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want PacketClass
	}{
		{"stun-low", []byte{0x00, 0x01}, ClassSTUN},
		{"stun-high", []byte{0x03, 0xff}, ClassSTUN},
		{"dtls-low", []byte{20, 0x00}, ClassDTLS},
		{"dtls-high", []byte{63, 0x00}, ClassDTLS},
		{"rtcp", []byte{128, 200}, ClassRTCP},
		{"rtcp-high", []byte{191, 223}, ClassRTCP},
		{"rtp", []byte{128, 96}, ClassRTP},
		{"rtp-high", []byte{191, 224}, ClassRTP},
		{"empty", []byte{}, ClassUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.buf))
		})
	}
}

func TestPeekRTPHeader(t *testing.T) {
	buf := make([]byte, 12+16)
	buf[0] = 0x80 // version 2, no CSRC, no extension
	buf[1] = 111  // PT
	buf[2], buf[3] = 0x04, 0xd2
	buf[8], buf[9], buf[10], buf[11] = 0x11, 0x22, 0x33, 0x44

	headerLen, seq, ssrc, ok := peekRTPHeader(buf)
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(12, headerLen)
	assert.Equal(uint16(0x04d2), seq)
	assert.Equal(uint32(0x11223344), ssrc)
}

func TestPeekRTCPSSRC(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 0x80
	buf[1] = 200
	buf[4], buf[5], buf[6], buf[7] = 0xaa, 0xbb, 0xcc, 0xdd
	ssrc, ok := peekRTCPSSRC(buf)
	assert.True(t, ok)
	assert.Equal(t, uint32(0xaabbccdd), ssrc)
}
