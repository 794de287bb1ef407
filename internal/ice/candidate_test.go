package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidatePriorityFormula(t *testing.T) {
	c := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}, 1, 65535)
	want := uint32(1<<24)*126 + uint32(1<<8)*65535 + (256 - 1)
	assert.Equal(t, want, c.Priority())
}

func TestCandidateMarshalUnmarshalRoundTrip(t *testing.T) {
	c := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}, 1, 65535)
	line := c.Marshal()

	parsed, err := UnmarshalCandidate(line)
	require.NoError(t, err)
	assert.Equal(t, c.Priority(), parsed.Priority())
	assert.Equal(t, c.Foundation, parsed.Foundation)
}

func TestFoundationGroupsByTypeAndAddress(t *testing.T) {
	a := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}, 1, 65535)
	b := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4001}, 1, 65535)
	c := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: 4000}, 1, 65535)

	assert.Equal(t, a.Foundation, b.Foundation, "same type+address, different port, same foundation")
	assert.NotEqual(t, a.Foundation, c.Foundation, "different address, different foundation")
}

func TestPeerReflexivePriorityIsPreserved(t *testing.T) {
	c := NewPeerReflexiveCandidate(&net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 5000}, 1, 999)
	assert.EqualValues(t, 999, c.Priority())
}
