package dcep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelOpenRoundTrip(t *testing.T) {
	orig := &ChannelOpen{
		ChannelType:          ChannelTypeReliable,
		Priority:             256,
		ReliabilityParameter: 0,
		Label:                "data",
		Protocol:             "",
	}
	raw, err := orig.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	got, ok := parsed.(*ChannelOpen)
	require.True(t, ok)
	assert.Equal(t, orig, got)
}

func TestChannelOpenPartialReliable(t *testing.T) {
	orig := &ChannelOpen{
		ChannelType:          ChannelTypePartialReliableRexmitUnordered,
		ReliabilityParameter: 3,
		Label:                "unreliable",
	}
	raw, err := orig.Marshal()
	require.NoError(t, err)

	var got ChannelOpen
	require.NoError(t, got.Unmarshal(raw))
	assert.False(t, got.ChannelType.Ordered())
	assert.Equal(t, ReliabilityPartialRexmit, got.ChannelType.Reliability())
	assert.Equal(t, uint32(3), got.ReliabilityParameter)
}

func TestChannelAckRoundTrip(t *testing.T) {
	raw, err := (&ChannelAck{}).Marshal()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	_, ok := parsed.(*ChannelAck)
	assert.True(t, ok)
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse([]byte{0xff})
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)
}
