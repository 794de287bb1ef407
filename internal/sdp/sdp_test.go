package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteOffer = `v=0
o=- 1 1 IN IP4 0.0.0.0
s=-
t=0 0
a=group:BUNDLE 0 1
a=ice-ufrag:abcd
a=ice-pwd:0123456789012345678901234
a=fingerprint:sha-256 AA:BB:CC:DD
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=mid:0
a=sendrecv
a=ssrc:1111 cname:x
a=candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host
m=application 9 DTLS/SCTP 5000
c=IN IP4 0.0.0.0
a=mid:1
`

func TestParseRemote(t *testing.T) {
	r, err := ParseRemote(remoteOffer)
	require.NoError(t, err)
	assert.Equal(t, "abcd", r.IceUfrag)
	assert.Equal(t, "0123456789012345678901234", r.IcePwd)
	assert.Equal(t, "sha-256", r.FingerprintHash)
	assert.Equal(t, "AA:BB:CC:DD", r.FingerprintValue)
	require.Len(t, r.Media, 2)
	assert.Equal(t, "0", r.Media[0].Mid)
	assert.Equal(t, "audio", r.Media[0].Kind)
	assert.Equal(t, "sendrecv", r.Media[0].Direction)
	assert.Equal(t, []uint32{1111}, r.Media[0].SSRCs)
	require.Len(t, r.Candidates, 1)
	assert.Equal(t, "10.0.0.1", r.Candidates[0].Address)
}

func TestParseRemoteMissingUfragErrors(t *testing.T) {
	_, err := ParseRemote("v=0\no=- 1 1 IN IP4 0.0.0.0\ns=-\nt=0 0\n")
	require.Error(t, err)
}

func TestBuildLocalRoundTrips(t *testing.T) {
	raw, err := BuildLocal(Local{
		IceUfrag:         "xyz",
		IcePwd:           "9876543210987654321098765",
		FingerprintHash:  "sha-256",
		FingerprintValue: "11:22:33",
		SetupRole:        "actpass",
		DataChannelMid:   "1",
		Media: []LocalMedia{
			{Mid: "0", Kind: "audio", Direction: "sendrecv", SSRCs: []uint32{42}},
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(raw, "a=ice-ufrag:xyz"))
	assert.True(t, strings.Contains(raw, "a=mid:0"))
	assert.True(t, strings.Contains(raw, "a=mid:1"))
	assert.True(t, strings.Contains(raw, "m=application"))

	parsed, err := ParseRemote(raw)
	require.NoError(t, err)
	assert.Equal(t, "xyz", parsed.IceUfrag)
	require.Len(t, parsed.Media, 2)
}
