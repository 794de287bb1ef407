package rtc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sansio-rtc/rtc/internal/datachannel"
	"github.com/sansio-rtc/rtc/internal/transport"
)

func fourTuple() transport.FourTuple {
	return transport.FourTuple{
		LocalAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000},
		PeerAddr:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5001},
	}
}

func newTestConnection(t *testing.T, controlling bool) *PeerConnection {
	t.Helper()
	pc, err := New(Configuration{IsControlling: controlling}, fourTuple())
	require.NoError(t, err)
	return pc
}

func TestOfferAnswerRoundTripBindsTransceivers(t *testing.T) {
	offerer := newTestConnection(t, true)
	answerer := newTestConnection(t, false)

	tr := offerer.AddTransceiver(KindAudio, DirectionSendRecv)
	tr.sender.Bind(0xaaaaaaaa, 111)

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)

	require.NoError(t, answerer.SetRemoteDescription(offer))
	require.Len(t, answerer.transceivers, 1)
	got := answerer.transceivers[0]
	assert.Equal(t, "0", got.Mid())
	assert.Equal(t, KindAudio, got.Kind())
	assert.True(t, got.receiver.bound)
	assert.Equal(t, uint32(0xaaaaaaaa), got.receiver.SSRC())

	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetRemoteDescription(answer))
}

func TestAssignMidIsImmutableAfterFirstNegotiation(t *testing.T) {
	tr := newRtpTransceiver(KindVideo, DirectionSendRecv)
	tr.assignMid("0")
	tr.assignMid("99")
	assert.Equal(t, "0", tr.Mid())
}

func TestDataChannelStreamIDsFollowControllingParity(t *testing.T) {
	controlling := newTestConnection(t, true)
	controlled := newTestConnection(t, false)

	assert.Equal(t, uint16(0), controlling.allocStreamID())
	assert.Equal(t, uint16(2), controlling.allocStreamID())
	assert.Equal(t, uint16(1), controlled.allocStreamID())
	assert.Equal(t, uint16(3), controlled.allocStreamID())
}

func TestCreateDataChannelRejectsDuplicateID(t *testing.T) {
	pc := newTestConnection(t, true)
	now := time.Unix(0, 0)
	id := uint16(4)

	_, err := pc.CreateDataChannel(now, "chat", DataChannelInit{Ordered: true, ID: &id, Negotiated: true})
	require.NoError(t, err)

	_, err = pc.CreateDataChannel(now, "chat2", DataChannelInit{Ordered: true, ID: &id, Negotiated: true})
	require.Error(t, err)
	var invalidAccess *InvalidAccessError
	assert.ErrorAs(t, err, &invalidAccess)
}

func TestSequenceNumbersToNackPairsRoundTrip(t *testing.T) {
	missing := []uint16{5, 6, 8, 21, 22}
	pairs := sequenceNumbersToNackPairs(missing)
	got := nackPairsToSeqNumbers(pairs)
	assert.Equal(t, missing, got)
}

func TestSequenceNumbersToNackPairsSplitsBeyondBLPWindow(t *testing.T) {
	missing := []uint16{0, 20}
	pairs := sequenceNumbersToNackPairs(missing)
	require.Len(t, pairs, 2)
	assert.Equal(t, uint16(0), pairs[0].PacketID)
	assert.Equal(t, uint16(20), pairs[1].PacketID)
}

func TestToNTPMatchesUnixSeconds(t *testing.T) {
	now := time.Unix(1700000000, 500000000)
	ntp := toNTP(now)
	secs := ntp >> 32
	assert.Equal(t, uint64(1700000000+ntpEpochOffset), secs)
}

func TestErrorsUnwrap(t *testing.T) {
	base := newInvalidState("bad state %s", "x")
	var state *InvalidStateError
	require.ErrorAs(t, base, &state)
	assert.Contains(t, base.Error(), "InvalidStateError")

	access := newInvalidAccess("bad access")
	var accessErr *InvalidAccessError
	require.ErrorAs(t, access, &accessErr)

	mod := newInvalidModification("bad mod")
	var modErr *InvalidModificationError
	require.ErrorAs(t, mod, &modErr)

	syn := newSyntaxError("bad syntax")
	var synErr *SyntaxError
	require.ErrorAs(t, syn, &synErr)
}

func TestDataChannelEventKind(t *testing.T) {
	assert.Equal(t, EventDataChannelClose, dataChannelEventKind(datachannel.EventStateChange, datachannel.StateClosed))
	assert.Equal(t, EventDataChannelOpen, dataChannelEventKind(datachannel.EventStateChange, datachannel.StateOpen))
}

func TestSenderReportRoundTripsThroughReceiver(t *testing.T) {
	s := newRtpSender()
	s.Bind(0x2, 96)
	r := newRtpReceiver()
	r.Bind(0x2, 96)

	now := time.Unix(100, 0)
	ntp := toNTP(now)
	sr := s.senderReport(ntp, rtpTimestamp(now))
	r.handleSenderReport(now, &sr)

	assert.Equal(t, ntp, r.lastSRNTP)
	assert.Equal(t, now, r.lastSRTime)

	rr := r.receptionReport()
	assert.Equal(t, uint32(0x2), rr.SSRC)
}
