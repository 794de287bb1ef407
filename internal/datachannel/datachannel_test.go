package datachannel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sansio-rtc/rtc/internal/sctp"
)

func establish(t *testing.T) (client, server *sctp.Association, now time.Time) {
	t.Helper()
	now = time.Unix(0, 0)
	var err error
	client, err = sctp.New(sctp.Config{Role: sctp.RoleClient})
	require.NoError(t, err)
	server, err = sctp.New(sctp.Config{Role: sctp.RoleServer})
	require.NoError(t, err)
	drain(t, client, server, now)
	drain(t, server, client, now)
	drain(t, client, server, now)
	drain(t, server, client, now)
	_, _ = client.PollEvent()
	_, _ = server.PollEvent()
	return
}

func drain(t *testing.T, from, to *sctp.Association, now time.Time) int {
	t.Helper()
	n := 0
	for {
		raw, ok := from.PollTransmit()
		if !ok {
			break
		}
		require.NoError(t, to.HandleRead(now, raw))
		n++
	}
	return n
}

// deliver pumps every queued message from assoc into the right DataChannel,
// given a lookup by stream id — standing in for the future pipeline/rtc
// routing layer.
func deliver(t *testing.T, assoc *sctp.Association, now time.Time, byID map[uint16]*DataChannel) {
	t.Helper()
	for {
		ev, ok := assoc.PollEvent()
		if !ok {
			break
		}
		switch ev.Kind {
		case sctp.EventMessage:
			dc, ok := byID[ev.StreamID]
			require.True(t, ok, "no DataChannel registered for stream %d", ev.StreamID)
			require.NoError(t, dc.HandleMessage(now, ev.PPI, ev.Data))
		case sctp.EventStreamClosed:
			if dc, ok := byID[ev.StreamID]; ok {
				dc.HandleStreamReset()
			}
		}
	}
}

func TestOpenHandshakeTransitionsToOpen(t *testing.T) {
	client, server, now := establish(t)

	clientDC, err := New(client, 1, Config{Label: "chat", ChannelType: 0x00})
	require.NoError(t, err)
	require.Equal(t, StateConnecting, clientDC.State())
	require.NoError(t, clientDC.Open(now))

	drain(t, client, server, now)

	var serverDC *DataChannel
	for {
		ev, ok := server.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == sctp.EventMessage && ev.PPI == sctp.PPIDCEP {
			serverDC, err = Accept(now, server, ev.StreamID, ev.Data)
			require.NoError(t, err)
		}
	}
	require.NotNil(t, serverDC)
	assert.Equal(t, StateOpen, serverDC.State())

	drain(t, server, client, now)
	deliver(t, client, now, map[uint16]*DataChannel{1: clientDC})
	assert.Equal(t, StateOpen, clientDC.State())

	ev, ok := clientDC.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventStateChange, ev.Kind)
	assert.Equal(t, StateOpen, ev.State)
}

func TestMessageRoundTripAndCounters(t *testing.T) {
	client, server, now := establish(t)

	clientDC, err := New(client, 3, Config{Label: "data"})
	require.NoError(t, err)
	require.NoError(t, clientDC.Open(now))
	drain(t, client, server, now)

	var serverDC *DataChannel
	for {
		ev, ok := server.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == sctp.EventMessage && ev.PPI == sctp.PPIDCEP {
			serverDC, err = Accept(now, server, ev.StreamID, ev.Data)
			require.NoError(t, err)
		}
	}
	require.NotNil(t, serverDC)
	drain(t, server, client, now)
	deliver(t, client, now, map[uint16]*DataChannel{3: clientDC})
	require.Equal(t, StateOpen, clientDC.State())

	require.NoError(t, clientDC.Send(now, []byte("hello"), false))
	drain(t, client, server, now)
	deliver(t, server, now, map[uint16]*DataChannel{3: serverDC})

	ev, ok := serverDC.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, []byte("hello"), ev.Data)
	assert.False(t, ev.IsString)

	stats := clientDC.Stats()
	assert.EqualValues(t, 1, stats.MessagesSent)
	assert.EqualValues(t, 5, stats.BytesSent)

	serverStats := serverDC.Stats()
	assert.EqualValues(t, 1, serverStats.MessagesReceived)
	assert.EqualValues(t, 5, serverStats.BytesReceived)
}

func TestEmptyMessageRoundTrip(t *testing.T) {
	client, server, now := establish(t)

	clientDC, err := New(client, 5, Config{Label: "empty", Negotiated: true})
	require.NoError(t, err)
	serverDC, err := New(server, 5, Config{Label: "empty", Negotiated: true})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, clientDC.State())
	assert.Equal(t, StateOpen, serverDC.State())

	require.NoError(t, clientDC.Send(now, nil, true))
	drain(t, client, server, now)
	deliver(t, server, now, map[uint16]*DataChannel{5: serverDC})

	ev, ok := serverDC.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.True(t, ev.IsString)
	assert.Empty(t, ev.Data)
}

func TestCloseEmitsImmediatelyWithoutWaitingForPeer(t *testing.T) {
	client, _, now := establish(t)

	dc, err := New(client, 7, Config{Label: "x", Negotiated: true})
	require.NoError(t, err)
	require.Equal(t, StateOpen, dc.State())

	dc.Close(now)
	assert.Equal(t, StateClosed, dc.State())

	var sawClosing, sawClosed bool
	for {
		ev, ok := dc.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == EventStateChange && ev.State == StateClosing {
			sawClosing = true
		}
		if ev.Kind == EventStateChange && ev.State == StateClosed {
			sawClosed = true
		}
	}
	assert.True(t, sawClosing)
	assert.True(t, sawClosed)
}

func TestPeerInitiatedResetClosesChannel(t *testing.T) {
	client, server, now := establish(t)

	clientDC, err := New(client, 9, Config{Label: "y", Negotiated: true})
	require.NoError(t, err)
	serverDC, err := New(server, 9, Config{Label: "y", Negotiated: true})
	require.NoError(t, err)

	clientDC.Close(now)
	drain(t, client, server, now)
	deliver(t, server, now, map[uint16]*DataChannel{9: serverDC})
	assert.Equal(t, StateClosed, serverDC.State())
}
