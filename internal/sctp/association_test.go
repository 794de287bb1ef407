package sctp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, from, to *Association, now time.Time) int {
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

func TestHandshakeEstablishes(t *testing.T) {
	now := time.Unix(0, 0)
	client, err := New(Config{Role: RoleClient})
	require.NoError(t, err)
	server, err := New(Config{Role: RoleServer})
	require.NoError(t, err)

	// INIT -> server
	drain(t, client, server, now)
	// INIT-ACK -> client
	drain(t, server, client, now)
	// COOKIE-ECHO -> server
	drain(t, client, server, now)
	// COOKIE-ACK -> client
	drain(t, server, client, now)

	assert.Equal(t, StateEstablished, client.State())
	assert.Equal(t, StateEstablished, server.State())

	ev, ok := client.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventEstablished, ev.Kind)

	ev, ok = server.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventEstablished, ev.Kind)
}

func establish(t *testing.T) (client, server *Association, now time.Time) {
	t.Helper()
	now = time.Unix(0, 0)
	var err error
	client, err = New(Config{Role: RoleClient})
	require.NoError(t, err)
	server, err = New(Config{Role: RoleServer})
	require.NoError(t, err)
	drain(t, client, server, now)
	drain(t, server, client, now)
	drain(t, client, server, now)
	drain(t, server, client, now)
	_, _ = client.PollEvent()
	_, _ = server.PollEvent()
	return
}

func TestDataChannelEcho(t *testing.T) {
	client, server, now := establish(t)

	require.NoError(t, client.SendMessage(now, 1, PPIString, []byte("hello"), Reliability{Ordered: true}))
	drain(t, client, server, now)

	ev, ok := server.PollEvent()
	require.True(t, ok)
	require.Equal(t, EventStreamOpened, ev.Kind)
	ev, ok = server.PollEvent()
	require.True(t, ok)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "hello", string(ev.Data))
	assert.Equal(t, PPIString, ev.PPI)

	// server's SACK flows back to client once the 200ms SACK delay has elapsed.
	now = now.Add(250 * time.Millisecond)
	server.HandleTimeout(now)
	drain(t, server, client, now)

	// server echoes back
	require.NoError(t, server.SendMessage(now, 1, PPIString, []byte("hello"), Reliability{Ordered: true}))
	drain(t, server, client, now)

	ev, ok = client.PollEvent()
	require.True(t, ok)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "hello", string(ev.Data))
}

func TestPartialReliabilityRexmitAbandonsAfterLoss(t *testing.T) {
	client, server, now := establish(t)

	rel := Reliability{Ordered: true, Mode: ReliabilityModeRexmit, Param: 0}
	require.NoError(t, client.SendMessage(now, 2, PPIBinary, []byte("msg1"), rel))
	// simulate msg1 lost: send but never deliver to server
	_, ok := client.PollTransmit()
	require.True(t, ok)
	require.NoError(t, client.SendMessage(now, 2, PPIBinary, []byte("msg3"), rel))
	_, ok = client.PollTransmit()
	require.True(t, ok)

	// one RTO elapses with no SACK for msg1/msg3
	later := now.Add(2 * time.Second)
	client.HandleTimeout(later)

	// msg1 had 0 retransmits allowed, so the first retransmit attempt abandons it.
	sawForwardTSN := false
	for {
		raw, ok := client.PollTransmit()
		if !ok {
			break
		}
		p, err := Unmarshal(raw)
		require.NoError(t, err)
		for _, c := range p.Chunks {
			if _, isFwd := c.(*ChunkForwardTSN); isFwd {
				sawForwardTSN = true
			}
		}
	}
	assert.True(t, sawForwardTSN, "expected a FORWARD-TSN after the retransmit limit was exceeded")
	_ = server
}

func TestStreamResetRoundTrip(t *testing.T) {
	client, server, now := establish(t)

	require.NoError(t, client.SendMessage(now, 5, PPIString, []byte("x"), Reliability{Ordered: true}))
	drain(t, client, server, now)
	_, _ = server.PollEvent() // stream opened
	_, _ = server.PollEvent() // message

	client.ResetStream(now, 5)
	drain(t, client, server, now)
	drain(t, server, client, now)

	var sawClosedOnServer, sawClosedOnClient bool
	for {
		ev, ok := server.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == EventStreamClosed {
			sawClosedOnServer = true
		}
	}
	for {
		ev, ok := client.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == EventStreamClosed {
			sawClosedOnClient = true
		}
	}
	assert.True(t, sawClosedOnServer)
	assert.True(t, sawClosedOnClient)
}

func TestTSNWrapComparison(t *testing.T) {
	assert.True(t, tsnLess(0xFFFFFFFF, 0))
	assert.False(t, tsnLess(0, 0xFFFFFFFF))
	assert.True(t, tsnLess(5, 10))
	assert.False(t, tsnLess(10, 5))
}

func TestPacketChecksumRoundTrip(t *testing.T) {
	p := &Packet{
		SourcePort:      5000,
		DestinationPort: 5000,
		VerificationTag: 1234,
		Chunks:          []Chunk{&ChunkCookieAck{}},
	}
	raw, err := p.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, p.VerificationTag, got.VerificationTag)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, ChunkTypeCookieAck, got.Chunks[0].Type())
}
