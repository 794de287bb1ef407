package mdns

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testName = "4a2a1788-d9c5-4e3c-9e1a-2f6c9b7e1a11.local"

func TestAnnounceAndQueryRoundTrip(t *testing.T) {
	server := NewResolver(Config{})
	client := NewResolver(Config{})

	now := time.Now()
	require.NoError(t, server.Announce(testName, net.IPv4(10, 0, 0, 5)))

	// Drain the gratuitous announcement; the client isn't interested in
	// it since it never queried.
	_, ok := server.PollTransmit()
	require.True(t, ok)

	require.NoError(t, client.Query(now, testName))
	query, ok := client.PollTransmit()
	require.True(t, ok)

	require.NoError(t, server.HandleRead(now, query))
	response, ok := server.PollTransmit()
	require.True(t, ok)

	require.NoError(t, client.HandleRead(now, response))
	ev, ok := client.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventQueryAnswered, ev.Kind)
	assert.Equal(t, testName, ev.Name)
	assert.True(t, ev.IP.Equal(net.IPv4(10, 0, 0, 5)))
}

func TestQueryTimeoutWithoutAnswer(t *testing.T) {
	client := NewResolver(Config{QueryTimeout: time.Second})
	now := time.Now()
	require.NoError(t, client.Query(now, testName))
	_, ok := client.PollTransmit()
	require.True(t, ok)

	client.HandleTimeout(now.Add(2 * time.Second))
	ev, ok := client.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventQueryTimeout, ev.Kind)
}

func TestQueryResendsOnBackoff(t *testing.T) {
	client := NewResolver(Config{InitialQueryInterval: 10 * time.Millisecond, MaxQueryInterval: time.Second})
	now := time.Now()
	require.NoError(t, client.Query(now, testName))
	_, ok := client.PollTransmit()
	require.True(t, ok)

	client.HandleTimeout(now.Add(20 * time.Millisecond))
	_, ok = client.PollTransmit()
	assert.True(t, ok, "resolver must resend an unanswered query")
}

func TestQueryRejectsNonEphemeralName(t *testing.T) {
	client := NewResolver(Config{})
	err := client.Query(time.Now(), "example.com")
	assert.ErrorIs(t, err, ErrNotEphemeralDomain)
}
