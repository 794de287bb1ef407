package ice

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPingPongSameHost implements spec.md §8 scenario 1: two agents, one
// host candidate each, on loopback. After a handful of Ta ticks both reach
// Connected with the expected nominated pair.
func TestPingPongSameHost(t *testing.T) {
	controlling, err := New(Config{IsControlling: true, LocalUfrag: "aaaaaaaa", LocalPwd: "01234567890123456789ab"})
	require.NoError(t, err)
	controlled, err := New(Config{IsControlling: false, LocalUfrag: "bbbbbbbb", LocalPwd: "ba98765432109876543210"})
	require.NoError(t, err)

	cAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	dAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4001}

	controlling.AddLocalCandidate(NewHostCandidate(cAddr, 1, 65535))
	controlled.AddLocalCandidate(NewHostCandidate(dAddr, 1, 65535))

	lu, lp := controlling.LocalCredentials()
	ru, rp := controlled.LocalCredentials()
	controlling.AddRemoteCandidate(NewHostCandidate(dAddr, 1, 65535)) //nolint:errcheck
	controlled.AddRemoteCandidate(NewHostCandidate(cAddr, 1, 65535))  //nolint:errcheck

	controlling.StartConnectivityChecks(true, ru, rp)
	controlled.StartConnectivityChecks(false, lu, lp)

	now := time.Unix(0, 0)
	for i := 0; i < 20 && (controlling.State() != ConnectionStateConnected || controlled.State() != ConnectionStateConnected); i++ {
		now = now.Add(60 * time.Millisecond)
		require.NoError(t, controlling.HandleTimeout(now))
		require.NoError(t, controlled.HandleTimeout(now))

		for {
			tx, ok := controlling.PollTransmit()
			if !ok {
				break
			}
			require.NoError(t, controlled.HandleRead(now, cAddr, tx.Payload))
		}
		for {
			tx, ok := controlled.PollTransmit()
			if !ok {
				break
			}
			require.NoError(t, controlling.HandleRead(now, dAddr, tx.Payload))
		}
	}

	assert.Equal(t, ConnectionStateConnected, controlling.State())
	assert.Equal(t, ConnectionStateConnected, controlled.State())
	require.NotNil(t, controlling.SelectedPair())
	require.NotNil(t, controlled.SelectedPair())
	assert.Equal(t, 4001, controlling.SelectedPair().Remote.Port)
	assert.Equal(t, 4000, controlled.SelectedPair().Remote.Port)
}
