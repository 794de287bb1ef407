package dtls

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sansio-rtc/rtc/internal/transport"
)

func emptyFourTuple() transport.FourTuple {
	return transport.FourTuple{
		LocalAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000},
		PeerAddr:  &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5001},
		Protocol:  transport.ProtocolUDP,
	}
}

// TestPSKHandshake implements spec.md §8 scenario 2: a full PSK handshake
// (ClientHello, HelloVerifyRequest+cookie, ServerHello/ServerKeyExchange/
// ServerHelloDone, ClientKeyExchange+ChangeCipherSpec+Finished,
// ChangeCipherSpec+Finished) reaching HandshakeComplete on both sides, with
// matching export_keying_material output.
func TestPSKHandshake(t *testing.T) {
	identityHint := []byte("webrtc-rs DTLS Client")
	pskBytes := []byte{0xAB, 0xC1, 0x23}
	pskFn := func([]byte) ([]byte, error) { return pskBytes, nil }

	client, err := New(Config{
		Role:            RoleClient,
		PSK:             pskFn,
		PSKIdentityHint: identityHint,
		CipherSuites:    []CipherSuiteID{TLS_PSK_WITH_AES_128_CCM_8},
	}, transport.FourTuple{LocalAddr: addr(5000), PeerAddr: addr(5001), Protocol: transport.ProtocolUDP})
	require.NoError(t, err)

	server, err := New(Config{
		Role:            RoleServer,
		PSK:             pskFn,
		PSKIdentityHint: identityHint,
		CipherSuites:    []CipherSuiteID{TLS_PSK_WITH_AES_128_CCM_8},
	}, transport.FourTuple{LocalAddr: addr(5001), PeerAddr: addr(5000), Protocol: transport.ProtocolUDP})
	require.NoError(t, err)

	now := time.Unix(0, 0)
	require.NoError(t, client.Start(now))

	recordCount := 0
	for i := 0; i < 20 && !(client.IsHandshakeComplete() && server.IsHandshakeComplete()); i++ {
		now = now.Add(10 * time.Millisecond)
		for {
			tx, ok := client.PollTransmit()
			if !ok {
				break
			}
			recordCount++
			require.NoError(t, server.HandleRead(now, tx.Payload))
		}
		for {
			tx, ok := server.PollTransmit()
			if !ok {
				break
			}
			recordCount++
			require.NoError(t, client.HandleRead(now, tx.Payload))
		}
	}

	require.True(t, client.IsHandshakeComplete())
	require.True(t, server.IsHandshakeComplete())
	assert.LessOrEqual(t, recordCount, 12)

	for {
		_, ok := client.PollEvent()
		if !ok {
			break
		}
	}

	clientKeys, err := client.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", 60)
	require.NoError(t, err)
	serverKeys, err := server.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", 60)
	require.NoError(t, err)
	assert.Equal(t, clientKeys, serverKeys)
	assert.Len(t, clientKeys, 60)
}

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

// TestApplicationDataAfterHandshake matches spec.md §4.4's "hands
// application data to SCTP": once both sides are Finished, HandleWrite
// on one side must surface as an EventApplicationData on the other.
func TestApplicationDataAfterHandshake(t *testing.T) {
	pskFn := func([]byte) ([]byte, error) { return []byte{0x01, 0x02, 0x03}, nil }
	cfgFor := func(role Role) Config {
		return Config{Role: role, PSK: pskFn, CipherSuites: []CipherSuiteID{TLS_PSK_WITH_AES_128_CCM_8}}
	}

	client, err := New(cfgFor(RoleClient), transport.FourTuple{LocalAddr: addr(5000), PeerAddr: addr(5001), Protocol: transport.ProtocolUDP})
	require.NoError(t, err)
	server, err := New(cfgFor(RoleServer), transport.FourTuple{LocalAddr: addr(5001), PeerAddr: addr(5000), Protocol: transport.ProtocolUDP})
	require.NoError(t, err)

	now := time.Unix(0, 0)
	require.NoError(t, client.Start(now))
	for i := 0; i < 20 && !(client.IsHandshakeComplete() && server.IsHandshakeComplete()); i++ {
		now = now.Add(10 * time.Millisecond)
		for {
			tx, ok := client.PollTransmit()
			if !ok {
				break
			}
			require.NoError(t, server.HandleRead(now, tx.Payload))
		}
		for {
			tx, ok := server.PollTransmit()
			if !ok {
				break
			}
			require.NoError(t, client.HandleRead(now, tx.Payload))
		}
	}
	require.True(t, client.IsHandshakeComplete())
	require.True(t, server.IsHandshakeComplete())
	for {
		if _, ok := client.PollEvent(); !ok {
			break
		}
	}
	for {
		if _, ok := server.PollEvent(); !ok {
			break
		}
	}

	payload := []byte("sctp packet bytes")
	require.NoError(t, client.HandleWrite(now, payload))
	tx, ok := client.PollTransmit()
	require.True(t, ok)

	require.NoError(t, server.HandleRead(now, tx.Payload))
	ev, ok := server.PollEvent()
	require.True(t, ok)
	assert.Equal(t, EventApplicationData, ev.Kind)
	assert.Equal(t, payload, ev.Data)
}
