package stun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var txID TransactionID
	copy(txID[:], []byte("transactionID"))

	m := NewMessage(Type{Method: MethodBinding, Class: ClassRequest}, txID)
	m.SetUsername("bob:alice")
	m.SetPriority(1234)
	m.SetUseCandidate()
	m.AddMessageIntegrity([]byte("password"))
	m.AddFingerprint()

	raw := m.Marshal()

	parsed, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, m.Type, parsed.Type)
	assert.Equal(t, m.TransactionID, parsed.TransactionID)

	username, ok := parsed.Username()
	require.True(t, ok)
	assert.Equal(t, "bob:alice", username)

	prio, ok := parsed.Priority()
	require.True(t, ok)
	assert.EqualValues(t, 1234, prio)

	assert.True(t, parsed.HasUseCandidate())
	assert.True(t, VerifyFingerprint(parsed))
	assert.True(t, VerifyMessageIntegrity(parsed, []byte("password")))
	assert.False(t, VerifyMessageIntegrity(parsed, []byte("wrong-password")))
}

func TestXORMappedAddressRoundTrip(t *testing.T) {
	var txID TransactionID
	copy(txID[:], []byte("abcdefghijkl"))

	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4000}
	enc, err := EncodeXORMappedAddress(addr, txID)
	require.NoError(t, err)

	dec, err := DecodeXORMappedAddress(enc, txID)
	require.NoError(t, err)
	assert.Equal(t, addr.Port, dec.Port)
	assert.True(t, addr.IP.Equal(dec.IP))
}

func TestIsMessage(t *testing.T) {
	var txID TransactionID
	m := NewMessage(Type{Method: MethodBinding, Class: ClassRequest}, txID)
	raw := m.Marshal()
	assert.True(t, IsMessage(raw))
	assert.False(t, IsMessage([]byte{20, 1, 2, 3}))
	assert.False(t, IsMessage(nil))
}

func TestTypeValueRoundTrip(t *testing.T) {
	tt := Type{Method: MethodBinding, Class: ClassSuccessResponse}
	assert.Equal(t, tt, parseType(tt.Value()))

	tt2 := Type{Method: MethodBinding, Class: ClassErrorResponse}
	assert.Equal(t, tt2, parseType(tt2.Value()))
}
