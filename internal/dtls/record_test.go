package dtls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	raw := MarshalRecord(ContentTypeHandshake, 3, 12345, []byte("hello world"))
	records, err := ParseRecords(raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ContentTypeHandshake, records[0].ContentType)
	assert.EqualValues(t, 3, records[0].Epoch)
	assert.EqualValues(t, 12345, records[0].SequenceNumber)
	assert.Equal(t, []byte("hello world"), records[0].Payload)
}

func TestParseRecordsCoalesced(t *testing.T) {
	raw := append(
		MarshalRecord(ContentTypeChangeCipherSpec, 0, 1, []byte{1}),
		MarshalRecord(ContentTypeHandshake, 1, 0, []byte("finished"))...,
	)
	records, err := ParseRecords(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ContentTypeChangeCipherSpec, records[0].ContentType)
	assert.Equal(t, ContentTypeHandshake, records[1].ContentType)
}

func TestHandshakeMessageRoundTrip(t *testing.T) {
	ch := &ClientHello{
		Version:              VersionDTLS12,
		Cookie:               []byte{1, 2, 3},
		CipherSuites:         []CipherSuiteID{TLS_PSK_WITH_AES_128_CCM_8},
		CompressionMethods:   []uint8{CompressionMethodNull},
		ExtendedMasterSecret: true,
	}
	raw := marshalHandshake(7, ch)

	msg, err := parseHandshakeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, HandshakeTypeClientHello, msg.header.Type)
	assert.EqualValues(t, 7, msg.header.MessageSeq)

	got := msg.body.(*ClientHello)
	assert.Equal(t, ch.Cookie, got.Cookie)
	assert.Equal(t, ch.CipherSuites, got.CipherSuites)
	assert.True(t, got.ExtendedMasterSecret)
}

func TestMTUTooSmallIsConfigurationError(t *testing.T) {
	_, err := New(Config{Role: RoleClient, MTU: 1}, emptyFourTuple())
	assert.ErrorIs(t, err, ErrMTUTooSmall)
}

func TestPSKWithoutPSKSuiteIsConfigurationError(t *testing.T) {
	_, err := New(Config{
		Role:         RoleClient,
		PSK:          func([]byte) ([]byte, error) { return []byte{0xAB}, nil },
		CipherSuites: []CipherSuiteID{TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256},
	}, emptyFourTuple())
	assert.ErrorIs(t, err, ErrPSKRequiresPSKSuite)
}
