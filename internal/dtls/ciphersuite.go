package dtls

import "fmt"

// cipherSuite is the tagged-variant cipher suite abstraction spec.md §9
// asks for in place of open-ended dynamic dispatch: a fixed enumeration,
// each arm owning its own key/salt sizes and AEAD constructor.
type cipherSuite struct {
	id          CipherSuiteID
	keyLen      int
	saltLen     int // explicit IV/salt length, excluding the AEAD's internal nonce bookkeeping
	newAEAD     func(key []byte) (aeadSealer, error)
	isPSK       bool
	srtpProfile uint16 // SRTP protection profile this suite is compatible with, 0 if n/a
}

// aeadSealer is the minimal surface the record layer needs; satisfied by
// both crypto/cipher.AEAD (GCM) and the hand-built ccm8.
type aeadSealer interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

var supportedCipherSuites = map[CipherSuiteID]cipherSuite{
	TLS_PSK_WITH_AES_128_CCM_8: {
		id:      TLS_PSK_WITH_AES_128_CCM_8,
		keyLen:  16,
		saltLen: 4,
		newAEAD: func(key []byte) (aeadSealer, error) { return newCCM8(key) },
		isPSK:   true,
	},
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256: {
		id:      TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		keyLen:  16,
		saltLen: 4,
		newAEAD: newGCMSealer,
		isPSK:   false,
	},
}

func lookupCipherSuite(id CipherSuiteID) (cipherSuite, error) {
	cs, ok := supportedCipherSuites[id]
	if !ok {
		return cipherSuite{}, fmt.Errorf("dtls: unsupported cipher suite 0x%04x", id)
	}
	return cs, nil
}
