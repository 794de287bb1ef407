package dtls

import (
	"crypto/aes"
	"crypto/cipher"
)

// newGCMSealer wraps the standard library's AES-GCM for the
// TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 suite; unlike CCM, GCM is
// available directly from crypto/cipher.
func newGCMSealer(key []byte) (aeadSealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
