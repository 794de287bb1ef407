package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// label bytes of RFC 3711 §4.3.2, selecting which derived key a PRF call
// produces.
const (
	labelSRTPEncryption  byte = 0x00
	labelSRTPAuth        byte = 0x01
	labelSRTPSalt        byte = 0x02
	labelSRTCPEncryption byte = 0x03
	labelSRTCPAuth       byte = 0x04
	labelSRTCPSalt       byte = 0x05
)

// deriveKey runs the RFC 3711 §4.3.3 key derivation function: AES in
// counter mode, keyed by the master key, with the counter seeded from
// (label, master salt) and a key-derivation-rate-scaled index (this
// package always uses rate 0, the common case, so the index term is
// always zero).
func deriveKey(masterKey, masterSalt []byte, label byte, outLen int) ([]byte, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("srtp: deriveKey cipher: %w", err)
	}

	saltLen := len(masterSalt)
	iv := make([]byte, 16)
	copy(iv, masterSalt)
	iv[7] ^= label
	_ = saltLen

	out := make([]byte, outLen)
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(out, out)
	return out, nil
}

// sessionKeys holds the three keys RFC 3711 §4.3 derives for one
// direction: the encryption key, the (CM-profile only) auth key, and the
// session salt used to build the IV.
type sessionKeys struct {
	encKey  []byte
	authKey []byte
	salt    []byte
}

func deriveSessionKeys(profile ProtectionProfile, masterKey, masterSalt []byte, encLabel, authLabel, saltLabel byte) (*sessionKeys, error) {
	encKey, err := deriveKey(masterKey, masterSalt, encLabel, profile.KeyLen())
	if err != nil {
		return nil, err
	}
	salt, err := deriveKey(masterKey, masterSalt, saltLabel, profile.SaltLen())
	if err != nil {
		return nil, err
	}
	sk := &sessionKeys{encKey: encKey, salt: salt}
	if !profile.AEAD() {
		authKey, err := deriveKey(masterKey, masterSalt, authLabel, 20) // HMAC-SHA1 key
		if err != nil {
			return nil, err
		}
		sk.authKey = authKey
	}
	return sk, nil
}

// buildIV XORs the session salt with (SSRC || packet index), per
// RFC 3711 §4.1.1 (SRTP's 48-bit index) / §4.1 (SRTCP's 31-bit index).
// The salt occupies a 14 (CM) or 12 (GCM) byte field; this pads it to the
// 16-byte block size AES needs before XORing in SSRC and index at their
// RFC-specified byte offsets.
func buildIV(salt []byte, ssrc uint32, index uint64) []byte {
	iv := make([]byte, 16)
	copy(iv, salt)

	var buf [16]byte
	binary.BigEndian.PutUint32(buf[4:8], ssrc)
	binary.BigEndian.PutUint64(buf[8:16], index)

	for i := range iv {
		iv[i] ^= buf[i]
	}
	return iv
}
