// Package srtp implements sans-I/O SRTP/SRTCP contexts (RFC 3711): AEAD
// encrypt/decrypt framing, RFC 3711 §4.3 key derivation from DTLS-exported
// keying material, and per-SSRC replay protection (spec.md §4.4).
//
// A libsrtp2-backed implementation would shell out to a C library via
// cgo, a blocking call that cannot live inside a sans-I/O handler. This
// package is a pure-Go AEAD/CM implementation built directly from
// RFC 3711, keeping only the profile-naming convention
// (`AEAD_AES_128_GCM`/`AES_CM_128_HMAC_SHA1_80`, spec.md §6).
package srtp

import "fmt"

// ProtectionProfile names one of the two SRTP profiles spec.md §6
// requires (RFC 3711 / RFC 7714).
type ProtectionProfile uint16

const (
	ProtectionProfileAeadAes128Gcm       ProtectionProfile = 0x0007
	ProtectionProfileAes128CmHmacSha1_80 ProtectionProfile = 0x0001
)

func (p ProtectionProfile) String() string {
	switch p {
	case ProtectionProfileAeadAes128Gcm:
		return "AEAD_AES_128_GCM"
	case ProtectionProfileAes128CmHmacSha1_80:
		return "AES_CM_128_HMAC_SHA1_80"
	default:
		return fmt.Sprintf("unknown(%#x)", uint16(p))
	}
}

// KeyLen, SaltLen, AuthTagLen per RFC 7714 §8.1 (GCM) / RFC 3711 §7.5 (CM).
func (p ProtectionProfile) KeyLen() int {
	return 16
}

func (p ProtectionProfile) SaltLen() int {
	switch p {
	case ProtectionProfileAeadAes128Gcm:
		return 12
	default:
		return 14
	}
}

func (p ProtectionProfile) AuthTagLen() int {
	switch p {
	case ProtectionProfileAeadAes128Gcm:
		return 16
	default:
		return 10 // HMAC-SHA1-80
	}
}

func (p ProtectionProfile) AEAD() bool {
	return p == ProtectionProfileAeadAes128Gcm
}
