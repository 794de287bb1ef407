package dtls

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

// pHash implements the TLS 1.2 PRF's P_hash function (RFC 5246 §5): an
// HMAC-driven expansion of secret/seed to an arbitrary output length. DTLS
// 1.2 reuses this verbatim; there is no DTLS-specific PRF.
func pHash(secret, seed []byte, length int, newHash func() hash.Hash) []byte {
	h := hmac.New(newHash, secret)
	h.Write(seed)
	a := h.Sum(nil)

	out := make([]byte, 0, length)
	for len(out) < length {
		h := hmac.New(newHash, secret)
		h.Write(a)
		h.Write(seed)
		out = append(out, h.Sum(nil)...)

		h = hmac.New(newHash, secret)
		h.Write(a)
		a = h.Sum(nil)
	}
	return out[:length]
}

func prf(secret, label, seed []byte, length int) []byte {
	labeledSeed := append(append([]byte(nil), label...), seed...)
	return pHash(secret, labeledSeed, length, sha256.New)
}

// computeExtendedMasterSecret implements RFC 7627: the master secret is
// derived from the session_hash (a hash of the full handshake transcript
// through ClientKeyExchange) instead of the two client/server randoms,
// closing the triple-handshake vulnerability the legacy derivation has.
// spec.md §4.2 requires extended-master-secret on every connection.
func computeExtendedMasterSecret(preMasterSecret, sessionHash []byte) []byte {
	return prf(preMasterSecret, []byte("extended master secret"), sessionHash, 48)
}

// pskPreMasterSecret implements RFC 4279 §2: for a PSK-only cipher suite
// the premaster secret is `uint16(len(psk)) || 0...0 || uint16(len(psk)) ||
// psk`, i.e. an all-zero "other" half the same length as the real key.
func pskPreMasterSecret(psk []byte) []byte {
	n := len(psk)
	out := make([]byte, 0, 4+2*n)
	out = append(out, byte(n>>8), byte(n))
	out = append(out, make([]byte, n)...)
	out = append(out, byte(n>>8), byte(n))
	out = append(out, psk...)
	return out
}

// keyingMaterial expands the master secret into the fixed-order
// client_write_key / server_write_key / client_write_IV / server_write_IV
// block (RFC 5246 §6.3), sized per the negotiated cipher suite.
func keyingMaterial(masterSecret, clientRandom, serverRandom []byte, keyLen, ivLen int) (clientKey, serverKey, clientIV, serverIV []byte) {
	seed := append(append([]byte(nil), serverRandom...), clientRandom...)
	total := 2*keyLen + 2*ivLen
	block := prf(masterSecret, []byte("key expansion"), seed, total)

	clientKey = block[:keyLen]
	serverKey = block[keyLen : 2*keyLen]
	clientIV = block[2*keyLen : 2*keyLen+ivLen]
	serverIV = block[2*keyLen+ivLen : 2*keyLen+2*ivLen]
	return
}

// exportKeyingMaterial implements RFC 5705: a label-bound derivation from
// the master secret and both randoms, used to hand SRTP its master
// key/salt without exposing the master secret itself (spec.md §4.4).
func exportKeyingMaterial(masterSecret, clientRandom, serverRandom []byte, label string, length int) []byte {
	seed := append(append([]byte(nil), clientRandom...), serverRandom...)
	return prf(masterSecret, []byte(label), seed, length)
}
