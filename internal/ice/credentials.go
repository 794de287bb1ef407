package ice

import (
	"crypto/rand"

	"github.com/pion/randutil"
)

const ufragAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ufragLength/pwdLength are chosen so the generated credential exceeds the
// entropy floor of spec.md §3: ufrag >= 24 bits, pwd >= 128 bits. Each
// character of ufragAlphabet carries ~5.95 bits, so 5 chars already clears
// 24 bits; we generate comfortably more to match real ICE implementations.
const (
	ufragLength = 8
	pwdLength   = 24
)

// GenerateUfrag returns a fresh local ufrag with at least 24 bits of entropy.
func GenerateUfrag() (string, error) {
	return randutil.GenerateCryptoRandomString(ufragLength, ufragAlphabet)
}

// GeneratePwd returns a fresh local password with at least 128 bits of entropy.
func GeneratePwd() (string, error) {
	return randutil.GenerateCryptoRandomString(pwdLength, ufragAlphabet)
}

// GenerateTiebreaker returns a fresh 64-bit ICE tie-breaker value, used to
// resolve role conflicts (RFC 8445 §5.1.1.2) and as ICE-CONTROLLING/
// ICE-CONTROLLED attribute content.
func GenerateTiebreaker() uint64 {
	gen := randutil.NewMathRandomGenerator()
	return uint64(gen.Uint32())<<32 | uint64(gen.Uint32())
}

// randomTransactionID returns 12 fresh random bytes for a STUN transaction
// ID. Transaction IDs are nonces, not credentials, so a direct crypto/rand
// read is used rather than the alphabet-constrained randutil helper.
func randomTransactionID() []byte {
	b := make([]byte, stunTransactionIDSize)
	_, _ = rand.Read(b)
	return b
}

const stunTransactionIDSize = 12
