package dtls

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
)

// ccm8 implements AES-CCM with an 8-byte authentication tag (RFC 6655), the
// AEAD construction TLS_PSK_WITH_AES_128_CCM_8 requires. Go's standard
// library only ships AES-GCM (crypto/cipher.NewGCM), so CCM is built here
// directly from the AES block cipher per NIST SP 800-38C: CBC-MAC over the
// formatted B0/associated-data/plaintext blocks for the tag, and CTR mode
// (starting at counter 1) for the ciphertext.
type ccm8 struct {
	block cipher.Block
}

const (
	ccmNonceSize = 12
	ccmTagSize   = 8
)

func newCCM8(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &ccm8{block: block}, nil
}

func (c *ccm8) NonceSize() int { return ccmNonceSize }
func (c *ccm8) Overhead() int  { return ccmTagSize }

func (c *ccm8) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	tag := c.mac(nonce, plaintext, additionalData)
	ct := make([]byte, len(plaintext))
	c.ctr(nonce, plaintext, ct)
	dst = append(dst, ct...)
	dst = append(dst, tag...)
	return dst
}

func (c *ccm8) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < ccmTagSize {
		return nil, fmt.Errorf("dtls: ccm ciphertext shorter than tag")
	}
	ct := ciphertext[:len(ciphertext)-ccmTagSize]
	gotTag := ciphertext[len(ciphertext)-ccmTagSize:]

	pt := make([]byte, len(ct))
	c.ctr(nonce, ct, pt)

	wantTag := c.mac(nonce, pt, additionalData)
	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		return nil, fmt.Errorf("dtls: ccm authentication failed")
	}
	return append(dst, pt...), nil
}

// ctr runs AES in counter mode with the CCM counter-block format (flags
// byte 0x02, 12-byte nonce, 3-byte big-endian counter starting at 1).
func (c *ccm8) ctr(nonce, in, out []byte) {
	var counter [16]byte
	counter[0] = 2 // L=3 -> flags = L-1 = 2
	copy(counter[1:13], nonce)
	counter[15] = 1

	stream := cipher.NewCTR(c.block, counter[:])
	stream.XORKeyStream(out, in)
}

// mac computes the CBC-MAC tag over B0 || formatted AAD || plaintext,
// truncated to 8 bytes, then masked with the S0 keystream block (NIST SP
// 800-38C §A.2).
func (c *ccm8) mac(nonce, plaintext, aad []byte) []byte {
	var b0 [16]byte
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	flags |= byte((ccmTagSize - 2) / 2 << 3) // M' = (M-2)/2
	flags |= 2                              // L' = L-1 = 2
	b0[0] = flags
	copy(b0[1:13], nonce)
	b0[13] = byte(len(plaintext) >> 16)
	b0[14] = byte(len(plaintext) >> 8)
	b0[15] = byte(len(plaintext))

	mac := make([]byte, 16)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		mac = cbcMacUpdate(c.block, mac, encodeAADLength(aad))
	}
	mac = cbcMacUpdate(c.block, mac, plaintext)

	var s0Counter [16]byte
	s0Counter[0] = 2
	copy(s0Counter[1:13], nonce)
	s0 := make([]byte, 16)
	c.block.Encrypt(s0, s0Counter[:])

	tag := make([]byte, ccmTagSize)
	for i := range tag {
		tag[i] = mac[i] ^ s0[i]
	}
	return tag
}

func encodeAADLength(aad []byte) []byte {
	n := len(aad)
	var prefix []byte
	switch {
	case n < 0xFF00:
		prefix = []byte{byte(n >> 8), byte(n)}
	default:
		prefix = []byte{0xFF, 0xFE, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
	return append(prefix, aad...)
}

func cbcMacUpdate(block cipher.Block, mac []byte, data []byte) []byte {
	buf := make([]byte, 0, (len(data)/16+1)*16)
	buf = append(buf, data...)
	if pad := len(buf) % 16; pad != 0 {
		buf = append(buf, make([]byte, 16-pad)...)
	}
	out := make([]byte, 16)
	copy(out, mac)
	block_ := block
	for i := 0; i < len(buf); i += 16 {
		for j := 0; j < 16; j++ {
			out[j] ^= buf[i+j]
		}
		block_.Encrypt(out, out)
	}
	return out
}
