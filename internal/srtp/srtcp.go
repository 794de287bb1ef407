package srtp

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
)

const srtcpEFlag uint32 = 1 << 31

// EncryptRTCP encrypts an RTCP compound packet (header is the first 8
// bytes: version/PT/length/SSRC, always sent in the clear; the rest is
// the encrypted body) and appends the explicit 31-bit SRTCP index plus
// E-bit, then the auth tag (RFC 3711 §3.4/§4.1).
func (c *Context) EncryptRTCP(header []byte, body []byte, ssrc uint32) ([]byte, error) {
	st := c.writeState(ssrc)
	st.roc.lastSeq++ // SRTCP index has no ROC-from-sequence inference; treated as a flat 31-bit counter
	index := uint64(st.roc.lastSeq) & 0x7fffffff

	iv := buildIV(c.writeKeys.salt, ssrc, index)

	trailer := make([]byte, 4)
	binary.BigEndian.PutUint32(trailer, uint32(index)|srtcpEFlag)

	var cipherBody []byte
	if c.profile.AEAD() {
		aad := append(append([]byte(nil), header...), trailer...)
		cipherBody = c.writeGCM.Seal(nil, iv[:c.writeGCM.NonceSize()], body, aad)
	} else {
		cipherBody = make([]byte, len(body))
		cipher.NewCTR(c.writeBlock, iv).XORKeyStream(cipherBody, body)
	}

	out := append(append([]byte(nil), header...), cipherBody...)
	out = append(out, trailer...)
	if !c.profile.AEAD() {
		tag := authTag(c.writeKeys.authKey, out, 0)
		out = append(out, tag...)
	}
	return out, nil
}

// DecryptRTCP verifies and decrypts an inbound SRTCP packet.
func (c *Context) DecryptRTCP(header []byte, rest []byte, ssrc uint32) ([]byte, bool) {
	if len(rest) < 4 {
		return nil, false
	}
	var authed, full []byte = rest, rest
	tagLen := 0
	if !c.profile.AEAD() {
		tagLen = c.profile.AuthTagLen()
		if len(rest) < 4+tagLen {
			return nil, false
		}
		authed = rest[:len(rest)-tagLen]
	}
	trailer := authed[len(authed)-4:]
	cipherBody := authed[:len(authed)-4]

	trailerVal := binary.BigEndian.Uint32(trailer)
	encrypted := trailerVal&srtcpEFlag != 0
	index := uint64(trailerVal &^ srtcpEFlag)

	st := c.readState(ssrc)
	if !st.replay.Check(index) {
		return nil, false
	}

	if !encrypted {
		st.replay.Accept(index)
		return cipherBody, true
	}

	iv := buildIV(c.readKeys.salt, ssrc, index)
	if c.profile.AEAD() {
		aad := append(append([]byte(nil), header...), trailer...)
		plain, err := c.readGCM.Open(nil, iv[:c.readGCM.NonceSize()], cipherBody, aad)
		if err != nil {
			return nil, false
		}
		st.replay.Accept(index)
		return plain, true
	}

	gotTag := full[len(full)-tagLen:]
	wantTag := authTag(c.readKeys.authKey, append(header, authed...), 0)
	if !hmac.Equal(gotTag, wantTag) {
		return nil, false
	}
	plain := make([]byte, len(cipherBody))
	cipher.NewCTR(c.readBlock, iv).XORKeyStream(plain, cipherBody)
	st.replay.Accept(index)
	return plain, true
}
