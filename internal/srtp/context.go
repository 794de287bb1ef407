package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"fmt"
)

// Config carries the master key/salt and profile an SrtpContext is
// derived from. Two Configs (local-write, remote-read) are produced from
// one DTLS `export_keying_material` call (spec.md §3 SrtpContext,
// §4.2/§4.4).
type Config struct {
	Profile          ProtectionProfile
	WriteMasterKey   []byte
	WriteMasterSalt  []byte
	ReadMasterKey    []byte
	ReadMasterSalt   []byte
	ReplayWindowSize uint64 // default 64, spec.md §6
}

func (c *Config) withDefaults() {
	if c.ReplayWindowSize == 0 {
		c.ReplayWindowSize = 64
	}
}

type ssrcState struct {
	roc    rolloverTracker
	replay *replayWindow
}

// Context is an SrtpContext (spec.md §3): derived session keys for both
// directions plus per-SSRC rollover/replay state. One Context exists per
// DTLS connection, built immediately after HandshakeComplete from
// export_keying_material (spec.md §4.2).
type Context struct {
	profile ProtectionProfile

	writeKeys *sessionKeys
	readKeys  *sessionKeys

	writeBlock cipher.Block
	readBlock  cipher.Block
	writeGCM   cipher.AEAD
	readGCM    cipher.AEAD

	replayWindowSize uint64
	writeSeq         map[uint32]*ssrcState
	readSeq          map[uint32]*ssrcState
}

// NewContext derives both directions' session keys (RFC 3711 §4.3) from
// already-exported DTLS keying material.
func NewContext(cfg Config) (*Context, error) {
	cfg.withDefaults()

	writeKeys, err := deriveSessionKeys(cfg.Profile, cfg.WriteMasterKey, cfg.WriteMasterSalt, labelSRTPEncryption, labelSRTPAuth, labelSRTPSalt)
	if err != nil {
		return nil, fmt.Errorf("srtp: deriving write keys: %w", err)
	}
	readKeys, err := deriveSessionKeys(cfg.Profile, cfg.ReadMasterKey, cfg.ReadMasterSalt, labelSRTPEncryption, labelSRTPAuth, labelSRTPSalt)
	if err != nil {
		return nil, fmt.Errorf("srtp: deriving read keys: %w", err)
	}

	c := &Context{
		profile:          cfg.Profile,
		writeKeys:        writeKeys,
		readKeys:         readKeys,
		replayWindowSize: cfg.ReplayWindowSize,
		writeSeq:         make(map[uint32]*ssrcState),
		readSeq:          make(map[uint32]*ssrcState),
	}

	if cfg.Profile.AEAD() {
		wb, err := aes.NewCipher(writeKeys.encKey)
		if err != nil {
			return nil, err
		}
		c.writeGCM, err = cipher.NewGCM(wb)
		if err != nil {
			return nil, err
		}
		rb, err := aes.NewCipher(readKeys.encKey)
		if err != nil {
			return nil, err
		}
		c.readGCM, err = cipher.NewGCM(rb)
		if err != nil {
			return nil, err
		}
	} else {
		c.writeBlock, err = aes.NewCipher(writeKeys.encKey)
		if err != nil {
			return nil, err
		}
		c.readBlock, err = aes.NewCipher(readKeys.encKey)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Context) writeState(ssrc uint32) *ssrcState {
	s, ok := c.writeSeq[ssrc]
	if !ok {
		s = &ssrcState{replay: newReplayWindow(c.replayWindowSize)}
		c.writeSeq[ssrc] = s
	}
	return s
}

func (c *Context) readState(ssrc uint32) *ssrcState {
	s, ok := c.readSeq[ssrc]
	if !ok {
		s = &ssrcState{replay: newReplayWindow(c.replayWindowSize)}
		c.readSeq[ssrc] = s
	}
	return s
}

// EncryptRTP encrypts header||payload in place (header authenticated, not
// encrypted) and appends the auth tag, per RFC 3711 §3.1/§3.2.
func (c *Context) EncryptRTP(header []byte, payload []byte, seq uint16, ssrc uint32) ([]byte, error) {
	st := c.writeState(ssrc)
	index := st.roc.index(seq)
	iv := buildIV(c.writeKeys.salt, ssrc, index)

	if c.profile.AEAD() {
		out := c.writeGCM.Seal(nil, iv[:c.writeGCM.NonceSize()], payload, header)
		return append(append([]byte(nil), header...), out...), nil
	}

	ciphertext := make([]byte, len(payload))
	cipher.NewCTR(c.writeBlock, iv).XORKeyStream(ciphertext, payload)
	out := append(append([]byte(nil), header...), ciphertext...)

	tag := authTag(c.writeKeys.authKey, out, index>>16)
	return append(out, tag...), nil
}

// DecryptRTP verifies and decrypts an inbound SRTP packet, returning the
// plaintext payload. Replay or auth failures are Cryptographic-kind
// errors (spec.md §7): dropped silently, never surfaced as a distinct
// reason to the caller (the caller only learns "no payload produced").
func (c *Context) DecryptRTP(header []byte, ciphertext []byte, seq uint16, ssrc uint32) ([]byte, bool) {
	st := c.readState(ssrc)
	index := st.roc.index(seq)
	if !st.replay.Check(index) {
		return nil, false
	}
	iv := buildIV(c.readKeys.salt, ssrc, index)

	if c.profile.AEAD() {
		plain, err := c.readGCM.Open(nil, iv[:c.readGCM.NonceSize()], ciphertext, header)
		if err != nil {
			return nil, false
		}
		st.replay.Accept(index)
		return plain, true
	}

	if len(ciphertext) < c.profile.AuthTagLen() {
		return nil, false
	}
	body := ciphertext[:len(ciphertext)-c.profile.AuthTagLen()]
	gotTag := ciphertext[len(ciphertext)-c.profile.AuthTagLen():]
	wantTag := authTag(c.readKeys.authKey, append(header, body...), index>>16)
	if !hmac.Equal(gotTag, wantTag) {
		return nil, false
	}

	plain := make([]byte, len(body))
	cipher.NewCTR(c.readBlock, iv).XORKeyStream(plain, body)
	st.replay.Accept(index)
	return plain, true
}

func authTag(authKey, data []byte, roc uint64) []byte {
	h := hmac.New(sha1.New, authKey)
	h.Write(data)
	var rocBytes [4]byte
	rocBytes[0] = byte(roc >> 24)
	rocBytes[1] = byte(roc >> 16)
	rocBytes[2] = byte(roc >> 8)
	rocBytes[3] = byte(roc)
	h.Write(rocBytes[:])
	full := h.Sum(nil)
	return full[:10] // HMAC-SHA1-80
}
