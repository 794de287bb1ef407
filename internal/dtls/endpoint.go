package dtls

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/sansio-rtc/rtc/internal/transport"
)

// Role is which side of the handshake this Endpoint plays.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// HandshakeState is the per-connection state machine of spec.md §4.2
// (RFC 6347 §4.2.4): Preparing builds the next flight, Sending emits it,
// Waiting holds the retransmit timer armed until the expected reply
// parses, Finished is the post-handshake steady state.
type HandshakeState uint8

const (
	StatePreparing HandshakeState = iota
	StateSending
	StateWaiting
	StateFinished
	StateErrored
)

func (s HandshakeState) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateSending:
		return "sending"
	case StateWaiting:
		return "waiting"
	case StateFinished:
		return "finished"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Config configures an Endpoint. Only the PSK cipher suite path is fully
// wired (spec.md §8 scenario 2); TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 is
// enumerated in cipherSuite but has no certificate/ECDHE key-exchange
// plumbing behind it yet.
type Config struct {
	Role Role

	// PSK resolves an identity hint to the shared secret. The client side
	// supplies PSKIdentityHint/PSKIdentity directly; the server side calls
	// PSK with the identity the client offered.
	PSK             func(identityHint []byte) ([]byte, error)
	PSKIdentityHint []byte
	PSKIdentity     []byte

	CipherSuites []CipherSuiteID

	MTU                 int
	RetransmitInterval  time.Duration
	MaxRetransmissions  int

	LoggerFactory logging.LoggerFactory
}

const minMTU = 256

func (c *Config) withDefaults() error {
	if c.MTU == 0 {
		c.MTU = 1200
	}
	if c.MTU < minMTU {
		return ErrMTUTooSmall
	}
	if c.RetransmitInterval == 0 {
		c.RetransmitInterval = time.Second
	}
	if c.MaxRetransmissions == 0 {
		c.MaxRetransmissions = 10
	}
	if len(c.CipherSuites) == 0 {
		c.CipherSuites = []CipherSuiteID{TLS_PSK_WITH_AES_128_CCM_8}
	}
	hasPSKSuite := false
	for _, id := range c.CipherSuites {
		if id == TLS_PSK_WITH_AES_128_CCM_8 {
			hasPSKSuite = true
		}
	}
	if c.PSK != nil && !hasPSKSuite {
		return ErrPSKRequiresPSKSuite
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return nil
}

// EventKind discriminates the Event union PollEvent drains.
type EventKind uint8

const (
	EventHandshakeComplete EventKind = iota
	EventAlertFatalOrClose
	// EventApplicationData fires for every decrypted application_data
	// record once the handshake is complete, carrying the SCTP (or other
	// upper-layer) plaintext the DTLS record layer decrypted
	// (spec.md §4.4 "hands application data to SCTP").
	EventApplicationData
)

type Event struct {
	Kind  EventKind
	Alert Alert
	Data  []byte
}

// Endpoint is one DTLS connection, keyed by its four-tuple by the caller
// (spec.md §3 "DtlsConnection... One per remote address"). It owns no
// socket; HandleRead/HandleTimeout/HandleWrite drive it and
// PollTransmit/PollEvent/PollTimeout drain it.
type Endpoint struct {
	cfg   Config
	log   logging.LeveledLogger
	role  Role
	state HandshakeState

	clientRandom, serverRandom Random
	cookie                     []byte
	sessionID                  []byte
	selectedSuite              cipherSuite
	pskIdentity                []byte

	txMessageSeq uint64
	rxMessageSeq uint64

	transcript []byte // concatenation of every handshake message's raw bytes, in protocol order

	readEpoch, writeEpoch     uint16
	readSeq, writeSeq         uint64
	masterSecret              []byte
	readKey, writeKey         []byte
	readSalt, writeSalt       []byte
	pendingReadKey            []byte // staged at ChangeCipherSpec, applied once Finished is verified
	pendingReadSalt           []byte

	lastFlight       [][]byte // raw records of the last flight sent, for verbatim retransmit
	flightSentAt     transport.Instant
	retransmitCount  int

	transmitQueue []transport.Transmit
	eventQueue    []Event

	peer      transport.FourTuple
	closed    bool
	handshakeDone bool
}

// New constructs an Endpoint. MTU and PSK/cipher-suite mismatches are
// refused here as Configuration errors (spec.md §7), never at runtime.
func New(cfg Config, peer transport.FourTuple) (*Endpoint, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	e := &Endpoint{
		cfg:   cfg,
		log:   cfg.LoggerFactory.NewLogger("dtls"),
		role:  cfg.Role,
		state: StatePreparing,
		peer:  peer,
	}
	if err := randRead(e.randomFor(cfg.Role)[:]); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Endpoint) randomFor(r Role) *Random {
	if r == RoleClient {
		return &e.clientRandom
	}
	return &e.serverRandom
}

func randRead(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// Start begins the handshake; only meaningful for the client, which sends
// the first flight unprompted.
func (e *Endpoint) Start(now transport.Instant) error {
	if e.role != RoleClient {
		return nil
	}
	e.sendFlight(now, e.buildClientHello(nil))
	return nil
}

func (e *Endpoint) buildClientHello(cookie []byte) []byte {
	ch := &ClientHello{
		Version:              VersionDTLS12,
		Random:               e.clientRandom,
		Cookie:               cookie,
		CipherSuites:         e.cfg.CipherSuites,
		CompressionMethods:   []uint8{CompressionMethodNull},
		ExtendedMasterSecret: true,
	}
	return e.frameHandshake(ch)
}

// frameHandshake wires one handshake message into a record, bumping the
// local message sequence and appending to the running transcript hash
// input (spec.md §4.2's handshake cache is realized here as a flat
// transcript, since this endpoint never needs random access by sequence).
func (e *Endpoint) frameHandshake(body handshakeBody) []byte {
	raw := marshalHandshake(uint16(e.txMessageSeq), body)
	e.txMessageSeq++
	e.transcript = append(e.transcript, raw...)
	return MarshalRecord(ContentTypeHandshake, e.writeEpoch, e.nextWriteSeq(), raw)
}

func (e *Endpoint) nextWriteSeq() uint64 {
	seq := e.writeSeq
	e.writeSeq++
	return seq
}

// frameHandshakeEncrypted marshals body, feeds the transcript, then seals
// it as one ContentTypeHandshake record under the current (post-
// ChangeCipherSpec) write epoch — used for the Finished message on both
// sides, which is always the first encrypted handshake record sent.
func (e *Endpoint) frameHandshakeEncrypted(body handshakeBody) ([]byte, error) {
	raw := marshalHandshake(uint16(e.txMessageSeq), body)
	e.txMessageSeq++
	e.transcript = append(e.transcript, raw...)
	return e.encrypt(ContentTypeHandshake, raw)
}

// sendFlight replaces the retransmit buffer with newRecords and queues them
// for transmission, entering Sending then immediately Waiting (spec.md
// §4.2: "On entering Waiting, arm timer at retransmit_interval").
func (e *Endpoint) sendFlight(now transport.Instant, records ...[]byte) {
	e.lastFlight = records
	e.flightSentAt = now
	e.retransmitCount = 0
	e.state = StateSending
	for _, r := range records {
		e.queueTransmit(now, r)
	}
	e.state = StateWaiting
}

func (e *Endpoint) queueTransmit(now transport.Instant, payload []byte) {
	e.transmitQueue = append(e.transmitQueue, transport.Transmit{Now: now, FourTuple: e.peer, Payload: payload})
}

// HandleWrite encrypts plaintext (e.g. a framed SCTP packet) as a single
// application_data record and queues it for transmission. It is the
// write-direction counterpart of EventApplicationData, usable only once
// the handshake has completed (spec.md §4.4).
func (e *Endpoint) HandleWrite(now transport.Instant, plaintext []byte) error {
	if e.closed {
		return errEndpointClosed
	}
	if !e.handshakeDone {
		return fmt.Errorf("dtls: HandleWrite called before handshake completion")
	}
	rec, err := e.encrypt(ContentTypeApplicationData, plaintext)
	if err != nil {
		return fmt.Errorf("dtls: encrypting application data: %w", err)
	}
	e.queueTransmit(now, rec)
	return nil
}

// HandleTimeout retransmits the last flight verbatim if no expected reply
// has arrived, doubling the interval up to MaxRetransmissions (spec.md
// §4.2 "Retransmit").
func (e *Endpoint) HandleTimeout(now transport.Instant) error {
	if e.closed || e.state != StateWaiting {
		return nil
	}
	interval := e.cfg.RetransmitInterval << uint(e.retransmitCount)
	if now.Sub(e.flightSentAt) < interval {
		return nil
	}
	e.retransmitCount++
	if e.retransmitCount > e.cfg.MaxRetransmissions {
		e.fail(now, fmt.Errorf("dtls: handshake abandoned after %d retransmissions", e.retransmitCount))
		return nil
	}
	for _, r := range e.lastFlight {
		e.queueTransmit(now, r)
	}
	e.flightSentAt = now
	return nil
}

// PollTimeout reports when HandleTimeout should next run.
func (e *Endpoint) PollTimeout() (transport.Instant, bool) {
	if e.closed || e.state != StateWaiting {
		return transport.Instant{}, false
	}
	interval := e.cfg.RetransmitInterval << uint(e.retransmitCount)
	return e.flightSentAt.Add(interval), true
}

// HandleRead consumes one inbound UDP datagram, which may coalesce several
// DTLS records.
func (e *Endpoint) HandleRead(now transport.Instant, raw []byte) error {
	if e.closed {
		return errEndpointClosed
	}
	records, err := ParseRecords(raw)
	if err != nil {
		e.log.Debugf("dtls: dropping malformed datagram: %v", err)
		return nil
	}
	for _, rec := range records {
		if err := e.handleRecord(now, rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *Endpoint) handleRecord(now transport.Instant, rec Record) error {
	if rec.Epoch < e.readEpoch {
		return nil // spec.md §4.2: a smaller epoch than current receive epoch is dropped
	}

	payload := rec.Payload
	if rec.Epoch > 0 {
		plain, err := e.decrypt(rec)
		if err != nil {
			e.log.Debugf("dtls: dropping record failing decryption: %v", err)
			return nil
		}
		payload = plain
	}

	switch rec.ContentType {
	case ContentTypeHandshake:
		return e.handleHandshakeRecord(now, payload)
	case ContentTypeChangeCipherSpec:
		e.readEpoch++
		e.readSeq = 0
		e.readKey, e.readSalt = e.pendingReadKey, e.pendingReadSalt
		return nil
	case ContentTypeAlert:
		return e.handleAlert(now, payload)
	case ContentTypeApplicationData:
		if !e.handshakeDone {
			return nil // no upper layer is listening until HandshakeComplete
		}
		e.eventQueue = append(e.eventQueue, Event{Kind: EventApplicationData, Data: payload})
		return nil
	default:
		return nil
	}
}

func (e *Endpoint) handleAlert(now transport.Instant, payload []byte) error {
	al, err := parseAlert(payload)
	if err != nil {
		return nil
	}
	if al.Level == AlertLevelFatal || al.Description == AlertCloseNotify {
		e.eventQueue = append(e.eventQueue, Event{Kind: EventAlertFatalOrClose, Alert: al})
		e.closed = true
		return nil
	}
	e.log.Debugf("dtls: received warning alert %v", al.Description)
	return nil
}

func (e *Endpoint) handleHandshakeRecord(now transport.Instant, raw []byte) error {
	msg, err := parseHandshakeMessage(raw)
	if err != nil {
		e.log.Debugf("dtls: dropping malformed handshake message: %v", err)
		return nil
	}

	switch e.role {
	case RoleClient:
		return e.clientStep(now, msg)
	default:
		return e.serverStep(now, msg)
	}
}

// recordTranscript appends an inbound message's raw bytes, mirroring what
// frameHandshake does for outbound ones, so both sides compute the
// Finished verify_data over an identical transcript.
func (e *Endpoint) recordTranscript(msg *handshakeMessage) {
	e.transcript = append(e.transcript, msg.raw...)
}

// --- Client role -----------------------------------------------------

func (e *Endpoint) clientStep(now transport.Instant, msg *handshakeMessage) error {
	switch body := msg.body.(type) {
	case *HelloVerifyRequest:
		e.recordTranscript(msg)
		// RFC 6347 §4.2.1: the cookie exchange restarts the transcript —
		// only the second ClientHello (with cookie) feeds the Finished
		// hash, so wipe what the first ClientHello contributed.
		e.transcript = nil
		e.cookie = body.Cookie
		e.sendFlight(now, e.buildClientHello(e.cookie))
		return nil

	case *ServerHello:
		e.recordTranscript(msg)
		e.serverRandom = body.Random
		cs, err := lookupCipherSuite(body.CipherSuite)
		if err != nil {
			e.fail(now, err)
			return nil
		}
		e.selectedSuite = cs
		return nil

	case *ServerKeyExchangePSK:
		e.recordTranscript(msg)
		e.cfg.PSKIdentityHint = body.IdentityHint
		return nil

	case *ServerHelloDone:
		e.recordTranscript(msg)
		return e.clientSendKeyExchangeFlight(now)

	case *Finished:
		e.recordTranscript(msg)
		return e.verifyFinished(now, body, RoleServer)

	default:
		return nil
	}
}

func (e *Endpoint) clientSendKeyExchangeFlight(now transport.Instant) error {
	identity := e.cfg.PSKIdentity
	if identity == nil {
		identity = e.cfg.PSKIdentityHint
	}
	e.pskIdentity = identity
	psk, err := e.cfg.PSK(e.cfg.PSKIdentityHint)
	if err != nil {
		e.fail(now, err)
		return nil
	}

	cke := e.frameHandshake(&ClientKeyExchangePSK{Identity: identity})
	if err := e.deriveKeys(psk); err != nil {
		e.fail(now, err)
		return nil
	}

	ccs := MarshalRecord(ContentTypeChangeCipherSpec, e.writeEpoch, e.nextWriteSeq(), []byte{1})
	e.writeEpoch++
	e.writeSeq = 0

	verify := prf(e.masterSecret, []byte("client finished"), sha256Sum(e.transcript), 12)
	finEnc, err := e.frameHandshakeEncrypted(&Finished{VerifyData: verify})
	if err != nil {
		e.fail(now, err)
		return nil
	}

	e.sendFlight(now, cke, ccs, finEnc)
	return nil
}

// --- Server role -------------------------------------------------------

func (e *Endpoint) serverStep(now transport.Instant, msg *handshakeMessage) error {
	switch body := msg.body.(type) {
	case *ClientHello:
		e.recordTranscript(msg)
		e.clientRandom = body.Random
		if len(body.Cookie) == 0 {
			// RFC 6347 §4.2.1: reply with HelloVerifyRequest, then forget
			// this transcript exactly as the client does on its side.
			cookie := make([]byte, 16)
			_ = randRead(cookie)
			e.cookie = cookie
			hvr := e.frameHandshake(&HelloVerifyRequest{Version: VersionDTLS12, Cookie: cookie})
			e.transcript = nil
			e.sendFlight(now, hvr)
			return nil
		}
		return e.serverSendHelloFlight(now, body)

	case *ClientKeyExchangePSK:
		e.recordTranscript(msg)
		psk, err := e.cfg.PSK(body.Identity)
		if err != nil {
			e.fail(now, err)
			return nil
		}
		return e.deriveKeys(psk)

	case *Finished:
		e.recordTranscript(msg)
		return e.verifyFinishedAndReply(now, body)

	default:
		return nil
	}
}

func (e *Endpoint) serverSendHelloFlight(now transport.Instant, ch *ClientHello) error {
	suite := TLS_PSK_WITH_AES_128_CCM_8
	for _, id := range ch.CipherSuites {
		if _, ok := supportedCipherSuites[id]; ok {
			suite = id
			break
		}
	}
	cs, err := lookupCipherSuite(suite)
	if err != nil {
		e.fail(now, err)
		return nil
	}
	e.selectedSuite = cs

	sh := e.frameHandshake(&ServerHello{
		Version:              VersionDTLS12,
		Random:               e.serverRandom,
		CipherSuite:          suite,
		CompressionMethod:    CompressionMethodNull,
		ExtendedMasterSecret: true,
	})
	ske := e.frameHandshake(&ServerKeyExchangePSK{IdentityHint: e.cfg.PSKIdentityHint})
	shd := e.frameHandshake(&ServerHelloDone{})
	e.sendFlight(now, sh, ske, shd)
	return nil
}

func (e *Endpoint) verifyFinishedAndReply(now transport.Instant, body *Finished) error {
	want := prf(e.masterSecret, []byte("client finished"), sha256Sum(transcriptExcludingLast(e.transcript, body)), 12)
	if !bytesEqual(want, body.VerifyData) {
		e.sendAlert(now, AlertLevelFatal, AlertDecryptError)
		e.fail(now, errVerifyDataMismatch)
		return nil
	}

	ccs := MarshalRecord(ContentTypeChangeCipherSpec, e.writeEpoch, e.nextWriteSeq(), []byte{1})
	e.writeEpoch++
	e.writeSeq = 0

	verify := prf(e.masterSecret, []byte("server finished"), sha256Sum(e.transcript), 12)
	finEnc, err := e.frameHandshakeEncrypted(&Finished{VerifyData: verify})
	if err != nil {
		e.fail(now, err)
		return nil
	}
	e.sendFlight(now, ccs, finEnc)
	e.completeHandshake(now)
	return nil
}

func (e *Endpoint) verifyFinished(now transport.Instant, body *Finished, _ Role) error {
	want := prf(e.masterSecret, []byte("server finished"), sha256Sum(transcriptExcludingLast(e.transcript, body)), 12)
	if !bytesEqual(want, body.VerifyData) {
		e.sendAlert(now, AlertLevelFatal, AlertDecryptError)
		e.fail(now, errVerifyDataMismatch)
		return nil
	}
	e.completeHandshake(now)
	return nil
}

func (e *Endpoint) completeHandshake(now transport.Instant) {
	e.state = StateFinished
	e.handshakeDone = true
	e.eventQueue = append(e.eventQueue, Event{Kind: EventHandshakeComplete})
}

// deriveKeys computes the extended master secret (RFC 7627) from the PSK
// premaster secret and the session hash taken over the transcript so far
// (through ClientKeyExchange), then expands per-direction keys.
func (e *Endpoint) deriveKeys(psk []byte) error {
	pms := pskPreMasterSecret(psk)
	sessionHash := sha256Sum(e.transcript)
	e.masterSecret = computeExtendedMasterSecret(pms, sessionHash)

	cKey, sKey, cSalt, sSalt := keyingMaterial(e.masterSecret, e.clientRandom[:], e.serverRandom[:], e.selectedSuite.keyLen, e.selectedSuite.saltLen)
	if e.role == RoleClient {
		e.writeKey, e.writeSalt = cKey, cSalt
		e.pendingReadKey, e.pendingReadSalt = sKey, sSalt
	} else {
		e.writeKey, e.writeSalt = sKey, sSalt
		e.pendingReadKey, e.pendingReadSalt = cKey, cSalt
	}
	return nil
}

// ExportKeyingMaterial implements RFC 5705 for the caller to derive SRTP
// (or any other) keying material after HandshakeComplete.
func (e *Endpoint) ExportKeyingMaterial(label string, length int) ([]byte, error) {
	if !e.handshakeDone {
		return nil, fmt.Errorf("dtls: export_keying_material called before handshake completion")
	}
	return exportKeyingMaterial(e.masterSecret, e.clientRandom[:], e.serverRandom[:], label, length), nil
}

func (e *Endpoint) encrypt(ct ContentType, plaintext []byte) ([]byte, error) {
	aead, err := e.selectedSuite.newAEAD(e.writeKey)
	if err != nil {
		return nil, err
	}
	seq := e.nextWriteSeq()
	nonce := e.nonce(e.writeSalt, e.writeEpoch, seq)
	header := RecordHeader{ContentType: ct, Version: VersionDTLS12, Epoch: e.writeEpoch, SequenceNumber: seq}
	aad := recordAAD(header, len(plaintext))
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	header.Length = uint16(len(sealed))
	return append(header.marshal(), sealed...), nil
}

func (e *Endpoint) decrypt(rec Record) ([]byte, error) {
	aead, err := e.selectedSuite.newAEAD(e.readKey)
	if err != nil {
		return nil, err
	}
	nonce := e.nonce(e.readSalt, rec.Epoch, rec.SequenceNumber)
	header := rec.RecordHeader
	header.Length = 0
	aad := recordAAD(header, len(rec.Payload)-aead.Overhead())
	return aead.Open(nil, nonce, rec.Payload, aad)
}

// nonce builds the 12-byte AEAD nonce from the fixed salt and the
// per-record epoch/sequence (RFC 6347's DTLS AEAD nonce construction,
// mirrored from RFC 5288/RFC 6655).
func (e *Endpoint) nonce(salt []byte, epoch uint16, seq uint64) []byte {
	n := make([]byte, 12)
	copy(n, salt)
	explicit := sequenceNumber(epoch, seq)
	for i := 0; i < 8; i++ {
		n[len(salt)+i] ^= byte(explicit >> uint(56-8*i))
	}
	return n
}

// recordAAD builds the additional authenticated data TLS 1.2 AEAD cipher
// suites cover (RFC 5246 §6.2.3.3): seq_num || type || version || length,
// with length referring to the plaintext.
func recordAAD(h RecordHeader, plaintextLen int) []byte {
	aad := make([]byte, 13)
	seq := sequenceNumber(h.Epoch, h.SequenceNumber)
	for i := 0; i < 8; i++ {
		aad[i] = byte(seq >> uint(56-8*i))
	}
	aad[8] = byte(h.ContentType)
	aad[9] = h.Version.Major
	aad[10] = h.Version.Minor
	aad[11] = byte(plaintextLen >> 8)
	aad[12] = byte(plaintextLen)
	return aad
}

func (e *Endpoint) sendAlert(now transport.Instant, level AlertLevel, desc AlertDescription) {
	al := Alert{Level: level, Description: desc}
	e.queueTransmit(now, MarshalRecord(ContentTypeAlert, e.writeEpoch, e.nextWriteSeq(), al.marshal()))
}

func (e *Endpoint) fail(now transport.Instant, err error) {
	e.state = StateErrored
	e.log.Errorf("dtls: handshake failed: %v", err)
	e.eventQueue = append(e.eventQueue, Event{Kind: EventAlertFatalOrClose, Alert: Alert{Level: AlertLevelFatal, Description: AlertHandshakeFailure}})
}

// PollTransmit drains one queued outbound datagram.
func (e *Endpoint) PollTransmit() (transport.Transmit, bool) {
	if len(e.transmitQueue) == 0 {
		return transport.Transmit{}, false
	}
	t := e.transmitQueue[0]
	e.transmitQueue = e.transmitQueue[1:]
	return t, true
}

// PollEvent drains one queued Event.
func (e *Endpoint) PollEvent() (Event, bool) {
	if len(e.eventQueue) == 0 {
		return Event{}, false
	}
	ev := e.eventQueue[0]
	e.eventQueue = e.eventQueue[1:]
	return ev, true
}

// State returns the current handshake state.
func (e *Endpoint) State() HandshakeState { return e.state }

// IsHandshakeComplete reports whether Finished has been reached.
func (e *Endpoint) IsHandshakeComplete() bool { return e.handshakeDone }

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// transcriptExcludingLast returns the transcript with the just-appended
// Finished message's bytes removed, since Finished's own verify_data must
// be computed (and checked) over every message *except* itself.
func transcriptExcludingLast(transcript []byte, last *Finished) []byte {
	n := handshakeHeaderLen + len(last.VerifyData)
	if n > len(transcript) {
		return transcript
	}
	return transcript[:len(transcript)-n]
}
