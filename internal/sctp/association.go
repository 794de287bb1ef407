package sctp

import (
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
)

// Role is which side initiates the four-way handshake.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// State is the association state machine of RFC 4960 §13.2
// (spec.md §3 SctpAssociation).
type State uint8

const (
	StateClosed State = iota
	StateCookieWait
	StateCookieEchoed
	StateEstablished
	StateShutdownPending
	StateShutdownSent
	StateShutdownReceived
	StateShutdownAckSent
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateCookieWait:
		return "cookie-wait"
	case StateCookieEchoed:
		return "cookie-echoed"
	case StateEstablished:
		return "established"
	case StateShutdownPending:
		return "shutdown-pending"
	case StateShutdownSent:
		return "shutdown-sent"
	case StateShutdownReceived:
		return "shutdown-received"
	case StateShutdownAckSent:
		return "shutdown-ack-sent"
	default:
		return "unknown"
	}
}

// Config configures an Association. Durations/sizes default per spec.md §6
// when zero.
type Config struct {
	Role Role

	LocalPort  uint16
	RemotePort uint16

	MaxMessageSize     uint32 // default 65536, spec.md §6
	MaxInboundStreams  uint16
	MaxOutboundStreams uint16

	MTU       int // default 1200, bounds DATA chunk fragment size
	SackDelay time.Duration // default 200ms, spec.md §4.3

	MaxInitRetransmissions int // default 7, mirrors the T1-init timer backoff of RFC 4960 §4

	LoggerFactory logging.LoggerFactory
}

func (c *Config) withDefaults() {
	if c.LocalPort == 0 {
		c.LocalPort = 5000
	}
	if c.RemotePort == 0 {
		c.RemotePort = 5000
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 65536
	}
	if c.MaxInboundStreams == 0 {
		c.MaxInboundStreams = 65535
	}
	if c.MaxOutboundStreams == 0 {
		c.MaxOutboundStreams = 65535
	}
	if c.MTU == 0 {
		c.MTU = 1200
	}
	if c.SackDelay == 0 {
		c.SackDelay = 200 * time.Millisecond
	}
	if c.MaxInitRetransmissions == 0 {
		c.MaxInitRetransmissions = 7
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

const (
	minRTO = time.Second
	maxRTO = 60 * time.Second
	rtoAlpha = 0.125
	rtoBeta  = 0.25
)

// Reliability describes the per-message retransmission policy DATA chunks
// of a stream/message are subject to (spec.md §4.3).
type Reliability struct {
	Ordered bool
	// Mode selects reliable/rexmit/timed; Param is the rexmit count or
	// millisecond budget respectively, ignored when Mode is reliable.
	Mode  ReliabilityMode
	Param uint32
}

type ReliabilityMode uint8

const (
	ReliabilityModeReliable ReliabilityMode = iota
	ReliabilityModeRexmit
	ReliabilityModeTimed
)

// outboundMessage is one application message queued for send, possibly
// fragmented across several DATA chunks (chunks share one StreamSeq).
type outboundMessage struct {
	streamID    uint16
	ppi         PPI
	reliability Reliability
	chunks      []*ChunkData // in send order; each carries a TSN once sent
	submittedAt time.Time
	abandoned   bool
}

// Association is the sans-I/O SCTP association of spec.md §4.3: the four-way
// INIT handshake, DATA/SACK reliability (reliable, partial-reliable
// rexmit-count, partial-reliable timed) via FORWARD-TSN, RE-CONFIG stream
// reset, and a Jacobson/Karels RTO estimator driving classic slow-start /
// congestion-avoidance.
//
// Built on this package's own wire types (see chunk_*.go); the state
// machine implements the full four-way handshake and data path directly
// from RFC 4960 rather than stubbing at the wire-format layer.
type Association struct {
	log logging.LeveledLogger
	cfg Config

	state State

	myVerificationTag   uint32
	peerVerificationTag uint32

	myNextTSN    uint32 // next TSN this side will assign
	peerInitTSN  uint32
	cumulativeTSNAckPoint uint32 // highest contiguous peer TSN we've received
	highestPeerTSN        uint32
	peerCumAck            uint32 // highest contiguous TSN of ours the peer has acked
	outOfOrderRecv        map[uint32]*ChunkData // peer TSNs received beyond cumulative point

	streams map[uint16]*Stream

	unacked []*outboundMessage // chunks sent, awaiting SACK (retransmit queue)
	pending []*outboundMessage // chunks not yet sent (cwnd-limited)

	cwnd     int
	ssthresh int
	flightSize int

	srtt, rttvar time.Duration
	rto          time.Duration
	rttSample    bool

	myCookie []byte // state cookie this server issued, validated on COOKIE-ECHO

	initRetransmits int
	lastInitSentAt  time.Time

	t3RtxArmed  bool
	t3RtxDeadline time.Time

	sackDue      bool
	sackDeadline time.Time

	reconfigReqSeq  uint32
	pendingResets   map[uint16]*pendingReset // outgoing reset awaiting response, keyed by stream id

	transmitQueue [][]byte
	eventQueue    []Event

	closed bool
}

type pendingReset struct {
	reqSeq uint32
	sentAt time.Time
}

// New constructs an Association in the role-appropriate initial state.
// The client side immediately has an INIT ready to send via PollTransmit;
// the server side waits for one.
func New(cfg Config) (*Association, error) {
	cfg.withDefaults()

	tag, err := randutil.NewMathRandomGenerator().Uint32()
	if err != nil {
		return nil, fmt.Errorf("sctp: generating verification tag: %w", err)
	}
	tsn, err := randutil.NewMathRandomGenerator().Uint32()
	if err != nil {
		return nil, fmt.Errorf("sctp: generating initial TSN: %w", err)
	}

	a := &Association{
		log:            cfg.LoggerFactory.NewLogger("sctp"),
		cfg:            cfg,
		state:          StateClosed,
		myVerificationTag: tag,
		myNextTSN:      tsn,
		peerCumAck:     tsn - 1,
		streams:        make(map[uint16]*Stream),
		outOfOrderRecv: make(map[uint32]*ChunkData),
		pendingResets:  make(map[uint16]*pendingReset),
		cwnd:           4 * cfg.MTU,
		ssthresh:       1 << 30,
		rto:            minRTO,
	}

	if cfg.Role == RoleClient {
		a.state = StateCookieWait
		a.sendInit()
	}
	return a, nil
}

func (a *Association) State() State { return a.state }

// --- outbound queue plumbing ---

func (a *Association) queuePacket(p *Packet) {
	p.SourcePort = a.cfg.LocalPort
	p.DestinationPort = a.cfg.RemotePort
	p.VerificationTag = a.peerVerificationTag
	raw, err := p.Marshal()
	if err != nil {
		a.log.Errorf("sctp: marshal packet: %v", err)
		return
	}
	a.transmitQueue = append(a.transmitQueue, raw)
}

func (a *Association) queueChunk(c Chunk) {
	a.queuePacket(&Packet{Chunks: []Chunk{c}})
}

// PollTransmit drains one outbound SCTP packet (already assembled into
// one or more chunks); the caller (the DTLS handler, per spec.md §4.5)
// hands this to DtlsEndpoint.HandleWrite.
func (a *Association) PollTransmit() ([]byte, bool) {
	if len(a.transmitQueue) == 0 {
		return nil, false
	}
	raw := a.transmitQueue[0]
	a.transmitQueue = a.transmitQueue[1:]
	return raw, true
}

func (a *Association) PollEvent() (Event, bool) {
	if len(a.eventQueue) == 0 {
		return Event{}, false
	}
	e := a.eventQueue[0]
	a.eventQueue = a.eventQueue[1:]
	return e, true
}

// PollTimeout returns the earliest instant HandleTimeout must next be
// called at (spec.md §5): the INIT retransmit timer, the T3-rtx
// retransmit timer, and the SACK delay timer, whichever is soonest.
func (a *Association) PollTimeout() (time.Time, bool) {
	var deadline time.Time
	consider := func(t time.Time, ok bool) {
		if !ok {
			return
		}
		if deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}
	consider(a.lastInitSentAt.Add(a.initRTO()), !a.lastInitSentAt.IsZero() && a.state == StateCookieWait)
	consider(a.t3RtxDeadline, a.t3RtxArmed)
	consider(a.sackDeadline, a.sackDue)
	return deadline, !deadline.IsZero()
}

func (a *Association) initRTO() time.Duration {
	d := time.Second << uint(a.initRetransmits)
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// --- handshake ---

func (a *Association) sendInit() {
	a.lastInitSentAt = time.Time{} // set on first HandleTimeout/PollTransmit drain by caller's clock; see HandleTimeout
	init := &ChunkInit{
		InitiateTag:        a.myVerificationTag,
		AdvertisedWindow:   1 << 20,
		NumOutboundStreams: a.cfg.MaxOutboundStreams,
		NumInboundStreams:  a.cfg.MaxInboundStreams,
		InitialTSN:         a.myNextTSN,
		ForwardTSNSupported: true,
	}
	a.queuePacket(&Packet{Chunks: []Chunk{init}})
}

// HandleRead consumes one inbound SCTP packet (spec.md §4.3).
func (a *Association) HandleRead(now time.Time, raw []byte) error {
	if a.closed {
		return ErrAssociationClosed
	}
	p, err := Unmarshal(raw)
	if err != nil {
		a.log.Warnf("sctp: dropping malformed packet: %v", err)
		return nil // Wire-format error: drop, never surface (spec.md §7)
	}
	isInit := false
	if len(p.Chunks) > 0 {
		if c, ok := p.Chunks[0].(*ChunkInit); ok && !c.ack {
			isInit = true
		}
	}
	if !isInit && p.VerificationTag != a.myVerificationTag {
		a.log.Warnf("sctp: dropping packet: %v", ErrVerificationTagMismatch)
		return nil
	}

	for _, c := range p.Chunks {
		if err := a.handleChunk(now, c); err != nil {
			return err
		}
	}
	if a.sackDue && a.sackDeadline.IsZero() {
		a.sackDeadline = now
	}
	return nil
}

func (a *Association) handleChunk(now time.Time, c Chunk) error {
	switch v := c.(type) {
	case *ChunkInit:
		if v.ack {
			return a.handleInitAck(now, v)
		}
		return a.handleInit(now, v)
	case *ChunkCookieEcho:
		return a.handleCookieEcho(now, v)
	case *ChunkCookieAck:
		return a.handleCookieAck(now)
	case *ChunkData:
		return a.handleData(now, v)
	case *ChunkSack:
		return a.handleSack(now, v)
	case *ChunkForwardTSN:
		return a.handleForwardTSN(now, v)
	case *ChunkReConfig:
		return a.handleReConfig(now, v)
	case *ChunkAbort:
		a.eventQueue = append(a.eventQueue, Event{Kind: EventAborted, Reason: v.Reason})
		a.state = StateClosed
		a.closed = true
		return nil
	case *ChunkShutdown:
		return a.handleShutdown(now, v)
	case *ChunkShutdownAck:
		return a.handleShutdownAck(now)
	case *ChunkShutdownComplete:
		a.finishClose()
		return nil
	case *ChunkHeartbeat:
		if !v.ack {
			a.queueChunk(&ChunkHeartbeat{ack: true, Info: v.Info})
		}
		return nil
	}
	return nil
}

func (a *Association) handleInit(now time.Time, v *ChunkInit) error {
	// Server side, first INIT: RFC 4960 §5.1.
	a.peerVerificationTag = v.InitiateTag
	a.peerInitTSN = v.InitialTSN
	a.cumulativeTSNAckPoint = v.InitialTSN - 1
	a.highestPeerTSN = v.InitialTSN - 1

	cookie, err := randutil.GenerateCryptoRandomString(32, "0123456789abcdef")
	if err != nil {
		return fmt.Errorf("sctp: generating state cookie: %w", err)
	}
	a.myCookie = []byte(cookie)

	ack := &ChunkInit{
		ack:                true,
		InitiateTag:        a.myVerificationTag,
		AdvertisedWindow:   1 << 20,
		NumOutboundStreams: a.cfg.MaxOutboundStreams,
		NumInboundStreams:  a.cfg.MaxInboundStreams,
		InitialTSN:         a.myNextTSN,
		Cookie:             a.myCookie,
		ForwardTSNSupported: true,
	}
	a.queuePacket(&Packet{Chunks: []Chunk{ack}})
	return nil
}

func (a *Association) handleInitAck(now time.Time, v *ChunkInit) error {
	if a.state != StateCookieWait {
		return nil // duplicate/late INIT-ACK, ignore
	}
	a.peerVerificationTag = v.InitiateTag
	a.peerInitTSN = v.InitialTSN
	a.cumulativeTSNAckPoint = v.InitialTSN - 1
	a.highestPeerTSN = v.InitialTSN - 1

	a.state = StateCookieEchoed
	a.queueChunk(&ChunkCookieEcho{Cookie: v.Cookie})
	return nil
}

func (a *Association) handleCookieEcho(now time.Time, v *ChunkCookieEcho) error {
	// Stateless validation: this association only ever issues one cookie
	// per handshake attempt, so a byte-equal check is sufficient (a
	// production implementation would HMAC the cookie instead of holding
	// it, to stay stateless across server restarts).
	if string(v.Cookie) != string(a.myCookie) {
		a.log.Warnf("sctp: COOKIE-ECHO cookie mismatch, dropping")
		return nil
	}
	a.queueChunk(&ChunkCookieAck{})
	a.establish(now)
	return nil
}

func (a *Association) handleCookieAck(now time.Time) error {
	if a.state != StateCookieEchoed {
		return nil
	}
	a.establish(now)
	return nil
}

func (a *Association) establish(now time.Time) {
	a.state = StateEstablished
	a.eventQueue = append(a.eventQueue, Event{Kind: EventEstablished})
}

// --- streams ---

// OpenStream allocates local stream state for an application-initiated
// DataChannel (spec.md §3 DataChannel lifecycle Connecting state).
func (a *Association) OpenStream(id uint16) (*Stream, error) {
	if _, ok := a.streams[id]; ok {
		return a.streams[id], nil
	}
	if len(a.streams) >= int(a.cfg.MaxOutboundStreams) {
		return nil, ErrMaxDataChannelsReached
	}
	s := newStream(id)
	a.streams[id] = s
	return s, nil
}

func (a *Association) streamFor(id uint16) *Stream {
	s, ok := a.streams[id]
	if !ok {
		s = newStream(id)
		a.streams[id] = s
		a.eventQueue = append(a.eventQueue, Event{Kind: EventStreamOpened, StreamID: id})
	}
	return s
}

// --- sending data ---

// SendMessage fragments data into DATA chunks (each at most MTU-sized)
// and enqueues them for transmission, subject to the congestion window
// (spec.md §4.3/§4.4 DataChannel layer).
func (a *Association) SendMessage(now time.Time, streamID uint16, ppi PPI, data []byte, rel Reliability) error {
	if a.closed {
		return ErrAssociationClosed
	}
	s, ok := a.streams[streamID]
	if !ok {
		s = newStream(streamID)
		a.streams[streamID] = s
	}

	msg := &outboundMessage{streamID: streamID, ppi: ppi, reliability: rel, submittedAt: now}

	if len(data) == 0 {
		emptyPPI := ppi
		switch ppi {
		case PPIString:
			emptyPPI = PPIStringEmpty
		case PPIBinary:
			emptyPPI = PPIBinaryEmpty
		}
		msg.chunks = []*ChunkData{a.newDataChunk(s, emptyPPI, []byte{0}, true, true, !rel.Ordered)}
	} else {
		chunkSize := a.cfg.MTU - chunkDataHeaderLen - packetHeaderLen
		for off := 0; off < len(data); off += chunkSize {
			end := off + chunkSize
			if end > len(data) {
				end = len(data)
			}
			msg.chunks = append(msg.chunks, a.newDataChunk(s, ppi, data[off:end], off == 0, end == len(data), !rel.Ordered))
		}
	}
	if rel.Ordered {
		s.nextSendSeq++
	}

	a.pending = append(a.pending, msg)
	a.drainPending(now)
	return nil
}

func (a *Association) newDataChunk(s *Stream, ppi PPI, data []byte, begin, end, unordered bool) *ChunkData {
	c := &ChunkData{
		TSN:       a.myNextTSN,
		StreamID:  s.id,
		PPI:       ppi,
		UserData:  append([]byte(nil), data...),
		Beginning: begin,
		Ending:    end,
		Unordered: unordered,
	}
	if !unordered {
		c.StreamSeq = s.nextSendSeq
	}
	a.myNextTSN++
	return c
}

// drainPending sends queued messages' chunks while the congestion window
// has room, oldest message first (RFC 4960 §6.1 classic send behaviour).
func (a *Association) drainPending(now time.Time) {
	for len(a.pending) > 0 {
		msg := a.pending[0]
		sent := 0
		for _, c := range msg.chunks {
			if c.acked {
				sent++
				continue
			}
			if a.flightSize+c.DataLen() > a.cwnd {
				a.flushOutbound()
				return
			}
			c.sentAt = now.UnixNano()
			c.submittedAtNano = msg.submittedAt.UnixNano()
			a.flightSize += c.DataLen()
			a.queueChunk(c)
			sent++
		}
		a.pending = a.pending[1:]
		a.unacked = append(a.unacked, msg)
		if !a.t3RtxArmed {
			a.armT3Rtx(now)
		}
	}
	a.flushOutbound()
}

func (a *Association) flushOutbound() {}

func (a *Association) armT3Rtx(now time.Time) {
	a.t3RtxArmed = true
	a.t3RtxDeadline = now.Add(a.rto)
}

// --- receiving data ---

func (a *Association) handleData(now time.Time, c *ChunkData) error {
	if tsnLess(c.TSN, a.cumulativeTSNAckPoint+1) {
		return nil // duplicate of already-acked TSN
	}
	if c.TSN != a.highestPeerTSN+1 && tsnLess(a.highestPeerTSN, c.TSN) {
		a.outOfOrderRecv[c.TSN] = c
		a.sackDue = true
		if a.sackDeadline.IsZero() {
			a.sackDeadline = now // immediate SACK on out-of-order arrival
		}
	} else if c.TSN == a.cumulativeTSNAckPoint+1 {
		a.cumulativeTSNAckPoint = c.TSN
		a.deliverOrAssemble(c)
		// absorb any contiguous out-of-order chunks now unblocked
		for {
			next, ok := a.outOfOrderRecv[a.cumulativeTSNAckPoint+1]
			if !ok {
				break
			}
			delete(a.outOfOrderRecv, a.cumulativeTSNAckPoint+1)
			a.cumulativeTSNAckPoint++
			a.deliverOrAssemble(next)
		}
		if !a.sackDue {
			a.sackDue = true
			if a.sackDeadline.IsZero() {
				a.sackDeadline = now.Add(a.cfg.SackDelay)
			}
		}
	}
	if tsnLess(a.highestPeerTSN, c.TSN) {
		a.highestPeerTSN = c.TSN
	}
	return nil
}

// tsnLess compares TSNs with signed 32-bit wraparound semantics
// (spec.md §8 boundary behaviour: "SCTP TSN wrap is handled via signed
// 32-bit comparison").
func tsnLess(a, b uint32) bool {
	return int32(a-b) < 0
}

func (a *Association) deliverOrAssemble(c *ChunkData) {
	s := a.streamFor(c.StreamID)

	if c.Beginning && c.Ending {
		a.deliverMessage(s, c.StreamSeq, c.PPI, c.UserData, c.Unordered)
		return
	}

	entry, ok := s.reassembly[c.StreamSeq]
	if !ok {
		entry = &reassemblyEntry{}
		s.reassembly[c.StreamSeq] = entry
	}
	entry.chunks = append(entry.chunks, c)

	if !entry.chunks[0].Beginning {
		return
	}
	last := entry.chunks[len(entry.chunks)-1]
	if !last.Ending {
		return
	}
	var data []byte
	for _, frag := range entry.chunks {
		data = append(data, frag.UserData...)
	}
	delete(s.reassembly, c.StreamSeq)
	a.deliverMessage(s, c.StreamSeq, entry.chunks[0].PPI, data, c.Unordered)
}

func (a *Association) deliverMessage(s *Stream, seq uint16, ppi PPI, data []byte, unordered bool) {
	if unordered {
		a.eventQueue = append(a.eventQueue, Event{Kind: EventMessage, StreamID: s.id, PPI: ppi, Data: data})
		return
	}
	if seq != s.nextRecvSeq {
		s.pendingOrdered[seq] = deliveredMessage{ppi: ppi, data: data}
		return
	}
	a.eventQueue = append(a.eventQueue, Event{Kind: EventMessage, StreamID: s.id, PPI: ppi, Data: data})
	s.nextRecvSeq++
	for {
		m, ok := s.pendingOrdered[s.nextRecvSeq]
		if !ok {
			break
		}
		delete(s.pendingOrdered, s.nextRecvSeq)
		a.eventQueue = append(a.eventQueue, Event{Kind: EventMessage, StreamID: s.id, PPI: m.ppi, Data: m.data})
		s.nextRecvSeq++
	}
}

// --- SACK generation ---

func (a *Association) buildSack() *ChunkSack {
	sack := &ChunkSack{CumulativeTSNAck: a.cumulativeTSNAckPoint, AdvertisedWindow: 1 << 20}
	if len(a.outOfOrderRecv) == 0 {
		return sack
	}
	tsns := make([]uint32, 0, len(a.outOfOrderRecv))
	for t := range a.outOfOrderRecv {
		tsns = append(tsns, t)
	}
	sortUint32(tsns)
	start := tsns[0]
	prev := tsns[0]
	for _, t := range tsns[1:] {
		if t != prev+1 {
			sack.GapAckBlocks = append(sack.GapAckBlocks, GapAckBlock{
				Start: uint16(start - a.cumulativeTSNAckPoint),
				End:   uint16(prev - a.cumulativeTSNAckPoint),
			})
			start = t
		}
		prev = t
	}
	sack.GapAckBlocks = append(sack.GapAckBlocks, GapAckBlock{
		Start: uint16(start - a.cumulativeTSNAckPoint),
		End:   uint16(prev - a.cumulativeTSNAckPoint),
	})
	return sack
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// --- handling SACK (peer acking our DATA) ---

func (a *Association) handleSack(now time.Time, v *ChunkSack) error {
	advanced := tsnLess(a.peerAckPoint(), v.CumulativeTSNAck)
	acked := 0
	remaining := a.unacked[:0]
	for _, msg := range a.unacked {
		allAcked := true
		for _, c := range msg.chunks {
			if !c.acked && !tsnLess(v.CumulativeTSNAck, c.TSN) {
				c.acked = true
				acked += c.DataLen()
				if !a.rttSample && c.retransmitCount == 0 {
					a.sampleRTT(now.Sub(time.Unix(0, c.sentAt)))
				}
			}
			if !c.acked {
				allAcked = false
			}
		}
		if !allAcked {
			remaining = append(remaining, msg)
		}
	}
	a.unacked = remaining
	a.setPeerAckPoint(v.CumulativeTSNAck)

	a.flightSize -= acked
	if a.flightSize < 0 {
		a.flightSize = 0
	}
	if advanced {
		if a.cwnd < a.ssthresh {
			a.cwnd += min(acked, a.cfg.MTU) // slow start
		} else {
			a.cwnd += a.cfg.MTU * a.cfg.MTU / max(a.cwnd, 1) // congestion avoidance
		}
		a.t3RtxArmed = len(a.unacked) > 0
		if a.t3RtxArmed {
			a.armT3Rtx(now)
		}
	}
	a.drainPending(now)
	a.maybeAbandonTimed(now)
	return nil
}

// peerAckPoint/setPeerAckPoint track the highest TSN of ours the peer has
// cumulatively acked, kept as a field on Association to avoid a second
// near-duplicate of cumulativeTSNAckPoint (which tracks the opposite
// direction).
func (a *Association) peerAckPoint() uint32 { return a.peerCumAck }
func (a *Association) setPeerAckPoint(v uint32) { a.peerCumAck = v }

func (a *Association) sampleRTT(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	if !a.rttSample {
		a.srtt = rtt
		a.rttvar = rtt / 2
		a.rttSample = true
	} else {
		diff := a.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		a.rttvar = time.Duration((1-rtoBeta)*float64(a.rttvar) + rtoBeta*float64(diff))
		a.srtt = time.Duration((1-rtoAlpha)*float64(a.srtt) + rtoAlpha*float64(rtt))
	}
	a.rto = a.srtt + 4*a.rttvar
	if a.rto < minRTO {
		a.rto = minRTO
	}
	if a.rto > maxRTO {
		a.rto = maxRTO
	}
}

// --- partial reliability / FORWARD-TSN ---

func (a *Association) maybeAbandonTimed(now time.Time) {
	for _, msg := range a.unacked {
		if msg.abandoned || msg.reliability.Mode != ReliabilityModeTimed {
			continue
		}
		if now.Sub(msg.submittedAt) >= time.Duration(msg.reliability.Param)*time.Millisecond {
			a.abandon(msg)
		}
	}
	a.sendForwardTSNIfNeeded()
}

func (a *Association) onRetransmitAbandonCheck(msg *outboundMessage) {
	if msg.reliability.Mode != ReliabilityModeRexmit {
		return
	}
	maxChunkRetransmits := 0
	for _, c := range msg.chunks {
		if c.retransmitCount > maxChunkRetransmits {
			maxChunkRetransmits = c.retransmitCount
		}
	}
	if uint32(maxChunkRetransmits) > msg.reliability.Param {
		a.abandon(msg)
	}
}

func (a *Association) abandon(msg *outboundMessage) {
	msg.abandoned = true
	for _, c := range msg.chunks {
		c.acked = true
	}
}

func (a *Association) sendForwardTSNIfNeeded() {
	newCum := a.peerAckPoint()
	var streams []ForwardTSNStream
	remaining := a.unacked[:0]
	for _, msg := range a.unacked {
		if !msg.abandoned {
			remaining = append(remaining, msg)
			continue
		}
		for _, c := range msg.chunks {
			if tsnLess(newCum, c.TSN) {
				newCum = c.TSN
			}
		}
		if !msg.reliability.Ordered {
			continue
		}
		streams = append(streams, ForwardTSNStream{StreamID: msg.streamID, StreamSeq: msg.chunks[0].StreamSeq})
	}
	a.unacked = remaining
	if newCum == a.peerAckPoint() {
		return
	}
	a.setPeerAckPoint(newCum)
	a.queueChunk(&ChunkForwardTSN{NewCumulativeTSN: newCum, Streams: streams})
}

func (a *Association) handleForwardTSN(now time.Time, v *ChunkForwardTSN) error {
	if tsnLess(v.NewCumulativeTSN, a.cumulativeTSNAckPoint) {
		return nil
	}
	a.cumulativeTSNAckPoint = v.NewCumulativeTSN
	for tsn := range a.outOfOrderRecv {
		if !tsnLess(v.NewCumulativeTSN, tsn) {
			delete(a.outOfOrderRecv, tsn)
		}
	}
	for _, s := range v.Streams {
		if stream, ok := a.streams[s.StreamID]; ok {
			if s.StreamSeq >= stream.nextRecvSeq {
				stream.nextRecvSeq = s.StreamSeq + 1
			}
		}
	}
	a.sackDue = true
	if a.sackDeadline.IsZero() {
		a.sackDeadline = now
	}
	return nil
}

// --- stream reset (RE-CONFIG) ---

// ResetStream sends an outgoing stream-reset request (spec.md §4.3), used
// to signal DataChannel close.
func (a *Association) ResetStream(now time.Time, streamID uint16) {
	a.reconfigReqSeq++
	req := OutgoingResetRequest{
		ReqSeqNum: a.reconfigReqSeq,
		LastTSN:   a.myNextTSN - 1,
		StreamIDs: []uint16{streamID},
	}
	a.pendingResets[streamID] = &pendingReset{reqSeq: a.reconfigReqSeq, sentAt: now}
	a.queueChunk(&ChunkReConfig{OutgoingReset: &req})
}

func (a *Association) handleReConfig(now time.Time, v *ChunkReConfig) error {
	if v.OutgoingReset != nil {
		for _, sid := range v.OutgoingReset.StreamIDs {
			if s, ok := a.streams[sid]; ok {
				s.nextRecvSeq = 0
				s.closed = true
			}
			a.eventQueue = append(a.eventQueue, Event{Kind: EventStreamClosed, StreamID: sid})
		}
		a.queueChunk(&ChunkReConfig{Response: &ReconfigResponse{
			RespSeqNum: v.OutgoingReset.ReqSeqNum,
			Result:     ReconfigResultSuccess,
		}})
	}
	if v.Response != nil {
		for sid, pr := range a.pendingResets {
			if pr.reqSeq == v.Response.RespSeqNum {
				delete(a.pendingResets, sid)
				if s, ok := a.streams[sid]; ok {
					s.closed = true
				}
				a.eventQueue = append(a.eventQueue, Event{Kind: EventStreamClosed, StreamID: sid})
			}
		}
	}
	return nil
}

// --- shutdown ---

// Shutdown begins graceful association close (spec.md §5): the initiator
// reports Closed when the peer's SHUTDOWN-ACK arrives (answering it with
// SHUTDOWN-COMPLETE), the responder when SHUTDOWN-COMPLETE arrives. No
// shutdown timer runs, so a close whose peer never answers stays open.
func (a *Association) Shutdown(now time.Time) {
	if a.state != StateEstablished {
		return
	}
	a.state = StateShutdownPending
	if len(a.unacked) == 0 && len(a.pending) == 0 {
		a.state = StateShutdownSent
		a.queueChunk(&ChunkShutdown{CumulativeTSNAck: a.cumulativeTSNAckPoint})
	}
}

func (a *Association) handleShutdown(now time.Time, v *ChunkShutdown) error {
	a.state = StateShutdownReceived
	a.queueChunk(&ChunkShutdownAck{})
	a.state = StateShutdownAckSent
	return nil
}

func (a *Association) handleShutdownAck(now time.Time) error {
	a.queueChunk(&ChunkShutdownComplete{})
	a.finishClose()
	return nil
}

func (a *Association) finishClose() {
	a.state = StateClosed
	a.closed = true
	a.eventQueue = append(a.eventQueue, Event{Kind: EventClosed})
}

// Close marks the association Closed immediately (spec.md §5 Cancellation
// / close: "drops all per-peer connections, drains outbound queues").
func (a *Association) Close() {
	a.closed = true
	a.state = StateClosed
	a.transmitQueue = nil
}

// HandleTimeout advances retransmit and SACK-delay timers.
func (a *Association) HandleTimeout(now time.Time) {
	if a.closed {
		return
	}
	if a.state == StateCookieWait {
		if a.lastInitSentAt.IsZero() {
			a.lastInitSentAt = now
		} else if !now.Before(a.lastInitSentAt.Add(a.initRTO())) {
			a.initRetransmits++
			if a.initRetransmits > a.cfg.MaxInitRetransmissions {
				a.state = StateClosed
				a.closed = true
				a.eventQueue = append(a.eventQueue, Event{Kind: EventClosed, Reason: "init retransmit limit exceeded"})
				return
			}
			a.lastInitSentAt = now
			a.sendInit()
		}
	}
	if a.t3RtxArmed && !now.Before(a.t3RtxDeadline) {
		a.onT3RtxTimeout(now)
	}
	if a.sackDue && !now.Before(a.sackDeadline) {
		a.queueChunk(a.buildSack())
		a.sackDue = false
		a.sackDeadline = time.Time{}
	}
	a.maybeAbandonTimed(now)
}

func (a *Association) onT3RtxTimeout(now time.Time) {
	a.ssthresh = max(a.flightSize/2, 2*a.cfg.MTU)
	a.cwnd = a.cfg.MTU
	a.flightSize = 0

	for _, msg := range a.unacked {
		if msg.abandoned {
			continue
		}
		for _, c := range msg.chunks {
			if c.acked {
				continue
			}
			c.retransmitCount++
			c.sentAt = now.UnixNano()
			a.flightSize += c.DataLen()
			a.queueChunk(c)
		}
		a.onRetransmitAbandonCheck(msg)
	}
	a.sendForwardTSNIfNeeded()
	a.rto *= 2
	if a.rto > maxRTO {
		a.rto = maxRTO
	}
	if len(a.unacked) > 0 {
		a.armT3Rtx(now)
	} else {
		a.t3RtxArmed = false
	}
}
