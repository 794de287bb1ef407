package ice

import (
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/sansio-rtc/rtc/internal/stun"
	"github.com/sansio-rtc/rtc/internal/transport"
)

// Config configures an Agent. All durations default per spec.md §4.1 when
// zero; Ta, RTO and the consent timers are the only operator knobs — there
// is no background gathering here (gathering input is supplied externally,
// spec.md §1 Non-goals).
type Config struct {
	IsControlling bool
	LocalUfrag    string // generated by the caller if empty
	LocalPwd      string

	Ta                  time.Duration // pacing interval between checks, default 50ms
	InitialRTO          time.Duration // default 500ms
	MaxRetransmissions  int           // default 7
	ConsentInterval     time.Duration // default 5s
	FailedTimeout       time.Duration // default 5s, Connected -> Disconnected
	DisconnectedTimeout time.Duration // default 5s, Disconnected -> Failed
	MDNSEnabled         bool

	LoggerFactory logging.LoggerFactory
}

func (c *Config) withDefaults() {
	if c.Ta == 0 {
		c.Ta = 50 * time.Millisecond
	}
	if c.InitialRTO == 0 {
		c.InitialRTO = 500 * time.Millisecond
	}
	if c.MaxRetransmissions == 0 {
		c.MaxRetransmissions = 7
	}
	if c.ConsentInterval == 0 {
		c.ConsentInterval = 5 * time.Second
	}
	if c.FailedTimeout == 0 {
		c.FailedTimeout = 5 * time.Second
	}
	if c.DisconnectedTimeout == 0 {
		c.DisconnectedTimeout = 5 * time.Second
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

type pendingCheck struct {
	pair       *CandidatePair
	dest       *net.UDPAddr
	sentAt     transport.Instant
	nomination bool
}

// Agent is the sans-I/O ICE agent of spec.md §4.1: candidate gathering
// input, connectivity checking, nomination and consent freshness. It owns
// no socket and no goroutine; the caller drives it entirely through
// HandleRead/HandleTimeout and drains PollTransmit/PollEvent/PollTimeout.
//
// A task-loop-and-channels agent would plumb state through a taskChan
// and an onConnected callback and run its own periodic connectivity
// ticker; here that plumbing is replaced by explicit queues the caller
// drains, and the ticker becomes an externally driven HandleTimeout call
// (spec.md §9).
type Agent struct {
	log logging.LeveledLogger

	cfg Config

	localUfrag, localPwd   string
	remoteUfrag, remotePwd string
	isControlling          bool
	tiebreaker             uint64

	localCandidates  []*Candidate
	remoteCandidates []*Candidate
	checklist        []*CandidatePair

	pending map[stun.TransactionID]*pendingCheck

	state         ConnectionState
	nominatedPair *CandidatePair

	lastCheckSent      transport.Instant
	lastConsentSent    transport.Instant
	lastConsentSuccess transport.Instant
	disconnectedSince  transport.Instant
	started            bool
	closed             bool

	transmitQueue []transport.Transmit
	eventQueue    []Event
}

// New constructs an Agent. Pre-set credentials in Config are used as
// given, without validation; New fails only when generating a missing
// local ufrag or pwd fails.
func New(cfg Config) (*Agent, error) {
	cfg.withDefaults()

	a := &Agent{
		log:           cfg.LoggerFactory.NewLogger("ice"),
		cfg:           cfg,
		isControlling: cfg.IsControlling,
		tiebreaker:    GenerateTiebreaker(),
		pending:       make(map[stun.TransactionID]*pendingCheck),
		state:         ConnectionStateNew,
	}

	var err error
	a.localUfrag = cfg.LocalUfrag
	if a.localUfrag == "" {
		if a.localUfrag, err = GenerateUfrag(); err != nil {
			return nil, err
		}
	}
	a.localPwd = cfg.LocalPwd
	if a.localPwd == "" {
		if a.localPwd, err = GeneratePwd(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// LocalCredentials returns the agent's current (ufrag, pwd).
func (a *Agent) LocalCredentials() (ufrag, pwd string) { return a.localUfrag, a.localPwd }

// Restart resets the checklist and both local and remote candidate sets,
// and installs new local credentials. Called only on ICE restart
// (spec.md §3). Rejects a restart that does not actually rotate entropy.
func (a *Agent) Restart(newUfrag, newPwd string) error {
	if newUfrag == a.localUfrag && newPwd == a.localPwd {
		return ErrInsufficientEntropy
	}
	a.localUfrag = newUfrag
	a.localPwd = newPwd
	a.remoteUfrag = ""
	a.remotePwd = ""
	a.localCandidates = nil
	a.remoteCandidates = nil
	a.checklist = nil
	a.pending = make(map[stun.TransactionID]*pendingCheck)
	a.nominatedPair = nil
	a.state = ConnectionStateNew
	return nil
}

// AddLocalCandidate registers a candidate gathered externally
// (spec.md §1 Non-goals: gathering itself is out of scope).
func (a *Agent) AddLocalCandidate(c *Candidate) {
	a.localCandidates = append(a.localCandidates, c)
	a.eventQueue = append(a.eventQueue, Event{Kind: EventLocalCandidate, Candidate: c})
	a.rebuildChecklist()
}

// AddRemoteCandidate registers a remote candidate, parsed from SDP or
// trickled in by the application.
func (a *Agent) AddRemoteCandidate(c *Candidate) error {
	if c.Type == CandidateTypeHost && !a.cfg.MDNSEnabled && isMDNSName(c.Address) {
		return ErrRemoteMDNSDisabled
	}
	a.remoteCandidates = append(a.remoteCandidates, c)
	a.rebuildChecklist()
	return nil
}

func isMDNSName(addr string) bool {
	n := len(addr)
	return n > len(".local") && addr[n-len(".local"):] == ".local"
}

// StartConnectivityChecks begins checking with the given role and remote
// short-term credentials (spec.md §4.1).
func (a *Agent) StartConnectivityChecks(isControlling bool, remoteUfrag, remotePwd string) {
	a.isControlling = isControlling
	a.remoteUfrag = remoteUfrag
	a.remotePwd = remotePwd
	a.started = true
	a.rebuildChecklist()
	a.setState(ConnectionStateChecking)
}

// rebuildChecklist regenerates checklist pairs as the cartesian product of
// local x remote candidates of equal component, dropping pairs whose
// address families differ (spec.md §4.1), then re-sorts and re-prunes.
func (a *Agent) rebuildChecklist() {
	existing := make(map[string]*CandidatePair, len(a.checklist))
	for _, p := range a.checklist {
		existing[pairKey(p.Local, p.Remote)] = p
	}

	var next []*CandidatePair
	for _, l := range a.localCandidates {
		for _, r := range a.remoteCandidates {
			if l.Component != r.Component {
				continue
			}
			key := pairKey(l, r)
			if p, ok := existing[key]; ok {
				next = append(next, p)
				continue
			}
			p := &CandidatePair{Local: l, Remote: r, State: PairFrozen}
			if !p.sameAddressFamily() {
				continue
			}
			next = append(next, p)
		}
	}
	a.checklist = next
	a.prioritizeAndFreeze()
}

func pairKey(l, r *Candidate) string {
	return l.Address + ":" + itoa(l.Port) + "/" + r.Address + ":" + itoa(r.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// prioritizeAndFreeze sorts the checklist by pair priority and unfreezes
// the top pair per foundation, freezing the rest (RFC 8445 §6.1.2.6). Per
// spec.md §9 Open Questions, unfreezing is scoped within a foundation, not
// globally on first success, following the RFC precisely rather than
// taking a shortcut.
func (a *Agent) prioritizeAndFreeze() {
	// Stable insertion sort by descending priority; checklists are small
	// (bounded by local x remote candidates), so O(n^2) is fine and keeps
	// equal-priority pairs in discovery order.
	for i := 1; i < len(a.checklist); i++ {
		for j := i; j > 0 && a.checklist[j].Priority(a.isControlling) > a.checklist[j-1].Priority(a.isControlling); j-- {
			a.checklist[j], a.checklist[j-1] = a.checklist[j-1], a.checklist[j]
		}
	}

	seenFoundation := map[string]bool{}
	for _, p := range a.checklist {
		if p.State != PairFrozen && p.State != PairWaiting {
			continue
		}
		fk := p.foundationKey()
		if !seenFoundation[fk] {
			p.State = PairWaiting
			seenFoundation[fk] = true
		} else if p.State != PairWaiting {
			p.State = PairFrozen
		}
	}
}

// unfreezeFoundation promotes every Frozen pair sharing fk to Waiting, run
// when any pair with that foundation reaches Succeeded (spec.md §4.1).
func (a *Agent) unfreezeFoundation(fk string) {
	for _, p := range a.checklist {
		if p.State == PairFrozen && p.foundationKey() == fk {
			p.State = PairWaiting
		}
	}
}

// HandleTimeout advances all timers: check pacing, retransmits, consent
// freshness and disconnected->failed promotion.
func (a *Agent) HandleTimeout(now transport.Instant) error {
	if a.closed {
		return ErrAgentClosed
	}
	if a.state == ConnectionStateClosed {
		return nil
	}

	if a.started && a.state != ConnectionStateFailed {
		a.checkRetransmits(now)
		a.paceNextCheck(now)
	}

	if a.state == ConnectionStateConnected || a.state == ConnectionStateCompleted {
		a.maintainConsent(now)
	}
	if a.state == ConnectionStateDisconnected {
		if !a.disconnectedSince.IsZero() && now.Sub(a.disconnectedSince) >= a.cfg.DisconnectedTimeout {
			a.setState(ConnectionStateFailed)
		}
	}
	return nil
}

// PollTimeout reports the next instant HandleTimeout should be called.
func (a *Agent) PollTimeout() (transport.Instant, bool) {
	if a.closed || a.state == ConnectionStateClosed || a.state == ConnectionStateFailed {
		return transport.Instant{}, false
	}
	var candidates []transport.Instant
	if a.started {
		candidates = append(candidates, a.lastCheckSent.Add(a.cfg.Ta))
		for _, pc := range a.pending {
			candidates = append(candidates, pc.sentAt.Add(a.currentRTO(pc.pair)))
		}
	}
	if a.state == ConnectionStateConnected || a.state == ConnectionStateCompleted {
		candidates = append(candidates, a.lastConsentSent.Add(a.cfg.ConsentInterval))
	}
	if len(candidates) == 0 {
		return transport.Instant{}, false
	}
	min := candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(min) {
			min = c
		}
	}
	return min, true
}

func (a *Agent) currentRTO(p *CandidatePair) time.Duration {
	rto := a.cfg.InitialRTO
	for i := 0; i < p.transmitCount-1; i++ {
		rto *= 2
	}
	return rto
}

// paceNextCheck sends at most one connectivity check per Ta, picking the
// highest-priority Waiting pair (spec.md §4.1).
func (a *Agent) paceNextCheck(now transport.Instant) {
	if !a.lastCheckSent.IsZero() && now.Sub(a.lastCheckSent) < a.cfg.Ta {
		return
	}
	var best *CandidatePair
	for _, p := range a.checklist {
		if p.State != PairWaiting {
			continue
		}
		if best == nil || p.Priority(a.isControlling) > best.Priority(a.isControlling) {
			best = p
		}
	}
	if best == nil {
		if a.checklistExhausted() {
			a.maybeComplete()
		}
		return
	}
	a.sendCheck(best, now, a.isControlling)
	a.lastCheckSent = now
}

func (a *Agent) checklistExhausted() bool {
	for _, p := range a.checklist {
		if p.State == PairWaiting || p.State == PairInProgress || p.State == PairFrozen {
			return false
		}
	}
	return len(a.checklist) > 0
}

func (a *Agent) maybeComplete() {
	for _, p := range a.checklist {
		if p.State == PairSucceeded && p.Nominated {
			a.setState(ConnectionStateCompleted)
			return
		}
	}
}

// sendCheck moves pair to InProgress and emits a Binding Request.
// Nomination policy is aggressive (spec.md §4.1): once any Succeeded pair
// exists for the controlling agent, USE-CANDIDATE is set on every check.
func (a *Agent) sendCheck(p *CandidatePair, now transport.Instant, isControlling bool) {
	p.State = PairInProgress
	p.transmitCount++

	var txID stun.TransactionID
	copy(txID[:], randomTransactionID())

	msg := stun.NewMessage(stun.Type{Method: stun.MethodBinding, Class: stun.ClassRequest}, txID)
	msg.SetUsername(a.remoteUfrag + ":" + a.localUfrag)
	msg.SetPriority(p.Local.Priority())
	if isControlling {
		msg.SetICEControlling(a.tiebreaker)
		if a.hasAnySucceeded() {
			msg.SetUseCandidate()
		}
	} else {
		msg.SetICEControlled(a.tiebreaker)
	}
	msg.AddMessageIntegrity([]byte(a.remotePwd))
	msg.AddFingerprint()

	a.pending[txID] = &pendingCheck{pair: p, dest: p.Remote.Addr(), sentAt: now, nomination: isControlling && a.hasAnySucceeded()}
	a.queueTransmit(now, p, msg.Marshal())
}

func (a *Agent) hasAnySucceeded() bool {
	for _, p := range a.checklist {
		if p.State == PairSucceeded {
			return true
		}
	}
	return false
}

func (a *Agent) checkRetransmits(now transport.Instant) {
	for txID, pc := range a.pending {
		rto := a.currentRTO(pc.pair)
		if now.Sub(pc.sentAt) < rto {
			continue
		}
		if pc.pair.transmitCount >= a.cfg.MaxRetransmissions {
			pc.pair.State = PairFailed
			delete(a.pending, txID)
			continue
		}
		delete(a.pending, txID)
		a.sendCheck(pc.pair, now, a.isControlling)
	}
}

// maintainConsent sends a consent-freshness Binding Request over the
// nominated pair every ConsentInterval (spec.md §4.1).
func (a *Agent) maintainConsent(now transport.Instant) {
	if a.nominatedPair == nil {
		return
	}
	if !a.lastConsentSent.IsZero() && now.Sub(a.lastConsentSent) < a.cfg.ConsentInterval {
		if a.state == ConnectionStateConnected && !a.lastConsentSuccess.IsZero() &&
			now.Sub(a.lastConsentSuccess) >= a.cfg.FailedTimeout {
			a.disconnectedSince = now
			a.setState(ConnectionStateDisconnected)
		}
		return
	}

	var txID stun.TransactionID
	copy(txID[:], randomTransactionID())
	msg := stun.NewMessage(stun.Type{Method: stun.MethodBinding, Class: stun.ClassRequest}, txID)
	msg.SetUsername(a.remoteUfrag + ":" + a.localUfrag)
	msg.AddMessageIntegrity([]byte(a.remotePwd))
	msg.AddFingerprint()
	a.pending[txID] = &pendingCheck{pair: a.nominatedPair, dest: a.nominatedPair.Remote.Addr(), sentAt: now}
	a.queueTransmit(now, a.nominatedPair, msg.Marshal())
	a.lastConsentSent = now
}

func (a *Agent) queueTransmit(now transport.Instant, p *CandidatePair, payload []byte) {
	a.transmitQueue = append(a.transmitQueue, transport.Transmit{
		Now: now,
		FourTuple: transport.FourTuple{
			LocalAddr: p.Local.Addr(),
			PeerAddr:  p.Remote.Addr(),
			Protocol:  transport.ProtocolUDP,
		},
		Payload: payload,
	})
}

// HandleRead consumes one inbound STUN message on src (the source address
// the datagram arrived from).
func (a *Agent) HandleRead(now transport.Instant, src *net.UDPAddr, raw []byte) error {
	if a.closed {
		return ErrAgentClosed
	}
	msg, err := stun.Unmarshal(raw)
	if err != nil {
		a.log.Debugf("ice: dropping malformed STUN message: %v", err)
		return nil
	}

	switch msg.Type.Class {
	case stun.ClassRequest:
		a.handleBindingRequest(now, src, msg)
	case stun.ClassSuccessResponse:
		a.handleBindingResponse(now, src, msg)
	default:
		// Indications and error responses are logged and dropped; a
		// protocol violation here is never fatal to the agent
		// (spec.md §4.1 Failure semantics).
		a.log.Debugf("ice: ignoring STUN message class %v", msg.Type.Class)
	}
	return nil
}

func (a *Agent) handleBindingRequest(now transport.Instant, src *net.UDPAddr, msg *stun.Message) {
	if !stun.VerifyMessageIntegrity(msg, []byte(a.localPwd)) {
		a.log.Debugf("ice: binding request failed MESSAGE-INTEGRITY from %v", src)
		return
	}

	local, remote := a.findPairByRemoteAddr(src)
	if remote == nil {
		prio, _ := msg.Priority()
		remote = NewPeerReflexiveCandidate(src, 1, prio)
		a.remoteCandidates = append(a.remoteCandidates, remote)
		a.rebuildChecklist()
		local, _ = a.findPairByRemoteAddr(src)
	}

	xorAddr, err := stun.EncodeXORMappedAddress(src, msg.TransactionID)
	if err == nil {
		resp := stun.NewMessage(stun.Type{Method: stun.MethodBinding, Class: stun.ClassSuccessResponse}, msg.TransactionID)
		resp.Add(stun.AttrXORMappedAddress, xorAddr)
		resp.AddMessageIntegrity([]byte(a.localPwd))
		resp.AddFingerprint()
		if local != nil {
			a.queueTransmit(now, local, resp.Marshal())
		} else {
			a.transmitQueue = append(a.transmitQueue, transport.Transmit{Now: now, FourTuple: transport.FourTuple{PeerAddr: src, Protocol: transport.ProtocolUDP}, Payload: resp.Marshal()})
		}
	}

	if !a.isControlling && msg.HasUseCandidate() && local != nil {
		a.nominate(local, now)
	}
}

func (a *Agent) findPairByRemoteAddr(addr *net.UDPAddr) (*CandidatePair, *Candidate) {
	for _, p := range a.checklist {
		ra := p.Remote.Addr()
		if ra.IP.Equal(addr.IP) && ra.Port == addr.Port {
			return p, p.Remote
		}
	}
	for _, c := range a.remoteCandidates {
		ca := c.Addr()
		if ca.IP.Equal(addr.IP) && ca.Port == addr.Port {
			return nil, c
		}
	}
	return nil, nil
}

func (a *Agent) handleBindingResponse(now transport.Instant, src *net.UDPAddr, msg *stun.Message) {
	pc, ok := a.pending[msg.TransactionID]
	if !ok {
		return // unmatched transaction id; ignore
	}
	delete(a.pending, msg.TransactionID)

	if !stun.VerifyMessageIntegrity(msg, []byte(a.remotePwd)) {
		a.log.Debugf("ice: binding response failed MESSAGE-INTEGRITY from %v", src)
		return
	}

	pc.pair.State = PairSucceeded
	pc.pair.RTT = now.Sub(pc.sentAt).Nanoseconds()
	a.unfreezeFoundation(pc.pair.foundationKey())

	if pc.pair == a.nominatedPair {
		a.lastConsentSuccess = now
	}
	if pc.nomination || (!a.isControlling && pc.pair.Nominated) {
		a.nominate(pc.pair, now)
	}
	if a.state == ConnectionStateChecking || a.state == ConnectionStateDisconnected {
		if a.nominatedPair != nil {
			a.setState(ConnectionStateConnected)
		}
	}
	if a.checklistExhausted() {
		a.maybeComplete()
	}
}

// nominate marks p as the nominated pair for its component. Exactly one
// pair per component may be nominated at a time (spec.md §3): a prior
// nomination is replaced only by a higher-priority Succeeded pair.
func (a *Agent) nominate(p *CandidatePair, now transport.Instant) {
	if a.nominatedPair != nil && a.nominatedPair != p {
		if p.Priority(a.isControlling) <= a.nominatedPair.Priority(a.isControlling) {
			return
		}
	}
	p.Nominated = true
	a.nominatedPair = p
	a.lastConsentSuccess = now
	a.eventQueue = append(a.eventQueue, Event{Kind: EventSelectedPairChange, Pair: p})
	if a.state == ConnectionStateNew || a.state == ConnectionStateChecking || a.state == ConnectionStateDisconnected {
		a.setState(ConnectionStateConnected)
	}
}

func (a *Agent) setState(s ConnectionState) {
	if a.state == s {
		return
	}
	a.state = s
	a.eventQueue = append(a.eventQueue, Event{Kind: EventConnectionStateChange, ConnectionState: s})
}

// State returns the current connection state.
func (a *Agent) State() ConnectionState { return a.state }

// SelectedPair returns the currently nominated pair, if any.
func (a *Agent) SelectedPair() *CandidatePair { return a.nominatedPair }

// PollTransmit drains one queued outbound STUN message, or false if empty
// (spec.md §3 Endpoint invariant).
func (a *Agent) PollTransmit() (transport.Transmit, bool) {
	if len(a.transmitQueue) == 0 {
		return transport.Transmit{}, false
	}
	t := a.transmitQueue[0]
	a.transmitQueue = a.transmitQueue[1:]
	return t, true
}

// PollEvent drains one queued Event, or false if empty.
func (a *Agent) PollEvent() (Event, bool) {
	if len(a.eventQueue) == 0 {
		return Event{}, false
	}
	e := a.eventQueue[0]
	a.eventQueue = a.eventQueue[1:]
	return e, true
}

// Close marks the agent Closed, drops per-peer state and drains the
// outbound queue (spec.md §5).
func (a *Agent) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.pending = map[stun.TransactionID]*pendingCheck{}
	a.transmitQueue = nil
	a.setState(ConnectionStateClosed)
}
