// Package rtc is the sans-I/O WebRTC endpoint this module builds towards:
// a PeerConnection that owns exactly one handler Pipeline per four-tuple
// (spec.md §9), offers/answers built and parsed through internal/sdp,
// and routes the pipeline's decrypted RTP/RTCP/SCTP events to
// RtpTransceivers and DataChannels (spec.md §4.5 stages 7-8). Like every
// handler beneath it, nothing here blocks or spawns a goroutine: callers
// drive it with HandleRead/HandleTimeout and drain PollTransmit/PollEvent.
package rtc

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/sansio-rtc/rtc/internal/datachannel"
	"github.com/sansio-rtc/rtc/internal/dtls"
	"github.com/sansio-rtc/rtc/internal/ice"
	"github.com/sansio-rtc/rtc/internal/pipeline"
	"github.com/sansio-rtc/rtc/internal/sctp"
	sdpcodec "github.com/sansio-rtc/rtc/internal/sdp"
	"github.com/sansio-rtc/rtc/internal/transport"
	"github.com/sansio-rtc/rtc/internal/twcc"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch, used to build SenderReport NTP
// timestamps from the caller-supplied `now` without ever reading the
// wall clock internally (spec.md §5).
const ntpEpochOffset = 2208988800

// nackSkipLastN leaves this many of the most recent sequence numbers
// ungenerated as NACKs, giving in-flight packets one round before being
// reported missing.
const nackSkipLastN = 2

// twccExtensionID is the one-byte RFC 8285 extension id this module
// negotiates for transport-wide congestion control sequence numbers
// (spec.md §2/§4.5/§6). Fixed rather than negotiated per extmap line,
// matching this module's PSK-only, offer/answer-without-renegotiation
// scope elsewhere (see internal/sdp's design notes).
const twccExtensionID = 3

// PeerConnection is the single per-four-tuple owner of a Pipeline, a set
// of RtpTransceivers, and a set of DataChannels (spec.md §9's
// one-pipeline-per-four-tuple rule; spec.md §3's RtpTransceiver/
// DataChannel data model).
type PeerConnection struct {
	cfg      Configuration
	peer     transport.FourTuple
	pipeline *pipeline.Pipeline

	transceivers []*RtpTransceiver
	dataChannels map[uint16]*DataChannel
	nextStreamID uint16

	localCandidates []*ice.Candidate

	state       ConnectionState
	iceState    ice.ConnectionState
	dtlsStarted bool

	nextRTCPReport time.Time
	rtcpInterval   time.Duration

	twccSender   *twcc.Sender
	twccReceiver *twcc.Receiver

	eventQueue []Event
}

// New constructs a PeerConnection bound to one four-tuple. The SCTP
// association and DTLS/ICE handlers are created immediately; nothing is
// sent until the caller adds candidates and drives HandleTimeout/
// HandleRead (spec.md §9 "ICE connectivity checks and the DTLS handshake
// must still be driven by the caller").
func New(cfg Configuration, peer transport.FourTuple) (*PeerConnection, error) {
	cfg.withDefaults()

	pcfg := pipeline.Config{
		Peer: peer,
		ICE: ice.Config{
			IsControlling: cfg.IsControlling,
			MDNSEnabled:   cfg.ICEMDNSEnabled,
			LoggerFactory: cfg.LoggerFactory,
		},
		DTLS: dtls.Config{
			Role:            cfg.dtlsRole(),
			PSK:             cfg.PSK,
			PSKIdentityHint: cfg.PSKIdentityHint,
			PSKIdentity:     cfg.PSKIdentity,
			CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_CCM_8},
			MTU:             cfg.MTU,
			LoggerFactory:   cfg.LoggerFactory,
		},
		SCTP: sctp.Config{
			Role:          sctpRoleFor(cfg.IsControlling),
			MTU:           cfg.MTU,
			LoggerFactory: cfg.LoggerFactory,
		},
		SRTPProfile:   cfg.SRTPProfile,
		LoggerFactory: cfg.LoggerFactory,
	}

	pl, err := pipeline.New(pcfg)
	if err != nil {
		return nil, fmt.Errorf("rtc: constructing pipeline: %w", err)
	}

	return &PeerConnection{
		cfg:          cfg,
		peer:         peer,
		pipeline:     pl,
		dataChannels: map[uint16]*DataChannel{},
		rtcpInterval: 5 * time.Second,
		nextStreamID: initialStreamID(cfg.IsControlling),
		twccSender:   &twcc.Sender{},
		twccReceiver: twcc.NewReceiver(),
	}, nil
}

func sctpRoleFor(isControlling bool) sctp.Role {
	if isControlling {
		return sctp.RoleClient
	}
	return sctp.RoleServer
}

// initialStreamID follows RFC 8832 §6: the DTLS client numbers its
// application-initiated DataChannels with even stream ids starting at 0,
// the server with odd ids starting at 1. This module maps "client" onto
// the ICE-controlling side (Configuration.dtlsRole), the same way it
// resolves the DTLS role Open Question spec.md leaves unspecified.
func initialStreamID(isControlling bool) uint16 {
	if isControlling {
		return 0
	}
	return 1
}

func (c *PeerConnection) allocStreamID() uint16 {
	id := c.nextStreamID
	c.nextStreamID += 2
	return id
}

// AddTransceiver creates a new, not-yet-negotiated RtpTransceiver. Its
// mid is assigned on the next SetRemoteDescription/CreateOffer pairing
// (spec.md §3).
func (c *PeerConnection) AddTransceiver(kind Kind, direction Direction) *RtpTransceiver {
	t := newRtpTransceiver(kind, direction)
	c.transceivers = append(c.transceivers, t)
	return t
}

func (c *PeerConnection) transceiverByMid(mid string) *RtpTransceiver {
	for _, t := range c.transceivers {
		if t.mid == mid {
			return t
		}
	}
	return nil
}

func (c *PeerConnection) transceiverByReceiveSSRC(ssrc uint32) *RtpTransceiver {
	for _, t := range c.transceivers {
		if t.receiver.bound && t.receiver.ssrc == ssrc {
			return t
		}
	}
	return nil
}

func (c *PeerConnection) transceiverBySendSSRC(ssrc uint32) *RtpTransceiver {
	for _, t := range c.transceivers {
		if t.sender.bound && t.sender.ssrc == ssrc {
			return t
		}
	}
	return nil
}

// AddLocalCandidate registers a candidate the application already
// gathered (host/srflx/relay discovery is external to this module, per
// spec.md's Non-goals) with both the ICE agent and the set CreateOffer/
// CreateAnswer draws candidate lines from.
func (c *PeerConnection) AddLocalCandidate(cand *ice.Candidate) {
	c.pipeline.ICE().AddLocalCandidate(cand)
	c.localCandidates = append(c.localCandidates, cand)
}

// AddICECandidate feeds one remote candidate, parsed from a trickled
// a=candidate line or from a full remote description, into the ICE
// agent.
func (c *PeerConnection) AddICECandidate(cand *ice.Candidate) error {
	if err := c.pipeline.ICE().AddRemoteCandidate(cand); err != nil {
		return newInvalidAccess("%w", err)
	}
	return nil
}

// CreateDataChannel allocates a new DataChannel. Non-negotiated channels
// send their DATA_CHANNEL_OPEN immediately; negotiated channels (with
// init.ID set and init.Negotiated true) are usable right away on both
// sides, per spec.md §3.
func (c *PeerConnection) CreateDataChannel(now time.Time, label string, init DataChannelInit) (*DataChannel, error) {
	var id uint16
	if init.ID != nil {
		id = *init.ID
	} else {
		id = c.allocStreamID()
	}
	if _, exists := c.dataChannels[id]; exists {
		return nil, newInvalidAccess("rtc: stream id %d already in use", id)
	}

	inner, err := datachannel.New(c.pipeline.SCTP(), id, datachannel.Config{
		Label:                label,
		Protocol:             init.Protocol,
		ChannelType:          init.channelType(),
		ReliabilityParameter: init.reliabilityParameter(),
		Negotiated:           init.Negotiated,
	})
	if err != nil {
		return nil, newInvalidState("%w", err)
	}

	dc := &DataChannel{inner: inner, pc: c}
	c.dataChannels[id] = dc

	if err := inner.Open(now); err != nil {
		return nil, newInvalidState("%w", err)
	}
	if err := c.flush(now); err != nil {
		return nil, err
	}
	return dc, nil
}

// flush pushes anything the SCTP association queued directly (bypassing
// Pipeline.SendMessage, as DataChannel.Open/Send/Close do) out through
// DTLS.
func (c *PeerConnection) flush(now time.Time) error {
	return c.pipeline.Pump(now)
}

// CreateOffer builds a local SDP offer from this connection's current
// ICE credentials, candidates, and transceivers (spec.md §1's mid/SSRC
// binding surfaced through internal/sdp).
func (c *PeerConnection) CreateOffer() (string, error) {
	return c.buildLocal()
}

// CreateAnswer builds a local SDP answer. Identical shape to an offer;
// the two only differ in the `setup` role under a full actpass
// negotiation, which this PSK-only module does not implement (see
// internal/sdp's design notes) — both sides advertise their fixed DTLS
// role directly.
func (c *PeerConnection) CreateAnswer() (string, error) {
	return c.buildLocal()
}

func (c *PeerConnection) buildLocal() (string, error) {
	ufrag, pwd := c.pipeline.ICE().LocalCredentials()
	setup := "passive"
	if c.cfg.IsControlling {
		setup = "active"
	}

	local := sdpcodec.Local{
		IceUfrag:       ufrag,
		IcePwd:         pwd,
		SetupRole:      setup,
		Candidates:     c.localCandidates,
		DataChannelMid: "data",
	}
	for i, t := range c.transceivers {
		mid := t.mid
		if mid == "" {
			mid = fmt.Sprintf("%d", i)
		}
		var ssrcs []uint32
		if t.sender.bound {
			ssrcs = append(ssrcs, t.sender.ssrc)
		}
		local.Media = append(local.Media, sdpcodec.LocalMedia{
			Mid:       mid,
			Kind:      t.kind.String(),
			Direction: t.direction.String(),
			SSRCs:     ssrcs,
		})
	}

	raw, err := sdpcodec.BuildLocal(local)
	if err != nil {
		return "", newSyntaxError("%w", err)
	}
	return raw, nil
}

// SetRemoteDescription parses a remote offer/answer and applies its ICE
// credentials, candidates, and mid/SSRC bindings (spec.md §1). It also
// starts ICE connectivity checks the first time it is called.
func (c *PeerConnection) SetRemoteDescription(raw string) error {
	remote, err := sdpcodec.ParseRemote(raw)
	if err != nil {
		return newSyntaxError("%w", err)
	}

	c.pipeline.ICE().StartConnectivityChecks(c.cfg.IsControlling, remote.IceUfrag, remote.IcePwd)
	for _, cand := range remote.Candidates {
		if err := c.pipeline.ICE().AddRemoteCandidate(cand); err != nil {
			return newInvalidAccess("%w", err)
		}
	}

	for i, m := range remote.Media {
		if m.Kind == "application" {
			continue
		}
		t := c.transceiverByMid(m.Mid)
		if t == nil && i < len(c.transceivers) {
			t = c.transceivers[i]
		}
		if t == nil {
			kind := KindAudio
			if m.Kind == "video" {
				kind = KindVideo
			}
			t = c.AddTransceiver(kind, DirectionSendRecv)
		}
		t.assignMid(m.Mid)
		for _, ssrc := range m.SSRCs {
			if !t.receiver.bound {
				var pt uint8
				if len(m.PayloadTypes) > 0 {
					pt = uint8(m.PayloadTypes[0])
				}
				t.receiver.Bind(ssrc, pt)
			}
		}
	}
	return nil
}

// HandleRead is the single entry point for an inbound datagram on this
// connection's four-tuple.
func (c *PeerConnection) HandleRead(now time.Time, src *net.UDPAddr, raw []byte) error {
	if err := c.pipeline.HandleRead(now, src, raw); err != nil {
		return err
	}
	return c.drainPipeline(now)
}

// HandleTimeout dispatches to the pipeline and generates periodic
// SR/RR reports once rtcpInterval has elapsed (spec.md §4.5 stage 7).
func (c *PeerConnection) HandleTimeout(now time.Time) error {
	if err := c.pipeline.HandleTimeout(now); err != nil {
		return err
	}
	if c.nextRTCPReport.IsZero() {
		c.nextRTCPReport = now.Add(c.rtcpInterval)
	} else if !now.Before(c.nextRTCPReport) {
		if err := c.sendRTCPReports(now); err != nil {
			return err
		}
		c.nextRTCPReport = now.Add(c.rtcpInterval)
	}
	return c.drainPipeline(now)
}

// PollTimeout is the min of the pipeline's own timeout and this
// connection's next scheduled RTCP report.
func (c *PeerConnection) PollTimeout() (time.Time, bool) {
	t, ok := c.pipeline.PollTimeout()
	if !c.nextRTCPReport.IsZero() && (!ok || c.nextRTCPReport.Before(t)) {
		return c.nextRTCPReport, true
	}
	return t, ok
}

// PollTransmit drains one queued outbound datagram.
func (c *PeerConnection) PollTransmit() (transport.Transmit, bool) {
	return c.pipeline.PollTransmit()
}

// PollEvent drains one queued connection-level Event.
func (c *PeerConnection) PollEvent() (Event, bool) {
	if len(c.eventQueue) == 0 {
		return Event{}, false
	}
	ev := c.eventQueue[0]
	c.eventQueue = c.eventQueue[1:]
	return ev, true
}

func (c *PeerConnection) pushEvent(ev Event) {
	c.eventQueue = append(c.eventQueue, ev)
}

// drainPipeline lifts every Pipeline-level event into zero or more
// connection-level Events, routing RTP/RTCP/SCTP payloads to the right
// RtpTransceiver/DataChannel (spec.md §4.5 stage 8).
func (c *PeerConnection) drainPipeline(now time.Time) error {
	for {
		ev, ok := c.pipeline.PollEvent()
		if !ok {
			return nil
		}
		switch ev.Kind {
		case pipeline.EventICE:
			c.handleICEEvent(now, ev.ICE)
		case pipeline.EventSRTPReady:
			c.setState(ConnectionStateConnected)
		case pipeline.EventDTLS:
			if ev.DTLS.Kind == dtls.EventAlertFatalOrClose {
				c.setState(ConnectionStateFailed)
			}
		case pipeline.EventSCTP:
			if err := c.handleSCTPEvent(now, ev.SCTP); err != nil {
				return err
			}
		case pipeline.EventRTP:
			c.handleRTPEvent(now, ev.RTPPacket)
		case pipeline.EventRTCP:
			if err := c.handleRTCPEvent(now, ev.RTCPPackets); err != nil {
				return err
			}
		}
	}
}

func (c *PeerConnection) handleICEEvent(now time.Time, ev ice.Event) {
	switch ev.Kind {
	case ice.EventConnectionStateChange:
		c.iceState = ev.ConnectionState
		c.pushEvent(Event{Kind: EventICEConnectionStateChange, ICEConnectionState: ev.ConnectionState})
		switch ev.ConnectionState {
		case ice.ConnectionStateFailed:
			c.setState(ConnectionStateFailed)
		case ice.ConnectionStateDisconnected:
			c.setState(ConnectionStateDisconnected)
		case ice.ConnectionStateChecking:
			c.setState(ConnectionStateConnecting)
		case ice.ConnectionStateClosed:
			c.setState(ConnectionStateClosed)
		case ice.ConnectionStateConnected, ice.ConnectionStateCompleted:
			if !c.dtlsStarted {
				c.dtlsStarted = true
				if err := c.pipeline.StartDTLS(now); err == nil {
					_ = c.pipeline.Pump(now)
				}
			}
		}
	case ice.EventLocalCandidate:
		c.pushEvent(Event{Kind: EventICECandidate, Candidate: ev.Candidate})
	}
}

func (c *PeerConnection) setState(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.pushEvent(Event{Kind: EventConnectionStateChange, ConnectionState: s})
}

func (c *PeerConnection) handleSCTPEvent(now time.Time, ev sctp.Event) error {
	switch ev.Kind {
	case sctp.EventMessage:
		dc, exists := c.dataChannels[ev.StreamID]
		if !exists {
			if ev.PPI != sctp.PPIDCEP {
				return nil
			}
			inner, err := datachannel.Accept(now, c.pipeline.SCTP(), ev.StreamID, ev.Data)
			if err != nil {
				return fmt.Errorf("rtc: accepting data channel on stream %d: %w", ev.StreamID, err)
			}
			dc = &DataChannel{inner: inner, pc: c}
			c.dataChannels[ev.StreamID] = dc
			c.drainDataChannelEvents(dc)
			return nil
		}
		if err := dc.inner.HandleMessage(now, ev.PPI, ev.Data); err != nil {
			return err
		}
		c.drainDataChannelEvents(dc)
	case sctp.EventStreamClosed:
		if dc, exists := c.dataChannels[ev.StreamID]; exists {
			dc.inner.HandleStreamReset()
			c.drainDataChannelEvents(dc)
		}
	case sctp.EventAborted:
		c.setState(ConnectionStateFailed)
	}
	return nil
}

func (c *PeerConnection) drainDataChannelEvents(dc *DataChannel) {
	for {
		ev, ok := dc.inner.PollEvent()
		if !ok {
			return
		}
		switch ev.Kind {
		case datachannel.EventStateChange:
			if ev.State == datachannel.StateOpen || ev.State == datachannel.StateClosed {
				c.pushEvent(Event{Kind: dataChannelEventKind(ev.Kind, ev.State), DataChannel: dc, DataChannelID: dc.ID()})
			}
		case datachannel.EventMessage:
			c.pushEvent(Event{Kind: EventDataChannelMessage, DataChannel: dc, DataChannelID: dc.ID(), Data: ev.Data, IsString: ev.IsString})
		}
	}
}

func (c *PeerConnection) handleRTPEvent(now time.Time, pkt *rtp.Packet) {
	if pkt == nil {
		return
	}
	if ext := pkt.Header.GetExtension(twccExtensionID); len(ext) == 2 {
		c.twccReceiver.RecordArrival(uint16(ext[0])<<8|uint16(ext[1]), now)
	}

	t := c.transceiverByReceiveSSRC(pkt.SSRC)
	if t == nil {
		return
	}
	t.receiver.handlePacket(now, pkt)
	c.pushEvent(Event{
		Kind:        EventTrack,
		Transceiver: t,
		RTPPayload:  pkt.Payload,
		RTPSeq:      pkt.SequenceNumber,
		SSRC:        pkt.SSRC,
	})

	missing := t.receiver.pendingNACKs(nackSkipLastN)
	if len(missing) == 0 {
		return
	}
	nackPkt := &rtcp.TransportLayerNack{
		MediaSSRC: t.receiver.ssrc,
		Nacks:     sequenceNumbersToNackPairs(missing),
	}
	_ = c.pipeline.SendRTCP(now, []rtcp.Packet{nackPkt})
}

func (c *PeerConnection) handleRTCPEvent(now time.Time, pkts []rtcp.Packet) error {
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.TransportLayerNack:
			t := c.transceiverBySendSSRC(p.MediaSSRC)
			if t == nil {
				continue
			}
			for _, seq := range nackPairsToSeqNumbers(p.Nacks) {
				rtpPkt := t.sender.resend(seq)
				if rtpPkt == nil {
					continue
				}
				if _, err := c.twccSender.Tag(rtpPkt, twccExtensionID); err != nil {
					continue
				}
				_ = c.pipeline.SendRTP(now, nil, rtpPkt.Payload, rtpPkt.SequenceNumber, t.sender.ssrc)
			}
		case *rtcp.SenderReport:
			if t := c.transceiverByReceiveSSRC(p.SSRC); t != nil {
				t.receiver.handleSenderReport(now, p)
			}
		}
	}
	c.pushEvent(Event{Kind: EventRTCP})
	return nil
}

// sendRTCPReports emits one SenderReport per bound RtpSender, bundled
// with its transceiver's ReceptionReport when a receiver is also bound
// (RFC 3550 §6.4 compound-packet convention).
func (c *PeerConnection) sendRTCPReports(now time.Time) error {
	ntp := toNTP(now)
	for _, t := range c.transceivers {
		if !t.sender.bound {
			continue
		}
		sr := t.sender.senderReport(ntp, rtpTimestamp(now))
		if t.receiver.bound {
			sr.Reports = []rtcp.ReceptionReport{t.receiver.receptionReport()}
		}
		if err := c.pipeline.SendRTCP(now, []rtcp.Packet{&sr}); err != nil {
			return err
		}
	}
	return c.sendTWCCFeedback(now)
}

// sendTWCCFeedback emits one transport-wide congestion control feedback
// report (draft-holmer-rmcat-transport-wide-cc-extensions) covering every
// transport-wide sequence number recorded since the previous report, if
// any new ones arrived. The media SSRC named in the report is whichever
// bound receiver happens to be first; the draft's feedback is keyed by
// transport-wide sequence number, not by SSRC, so this is informational
// only.
func (c *PeerConnection) sendTWCCFeedback(now time.Time) error {
	var mediaSSRC uint32
	for _, t := range c.transceivers {
		if t.receiver.bound {
			mediaSSRC = t.receiver.ssrc
			break
		}
	}
	fb, ok := c.twccReceiver.BuildFeedback(0, mediaSSRC)
	if !ok {
		return nil
	}
	raw, err := fb.Marshal()
	if err != nil {
		return err
	}
	return c.pipeline.SendRawRTCP(now, raw)
}

func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / 1000000000
	return secs<<32 | frac
}

// sequenceNumbersToNackPairs packs a sorted run of missing sequence
// numbers into RFC 4585 §6.2.1 NackPairs: one PID plus up to 16 further
// losses in the following BLP bitmask, mirroring the inverse of
// nackPairsToSeqNumbers below.
func sequenceNumbersToNackPairs(missing []uint16) []rtcp.NackPair {
	var pairs []rtcp.NackPair
	i := 0
	for i < len(missing) {
		pid := missing[i]
		var blp uint16
		j := i + 1
		for j < len(missing) {
			d := missing[j] - pid - 1
			if d >= 16 {
				break
			}
			blp |= 1 << uint(d)
			j++
		}
		pairs = append(pairs, rtcp.NackPair{PacketID: pid, LostPackets: rtcp.PacketBitmap(blp)})
		i = j
	}
	return pairs
}

func nackPairsToSeqNumbers(pairs []rtcp.NackPair) []uint16 {
	var seqs []uint16
	for _, pair := range pairs {
		seqs = append(seqs, pair.PacketID)
		for i := 0; i < 16; i++ {
			if pair.LostPackets&(1<<uint(i)) != 0 {
				seqs = append(seqs, pair.PacketID+uint16(i)+1)
			}
		}
	}
	return seqs
}
