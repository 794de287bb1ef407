package pipeline

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/sansio-rtc/rtc/internal/dtls"
	"github.com/sansio-rtc/rtc/internal/ice"
	"github.com/sansio-rtc/rtc/internal/sctp"
	"github.com/sansio-rtc/rtc/internal/srtp"
	"github.com/sansio-rtc/rtc/internal/transport"
	"github.com/sansio-rtc/rtc/internal/util"
)

// srtpKeyingLabel is the RFC 5764 §4.2 exporter label DTLS-SRTP keying
// material is extracted under.
const srtpKeyingLabel = "EXTRACTOR-dtls_srtp"

// Config assembles the per-handler configuration a Pipeline needs to
// build its ICE/DTLS/SCTP handlers, plus the negotiated SRTP protection
// profile (spec.md §4.5).
type Config struct {
	Peer transport.FourTuple

	ICE         ice.Config
	DTLS        dtls.Config
	SCTP        sctp.Config
	SRTPProfile srtp.ProtectionProfile

	LoggerFactory logging.LoggerFactory
}

func (c *Config) withDefaults() {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.SRTPProfile == 0 {
		c.SRTPProfile = srtp.ProtectionProfileAeadAes128Gcm
	}
}

// Pipeline is the statically-composed handler chain of spec.md §4.5: one
// ICE agent, one DTLS endpoint, one SCTP association, and (once the DTLS
// handshake completes) one SRTP context, all driven from a single
// four-tuple's inbound datagrams and exposing one aggregated
// Poll*/Handle* surface. A PeerConnection owns exactly one Pipeline per
// four-tuple it multiplexes (spec.md §9's one-pipeline-per-four-tuple
// ownership rule).
type Pipeline struct {
	log logging.LeveledLogger
	cfg Config

	ice  *ice.Agent
	dtls *dtls.Endpoint
	sctp *sctp.Association
	srtp *srtp.Context // nil until EventSRTPReady

	transmitQueue []transport.Transmit
	eventQueue    []Event
}

// New constructs a Pipeline. The SCTP association is created immediately
// (client role queues its INIT right away per spec.md §4.3), but SCTP
// packets stay queued until the DTLS handshake completes; ICE
// connectivity checks and the DTLS handshake must still be driven by the
// caller via ICE().StartConnectivityChecks and StartDTLS.
func New(cfg Config) (*Pipeline, error) {
	cfg.withDefaults()

	agent, iceErr := ice.New(cfg.ICE)
	dtlsEndpoint, dtlsErr := dtls.New(cfg.DTLS, cfg.Peer)
	assoc, sctpErr := sctp.New(cfg.SCTP)
	if err := util.FlattenErrs([]error{iceErr, dtlsErr, sctpErr}); err != nil {
		return nil, fmt.Errorf("pipeline: constructing handlers: %w", err)
	}

	return &Pipeline{
		log:  cfg.LoggerFactory.NewLogger("pipeline"),
		cfg:  cfg,
		ice:  agent,
		dtls: dtlsEndpoint,
		sctp: assoc,
	}, nil
}

// ICE, DTLS and SCTP expose the owned handlers read-only, so callers
// (chiefly the root PeerConnection) can inspect state such as
// ice.Agent.SelectedPair or sctp.Association.State without the pipeline
// needing to proxy every accessor.
func (p *Pipeline) ICE() *ice.Agent             { return p.ice }
func (p *Pipeline) DTLS() *dtls.Endpoint        { return p.dtls }
func (p *Pipeline) SCTP() *sctp.Association     { return p.sctp }
func (p *Pipeline) SRTP() (*srtp.Context, bool) { return p.srtp, p.srtp != nil }

// StartDTLS begins the DTLS handshake. Call once ICE reports
// EventConnectionStateChange to Connected (spec.md §4.2/§4.5).
func (p *Pipeline) StartDTLS(now time.Time) error {
	return p.dtls.Start(now)
}

// HandleRead is stage 1+2 of spec.md §4.5: it lifts a raw datagram off
// the four-tuple adapter and demuxes it to the owned handler, then pumps
// every side effect that handler's read produced (DTLS handshake
// completion deriving SRTP keys, decrypted application data reaching
// SCTP, SCTP packets needing to go out wrapped in DTLS) to a fixed
// point.
func (p *Pipeline) HandleRead(now time.Time, src *net.UDPAddr, raw []byte) error {
	switch Classify(raw) {
	case ClassSTUN:
		if err := p.ice.HandleRead(now, src, raw); err != nil {
			return err
		}
	case ClassDTLS:
		if err := p.dtls.HandleRead(now, raw); err != nil {
			return err
		}
	case ClassRTP:
		p.handleInboundRTP(raw)
	case ClassRTCP:
		p.handleInboundRTCP(raw)
	default:
		p.log.Debugf("pipeline: dropping unclassifiable %d-byte datagram", len(raw))
		return nil
	}
	return p.pump(now)
}

// HandleTimeout is stage-agnostic timer aggregation (spec.md §4.5
// "handle_timeout(now) dispatches to every handler").
func (p *Pipeline) HandleTimeout(now time.Time) error {
	if err := p.ice.HandleTimeout(now); err != nil {
		return err
	}
	if err := p.dtls.HandleTimeout(now); err != nil {
		return err
	}
	p.sctp.HandleTimeout(now)
	return p.pump(now)
}

// PollTimeout is spec.md §4.5's timer aggregation: "poll_timeout() of the
// pipeline = min of all handlers' poll_timeout()".
func (p *Pipeline) PollTimeout() (time.Time, bool) {
	var earliest time.Time
	found := false
	consider := func(t time.Time, ok bool) {
		if ok && (!found || t.Before(earliest)) {
			earliest, found = t, true
		}
	}
	consider(p.ice.PollTimeout())
	consider(p.dtls.PollTimeout())
	consider(p.sctp.PollTimeout())
	return earliest, found
}

// SendMessage submits a DataChannel payload to the SCTP association and
// pumps the resulting wire packets out through DTLS.
func (p *Pipeline) SendMessage(now time.Time, streamID uint16, ppi sctp.PPI, data []byte, rel sctp.Reliability) error {
	if err := p.sctp.SendMessage(now, streamID, ppi, data, rel); err != nil {
		return err
	}
	return p.pump(now)
}

// Pump drains every owned handler's events and transmits to a fixed
// point, without first driving a read/write/timeout. Callers that talk
// to the owned SCTP association directly (the root rtc package's
// internal/datachannel-backed DataChannel.Open/Send/Close, which call
// sctp.Association's send path without going through Pipeline) use this
// to push the packets that produced into DTLS-wrapped transmits.
func (p *Pipeline) Pump(now time.Time) error {
	return p.pump(now)
}

// SendRTP encrypts one outbound RTP packet and queues it for
// transmission (spec.md §4.5 stage 5, write direction).
func (p *Pipeline) SendRTP(now time.Time, header []byte, payload []byte, seq uint16, ssrc uint32) error {
	if p.srtp == nil {
		return fmt.Errorf("pipeline: SendRTP called before SRTP context is ready")
	}
	out, err := p.srtp.EncryptRTP(header, payload, seq, ssrc)
	if err != nil {
		return err
	}
	p.queueTransmit(now, out)
	return nil
}

// SendRTCP encrypts one outbound RTCP compound packet.
func (p *Pipeline) SendRTCP(now time.Time, pkts []rtcp.Packet) error {
	if p.srtp == nil {
		return fmt.Errorf("pipeline: SendRTCP called before SRTP context is ready")
	}
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}
	return p.SendRawRTCP(now, raw)
}

// SendRawRTCP encrypts and queues an already-marshaled RTCP packet. It
// exists alongside SendRTCP for callers building their own wire bytes
// instead of a []rtcp.Packet — namely internal/twcc's feedback reports,
// which this module hand-marshals directly (see internal/twcc/feedback.go)
// rather than routing through a github.com/pion/rtcp type.
func (p *Pipeline) SendRawRTCP(now time.Time, raw []byte) error {
	if p.srtp == nil {
		return fmt.Errorf("pipeline: SendRawRTCP called before SRTP context is ready")
	}
	if len(raw) < rtcpHeaderLen {
		return fmt.Errorf("pipeline: marshaled RTCP packet shorter than its fixed header")
	}
	ssrc, _ := peekRTCPSSRC(raw)
	out, err := p.srtp.EncryptRTCP(raw[:rtcpHeaderLen], raw[rtcpHeaderLen:], ssrc)
	if err != nil {
		return err
	}
	p.queueTransmit(now, out)
	return nil
}

func (p *Pipeline) handleInboundRTP(raw []byte) {
	if p.srtp == nil {
		p.log.Debugf("pipeline: dropping RTP datagram received before SRTP context is ready")
		return
	}
	headerLen, seq, ssrc, ok := peekRTPHeader(raw)
	if !ok {
		return
	}
	plain, ok := p.srtp.DecryptRTP(raw[:headerLen], raw[headerLen:], seq, ssrc)
	if !ok {
		return
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(append(append([]byte(nil), raw[:headerLen]...), plain...)); err != nil {
		return
	}
	p.eventQueue = append(p.eventQueue, Event{Kind: EventRTP, RTPPacket: &pkt})
}

func (p *Pipeline) handleInboundRTCP(raw []byte) {
	if p.srtp == nil {
		p.log.Debugf("pipeline: dropping RTCP datagram received before SRTP context is ready")
		return
	}
	ssrc, ok := peekRTCPSSRC(raw)
	if !ok {
		return
	}
	plain, ok := p.srtp.DecryptRTCP(raw[:rtcpHeaderLen], raw[rtcpHeaderLen:], ssrc)
	if !ok {
		return
	}
	pkts, err := rtcp.Unmarshal(append(append([]byte(nil), raw[:rtcpHeaderLen]...), plain...))
	if err != nil {
		return
	}
	p.eventQueue = append(p.eventQueue, Event{Kind: EventRTCP, RTCPPackets: pkts})
}

// pump drains every owned handler's events and transmits to a fixed
// point: DTLS handshake completion derives SRTP keys; decrypted
// application data is handed to SCTP; SCTP's outbound packets are
// wrapped in a DTLS application_data record. This is the concrete
// instantiation of spec.md §4.5's "each handler either consumes or
// forwards to the next; writes traverse in reverse" for this module's
// fixed default pipeline.
func (p *Pipeline) pump(now time.Time) error {
	for {
		progressed := false

		for {
			t, ok := p.ice.PollTransmit()
			if !ok {
				break
			}
			p.transmitQueue = append(p.transmitQueue, t)
			progressed = true
		}
		for {
			ev, ok := p.ice.PollEvent()
			if !ok {
				break
			}
			p.eventQueue = append(p.eventQueue, Event{Kind: EventICE, ICE: ev})
			progressed = true
		}

		for {
			ev, ok := p.dtls.PollEvent()
			if !ok {
				break
			}
			progressed = true
			switch ev.Kind {
			case dtls.EventHandshakeComplete:
				if err := p.deriveSRTPContext(); err != nil {
					return err
				}
				p.eventQueue = append(p.eventQueue, Event{Kind: EventSRTPReady})
			case dtls.EventApplicationData:
				if err := p.sctp.HandleRead(now, ev.Data); err != nil {
					return err
				}
			default:
				p.eventQueue = append(p.eventQueue, Event{Kind: EventDTLS, DTLS: ev})
			}
		}
		for {
			t, ok := p.dtls.PollTransmit()
			if !ok {
				break
			}
			p.transmitQueue = append(p.transmitQueue, t)
			progressed = true
		}

		for p.dtls.IsHandshakeComplete() {
			raw, ok := p.sctp.PollTransmit()
			if !ok {
				break
			}
			progressed = true
			if err := p.dtls.HandleWrite(now, raw); err != nil {
				return err
			}
		}
		for {
			ev, ok := p.sctp.PollEvent()
			if !ok {
				break
			}
			p.eventQueue = append(p.eventQueue, Event{Kind: EventSCTP, SCTP: ev})
			progressed = true
		}

		if !progressed {
			return nil
		}
	}
}

func (p *Pipeline) deriveSRTPContext() error {
	keyLen := p.cfg.SRTPProfile.KeyLen()
	saltLen := p.cfg.SRTPProfile.SaltLen()
	material, err := p.dtls.ExportKeyingMaterial(srtpKeyingLabel, 2*(keyLen+saltLen))
	if err != nil {
		return fmt.Errorf("pipeline: exporting SRTP keying material: %w", err)
	}

	clientKey := material[0:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]

	cfg := srtp.Config{Profile: p.cfg.SRTPProfile}
	if p.cfg.DTLS.Role == dtls.RoleClient {
		cfg.WriteMasterKey, cfg.WriteMasterSalt = clientKey, clientSalt
		cfg.ReadMasterKey, cfg.ReadMasterSalt = serverKey, serverSalt
	} else {
		cfg.WriteMasterKey, cfg.WriteMasterSalt = serverKey, serverSalt
		cfg.ReadMasterKey, cfg.ReadMasterSalt = clientKey, clientSalt
	}

	ctx, err := srtp.NewContext(cfg)
	if err != nil {
		return fmt.Errorf("pipeline: building SRTP context: %w", err)
	}
	p.srtp = ctx
	return nil
}

func (p *Pipeline) queueTransmit(now time.Time, payload []byte) {
	p.transmitQueue = append(p.transmitQueue, transport.Transmit{Now: now, FourTuple: p.cfg.Peer, Payload: payload})
}

// PollTransmit drains one queued outbound datagram.
func (p *Pipeline) PollTransmit() (transport.Transmit, bool) {
	if len(p.transmitQueue) == 0 {
		return transport.Transmit{}, false
	}
	out := p.transmitQueue[0]
	p.transmitQueue = p.transmitQueue[1:]
	return out, true
}

// PollEvent drains one queued Event.
func (p *Pipeline) PollEvent() (Event, bool) {
	if len(p.eventQueue) == 0 {
		return Event{}, false
	}
	out := p.eventQueue[0]
	p.eventQueue = p.eventQueue[1:]
	return out, true
}
