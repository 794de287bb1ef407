package sctp

import (
	"time"

	"github.com/pion/logging"
)

// Endpoint is the SctpEndpoint data-model entity of spec.md §3: it
// maintains the two lookup tables RFC 4960 §5 describes (by peer-chosen
// init tag before the handshake completes, by locally chosen verification
// tag afterward) for the rare case of a listening side that must
// demultiplex more than one in-flight handshake. A PeerConnection in
// practice owns exactly one Association per DTLS connection (spec.md
// §4.5's pipeline already demultiplexes by four-tuple above this layer),
// so Endpoint is a thin convenience, not load-bearing for the single-peer
// scenarios of spec.md §8.
type Endpoint struct {
	log logging.LeveledLogger
	cfg Config

	byInitTag map[uint32]*Association
	byMyTag   map[uint32]*Association
}

func NewEndpoint(cfg Config) *Endpoint {
	cfg.withDefaults()
	return &Endpoint{
		log:       cfg.LoggerFactory.NewLogger("sctp"),
		cfg:       cfg,
		byInitTag: make(map[uint32]*Association),
		byMyTag:   make(map[uint32]*Association),
	}
}

// Connect creates a client-role Association and registers it by its own
// verification tag (the only tag known before the peer responds).
func (e *Endpoint) Connect() (*Association, error) {
	cfg := e.cfg
	cfg.Role = RoleClient
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	e.byMyTag[a.myVerificationTag] = a
	return a, nil
}

// HandleRead routes an inbound packet to the matching association by
// verification tag, or — if it is an out-of-the-blue INIT — creates a new
// server-role association (RFC 4960 §5.1).
func (e *Endpoint) HandleRead(now time.Time, raw []byte) error {
	p, err := Unmarshal(raw)
	if err != nil {
		e.log.Warnf("sctp: dropping malformed packet: %v", err)
		return nil
	}
	if a, ok := e.byMyTag[p.VerificationTag]; ok {
		return a.HandleRead(now, raw)
	}
	if len(p.Chunks) == 1 {
		if init, ok := p.Chunks[0].(*ChunkInit); ok && !init.ack {
			cfg := e.cfg
			cfg.Role = RoleServer
			a, err := New(cfg)
			if err != nil {
				return err
			}
			if err := a.HandleRead(now, raw); err != nil {
				return err
			}
			e.byInitTag[init.InitiateTag] = a
			e.byMyTag[a.myVerificationTag] = a
			return nil
		}
	}
	e.log.Warnf("sctp: no association for verification tag %d", p.VerificationTag)
	return nil
}

// Associations returns every association the endpoint currently tracks,
// for HandleTimeout/PollTransmit/PollEvent fan-out by the caller.
func (e *Endpoint) Associations() []*Association {
	seen := make(map[*Association]bool)
	var out []*Association
	for _, a := range e.byMyTag {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
