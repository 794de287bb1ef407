package mdns

import (
	"net"
	"strings"
	"time"

	"github.com/pion/logging"
)

const (
	defaultTTL                  = 120 * time.Second
	defaultInitialQueryInterval = 100 * time.Millisecond
	defaultMaxQueryInterval     = 4 * time.Second
	defaultQueryTimeout         = 2 * time.Minute
)

// Config configures a Resolver (spec.md §4.6, §6).
type Config struct {
	// TTL is advertised on authoritative responses this Resolver sends for
	// its own local names.
	TTL time.Duration
	// InitialQueryInterval is the resend interval for the first
	// unanswered query; it doubles on every retry up to MaxQueryInterval.
	InitialQueryInterval time.Duration
	MaxQueryInterval     time.Duration
	// QueryTimeout bounds how long a query may stay pending before it is
	// abandoned and reported via EventQueryTimeout.
	QueryTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

func (c *Config) withDefaults() {
	if c.TTL == 0 {
		c.TTL = defaultTTL
	}
	if c.InitialQueryInterval == 0 {
		c.InitialQueryInterval = defaultInitialQueryInterval
	}
	if c.MaxQueryInterval == 0 {
		c.MaxQueryInterval = defaultMaxQueryInterval
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

type localRecord struct {
	ip net.IP
}

type cachedAnswer struct {
	ip      net.IP
	expires time.Time
}

type pendingQuery struct {
	id         uint16
	name       string
	nextSendAt time.Time
	interval   time.Duration
	deadline   time.Time
}

// Resolver is the sans-I/O multicast-DNS endpoint of spec.md §4.6: it
// answers questions about names it was told to Announce, and resolves
// names it was asked to Query, all driven through the shared
// HandleRead/HandleTimeout/PollTransmit/PollEvent/PollTimeout contract
// used throughout this module.
//
// Unlike a singleton mDNS client exposing package-level
// Start/Stop/Resolve/Announce functions backed by one process-wide
// instance, a Resolver holds no global state: every caller
// constructs and owns its own instance and wires it into the pipeline
// by reference (spec.md §9).
type Resolver struct {
	log logging.LeveledLogger
	cfg Config

	nextQueryID uint16
	records     map[string]localRecord
	cache       map[string]cachedAnswer
	queries     map[uint16]*pendingQuery // keyed by monotonically increasing query-id
	queryByName map[string]uint16

	transmitQueue [][]byte
	eventQueue    []Event
}

// NewResolver constructs a Resolver. It owns no sockets; callers read its
// PollTransmit output and feed PollTransmit bytes are always meant for
// the mDNS multicast group on the transport the caller chooses.
func NewResolver(cfg Config) *Resolver {
	cfg.withDefaults()
	return &Resolver{
		log:     cfg.LoggerFactory.NewLogger("mdns"),
		cfg:     cfg,
		records:     make(map[string]localRecord),
		cache:       make(map[string]cachedAnswer),
		queries:     make(map[uint16]*pendingQuery),
		queryByName: make(map[string]uint16),
	}
}

func isEphemeralLocalDomain(host string) bool {
	return strings.HasSuffix(host, ".local") && strings.Count(host, ".") == 1
}

// Announce registers a local name this Resolver answers authoritatively
// for, and immediately queues an unsolicited response (a "gratuitous"
// announcement).
func (r *Resolver) Announce(name string, ip net.IP) error {
	if !isEphemeralLocalDomain(name) {
		return ErrNotEphemeralDomain
	}
	r.records[name] = localRecord{ip: ip}
	r.transmitQueue = append(r.transmitQueue, marshalResponse(0, name, ip, uint32(r.cfg.TTL/time.Second)))
	return nil
}

// Query starts resolving name to an address, or is a no-op if a query for
// that name is already pending. Resolution is reported asynchronously
// through PollEvent (EventQueryAnswered or EventQueryTimeout).
func (r *Resolver) Query(now time.Time, name string) error {
	if !isEphemeralLocalDomain(name) {
		return ErrNotEphemeralDomain
	}
	if cached, ok := r.cache[name]; ok && now.Before(cached.expires) {
		r.eventQueue = append(r.eventQueue, Event{Kind: EventQueryAnswered, Name: name, IP: cached.ip})
		return nil
	}
	if _, pending := r.queryByName[name]; pending {
		return nil
	}
	r.nextQueryID++
	q := &pendingQuery{
		id:         r.nextQueryID,
		name:       name,
		nextSendAt: now.Add(r.cfg.InitialQueryInterval),
		interval:   r.cfg.InitialQueryInterval,
		deadline:   now.Add(r.cfg.QueryTimeout),
	}
	r.queries[q.id] = q
	r.queryByName[name] = q.id
	r.sendQuery(q)
	return nil
}

func (r *Resolver) sendQuery(q *pendingQuery) {
	r.transmitQueue = append(r.transmitQueue, marshalQuery(q.id, q.name))
}

// HandleRead processes one inbound mDNS packet: a question this Resolver
// can authoritatively answer, or an answer matching a pending query.
func (r *Resolver) HandleRead(now time.Time, raw []byte) error {
	m, err := unmarshal(raw)
	if err != nil {
		r.log.Debugf("mdns: dropping malformed packet: %v", err)
		return nil
	}

	if !m.isResponse && m.questionName != "" {
		if rec, ok := r.records[m.questionName]; ok {
			r.transmitQueue = append(r.transmitQueue, marshalResponse(m.id, m.questionName, rec.ip, uint32(r.cfg.TTL/time.Second)))
		}
	}

	if m.hasAnswer {
		r.cache[m.answerName] = cachedAnswer{
			ip:      m.answerIP,
			expires: now.Add(time.Duration(m.answerTTL) * time.Second),
		}
		if id, ok := r.queryByName[m.answerName]; ok {
			delete(r.queries, id)
			delete(r.queryByName, m.answerName)
			r.eventQueue = append(r.eventQueue, Event{Kind: EventQueryAnswered, QueryID: id, Name: m.answerName, IP: m.answerIP})
		}
	}
	return nil
}

// HandleTimeout resends queries whose retry interval has elapsed
// (doubling the interval each time, up to MaxQueryInterval) and times
// out queries past their deadline.
func (r *Resolver) HandleTimeout(now time.Time) {
	for id, q := range r.queries {
		if !now.Before(q.deadline) {
			delete(r.queries, id)
			delete(r.queryByName, q.name)
			r.eventQueue = append(r.eventQueue, Event{Kind: EventQueryTimeout, QueryID: id, Name: q.name})
			continue
		}
		if !now.Before(q.nextSendAt) {
			r.sendQuery(q)
			q.interval *= 2
			if q.interval > r.cfg.MaxQueryInterval {
				q.interval = r.cfg.MaxQueryInterval
			}
			q.nextSendAt = now.Add(q.interval)
		}
	}
}

// PollTimeout reports the earliest instant HandleTimeout next needs to
// run, i.e. the soonest query resend or deadline.
func (r *Resolver) PollTimeout() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, q := range r.queries {
		for _, t := range [2]time.Time{q.nextSendAt, q.deadline} {
			if !found || t.Before(earliest) {
				earliest = t
				found = true
			}
		}
	}
	return earliest, found
}

// PollTransmit drains one queued outbound packet.
func (r *Resolver) PollTransmit() ([]byte, bool) {
	if len(r.transmitQueue) == 0 {
		return nil, false
	}
	out := r.transmitQueue[0]
	r.transmitQueue = r.transmitQueue[1:]
	return out, true
}

// PollEvent drains one queued Event.
func (r *Resolver) PollEvent() (Event, bool) {
	if len(r.eventQueue) == 0 {
		return Event{}, false
	}
	out := r.eventQueue[0]
	r.eventQueue = r.eventQueue[1:]
	return out, true
}
