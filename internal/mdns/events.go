package mdns

import "net"

// EventKind enumerates the events a Resolver surfaces through PollEvent
// (spec.md §4.6).
type EventKind int

const (
	// EventQueryAnswered fires when a pending query resolves to an address.
	EventQueryAnswered EventKind = iota
	// EventQueryTimeout fires when a query's absolute timeout elapses
	// without an answer.
	EventQueryTimeout
)

// Event is a single Resolver notification.
type Event struct {
	Kind    EventKind
	QueryID uint16
	Name    string
	IP      net.IP
}
