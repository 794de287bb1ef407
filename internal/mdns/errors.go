package mdns

import "errors"

// ErrNotEphemeralDomain is returned by Query/Announce when the given name
// is not a "<uuid>.local" ephemeral hostname (draft-ietf-rtcweb-mdns-ice
// -candidates §3.1.1, spec.md §4.6).
var ErrNotEphemeralDomain = errors.New("mdns: name is not an ephemeral .local domain")
