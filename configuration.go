package rtc

import (
	"time"

	"github.com/pion/logging"

	"github.com/sansio-rtc/rtc/internal/dtls"
	"github.com/sansio-rtc/rtc/internal/srtp"
)

// Configuration holds the connection-scoped settings a PeerConnection
// needs to construct its Pipeline. ICE server URLs and candidate
// gathering policy are deliberately absent: this module consumes
// candidates the application already gathered and hands them to
// AddICECandidate, it does not gather them itself (spec.md's Non-goals).
type Configuration struct {
	// IsControlling selects the ICE controlling/controlled role (spec.md
	// §4.1); conventionally the offerer is controlling.
	IsControlling bool

	// PSK resolves a DTLS-SRTP PSK identity hint to the shared secret
	// (internal/dtls is PSK-only — see that package's design notes).
	PSK             func(identityHint []byte) ([]byte, error)
	PSKIdentityHint []byte
	PSKIdentity     []byte

	SRTPProfile srtp.ProtectionProfile

	// MTU bounds both the DTLS record size and the SCTP fragment size
	// (internal/dtls.Config.MTU / internal/sctp.Config.MTU).
	MTU int

	// ICEMDNSEnabled mirrors internal/ice.Config.MDNSEnabled: resolve
	// ".local" remote candidates via internal/mdns before adding them.
	ICEMDNSEnabled bool

	IdleTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

func (c *Configuration) withDefaults() {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.SRTPProfile == 0 {
		c.SRTPProfile = srtp.ProtectionProfileAeadAes128Gcm
	}
	if c.MTU == 0 {
		c.MTU = 1200
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Second
	}
}

func (c Configuration) dtlsRole() dtls.Role {
	if c.IsControlling {
		return dtls.RoleClient
	}
	return dtls.RoleServer
}
