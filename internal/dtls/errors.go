package dtls

import "errors"

var (
	// ErrMTUTooSmall is a Configuration error (spec.md §7): the cookie
	// exchange alone cannot fit under the configured MTU.
	ErrMTUTooSmall = errors.New("dtls: configured MTU too small for handshake cookie exchange")

	// ErrPSKRequiresPSKSuite is a Configuration error: a PSK was supplied
	// but no PSK cipher suite was offered.
	ErrPSKRequiresPSKSuite = errors.New("dtls: PSK configured but no PSK cipher suite enabled")

	// ErrAlertFatal surfaces a received fatal alert to the caller
	// (spec.md §4.2 "Alert handling"); the caller must remove the
	// transport for this four-tuple.
	ErrAlertFatal = errors.New("dtls: received fatal alert")

	errUnexpectedMessage  = errors.New("dtls: unexpected handshake message for current state")
	errVerifyDataMismatch = errors.New("dtls: Finished verify_data mismatch")
	errEndpointClosed     = errors.New("dtls: endpoint is closed")
)

// AlertLevel distinguishes a warning from a connection-ending alert
// (RFC 5246 §7.2).
type AlertLevel uint8

const (
	AlertLevelWarning AlertLevel = 1
	AlertLevelFatal   AlertLevel = 2
)

// AlertDescription is the RFC 5246 §7.2 alert code.
type AlertDescription uint8

const (
	AlertCloseNotify       AlertDescription = 0
	AlertHandshakeFailure  AlertDescription = 40
	AlertBadRecordMAC      AlertDescription = 20
	AlertDecryptError      AlertDescription = 51
	AlertInternalError     AlertDescription = 80
)

// Alert is a 2-byte DTLS alert record payload.
type Alert struct {
	Level       AlertLevel
	Description AlertDescription
}

func (a Alert) marshal() []byte { return []byte{byte(a.Level), byte(a.Description)} }

func parseAlert(b []byte) (Alert, error) {
	if len(b) < 2 {
		return Alert{}, errors.New("dtls: truncated alert record")
	}
	return Alert{Level: AlertLevel(b[0]), Description: AlertDescription(b[1])}, nil
}
