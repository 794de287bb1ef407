// Package sdp touches just the slice of RFC 4566/8839 SDP spec.md §1 asks
// the core to understand: fingerprints, ICE credentials, candidates, and
// mid/SSRC bindings. Everything else (codec negotiation, bandwidth lines,
// timing) is left to github.com/pion/sdp/v3, which does the actual
// parsing/marshaling; this package only walks its result to pull out
// fingerprints/ICE credentials/mid/SSRC, and builds an answer by
// constructing one MediaDescription per m= section directly.
package sdp

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"

	"github.com/sansio-rtc/rtc/internal/ice"
)

// MediaBinding is one m= section's mid/ssrc/direction/codec binding
// (spec.md §1's "mid/SSRC/codec bindings"; codec payload types are kept
// opaque per spec.md's Non-goals — no codec negotiation logic here).
type MediaBinding struct {
	Mid          string
	Kind         string // "audio", "video", "application"
	Direction    string // "sendrecv", "sendonly", "recvonly", "inactive"
	SSRCs        []uint32
	PayloadTypes []int
}

// Remote is everything the core needs to pull out of a remote offer/answer.
type Remote struct {
	IceUfrag            string
	IcePwd              string
	FingerprintHash     string // e.g. "sha-256"
	FingerprintValue    string
	Candidates          []*ice.Candidate
	Media               []MediaBinding
}

// ParseRemote extracts the fields of spec.md §1 from a raw SDP blob:
// session-level attributes are the fallback, a media-level attribute of
// the same key overrides it (SDP's own inheritance rule, RFC 4566
// §5.13).
func ParseRemote(raw string) (*Remote, error) {
	desc := &pionsdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("sdp: unmarshaling: %w", err)
	}

	r := &Remote{}
	if ufrag, ok := desc.Attribute("ice-ufrag"); ok {
		r.IceUfrag = ufrag
	}
	if pwd, ok := desc.Attribute("ice-pwd"); ok {
		r.IcePwd = pwd
	}
	if fp, ok := desc.Attribute("fingerprint"); ok {
		hash, value, err := splitFingerprint(fp)
		if err != nil {
			return nil, err
		}
		r.FingerprintHash, r.FingerprintValue = hash, value
	}

	for _, m := range desc.MediaDescriptions {
		if ufrag, ok := m.Attribute("ice-ufrag"); ok {
			r.IceUfrag = ufrag
		}
		if pwd, ok := m.Attribute("ice-pwd"); ok {
			r.IcePwd = pwd
		}
		if fp, ok := m.Attribute("fingerprint"); ok {
			hash, value, err := splitFingerprint(fp)
			if err != nil {
				return nil, err
			}
			r.FingerprintHash, r.FingerprintValue = hash, value
		}

		binding := MediaBinding{Kind: m.MediaName.Media}
		ssrcSeen := map[uint32]bool{}
		for _, attr := range m.Attributes {
			switch attr.Key {
			case "mid":
				binding.Mid = attr.Value
			case "sendrecv", "sendonly", "recvonly", "inactive":
				binding.Direction = attr.Key
			case pionsdp.AttrKeySSRC:
				fields := strings.Fields(attr.Value)
				if len(fields) == 0 {
					continue
				}
				ssrc, err := strconv.ParseUint(fields[0], 10, 32)
				if err != nil {
					continue
				}
				if !ssrcSeen[uint32(ssrc)] {
					ssrcSeen[uint32(ssrc)] = true
					binding.SSRCs = append(binding.SSRCs, uint32(ssrc))
				}
			case "candidate":
				c, err := ice.UnmarshalCandidate(attr.Value)
				if err != nil {
					return nil, fmt.Errorf("sdp: parsing candidate %q: %w", attr.Value, err)
				}
				r.Candidates = append(r.Candidates, c)
			}
		}
		for _, f := range m.MediaName.Formats {
			if pt, err := strconv.Atoi(f); err == nil {
				binding.PayloadTypes = append(binding.PayloadTypes, pt)
			}
		}
		r.Media = append(r.Media, binding)
	}

	if r.IceUfrag == "" {
		return nil, fmt.Errorf("sdp: missing ice-ufrag")
	}
	if r.IcePwd == "" {
		return nil, fmt.Errorf("sdp: missing ice-pwd")
	}
	return r, nil
}

func splitFingerprint(attr string) (hash, value string, err error) {
	parts := strings.Fields(attr)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("sdp: malformed fingerprint attribute %q", attr)
	}
	return parts[0], parts[1], nil
}

// LocalMedia is one local m= section to write (one per RtpTransceiver plus
// the fixed data channel section).
type LocalMedia struct {
	Mid          string
	Kind         string // "audio", "video"
	Direction    string
	SSRCs        []uint32
	PayloadTypes []int
}

// Local assembles the fields BuildLocal needs to write an offer/answer.
type Local struct {
	IceUfrag, IcePwd         string
	FingerprintHash          string
	FingerprintValue         string
	SetupRole                string // "active", "passive", or "actpass"
	Candidates               []*ice.Candidate
	DataChannelMid           string // empty if no SCTP association is offered
	Media                    []LocalMedia
}

// BuildLocal renders an offer/answer: ice-ufrag/ice-pwd/fingerprint at
// session level, then one MediaDescription per transceiver plus one
// "application"/SCTP section, each carrying candidates/setup/mid.
func BuildLocal(l Local) (string, error) {
	d := &pionsdp.SessionDescription{
		Version: 0,
		Origin: pionsdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []pionsdp.TimeDescription{
			{Timing: pionsdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}
	d = d.WithValueAttribute("ice-ufrag", l.IceUfrag).
		WithValueAttribute("ice-pwd", l.IcePwd)
	if l.FingerprintValue != "" {
		d = d.WithValueAttribute("fingerprint", l.FingerprintHash+" "+l.FingerprintValue)
	}

	var bundle []string
	for _, m := range l.Media {
		md := pionsdp.NewJSEPMediaDescription(m.Kind, nil).
			WithValueAttribute("setup", l.SetupRole).
			WithValueAttribute("mid", m.Mid)
		if m.Direction != "" {
			md = md.WithPropertyAttribute(m.Direction)
		}
		for _, ssrc := range m.SSRCs {
			md = md.WithValueAttribute(pionsdp.AttrKeySSRC, fmt.Sprintf("%d", ssrc))
		}
		addCandidates(md, l.Candidates)
		d.WithMedia(md)
		bundle = append(bundle, m.Mid)
	}

	if l.DataChannelMid != "" {
		md := (&pionsdp.MediaDescription{
			MediaName: pionsdp.MediaName{
				Media:   "application",
				Port:    pionsdp.RangedPort{Value: 9},
				Protos:  []string{"DTLS", "SCTP"},
				Formats: []string{"webrtc-datachannel"},
			},
			ConnectionInformation: &pionsdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &pionsdp.Address{IP: net.IPv4zero},
			},
		}).
			WithValueAttribute("setup", l.SetupRole).
			WithValueAttribute("mid", l.DataChannelMid)
		addCandidates(md, l.Candidates)
		d.WithMedia(md)
		bundle = append(bundle, l.DataChannelMid)
	}

	if len(bundle) > 0 {
		d = d.WithValueAttribute("group", "BUNDLE "+strings.Join(bundle, " "))
	}

	raw, err := d.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdp: marshaling: %w", err)
	}
	return string(raw), nil
}

func addCandidates(md *pionsdp.MediaDescription, candidates []*ice.Candidate) {
	for _, c := range candidates {
		md.WithValueAttribute("candidate", c.Marshal())
	}
	md.WithPropertyAttribute("end-of-candidates")
}
