// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import "context"

// Family is an IP address family.
type Family int

const (
	// FamilyUnspecified means both v4 and v6 are acceptable.
	FamilyUnspecified Family = iota
	FamilyV4
	FamilyV6
)

// String returns a short name for the family, used in log fields.
func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return "unspecified"
	}
}

// Protocol is a transport protocol.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolSCTP
	ProtocolUDPLite
)

// String returns a short name for the protocol, used in log fields.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolSCTP:
		return "sctp"
	case ProtocolUDPLite:
		return "udplite"
	default:
		return "unknown"
	}
}

// SockType is the socket type derived from a [Protocol] (spec §4.2).
type SockType int

const (
	SockStream SockType = iota
	SockDgram
)

// SockTypeForProtocol returns the socket type for a protocol: SOCK_STREAM
// for TCP/SCTP, SOCK_DGRAM for UDP/UDP-Lite.
func SockTypeForProtocol(p Protocol) SockType {
	switch p {
	case ProtocolTCP, ProtocolSCTP:
		return SockStream
	default:
		return SockDgram
	}
}

// IsMessageProtocol reports whether p uses message (not byte-stream)
// semantics at the FlowCore level. Only SCTP is message-oriented here; the
// rest are treated as streams of bytes (UDP/UDP-Lite datagrams are still
// atomic sends, handled by the write() atomicity preflight, but do not
// require FlowCore's reassembly buffer).
func IsMessageProtocol(p Protocol) bool {
	return p == ProtocolSCTP
}

// Property is a bit-addressable transport property flag (spec §6). Each
// flag expresses either a REQUIRED or a BANNED constraint; a property not
// present in a [PropertyMask] is simply absent (no constraint).
type Property uint32

const (
	PropertySecurityOptional Property = 1 << iota
	PropertySecurityRequired
	PropertyMessage
	PropertyIPv4Required
	PropertyIPv4Banned
	PropertyIPv6Required
	PropertyIPv6Banned
	PropertySCTPRequired
	PropertySCTPBanned
	PropertyTCPRequired
	PropertyTCPBanned
	PropertyUDPRequired
	PropertyUDPBanned
	PropertyUDPLiteRequired
	PropertyUDPLiteBanned
	PropertyCongestionControlRequired
	PropertyCongestionControlBanned
	PropertyRetransmissionsRequired
	PropertyRetransmissionsBanned
)

// PropertyMask is a bit-set of [Property] flags.
type PropertyMask uint32

// Set returns a copy of m with p set.
func (m PropertyMask) Set(p Property) PropertyMask {
	return m | PropertyMask(p)
}

// Clear returns a copy of m with p cleared.
func (m PropertyMask) Clear(p Property) PropertyMask {
	return m &^ PropertyMask(p)
}

// Has reports whether p is set in m.
func (m PropertyMask) Has(p Property) bool {
	return m&PropertyMask(p) != 0
}

// Constraints is the result of translating a [PropertyMask] into resolver
// and happy-eyeballs inputs (spec §6).
type Constraints struct {
	FamilyFilter Family
	Protocols    []Protocol
}

// PropertyTranslateFunc implements [Func] to translate a [PropertyMask]
// into [Constraints], applying the family and protocol derivation rules of
// spec §6. This is the first stage [Context.Open] composes in front of
// resolution.
type PropertyTranslateFunc struct{}

var _ Func[PropertyMask, Constraints] = PropertyTranslateFunc{}

// Call implements [Func].
func (PropertyTranslateFunc) Call(_ context.Context, mask PropertyMask) (Constraints, error) {
	return TranslateProperties(mask)
}

// TranslateProperties applies the translation rules of spec §6 to mask,
// returning [ErrUnable] for a conflicting or empty result.
func TranslateProperties(mask PropertyMask) (Constraints, error) {
	var c Constraints

	// No security stage is wired in (spec §9 Open Question c): any request
	// for security, required or merely optional, cannot be satisfied.
	if mask.Has(PropertySecurityRequired) || mask.Has(PropertySecurityOptional) {
		return c, newError(KindUnable, nil)
	}

	v4req, v4ban := mask.Has(PropertyIPv4Required), mask.Has(PropertyIPv4Banned)
	v6req, v6ban := mask.Has(PropertyIPv6Required), mask.Has(PropertyIPv6Banned)
	if v4req && v4ban {
		return c, newError(KindUnable, nil)
	}
	if v6req && v6ban {
		return c, newError(KindUnable, nil)
	}
	if v4ban && v6ban {
		return c, newError(KindUnable, nil)
	}

	// Family translation rules, applied exactly as spec §6 states them;
	// any combination not covered below leaves the filter unspecified.
	switch {
	case v4req && v6ban:
		c.FamilyFilter = FamilyV4
	case v6req && v4ban:
		c.FamilyFilter = FamilyV6
	default:
		c.FamilyFilter = FamilyUnspecified
	}

	message := mask.Has(PropertyMessage)
	congestionRequired := mask.Has(PropertyCongestionControlRequired)
	retransRequired := mask.Has(PropertyRetransmissionsRequired)

	tcpReq, tcpBan := mask.Has(PropertyTCPRequired), mask.Has(PropertyTCPBanned)
	udpReq, udpBan := mask.Has(PropertyUDPRequired), mask.Has(PropertyUDPBanned)
	udpliteReq, udpliteBan := mask.Has(PropertyUDPLiteRequired), mask.Has(PropertyUDPLiteBanned)
	sctpReq, sctpBan := mask.Has(PropertySCTPRequired), mask.Has(PropertySCTPBanned)

	if tcpReq && tcpBan || udpReq && udpBan || udpliteReq && udpliteBan || sctpReq && sctpBan {
		return c, newError(KindUnable, nil)
	}

	includeTCP := !tcpBan && !message
	includeUDP := !udpBan && !congestionRequired && !retransRequired
	includeUDPLite := !udpliteBan && !congestionRequired && !retransRequired
	includeSCTP := !sctpBan

	if tcpReq {
		includeTCP, includeUDP, includeUDPLite, includeSCTP = true, false, false, false
	}
	if udpReq {
		includeTCP, includeUDP, includeUDPLite, includeSCTP = false, true, false, false
	}
	if udpliteReq {
		includeTCP, includeUDP, includeUDPLite, includeSCTP = false, false, true, false
	}
	if sctpReq {
		includeTCP, includeUDP, includeUDPLite, includeSCTP = false, false, false, true
	}

	if includeTCP {
		c.Protocols = append(c.Protocols, ProtocolTCP)
	}
	if includeSCTP {
		c.Protocols = append(c.Protocols, ProtocolSCTP)
	}
	if includeUDP {
		c.Protocols = append(c.Protocols, ProtocolUDP)
	}
	if includeUDPLite {
		c.Protocols = append(c.Protocols, ProtocolUDPLite)
	}

	if len(c.Protocols) == 0 {
		return c, newError(KindUnable, nil)
	}
	return c, nil
}
