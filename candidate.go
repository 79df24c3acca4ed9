// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import "net/netip"

// Candidate is one (source, destination, protocol) tuple the happy-eyeballs
// engine may race (spec §4.2, §4.3). Candidates are produced by the
// resolver's cross product of usable source addresses and resolved
// destination addresses, filtered and ordered by [Constraints].
type Candidate struct {
	SrcAddr  netip.AddrPort
	DstAddr  netip.AddrPort
	Family   Family
	SockType SockType
	Protocol Protocol
}

// candidateKey is the uniqueness tuple for deduplicating candidates: spec
// §4.2 keys on (protocol, destination, source) and drops exact repeats.
type candidateKey struct {
	protocol Protocol
	dstAddr  netip.AddrPort
	srcAddr  netip.AddrPort
}

func (c Candidate) key() candidateKey {
	return candidateKey{protocol: c.Protocol, dstAddr: c.DstAddr, srcAddr: c.SrcAddr}
}

// dedupeCandidates removes exact (protocol, dst, src) repeats, preserving
// the order of first occurrence.
func dedupeCandidates(in []Candidate) []Candidate {
	seen := make(map[candidateKey]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		k := c.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// buildCandidates forms the cross product of srcAddrs and dstAddrs for each
// protocol in protocols, keeping only pairs whose address families match
// and that satisfy familyFilter (spec §4.2). Results are deduplicated via
// [dedupeCandidates].
func buildCandidates(srcAddrs []netip.Addr, dstAddrs []netip.Addr, port uint16, protocols []Protocol, familyFilter Family) []Candidate {
	var out []Candidate
	for _, proto := range protocols {
		sockType := SockTypeForProtocol(proto)
		for _, dst := range dstAddrs {
			dstFamily := familyOf(dst)
			if familyFilter != FamilyUnspecified && familyFilter != dstFamily {
				continue
			}
			for _, src := range srcAddrs {
				if familyOf(src) != dstFamily {
					continue
				}
				out = append(out, Candidate{
					SrcAddr:  netip.AddrPortFrom(src, 0),
					DstAddr:  netip.AddrPortFrom(dst, port),
					Family:   dstFamily,
					SockType: sockType,
					Protocol: proto,
				})
			}
		}
	}
	return dedupeCandidates(out)
}

// familyOf classifies addr as v4 or v6, treating 4-in-6 as v4.
func familyOf(addr netip.Addr) Family {
	if addr.Is4() || addr.Is4In6() {
		return FamilyV4
	}
	return FamilyV6
}
