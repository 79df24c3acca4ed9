// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"net/netip"
	"time"
)

// AddressRecord describes one usable source address on the host (spec §3).
//
// Invariants: ValidTTL >= PreferredTTL; a ValidTTL of 0 means infinite
// (never decremented, never expires). Loopback interfaces and
// non-universe-scope IPv6 addresses that are not ULA are filtered out
// before a record is ever constructed — see [isUsableIPv6].
type AddressRecord struct {
	Family  Family
	Addr    netip.Addr
	IfIndex int

	// Scope is the kernel-reported address scope (0 = universe). Only
	// meaningful for IPv6; IPv4 records always carry ScopeUniverse.
	Scope AddressScope

	// PreferredTTL and ValidTTL are seconds remaining, per RFC 4862
	// preferred/valid lifetimes. Zero means infinite.
	PreferredTTL time.Duration
	ValidTTL     time.Duration
}

// AddressScope mirrors the Linux rtnetlink address scope byte.
type AddressScope uint8

const (
	ScopeUniverse AddressScope = 0
	ScopeSite     AddressScope = 200
	ScopeLink     AddressScope = 253
	ScopeHost     AddressScope = 254
	ScopeNowhere  AddressScope = 255
)

// key identifies a record for ADD/DEL matching: (family, bytes, ifindex).
type addressKey struct {
	family  Family
	addr    netip.Addr
	ifindex int
}

func (r AddressRecord) key() addressKey {
	return addressKey{family: r.Family, addr: r.Addr, ifindex: r.IfIndex}
}

// isULA reports whether addr is an IPv6 Unique Local Address, i.e. its
// prefix falls in fc00::/7 (top 7 bits of the first byte are 0b1111110).
func isULA(addr netip.Addr) bool {
	if !addr.Is6() {
		return false
	}
	b := addr.As16()
	return b[0]&0xfe == 0xfc
}

// isUsableIPv6 applies spec §3's IPv6 inclusion rule literally: a record is
// excluded unless its scope is universe OR its prefix is ULA. This is
// intentionally the ambiguous rule as written (spec §9 Open Question a) —
// it does NOT additionally exclude ULA addresses with non-universe scope.
func isUsableIPv6(addr netip.Addr, scope AddressScope) bool {
	if scope == ScopeUniverse {
		return true
	}
	return isULA(addr)
}

// isUsableSource reports whether addr/ifindex/scope describes a record the
// [AddressCache] should retain: loopback interfaces are excluded outright;
// IPv4 addresses are always retained; IPv6 addresses go through
// [isUsableIPv6].
func isUsableSource(addr netip.Addr, scope AddressScope, loopback bool) bool {
	if loopback {
		return false
	}
	if addr.Is4() || addr.Is4In6() {
		return true
	}
	return isUsableIPv6(addr, scope)
}

// tick decrements r's lifetimes by one second (floor 0), per spec §4.1.
// Infinite lifetimes (ValidTTL == 0) are never decremented. It returns
// whether the record has now expired (ValidTTL reached exactly 0 after
// having been finite and positive).
func (r *AddressRecord) tick() (expired bool) {
	if r.ValidTTL <= 0 {
		return false
	}
	r.PreferredTTL -= time.Second
	if r.PreferredTTL < 0 {
		r.PreferredTTL = 0
	}
	r.ValidTTL -= time.Second
	if r.ValidTTL <= 0 {
		r.ValidTTL = 0
		return true
	}
	return false
}
