// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"net/netip"
	"time"

	"github.com/neatgo/neat/errclass"
)

// Config holds common configuration for the core subsystems (AddressCache,
// Resolver, HappyEyeballs, FlowCore, Context).
//
// Pass this to [NewContext] to pre-wire dependencies. All fields have
// sensible defaults set by [NewConfig]; fields may be overridden afterwards,
// before the [Context] is constructed.
type Config struct {
	// Reactor is the non-blocking readiness/timer port. Set by [NewConfig]
	// to nil: callers must supply a concrete [Reactor] (see
	// internal/epollreactor) before constructing a [Context].
	Reactor Reactor

	// AddressMonitor feeds the [AddressCache]. Set by [NewConfig] to nil:
	// callers must supply a concrete [AddressMonitor] (see internal/addrmon)
	// before constructing a [Context].
	AddressMonitor AddressMonitor

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [ErrClassifierFunc] wrapping errclass.New.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use. Set by [NewConfig] to
	// [DefaultSLogger] (a no-op).
	Logger SLogger

	// TimeNow returns the current time. Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// UpstreamServers lists the stub-DNS upstream servers to query, keyed
	// by family. Set by [NewConfig] to two IPv4 and two IPv6 public
	// resolvers per spec.
	UpstreamServers map[Family][]netip.AddrPort

	// DNSLiteralTimeout bounds the literal (numeric-address) resolution
	// fast path. Set by [NewConfig] to 100ms.
	DNSLiteralTimeout time.Duration

	// DNSResolvedTimeout is the quiet period after the first DNS answer
	// arrives before the resolver commits the merged result set. Set by
	// [NewConfig] to 1s; restarted on every new address.
	DNSResolvedTimeout time.Duration

	// DNSTimeout is the absolute ceiling for resolution, counted from the
	// first query send. Set by [NewConfig] to 30s.
	DNSTimeout time.Duration

	// MaxNumResolved bounds the number of addresses recorded per
	// (src, server) query pair. Set by [NewConfig] to 8.
	MaxNumResolved int

	// ListenBacklog is the backlog passed to listen() for stream/SCTP
	// listeners. Set by [NewConfig] to 100.
	ListenBacklog int
}

// NewConfig creates a [*Config] with sensible defaults. The caller must
// still set Reactor and AddressMonitor before constructing a [Context].
func NewConfig() *Config {
	return &Config{
		ErrClassifier:      ErrClassifierFunc(errclass.New),
		Logger:             DefaultSLogger(),
		TimeNow:            time.Now,
		UpstreamServers:    defaultUpstreamServers(),
		DNSLiteralTimeout:  100 * time.Millisecond,
		DNSResolvedTimeout: 1 * time.Second,
		DNSTimeout:         30 * time.Second,
		MaxNumResolved:     8,
		ListenBacklog:      100,
	}
}

// defaultUpstreamServers returns the built-in public resolver list: two
// IPv4 and two IPv6 servers, per spec §4.2.
func defaultUpstreamServers() map[Family][]netip.AddrPort {
	return map[Family][]netip.AddrPort{
		FamilyV4: {
			netip.MustParseAddrPort("8.8.8.8:53"),
			netip.MustParseAddrPort("1.1.1.1:53"),
		},
		FamilyV6: {
			netip.MustParseAddrPort("[2001:4860:4860::8888]:53"),
			netip.MustParseAddrPort("[2606:4700:4700::1111]:53"),
		},
	}
}
