// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"
)

// ResolveResult is what [Resolver.Resolve] delivers to its callback: the
// set of destination addresses resolved for a name, or an error (spec §4.2).
type ResolveResult struct {
	Addrs []netip.Addr
	Err   error
}

// Resolver implements spec §4.2's name resolution: a literal fast path for
// numeric addresses, and a stub DNS path that races one UDP query per
// (source address, upstream server) pair and merges the answers.
//
// Resolver owns no goroutines: every query is driven by [Reactor.RegisterFD]
// readiness callbacks and [Reactor.Schedule] timers, all invoked on the
// reactor goroutine (spec §5).
type Resolver struct {
	reactor Reactor
	cache   *AddressCache
	cfg     *Config
	logger  SLogger
}

// NewResolver constructs a [*Resolver] using cfg's timeouts, upstream server
// table, and logger. cache supplies the source addresses each stub-DNS query
// pair binds to (spec §4.2 step 1); a nil cache means no source address is
// available and the stub path reports [ErrResolverPolicy].
func NewResolver(reactor Reactor, cache *AddressCache, cfg *Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = DefaultSLogger()
	}
	return &Resolver{reactor: reactor, cache: cache, cfg: cfg, logger: logger}
}

// Resolve looks up name, restricted to familyFilter, and invokes done with
// the result. If name parses as a literal numeric address, done is invoked
// after [Config.DNSLiteralTimeout] with that single address and DNS is never
// consulted (spec §4.2 "literal fast path").
func (r *Resolver) Resolve(ctx context.Context, name string, familyFilter Family, done func(ResolveResult)) {
	if addr, err := netip.ParseAddr(name); err == nil {
		if !familyMatches(addr, familyFilter) {
			r.reactor.Schedule(r.cfg.DNSLiteralTimeout, func() {
				done(ResolveResult{Err: newError(KindResolverPolicy, nil)})
			})
			return
		}
		r.reactor.Schedule(r.cfg.DNSLiteralTimeout, func() {
			done(ResolveResult{Addrs: []netip.Addr{addr}})
		})
		return
	}

	r.resolveStub(ctx, name, familyFilter, done)
}

func familyMatches(addr netip.Addr, filter Family) bool {
	if filter == FamilyUnspecified {
		return true
	}
	return familyOf(addr) == filter
}

func (r *Resolver) resolveStub(ctx context.Context, name string, familyFilter Family, done func(ResolveResult)) {
	families := []Family{FamilyV4, FamilyV6}
	if familyFilter != FamilyUnspecified {
		families = []Family{familyFilter}
	}

	var srcAddrsByFamily map[Family][]netip.Addr
	if r.cache != nil {
		srcAddrsByFamily = make(map[Family][]netip.Addr)
		for _, rec := range r.cache.Snapshot() {
			srcAddrsByFamily[rec.Family] = append(srcAddrsByFamily[rec.Family], rec.Addr)
		}
	}

	// pairs = {(src, server) | src in AddressCache, server in
	// UpstreamServers[src.family]} (spec §4.2 step 1).
	type pair struct {
		fam    Family
		src    netip.Addr
		server netip.AddrPort
	}
	var pairs []pair
	for _, fam := range families {
		for _, src := range srcAddrsByFamily[fam] {
			for _, server := range r.cfg.UpstreamServers[fam] {
				pairs = append(pairs, pair{fam: fam, src: src, server: server})
			}
		}
	}
	if len(pairs) == 0 {
		r.reactor.Schedule(0, func() {
			done(ResolveResult{Err: newError(KindResolverPolicy, nil)})
		})
		return
	}

	state := &stubResolveState{
		resolver: r,
		name:     dns.Fqdn(name),
		done:     done,
		deadline: r.cfg.TimeNow().Add(r.cfg.DNSTimeout),
		seen:     make(map[netip.Addr]struct{}),
	}

	for _, p := range pairs {
		state.launch(ctx, p.fam, p.src, p.server)
	}

	state.mu.Lock()
	launched := state.pending
	state.mu.Unlock()
	if launched == 0 {
		state.finish(newError(KindResolverPolicy, nil))
		return
	}

	state.absoluteTimer, _ = r.reactor.Schedule(r.cfg.DNSTimeout, func() {
		state.finish(newError(KindResolverTimeout, nil))
	})
}

// stubResolveState aggregates the answers from every (source, server) pair
// launched for one name resolution (spec §4.2): each new answer restarts
// [Config.DNSResolvedTimeout]; [Config.DNSTimeout] is an absolute ceiling
// started once at launch.
type stubResolveState struct {
	resolver *Resolver
	name     string
	done     func(ResolveResult)

	mu            sync.Mutex
	addrs         []netip.Addr
	seen          map[netip.Addr]struct{}
	pending       int
	finished      bool
	deadline      time.Time
	resolvedTimer Canceler
	absoluteTimer Canceler
}

func (s *stubResolveState) launch(ctx context.Context, fam Family, src netip.Addr, server netip.AddrPort) {
	r := s.resolver
	spanLogger := withSpan(r.logger, NewSpanID())

	network := unix.AF_INET
	if fam == FamilyV6 {
		network = unix.AF_INET6
	}
	fd, err := unix.Socket(network, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return
	}

	// Bind to src before connecting, so this pair's query and response
	// travel over that specific source address (spec §4.2 step 2).
	if err := unix.Bind(fd, toSockaddr(fam, netip.AddrPortFrom(src, 0))); err != nil {
		unix.Close(fd)
		return
	}

	var sa unix.Sockaddr
	if fam == FamilyV4 {
		sa = &unix.SockaddrInet4{Addr: server.Addr().As4(), Port: int(server.Port())}
	} else {
		sa = &unix.SockaddrInet6{Addr: server.Addr().As16(), Port: int(server.Port())}
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return
	}

	localAddr := ""
	if sa, err := unix.Getsockname(fd); err == nil {
		localAddr = sockaddrString(sa)
	}

	logCtx := &dnsExchangeLogContext{
		ErrClassifier:  r.cfg.ErrClassifier,
		LocalAddr:      localAddr,
		Logger:         spanLogger,
		Protocol:       "udp",
		RemoteAddr:     server.String(),
		ServerProtocol: "udp",
		TimeNow:        r.cfg.TimeNow,
	}

	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	qtype := dns.TypeA
	if fam == FamilyV6 {
		qtype = dns.TypeAAAA
	}
	msg := new(dns.Msg)
	msg.SetQuestion(s.name, qtype)
	msg.Id = dns.Id()
	raw, err := msg.Pack()
	if err != nil {
		unix.Close(fd)
		s.completePair(fam)
		return
	}

	t0 := r.cfg.TimeNow()
	logCtx.logStart(t0, s.deadline)
	var rawQuery []byte
	logCtx.makeQueryObserver(t0, &rawQuery)(raw)

	if _, err := unix.Write(fd, raw); err != nil {
		unix.Close(fd)
		logCtx.logDone(t0, s.deadline, err)
		s.completePair(fam)
		return
	}

	_ = ctx

	r.reactor.RegisterFD(fd, PollRead, func(PollMask) {
		buf := make([]byte, 65535)
		n, err := unix.Read(fd, buf)
		r.reactor.UnregisterFD(fd)
		unix.Close(fd)
		if err != nil {
			logCtx.logDone(t0, s.deadline, err)
			s.completePair(fam)
			return
		}
		logCtx.makeResponseObserver(t0, &rawQuery)(buf[:n])
		logCtx.logDone(t0, s.deadline, nil)

		resp := new(dns.Msg)
		if err := resp.Unpack(buf[:n]); err != nil {
			s.completePair(fam)
			return
		}
		var answers []netip.Addr
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rec.A.To4()); ok {
					answers = append(answers, a)
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
					answers = append(answers, a)
				}
			}
		}
		s.addAnswers(answers)
		s.completePair(fam)
	})
}

// addAnswers merges the addresses from one query pair's response, keeping
// at most [Config.MaxNumResolved] of them, and restarts the
// resolved-timeout timer.
func (s *stubResolveState) addAnswers(addrs []netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	r := s.resolver
	if limit := r.cfg.MaxNumResolved; len(addrs) > limit {
		addrs = addrs[:limit]
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	for _, a := range addrs {
		if _, dup := s.seen[a]; dup {
			continue
		}
		s.seen[a] = struct{}{}
		s.addrs = append(s.addrs, a)
	}
	if s.resolvedTimer != nil {
		s.resolvedTimer.Cancel()
	}
	s.mu.Unlock()

	timer, err := r.reactor.Schedule(r.cfg.DNSResolvedTimeout, func() {
		s.finish(nil)
	})
	if err == nil {
		s.mu.Lock()
		s.resolvedTimer = timer
		s.mu.Unlock()
	}
}

// completePair decrements the pending-pair counter; when every launched pair
// has replied (or failed) with no successful answer yet, it finishes with a
// resolver-timeout error immediately instead of waiting out the absolute
// deadline.
func (s *stubResolveState) completePair(Family) {
	s.mu.Lock()
	s.pending--
	remaining := s.pending
	haveAddrs := len(s.addrs) > 0
	s.mu.Unlock()

	if remaining == 0 && !haveAddrs {
		s.finish(newError(KindResolverTimeout, nil))
	}
}

// finish delivers the result exactly once, canceling any outstanding timers.
func (s *stubResolveState) finish(timeoutErr error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	addrs := s.addrs
	if s.resolvedTimer != nil {
		s.resolvedTimer.Cancel()
	}
	if s.absoluteTimer != nil {
		s.absoluteTimer.Cancel()
	}
	s.mu.Unlock()

	if len(addrs) == 0 && timeoutErr != nil {
		s.done(ResolveResult{Err: timeoutErr})
		return
	}
	s.done(ResolveResult{Addrs: addrs})
}

// sockaddrString renders a unix.Sockaddr as a host:port string for logging.
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	default:
		return ""
	}
}
