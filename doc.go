// SPDX-License-Identifier: GPL-3.0-or-later

// Package neat lets applications open network flows by describing what they
// need — message vs. stream semantics, congestion control, reliability,
// IP-family preferences, security — rather than choosing a transport
// protocol and address family up front.
//
// # Core Abstraction
//
// Given a symbolic peer name, a port, and a [PropertyMask] of constraints, a
// [Context] (a) enumerates reachable protocol/family candidates via its
// [Resolver], (b) races them concurrently via its happy-eyeballs engine,
// (c) commits to the first candidate whose handshake completes, and
// (d) exposes the result as a [Flow] through a uniform event-driven API.
//
// # Subsystems
//
//   - [AddressCache]: a live inventory of usable source addresses on the
//     host, fed by an [AddressMonitor] and subject to IPv6 temporary-address
//     lifetime expiry.
//   - [Resolver]: a stub DNS resolver issuing queries from every
//     (source address, upstream server) pair in parallel, merging the
//     successful answers into a candidate set.
//   - The happy-eyeballs engine (unexported, driven by [Context.Open]):
//     allocates a socket per candidate, races non-blocking connects, commits
//     the first winner, tears down the losers.
//   - [Flow]: per-flow readiness polling, message-boundary handling for
//     datagram/message protocols, a send-side buffering/draining ladder, and
//     dispatch of user callbacks.
//
// # Concurrency model
//
// Single-threaded cooperative: every subsystem runs on the goroutine that
// calls [Context.Run], driven by the injected [Reactor]. There are no
// implicit yields inside the core; long-running operations (draining a send
// queue, resolving a name) suspend by returning [ErrWouldBlock] or by
// registering a continuation with the Reactor, and resume when the Reactor
// re-invokes the core. The exception is address change delivery:
// [LinuxAddressMonitor] hands ADD/REMOVE events to the [AddressCache] from
// its own goroutine, and the cache guards its state with a mutex.
//
// # Composition utilities
//
// [Func], [Compose2] through [Compose8], [FuncAdapter], [Apply],
// [ConstFunc], and [NewEndpointFunc] provide a small, type-safe pipeline
// combinator used internally (e.g. [Context.Open] composes a property
// translation step in front of resolution) and available to callers
// building custom flows on top of [Resolver] or [AddressCache].
//
// # Observability
//
// All subsystems support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled; set Config.Logger to enable
// it. Error classification is configurable via [ErrClassifier]; [NewConfig]
// wires a default based on the errclass subpackage.
//
// Subsystems emit two kinds of structured log events: span events
// (*Start/*Done pairs, used for latency analysis and error tracking) and
// wire observations (e.g. dnsQuery/dnsResponse, addrAdded/addrRemoved).
// A UUIDv7 identifier from [NewSpanID] is added as a "spanID" field to the
// events of each [Context.Open] and [Context.Accept] call, each resolver
// query pair, and each happy-eyeballs candidate attempt; AddressCache
// events carry none.
//
// # Design boundaries
//
// This package does not implement TCP/UDP/SCTP/UDP-Lite themselves (used as
// provided by the OS), a policy language beyond the property flags in
// [PropertyMask], TLS (referenced as a pluggable security stage that is not
// wired in — [PropertySecurityRequired] and [PropertySecurityOptional]
// currently cause [Context.Open]/[Context.Accept] to return [ErrUnable]),
// CLI argument parsing, or an event loop of its own: the [Reactor] and
// [AddressMonitor] ports are external collaborators, with concrete Linux
// implementations in internal/epollreactor and internal/addrmon.
package neat
