// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	gocontext "context"
	"log/slog"
	"reflect"

	"github.com/neatgo/neat/internal/sockopts"
	"golang.org/x/sys/unix"
)

// EventKind is a closed enumeration of event-callback slots a [Context]
// dispatches (spec §4.5, §6). Registering an out-of-range kind fails
// deterministically.
type EventKind int

const (
	EventConnected EventKind = iota
	EventReadable
	EventWritable
	EventAllWritten
	EventError
	EventResolveDone

	// eventKindCount bounds the registry (spec §6's NEAT_MAX_EVENT).
	eventKindCount
)

// NEATMaxEvent is the published maximum [EventKind] value, accepted by
// [Context.AddEventCallback].
const NEATMaxEvent = int(eventKindCount) - 1

// Context owns the reactor, the address cache, the lazily-instantiated
// resolver, and a bounded event-callback registry (spec §4.5). It is the
// application's entry point for opening and accepting flows.
type Context struct {
	reactor  Reactor
	monitor  AddressMonitor
	cfg      *Config
	logger   SLogger
	cache    *AddressCache
	resolver *Resolver

	callbacks [eventKindCount]map[any]struct{}
}

// NewContext constructs a [*Context] from cfg, eagerly creating the
// [AddressCache] (it needs a live snapshot immediately) but lazily creating
// the [Resolver] on the first [Context.Open] or [Context.Accept] call.
func NewContext(ctx gocontext.Context, cfg *Config) (*Context, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.Reactor == nil || cfg.AddressMonitor == nil {
		return nil, newError(KindBadArgument, nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = DefaultSLogger()
	}

	cache, err := NewAddressCache(ctx, cfg.AddressMonitor, cfg.Reactor, logger)
	if err != nil {
		return nil, err
	}

	c := &Context{
		reactor: cfg.Reactor,
		monitor: cfg.AddressMonitor,
		cfg:     cfg,
		logger:  logger,
		cache:   cache,
	}
	for i := range c.callbacks {
		c.callbacks[i] = make(map[any]struct{})
	}
	return c, nil
}

// AddEventCallback registers cb under kind. Registering the same cb object
// twice for the same kind fails with [ErrBadArgument] (spec §8 round-trip
// property); registering outside [0, NEATMaxEvent] also fails.
//
// cb is used as a map key to detect duplicates, so it must be a comparable
// value — a pointer to a callback struct, for instance. A bare func literal
// is not comparable and is rejected with [ErrBadArgument] rather than
// panicking: pass a pointer wrapping the func instead.
func (c *Context) AddEventCallback(kind EventKind, cb any) error {
	if kind < 0 || int(kind) > NEATMaxEvent {
		return ErrBadArgument
	}
	if !isComparableCallback(cb) {
		return ErrBadArgument
	}
	if _, dup := c.callbacks[kind][cb]; dup {
		return ErrBadArgument
	}
	c.callbacks[kind][cb] = struct{}{}
	return nil
}

// RemoveEventCallback unregisters cb from kind, if present.
func (c *Context) RemoveEventCallback(kind EventKind, cb any) {
	if kind < 0 || int(kind) > NEATMaxEvent || !isComparableCallback(cb) {
		return
	}
	delete(c.callbacks[kind], cb)
}

// isComparableCallback reports whether cb can safely be used as a map key.
// Funcs, slices, and maps are not comparable; using one as an interface map
// key panics at the first hash rather than failing to compile, since the
// map's key type here is the interface type any, not cb's concrete type.
func isComparableCallback(cb any) bool {
	if cb == nil {
		return false
	}
	t := reflect.TypeOf(cb)
	return t != nil && t.Comparable()
}

func (c *Context) resolverOrCreate() *Resolver {
	if c.resolver == nil {
		c.resolver = NewResolver(c.reactor, c.cache, c.cfg)
	}
	return c.resolver
}

// Open implements spec §4.4 "open": translates mask, resolves name, races
// the resulting candidates, and delivers the winning [*Flow] (or a
// terminal error) to done, exactly once.
func (c *Context) Open(ctx gocontext.Context, name string, port uint16, mask PropertyMask, done func(*Flow, error)) {
	logger := withSpan(c.logger, NewSpanID())
	logger.Info("openStart", slog.String("name", name), slog.Int("port", int(port)))

	constraints, err := PropertyTranslateFunc{}.Call(ctx, mask)
	if err != nil {
		logger.Info("openDone", slog.Any("err", err))
		done(nil, err)
		return
	}

	resolver := c.resolverOrCreate()
	resolver.Resolve(ctx, name, constraints.FamilyFilter, func(res ResolveResult) {
		if res.Err != nil {
			logger.Info("openDone", slog.Any("err", res.Err))
			done(nil, res.Err)
			return
		}

		srcAddrs := sourceAddrsOf(c.cache.Snapshot())
		candidates := buildCandidates(srcAddrs, res.Addrs, port, constraints.Protocols, constraints.FamilyFilter)
		if len(candidates) == 0 {
			logger.Info("openDone", slog.Any("err", ErrUnable))
			done(nil, ErrUnable)
			return
		}

		raceCandidates(c.reactor, logger, c.cfg.ErrClassifier, candidates, func(rr raceResult) {
			if rr.Err != nil {
				logger.Info("openDone", slog.Any("err", rr.Err))
				done(nil, rr.Err)
				return
			}

			writeSize, readSize, err := bufferSizes(rr.Fd)
			if err != nil {
				unix.Close(rr.Fd)
				logger.Info("openDone", slog.Any("err", err))
				done(nil, newError(KindInternal, err))
				return
			}

			logger.Info("openDone", slog.Any("err", nil))
			flow := newFlow(c.reactor, c.logger, rr.Fd, *rr.Winner, writeSize, readSize, rr.ExplicitEOR)
			flow.propertyMask = mask
			flow.propertyAttempt = mask
			flow.propertyUsed = mask
			flow.name = name
			flow.port = port
			flow.recomputeInterest()
			done(flow, nil)
		})
	})
}

// Accept implements spec §4.4 "Listen/Accept": resolve the listen
// address(es), open one listening socket per resolved address, and invoke
// acceptCb with a freshly accepted child [*Flow] on every accept readiness.
//
// Like [Context.Open], resolution is driven entirely by reactor callbacks
// (spec §5: "no implicit yields inside the core"), so ready is invoked
// asynchronously from the reactor's goroutine rather than returning
// synchronously — a caller that instead blocked waiting for the result
// would deadlock, since nothing would be left to drive the reactor loop
// that resolution depends on.
func (c *Context) Accept(ctx gocontext.Context, name string, port uint16, mask PropertyMask, ready func([]*Flow, error), acceptCb func(*Flow)) {
	logger := withSpan(c.logger, NewSpanID())
	logger.Info("acceptStart", slog.String("name", name), slog.Int("port", int(port)))

	if name == "*" {
		name = "0.0.0.0"
	}

	constraints, err := TranslateProperties(mask)
	if err != nil {
		logger.Info("acceptDone", slog.Any("err", err))
		ready(nil, err)
		return
	}
	if len(constraints.Protocols) == 0 {
		logger.Info("acceptDone", slog.Any("err", ErrUnable))
		ready(nil, ErrUnable)
		return
	}

	c.resolverOrCreate().Resolve(ctx, name, constraints.FamilyFilter, func(res ResolveResult) {
		if res.Err != nil {
			logger.Info("acceptDone", slog.Any("err", res.Err))
			ready(nil, res.Err)
			return
		}

		var listeners []*Flow
		proto := constraints.Protocols[0]

		for _, dst := range res.Addrs {
			fam := familyOf(dst)
			fd, explicitEOR, err := listenSocket(fam, proto, dst, port, c.cfg.ListenBacklog)
			if err != nil {
				for _, l := range listeners {
					l.Close()
				}
				logger.Info("acceptDone", slog.Any("err", err))
				ready(nil, newError(KindIO, err))
				return
			}

			listener := newListenerFlow(c.reactor, logger, fd, fam, proto, explicitEOR)
			listener.acceptFn = func() {
				c.dispatchAccept(listener, acceptCb)
			}
			listener.recomputeInterest()
			listeners = append(listeners, listener)
		}
		logger.Info("acceptDone", slog.Any("err", nil))
		ready(listeners, nil)
	})
}

// dispatchAccept performs the OS accept(2) call and spawns a connected
// child flow inheriting the listener's protocol/family (spec §4.4).
func (c *Context) dispatchAccept(listener *Flow, acceptCb func(*Flow)) {
	fd, _, err := unix.Accept(listener.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		c.logger.Info("acceptFailed", slog.String("err", err.Error()))
		return
	}
	if err := sockopts.SetNonblock(fd); err != nil {
		unix.Close(fd)
		return
	}

	writeSize, readSize, err := bufferSizes(fd)
	if err != nil {
		unix.Close(fd)
		return
	}

	child := newFlow(c.reactor, c.logger, fd, Candidate{
		Family:   listener.family,
		Protocol: listener.protocol,
		SockType: listener.sockType,
	}, writeSize, readSize, listener.isSCTPExplicitEOR)
	child.ownedByCore = true
	child.firstWritePending = false
	child.state = StateConnected

	if acceptCb != nil {
		acceptCb(child)
	}
	if child.onConnected != nil {
		child.onConnected()
	}
	child.recomputeInterest()
	// Synthetic readiness dispatch lets the child pick up any data that
	// arrived between accept() and callback registration.
	child.onReady(PollRead)
}

// Run drives the reactor according to mode (spec §4.5).
func (c *Context) Run(mode RunMode) error {
	return c.reactor.Run(mode)
}

// Close shuts down the address cache and the reactor.
func (c *Context) Close() error {
	c.cache.Close()
	return c.reactor.Close()
}
