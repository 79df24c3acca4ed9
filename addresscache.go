// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AddressCache is a live inventory of usable source addresses on the host
// (spec §4.1). It is populated from an [AddressMonitor] snapshot plus
// subsequent ADD/DEL deltas, and subjects every finite-lifetime record to a
// 1-second tick that decrements PreferredTTL/ValidTTL and evicts expired
// entries.
//
// AddressCache is read-mostly: only [AddressCache.applyEvent] and the
// lifetime tick mutate it. The tick runs on the reactor goroutine;
// applyEvent runs on whichever goroutine the [AddressMonitor] delivers
// events on, which for [LinuxAddressMonitor] is its own netlink reader
// goroutine. A mutex guards the record set and the handler list, so these
// and [AddressCache.Snapshot]/[AddressCache.Subscribe] may run
// concurrently. Handlers registered with [AddressCache.Subscribe] run on
// the goroutine that applied the change.
type AddressCache struct {
	monitor AddressMonitor
	logger  SLogger

	mu       sync.Mutex
	records  map[addressKey]AddressRecord
	handlers []func(AddressEvent)

	stopMonitor func()
	stopTick    Canceler
}

// NewAddressCache constructs an [*AddressCache] backed by monitor, fetches
// the initial snapshot, and subscribes to subsequent deltas. The lifetime
// tick is scheduled on reactor at 1-second granularity. Monitor failures
// during snapshot are returned. Later monitor failures are not reported to
// the cache and are not logged: if the monitor stops delivering events, the
// cache keeps serving the records it already has.
func NewAddressCache(ctx context.Context, monitor AddressMonitor, reactor Reactor, logger SLogger) (*AddressCache, error) {
	if logger == nil {
		logger = DefaultSLogger()
	}
	c := &AddressCache{
		monitor: monitor,
		logger:  logger,
		records: make(map[addressKey]AddressRecord),
	}

	snap, err := monitor.Snapshot(ctx)
	if err != nil {
		return nil, newError(KindInternal, err)
	}
	for _, r := range snap {
		c.records[r.key()] = r
	}

	c.stopMonitor = monitor.Subscribe(c.applyEvent)

	tick, err := reactor.ScheduleRepeating(time.Second, c.tick)
	if err != nil {
		c.stopMonitor()
		return nil, newError(KindInternal, err)
	}
	c.stopTick = tick

	return c, nil
}

// Snapshot returns an immutable copy of the current record set.
func (c *AddressCache) Snapshot() []AddressRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AddressRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out
}

// Subscribe registers handler for every ADD/REMOVE applied to the cache,
// including synthetic removals generated by lifetime expiry.
func (c *AddressCache) Subscribe(handler func(AddressEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Close stops the lifetime tick and unsubscribes from the monitor.
func (c *AddressCache) Close() {
	if c.stopTick != nil {
		c.stopTick.Cancel()
	}
	if c.stopMonitor != nil {
		c.stopMonitor()
	}
}

// applyEvent handles one ADD/REMOVE notification from the monitor.
func (c *AddressCache) applyEvent(ev AddressEvent) {
	c.mu.Lock()
	switch ev.Kind {
	case AddrAdded:
		// An ADD with (family, bytes, ifindex) already present updates
		// the existing record's lifetimes; duplicates are not inserted.
		c.records[ev.Record.key()] = ev.Record
	case AddrRemoved:
		delete(c.records, ev.Record.key())
	}
	c.mu.Unlock()

	c.logger.Info(
		addrEventMessage(ev.Kind),
		slog.String("family", ev.Record.Family.String()),
		slog.String("addr", ev.Record.Addr.String()),
		slog.Int("ifindex", ev.Record.IfIndex),
	)
	c.notify(ev)
}

func addrEventMessage(kind AddressEventKind) string {
	if kind == AddrAdded {
		return "addrAdded"
	}
	return "addrRemoved"
}

// tick runs once per second on the reactor goroutine: decrement every
// finite-lifetime record, evict those that reach zero, and emit a
// synthetic ADDR_REMOVED for each eviction.
func (c *AddressCache) tick() {
	var expired []AddressRecord

	c.mu.Lock()
	for key, rec := range c.records {
		if rec.tick() {
			expired = append(expired, rec)
			delete(c.records, key)
		} else {
			c.records[key] = rec
		}
	}
	c.mu.Unlock()

	for _, rec := range expired {
		ev := AddressEvent{Kind: AddrRemoved, Record: rec}
		c.logger.Info(
			"addrRemoved",
			slog.String("family", rec.Family.String()),
			slog.String("addr", rec.Addr.String()),
			slog.Int("ifindex", rec.IfIndex),
			slog.String("reason", "expired"),
		)
		c.notify(ev)
	}
}

func (c *AddressCache) notify(ev AddressEvent) {
	c.mu.Lock()
	handlers := make([]func(AddressEvent), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
