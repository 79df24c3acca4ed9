// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package neat

import (
	"context"
	"sync"
	"time"

	"github.com/neatgo/neat/internal/addrmon"
)

// LinuxAddressMonitor adapts [internal/addrmon.Monitor] to the
// [AddressMonitor] port, translating rtnetlink records into
// [AddressRecord]s and applying the usable-source filter (spec §3, §4.1).
type LinuxAddressMonitor struct {
	mon *addrmon.Monitor
}

var _ AddressMonitor = (*LinuxAddressMonitor)(nil)

// NewLinuxAddressMonitor constructs a [*LinuxAddressMonitor].
func NewLinuxAddressMonitor() *LinuxAddressMonitor {
	return &LinuxAddressMonitor{mon: addrmon.New()}
}

// Snapshot implements [AddressMonitor].
func (m *LinuxAddressMonitor) Snapshot(ctx context.Context) ([]AddressRecord, error) {
	raw, err := m.mon.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]AddressRecord, 0, len(raw))
	for _, r := range raw {
		if rec, ok := toAddressRecord(r); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Subscribe implements [AddressMonitor]. The order of subscription relative
// to Snapshot matters: callers must snapshot first, then subscribe, to
// avoid missing a delta that lands in the gap (spec's original_source
// sequencing, preserved per SPEC_FULL.md).
//
// handler is invoked from a background goroutine reading the netlink
// socket, not from [Reactor]'s goroutine — this monitor has no Reactor
// reference to synchronize onto (spec §1 scopes the AddressMonitor port,
// and its internal threading, out of the core). [AddressCache.applyEvent]
// guards its record set with its own mutex, so this is race-free, but a
// handler that assumes it only ever runs on the reactor goroutine (per
// spec §5) must not be registered here directly.
func (m *LinuxAddressMonitor) Subscribe(handler func(AddressEvent)) (stop func()) {
	events, stopRaw, err := m.mon.Subscribe()
	if err != nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				rec, ok := toAddressRecord(ev.Record)
				if !ok {
					continue
				}
				kind := AddrAdded
				if ev.Kind == addrmon.EventRemoved {
					kind = AddrRemoved
				}
				handler(AddressEvent{Kind: kind, Record: rec})
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			stopRaw()
		})
	}
}

// toAddressRecord converts a raw rtnetlink record, applying the
// loopback/ULA/scope filter of [isUsableSource].
func toAddressRecord(r addrmon.Record) (AddressRecord, bool) {
	if !r.Addr.IsValid() {
		return AddressRecord{}, false
	}

	fam := FamilyV4
	if r.Family == 10 {
		fam = FamilyV6
	}

	if !isUsableSource(r.Addr, AddressScope(r.Scope), r.Addr.IsLoopback()) {
		return AddressRecord{}, false
	}

	return AddressRecord{
		Family:       fam,
		Addr:         r.Addr,
		IfIndex:      r.IfIndex,
		Scope:        AddressScope(r.Scope),
		PreferredTTL: ttlOf(r.PreferredTTL),
		ValidTTL:     ttlOf(r.ValidTTL),
	}, true
}

// ttlOf converts a kernel lifetime in seconds (0xffffffff meaning infinite)
// into a [time.Duration], with infinite mapped to 0 per [AddressRecord]'s
// own infinite sentinel.
func ttlOf(seconds uint32) time.Duration {
	if seconds == 0xffffffff {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
