// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMonitor is an [AddressMonitor] double whose Snapshot/Subscribe
// behavior is fully scripted by the test.
type fakeMonitor struct {
	snapshot []AddressRecord
	snapErr  error
	handler  func(AddressEvent)
	unsubbed int
}

func (m *fakeMonitor) Snapshot(context.Context) ([]AddressRecord, error) {
	return m.snapshot, m.snapErr
}

func (m *fakeMonitor) Subscribe(handler func(AddressEvent)) func() {
	m.handler = handler
	return func() { m.unsubbed++ }
}

func mustRecord(addr string, ifindex int, validTTL time.Duration) AddressRecord {
	a := netip.MustParseAddr(addr)
	fam := FamilyV4
	if a.Is6() {
		fam = FamilyV6
	}
	return AddressRecord{Family: fam, Addr: a, IfIndex: ifindex, ValidTTL: validTTL, PreferredTTL: validTTL}
}

func TestAddressCacheSnapshotAndSubscribe(t *testing.T) {
	mon := &fakeMonitor{snapshot: []AddressRecord{mustRecord("192.0.2.1", 2, 0)}}
	reactor := newFakeReactor()

	cache, err := NewAddressCache(context.Background(), mon, reactor, nil)
	require.NoError(t, err)
	require.Len(t, cache.Snapshot(), 1, "the initial snapshot should seed the cache")

	var events []AddressEvent
	cache.Subscribe(func(ev AddressEvent) { events = append(events, ev) })

	added := mustRecord("192.0.2.2", 2, 0)
	mon.handler(AddressEvent{Kind: AddrAdded, Record: added})
	assert.Len(t, cache.Snapshot(), 2, "ADD should grow the cache")
	require.Len(t, events, 1)
	assert.Equal(t, AddrAdded, events[0].Kind, "subscriber should observe the ADD")

	mon.handler(AddressEvent{Kind: AddrRemoved, Record: added})
	assert.Len(t, cache.Snapshot(), 1, "DEL should shrink the cache")
}

func TestAddressCacheAddUpdatesExistingRecordInPlace(t *testing.T) {
	mon := &fakeMonitor{snapshot: []AddressRecord{mustRecord("192.0.2.1", 2, 100*time.Second)}}
	reactor := newFakeReactor()
	cache, err := NewAddressCache(context.Background(), mon, reactor, nil)
	require.NoError(t, err)

	updated := mustRecord("192.0.2.1", 2, 50*time.Second)
	mon.handler(AddressEvent{Kind: AddrAdded, Record: updated})

	snap := cache.Snapshot()
	require.Len(t, snap, 1, "re-ADD of an existing key must update, not duplicate")
	assert.Equal(t, 50*time.Second, snap[0].ValidTTL)
}

func TestAddressCacheTickExpiresAndNotifies(t *testing.T) {
	mon := &fakeMonitor{snapshot: []AddressRecord{
		mustRecord("192.0.2.1", 2, 0),                // infinite, must survive
		mustRecord("2001:db8::1", 2, 1*time.Second), // expires on first tick
	}}
	reactor := newFakeReactor()
	cache, err := NewAddressCache(context.Background(), mon, reactor, nil)
	require.NoError(t, err)

	var removed []AddressEvent
	cache.Subscribe(func(ev AddressEvent) {
		if ev.Kind == AddrRemoved {
			removed = append(removed, ev)
		}
	})

	cache.tick()

	snap := cache.Snapshot()
	require.Len(t, snap, 1, "expected exactly one surviving (infinite-lifetime) record")
	assert.Zero(t, snap[0].ValidTTL, "surviving record should be the infinite-lifetime one")
	assert.Len(t, removed, 1, "expected a synthetic ADDR_REMOVED for the expired record")
}

func TestAddressCacheCloseUnsubscribes(t *testing.T) {
	mon := &fakeMonitor{}
	reactor := newFakeReactor()
	cache, err := NewAddressCache(context.Background(), mon, reactor, nil)
	require.NoError(t, err)
	cache.Close()
	assert.Equal(t, 1, mon.unsubbed, "Close should unsubscribe from the monitor exactly once")
}
