// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import "context"

// AddressEventKind distinguishes the two events an [AddressMonitor] emits.
type AddressEventKind int

const (
	AddrAdded AddressEventKind = iota
	AddrRemoved
)

// AddressEvent is one address change notification (spec §4.1).
type AddressEvent struct {
	Kind   AddressEventKind
	Record AddressRecord
}

// AddressMonitor is the port through which the host's route/address
// notifications reach the [AddressCache] (spec §1, §6): an external
// collaborator. The concrete Linux implementation (internal/addrmon) uses
// rtnetlink; this package only declares the interface the core consumes.
type AddressMonitor interface {
	// Snapshot returns a full dump of currently usable source addresses,
	// used to initialize the [AddressCache].
	Snapshot(ctx context.Context) ([]AddressRecord, error)

	// Subscribe registers handler to be called for every subsequent
	// ADDR_ADDED/ADDR_REMOVED event. The goroutine handler runs on is up to
	// the implementation: [LinuxAddressMonitor] calls it from its own
	// netlink reader goroutine, not from the reactor goroutine. It returns
	// a function that unregisters handler; calling it more than once is a
	// no-op.
	Subscribe(handler func(AddressEvent)) (stop func())
}
