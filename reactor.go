// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import "time"

// PollMask is a bit-set of readiness interests, recomputed by [Flow] on
// every callback registration change or drain-state transition (spec
// §4.4).
type PollMask uint8

const (
	PollRead PollMask = 1 << iota
	PollWrite
)

// RunMode selects how [Reactor.Run] drives the event loop (spec §4.5).
type RunMode int

const (
	// RunDefault blocks until [Reactor.Close] is called or no more events
	// are registered.
	RunDefault RunMode = iota
	// RunOnce processes at most one batch of ready events, blocking until
	// at least one is available.
	RunOnce
	// RunNoWait processes whatever is immediately ready and returns
	// without blocking.
	RunNoWait
)

// Canceler cancels a scheduled timer. Calling Cancel more than once, or
// after the timer has already fired, is a no-op.
type Canceler interface {
	Cancel()
}

// Reactor is the non-blocking readiness/timer port the core depends on
// (spec §1, §5): single-threaded, cooperative, and the only source of
// suspension for the core. This package does not implement TCP/UDP/SCTP
// itself, and does not implement its own event loop — concrete
// implementations (e.g. internal/epollreactor, Linux epoll-backed) are
// external collaborators injected via [Config.Reactor].
//
// All methods are called from, and all registered callbacks are invoked
// on, the single goroutine that calls [Reactor.Run] — there are no data
// races to arbitrate inside the core (spec §5).
type Reactor interface {
	// RegisterFD registers fd for the given readiness interest, replacing
	// any previous registration for fd. A mask of 0 is equivalent to
	// UnregisterFD. cb is invoked with the readiness events observed, on
	// the reactor's goroutine.
	RegisterFD(fd int, mask PollMask, cb func(PollMask)) error

	// UnregisterFD removes fd's registration, if any.
	UnregisterFD(fd int) error

	// Schedule arranges for fn to run once after d elapses.
	Schedule(d time.Duration, fn func()) (Canceler, error)

	// ScheduleRepeating arranges for fn to run every d, starting after the
	// first interval elapses, until canceled.
	ScheduleRepeating(d time.Duration, fn func()) (Canceler, error)

	// Run drives the loop according to mode. RunDefault blocks until
	// Close is called; RunOnce processes one batch; RunNoWait never
	// blocks.
	Run(mode RunMode) error

	// Close stops the loop and releases any OS resources (e.g. an epoll fd
	// and a wake-up pipe) the reactor owns. Registered FDs are not closed by Close
	// — their owners (Flow, Resolver pair, happy-eyeballs candidate) are
	// responsible for that.
	Close() error
}
