// SPDX-License-Identifier: GPL-3.0-or-later

// Package sockopts configures the raw socket options the happy-eyeballs
// engine and flow I/O core need and that the standard library does not
// expose (spec §4.3, §4.4): TCP_NODELAY, best-effort SCTP nodelay/EOR mode,
// SO_REUSEADDR, and SO_ERROR consultation after a non-blocking connect.
//
// Grounded on the corpus's golang.org/x/sys/unix raw-setsockopt idiom (see
// onoffswitchrespiratorycenter178-beacon/internal/transport/socket_linux.go
// and digitalocean-go-openvswitch's ovsnl client).
package sockopts

import (
	"golang.org/x/sys/unix"
)

// Per RFC 6458, IPPROTO_SCTP is 132; the Linux SCTP socket API options below
// are not exposed by golang.org/x/sys/unix as named constants, so they are
// declared here against the stable ABI values from linux/sctp.h.
const (
	ipprotoSCTP = 132

	sctpNodelay    = 3
	sctpExplicitEOR = 25
)

// SetReuseAddr sets SO_REUSEADDR on fd, allowing a listener to rebind a
// recently-closed address.
func SetReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// SetNoDelay configures low-latency send behavior for proto on fd: for TCP
// this is TCP_NODELAY; for SCTP this is SCTP_NODELAY plus SCTP_EXPLICIT_EOR
// (message-boundary sends, spec §4.4 "message reassembly"). The returned
// explicitEOR reports whether SCTP_EXPLICIT_EOR actually took — a kernel
// without SCTP support, or one too old to know the option, returns
// ENOPROTOOPT, which is not an error here but means explicitEOR is false
// (spec §4.3 step 1 "remember whether it took"). UDP/UDP-Lite have no
// equivalent and are left untouched.
func SetNoDelay(fd int, proto Protocol) (explicitEOR bool, err error) {
	switch proto {
	case ProtocolTCP:
		return false, unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	case ProtocolSCTP:
		if err := unix.SetsockoptInt(fd, ipprotoSCTP, sctpNodelay, 1); err != nil && err != unix.ENOPROTOOPT {
			return false, err
		}
		if err := unix.SetsockoptInt(fd, ipprotoSCTP, sctpExplicitEOR, 1); err != nil {
			if err == unix.ENOPROTOOPT {
				return false, nil
			}
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// Protocol mirrors the subset of neat.Protocol this package cares about,
// avoiding an import cycle with the root package.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolSCTP
	ProtocolUDPLite
)

// PendingError consults SO_ERROR on fd, resolving the connect outcome of a
// non-blocking socket once it becomes writable (spec §9 Open Question b):
// a writable fd alone does not mean the connect succeeded, since a refused
// or unreachable connect also makes the fd writable.
func PendingError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// SetNonblock marks fd non-blocking, the precondition for registering it
// with a [neat.Reactor].
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
