// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"net/netip"

	"github.com/neatgo/neat/internal/sockopts"
	"golang.org/x/sys/unix"
)

// sourceAddrsOf extracts the bare addresses from records, the input
// [buildCandidates] needs for its source side of the cross product.
func sourceAddrsOf(records []AddressRecord) []netip.Addr {
	out := make([]netip.Addr, len(records))
	for i, r := range records {
		out[i] = r.Addr
	}
	return out
}

// bufferSizes reads the kernel send/receive buffer sizes for fd (spec §6
// "Send/receive buffer sizes are queried via getsockopt").
func bufferSizes(fd int) (writeSize, readSize int, err error) {
	writeSize, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	if err != nil {
		return 0, 0, err
	}
	readSize, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return 0, 0, err
	}
	return writeSize, readSize, nil
}

// listenSocket opens, configures, binds, and (for stream/SCTP protocols)
// listens on a socket for addr:port (spec §4.4 "Listen/Accept"). The
// returned explicitEOR reports whether SCTP_EXPLICIT_EOR took on this
// listener, inherited by every child flow it accepts.
func listenSocket(fam Family, proto Protocol, addr netip.Addr, port uint16, backlog int) (fd int, explicitEOR bool, err error) {
	domain := unix.AF_INET
	if fam == FamilyV6 {
		domain = unix.AF_INET6
	}
	sockType := unix.SOCK_STREAM
	if SockTypeForProtocol(proto) == SockDgram {
		sockType = unix.SOCK_DGRAM
	}

	fd, err = unix.Socket(domain, sockType, protoNumber(proto))
	if err != nil {
		return -1, false, err
	}
	if err := sockopts.SetReuseAddr(fd); err != nil {
		unix.Close(fd)
		return -1, false, err
	}
	if err := sockopts.SetNonblock(fd); err != nil {
		unix.Close(fd)
		return -1, false, err
	}
	explicitEOR, err = sockopts.SetNoDelay(fd, sockoptsProtocol(proto))
	if err != nil {
		unix.Close(fd)
		return -1, false, err
	}

	sa := toSockaddr(fam, netip.AddrPortFrom(addr, port))
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, false, err
	}

	if sockType == unix.SOCK_STREAM {
		if err := unix.Listen(fd, backlog); err != nil {
			unix.Close(fd)
			return -1, false, err
		}
	}
	return fd, explicitEOR, nil
}

// newListenerFlow constructs a [*Flow] in [StateListening] for a socket
// returned by [listenSocket]. explicitEOR is inherited by every child flow
// spawned from an accept() on this listener.
func newListenerFlow(reactor Reactor, logger SLogger, fd int, fam Family, proto Protocol, explicitEOR bool) *Flow {
	if logger == nil {
		logger = DefaultSLogger()
	}
	return &Flow{
		reactor:           reactor,
		logger:            logger,
		ops:               kernelSocketOps{},
		fd:                fd,
		protocol:          proto,
		family:            fam,
		sockType:          SockTypeForProtocol(proto),
		state:             StateListening,
		isSCTPExplicitEOR: explicitEOR,
	}
}
