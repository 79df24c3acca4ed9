// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"log/slog"

	"github.com/neatgo/neat/internal/sockopts"
	"golang.org/x/sys/unix"
)

// FlowState is a node in the per-flow state machine (spec §4.4).
type FlowState int

const (
	StateNew FlowState = iota
	StateOpening
	StateConnected
	StateDraining
	StateIdle
	StateListening
	StateClosed
)

// flowOps is the dispatch table a [Flow] delegates its socket I/O to:
// read, write and close go through this interface rather than through
// open-coded function-pointer fields. Connect, listen and accept are not
// part of it — they are issued directly via golang.org/x/sys/unix (see
// [dialNonblocking], [listenSocket] and [Context.dispatchAccept]) — and
// there is no shutdown operation. [kernelSocketOps] is the only
// implementation; there is no userspace transport stack variant.
type flowOps interface {
	read(fd int, buf []byte) (n int, eor bool, err error)
	write(fd int, buf []byte, eor bool) (n int, err error)
	closeSocket(fd int) error
}

// kernelSocketOps implements [flowOps] against OS kernel sockets via
// golang.org/x/sys/unix, the only variant this library ships.
type kernelSocketOps struct{}

func (kernelSocketOps) read(fd int, buf []byte) (int, bool, error) {
	n, _, recvFlags, _, err := unix.Recvmsg(fd, buf, nil, 0)
	if err != nil {
		return 0, false, err
	}
	eor := n == 0 || recvFlags&unix.MSG_EOR != 0
	return n, eor, nil
}

func (kernelSocketOps) write(fd int, buf []byte, eor bool) (int, error) {
	flags := 0
	if eor {
		flags |= unix.MSG_EOR
	}
	return unix.SendmsgN(fd, buf, nil, nil, flags)
}

func (kernelSocketOps) closeSocket(fd int) error {
	return unix.Close(fd)
}

// bufferedMessage is one queued send (spec §3). For stream protocols the
// tail message is coalesced with new data; for message protocols each
// write stays a distinct message.
type bufferedMessage struct {
	storage []byte
	offset  int
	size    int
	eor     bool
}

const reassemblyMinGrowth = 8 * 1024

// Flow is the library's abstraction over one connected (or listening)
// transport endpoint (spec §4.4).
type Flow struct {
	reactor Reactor
	logger  SLogger
	ops     flowOps

	name            string
	port            uint16
	propertyMask    PropertyMask
	propertyAttempt PropertyMask
	propertyUsed    PropertyMask

	fd       int
	protocol Protocol
	family   Family
	sockType SockType
	state    FlowState

	ownedByCore bool

	writeSize         int
	readSize          int
	writeLimit        int
	isSCTPExplicitEOR bool

	firstWritePending bool
	isDraining        bool

	sendQueue []bufferedMessage

	readBuf         []byte
	readBufFilled   int
	readMsgComplete bool

	onConnected  func()
	onReadable   func()
	onWritable   func()
	onAllWritten func()
	onError      func(error)

	// acceptFn is set only for listening flows; it spawns a connected
	// child Flow from one accept(2) call.
	acceptFn func()

	polled   bool
	pollMask PollMask
}

// newFlow constructs a [*Flow] in [StateOpening], with firstWritePending
// set, from the committed
// fields a happy-eyeballs win or an accept() supplies (spec §4.3 step 3,
// §4.4 "Listen/Accept").
func newFlow(reactor Reactor, logger SLogger, fd int, c Candidate, writeSize, readSize int, explicitEOR bool) *Flow {
	if logger == nil {
		logger = DefaultSLogger()
	}
	writeLimit := writeSize
	if c.Protocol == ProtocolSCTP && writeSize > 0 {
		writeLimit = writeSize / 4
	}
	return &Flow{
		reactor:           reactor,
		logger:            logger,
		ops:               kernelSocketOps{},
		fd:                fd,
		protocol:          c.Protocol,
		family:            c.Family,
		sockType:          c.SockType,
		state:             StateOpening,
		writeSize:         writeSize,
		readSize:          readSize,
		writeLimit:        writeLimit,
		isSCTPExplicitEOR: explicitEOR,
		firstWritePending: true,
	}
}

// SetCallbacks installs the flow's user callbacks. Any of the funcs may be
// nil to mean "not interested in this event".
func (f *Flow) SetCallbacks(onConnected, onReadable, onWritable, onAllWritten func(), onError func(error)) {
	f.onConnected = onConnected
	f.onReadable = onReadable
	f.onWritable = onWritable
	f.onAllWritten = onAllWritten
	f.onError = onError
	f.recomputeInterest()
}

// State returns the flow's current state.
func (f *Flow) State() FlowState { return f.state }

// isAtomic reports whether protocol requires each write to be delivered in
// full or not at all (spec §4.4 "Atomicity preflight"): UDP/UDP-Lite, and
// SCTP without explicit-EOR support, are atomic; TCP and SCTP-with-EOR are
// splittable.
func (f *Flow) isAtomic() bool {
	switch f.protocol {
	case ProtocolUDP, ProtocolUDPLite:
		return true
	case ProtocolSCTP:
		return !f.isSCTPExplicitEOR
	default:
		return false
	}
}

// recomputeInterest derives the poll mask from callback registration and
// drain state (spec §4.4 "Readiness polling") and (re)registers with the
// reactor, or unregisters if the interest set is now empty.
func (f *Flow) recomputeInterest() {
	if f.state == StateListening {
		f.setPoll(PollRead)
		return
	}

	var mask PollMask
	if f.onReadable != nil {
		mask |= PollRead
	}
	if f.onWritable != nil || f.isDraining || f.firstWritePending {
		mask |= PollWrite
	}
	f.setPoll(mask)
}

func (f *Flow) setPoll(mask PollMask) {
	if mask == 0 {
		if f.polled {
			f.reactor.UnregisterFD(f.fd)
			f.polled = false
		}
		return
	}
	f.pollMask = mask
	f.polled = true
	f.reactor.RegisterFD(f.fd, mask, f.onReady)
}

// onReady is the reactor readiness callback registered for f.fd.
func (f *Flow) onReady(events PollMask) {
	if f.state == StateListening {
		if f.acceptFn != nil {
			f.acceptFn()
		}
		return
	}

	if f.firstWritePending && events&PollWrite != 0 {
		f.firstWritePending = false
		f.state = StateConnected
		if f.onConnected != nil {
			f.onConnected()
		}
		f.recomputeInterest()
	}

	if events&PollWrite != 0 && f.isDraining {
		f.drain()
	}
	if events&PollRead != 0 && f.onReadable != nil {
		f.pumpRead()
	}
}

// pumpRead implements spec §4.4 "Receive": stream/datagram protocols
// deliver straight through; message protocols buffer until MSG_EOR (or
// EOF) before surfacing on_readable.
func (f *Flow) pumpRead() {
	if !IsMessageProtocol(f.protocol) {
		f.onReadable()
		return
	}

	threshold := reassemblyMinGrowth
	if quarter := ((f.readSize/4 + reassemblyMinGrowth - 1) / reassemblyMinGrowth) * reassemblyMinGrowth; quarter > threshold {
		threshold = quarter
	}
	for {
		free := len(f.readBuf) - f.readBufFilled
		if free < threshold {
			grown := make([]byte, len(f.readBuf)+threshold)
			copy(grown, f.readBuf[:f.readBufFilled])
			f.readBuf = grown
		}

		n, eor, err := f.ops.read(f.fd, f.readBuf[f.readBufFilled:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if f.onError != nil {
				f.onError(newError(KindIO, err))
			}
			return
		}
		f.readBufFilled += n

		if eor {
			f.readMsgComplete = true
			f.onReadable()
			return
		}
		if n == 0 {
			return
		}
	}
}

// Read implements spec §4.4 "Receive" for stream/datagram protocols: the
// OS receive primitive is called directly into dst, returning
// [ErrWouldBlock] verbatim on EAGAIN. Message-oriented protocols must use
// [Flow.ReadMessage] instead, since on_readable only fires there once a
// full message (MSG_EOR or EOF) has been reassembled.
func (f *Flow) Read(dst []byte) (int, error) {
	n, _, err := f.ops.read(f.fd, dst)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, newError(KindIO, err)
	}
	return n, nil
}

// ReadMessage returns the buffered message once read() is called by the
// application after on_readable fires for a message-oriented flow,
// resetting the reassembly buffer for the next message. It returns
// [ErrMessageTooBig] if the message exceeds len(dst).
func (f *Flow) ReadMessage(dst []byte) (int, error) {
	if !f.readMsgComplete {
		return 0, ErrWouldBlock
	}
	if f.readBufFilled > len(dst) {
		return 0, ErrMessageTooBig
	}
	n := copy(dst, f.readBuf[:f.readBufFilled])
	f.readBufFilled = 0
	f.readMsgComplete = false
	return n, nil
}

// Write implements spec §4.4 "Send": atomicity preflight, drain-first,
// opportunistic direct send, then enqueue the remainder.
func (f *Flow) Write(buf []byte) error {
	if f.isAtomic() && f.writeSize > 0 && len(buf) > f.writeSize {
		return ErrMessageTooBig
	}

	if err := f.drain(); err != nil && err != ErrWouldBlock {
		return err
	}

	n := 0
	if len(f.sendQueue) == 0 && len(buf) > 0 {
		limit := len(buf)
		if f.writeLimit > 0 && limit > f.writeLimit {
			limit = f.writeLimit
		}
		eor := IsMessageProtocol(f.protocol) && limit == len(buf)
		sent, err := f.ops.write(f.fd, buf[:limit], eor)
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// fall through to enqueue
		case err != nil:
			return newError(KindIO, err)
		default:
			n = sent
		}
	}

	remainder := buf[n:]
	if len(remainder) > 0 {
		f.enqueue(remainder)
	}

	f.isDraining = len(f.sendQueue) > 0
	f.recomputeInterest()
	if !f.isDraining && f.onAllWritten != nil {
		f.onAllWritten()
	}
	return nil
}

// enqueue appends remainder to the send queue, coalescing into the tail
// message for stream protocols and pushing a new message for message
// protocols (spec §4.4 "Enqueue remainder").
func (f *Flow) enqueue(remainder []byte) {
	if !IsMessageProtocol(f.protocol) && len(f.sendQueue) > 0 {
		tail := &f.sendQueue[len(f.sendQueue)-1]
		need := tail.offset + tail.size + len(remainder)
		if need > cap(tail.storage) {
			grown := growCapacity(cap(tail.storage), need)
			buf := make([]byte, grown)
			copy(buf, tail.storage[tail.offset:tail.offset+tail.size])
			tail.storage = buf
			tail.offset = 0
		}
		copy(tail.storage[tail.offset+tail.size:], remainder)
		tail.size += len(remainder)
		return
	}

	storage := make([]byte, len(remainder))
	copy(storage, remainder)
	f.sendQueue = append(f.sendQueue, bufferedMessage{
		storage: storage,
		size:    len(remainder),
		eor:     IsMessageProtocol(f.protocol),
	})
}

// growCapacity doubles cap, or grows to need rounded up to 8 KiB,
// whichever is larger (spec §4.4 "Enqueue remainder").
func growCapacity(capacity, need int) int {
	doubled := capacity * 2
	rounded := (need + reassemblyMinGrowth - 1) &^ (reassemblyMinGrowth - 1)
	if doubled > rounded {
		return doubled
	}
	return rounded
}

// drain flushes the send queue until empty or [ErrWouldBlock] (spec §4.4
// "Drain on writable"). Returns nil once the queue is empty.
func (f *Flow) drain() error {
	for len(f.sendQueue) > 0 {
		msg := &f.sendQueue[0]
		n, err := f.ops.write(f.fd, msg.storage[msg.offset:msg.offset+msg.size], msg.eor)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				f.isDraining = true
				f.recomputeInterest()
				return ErrWouldBlock
			}
			return newError(KindIO, err)
		}
		msg.offset += n
		msg.size -= n
		if msg.size == 0 {
			f.sendQueue = f.sendQueue[1:]
		}
	}

	wasDraining := f.isDraining
	f.isDraining = false
	f.recomputeInterest()
	if wasDraining && f.onAllWritten != nil {
		f.onAllWritten()
	}
	return nil
}

// Close implements spec §5 "Cancellation": stops the poller, closes the OS
// handle, and releases buffers. Freeing is expected to be the caller's
// responsibility after on_error or when the application is done with f.
func (f *Flow) Close() error {
	if f.polled {
		f.reactor.UnregisterFD(f.fd)
		f.polled = false
	}
	f.state = StateClosed
	f.sendQueue = nil
	f.readBuf = nil

	f.logger.Info("flowClosed",
		slog.String("protocol", f.protocol.String()),
		slog.String("family", f.family.String()),
	)
	return f.ops.closeSocket(f.fd)
}
