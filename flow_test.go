// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeReactor is a minimal [Reactor] double that records registrations
// instead of driving a real event loop.
type fakeReactor struct {
	registered map[int]PollMask
	cbs        map[int]func(PollMask)
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{registered: map[int]PollMask{}, cbs: map[int]func(PollMask){}}
}

func (r *fakeReactor) RegisterFD(fd int, mask PollMask, cb func(PollMask)) error {
	r.registered[fd] = mask
	r.cbs[fd] = cb
	return nil
}

func (r *fakeReactor) UnregisterFD(fd int) error {
	delete(r.registered, fd)
	delete(r.cbs, fd)
	return nil
}

func (r *fakeReactor) Schedule(time.Duration, func()) (Canceler, error) {
	return noopCanceler{}, nil
}

func (r *fakeReactor) ScheduleRepeating(time.Duration, func()) (Canceler, error) {
	return noopCanceler{}, nil
}

func (r *fakeReactor) Run(RunMode) error { return nil }

func (r *fakeReactor) Close() error { return nil }

type noopCanceler struct{}

func (noopCanceler) Cancel() {}

// fakeOps is a [flowOps] double driven by scripted write errors and read
// chunks, so send/receive paths can be exercised without real sockets.
type fakeOps struct {
	writeCalls [][]byte
	writeErrs  []error
	writeLimit int

	readChunks [][]byte
	readEORs   []bool
	readIdx    int

	closed bool
}

func (f *fakeOps) write(_ int, buf []byte, _ bool) (int, error) {
	cp := append([]byte(nil), buf...)
	f.writeCalls = append(f.writeCalls, cp)
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	n := len(buf)
	if f.writeLimit > 0 && n > f.writeLimit {
		n = f.writeLimit
	}
	return n, nil
}

func (f *fakeOps) read(_ int, buf []byte) (int, bool, error) {
	if f.readIdx >= len(f.readChunks) {
		return 0, false, unix.EAGAIN
	}
	chunk := f.readChunks[f.readIdx]
	eor := f.readEORs[f.readIdx]
	f.readIdx++
	n := copy(buf, chunk)
	return n, eor, nil
}

func (f *fakeOps) closeSocket(int) error {
	f.closed = true
	return nil
}

func newTestFlow(reactor Reactor, proto Protocol, fd int, writeSize, readSize int) (*Flow, *fakeOps) {
	f := newFlow(reactor, nil, fd, Candidate{Protocol: proto, SockType: SockTypeForProtocol(proto)}, writeSize, readSize, proto == ProtocolSCTP)
	ops := &fakeOps{}
	f.ops = ops
	f.firstWritePending = false
	f.state = StateConnected
	return f, ops
}

func TestFlowWriteZeroBytesIsNoop(t *testing.T) {
	f, ops := newTestFlow(newFakeReactor(), ProtocolTCP, 3, 4096, 4096)
	require.NoError(t, f.Write(nil))
	assert.Empty(t, f.sendQueue, "Write(nil) must not touch the send queue")
	assert.Empty(t, ops.writeCalls, "Write(nil) should not reach the socket")
}

func TestFlowWriteDatagramTooBig(t *testing.T) {
	f, ops := newTestFlow(newFakeReactor(), ProtocolUDP, 3, 10, 4096)
	err := f.Write(make([]byte, 11))
	assert.ErrorIs(t, err, ErrMessageTooBig)
	assert.Empty(t, ops.writeCalls, "an oversized atomic write must not touch the socket")
}

func TestFlowWriteDirectSendFullyFlushes(t *testing.T) {
	f, ops := newTestFlow(newFakeReactor(), ProtocolTCP, 3, 4096, 4096)
	allWritten := 0
	f.onAllWritten = func() { allWritten++ }

	require.NoError(t, f.Write([]byte("ping")))
	assert.Empty(t, f.sendQueue, "a fully-flushed write should leave the queue empty")
	assert.False(t, f.isDraining)
	assert.Equal(t, 1, allWritten, "on_all_written should fire exactly once")
	require.Len(t, ops.writeCalls, 1)
	assert.Equal(t, "ping", string(ops.writeCalls[0]))
}

func TestFlowWriteEnqueuesOnWouldBlockThenDrains(t *testing.T) {
	reactor := newFakeReactor()
	f, _ := newTestFlow(reactor, ProtocolTCP, 3, 4096, 4096)
	f.ops.(*fakeOps).writeErrs = []error{unix.EAGAIN}

	allWritten := 0
	f.onAllWritten = func() { allWritten++ }

	require.NoError(t, f.Write([]byte("hello")))
	require.Len(t, f.sendQueue, 1)
	assert.Equal(t, 5, f.sendQueue[0].size)
	assert.True(t, f.isDraining, "isDraining should be true once data is queued")
	assert.Zero(t, allWritten, "on_all_written must not fire while draining")

	// Never both isDraining and an empty queue at once (spec §8).
	assert.False(t, f.isDraining && len(f.sendQueue) == 0)

	require.NoError(t, f.drain())
	assert.False(t, f.isDraining, "drain should clear isDraining once the queue empties")
	assert.Equal(t, 1, allWritten, "on_all_written should fire exactly once after drain")
}

func TestFlowEnqueueCoalescesStreamMessages(t *testing.T) {
	f, _ := newTestFlow(newFakeReactor(), ProtocolTCP, 3, 4096, 4096)
	f.enqueue([]byte("abc"))
	f.enqueue([]byte("def"))
	require.Len(t, f.sendQueue, 1, "stream protocol should coalesce into one tail message")
	got := f.sendQueue[0].storage[f.sendQueue[0].offset : f.sendQueue[0].offset+f.sendQueue[0].size]
	assert.Equal(t, "abcdef", string(got))
}

func TestFlowEnqueueKeepsDistinctMessagesForSCTP(t *testing.T) {
	f, _ := newTestFlow(newFakeReactor(), ProtocolSCTP, 3, 4096, 4096)
	f.enqueue([]byte("abc"))
	f.enqueue([]byte("def"))
	assert.Len(t, f.sendQueue, 2, "message protocol must not coalesce writes")
}

func TestFlowPumpReadReassemblesUntilEOR(t *testing.T) {
	f, ops := newTestFlow(newFakeReactor(), ProtocolSCTP, 3, 4096, 4096)
	ops.readChunks = [][]byte{[]byte("0123456789"), []byte("abcdefghij"), []byte("ZZZZZ")}
	ops.readEORs = []bool{false, false, true}

	readable := 0
	f.onReadable = func() { readable++ }

	f.pumpRead()

	assert.Equal(t, 1, readable, "on_readable should fire exactly once per complete message")
	assert.True(t, f.readMsgComplete)

	dst := make([]byte, 64)
	n, err := f.ReadMessage(dst)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdefghijZZZZZ", string(dst[:n]))
	assert.False(t, f.readMsgComplete, "ReadMessage should reset readMsgComplete")
}

func TestFlowReadMessageTooBig(t *testing.T) {
	f, _ := newTestFlow(newFakeReactor(), ProtocolSCTP, 3, 4096, 4096)
	f.readBuf = []byte("0123456789")
	f.readBufFilled = 10
	f.readMsgComplete = true

	_, err := f.ReadMessage(make([]byte, 4))
	assert.ErrorIs(t, err, ErrMessageTooBig)
}

func TestFlowReadReturnsWouldBlockVerbatim(t *testing.T) {
	f, _ := newTestFlow(newFakeReactor(), ProtocolTCP, 3, 4096, 4096)
	_, err := f.Read(make([]byte, 16))
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestFlowRecomputeInterestTracksCallbacksAndDrain(t *testing.T) {
	reactor := newFakeReactor()
	f, _ := newTestFlow(reactor, ProtocolTCP, 7, 4096, 4096)

	f.recomputeInterest()
	_, polled := reactor.registered[7]
	assert.False(t, polled, "no callbacks registered: fd should not be polled")

	f.onReadable = func() {}
	f.recomputeInterest()
	assert.Equal(t, PollRead, reactor.registered[7])

	f.isDraining = true
	f.recomputeInterest()
	assert.Equal(t, PollRead|PollWrite, reactor.registered[7], "draining should add PollWrite")
}

func TestFlowFirstWritableTriggersOnConnected(t *testing.T) {
	reactor := newFakeReactor()
	f := newFlow(reactor, nil, 9, Candidate{Protocol: ProtocolTCP}, 4096, 4096, false)
	f.ops = &fakeOps{}

	connected := 0
	f.onConnected = func() { connected++ }

	f.onReady(PollWrite)

	assert.Equal(t, 1, connected, "on_connected should fire exactly once")
	assert.False(t, f.firstWritePending)
	assert.Equal(t, StateConnected, f.state)
}

func TestFlowCloseReleasesResources(t *testing.T) {
	reactor := newFakeReactor()
	f, ops := newTestFlow(reactor, ProtocolTCP, 11, 4096, 4096)
	f.onReadable = func() {}
	f.recomputeInterest()
	_, polled := reactor.registered[11]
	require.True(t, polled, "expected fd to be registered before Close")

	require.NoError(t, f.Close())
	assert.True(t, ops.closed, "Close should close the underlying socket")
	assert.Nil(t, f.sendQueue)
	assert.Nil(t, f.readBuf)
	assert.Equal(t, StateClosed, f.state)
	_, stillPolled := reactor.registered[11]
	assert.False(t, stillPolled, "Close should unregister the fd from the reactor")
}
