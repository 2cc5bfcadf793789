package session

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func sessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	a, err := New(socket.Adopt(fds[0]))
	require.NoError(t, err)
	b, err := New(socket.Adopt(fds[1]))
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, b := sessionPair(t)
	for _, size := range []int{1, 17, 512, 1024} {
		payload := bytes.Repeat([]byte{'z'}, size)
		n, err := a.Send(payload)
		require.NoError(t, err)
		require.Equal(t, size, n)

		buf := make([]byte, 1024)
		n, err = b.ReceiveTimeout(buf, time.Second, nil)
		require.NoError(t, err)
		assert.Equal(t, payload, buf[:n])
	}
}

func TestPingPongInOrder(t *testing.T) {
	a, b := sessionPair(t)
	buf := make([]byte, 64)
	for i := 0; i < 5; i++ {
		ping := []byte(fmt.Sprintf("ping-%d", i))
		_, err := a.Send(ping)
		require.NoError(t, err)
		n, err := b.ReceiveTimeout(buf, time.Second, nil)
		require.NoError(t, err)
		require.Equal(t, ping, buf[:n])

		pong := []byte(fmt.Sprintf("pong-%d", i))
		_, err = b.Write(pong)
		require.NoError(t, err)
		n, err = a.ReceiveTimeout(buf, time.Second, nil)
		require.NoError(t, err)
		require.Equal(t, pong, buf[:n])
	}
}

func TestReceiveStopsAtEndPredicate(t *testing.T) {
	a, b := sessionPair(t)
	_, err := a.Send([]byte("one\ntwo\n"))
	require.NoError(t, err)

	lineEnd := func(p []byte) bool { return bytes.HasSuffix(p, []byte("\n")) }
	buf := make([]byte, 64)
	n, err := b.ReceiveTimeout(buf, time.Second, lineEnd)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(buf[:n]))
}

func TestReceiveFillsBufferAndLeavesRest(t *testing.T) {
	a, b := sessionPair(t)
	_, err := a.Send([]byte("abcdef"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := b.ReceiveTimeout(buf, time.Second, func([]byte) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	n, err = b.ReceiveTimeout(buf, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestReceiveReportsPeerCloseBeforeData(t *testing.T) {
	a, b := sessionPair(t)
	require.NoError(t, a.Close())

	buf := make([]byte, 16)
	n, err := b.ReceiveTimeout(buf, time.Second, nil)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, api.ErrConnectionReset)
	assert.NotErrorIs(t, err, api.ErrIO)
}

func TestReceiveTimesOut(t *testing.T) {
	_, b := sessionPair(t)
	_, err := b.ReceiveTimeout(make([]byte, 8), 30*time.Millisecond, nil)
	assert.ErrorIs(t, err, api.ErrTimedOut)
}

func TestUnblockReceiveReleasesParkedReceive(t *testing.T) {
	_, b := sessionPair(t)
	errc := make(chan error, 1)
	go func() {
		_, err := b.Receive(make([]byte, 8), nil)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.UnblockReceive())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, api.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("receive was not released")
	}
}

func TestDoubleUnblockDoesNotLeak(t *testing.T) {
	_, b := sessionPair(t)
	require.NoError(t, b.UnblockReceive())
	require.NoError(t, b.UnblockReceive())

	_, err := b.ReceiveTimeout(make([]byte, 8), time.Second, nil)
	assert.ErrorIs(t, err, api.ErrCancelled)

	_, err = b.ReceiveTimeout(make([]byte, 8), 30*time.Millisecond, nil)
	assert.ErrorIs(t, err, api.ErrTimedOut)
}

func TestSendAfterPeerCloseFails(t *testing.T) {
	a, b := sessionPair(t)
	require.NoError(t, b.Close())

	_, err := a.Send([]byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrIO)
	assert.ErrorIs(t, err, unix.EPIPE)
}

func TestSendReportsWouldBlockWithPartialCount(t *testing.T) {
	a, _ := sessionPair(t)
	require.NoError(t, unix.SetNonblock(a.Fd(), true))

	payload := bytes.Repeat([]byte{'w'}, 8<<20)
	n, err := a.Send(payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrWouldBlock)
	assert.NotErrorIs(t, err, api.ErrIO)
	assert.Greater(t, n, 0)
	assert.Less(t, n, len(payload))
}

func TestReceiveAfterPeerShutdown(t *testing.T) {
	a, b := sessionPair(t)
	require.NoError(t, a.Shutdown())

	n, err := b.ReceiveTimeout(make([]byte, 8), time.Second, nil)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, api.ErrConnectionReset)
}

func TestNewTakesOwnership(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	sock := socket.Adopt(fds[0])
	s, err := New(sock, WithID("fixed"))
	require.NoError(t, err)
	assert.False(t, sock.Valid())
	assert.Equal(t, fds[0], s.Fd())
	assert.Equal(t, "fixed", s.ID())

	require.NoError(t, s.Close())
	assert.False(t, s.Valid())
	_, err = s.Send([]byte("x"))
	assert.ErrorIs(t, err, api.ErrInvalidSocket)
}

func TestNewRejectsInvalidSocket(t *testing.T) {
	_, err := New(socket.Adopt(socket.InvalidFd))
	assert.ErrorIs(t, err, api.ErrInvalidSocket)
}
