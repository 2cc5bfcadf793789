package reactor

import (
	"testing"
	"time"

	"github.com/momentics/udsipc/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newMux(t *testing.T) *Multiplexer {
	t.Helper()
	m, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestWaitInvokesCallbackForReadableFd(t *testing.T) {
	m := newMux(t)
	a, b := newPair(t)

	var got []int
	m.Register(a, func(fd int) { got = append(got, fd) })

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	res, err := m.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, ResultReady, res)
	assert.Equal(t, []int{a}, got)
}

func TestWaitTimesOut(t *testing.T) {
	m := newMux(t)
	a, _ := newPair(t)
	m.Register(a, nil)

	start := time.Now()
	res, err := m.Wait(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ResultTimeout, res)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestCancelFromAnotherGoroutine(t *testing.T) {
	m := newMux(t)
	a, _ := newPair(t)
	called := false
	m.Register(a, func(int) { called = true })

	go func() {
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, m.Cancel())
	}()

	start := time.Now()
	res, err := m.Wait(NoTimeout)
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, res)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, called)
}

func TestCancelBeforeWaitIsPending(t *testing.T) {
	m := newMux(t)
	require.NoError(t, m.Cancel())

	res, err := m.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, res)
}

func TestRepeatedCancelsCollapse(t *testing.T) {
	m := newMux(t)
	require.NoError(t, m.Cancel())
	require.NoError(t, m.Cancel())

	res, err := m.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, res)

	res, err = m.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ResultTimeout, res)
}

func TestUnregisterStopsNotifications(t *testing.T) {
	m := newMux(t)
	a, b := newPair(t)
	called := false
	m.Register(a, func(int) { called = true })
	assert.Equal(t, 1, m.Len())

	assert.True(t, m.Unregister(a))
	assert.False(t, m.Unregister(a))
	assert.Equal(t, 0, m.Len())

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	res, err := m.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ResultTimeout, res)
	assert.False(t, called)
}

func TestPeerHangupCountsAsReady(t *testing.T) {
	m := newMux(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	m.Register(fds[0], nil)

	require.NoError(t, unix.Close(fds[1]))
	res, err := m.Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, ResultReady, res)
}

func TestClosedMultiplexerRejectsCalls(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Wait(0)
	assert.ErrorIs(t, err, api.ErrClosed)
	assert.ErrorIs(t, m.Cancel(), api.ErrClosed)
}

func TestCloseReleasesWaitInProgress(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	a, _ := newPair(t)
	m.Register(a, nil)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.Wait(NoTimeout)
		done <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, m.Close())
	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, ResultCancelled, o.res)
	case <-time.After(time.Second):
		t.Fatal("wait was not released by Close")
	}

	_, err = m.Wait(0)
	assert.ErrorIs(t, err, api.ErrClosed)
}
