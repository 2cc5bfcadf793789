// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// poll(2)-based readiness multiplexer with cross-goroutine cancellation.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/udsipc/api"
	"golang.org/x/sys/unix"
)

// NoTimeout makes Wait block until readiness or cancellation.
const NoTimeout time.Duration = -1

// Result is the outcome of one Wait call.
type Result int

const (
	// ResultReady means at least one watched descriptor became ready.
	ResultReady Result = iota
	// ResultTimeout means the timeout elapsed with nothing ready.
	ResultTimeout
	// ResultCancelled means Cancel released the wait.
	ResultCancelled
	// ResultError accompanies a non-nil error from Wait.
	ResultError
)

// String names the result for logs.
func (r Result) String() string {
	switch r {
	case ResultReady:
		return "ready"
	case ResultTimeout:
		return "timeout"
	case ResultCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// Callback is invoked with a descriptor that became readable.
type Callback func(fd int)

const readyEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR

// Multiplexer waits on a set of descriptors plus a private waker descriptor.
// Register, Unregister and Wait belong to the owning goroutine; Cancel and
// Close may be called from any goroutine, but not from a Callback.
type Multiplexer struct {
	mu      sync.Mutex
	watch   map[int]Callback
	waker   *waker
	closed  bool
	waiters sync.WaitGroup
}

// New creates a Multiplexer and its cancellation descriptor.
func New() (*Multiplexer, error) {
	w, err := newWaker()
	if err != nil {
		return nil, api.NewSysError("waker", err)
	}
	return &Multiplexer{
		watch: make(map[int]Callback),
		waker: w,
	}, nil
}

// Register adds fd to the watch set. cb may be nil. Registering an fd twice
// without Unregister replaces the callback; callers should not rely on it.
func (m *Multiplexer) Register(fd int, cb Callback) {
	m.mu.Lock()
	m.watch[fd] = cb
	m.mu.Unlock()
}

// Unregister removes fd and reports whether it was watched.
func (m *Multiplexer) Unregister(fd int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watch[fd]; !ok {
		return false
	}
	delete(m.watch, fd)
	return true
}

// Len returns the number of watched descriptors, excluding the waker.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watch)
}

// Wait blocks until a watched descriptor is ready, Cancel is called, or the
// timeout elapses. On ResultReady every ready descriptor's callback has run.
// A cancelled wake-up runs no data callbacks.
func (m *Multiplexer) Wait(timeout time.Duration) (Result, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ResultError, api.ErrClosed
	}
	m.waiters.Add(1)
	defer m.waiters.Done()
	fds := make([]unix.PollFd, 0, len(m.watch)+1)
	cbs := make([]Callback, 0, len(m.watch)+1)
	fds = append(fds, unix.PollFd{Fd: int32(m.waker.fd()), Events: unix.POLLIN})
	cbs = append(cbs, nil)
	for fd, cb := range m.watch {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		n, err := unix.Poll(fds, pollTimeout(timeout, deadline))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ResultError, api.NewSysError("poll", err)
		}
		if n == 0 {
			return ResultTimeout, nil
		}
		break
	}

	if fds[0].Revents&unix.POLLIN != 0 {
		m.waker.drain()
		return ResultCancelled, nil
	}
	for i := 1; i < len(fds); i++ {
		if fds[i].Revents&unix.POLLNVAL != 0 {
			return ResultError, fmt.Errorf("poll fd %d: %w", fds[i].Fd, api.ErrInvalidSocket)
		}
	}
	for i := 1; i < len(fds); i++ {
		if fds[i].Revents&readyEvents == 0 {
			continue
		}
		if cbs[i] != nil {
			cbs[i](int(fds[i].Fd))
		}
	}
	return ResultReady, nil
}

// pollTimeout converts the remaining time to poll(2) milliseconds, rounding up
// so a short positive timeout never becomes a busy poll.
func pollTimeout(timeout time.Duration, deadline time.Time) int {
	if timeout < 0 {
		return -1
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Millisecond - 1) / time.Millisecond)
}

// Cancel wakes the goroutine blocked in Wait. A Cancel issued with no Wait
// pending satisfies the next Wait; several Cancels collapse into one wake-up.
func (m *Multiplexer) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return api.ErrClosed
	}
	if err := m.waker.wake(); err != nil {
		return api.NewSysError("wake", err)
	}
	return nil
}

// Close releases the waker descriptor. A Wait in progress is woken with
// ResultCancelled and Close returns after it does. Watched descriptors are
// not closed.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.watch = make(map[int]Callback)
	wakeErr := m.waker.wake()
	m.mu.Unlock()

	m.waiters.Wait()
	if err := m.waker.close(); err != nil {
		return err
	}
	if wakeErr != nil {
		return api.NewSysError("wake", wakeErr)
	}
	return nil
}
