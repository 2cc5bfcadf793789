//go:build unix && !linux

// File: reactor/waker_unix.go
// Author: momentics <momentics@gmail.com>
//
// Self-pipe cancellation descriptor for unix targets without eventfd.

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

type waker struct {
	r, w int
}

func newWaker() (*waker, error) {
	var p [2]int
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, err
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &waker{r: p[0], w: p[1]}, nil
}

func (w *waker) fd() int { return w.r }

// wake writes one byte. A full pipe is already readable, so EAGAIN is fine.
func (w *waker) wake() error {
	for {
		_, err := unix.Write(w.w, []byte{1})
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return err
		}
	}
}

// drain empties the pipe so pending wake-ups collapse into one.
func (w *waker) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (w *waker) close() error {
	err := unix.Close(w.r)
	if cerr := unix.Close(w.w); err == nil {
		err = cerr
	}
	return err
}
