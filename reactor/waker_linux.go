//go:build linux

// File: reactor/waker_linux.go
// Author: momentics <momentics@gmail.com>
//
// eventfd(2)-based cancellation descriptor.

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

type waker struct {
	efd int
}

func newWaker() (*waker, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &waker{efd: efd}, nil
}

func (w *waker) fd() int { return w.efd }

// wake adds one to the counter. EAGAIN means the counter is saturated, which
// still leaves the descriptor readable.
func (w *waker) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(w.efd, buf[:])
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

// drain resets the counter, consuming every pending wake-up at once.
func (w *waker) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.efd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

func (w *waker) close() error {
	return unix.Close(w.efd)
}
