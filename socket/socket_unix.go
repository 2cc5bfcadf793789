//go:build unix && !linux

// File: socket/socket_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func openSocket(domain, typ int) (int, error) {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()
	fd, err := unix.Socket(domain, typ, 0)
	if err != nil {
		return InvalidFd, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// Accept accepts one connection from a listening descriptor, retrying on EINTR.
// The new descriptor is close-on-exec.
func Accept(fd int) (*Socket, error) {
	for {
		syscall.ForkLock.RLock()
		nfd, _, err := unix.Accept(fd)
		if err == nil {
			unix.CloseOnExec(nfd)
		}
		syscall.ForkLock.RUnlock()
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		return Adopt(nfd), nil
	}
}
