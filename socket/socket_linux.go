//go:build linux

// File: socket/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import "golang.org/x/sys/unix"

func openSocket(domain, typ int) (int, error) {
	return unix.Socket(domain, typ|unix.SOCK_CLOEXEC, 0)
}

// Accept accepts one connection from a listening descriptor, retrying on EINTR.
// The new descriptor is close-on-exec.
func Accept(fd int) (*Socket, error) {
	for {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		return Adopt(nfd), nil
	}
}
