// File: socket/socket.go
// Package socket provides a single-owner wrapper around an OS socket descriptor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Socket has exactly one live owner. Ownership moves with Move, which
// invalidates the source, so a descriptor is never closed twice.

package socket

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/udsipc/api"
	"golang.org/x/sys/unix"
)

// InvalidFd marks a released or moved-from socket.
const InvalidFd = -1

// Kind selects the address family and socket type.
type Kind int

const (
	KindInetDgram Kind = iota
	KindInetStream
	KindInet6Dgram
	KindInet6Stream
	KindUnixDgram
	KindUnixStream
)

// String names the kind for logs.
func (k Kind) String() string {
	switch k {
	case KindInetDgram:
		return "inet-dgram"
	case KindInetStream:
		return "inet-stream"
	case KindInet6Dgram:
		return "inet6-dgram"
	case KindInet6Stream:
		return "inet6-stream"
	case KindUnixDgram:
		return "unix-dgram"
	case KindUnixStream:
		return "unix-stream"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) domainAndType() (domain, typ int, err error) {
	switch k {
	case KindInetDgram:
		return unix.AF_INET, unix.SOCK_DGRAM, nil
	case KindInetStream:
		return unix.AF_INET, unix.SOCK_STREAM, nil
	case KindInet6Dgram:
		return unix.AF_INET6, unix.SOCK_DGRAM, nil
	case KindInet6Stream:
		return unix.AF_INET6, unix.SOCK_STREAM, nil
	case KindUnixDgram:
		return unix.AF_UNIX, unix.SOCK_DGRAM, nil
	case KindUnixStream:
		return unix.AF_UNIX, unix.SOCK_STREAM, nil
	default:
		return 0, 0, fmt.Errorf("socket kind %v: %w", k, api.ErrInvalidArgument)
	}
}

// Socket owns one OS socket descriptor. It must not be copied; go vet
// flags copies through the embedded atomic.
type Socket struct {
	fd atomic.Int64
}

// New allocates a close-on-exec socket of the given kind.
func New(kind Kind) (*Socket, error) {
	domain, typ, err := kind.domainAndType()
	if err != nil {
		return nil, err
	}
	fd, err := openSocket(domain, typ)
	if err != nil {
		return nil, api.NewSysError("socket", err)
	}
	return Adopt(fd), nil
}

// Adopt wraps an externally provided descriptor without validating it.
func Adopt(fd int) *Socket {
	s := &Socket{}
	s.fd.Store(int64(fd))
	return s
}

// Fd returns the descriptor, or InvalidFd once released.
func (s *Socket) Fd() int {
	if s == nil {
		return InvalidFd
	}
	return int(s.fd.Load())
}

// Valid reports whether the socket still owns a descriptor.
func (s *Socket) Valid() bool {
	return s.Fd() >= 0
}

// Move transfers ownership to a new Socket and invalidates s.
func (s *Socket) Move() *Socket {
	if s == nil {
		return Adopt(InvalidFd)
	}
	return Adopt(int(s.fd.Swap(InvalidFd)))
}

// Close releases the descriptor. Subsequent calls are no-ops.
func (s *Socket) Close() error {
	if s == nil {
		return nil
	}
	fd := int(s.fd.Swap(InvalidFd))
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return api.NewSysError("close", err)
	}
	return nil
}

// SetReuseAddress enables SO_REUSEADDR.
func (s *Socket) SetReuseAddress() error {
	fd := s.Fd()
	if fd < 0 {
		return api.ErrInvalidSocket
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return api.NewSysError("setsockopt(SO_REUSEADDR)", err)
	}
	return nil
}

// Shutdown disables both directions of a connected socket.
func (s *Socket) Shutdown() error {
	fd := s.Fd()
	if fd < 0 {
		return api.ErrInvalidSocket
	}
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil {
		return api.NewSysError("shutdown", err)
	}
	return nil
}

// String renders the socket for logs.
func (s *Socket) String() string {
	return fmt.Sprintf("socket(fd=%d)", s.Fd())
}
