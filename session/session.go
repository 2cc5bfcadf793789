// File: session/session.go
// Package session implements cancellable byte transfer over one connected socket.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive is a two-step protocol: probeForClose peeks one byte to tell a
// clean peer close from pending data, then fillBuffer reads until the buffer
// is full, the peer closes, or the caller's EndFunc reports a complete message.

package session

import (
	"fmt"
	"time"

	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/momentics/udsipc/reactor"
	"github.com/momentics/udsipc/socket"
	"github.com/rs/xid"
	"golang.org/x/sys/unix"
	"pkt.systems/pslog"
)

// EndFunc reports whether the bytes received so far form a complete message.
type EndFunc func(received []byte) bool

// ReadOnce treats one successful read of any length as a complete message.
func ReadOnce(received []byte) bool { return len(received) > 0 }

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l pslog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithID overrides the generated session identifier.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session owns a connected socket and a private multiplexer watching it.
// Send and Receive belong to one goroutine; UnblockReceive may be called
// from any goroutine.
type Session struct {
	id     string
	sock   *socket.Socket
	mux    *reactor.Multiplexer
	logger pslog.Logger
}

// New takes ownership of sock and registers it with a fresh multiplexer.
// On failure sock is closed.
func New(sock *socket.Socket, opts ...Option) (*Session, error) {
	if !sock.Valid() {
		return nil, api.ErrInvalidSocket
	}
	mux, err := reactor.New()
	if err != nil {
		sock.Close()
		return nil, err
	}
	s := &Session{
		id:   xid.New().String(),
		sock: sock.Move(),
		mux:  mux,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithSubsystem(logging.EnsureLogger(s.logger), "ipc.session").With("session", s.id)
	s.mux.Register(s.sock.Fd(), nil)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Fd returns the connected descriptor.
func (s *Session) Fd() int { return s.sock.Fd() }

// Valid reports whether the session still owns its socket.
func (s *Session) Valid() bool { return s != nil && s.sock.Valid() }

// Send writes all of p. On ErrWouldBlock the returned count is the number of
// bytes written before the kernel refused more; on any other failure it is 0.
func (s *Session) Send(p []byte) (int, error) {
	fd := s.sock.Fd()
	if fd < 0 {
		return 0, api.ErrInvalidSocket
	}
	written := 0
	for written < len(p) {
		n, err := unix.SendmsgN(fd, p[written:], nil, nil, sendFlags)
		switch err {
		case nil:
			written += n
		case unix.EINTR:
		case unix.EAGAIN:
			return written, api.ErrWouldBlock
		default:
			s.logger.Debug("session.send.error", "error", err, "written", written)
			return 0, api.NewIOError("send", err)
		}
	}
	return written, nil
}

// Write implements io.Writer on top of Send.
func (s *Session) Write(p []byte) (int, error) {
	return s.Send(p)
}

// Receive waits without a timeout and reads one message into p.
func (s *Session) Receive(p []byte, end EndFunc) (int, error) {
	return s.ReceiveTimeout(p, reactor.NoTimeout, end)
}

// ReceiveTimeout waits up to timeout for the socket to become readable, then
// reads one message into p. A nil end means ReadOnce. A zero count with a nil
// error means the readiness notification raced with no data.
func (s *Session) ReceiveTimeout(p []byte, timeout time.Duration, end EndFunc) (int, error) {
	fd := s.sock.Fd()
	if fd < 0 {
		return 0, api.ErrInvalidSocket
	}
	if end == nil {
		end = ReadOnce
	}
	res, err := s.mux.Wait(timeout)
	if err != nil {
		return 0, err
	}
	switch res {
	case reactor.ResultCancelled:
		s.logger.Debug("session.receive.cancelled")
		return 0, api.ErrCancelled
	case reactor.ResultTimeout:
		return 0, api.ErrTimedOut
	}

	pending, err := probeForClose(fd)
	if err != nil || !pending {
		return 0, err
	}
	return fillBuffer(fd, p, end)
}

// probeForClose peeks one byte without consuming it. It returns
// ErrConnectionReset when the peer has closed, false when no data is ready.
func probeForClose(fd int) (bool, error) {
	var one [1]byte
	for {
		n, _, err := unix.Recvfrom(fd, one[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch err {
		case nil:
			if n == 0 {
				return false, api.ErrConnectionReset
			}
			return true, nil
		case unix.EINTR:
		case unix.EAGAIN:
			return false, nil
		case unix.ECONNRESET, unix.EPIPE:
			return false, fmt.Errorf("peek: %w", api.ErrConnectionReset)
		default:
			return false, api.NewIOError("peek", err)
		}
	}
}

// fillBuffer reads until p is full, the peer closes, or end reports a
// complete message.
func fillBuffer(fd int, p []byte, end EndFunc) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Read(fd, p[total:])
		switch err {
		case nil:
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return 0, api.NewIOError("read", err)
		}
		if n == 0 {
			break
		}
		total += n
		if end(p[:total]) {
			break
		}
	}
	return total, nil
}

// UnblockReceive releases a goroutine parked in Receive, which then returns
// ErrCancelled. A call with no receive pending cancels the next one.
func (s *Session) UnblockReceive() error {
	return s.mux.Cancel()
}

// Shutdown disables both directions of the connection.
func (s *Session) Shutdown() error {
	return s.sock.Shutdown()
}

// Close releases the multiplexer and the socket. It is idempotent.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mux.Unregister(s.sock.Fd())
	err := s.mux.Close()
	if cerr := s.sock.Close(); err == nil {
		err = cerr
	}
	return err
}
