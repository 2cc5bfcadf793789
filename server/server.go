// File: server/server.go
// Package server accepts Unix-domain stream connections into Sessions.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Server either binds its own path (Listen) and unlinks it on Close, or
// wraps a descriptor that is already bound and listening (Adopt) and leaves
// the path alone.

package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/momentics/udsipc/reactor"
	"github.com/momentics/udsipc/session"
	"github.com/momentics/udsipc/socket"
	"golang.org/x/sys/unix"
	"pkt.systems/pslog"
)

// Server owns one listening socket and the multiplexer used to wait on it.
// WaitForConnection belongs to one goroutine; Unblock may be called from any.
type Server struct {
	sock   *socket.Socket
	path   string
	owned  bool
	mux    *reactor.Multiplexer
	base   pslog.Logger
	logger pslog.Logger
}

// Listen removes any stale entry at path, then binds and listens on it.
func Listen(path string, opts ...Option) (*Server, error) {
	if path == "" {
		return nil, fmt.Errorf("listen: empty path: %w", api.ErrInvalidArgument)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := removeStale(path); err != nil {
		return nil, err
	}
	sock, err := socket.New(socket.KindUnixStream)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(sock.Fd(), &unix.SockaddrUnix{Name: path}); err != nil {
		sock.Close()
		return nil, api.NewSysError("bind "+path, err)
	}
	fail := func(op string, err error) (*Server, error) {
		sock.Close()
		os.Remove(path)
		return nil, api.NewSysError(op, err)
	}
	if o.perm != 0 {
		if err := os.Chmod(path, o.perm); err != nil {
			return fail("chmod "+path, err)
		}
	}
	if err := unix.Listen(sock.Fd(), o.backlog); err != nil {
		return fail("listen", err)
	}
	mux, err := reactor.New()
	if err != nil {
		sock.Close()
		os.Remove(path)
		return nil, err
	}
	s := newServer(sock, path, true, mux, o.logger)
	s.logger.Info("server.listen", "path", path, "backlog", o.backlog)
	return s, nil
}

// Adopt wraps fd, a socket already bound to path and listening. The path is
// never unlinked by this Server.
func Adopt(fd int, path string, opts ...Option) (*Server, error) {
	if fd < 0 {
		return nil, fmt.Errorf("adopt fd %d: %w", fd, api.ErrInvalidArgument)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("adopt %s: %w", path, api.ErrNotFound)
		}
		return nil, api.NewSysError("stat "+path, err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	mux, err := reactor.New()
	if err != nil {
		return nil, err
	}
	s := newServer(socket.Adopt(fd), path, false, mux, o.logger)
	s.logger.Info("server.adopt", "path", path, "fd", fd)
	return s, nil
}

func newServer(sock *socket.Socket, path string, owned bool, mux *reactor.Multiplexer, l pslog.Logger) *Server {
	base := logging.EnsureLogger(l)
	return &Server{
		sock:   sock,
		path:   path,
		owned:  owned,
		mux:    mux,
		base:   base,
		logger: logging.WithSubsystem(base, "ipc.server").With("path", path),
	}
}

func removeStale(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return api.NewSysError("unlink "+path, err)
}

// WaitForConnection blocks until a client connects or Unblock is called.
// It returns ErrCancelled after Unblock.
func (s *Server) WaitForConnection() (*session.Session, error) {
	fd := s.sock.Fd()
	if fd < 0 {
		return nil, api.ErrInvalidSocket
	}
	s.mux.Register(fd, nil)
	res, err := s.mux.Wait(reactor.NoTimeout)
	s.mux.Unregister(fd)
	if err != nil {
		return nil, err
	}
	if res == reactor.ResultCancelled {
		s.logger.Debug("server.accept.cancelled")
		return nil, api.ErrCancelled
	}

	conn, err := socket.Accept(fd)
	if err != nil {
		return nil, api.NewSysError("accept", err)
	}
	sess, err := session.New(conn, session.WithLogger(s.base))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("server.accept", "session", sess.ID(), "fd", sess.Fd())
	return sess, nil
}

// Unblock releases a goroutine parked in WaitForConnection.
func (s *Server) Unblock() error {
	if s.mux == nil {
		return api.ErrClosed
	}
	return s.mux.Cancel()
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Owned reports whether Close unlinks the path.
func (s *Server) Owned() bool { return s.owned }

// Fd returns the listening descriptor.
func (s *Server) Fd() int { return s.sock.Fd() }

// Move transfers the socket, multiplexer, path and unlink duty to a new
// Server and leaves s inert.
func (s *Server) Move() *Server {
	moved := &Server{
		sock:   s.sock.Move(),
		path:   s.path,
		owned:  s.owned,
		mux:    s.mux,
		base:   s.base,
		logger: s.logger,
	}
	s.mux = nil
	s.path = ""
	s.owned = false
	return moved
}

// Close releases the socket and unlinks the path if this Server bound it.
// It is idempotent.
func (s *Server) Close() error {
	var err error
	if s.mux != nil {
		err = s.mux.Close()
	}
	if cerr := s.sock.Close(); err == nil {
		err = cerr
	}
	if s.owned {
		s.owned = false
		if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
			err = api.NewSysError("unlink "+s.path, rerr)
		}
		s.logger.Info("server.closed", "path", s.path)
	}
	return err
}
