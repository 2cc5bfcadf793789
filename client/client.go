// File: client/client.go
// Package client connects to a Unix-domain stream server and exchanges
// messages over a Session.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client:
// - checks the socket path exists before issuing any socket syscall
// - recreates its socket when reconnecting after Disconnect
// - shuts the connection down in both directions on Disconnect
// - delegates Send/Receive to the underlying Session

package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/momentics/udsipc/session"
	"github.com/momentics/udsipc/socket"
	"golang.org/x/sys/unix"
	"pkt.systems/pslog"
)

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l pslog.Logger) Option {
	return func(c *Client) {
		c.base = l
	}
}

// Client is connected iff it has a path and a valid session. Connect,
// Disconnect, Send and Receive belong to one goroutine; UnblockReceive may be
// called from any.
type Client struct {
	mu     sync.Mutex
	sess   *session.Session
	path   string
	base   pslog.Logger
	logger pslog.Logger
}

// New creates a disconnected client with a fresh Unix stream socket.
func New(opts ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	c.base = logging.EnsureLogger(c.base)
	c.logger = logging.WithSubsystem(c.base, "ipc.client")
	sess, err := c.newSession()
	if err != nil {
		return nil, err
	}
	c.sess = sess
	return c, nil
}

func (c *Client) newSession() (*session.Session, error) {
	sock, err := socket.New(socket.KindUnixStream)
	if err != nil {
		return nil, err
	}
	return session.New(sock, session.WithLogger(c.base))
}

// Connect connects to the server at path. A missing path fails with
// ErrNotFound before any socket is touched. On failure the client state is
// unchanged.
func (c *Client) Connect(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("connect %s: %w", path, api.ErrNotFound)
		}
		return api.NewSysError("stat "+path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectedLocked() {
		return fmt.Errorf("connect %s: already connected to %s: %w", path, c.path, api.ErrInvalidArgument)
	}
	if !c.sess.Valid() {
		sess, err := c.newSession()
		if err != nil {
			return err
		}
		c.sess = sess
	}
	if err := unix.Connect(c.sess.Fd(), &unix.SockaddrUnix{Name: path}); err != nil {
		c.logger.Debug("client.connect.failed", "path", path, "error", err)
		return api.NewSysError("connect "+path, err)
	}
	c.path = path
	c.logger.Debug("client.connected", "path", path, "session", c.sess.ID())
	return nil
}

// Disconnect shuts down and closes a connected session and forgets the path.
// Calling it while disconnected does nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	if !c.connectedLocked() {
		return
	}
	if err := c.sess.Shutdown(); err != nil {
		c.logger.Debug("client.shutdown", "path", c.path, "error", err)
	}
	if err := c.sess.Close(); err != nil {
		c.logger.Warn("client.close", "path", c.path, "error", err)
	}
	c.logger.Debug("client.disconnected", "path", c.path)
	c.path = ""
}

func (c *Client) connectedLocked() bool {
	return c.path != "" && c.sess.Valid()
}

// IsConnected reports whether the client holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

// Path returns the connected path, if any.
func (c *Client) Path() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() {
		return "", false
	}
	return c.path, true
}

func (c *Client) connected() (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectedLocked() {
		return nil, api.ErrNotConnected
	}
	return c.sess, nil
}

// Send writes all of p to the server.
func (c *Client) Send(p []byte) (int, error) {
	sess, err := c.connected()
	if err != nil {
		return 0, err
	}
	return sess.Send(p)
}

// Receive waits without a timeout for one message.
func (c *Client) Receive(p []byte, end session.EndFunc) (int, error) {
	sess, err := c.connected()
	if err != nil {
		return 0, err
	}
	return sess.Receive(p, end)
}

// ReceiveTimeout waits up to timeout for one message.
func (c *Client) ReceiveTimeout(p []byte, timeout time.Duration, end session.EndFunc) (int, error) {
	sess, err := c.connected()
	if err != nil {
		return 0, err
	}
	return sess.ReceiveTimeout(p, timeout, end)
}

// UnblockReceive releases a goroutine parked in Receive.
func (c *Client) UnblockReceive() error {
	sess, err := c.connected()
	if err != nil {
		return err
	}
	return sess.UnblockReceive()
}

// Close disconnects and releases the socket. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	return c.sess.Close()
}
