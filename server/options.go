// File: server/options.go
// Package server defines functional options for the listening Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"os"

	"pkt.systems/pslog"
)

// DefaultBacklog is the listen(2) backlog used unless WithBacklog overrides it.
const DefaultBacklog = 5

// Option customizes server initialization.
type Option func(*options)

type options struct {
	backlog int
	perm    os.FileMode
	logger  pslog.Logger
}

func defaultOptions() options {
	return options{backlog: DefaultBacklog}
}

// WithBacklog overrides the listen backlog. Non-positive values are ignored.
func WithBacklog(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.backlog = n
		}
	}
}

// WithPermissions chmods a self-bound socket path after bind. Zero keeps the
// umask-derived mode. Adopted sockets are left alone.
func WithPermissions(mode os.FileMode) Option {
	return func(o *options) {
		o.perm = mode.Perm()
	}
}

// WithLogger sets the logger used by the server and its sessions.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
