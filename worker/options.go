// File: worker/options.go
// Package worker defines functional options shared by session and server workers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import (
	"time"

	"github.com/momentics/udsipc/control"
	"github.com/momentics/udsipc/session"
	"pkt.systems/pslog"
)

const (
	// DefaultBufferSize is the receive buffer allocated per session worker.
	DefaultBufferSize = 1024
	// DefaultAcceptRetryPause is the delay before retrying a failed accept.
	DefaultAcceptRetryPause = 50 * time.Millisecond
)

// Option customizes a worker.
type Option func(*options)

type options struct {
	bufferSize  int
	end         session.EndFunc
	logger      pslog.Logger
	metrics     *control.Metrics
	acceptPause time.Duration
}

func buildOptions(opts []Option) options {
	o := options{
		bufferSize:  DefaultBufferSize,
		end:         session.ReadOnce,
		acceptPause: DefaultAcceptRetryPause,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBufferSize sets the per-session receive buffer. Non-positive values are ignored.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithEndFunc sets the message boundary predicate used by each receive.
func WithEndFunc(end session.EndFunc) Option {
	return func(o *options) {
		if end != nil {
			o.end = end
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records accept and session activity into m.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithAcceptRetryPause overrides the pause after a failed accept.
func WithAcceptRetryPause(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.acceptPause = d
		}
	}
}
