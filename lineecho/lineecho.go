// File: lineecho/lineecho.go
// Package lineecho implements the newline-delimited echo protocol served by udsd.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package lineecho

import (
	"bytes"
	"io"
	"strconv"

	"github.com/momentics/udsipc/api"
)

// LineEnd completes a message once a newline has been received.
func LineEnd(received []byte) bool {
	return bytes.IndexByte(received, '\n') >= 0
}

// Option customizes a responder.
type Option func(*responder)

// WithSequence prefixes every reply with "<n>-reply ", n counting from 1 per
// session.
func WithSequence() Option {
	return func(r *responder) {
		r.sequence = true
	}
}

type responder struct {
	sequence bool
	n        uint64
	buf      []byte
}

// NewResponder returns a Responder echoing each message back.
func NewResponder(opts ...Option) api.Responder {
	r := &responder{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Factory returns a ResponderFactory producing independent responders, so
// sequence numbers are per session.
func Factory(opts ...Option) api.ResponderFactory {
	return func() api.Responder {
		return NewResponder(opts...)
	}
}

func (r *responder) Respond(w io.Writer, msg []byte) error {
	if !r.sequence {
		_, err := w.Write(msg)
		return err
	}
	r.n++
	r.buf = strconv.AppendUint(r.buf[:0], r.n, 10)
	r.buf = append(r.buf, "-reply "...)
	r.buf = append(r.buf, msg...)
	_, err := w.Write(r.buf)
	return err
}
