// File: api/handler.go
// Package api defines the Responder contract used by session workers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "io"

// Responder answers one received message. Replies are written to w, which
// sends them on the originating session.
type Responder interface {
	Respond(w io.Writer, msg []byte) error
}

// ResponderFunc adapts a plain function to Responder.
type ResponderFunc func(w io.Writer, msg []byte) error

// Respond calls f(w, msg).
func (f ResponderFunc) Respond(w io.Writer, msg []byte) error {
	return f(w, msg)
}

// ResponderFactory builds one Responder per accepted session, so responders
// may keep per-connection state.
type ResponderFactory func() Responder
