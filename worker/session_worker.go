// File: worker/session_worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One goroutine per accepted connection: receive, respond, repeat.

package worker

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/control"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/momentics/udsipc/session"
	"pkt.systems/pslog"
)

// SessionWorker owns a Session and runs its receive loop.
type SessionWorker struct {
	sess      *session.Session
	responder api.Responder
	opts      options
	logger    pslog.Logger

	running atomic.Bool
	done    chan struct{}
	exitErr error
}

// NewSessionWorker takes ownership of sess and starts its receive loop.
// The session is closed by Stop.
func NewSessionWorker(sess *session.Session, responder api.Responder, opts ...Option) (*SessionWorker, error) {
	if sess == nil || !sess.Valid() {
		return nil, api.ErrInvalidSocket
	}
	if responder == nil {
		return nil, fmt.Errorf("session worker: nil responder: %w", api.ErrInvalidArgument)
	}
	o := buildOptions(opts)
	w := &SessionWorker{
		sess:      sess,
		responder: responder,
		opts:      o,
		logger:    logging.WithSubsystem(o.logger, "ipc.worker.session").With("session", sess.ID()),
		done:      make(chan struct{}),
	}
	w.running.Store(true)
	o.metrics.SessionStarted()
	go w.loop()
	return w, nil
}

// ID returns the identifier of the owned session.
func (w *SessionWorker) ID() string { return w.sess.ID() }

// Done is closed when the receive loop has exited.
func (w *SessionWorker) Done() <-chan struct{} { return w.done }

// Finished reports whether the receive loop has exited.
func (w *SessionWorker) Finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Err returns the error that ended the loop. It is valid once Done is closed.
func (w *SessionWorker) Err() error {
	select {
	case <-w.done:
		return w.exitErr
	default:
		return nil
	}
}

func (w *SessionWorker) loop() {
	var err error
	defer func() {
		w.exitErr = err
		w.opts.metrics.SessionEnded(err)
		close(w.done)
	}()

	buf := make([]byte, w.opts.bufferSize)
	reply := &replyWriter{sess: w.sess, metrics: w.opts.metrics}
	w.logger.Debug("session.worker.start")
	for {
		n, rerr := w.sess.Receive(buf, w.opts.end)
		if rerr != nil {
			err = rerr
			break
		}
		if n == 0 {
			continue
		}
		w.opts.metrics.MessageHandled(n)
		if herr := w.responder.Respond(reply, buf[:n]); herr != nil {
			if errors.Is(herr, api.ErrWouldBlock) {
				w.logger.Debug("session.worker.reply.would_block")
				continue
			}
			err = herr
			break
		}
	}

	switch {
	case errors.Is(err, api.ErrCancelled):
		w.logger.Debug("session.worker.cancelled")
	case errors.Is(err, api.ErrConnectionReset):
		w.logger.Debug("session.worker.peer_closed")
	default:
		w.logger.Warn("session.worker.exit", "error", err, "code", api.Code(err).String())
	}
}

// Stop ends the loop and closes the session. Only the first call has effect.
func (w *SessionWorker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	if err := w.sess.UnblockReceive(); err != nil {
		w.logger.Debug("session.worker.unblock", "error", err)
	}
	<-w.done
	if err := w.sess.Close(); err != nil {
		w.logger.Debug("session.worker.close", "error", err)
	}
}

// replyWriter sends responder output on the session and counts the bytes.
type replyWriter struct {
	sess    *session.Session
	metrics *control.Metrics
}

func (r *replyWriter) Write(p []byte) (int, error) {
	n, err := r.sess.Send(p)
	r.metrics.BytesSent(n)
	return n, err
}
