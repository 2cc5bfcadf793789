// File: worker/server_worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accept loop that turns every connection into a SessionWorker.

package worker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/momentics/udsipc/server"
	"pkt.systems/pslog"
)

// ServerWorker owns a Server, its accept goroutine and every live
// SessionWorker it spawned.
type ServerWorker struct {
	srv     *server.Server
	factory api.ResponderFactory
	opts    []Option
	o       options
	logger  pslog.Logger

	running atomic.Bool
	done    chan struct{}

	mu   sync.Mutex
	live *queue.Queue
}

// NewServerWorker takes ownership of srv and starts accepting. Each accepted
// session gets its own Responder from factory.
func NewServerWorker(srv *server.Server, factory api.ResponderFactory, opts ...Option) (*ServerWorker, error) {
	if srv == nil {
		return nil, fmt.Errorf("server worker: nil server: %w", api.ErrInvalidArgument)
	}
	if factory == nil {
		return nil, fmt.Errorf("server worker: nil responder factory: %w", api.ErrInvalidArgument)
	}
	o := buildOptions(opts)
	w := &ServerWorker{
		srv:     srv,
		factory: factory,
		opts:    opts,
		o:       o,
		logger:  logging.WithSubsystem(o.logger, "ipc.worker.server").With("path", srv.Path()),
		done:    make(chan struct{}),
		live:    queue.New(),
	}
	w.running.Store(true)
	go w.acceptLoop()
	return w, nil
}

// Path returns the served socket path.
func (w *ServerWorker) Path() string { return w.srv.Path() }

// Done is closed when the accept loop has exited.
func (w *ServerWorker) Done() <-chan struct{} { return w.done }

func (w *ServerWorker) acceptLoop() {
	defer close(w.done)
	w.logger.Info("server.worker.start")
	for {
		sess, err := w.srv.WaitForConnection()
		if errors.Is(err, api.ErrCancelled) {
			w.logger.Debug("server.worker.cancelled")
			return
		}
		if err != nil {
			w.o.metrics.AcceptFailed()
			w.logger.Warn("server.worker.accept", "error", err)
			if !w.running.Load() {
				return
			}
			time.Sleep(w.o.acceptPause)
			continue
		}
		w.o.metrics.ConnectionAccepted()

		sw, err := NewSessionWorker(sess, w.factory(), w.opts...)
		if err != nil {
			w.logger.Warn("server.worker.session", "error", err)
			sess.Close()
			continue
		}
		w.mu.Lock()
		w.reapLocked()
		w.live.Add(sw)
		w.mu.Unlock()
	}
}

// reapLocked releases workers whose loop has already exited, keeping the
// rest in FIFO order.
func (w *ServerWorker) reapLocked() {
	for n := w.live.Length(); n > 0; n-- {
		sw := w.live.Remove().(*SessionWorker)
		if sw.Finished() {
			sw.Stop()
			continue
		}
		w.live.Add(sw)
	}
}

// Sessions returns the number of session workers still running.
func (w *ServerWorker) Sessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reapLocked()
	return w.live.Length()
}

// Stop ends the accept loop, stops every live session worker and closes the
// server. Only the first call has effect.
func (w *ServerWorker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	if err := w.srv.Unblock(); err != nil {
		w.logger.Debug("server.worker.unblock", "error", err)
	}
	<-w.done

	w.mu.Lock()
	stopped := w.live.Length()
	for w.live.Length() > 0 {
		w.live.Remove().(*SessionWorker).Stop()
	}
	w.mu.Unlock()

	if err := w.srv.Close(); err != nil {
		w.logger.Warn("server.worker.close", "error", err)
	}
	w.logger.Info("server.worker.stopped", "sessions", stopped)
}
