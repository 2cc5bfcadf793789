// File: cmd/udsd/daemon.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Daemon lifecycle: pick a listening socket, serve it with a ServerWorker,
// report readiness, and react to signals and configuration changes.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/momentics/udsipc/activation"
	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/control"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/momentics/udsipc/lineecho"
	"github.com/momentics/udsipc/notify"
	"github.com/momentics/udsipc/server"
	"github.com/momentics/udsipc/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"pkt.systems/pslog"
)

const httpShutdownTimeout = 5 * time.Second

type daemon struct {
	v          *viper.Viper
	configFile string
	store      *control.ConfigStore
	logger     pslog.Logger
	notifier   api.Notifier
	registry   *prometheus.Registry
	metrics    *control.Metrics
	probes     api.Debug
	reloads    chan string

	mu      sync.Mutex
	worker  *worker.ServerWorker
	adopted bool
	httpSrv *http.Server
}

func newDaemon(cfg control.Config, logger pslog.Logger, v *viper.Viper, configFile string) (*daemon, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := control.NewMetrics(registry)
	if err != nil {
		return nil, err
	}
	d := &daemon{
		v:          v,
		configFile: configFile,
		store:      control.NewConfigStore(cfg),
		logger:     logging.WithSubsystem(logger, "server.lifecycle"),
		notifier:   notify.New(logger),
		registry:   registry,
		metrics:    metrics,
		probes:     control.NewDebugProbes(),
		reloads:    make(chan string, 1),
	}
	d.store.OnReload(d.applyConfig)
	control.RegisterPlatformProbes(d.probes)
	d.probes.RegisterProbe("sessions", func() any {
		if w := d.currentWorker(); w != nil {
			return w.Sessions()
		}
		return 0
	})
	d.probes.RegisterProbe("socket.path", func() any {
		if w := d.currentWorker(); w != nil {
			return w.Path()
		}
		return ""
	})
	d.probes.RegisterProbe("config", func() any { return d.store.Snapshot() })
	return d, nil
}

func (d *daemon) currentWorker() *worker.ServerWorker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.worker
}

// openServer adopts the first socket-activated listener unless running
// interactively, and binds cfg.SocketPath otherwise.
func (d *daemon) openServer(cfg control.Config) (*server.Server, bool, error) {
	opts := []server.Option{server.WithLogger(d.logger)}
	if !cfg.Interactive {
		ls, err := activation.Listeners(activation.WithUnsetEnv(), activation.WithLogger(d.logger))
		if err != nil {
			d.logger.Warn("activation sockets unusable", "error", err)
		}
		for _, l := range ls {
			d.logger.Info("activation socket", "fd", l.Fd, "path", l.Path)
		}
		if len(ls) > 0 {
			srv, err := server.Adopt(ls[0].Fd, ls[0].Path, opts...)
			return srv, true, err
		}
		d.logger.Warn("no activation sockets found, falling back to bind", "path", cfg.SocketPath)
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, false, err
	}
	srv, err := server.Listen(cfg.SocketPath, append(opts, server.WithPermissions(mode))...)
	return srv, false, err
}

func (d *daemon) startWorker(srv *server.Server, cfg control.Config) (*worker.ServerWorker, error) {
	var echo []lineecho.Option
	if cfg.Sequence {
		echo = append(echo, lineecho.WithSequence())
	}
	return worker.NewServerWorker(srv, lineecho.Factory(echo...),
		worker.WithBufferSize(cfg.BufferSize),
		worker.WithEndFunc(lineecho.LineEnd),
		worker.WithLogger(d.logger),
		worker.WithMetrics(d.metrics),
	)
}

func (d *daemon) start() error {
	cfg := d.store.Snapshot()
	srv, adopted, err := d.openServer(cfg)
	if err != nil {
		return err
	}
	w, err := d.startWorker(srv, cfg)
	if err != nil {
		srv.Close()
		return err
	}
	d.mu.Lock()
	d.worker, d.adopted = w, adopted
	d.mu.Unlock()
	d.logger.Info("service started", "path", srv.Path(), "adopted", adopted)
	return d.startHTTP(cfg.MetricsListen)
}

func (d *daemon) startHTTP(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.probes.DumpState()); err != nil {
			d.logger.Warn("debug state encode", "error", err)
		}
	})
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	d.mu.Lock()
	d.httpSrv = srv
	d.mu.Unlock()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "error", err)
		}
	}()
	d.logger.Info("metrics listening", "addr", ln.Addr().String())
	return nil
}

// applyConfig restarts the worker when a serving setting changed. An
// activated socket cannot be re-bound, so it keeps serving unchanged. A new
// path is bound before the old worker stops; on the same path a failed
// rebind falls back to the previous settings.
func (d *daemon) applyConfig(prev, next control.Config) {
	if prev.SocketPath == next.SocketPath && prev.SocketMode == next.SocketMode &&
		prev.BufferSize == next.BufferSize && prev.Sequence == next.Sequence {
		return
	}
	d.mu.Lock()
	adopted := d.adopted
	d.mu.Unlock()
	if adopted {
		d.logger.Warn("socket settings change ignored for activated socket", "path", prev.SocketPath)
		return
	}

	if next.SocketPath != prev.SocketPath {
		srv, err := d.listen(next)
		if err != nil {
			d.logger.Error("rebind failed, keeping current socket", "path", next.SocketPath, "error", err)
			return
		}
		d.swapWorker(srv, next)
		return
	}

	d.stopWorker()
	srv, err := d.listen(next)
	if err != nil {
		d.logger.Error("rebind failed, restoring previous settings", "path", next.SocketPath, "error", err)
		if srv, err = d.listen(prev); err != nil {
			d.logger.Error("restore failed, not serving", "path", prev.SocketPath, "error", err)
			return
		}
		next = prev
	}
	d.swapWorker(srv, next)
}

func (d *daemon) listen(cfg control.Config) (*server.Server, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	return server.Listen(cfg.SocketPath, server.WithLogger(d.logger), server.WithPermissions(mode))
}

// swapWorker serves srv with cfg and then stops the previous worker. When
// the new worker cannot start, srv is closed and the previous one stays.
func (d *daemon) swapWorker(srv *server.Server, cfg control.Config) {
	w, err := d.startWorker(srv, cfg)
	if err != nil {
		srv.Close()
		d.logger.Error("restart failed", "error", err)
		return
	}
	d.mu.Lock()
	old := d.worker
	d.worker = w
	d.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	d.logger.Info("worker restarted", "path", cfg.SocketPath)
}

func (d *daemon) stopWorker() {
	d.mu.Lock()
	old := d.worker
	d.worker = nil
	d.mu.Unlock()
	if old != nil {
		old.Stop()
	}
}

// reload re-reads configuration and publishes it to the store.
func (d *daemon) reload(reason string, reread bool) error {
	if err := d.notifier.NotifyReloading(reason); err != nil {
		d.logger.Debug("notify reloading", "error", err)
	}
	defer func() {
		if err := d.notifier.NotifyReady(); err != nil {
			d.logger.Debug("notify ready", "error", err)
		}
	}()
	if reread && d.configFile != "" {
		if err := d.v.ReadInConfig(); err != nil {
			return err
		}
	}
	next, err := decodeConfig(d.v)
	if err != nil {
		return err
	}
	if next.Interactive != d.store.Snapshot().Interactive {
		d.logger.Warn("interactive mode cannot change at runtime")
		next.Interactive = d.store.Snapshot().Interactive
	}
	return d.store.Set(next)
}

func (d *daemon) requestReload(reason string) {
	select {
	case d.reloads <- reason:
	default:
	}
}

func (d *daemon) watchConfigFile() {
	if d.configFile == "" {
		return
	}
	d.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			d.requestReload("config file changed: " + e.Name)
		}
	})
	d.v.WatchConfig()
}

func (d *daemon) run(ctx context.Context) error {
	if err := d.start(); err != nil {
		return err
	}
	defer d.shutdown()

	if err := d.notifier.NotifyReady(); err != nil {
		d.logger.Warn("notify ready", "error", err)
	}
	if w := d.currentWorker(); w != nil {
		d.notifier.NotifyStatus("listening on " + w.Path())
	}
	d.watchConfigFile()

	watched := []os.Signal{syscall.SIGTERM, syscall.SIGHUP}
	if d.store.Snapshot().Interactive {
		watched = append(watched, syscall.SIGINT)
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, watched...)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("termination requested", "reason", ctx.Err())
			return nil
		case sig := <-signals:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.Info("termination requested", "signal", sig.String())
				return nil
			case syscall.SIGHUP:
				d.logger.Info("reload configuration requested")
				if err := d.reload("reloading configuration", true); err != nil {
					d.logger.Error("reload failed", "error", err)
				}
			}
		case reason := <-d.reloads:
			d.logger.Info("reload configuration requested", "reason", reason)
			if err := d.reload(reason, false); err != nil {
				d.logger.Error("reload failed", "error", err)
			}
		}
	}
}

func (d *daemon) shutdown() {
	if err := d.notifier.NotifyStopping(); err != nil {
		d.logger.Debug("notify stopping", "error", err)
	}
	d.logger.Info("shutting down")
	d.mu.Lock()
	w, httpSrv := d.worker, d.httpSrv
	d.worker, d.httpSrv = nil, nil
	d.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			d.logger.Warn("metrics server shutdown", "error", err)
		}
	}
}
