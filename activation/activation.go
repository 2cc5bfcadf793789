// File: activation/activation.go
// Package activation discovers listening Unix-domain sockets passed by a
// socket-activating service manager (LISTEN_PID / LISTEN_FDS).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package activation

import (
	"os"

	sdactivation "github.com/coreos/go-systemd/v22/activation"
	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/internal/logging"
	"golang.org/x/sys/unix"
	"pkt.systems/pslog"
)

// Listener is one passed socket: an already bound, listening AF_UNIX stream
// socket with a filesystem path. Fd is owned by the caller.
type Listener struct {
	Fd   int
	Path string
}

// Option customizes discovery.
type Option func(*options)

type options struct {
	unsetEnv bool
	logger   pslog.Logger
	files    func(unsetEnv bool) []*os.File
}

// WithUnsetEnv removes LISTEN_PID, LISTEN_FDS and LISTEN_FDNAMES after
// reading them, so child processes do not inherit them.
func WithUnsetEnv() Option {
	return func(o *options) { o.unsetEnv = true }
}

// WithLogger sets the discovery logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Listeners returns the passed descriptors that are listening AF_UNIX stream
// sockets bound to a concrete path. Each returned Fd is a close-on-exec
// duplicate; the passed descriptors themselves are closed, including the
// abstract-namespace and other sockets that are skipped. No activation
// environment yields an empty result.
func Listeners(opts ...Option) ([]Listener, error) {
	o := options{files: sdactivation.Files}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.WithSubsystem(o.logger, "ipc.activation")

	files := o.files(o.unsetEnv)
	if len(files) == 0 {
		logger.Debug("activation.none")
		return nil, nil
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	out := make([]Listener, 0, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		path, ok, err := inspect(fd)
		if err != nil {
			logger.Error("activation.inspect", "fd", fd, "name", f.Name(), "error", err)
			continue
		}
		if !ok {
			logger.Debug("activation.skip", "fd", fd, "name", f.Name())
			continue
		}
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			for _, l := range out {
				unix.Close(l.Fd)
			}
			return nil, api.NewSysError("dup activation socket", err)
		}
		out = append(out, Listener{Fd: dup, Path: path})
	}
	return out, nil
}

// inspect reports the bound path of fd if it is a listening AF_UNIX stream
// socket with a filesystem address.
func inspect(fd int) (string, bool, error) {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return "", false, api.NewSysError("getsockopt(SO_TYPE)", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", false, api.NewSysError("getsockname", err)
	}
	if typ != unix.SOCK_STREAM {
		return "", false, nil
	}
	ua, isUnix := sa.(*unix.SockaddrUnix)
	if !isUnix || ua.Name == "" || ua.Name[0] == '@' || ua.Name[0] == 0 {
		return "", false, nil
	}
	if acc, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ACCEPTCONN); err == nil && acc == 0 {
		return "", false, nil
	}
	return ua.Name, true, nil
}
