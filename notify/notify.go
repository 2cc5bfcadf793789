// File: notify/notify.go
// Package notify reports daemon lifecycle transitions to systemd over the
// sd_notify datagram protocol.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package notify

import (
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/momentics/udsipc/api"
	"github.com/momentics/udsipc/internal/logging"
	"pkt.systems/pslog"
)

// New returns a Notifier sending to NOTIFY_SOCKET, or a no-op Notifier when
// the process was not started by a notify-aware service manager.
func New(logger pslog.Logger) api.Notifier {
	s := &Systemd{addr: os.Getenv("NOTIFY_SOCKET")}
	s.logger = logging.WithSubsystem(logger, "ipc.notify")
	if strings.TrimSpace(s.addr) == "" {
		s.logger.Debug("notify.disabled")
		return Noop{}
	}
	return s
}

// Systemd sends sd_notify state datagrams to NOTIFY_SOCKET. A leading '@'
// in the address selects the abstract namespace.
type Systemd struct {
	addr   string
	logger pslog.Logger
}

// NotifyReady sends READY=1.
func (s *Systemd) NotifyReady() error {
	return s.send(daemon.SdNotifyReady)
}

// NotifyStopping sends STOPPING=1.
func (s *Systemd) NotifyStopping() error {
	return s.send(daemon.SdNotifyStopping)
}

// NotifyReloading sends RELOADING=1 with a status line.
func (s *Systemd) NotifyReloading(status string) error {
	return s.send("RELOADING=1\nSTATUS=" + status)
}

// NotifyStatus sends a free-form STATUS line.
func (s *Systemd) NotifyStatus(status string) error {
	return s.send("STATUS=" + status)
}

func (s *Systemd) send(state string) error {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		s.logger.Error("notify.send", "state", state, "error", err)
		return fmt.Errorf("notify %s: %w", s.addr, err)
	}
	if !sent {
		s.logger.Debug("notify.unset", "state", state)
		return nil
	}
	s.logger.Debug("notify.sent", "state", state)
	return nil
}

// Noop discards every notification.
type Noop struct{}

func (Noop) NotifyReady() error           { return nil }
func (Noop) NotifyStopping() error        { return nil }
func (Noop) NotifyReloading(string) error { return nil }
func (Noop) NotifyStatus(string) error    { return nil }
