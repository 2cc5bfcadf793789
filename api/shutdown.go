// File: api/shutdown.go
// Package api defines the lifecycle and readiness-notification contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Stopper is implemented by every component owning a goroutine. Stop is
// idempotent and returns once the goroutine has exited.
type Stopper interface {
	Stop()
}

// Notifier reports service lifecycle transitions to a process supervisor.
// The core never calls it; the owning process does.
type Notifier interface {
	NotifyReady() error
	NotifyStopping() error
	NotifyReloading(status string) error
	NotifyStatus(status string) error
}
