// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Daemon configuration and a thread-safe store with reload propagation.

package control

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/momentics/udsipc/api"
)

// Config holds every daemon setting. Keys match the CLI flags and the
// config-file fields.
type Config struct {
	SocketPath    string `mapstructure:"socket"`
	SocketMode    string `mapstructure:"socket-mode"`
	LogLevel      string `mapstructure:"log-level"`
	LogFile       string `mapstructure:"log-file"`
	Interactive   bool   `mapstructure:"interactive"`
	BufferSize    int    `mapstructure:"buffer-size"`
	Sequence      bool   `mapstructure:"sequence"`
	MetricsListen string `mapstructure:"metrics-listen"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath: "/run/udsd.sock",
		LogLevel:   "info",
		BufferSize: 1024,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SocketPath) == "" {
		return fmt.Errorf("socket path is empty: %w", api.ErrInvalidArgument)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size %d: %w", c.BufferSize, api.ErrInvalidArgument)
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	return nil
}

// Mode parses SocketMode as an octal permission. Empty means zero.
func (c Config) Mode() (os.FileMode, error) {
	s := strings.TrimSpace(c.SocketMode)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("socket mode %q: %w", c.SocketMode, api.ErrInvalidArgument)
	}
	return os.FileMode(v), nil
}

// ReloadFunc observes a configuration change.
type ReloadFunc func(prev, next Config)

// ConfigStore keeps the current Config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []ReloadFunc
}

// NewConfigStore initializes a store holding cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// Snapshot returns the current configuration.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set validates and stores cfg, then calls every listener in registration
// order. An invalid cfg is rejected and the current one kept.
func (cs *ConfigStore) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	prev := cs.config
	cs.config = cfg
	listeners := append([]ReloadFunc(nil), cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, cfg)
	}
	return nil
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn ReloadFunc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
