// Package api
// Author: momentics <momentics@gmail.com>
//
// Live introspection contract for a running daemon.

package api

// Debug exposes named probes reporting runtime state.
type Debug interface {
	// DumpState evaluates every probe and returns the results by name.
	DumpState() map[string]any

	// RegisterProbe registers or replaces a named probe.
	RegisterProbe(name string, fn func() any)
}
