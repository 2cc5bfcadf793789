// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics and debug introspection for the udsipc daemon.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads with reload listeners
//   - Prometheus collectors for accept and session activity
//   - Named debug probes dumped on demand
package control
