//go:build unix && !linux

// control/platform_unix.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"os"
	"runtime"

	"github.com/momentics/udsipc/api"
)

// RegisterPlatformProbes adds process-level probes.
func RegisterPlatformProbes(dp api.Debug) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("process.pid", func() any {
		return os.Getpid()
	})
}
