//go:build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes.

package control

import (
	"os"
	"runtime"

	"github.com/momentics/udsipc/api"

	"golang.org/x/sys/unix"
)

// RegisterPlatformProbes adds process-level probes.
func RegisterPlatformProbes(dp api.Debug) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("process.pid", func() any {
		return os.Getpid()
	})
	dp.RegisterProbe("process.fd_limit", func() any {
		var rl unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			return nil
		}
		return rl.Cur
	})
}
