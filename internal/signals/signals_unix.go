//go:build unix

// Package signals lists the OS signals that stop the kernel and runner
// services cleanly.
package signals

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that trigger graceful shutdown.
// SIGTERM is included because container supervisors send it before SIGKILL.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
