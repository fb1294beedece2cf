//go:build !unix

// Package signals lists the OS signals that stop the kernel and runner
// services cleanly.
package signals

import "os"

// ShutdownSignals returns the signals that trigger graceful shutdown. Only
// Interrupt exists portably outside Unix.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
