//go:build windows

package util

import (
	"os"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal attempts graceful process termination.
// Windows has no SIGINT delivery for child processes, so this is a no-op;
// the controller falls back to the forced-kill path after the shutdown
// timeout, and the subprocess settle delay still applies.
func GracefulSignal(p *os.Process) error {
	return nil
}
