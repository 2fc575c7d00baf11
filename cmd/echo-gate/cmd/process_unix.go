//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals are the signals that trigger a graceful shutdown.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive probes proc with signal 0.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
