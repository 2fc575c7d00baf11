package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	stopPollInterval = 200 * time.Millisecond
	stopWaitTimeout  = 10 * time.Second
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running echo-gate server",
	Long: `Stop a running echo-gate server by reading its PID file and asking it
to shut down. Open sessions are closed and event streams ended before the
process exits.

The PID file is located at ~/.echo-gate/server.pid.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	out := cmd.ErrOrStderr()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s\nIs the server running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		os.Remove(pidPath)
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(out, "Stopping echo-gate (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	deadline := time.Now().Add(stopWaitTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(stopPollInterval)
		if !processIsAlive(proc) {
			os.Remove(pidPath)
			fmt.Fprintln(out, "Server stopped.")
			return nil
		}
	}

	fmt.Fprintln(out, "Server did not stop in time, killing it.")
	_ = proc.Kill()
	os.Remove(pidPath)
	return nil
}
