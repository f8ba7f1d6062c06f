package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		daemonSignalCmd("stop", "Stop the running daemon", syscall.SIGTERM),
		daemonSignalCmd("restart", "Restart the running daemon in place", syscall.SIGHUP),
	)
}

// daemonSignalCmd builds a command that delivers sig to the process named
// in the PID file.
func daemonSignalCmd(use, short string, sig syscall.Signal) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			pid, err := signalDaemon(pidPath(cfg.DataDir), sig)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to shopline (PID %d).\n", sig, pid)
			return nil
		},
	}
}

// daemonPID reads path and checks the process is alive with signal 0.
func daemonPID(path string) (*os.Process, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("shopline is not running (no %s)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("corrupt PID file %s: %w", path, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, fmt.Errorf("shopline is not running (stale PID %d)", pid)
	}
	return proc, nil
}

func signalDaemon(path string, sig syscall.Signal) (int, error) {
	proc, err := daemonPID(path)
	if err != nil {
		return 0, err
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("send %s to %d: %w", sig, proc.Pid, err)
	}
	return proc.Pid, nil
}
