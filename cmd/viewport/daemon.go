package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/viewport/internal/process"
)

// daemonChildEnv is set in the environment of the re-executed daemon so it
// does not fork again or rewrite the pid file its parent wrote.
const daemonChildEnv = "VIEWPORT_DAEMON_CHILD"

// daemonize re-executes the current command in the background and returns
// once the child has started.
func daemonize(pidFile string, logFile string) error {
	if os.Getenv(daemonChildEnv) != "" {
		return fmt.Errorf("already running as daemon child")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204 -- re-executes this binary with its own arguments
	cmd := exec.Command(executable, childArgs(os.Args[1:], pidFile)...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec G302 G304 -- operator-chosen log path
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if pidFile != "" {
		if err := process.WritePIDFile(pidFile, cmd.Process.Pid); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	return cmd.Process.Release()
}

// childArgs drops the daemonize, pidfile and logfile flags (both "--flag v"
// and "--flag=v" forms) and passes the pid file back so the child removes it
// on exit.
func childArgs(args []string, pidFile string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch {
		case arg == "--daemonize" || arg == "--daemonize=true":
			continue
		case arg == "--pidfile" || arg == "--logfile":
			skipNext = true
			continue
		case strings.HasPrefix(arg, "--pidfile=") || strings.HasPrefix(arg, "--logfile="):
			continue
		}
		out = append(out, arg)
	}
	if pidFile != "" {
		out = append(out, "--pidfile", pidFile)
	}
	return out
}

// removePidFile removes the PID file
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
