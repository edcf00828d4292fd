//go:build !windows

package process

import (
	"bytes"
	"errors"
	"os"
	"strconv"
	"syscall"
)

// signalTree signals the process group led by pid, falling back to pid alone
// for processes that are not group leaders.
func signalTree(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return ErrNoSuchProcess
	}
	return err
}

func processExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// isZombiePID returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombiePID(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
