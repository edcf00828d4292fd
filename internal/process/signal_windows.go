//go:build windows

package process

import (
	"os"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// signalTree has no graceful variant on Windows; every signal kills.
func signalTree(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return ErrNoSuchProcess
	}
	return p.Kill()
}

func processExists(pid int) bool {
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

func isZombiePID(int) bool { return false }
