//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// detach starts the player in a new session (setsid): it leads its own
// process group, has no controlling terminal and outlives the daemon.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
