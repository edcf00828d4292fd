//go:build !windows

package main

import (
	"os"
	"syscall"
)

func controlSignals() []os.Signal { return []os.Signal{syscall.SIGHUP, syscall.SIGUSR1} }

func expectedControlCounts() (reloads, resets int) { return 1, 1 }
