//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

func notifyControl(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGUSR1)
}

func controlAction(sig os.Signal) action {
	switch sig {
	case syscall.SIGHUP:
		return actionReload
	case syscall.SIGUSR1:
		return actionReset
	}
	return actionNone
}
