//go:build windows

package main

import "os"

// Windows has no SIGHUP/SIGUSR1; use the HTTP API or the CLI instead.
func notifyControl(chan<- os.Signal) {}

func controlAction(os.Signal) action { return actionNone }
