//go:build windows

package main

import "os"

func controlSignals() []os.Signal { return []os.Signal{os.Interrupt} }

func expectedControlCounts() (reloads, resets int) { return 0, 0 }
