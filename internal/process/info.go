// Package process is the OS side of supervision: it enumerates player
// processes, launches new ones detached from the daemon and terminates them
// with a forced-kill fallback.
package process

import (
	"errors"
	"time"
)

// ErrNoSuchProcess is returned when a pid no longer exists.
var ErrNoSuchProcess = errors.New("no such process")

// Info is one live player process as observed in the process table.
type Info struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	Args      []string  `json:"args"`
	StartedAt time.Time `json:"started_at"`
	RSS       uint64    `json:"rss_bytes"`
}

// Age is the time elapsed since the process started. Zero start times yield zero.
func (i Info) Age(now time.Time) time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(i.StartedAt)
}

// LaunchSpec describes a process to start. Path and Args are passed to exec
// directly; no shell is involved.
type LaunchSpec struct {
	Name    string   // log file basename, typically the tile marker
	Path    string   // executable
	Args    []string // argv without argv[0]
	Env     []string // per-launch "K=V" overrides
	WorkDir string
}
