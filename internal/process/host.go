package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/viewport/internal/env"
	"github.com/loykin/viewport/internal/logger"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// DefaultTerminateGrace is how long Terminate waits before SIGKILL.
const DefaultTerminateGrace = 1500 * time.Millisecond

// OSHost talks to the real process table.
type OSHost struct {
	players map[string]struct{}
	logs    logger.FileConfig
	env     *env.Env
	log     *slog.Logger

	wg sync.WaitGroup // pending kill escalations and reapers
}

// HostOptions configures an OSHost.
type HostOptions struct {
	// Players lists executable basenames treated as player processes (e.g. "mpv").
	Players []string
	// Logs receives each launched player's stdout/stderr; empty discards output.
	Logs logger.FileConfig
	// Env is the base environment for launched players; nil inherits the daemon's.
	Env    *env.Env
	Logger *slog.Logger
}

func NewOSHost(o HostOptions) *OSHost {
	h := &OSHost{
		players: make(map[string]struct{}, len(o.Players)),
		logs:    o.Logs,
		env:     o.Env,
		log:     o.Logger,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	for _, p := range o.Players {
		h.players[filepath.Base(p)] = struct{}{}
	}
	return h
}

func (h *OSHost) isPlayer(name string, args []string) bool {
	if _, ok := h.players[name]; ok {
		return true
	}
	if len(args) > 0 {
		if _, ok := h.players[filepath.Base(args[0])]; ok {
			return true
		}
	}
	return false
}

// List returns live, non-zombie player processes.
func (h *OSHost) List(ctx context.Context) ([]Info, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := os.Getpid()
	out := make([]Info, 0, 8)
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // exited between listing and inspection
		}
		args, _ := p.CmdlineSliceWithContext(ctx)
		if !h.isPlayer(name, args) {
			continue
		}
		if isZombie(ctx, p) {
			continue
		}
		info := Info{PID: pid, Name: name, Args: args, StartedAt: startTime(pid)}
		if info.StartedAt.IsZero() {
			if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
				info.StartedAt = time.UnixMilli(ms)
			}
		}
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			info.RSS = mi.RSS
		}
		out = append(out, info)
	}
	return out, nil
}

// Launch starts spec in its own session and returns its pid without waiting
// for it to become healthy. A reaper goroutine collects the exit status.
func (h *OSHost) Launch(ctx context.Context, spec LaunchSpec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if spec.Path == "" {
		return 0, errors.New("launch: empty executable path")
	}
	// #nosec G204 -- argv comes from the daemon's own player configuration
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.WorkDir
	if h.env != nil {
		cmd.Env = h.env.Merge(spec.Env)
	} else if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	detach(cmd)

	outW, errW := h.writers(spec.Name)
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		closeAll(outW, errW)
		return 0, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	pid := cmd.Process.Pid
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := cmd.Wait()
		closeAll(outW, errW)
		h.log.Debug("player exited", "name", spec.Name, "pid", pid, "err", err)
	}()
	return pid, nil
}

func (h *OSHost) writers(name string) (io.WriteCloser, io.WriteCloser) {
	if h.logs.Dir != "" {
		_ = os.MkdirAll(h.logs.Dir, 0o750)
	}
	outW, errW, _ := h.logs.ProcessWriters(name)
	if outW == nil {
		outW = devNull()
	}
	if errW == nil {
		errW = devNull()
	}
	return outW, errW
}

// Terminate sends SIGTERM to pid's process group (or pid alone when it leads
// no group) and returns immediately. If the process is still alive after
// grace, it is killed.
func (h *OSHost) Terminate(pid int, grace time.Duration) error {
	if pid <= 0 {
		return fmt.Errorf("terminate: invalid pid %d", pid)
	}
	if grace <= 0 {
		grace = DefaultTerminateGrace
	}
	started := startTime(pid)
	if err := signalTree(pid, syscall.SIGTERM); err != nil {
		return err
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		t := time.NewTimer(grace)
		defer t.Stop()
		<-t.C
		if !Alive(pid) {
			return
		}
		// guard against pid reuse within the grace window
		if st := startTime(pid); !started.IsZero() && !st.Equal(started) {
			return
		}
		if err := signalTree(pid, syscall.SIGKILL); err != nil && !errors.Is(err, ErrNoSuchProcess) {
			h.log.Warn("force kill failed", "pid", pid, "error", err)
			return
		}
		h.log.Info("force killed player after grace period", "pid", pid, "grace", grace)
	}()
	return nil
}

// Wait blocks until pending kill escalations and reapers finish.
func (h *OSHost) Wait() { h.wg.Wait() }

// Alive reports whether pid exists and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if !processExists(pid) {
		return false
	}
	return !isZombiePID(pid)
}

func isZombie(ctx context.Context, p *gopsproc.Process) bool {
	if isZombiePID(int(p.Pid)) {
		return true
	}
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range st {
		if s == gopsproc.Zombie {
			return true
		}
	}
	return false
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func devNull() io.WriteCloser {
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nopCloser{io.Discard}
	}
	return f
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
