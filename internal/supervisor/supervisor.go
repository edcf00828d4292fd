// Package supervisor keeps the video wall's player processes matched to the
// layout. One goroutine owns all state; it re-derives the truth from the OS
// process table every cycle and never trusts its own launch bookkeeping.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/viewport/internal/history"
	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/metrics"
	"github.com/loykin/viewport/internal/process"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultCooldown       = 10 * time.Second
	DefaultMaxRestarts    = 3
	DefaultGracePeriod    = 4 * time.Second
	DefaultStaleInterval  = 30 * time.Minute
	DefaultMaxAge         = 24 * time.Hour
	DefaultTerminateGrace = process.DefaultTerminateGrace

	// cooldownSlackDivisor sets how much ticker jitter the cooldown check
	// absorbs: PollInterval/100.
	cooldownSlackDivisor = 100
)

// ErrNotRunning is returned by control calls when the loop is not running.
var ErrNotRunning = errors.New("supervisor is not running")

// Options wires the collaborators and tunes the loop. Zero durations take defaults.
type Options struct {
	Layout   LayoutSource
	Host     Host
	Launcher Launcher
	Prober   Prober // nil disables health probing
	Events   Emitter
	Logger   *slog.Logger
	Now      func() time.Time

	LayoutPath     string // informational, shown in Status
	PollInterval   time.Duration
	Cooldown       time.Duration
	NoCooldown     bool // relaunch on every cycle; only for tests and tools
	MaxRestarts    int
	RoguePolicy    RoguePolicy
	GracePeriod    time.Duration
	NoGrace        bool // disable the layout-change grace window entirely
	TerminateGrace time.Duration
	StaleInterval  time.Duration
	MaxAge         time.Duration
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.NoCooldown {
		o.Cooldown = 0
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = DefaultMaxRestarts
	}
	if o.RoguePolicy == "" {
		o.RoguePolicy = RogueReport
	}
	if o.GracePeriod <= 0 && !o.NoGrace {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.NoGrace {
		o.GracePeriod = 0
	}
	if o.TerminateGrace <= 0 {
		o.TerminateGrace = DefaultTerminateGrace
	}
	if o.StaleInterval <= 0 {
		o.StaleInterval = DefaultStaleInterval
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
}

type cmdKind int

const (
	cmdReload cmdKind = iota
	cmdReset
)

type command struct {
	kind  cmdKind
	keys  []layout.Key
	reply chan int
}

// Supervisor is the reconciliation loop. Create it with New and drive it
// with Run, or call Cycle directly for a single pass.
type Supervisor struct {
	o   Options
	log *slog.Logger

	// loop-owned state
	records     map[layout.Key]*ManagedProcess
	rogues      map[int]RogueProcess
	hash        string
	hashSeen    bool
	goodHash    string
	changedAt   time.Time
	lastSweep   time.Time
	lastInvalid string
	lastReadErr string
	layoutErr   string
	probeErrs   map[layout.Key]string
	lastStates  map[layout.Key]State
	cycles      uint64

	cmds    chan command
	running chan struct{}
	runMu   sync.Mutex

	mu     sync.RWMutex
	status Status
}

// New validates the collaborators and returns an idle supervisor.
func New(o Options) (*Supervisor, error) {
	if o.Layout == nil || o.Host == nil || o.Launcher == nil {
		return nil, errors.New("supervisor: layout, host and launcher are required")
	}
	switch o.RoguePolicy {
	case "", RogueReport, RogueTerminate:
	default:
		return nil, fmt.Errorf("supervisor: unknown rogue policy %q", o.RoguePolicy)
	}
	o.setDefaults()
	if o.Events == nil {
		o.Events = logEmitter{log: o.Logger}
	}
	return &Supervisor{
		o:          o,
		log:        o.Logger,
		records:    make(map[layout.Key]*ManagedProcess),
		rogues:     make(map[int]RogueProcess),
		probeErrs:  make(map[layout.Key]string),
		lastStates: make(map[layout.Key]State),
		cmds:       make(chan command),
		status:     Status{LayoutPath: o.LayoutPath},
	}, nil
}

// Run cycles every poll interval until ctx is cancelled. Reload and Reset
// requests are served between cycles and trigger an immediate cycle.
func (s *Supervisor) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running != nil {
		s.runMu.Unlock()
		return errors.New("supervisor: already running")
	}
	s.running = make(chan struct{})
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		close(s.running)
		s.running = nil
		s.runMu.Unlock()
	}()

	s.log.Info("supervisor started",
		"layout", s.o.LayoutPath, "poll_interval", s.o.PollInterval, "cooldown", s.o.Cooldown,
		"rogue_policy", string(s.o.RoguePolicy))

	t := time.NewTicker(s.o.PollInterval)
	defer t.Stop()
	for {
		s.timedCycle(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("supervisor stopped")
			return nil
		case <-t.C:
		case c := <-s.cmds:
			n := 0
			if c.kind == cmdReset {
				n = s.reset(c.keys)
			}
			c.reply <- n
			t.Reset(s.o.PollInterval)
		}
	}
}

func (s *Supervisor) timedCycle(ctx context.Context) {
	rep := s.Cycle(ctx)
	overrun := rep.Duration > s.o.PollInterval
	metrics.ObserveCycle(rep.Duration.Seconds(), overrun)
	if overrun {
		s.o.Events.Emit(history.Event{
			Type:    history.EventOverrun,
			Level:   slog.LevelWarn,
			Reason:  rep.Duration.String(),
			Message: fmt.Sprintf("reconciliation cycle took %s, longer than the %s poll interval", rep.Duration.Round(time.Millisecond), s.o.PollInterval),
		})
	}
}

func (s *Supervisor) send(ctx context.Context, c command) (int, error) {
	s.runMu.Lock()
	running := s.running
	s.runMu.Unlock()
	if running == nil {
		return 0, ErrNotRunning
	}
	c.reply = make(chan int, 1)
	select {
	case s.cmds <- c:
	case <-running:
		return 0, ErrNotRunning
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-c.reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Reload asks the loop to re-read the layout and reconcile now.
func (s *Supervisor) Reload(ctx context.Context) error {
	_, err := s.send(ctx, command{kind: cmdReload})
	return err
}

// Reset lifts quarantine and clears the restart count and cooldown of the
// given tiles, or of every tile when keys is empty. It returns the number
// of tiles that were quarantined.
func (s *Supervisor) Reset(ctx context.Context, keys ...layout.Key) (int, error) {
	return s.send(ctx, command{kind: cmdReset, keys: keys})
}

func (s *Supervisor) reset(keys []layout.Key) int {
	if len(keys) == 0 {
		for k := range s.records {
			keys = append(keys, k)
		}
	}
	n := 0
	for _, k := range keys {
		rec, ok := s.records[k]
		if !ok {
			continue
		}
		if rec.Quarantined {
			n++
			metrics.SetQuarantined(k.String(), false)
			s.o.Events.Emit(history.Event{
				Type: history.EventReset, Level: slog.LevelInfo, Tile: k.String(),
				Message: "quarantine lifted by operator",
			})
		}
		rec.Quarantined = false
		rec.ConsecutiveRestarts = 0
		rec.LastAttempt = time.Time{}
	}
	return n
}

// Status returns the snapshot published by the last cycle.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Tiles = append([]TileStatus(nil), s.status.Tiles...)
	st.Rogues = append([]RogueProcess(nil), s.status.Rogues...)
	return st
}

// Layout returns the layout used by the last cycle.
func (s *Supervisor) Layout() *layout.Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status.layout == nil {
		return layout.Empty()
	}
	return s.status.layout
}

// Players maps tile markers to the pids seen serving them in the last cycle.
func (s *Supervisor) Players() map[string]int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int32, len(s.status.Tiles))
	for _, t := range s.status.Tiles {
		if t.PID > 0 {
			out[t.Key.String()] = int32(t.PID)
		}
	}
	return out
}

// logEmitter is used when no dispatcher is wired.
type logEmitter struct{ log *slog.Logger }

func (l logEmitter) Emit(e history.Event) {
	l.log.LogAttrs(context.Background(), e.Level, e.Message, e.Attrs()...)
}
