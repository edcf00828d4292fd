package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/loykin/viewport/internal/history"
	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/metrics"
	"github.com/loykin/viewport/internal/player"
	"github.com/loykin/viewport/internal/probe"
	"github.com/loykin/viewport/internal/process"
)

// cycle carries the per-pass scratch state.
type cycle struct {
	s       *Supervisor
	now     time.Time
	rep     *Report
	results map[string]probe.Result
	killed  map[int]bool
}

// Cycle runs one reconciliation pass: load the layout, scan the process
// table, probe, reconcile every tile, handle rogues and run the stale sweep
// when due. Calls must not overlap; Run serialises them.
func (s *Supervisor) Cycle(ctx context.Context) Report {
	start := s.o.Now()
	rep := Report{At: start, States: make(map[layout.Key]State)}
	s.cycles++

	lay := s.loadLayout(start, &rep)
	rep.InGrace = s.inGrace(start)

	infos, err := s.o.Host.List(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("list processes: %w", err)
		s.log.Warn("process scan failed, skipping reconciliation", "error", err)
		rep.Duration = s.o.Now().Sub(start)
		s.publish(lay, rep, s.lastStates)
		return rep
	}
	byKey, unmarked := group(infos)
	if len(unmarked) > 0 {
		s.log.Debug("unmarked players present", "count", len(unmarked))
	}

	c := &cycle{s: s, now: start, rep: &rep, killed: make(map[int]bool)}
	// every probe finishes before any tile is acted on
	c.results = s.probe(ctx, lay, byKey)

	for _, t := range lay.Tiles {
		c.tile(ctx, lay.Grid, t, byKey[t.Key])
	}
	c.rogues(lay, byKey)
	c.sweep(infos)
	s.prune(lay)

	rep.Duration = s.o.Now().Sub(start)
	s.lastStates = rep.States
	s.publish(lay, rep, rep.States)
	return rep
}

func (s *Supervisor) inGrace(now time.Time) bool {
	return s.o.GracePeriod > 0 && now.Sub(s.changedAt) < s.o.GracePeriod
}

// coolingDown reports whether a relaunch elapsed after the last attempt is
// still too early. Cycle starts drift a little under PollInterval apart, so a
// cooldown equal to the poll interval would otherwise skip every other tick.
func (s *Supervisor) coolingDown(elapsed time.Duration) bool {
	return elapsed < s.o.Cooldown-s.o.PollInterval/cooldownSlackDivisor
}

// loadLayout reads the store and tracks content changes. Anything that is
// not a valid layout is reconciled as an empty wall.
func (s *Supervisor) loadLayout(now time.Time, rep *Report) *layout.Layout {
	snap, err := s.o.Layout.Read()
	lay, hash := snap.Layout, snap.Hash
	layoutErr := ""
	switch {
	case err == nil:
		s.lastInvalid, s.lastReadErr = "", ""
		if hash != s.goodHash {
			if s.goodHash != "" {
				s.liftQuarantines()
			}
			s.goodHash = hash
			s.o.Events.Emit(history.Event{
				Type:    history.EventLayoutChanged,
				Level:   slog.LevelInfo,
				Reason:  hash,
				Message: fmt.Sprintf("layout loaded: %dx%d grid, %d tiles", lay.Grid.Rows, lay.Grid.Cols, lay.Len()),
			})
		}
	case hash != "":
		// readable but not a valid layout; report each distinct document once
		layoutErr = err.Error()
		if hash != s.lastInvalid {
			s.lastInvalid = hash
			s.o.Events.Emit(history.Event{
				Type:    history.EventLayoutInvalid,
				Level:   slog.LevelError,
				Reason:  err.Error(),
				Message: "layout rejected, reconciling as empty until it is fixed",
			})
		}
		lay = layout.Empty()
	default:
		layoutErr = err.Error()
		if layoutErr != s.lastReadErr {
			s.lastReadErr = layoutErr
			s.log.Warn("layout unreadable, reconciling as empty", "error", err)
		}
		lay = layout.Empty()
	}
	if lay == nil {
		lay = layout.Empty()
	}
	if !s.hashSeen || hash != s.hash {
		s.hash, s.hashSeen = hash, true
		s.changedAt = now
		rep.LayoutChanged = true
	}
	rep.LayoutHash = hash
	s.layoutErr = layoutErr
	return lay
}

func (s *Supervisor) liftQuarantines() {
	for k, rec := range s.records {
		if rec.Quarantined {
			metrics.SetQuarantined(k.String(), false)
			s.log.Info("quarantine lifted by layout change", "tile", k.String())
		}
		rec.Quarantined = false
		rec.ConsecutiveRestarts = 0
	}
}

// group buckets players by tile marker, oldest first within a tile.
func group(infos []process.Info) (map[layout.Key][]process.Info, []process.Info) {
	byKey := make(map[layout.Key][]process.Info)
	var unmarked []process.Info
	for _, p := range infos {
		k, ok := player.Marker(p.Args)
		if !ok {
			unmarked = append(unmarked, p)
			continue
		}
		byKey[k] = append(byKey[k], p)
	}
	for _, ps := range byKey {
		slices.SortFunc(ps, func(a, b process.Info) int {
			if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.PID, b.PID)
		})
	}
	return byKey, unmarked
}

// probe checks the sources of tiles whose newest player serves them.
func (s *Supervisor) probe(ctx context.Context, lay *layout.Layout, byKey map[layout.Key][]process.Info) map[string]probe.Result {
	if s.o.Prober == nil {
		return nil
	}
	var sources []string
	for _, t := range lay.Tiles {
		ps := byKey[t.Key]
		if !t.Wanted() || len(ps) == 0 {
			continue
		}
		if player.Serves(ps[len(ps)-1].Args, t.Source) {
			sources = append(sources, t.Source)
		}
	}
	if len(sources) == 0 {
		return nil
	}
	return s.o.Prober.Run(ctx, sources)
}

func (s *Supervisor) record(key layout.Key) *ManagedProcess {
	rec, ok := s.records[key]
	if !ok {
		rec = &ManagedProcess{Key: key}
		s.records[key] = rec
	}
	if rec.Key != key {
		s.log.Error("tile record filed under the wrong key, collapsing", "tile", key.String(), "record", rec.Key.String())
		rec.Key = key
	}
	return rec
}

// tile reconciles one key inside its own failure boundary.
func (c *cycle) tile(ctx context.Context, grid layout.Grid, t layout.Tile, procs []process.Info) {
	key := t.Key.String()
	defer func() {
		if r := recover(); r != nil {
			c.s.log.Error("tile reconciliation panicked", "tile", key, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	rec := c.s.record(t.Key)
	state := c.reconcile(ctx, grid, t, rec, procs)
	c.rep.States[t.Key] = state
	metrics.SetTileState(key, string(state))
}

func (c *cycle) reconcile(ctx context.Context, grid layout.Grid, t layout.Tile, rec *ManagedProcess, procs []process.Info) State {
	key := t.Key.String()
	dup := len(procs) > 1
	if dup {
		// newest wins; cleanup comes before any relaunch decision
		for _, p := range procs[:len(procs)-1] {
			c.terminate(key, p.PID, ReasonDuplicate, t.Source)
		}
		procs = procs[len(procs)-1:]
	}

	if !t.Wanted() {
		rec.Source = ""
		delete(c.s.probeErrs, t.Key)
		rec.PID, rec.StartedAt = 0, time.Time{}
		if len(procs) == 1 {
			if c.rep.InGrace {
				rec.PID, rec.StartedAt = procs[0].PID, procs[0].StartedAt
			} else {
				c.terminate(key, procs[0].PID, ReasonIdle, "")
			}
		}
		return StateIdle
	}

	state := StateMissing
	if len(procs) == 1 {
		p := procs[0]
		res, probed := c.results[t.Source]
		switch {
		case !player.Serves(p.Args, t.Source):
			c.terminate(key, p.PID, ReasonOutdated, t.Source)
		case probed && !res.Healthy():
			c.s.probeErrs[t.Key] = res.Err.Error()
			c.terminate(key, p.PID, ReasonUnhealthy, t.Source)
			state = StateUnhealthy
		default:
			delete(c.s.probeErrs, t.Key)
			if rec.ConsecutiveRestarts > 0 {
				c.s.log.Debug("tile confirmed healthy", "tile", key, "pid", p.PID, "after_attempts", rec.ConsecutiveRestarts)
			}
			rec.PID, rec.StartedAt, rec.Source = p.PID, p.StartedAt, t.Source
			rec.ConsecutiveRestarts = 0
			if dup {
				return StateDuplicate
			}
			return StateHealthy
		}
	}

	rec.PID, rec.StartedAt = 0, time.Time{}
	launched := c.launch(ctx, grid, t, rec)
	switch {
	case rec.Quarantined:
		return StateQuarantined
	case dup:
		return StateDuplicate
	case launched && state == StateMissing:
		return StateHealthy
	}
	return state
}

// launch starts a player for t unless the tile is quarantined or cooling down.
func (c *cycle) launch(ctx context.Context, grid layout.Grid, t layout.Tile, rec *ManagedProcess) bool {
	key := t.Key.String()
	if rec.Quarantined || ctx.Err() != nil {
		return false
	}
	if rec.ConsecutiveRestarts >= c.s.o.MaxRestarts {
		rec.Quarantined = true
		metrics.SetQuarantined(key, true)
		c.s.o.Events.Emit(history.Event{
			Type:    history.EventQuarantine,
			Level:   slog.LevelError,
			Tile:    key,
			Source:  history.RedactSource(t.Source),
			Reason:  fmt.Sprintf("%d launch attempts without a healthy player", rec.ConsecutiveRestarts),
			Message: "tile quarantined until the layout changes or an operator reset",
		})
		return false
	}
	if !rec.LastAttempt.IsZero() && c.s.coolingDown(c.now.Sub(rec.LastAttempt)) {
		c.s.log.Debug("tile cooling down", "tile", key, "remaining", c.s.o.Cooldown-c.now.Sub(rec.LastAttempt))
		return false
	}

	spec := c.s.o.Launcher.Build(grid, t)
	rec.LastAttempt = c.now
	rec.ConsecutiveRestarts++
	pid, err := c.s.o.Host.Launch(ctx, spec)
	if err != nil {
		metrics.IncLaunch(key, false)
		c.s.o.Events.Emit(history.Event{
			Type:    history.EventLaunchFailed,
			Level:   slog.LevelWarn,
			Tile:    key,
			Source:  history.RedactSource(t.Source),
			Reason:  err.Error(),
			Message: fmt.Sprintf("player launch failed (attempt %d of %d)", rec.ConsecutiveRestarts, c.s.o.MaxRestarts),
		})
		return false
	}
	rec.PID, rec.StartedAt, rec.Source = pid, c.now, t.Source
	metrics.IncLaunch(key, true)
	c.rep.Launched = append(c.rep.Launched, t.Key)
	c.s.o.Events.Emit(history.Event{
		Type:    history.EventLaunch,
		Level:   slog.LevelInfo,
		Tile:    key,
		PID:     pid,
		Source:  history.RedactSource(t.Source),
		Message: "player launched",
	})
	return true
}

// terminate signals pid once per cycle. The host escalates to a kill on its own.
func (c *cycle) terminate(tile string, pid int, reason, source string) {
	if c.killed[pid] {
		return
	}
	c.killed[pid] = true
	err := c.s.o.Host.Terminate(pid, c.s.o.TerminateGrace)
	if err != nil && !errors.Is(err, process.ErrNoSuchProcess) {
		c.s.log.Warn("terminate failed", "tile", tile, "pid", pid, "reason", reason, "error", err)
		return
	}
	metrics.IncTermination(tile, reason)
	c.rep.Terminated = append(c.rep.Terminated, Termination{Tile: tile, PID: pid, Reason: reason})
	typ, msg := history.EventTerminate, "player terminated"
	if reason == ReasonStale {
		typ, msg = history.EventStale, "stale player terminated"
	}
	c.s.o.Events.Emit(history.Event{
		Type:    typ,
		Level:   slog.LevelInfo,
		Tile:    tile,
		PID:     pid,
		Source:  history.RedactSource(source),
		Reason:  reason,
		Message: msg,
	})
}

// rogues reports players marked for positions outside the layout, once per
// pid, and terminates them under the terminate policy once the grace window
// has passed.
func (c *cycle) rogues(lay *layout.Layout, byKey map[layout.Key][]process.Info) {
	keys := make([]layout.Key, 0, len(byKey))
	for k := range byKey {
		if !lay.Has(k) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b layout.Key) int {
		if d := cmp.Compare(a.Row, b.Row); d != 0 {
			return d
		}
		return cmp.Compare(a.Col, b.Col)
	})

	current := make(map[int]bool)
	for _, k := range keys {
		for _, p := range byKey[k] {
			current[p.PID] = true
			r, seen := c.s.rogues[p.PID]
			if !seen || !r.StartedAt.Equal(p.StartedAt) {
				r = RogueProcess{Key: k, PID: p.PID, StartedAt: p.StartedAt, FirstSeen: c.now}
				c.s.rogues[p.PID] = r
				metrics.IncRogue()
				c.s.o.Events.Emit(history.Event{
					Type:    history.EventRogue,
					Level:   slog.LevelWarn,
					Tile:    k.String(),
					PID:     p.PID,
					Reason:  string(c.s.o.RoguePolicy),
					Message: "player marked for a tile that is not in the layout",
				})
			}
			c.rep.Rogues = append(c.rep.Rogues, r)
			if c.s.o.RoguePolicy == RogueTerminate && !c.rep.InGrace {
				c.terminate(k.String(), p.PID, ReasonRogue, "")
			}
		}
	}
	for pid := range c.s.rogues {
		if !current[pid] {
			delete(c.s.rogues, pid)
		}
	}
}

// sweep terminates every player older than MaxAge, marked or not, once per
// StaleInterval. The first interval starts with the first cycle.
func (c *cycle) sweep(infos []process.Info) {
	if c.s.lastSweep.IsZero() {
		c.s.lastSweep = c.now
		return
	}
	if c.rep.InGrace || c.now.Sub(c.s.lastSweep) < c.s.o.StaleInterval {
		return
	}
	c.s.lastSweep = c.now
	c.rep.Swept = true
	for _, p := range infos {
		if c.killed[p.PID] || p.Age(c.now) <= c.s.o.MaxAge {
			continue
		}
		tile := ""
		if k, ok := player.Marker(p.Args); ok {
			tile = k.String()
		}
		c.terminate(tile, p.PID, ReasonStale, "")
	}
}

// prune forgets tiles that left the layout.
func (s *Supervisor) prune(lay *layout.Layout) {
	for k := range s.records {
		if lay.Has(k) {
			continue
		}
		delete(s.records, k)
		delete(s.probeErrs, k)
		metrics.ForgetTile(k.String())
	}
}

func (s *Supervisor) publish(lay *layout.Layout, rep Report, states map[layout.Key]State) {
	tiles := make([]TileStatus, 0, len(lay.Tiles))
	for _, t := range lay.Tiles {
		ts := TileStatus{Name: t.Name, State: states[t.Key], ProbeError: s.probeErrs[t.Key]}
		if rec := s.records[t.Key]; rec != nil {
			ts.ManagedProcess = *rec
		} else {
			ts.Key = t.Key
		}
		ts.Source = history.RedactSource(t.Source)
		tiles = append(tiles, ts)
	}
	rogues := make([]RogueProcess, 0, len(s.rogues))
	for _, r := range s.rogues {
		rogues = append(rogues, r)
	}
	slices.SortFunc(rogues, func(a, b RogueProcess) int { return cmp.Compare(a.PID, b.PID) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{
		LayoutPath: s.o.LayoutPath,
		LayoutHash: rep.LayoutHash,
		LayoutErr:  s.layoutErr,
		Grid:       lay.Grid,
		InGrace:    rep.InGrace,
		LastCycle:  rep.At,
		Duration:   rep.Duration,
		Cycles:     s.cycles,
		Tiles:      tiles,
		Rogues:     rogues,
		layout:     lay,
	}
}
