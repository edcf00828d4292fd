package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/loykin/viewport/internal/history"
	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/marker"
	"github.com/loykin/viewport/internal/player"
	"github.com/loykin/viewport/internal/probe"
	"github.com/loykin/viewport/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeLayout struct {
	mu  sync.Mutex
	doc string
	err error
}

func (f *fakeLayout) Read() (layout.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return layout.Snapshot{}, f.err
	}
	raw := []byte(f.doc)
	h := layout.Hash(raw)
	l, err := layout.Parse(raw, "json")
	if err != nil {
		return layout.Snapshot{Hash: h}, err
	}
	return layout.Snapshot{Layout: l, Hash: h}, nil
}

func (f *fakeLayout) set(doc string) {
	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
}

type fakeHost struct {
	mu         sync.Mutex
	now        func() time.Time
	next       int
	procs      map[int]process.Info
	launches   []process.LaunchSpec
	terminated []int
	launchErr  error
	listErr    error
}

func newHost(now func() time.Time) *fakeHost {
	return &fakeHost{now: now, next: 1000, procs: make(map[int]process.Info)}
}

func (h *fakeHost) List(context.Context) ([]process.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	out := make([]process.Info, 0, len(h.procs))
	for _, p := range h.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (h *fakeHost) Launch(_ context.Context, spec process.LaunchSpec) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.launches = append(h.launches, spec)
	if h.launchErr != nil {
		return 0, h.launchErr
	}
	h.next++
	pid := h.next
	h.procs[pid] = process.Info{PID: pid, Name: "mpv", Args: spec.Args, StartedAt: h.now()}
	return pid, nil
}

func (h *fakeHost) Terminate(pid int, _ time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = append(h.terminated, pid)
	if _, ok := h.procs[pid]; !ok {
		return process.ErrNoSuchProcess
	}
	delete(h.procs, pid)
	return nil
}

// add seeds a running player outside the supervisor's control.
func (h *fakeHost) add(started time.Time, args ...string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.procs[h.next] = process.Info{PID: h.next, Name: "mpv", Args: args, StartedAt: started}
	return h.next
}

func (h *fakeHost) crashAll() {
	h.mu.Lock()
	h.procs = make(map[int]process.Info)
	h.mu.Unlock()
}

func (h *fakeHost) setLaunchErr(err error) {
	h.mu.Lock()
	h.launchErr = err
	h.mu.Unlock()
}

func (h *fakeHost) launchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.launches)
}

// perTile counts live players by marker.
func (h *fakeHost) perTile() map[string][]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]int)
	for pid, p := range h.procs {
		if m, ok := marker.FromArgs(p.Args); ok {
			out[m.String()] = append(out[m.String()], pid)
		}
	}
	return out
}

type fakeProber struct {
	mu      sync.Mutex
	bad     map[string]error
	batches [][]string
}

func (p *fakeProber) Run(_ context.Context, sources []string) map[string]probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]string(nil), sources...))
	out := make(map[string]probe.Result, len(sources))
	for _, s := range sources {
		out[s] = probe.Result{Err: p.bad[s]}
	}
	return out
}

type recEmitter struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recEmitter) Emit(e history.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recEmitter) count(t history.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type rig struct {
	clock  *fakeClock
	layout *fakeLayout
	host   *fakeHost
	events *recEmitter
	sup    *Supervisor
}

func newRig(t *testing.T, doc string, mod func(*Options)) *rig {
	t.Helper()
	clk := newClock()
	r := &rig{
		clock:  clk,
		layout: &fakeLayout{doc: doc},
		host:   newHost(clk.Now),
		events: &recEmitter{},
	}
	o := Options{
		Layout:   r.layout,
		Host:     r.host,
		Launcher: player.Builder{Args: []string{"--no-border"}},
		Events:   r.events,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      clk.Now,
		Cooldown: 10 * time.Second,
	}
	if mod != nil {
		mod(&o)
	}
	sup, err := New(o)
	require.NoError(t, err)
	r.sup = sup
	return r
}

func (r *rig) cycle(t *testing.T) Report {
	t.Helper()
	rep := r.sup.Cycle(context.Background())
	require.NoError(t, rep.Err)
	return rep
}

func k(row, col int) layout.Key { return layout.Key{Row: row, Col: col} }

const wall2x2 = `{"grid":[2,2],"tiles":[
	{"row":0,"col":0,"url":"rtsp://a"},
	{"row":0,"col":1,"url":null}]}`

const wall2x2Full = `{"grid":[2,2],"tiles":[
	{"row":0,"col":0,"url":"rtsp://a"},
	{"row":0,"col":1,"url":"rtsp://b"},
	{"row":1,"col":0,"url":"rtsp://c"},
	{"row":1,"col":1,"url":"rtsp://d"}]}`

// --- tests ---

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Layout: &fakeLayout{}, Host: newHost(time.Now), Launcher: player.Builder{}, RoguePolicy: "ignore"})
	require.Error(t, err)
}

func TestScenario_TwoByTwoWithIdleTile(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	rep := r.cycle(t)

	assert.Equal(t, []layout.Key{k(0, 0)}, rep.Launched)
	tiles := r.host.perTile()
	require.Len(t, tiles, 1)
	assert.Len(t, tiles["tile_0_0"], 1)
	assert.Empty(t, tiles["tile_0_1"])
	assert.Equal(t, StateHealthy, rep.States[k(0, 0)])
	assert.Equal(t, StateIdle, rep.States[k(0, 1)])

	spec := r.host.launches[0]
	assert.Equal(t, "mpv", spec.Path)
	assert.Equal(t, "rtsp://a", spec.Args[len(spec.Args)-1])
	assert.Contains(t, spec.Args, "--title=tile_0_0")
	assert.Contains(t, spec.Args, "--geometry=1920x1080+0+0")
	assert.Equal(t, 1, r.events.count(history.EventLayoutChanged))
	assert.True(t, rep.LayoutChanged)
}

func TestAtMostOneLivePlayerPerTile(t *testing.T) {
	r := newRig(t, wall2x2Full, nil)
	base := r.clock.Now().Add(-time.Hour)
	for i, src := range []string{"rtsp://a", "rtsp://a", "rtsp://a", "rtsp://b", "rtsp://b", "rtsp://c"} {
		m := []string{"tile_0_0", "tile_0_0", "tile_0_0", "tile_0_1", "tile_0_1", "tile_1_0"}[i]
		r.host.add(base.Add(time.Duration(i)*time.Minute), "--title="+m, src)
	}

	for i := 0; i < 5; i++ {
		r.cycle(t)
		for tile, pids := range r.host.perTile() {
			assert.LessOrEqual(t, len(pids), 1, "cycle %d tile %s", i, tile)
		}
		r.clock.Advance(3 * time.Second)
	}
	assert.Len(t, r.host.perTile(), 4)
}

func TestCooldownBoundsRelaunches(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) { o.MaxRestarts = 100 })

	var at []time.Time
	for i := 0; i < 31; i++ {
		before := r.host.launchCount()
		r.cycle(t)
		if r.host.launchCount() > before {
			at = append(at, r.clock.Now())
		}
		// every player dies right away
		r.host.crashAll()
		r.clock.Advance(time.Second)
	}
	require.Len(t, at, 4) // t=0,10,20,30
	for i := 1; i < len(at); i++ {
		assert.GreaterOrEqual(t, at[i].Sub(at[i-1]), 10*time.Second)
	}
}

func TestCooldownDefaultsWhenUnset(t *testing.T) {
	clk := newClock()
	host := newHost(clk.Now)
	sup, err := New(Options{
		Layout:   &fakeLayout{doc: wall2x2},
		Host:     host,
		Launcher: player.Builder{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      clk.Now,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultCooldown, sup.o.Cooldown)

	for i := 0; i < 3; i++ {
		require.NoError(t, sup.Cycle(context.Background()).Err)
		host.crashAll()
		clk.Advance(time.Second)
	}
	assert.Equal(t, 1, host.launchCount(), "launches within 2s")
}

func TestNoCooldownRelaunchesEveryCycle(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) {
		o.NoCooldown = true
		o.MaxRestarts = 100
	})
	for i := 0; i < 3; i++ {
		r.cycle(t)
		r.host.crashAll()
		r.clock.Advance(time.Second)
	}
	assert.Equal(t, 3, r.host.launchCount())
}

func TestCooldownToleratesTickerJitter(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) {
		o.PollInterval = 10 * time.Second
		o.Cooldown = 10 * time.Second
		o.MaxRestarts = 100
	})
	r.cycle(t)
	r.host.crashAll()

	r.clock.Advance(5 * time.Second)
	r.cycle(t)
	assert.Equal(t, 1, r.host.launchCount(), "half a cooldown is still too early")

	r.clock.Advance(5*time.Second - time.Microsecond)
	r.cycle(t)
	assert.Equal(t, 2, r.host.launchCount(), "a tick landing just early must relaunch")
}

func TestSecondCycleIsIdempotent(t *testing.T) {
	r := newRig(t, wall2x2Full, func(o *Options) { o.Prober = &fakeProber{} })
	first := r.cycle(t)
	require.Len(t, first.Launched, 4)

	r.clock.Advance(time.Second)
	second := r.cycle(t)
	assert.Empty(t, second.Launched)
	assert.Empty(t, second.Terminated)
	for _, key := range []layout.Key{k(0, 0), k(0, 1), k(1, 0), k(1, 1)} {
		assert.Equal(t, StateHealthy, second.States[key])
	}
}

func TestDuplicatesConvergeToNewest(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	now := r.clock.Now()
	oldest := r.host.add(now.Add(-3*time.Minute), "--title=tile_0_0", "rtsp://a")
	middle := r.host.add(now.Add(-2*time.Minute), "--title=tile_0_0", "rtsp://a")
	newest := r.host.add(now.Add(-1*time.Minute), "--title=tile_0_0", "rtsp://a")

	rep := r.cycle(t)
	assert.Equal(t, map[string][]int{"tile_0_0": {newest}}, r.host.perTile())
	assert.ElementsMatch(t, []Termination{
		{Tile: "tile_0_0", PID: oldest, Reason: ReasonDuplicate},
		{Tile: "tile_0_0", PID: middle, Reason: ReasonDuplicate},
	}, rep.Terminated)
	assert.Empty(t, rep.Launched)
	assert.Equal(t, StateDuplicate, rep.States[k(0, 0)])

	// the survivor is plain healthy next time
	rep = r.cycle(t)
	assert.Equal(t, StateHealthy, rep.States[k(0, 0)])
}

func TestDuplicateCleanupIgnoresCooldown(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) { o.Cooldown = time.Hour })
	r.cycle(t)
	require.Equal(t, 1, r.host.launchCount())

	// someone starts a second copy right away
	extra := r.host.add(r.clock.Now().Add(time.Second), "--title=tile_0_0", "rtsp://a")
	r.clock.Advance(2 * time.Second)
	rep := r.cycle(t)
	require.Len(t, rep.Terminated, 1)
	assert.NotEqual(t, extra, rep.Terminated[0].PID)
	assert.Equal(t, map[string][]int{"tile_0_0": {extra}}, r.host.perTile())
}

func TestRogue_ReportedOnce(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	pid := r.host.add(r.clock.Now().Add(-time.Minute), "--title=tile_5_5", "rtsp://x")

	rep := r.cycle(t)
	require.Len(t, rep.Rogues, 1)
	assert.Equal(t, k(5, 5), rep.Rogues[0].Key)
	assert.Equal(t, pid, rep.Rogues[0].PID)

	r.clock.Advance(time.Minute)
	rep = r.cycle(t)
	require.Len(t, rep.Rogues, 1)
	assert.Equal(t, 1, r.events.count(history.EventRogue))
	assert.Contains(t, r.host.procs, pid, "report policy must not kill")
	assert.Len(t, r.sup.Status().Rogues, 1)
}

func TestRogue_TerminateWaitsForGrace(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) { o.RoguePolicy = RogueTerminate })
	pid := r.host.add(r.clock.Now().Add(-time.Minute), "--title=tile_5_5", "rtsp://x")

	rep := r.cycle(t)
	assert.True(t, rep.InGrace)
	assert.Contains(t, r.host.procs, pid)

	r.clock.Advance(DefaultGracePeriod + time.Second)
	rep = r.cycle(t)
	assert.False(t, rep.InGrace)
	assert.NotContains(t, r.host.procs, pid)
	assert.Contains(t, rep.Terminated, Termination{Tile: "tile_5_5", PID: pid, Reason: ReasonRogue})
}

func TestRogue_TerminateWithoutGrace(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) {
		o.RoguePolicy = RogueTerminate
		o.NoGrace = true
	})
	pid := r.host.add(r.clock.Now(), "--title=tile_5_5", "rtsp://x")
	r.cycle(t)
	assert.NotContains(t, r.host.procs, pid)
}

func TestGraceDoesNotDeferMissingOrDuplicates(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	now := r.clock.Now()
	r.host.add(now.Add(-2*time.Minute), "--title=tile_0_0", "rtsp://a")
	r.host.add(now.Add(-1*time.Minute), "--title=tile_0_0", "rtsp://a")

	rep := r.cycle(t)
	require.True(t, rep.InGrace)
	assert.Len(t, rep.Terminated, 1)

	r.host.crashAll()
	rep = r.cycle(t)
	require.True(t, rep.InGrace)
	assert.Equal(t, []layout.Key{k(0, 0)}, rep.Launched)
}

func TestQuarantineAfterRepeatedLaunchFailures(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	r.host.setLaunchErr(errors.New("exec: mpv: not found"))

	for i := 0; i < 3; i++ {
		rep := r.cycle(t)
		assert.Empty(t, rep.Launched)
		r.clock.Advance(11 * time.Second)
	}
	require.Equal(t, 3, r.host.launchCount())

	rep := r.cycle(t)
	assert.Equal(t, 3, r.host.launchCount(), "fourth poll must not launch")
	assert.Equal(t, StateQuarantined, rep.States[k(0, 0)])
	assert.Equal(t, 1, r.events.count(history.EventQuarantine))
	assert.Equal(t, 3, r.events.count(history.EventLaunchFailed))

	// still quarantined later, even once launches would work
	r.host.setLaunchErr(nil)
	r.clock.Advance(time.Minute)
	r.cycle(t)
	assert.Equal(t, 3, r.host.launchCount())

	// a layout change lifts it
	r.layout.set(`{"grid":[2,2],"tiles":[{"row":0,"col":0,"url":"rtsp://a","name":"door"}]}`)
	rep = r.cycle(t)
	assert.Equal(t, []layout.Key{k(0, 0)}, rep.Launched)
	assert.Equal(t, 4, r.host.launchCount())
}

func TestHealthyObservationResetsRestartCount(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	for i := 0; i < 2; i++ {
		r.cycle(t)
		r.host.crashAll()
		r.clock.Advance(11 * time.Second)
	}
	r.cycle(t) // third attempt stays up
	r.clock.Advance(11 * time.Second)
	r.cycle(t)
	st := r.sup.Status()
	require.Len(t, st.Tiles, 2)
	assert.Equal(t, 0, st.Tiles[0].ConsecutiveRestarts)
	assert.False(t, st.Tiles[0].Quarantined)
}

func TestUnhealthyPlayerIsReplaced(t *testing.T) {
	pr := &fakeProber{bad: map[string]error{"rtsp://a": errors.New("describe: 404")}}
	r := newRig(t, wall2x2, func(o *Options) { o.Prober = pr })
	old := r.host.add(r.clock.Now().Add(-time.Hour), "--title=tile_0_0", "rtsp://a")

	rep := r.cycle(t)
	assert.Equal(t, StateUnhealthy, rep.States[k(0, 0)])
	assert.Contains(t, rep.Terminated, Termination{Tile: "tile_0_0", PID: old, Reason: ReasonUnhealthy})
	assert.Equal(t, []layout.Key{k(0, 0)}, rep.Launched, "never launched before, so no cooldown")
	assert.Equal(t, [][]string{{"rtsp://a"}}, pr.batches)
	assert.Equal(t, "describe: 404", r.sup.Status().Tiles[0].ProbeError)

	// the replacement fails the probe too, but the cooldown holds it back
	r.clock.Advance(2 * time.Second)
	rep = r.cycle(t)
	assert.Len(t, rep.Terminated, 1)
	assert.Empty(t, rep.Launched)
	assert.Equal(t, StateUnhealthy, rep.States[k(0, 0)])
}

func TestProbeOnlyLiveTiles(t *testing.T) {
	pr := &fakeProber{}
	r := newRig(t, wall2x2Full, func(o *Options) { o.Prober = pr })
	r.host.add(r.clock.Now(), "--title=tile_1_1", "rtsp://d")
	r.cycle(t)
	require.Len(t, pr.batches, 1)
	assert.Equal(t, []string{"rtsp://d"}, pr.batches[0])
}

func TestOutdatedSourceIsReplaced(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	old := r.host.add(r.clock.Now().Add(-time.Hour), "--title=tile_0_0", "rtsp://old")

	rep := r.cycle(t)
	assert.Contains(t, rep.Terminated, Termination{Tile: "tile_0_0", PID: old, Reason: ReasonOutdated})
	require.Len(t, rep.Launched, 1)
	spec := r.host.launches[0]
	assert.Equal(t, "rtsp://a", spec.Args[len(spec.Args)-1])
}

func TestIdleTilePlayerTerminatedAfterGrace(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	pid := r.host.add(r.clock.Now().Add(-time.Hour), "--title=tile_0_1", "rtsp://z")

	rep := r.cycle(t)
	assert.Contains(t, r.host.procs, pid)
	assert.Equal(t, StateIdle, rep.States[k(0, 1)])

	r.clock.Advance(5 * time.Second)
	rep = r.cycle(t)
	assert.NotContains(t, r.host.procs, pid)
	assert.Contains(t, rep.Terminated, Termination{Tile: "tile_0_1", PID: pid, Reason: ReasonIdle})
}

func TestStaleSweep(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) {
		o.StaleInterval = 30 * time.Minute
		o.MaxAge = 24 * time.Hour
	})
	now := r.clock.Now()
	oldTile := r.host.add(now.Add(-25*time.Hour), "--title=tile_0_0", "rtsp://a")
	oldLoose := r.host.add(now.Add(-25*time.Hour), "some-video.mp4")
	young := r.host.add(now.Add(-time.Hour), "other.mp4")

	rep := r.cycle(t)
	assert.False(t, rep.Swept)
	assert.Len(t, r.host.procs, 3)

	r.clock.Advance(31 * time.Minute)
	rep = r.cycle(t)
	assert.True(t, rep.Swept)
	assert.NotContains(t, r.host.procs, oldTile)
	assert.NotContains(t, r.host.procs, oldLoose)
	assert.Contains(t, r.host.procs, young)
	assert.Equal(t, 2, r.events.count(history.EventStale))

	// the swept tile comes back on the next poll
	rep = r.cycle(t)
	assert.Equal(t, []layout.Key{k(0, 0)}, rep.Launched)
}

func TestStaleSweepDeferredDuringGrace(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) { o.StaleInterval = time.Minute })
	old := r.host.add(r.clock.Now().Add(-48*time.Hour), "loop.mp4")
	r.cycle(t)

	r.clock.Advance(2 * time.Minute)
	r.layout.set(wall2x2Full)
	rep := r.cycle(t)
	require.True(t, rep.InGrace)
	assert.False(t, rep.Swept)
	assert.Contains(t, r.host.procs, old)

	r.clock.Advance(5 * time.Second)
	rep = r.cycle(t)
	assert.True(t, rep.Swept)
	assert.NotContains(t, r.host.procs, old)
}

func TestInvalidLayoutTreatedAsEmptyAndReportedOnce(t *testing.T) {
	r := newRig(t, `{"grid":[0,2],"tiles":[]}`, nil)
	pid := r.host.add(r.clock.Now(), "--title=tile_0_0", "rtsp://a")

	for i := 0; i < 3; i++ {
		rep := r.cycle(t)
		assert.Empty(t, rep.Launched)
		assert.Empty(t, rep.States)
		r.clock.Advance(10 * time.Second)
	}
	assert.Equal(t, 1, r.events.count(history.EventLayoutInvalid))
	assert.Contains(t, r.host.procs, pid)
	assert.NotEmpty(t, r.sup.Status().LayoutErr)

	r.layout.set(`{"grid":[1,2],"tiles":[]}`)
	r.cycle(t)
	r.layout.set(`not json at all`)
	r.cycle(t)
	assert.Equal(t, 2, r.events.count(history.EventLayoutInvalid))
}

func TestUnreadableLayoutDoesNotCrash(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	r.layout.err = errors.New("open viewport_config.json: no such file or directory")
	rep := r.cycle(t)
	assert.Empty(t, rep.Launched)
	assert.Equal(t, "", rep.LayoutHash)

	r.layout.err = nil
	rep = r.cycle(t)
	assert.True(t, rep.LayoutChanged)
	assert.Len(t, rep.Launched, 1)
}

type panicLauncher struct{ inner Launcher }

func (p panicLauncher) Build(g layout.Grid, t layout.Tile) process.LaunchSpec {
	if t.Key == k(0, 0) {
		panic("bad tile")
	}
	return p.inner.Build(g, t)
}

func TestPanicInOneTileDoesNotStopOthers(t *testing.T) {
	r := newRig(t, wall2x2Full, func(o *Options) { o.Launcher = panicLauncher{inner: player.Builder{}} })
	rep := r.cycle(t)
	assert.ElementsMatch(t, []layout.Key{k(0, 1), k(1, 0), k(1, 1)}, rep.Launched)
}

func TestProcessScanFailureSkipsCycle(t *testing.T) {
	r := newRig(t, wall2x2, nil)
	r.host.listErr = errors.New("permission denied")
	rep := r.sup.Cycle(context.Background())
	require.Error(t, rep.Err)
	assert.Equal(t, 0, r.host.launchCount())
}

func TestRemovedTileIsForgotten(t *testing.T) {
	r := newRig(t, wall2x2Full, func(o *Options) { o.NoGrace = true })
	r.cycle(t)
	require.Len(t, r.sup.Status().Tiles, 4)

	r.layout.set(wall2x2)
	rep := r.cycle(t)
	// tiles that left the layout are now rogue under the report policy,
	// the player of the now idle tile is stopped
	assert.Len(t, rep.Rogues, 2)
	assert.Contains(t, rep.Terminated, Termination{Tile: "tile_0_1", PID: 1002, Reason: ReasonIdle})
	assert.Len(t, r.sup.Status().Tiles, 2)
	assert.Len(t, r.sup.records, 2)
}

func TestStatusAndPlayers(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) { o.LayoutPath = "/home/pi/viewport_config.json" })
	r.layout.set(`{"grid":[1,1],"tiles":[{"row":0,"col":0,"name":"door","url":"rtsp://admin:pw@nvr/x"}]}`)
	r.cycle(t)

	st := r.sup.Status()
	assert.Equal(t, "/home/pi/viewport_config.json", st.LayoutPath)
	assert.Equal(t, layout.Grid{Rows: 1, Cols: 1}, st.Grid)
	require.Len(t, st.Tiles, 1)
	assert.Equal(t, "door", st.Tiles[0].Name)
	assert.Equal(t, "rtsp://xxxxx@nvr/x", st.Tiles[0].Source)
	assert.Equal(t, StateHealthy, st.Tiles[0].State)
	assert.Equal(t, uint64(1), st.Cycles)

	players := r.sup.Players()
	require.Len(t, players, 1)
	assert.Equal(t, int32(st.Tiles[0].PID), players["tile_0_0"])
	assert.Equal(t, 1, r.sup.Layout().Len())
}

func TestRun_ResetAndReload(t *testing.T) {
	r := newRig(t, wall2x2, func(o *Options) {
		o.PollInterval = time.Hour
		o.MaxRestarts = 1
		o.NoCooldown = true
	})
	r.host.setLaunchErr(errors.New("exec failed"))

	_, err := r.sup.Reset(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.sup.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return r.sup.Status().Cycles >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, r.sup.Reload(context.Background()))
	require.Eventually(t, func() bool {
		st := r.sup.Status()
		return len(st.Tiles) > 0 && st.Tiles[0].State == StateQuarantined
	}, 2*time.Second, 5*time.Millisecond)

	r.host.setLaunchErr(nil)
	n, err := r.sup.Reset(context.Background(), k(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool { return len(r.host.perTile()["tile_0_0"]) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.events.count(history.EventReset))

	err = r.sup.Run(ctx)
	require.Error(t, err, "second Run must be refused")
}

func TestRun_OverrunWarns(t *testing.T) {
	clk := newClock()
	slow := &slowLayout{fakeLayout: fakeLayout{doc: wall2x2}, clock: clk, by: 2 * time.Second}
	ev := &recEmitter{}
	sup, err := New(Options{
		Layout: slow, Host: newHost(clk.Now), Launcher: player.Builder{}, Events: ev,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Now: clk.Now,
		PollInterval: time.Second,
	})
	require.NoError(t, err)
	sup.timedCycle(context.Background())
	assert.Equal(t, 1, ev.count(history.EventOverrun))
}

// slowLayout advances the fake clock on every read to simulate a slow cycle.
type slowLayout struct {
	fakeLayout
	clock *fakeClock
	by    time.Duration
}

func (s *slowLayout) Read() (layout.Snapshot, error) {
	s.clock.Advance(s.by)
	return s.fakeLayout.Read()
}
