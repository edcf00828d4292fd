package supervisor

import (
	"context"
	"time"

	"github.com/loykin/viewport/internal/history"
	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/probe"
	"github.com/loykin/viewport/internal/process"
)

// Host is the OS side the loop drives. process.OSHost implements it.
type Host interface {
	List(ctx context.Context) ([]process.Info, error)
	Launch(ctx context.Context, spec process.LaunchSpec) (int, error)
	Terminate(pid int, grace time.Duration) error
}

// LayoutSource yields the desired state. layout.Store implements it.
type LayoutSource interface {
	Read() (layout.Snapshot, error)
}

// Launcher turns a tile into a concrete command line. player.Builder implements it.
type Launcher interface {
	Build(grid layout.Grid, t layout.Tile) process.LaunchSpec
}

// Prober checks all given sources and returns once every result is in.
// probe.Pool implements it. Sources without a result count as healthy.
type Prober interface {
	Run(ctx context.Context, sources []string) map[string]probe.Result
}

// Emitter receives supervision events. history.Dispatcher implements it.
type Emitter interface {
	Emit(e history.Event)
}

// RoguePolicy decides what happens to players whose marker names a tile
// that is not in the layout.
type RoguePolicy string

const (
	RogueReport    RoguePolicy = "report"
	RogueTerminate RoguePolicy = "terminate"
)

// State is the per-tile classification of one cycle.
type State string

const (
	StateMissing     State = "missing"
	StateHealthy     State = "healthy"
	StateUnhealthy   State = "unhealthy"
	StateDuplicate   State = "duplicate"
	StateQuarantined State = "quarantined"
	StateIdle        State = "idle"
)

// Termination reasons, used for events and the terminations_total metric.
const (
	ReasonDuplicate = "duplicate"
	ReasonUnhealthy = "unhealthy"
	ReasonOutdated  = "outdated"
	ReasonIdle      = "idle"
	ReasonRogue     = "rogue"
	ReasonStale     = "stale"
)

// ManagedProcess is the loop's record for one tile. Only the loop goroutine
// touches it; the API sees copies.
type ManagedProcess struct {
	Key                 layout.Key `json:"key"`
	PID                 int        `json:"pid,omitempty"`
	StartedAt           time.Time  `json:"started_at,omitzero"`
	ConsecutiveRestarts int        `json:"consecutive_restarts"`
	LastAttempt         time.Time  `json:"last_attempt,omitzero"`
	Source              string     `json:"source,omitempty"`
	Quarantined         bool       `json:"quarantined"`
}

// RogueProcess is a live player whose marker names a position outside the layout.
type RogueProcess struct {
	Key       layout.Key `json:"key"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	FirstSeen time.Time  `json:"first_seen"`
}

// Termination is one signal sent during a cycle.
type Termination struct {
	Tile   string `json:"tile,omitempty"` // empty for unmarked players
	PID    int    `json:"pid"`
	Reason string `json:"reason"`
}

// Report summarises one cycle. Tests and the CLI's one-shot mode read it.
type Report struct {
	At            time.Time            `json:"at"`
	Duration      time.Duration        `json:"duration"`
	LayoutHash    string               `json:"layout_hash"`
	LayoutChanged bool                 `json:"layout_changed"`
	InGrace       bool                 `json:"in_grace"`
	Swept         bool                 `json:"swept"`
	States        map[layout.Key]State `json:"states"`
	Launched      []layout.Key         `json:"launched"`
	Terminated    []Termination        `json:"terminated"`
	Rogues        []RogueProcess       `json:"rogues"`
	Err           error                `json:"-"`
}

// TileStatus is the API view of one tile.
type TileStatus struct {
	ManagedProcess
	Name       string `json:"name,omitempty"`
	State      State  `json:"state"`
	ProbeError string `json:"probe_error,omitempty"`
}

// Status is the snapshot published after every cycle.
type Status struct {
	LayoutPath string         `json:"layout_path,omitempty"`
	LayoutHash string         `json:"layout_hash"`
	LayoutErr  string         `json:"layout_error,omitempty"`
	Grid       layout.Grid    `json:"grid"`
	InGrace    bool           `json:"in_grace"`
	LastCycle  time.Time      `json:"last_cycle,omitzero"`
	Duration   time.Duration  `json:"cycle_duration"`
	Cycles     uint64         `json:"cycles"`
	Tiles      []TileStatus   `json:"tiles"`
	Rogues     []RogueProcess `json:"rogues"`

	layout *layout.Layout
}
