package client

import "time"

// Status mirrors GET /status.
type Status struct {
	LayoutPath string         `json:"layout_path,omitempty"`
	LayoutHash string         `json:"layout_hash"`
	LayoutErr  string         `json:"layout_error,omitempty"`
	Grid       Grid           `json:"grid"`
	InGrace    bool           `json:"in_grace"`
	LastCycle  time.Time      `json:"last_cycle"`
	Duration   time.Duration  `json:"cycle_duration"`
	Cycles     uint64         `json:"cycles"`
	Tiles      []TileStatus   `json:"tiles"`
	Rogues     []RogueProcess `json:"rogues"`
}

// Grid is the wall shape.
type Grid struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// TileStatus is one tile as reported by the daemon. Key is the tile_r_c marker.
type TileStatus struct {
	Key                 string    `json:"key"`
	Name                string    `json:"name,omitempty"`
	State               string    `json:"state"`
	PID                 int       `json:"pid,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	ConsecutiveRestarts int       `json:"consecutive_restarts"`
	LastAttempt         time.Time `json:"last_attempt"`
	Source              string    `json:"source,omitempty"`
	Quarantined         bool      `json:"quarantined"`
	ProbeError          string    `json:"probe_error,omitempty"`
}

// RogueProcess is a player marked for a tile outside the layout.
type RogueProcess struct {
	Key       string    `json:"key"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	FirstSeen time.Time `json:"first_seen"`
}

// PlayerSample is one resource reading of a tile's player.
type PlayerSample struct {
	Tile       string    `json:"tile"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSS        uint64    `json:"rss_bytes"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResetResult is returned by POST /reset.
type ResetResult struct {
	OK     bool `json:"ok"`
	Lifted int  `json:"lifted"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
