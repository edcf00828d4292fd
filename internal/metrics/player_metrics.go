package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// PlayerSample is one resource reading of a tile's player.
type PlayerSample struct {
	Tile       string    `json:"tile"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSS        uint64    `json:"rss_bytes"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// PlayerCollectorConfig holds configuration for player resource sampling.
type PlayerCollectorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// PlayerCollector samples CPU and memory of the live players so resource
// drift between stale sweeps is visible.
type PlayerCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	history map[string][]PlayerSample // tile -> oldest..newest
	procs   map[int32]*process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	rssBytes   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewPlayerCollector(cfg PlayerCollectorConfig) *PlayerCollector {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 60
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	labels := []string{"tile"}
	return &PlayerCollector{
		enabled:    cfg.Enabled,
		interval:   cfg.Interval,
		maxHistory: cfg.MaxHistory,
		history:    make(map[string][]PlayerSample),
		procs:      make(map[int32]*process.Process),
		stopCh:     make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "player", Name: "cpu_percent",
			Help: "CPU usage percentage of the tile's player.",
		}, labels),
		rssBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "player", Name: "rss_bytes",
			Help: "Resident memory of the tile's player.",
		}, labels),
		numThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "player", Name: "num_threads",
			Help: "Threads of the tile's player.",
		}, labels),
		numFDs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "player", Name: "num_fds",
			Help: "Open file descriptors of the tile's player (Unix only).",
		}, labels),
	}
}

func (c *PlayerCollector) Enabled() bool { return c != nil && c.enabled }

// RegisterMetrics registers the player gauges with the provided registerer.
func (c *PlayerCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.Enabled() {
		return nil
	}
	cs := []prometheus.Collector{c.cpuPercent, c.rssBytes, c.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, c.numFDs)
	}
	for _, col := range cs {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples getPlayers() (tile -> pid) every interval until ctx ends or Stop.
func (c *PlayerCollector) Start(ctx context.Context, getPlayers func() map[string]int32) {
	if !c.Enabled() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				c.Collect(getPlayers())
			}
		}
	}()
}

// Stop stops sampling and waits for the sampler goroutine.
func (c *PlayerCollector) Stop() {
	if !c.Enabled() {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample per tile and drops series of tiles that vanished.
func (c *PlayerCollector) Collect(players map[string]int32) {
	now := time.Now()
	samples := make([]PlayerSample, 0, len(players))
	for tile, pid := range players {
		if pid <= 0 {
			continue
		}
		s, err := c.sample(tile, pid, now)
		if err != nil {
			slog.Debug("player sample failed", "tile", tile, "pid", pid, "error", err)
			continue
		}
		samples = append(samples, s)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range samples {
		c.cpuPercent.WithLabelValues(s.Tile).Set(s.CPUPercent)
		c.rssBytes.WithLabelValues(s.Tile).Set(float64(s.RSS))
		c.numThreads.WithLabelValues(s.Tile).Set(float64(s.NumThreads))
		if s.NumFDs > 0 {
			c.numFDs.WithLabelValues(s.Tile).Set(float64(s.NumFDs))
		}
		h := append(c.history[s.Tile], s)
		if len(h) > c.maxHistory {
			h = h[len(h)-c.maxHistory:]
		}
		c.history[s.Tile] = h
	}
	for tile := range c.history {
		if _, ok := players[tile]; ok {
			continue
		}
		delete(c.history, tile)
		c.cpuPercent.DeleteLabelValues(tile)
		c.rssBytes.DeleteLabelValues(tile)
		c.numThreads.DeleteLabelValues(tile)
		c.numFDs.DeleteLabelValues(tile)
	}
	live := make(map[int32]struct{}, len(players))
	for _, pid := range players {
		live[pid] = struct{}{}
	}
	for pid := range c.procs {
		if _, ok := live[pid]; !ok {
			delete(c.procs, pid)
		}
	}
}

// sample reuses process handles across ticks so CPUPercent measures the
// interval between samples rather than the whole process lifetime.
func (c *PlayerCollector) sample(tile string, pid int32, now time.Time) (PlayerSample, error) {
	c.mu.RLock()
	p := c.procs[pid]
	c.mu.RUnlock()
	if p == nil {
		np, err := process.NewProcess(pid)
		if err != nil {
			return PlayerSample{}, fmt.Errorf("process handle: %w", err)
		}
		p = np
		c.mu.Lock()
		c.procs[pid] = p
		c.mu.Unlock()
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return PlayerSample{}, fmt.Errorf("memory info: %w", err)
	}
	s := PlayerSample{Tile: tile, PID: pid, RSS: mem.RSS, Timestamp: now}
	if cpu, err := p.Percent(0); err == nil {
		s.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		s.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}

// Latest returns the most recent sample for tile.
func (c *PlayerCollector) Latest(tile string) (PlayerSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[tile]
	if len(h) == 0 {
		return PlayerSample{}, false
	}
	return h[len(h)-1], true
}

// History returns a copy of tile's samples, oldest first.
func (c *PlayerCollector) History(tile string) []PlayerSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]PlayerSample(nil), c.history[tile]...)
}

// All returns the latest sample of every tile.
func (c *PlayerCollector) All() map[string]PlayerSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]PlayerSample, len(c.history))
	for tile, h := range c.history {
		if len(h) > 0 {
			out[tile] = h[len(h)-1]
		}
	}
	return out
}
