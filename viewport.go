// Package viewport wires the video-wall supervisor daemon from a config:
// layout store, OS host, player builder, stream probes, event sinks,
// resource sampler and the HTTP API.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	cfg "github.com/loykin/viewport/internal/config"
	"github.com/loykin/viewport/internal/history"
	"github.com/loykin/viewport/internal/history/factory"
	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/metrics"
	"github.com/loykin/viewport/internal/player"
	"github.com/loykin/viewport/internal/probe"
	"github.com/loykin/viewport/internal/process"
	iapi "github.com/loykin/viewport/internal/server"
	"github.com/loykin/viewport/internal/supervisor"
	tlsx "github.com/loykin/viewport/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = supervisor.Status

type Report = supervisor.Report

type Layout = layout.Layout

type Key = layout.Key

// LoadConfig reads a TOML config; path may be empty for defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// LoadLayout parses and validates a layout file (JSON, YAML or TOML by extension).
func LoadLayout(path string) (*Layout, error) { return layout.LoadFile(path) }

// Daemon is a fully wired supervisor with its side services.
type Daemon struct {
	cfg     *Config
	log     *slog.Logger
	sup     *supervisor.Supervisor
	events  *history.Dispatcher
	players *metrics.PlayerCollector
	server  *http.Server
}

// NewDaemon builds every component described by c. Nothing runs until Run.
func NewDaemon(c *Config) (*Daemon, error) {
	if c == nil {
		return nil, errors.New("viewport: nil config")
	}
	logCfg := c.Log.Logger()
	log := logCfg.NewSlogger()

	playerEnv, err := c.PlayerEnv()
	if err != nil {
		return nil, err
	}
	host := process.NewOSHost(process.HostOptions{
		Players: c.Player.Names,
		Logs:    logCfg.File,
		Env:     playerEnv,
		Logger:  log,
	})

	sinks, err := factory.NewSinks(c.History.Sinks, logCfg.File)
	if err != nil {
		return nil, err
	}
	events := history.NewDispatcher(log, history.DispatcherOptions{
		QueueSize:    c.History.QueueSize,
		WriteTimeout: c.History.WriteTimeout,
	}, sinks...)

	opts := supervisor.Options{
		Layout: layout.NewStore(c.Supervisor.Layout),
		Host:   host,
		Launcher: player.Builder{
			Binary:       c.Player.Binary,
			Args:         c.Player.Args,
			ScreenWidth:  c.Player.ScreenWidth,
			ScreenHeight: c.Player.ScreenHeight,
			WorkDir:      c.Player.WorkDir,
		},
		Events:         events,
		Logger:         log,
		LayoutPath:     c.Supervisor.Layout,
		PollInterval:   c.Supervisor.PollInterval,
		Cooldown:       c.Supervisor.Cooldown,
		NoCooldown:     c.Supervisor.NoCooldown,
		MaxRestarts:    c.Supervisor.MaxRestarts,
		RoguePolicy:    supervisor.RoguePolicy(c.Supervisor.RoguePolicy),
		GracePeriod:    c.Supervisor.GracePeriod,
		TerminateGrace: c.Supervisor.TerminateGrace,
		StaleInterval:  c.Supervisor.StaleInterval,
		MaxAge:         c.Supervisor.MaxAge,
	}
	prober, err := probe.New(probe.Kind(c.Probe.Kind), probe.Options{
		Timeout:       c.Probe.Timeout,
		FFProbePath:   c.Probe.FFProbe,
		RTSPTransport: c.Probe.RTSPTransport,
	})
	if err != nil {
		_ = events.Close(context.Background())
		return nil, err
	}
	if prober != nil {
		opts.Prober = &probe.Pool{Prober: prober, Concurrency: c.Probe.Concurrency, Timeout: c.Probe.Timeout}
	}

	sup, err := supervisor.New(opts)
	if err != nil {
		_ = events.Close(context.Background())
		return nil, err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}
	players := metrics.NewPlayerCollector(metrics.PlayerCollectorConfig{
		Enabled:    c.Metrics.Enabled,
		Interval:   c.Metrics.Interval,
		MaxHistory: c.Metrics.MaxHistory,
	})
	if err := players.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("failed to register player metrics", "error", err)
	}

	return &Daemon{cfg: c, log: log, sup: sup, events: events, players: players}, nil
}

// Supervisor exposes the reconciliation loop for control calls.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.sup }

// Logger is the daemon logger built from [log].
func (d *Daemon) Logger() *slog.Logger { return d.log }

// Status is the snapshot of the last cycle.
func (d *Daemon) Status() Status { return d.sup.Status() }

// Reload re-reads the layout and reconciles immediately.
func (d *Daemon) Reload(ctx context.Context) error { return d.sup.Reload(ctx) }

// Reset lifts quarantine for keys, or for every tile when none are given.
func (d *Daemon) Reset(ctx context.Context, keys ...Key) (int, error) {
	return d.sup.Reset(ctx, keys...)
}

// Once runs a single reconciliation cycle without the API or sampler.
func (d *Daemon) Once(ctx context.Context) Report { return d.sup.Cycle(ctx) }

// Run starts the sampler and API server, then blocks in the supervisor loop
// until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.Server.Enabled {
		tlsCfg, err := tlsx.Setup(d.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("api tls: %w", err)
		}
		srv, err := iapi.NewServer(d.cfg.Server.Listen, d.cfg.Server.BasePath, tlsCfg, d.sup, d.players)
		if err != nil {
			return fmt.Errorf("start api server: %w", err)
		}
		d.server = srv
	}
	d.players.Start(ctx, d.sup.Players)
	return d.sup.Run(ctx)
}

// Close stops the side services and flushes queued events. Running players
// are left alone; the next daemon adopts them by marker.
func (d *Daemon) Close(ctx context.Context) error {
	var errs []error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown api server: %w", err))
		}
	}
	d.players.Stop()
	if err := d.events.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close event sinks: %w", err))
	}
	return errors.Join(errs...)
}
