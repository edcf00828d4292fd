package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/viewport/internal/env"
	"github.com/loykin/viewport/internal/logger"
	tlsx "github.com/loykin/viewport/internal/tls"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// VIEWPORT_SUPERVISOR_POLL_INTERVAL=5s.
const EnvPrefix = "VIEWPORT"

// Config represents the top-level TOML structure.
//
//	layout = "/home/pi/viewport_config.json"   # shorthand for [supervisor].layout
//	env_files = ["/etc/viewport/player.env"]
//
//	[supervisor]
//	poll_interval = "10s"
//	cooldown = "10s"
//	rogue_policy = "report"
//
//	[probe]
//	kind = "auto"
//
//	[history]
//	sinks = ["sqlite:///var/lib/viewport/events.db"]
type Config struct {
	Env        []string         `toml:"env" mapstructure:"env"`
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Probe      ProbeConfig      `toml:"probe" mapstructure:"probe"`
	Player     PlayerConfig     `toml:"player" mapstructure:"player"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`

	path string
}

type SupervisorConfig struct {
	Layout         string        `toml:"layout" mapstructure:"layout"`
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	Cooldown       time.Duration `toml:"cooldown" mapstructure:"cooldown"`
	NoCooldown     bool          `toml:"no_cooldown" mapstructure:"no_cooldown"`
	MaxRestarts    int           `toml:"max_restarts" mapstructure:"max_restarts"`
	RoguePolicy    string        `toml:"rogue_policy" mapstructure:"rogue_policy"`
	GracePeriod    time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	TerminateGrace time.Duration `toml:"terminate_grace" mapstructure:"terminate_grace"`
	StaleInterval  time.Duration `toml:"stale_interval" mapstructure:"stale_interval"`
	MaxAge         time.Duration `toml:"max_age" mapstructure:"max_age"`
}

type ProbeConfig struct {
	Kind          string        `toml:"kind" mapstructure:"kind"`
	Timeout       time.Duration `toml:"timeout" mapstructure:"timeout"`
	Concurrency   int           `toml:"concurrency" mapstructure:"concurrency"`
	FFProbe       string        `toml:"ffprobe" mapstructure:"ffprobe"`
	RTSPTransport string        `toml:"rtsp_transport" mapstructure:"rtsp_transport"`
}

type PlayerConfig struct {
	Binary       string   `toml:"binary" mapstructure:"binary"`
	Names        []string `toml:"names" mapstructure:"names"`
	Args         []string `toml:"args" mapstructure:"args"`
	ScreenWidth  int      `toml:"screen_width" mapstructure:"screen_width"`
	ScreenHeight int      `toml:"screen_height" mapstructure:"screen_height"`
	WorkDir      string   `toml:"workdir" mapstructure:"workdir"`
}

// LogConfig covers both the daemon log and the per-tile player output files.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Path       string `toml:"path" mapstructure:"path"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	Sinks        []string      `toml:"sinks" mapstructure:"sinks"`
	QueueSize    int           `toml:"queue_size" mapstructure:"queue_size"`
	WriteTimeout time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
}

type ServerConfig struct {
	Enabled  bool        `toml:"enabled" mapstructure:"enabled"`
	Listen   string      `toml:"listen" mapstructure:"listen"`
	BasePath string      `toml:"base_path" mapstructure:"base_path"`
	TLS      tlsx.Config `toml:"tls" mapstructure:"tls"`
}

// MetricsConfig controls the per-player resource sampler behind the
// viewport_player_* gauges.
type MetricsConfig struct {
	Enabled    bool          `toml:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	MaxHistory int           `toml:"max_history" mapstructure:"max_history"`
}

// DefaultPlayerArgs are the low-latency mpv flags used when [player].args is unset.
var DefaultPlayerArgs = []string{
	"--no-border",
	"--no-audio",
	"--no-terminal",
	"--profile=low-latency",
	"--untimed",
	"--rtsp-transport=tcp",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("layout", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)

	v.SetDefault("supervisor.layout", "viewport_config.json")
	v.SetDefault("supervisor.poll_interval", 10*time.Second)
	v.SetDefault("supervisor.cooldown", 10*time.Second)
	v.SetDefault("supervisor.no_cooldown", false)
	v.SetDefault("supervisor.max_restarts", 3)
	v.SetDefault("supervisor.rogue_policy", "report")
	v.SetDefault("supervisor.grace_period", 4*time.Second)
	v.SetDefault("supervisor.terminate_grace", 1500*time.Millisecond)
	v.SetDefault("supervisor.stale_interval", 30*time.Minute)
	v.SetDefault("supervisor.max_age", 24*time.Hour)

	v.SetDefault("probe.kind", "auto")
	v.SetDefault("probe.timeout", 8*time.Second)
	v.SetDefault("probe.concurrency", 4)
	v.SetDefault("probe.ffprobe", "ffprobe")
	v.SetDefault("probe.rtsp_transport", "tcp")

	v.SetDefault("player.binary", "mpv")
	v.SetDefault("player.names", []string{})
	v.SetDefault("player.args", DefaultPlayerArgs)
	v.SetDefault("player.screen_width", 3840)
	v.SetDefault("player.screen_height", 2160)
	v.SetDefault("player.workdir", "")

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.path", "")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.queue_size", 256)
	v.SetDefault("history.write_timeout", 200*time.Millisecond)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.auto_generate", true)
	v.SetDefault("server.tls.min_version", "1.3")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", 15*time.Second)
	v.SetDefault("metrics.max_history", 60)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// legacy display scripts read the wall resolution from WIDTH/HEIGHT
	_ = v.BindEnv("player.screen_width", EnvPrefix+"_PLAYER_SCREEN_WIDTH", "WIDTH")
	_ = v.BindEnv("player.screen_height", EnvPrefix+"_PLAYER_SCREEN_HEIGHT", "HEIGHT")
	return v
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// only environment overrides can fail here; fall back to pure defaults
		v := viper.New()
		setDefaults(v)
		cfg = &Config{}
		_ = v.Unmarshal(cfg)
	}
	return cfg
}

// Load reads a TOML config file (optional) and applies defaults and
// VIEWPORT_* environment overrides. Relative layout paths resolve against
// the config file's directory.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if top := v.GetString("layout"); top != "" {
		c.Supervisor.Layout = top
	}
	c.path = path
	if path != "" && c.Supervisor.Layout != "" && !filepath.IsAbs(c.Supervisor.Layout) {
		c.Supervisor.Layout = filepath.Join(filepath.Dir(path), c.Supervisor.Layout)
	}
	if path != "" {
		base := filepath.Dir(path)
		for _, p := range []*string{&c.Server.TLS.Dir, &c.Server.TLS.CertFile, &c.Server.TLS.KeyFile} {
			if *p != "" && !filepath.IsAbs(*p) {
				*p = filepath.Join(base, *p)
			}
		}
	}
	if len(c.Player.Names) == 0 && c.Player.Binary != "" {
		c.Player.Names = []string{filepath.Base(c.Player.Binary)}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Path is the file the config was loaded from ("" for defaults).
func (c *Config) Path() string { return c.path }

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	s := c.Supervisor
	if s.Layout == "" {
		errs = append(errs, errors.New("supervisor.layout is required"))
	}
	if s.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.poll_interval must be positive, got %s", s.PollInterval))
	}
	if s.Cooldown < 0 || (s.Cooldown == 0 && !s.NoCooldown) {
		errs = append(errs, fmt.Errorf("supervisor.cooldown must be positive (set no_cooldown to disable it), got %s", s.Cooldown))
	}
	if s.MaxRestarts < 1 {
		errs = append(errs, fmt.Errorf("supervisor.max_restarts must be >= 1, got %d", s.MaxRestarts))
	}
	switch s.RoguePolicy {
	case "report", "terminate":
	default:
		errs = append(errs, fmt.Errorf("supervisor.rogue_policy must be report or terminate, got %q", s.RoguePolicy))
	}
	if s.StaleInterval <= 0 || s.MaxAge <= 0 {
		errs = append(errs, errors.New("supervisor.stale_interval and supervisor.max_age must be positive"))
	}
	switch c.Probe.Kind {
	case "auto", "ffprobe", "rtsp", "tcp", "none":
	default:
		errs = append(errs, fmt.Errorf("probe.kind %q is not one of auto, ffprobe, rtsp, tcp, none", c.Probe.Kind))
	}
	if c.Probe.Timeout <= 0 || c.Probe.Timeout > 10*time.Second {
		errs = append(errs, fmt.Errorf("probe.timeout must be in (0s, 10s], got %s", c.Probe.Timeout))
	}
	if c.Probe.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("probe.concurrency must be >= 1, got %d", c.Probe.Concurrency))
	}
	if c.Player.Binary == "" {
		errs = append(errs, errors.New("player.binary is required"))
	}
	if c.Player.ScreenWidth <= 0 || c.Player.ScreenHeight <= 0 {
		errs = append(errs, fmt.Errorf("player screen size must be positive, got %dx%d", c.Player.ScreenWidth, c.Player.ScreenHeight))
	}
	if c.History.WriteTimeout <= 0 {
		errs = append(errs, errors.New("history.write_timeout must be positive"))
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
		errs = append(errs, errors.New("server.tls needs cert_file and key_file, or dir"))
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		errs = append(errs, errors.New("metrics.interval must be positive"))
	}
	return errors.Join(errs...)
}

// Logger converts the [log] section into logger.Config.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(l.Level),
			Format:     logger.Format(l.Format),
			Color:      l.Color,
			TimeStamps: l.Timestamps,
			Source:     l.Source,
			Path:       l.Path,
		},
		File: logger.FileConfig{
			Dir:        l.Dir,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// PlayerEnv merges the environment for player processes: OS env (when
// use_os_env), then env_files in order, then the top-level env list.
func (c *Config) PlayerEnv() (*env.Env, error) {
	pairs := make([]string, 0, len(c.Env))
	for _, p := range c.EnvFiles {
		fp, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		pairs = append(pairs, fp...)
	}
	pairs = append(pairs, c.Env...)
	return env.FromPairs(c.UseOSEnv, pairs), nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in file order.
// Lines starting with # are ignored; an optional "export " prefix is stripped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}
