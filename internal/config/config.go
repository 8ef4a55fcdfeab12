// Package config provides configuration for txreplay runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/txreplay/internal/engine"
	"github.com/roach88/txreplay/internal/scheduler"
	"github.com/roach88/txreplay/internal/target"
)

// Sleep modes accepted in configuration.
const (
	SleepOff       = "off"
	SleepFixed     = "fixed"
	SleepThinkTime = "thinktime"
)

// Config holds the full configuration of a replay run.
type Config struct {
	// TracePath is the trace file to replay.
	TracePath string `json:"trace" yaml:"trace" toml:"trace"`

	// Threads is the number of concurrent workers.
	Threads int `json:"threads" yaml:"threads" toml:"threads"`

	// Seed drives stagger offsets and per-worker random streams.
	Seed int64 `json:"seed" yaml:"seed" toml:"seed"`

	// Repeat restarts the trace from the beginning when it is exhausted.
	Repeat bool `json:"repeat" yaml:"repeat" toml:"repeat"`

	// AllowWrite executes write statements instead of skipping them.
	AllowWrite bool `json:"allow_write" yaml:"allow_write" toml:"allow_write"`

	// DelayedStart staggers worker starts across the first half of rampup.
	DelayedStart bool `json:"delayed_start" yaml:"delayed_start" toml:"delayed_start"`

	Sleep SleepConfig `json:"sleep" yaml:"sleep" toml:"sleep"`

	Rampup   Duration `json:"rampup" yaml:"rampup" toml:"rampup"`
	Run      Duration `json:"run" yaml:"run" toml:"run"`
	Rampdown Duration `json:"rampdown" yaml:"rampdown" toml:"rampdown"`

	Target  TargetConfig  `json:"target" yaml:"target" toml:"target"`
	Output  OutputConfig  `json:"output" yaml:"output" toml:"output"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`
	Monitor MonitorConfig `json:"monitor" yaml:"monitor" toml:"monitor"`
}

// SleepConfig selects the pause after each statement.
type SleepConfig struct {
	// Mode is off, fixed, or thinktime.
	Mode string `json:"mode" yaml:"mode" toml:"mode"`

	// Fixed is the pause used in fixed mode.
	Fixed Duration `json:"fixed" yaml:"fixed" toml:"fixed"`
}

// TargetConfig describes the database under test.
type TargetConfig struct {
	Driver   string `json:"driver" yaml:"driver" toml:"driver"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	User     string `json:"user" yaml:"user" toml:"user"`
	Password string `json:"password,omitempty" yaml:"password" toml:"password"`
	Database string `json:"database" yaml:"database" toml:"database"`
	Socket   string `json:"socket" yaml:"socket" toml:"socket"`

	// DSN overrides every other field when set.
	DSN string `json:"dsn,omitempty" yaml:"dsn" toml:"dsn"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	// Report is the report file; empty or "-" means stdout.
	Report string `json:"report" yaml:"report" toml:"report"`

	// ResultsDB is an optional SQLite results database.
	ResultsDB string `json:"results_db" yaml:"results_db" toml:"results_db"`

	// Summary prints per-kind latency statistics after the run.
	Summary bool `json:"summary" yaml:"summary" toml:"summary"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

// MonitorConfig controls host resource sampling.
type MonitorConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path     string   `json:"path" yaml:"path" toml:"path"`
	Interval Duration `json:"interval" yaml:"interval" toml:"interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TracePath: "outc.txt",
		Threads:   3,
		Sleep: SleepConfig{
			Mode: SleepOff,
		},
		Rampup:   Duration(10 * time.Second),
		Run:      Duration(60 * time.Second),
		Rampdown: Duration(10 * time.Second),
		Target: TargetConfig{
			Driver:   target.DriverMySQL,
			Host:     "localhost",
			User:     "root",
			Database: "test",
			Socket:   "/tmp/mysql.sock",
		},
		Monitor: MonitorConfig{
			Path:     "monitor.log",
			Interval: Duration(time.Second),
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.TracePath == "" {
		return fmt.Errorf("trace is required")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", c.Threads)
	}

	switch c.Sleep.Mode {
	case SleepOff, SleepThinkTime:
	case SleepFixed:
		if c.Sleep.Fixed < 0 {
			return fmt.Errorf("sleep.fixed must not be negative, got %s", c.Sleep.Fixed)
		}
	default:
		return fmt.Errorf("invalid sleep mode: %s (must be off, fixed, or thinktime)", c.Sleep.Mode)
	}

	if c.Rampup < 0 || c.Rampdown < 0 {
		return fmt.Errorf("rampup and rampdown must not be negative")
	}
	if c.Run <= 0 {
		return fmt.Errorf("run must be positive, got %s", c.Run)
	}

	switch c.Target.Driver {
	case target.DriverMySQL:
		if c.Target.DSN == "" && c.Target.Database == "" {
			return fmt.Errorf("target.database is required")
		}
	case target.DriverSQLite:
		if c.Target.DSN == "" && c.Target.Database == "" {
			return fmt.Errorf("target.database is required (sqlite file path)")
		}
	default:
		return fmt.Errorf("invalid target driver: %s (must be %s or %s)",
			c.Target.Driver, target.DriverMySQL, target.DriverSQLite)
	}
	if c.Target.Port < 0 || c.Target.Port > 65535 {
		return fmt.Errorf("target.port out of range: %d", c.Target.Port)
	}

	if c.Monitor.Enabled {
		if c.Monitor.Path == "" {
			return fmt.Errorf("monitor.path is required when monitor is enabled")
		}
		if c.Monitor.Interval <= 0 {
			return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
		}
	}

	return nil
}

// SleepPolicy converts the sleep section into an engine policy.
func (c *Config) SleepPolicy() engine.SleepPolicy {
	switch c.Sleep.Mode {
	case SleepFixed:
		return engine.SleepPolicy{Mode: engine.SleepFixed, Fixed: c.Sleep.Fixed.Std()}
	case SleepThinkTime:
		return engine.SleepPolicy{Mode: engine.SleepThinkTime}
	}
	return engine.SleepPolicy{Mode: engine.SleepDisabled}
}

// SchedulerConfig converts the run shape into a scheduler configuration.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Threads:    c.Threads,
		Staggered:  c.DelayedStart,
		Seed:       c.Seed,
		Rampup:     c.Rampup.Std(),
		Run:        c.Run.Std(),
		Rampdown:   c.Rampdown.Std(),
		Repeat:     c.Repeat,
		AllowWrite: c.AllowWrite,
		Sleep:      c.SleepPolicy(),
	}
}

// TargetOptions converts the target section into connection options.
func (c *Config) TargetOptions() target.Options {
	return target.Options{
		Driver:   c.Target.Driver,
		Host:     c.Target.Host,
		Port:     c.Target.Port,
		User:     c.Target.User,
		Password: c.Target.Password,
		Database: c.Target.Database,
		Socket:   c.Target.Socket,
		DSN:      c.Target.DSN,
	}
}

// JSON returns the configuration as JSON with secrets omitted.
func (c *Config) JSON() (string, error) {
	redacted := *c
	redacted.Target.Password = ""
	redacted.Target.DSN = ""
	data, err := json.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// LoadFromFile loads configuration from a YAML, JSON, or TOML file on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown TOML config key: %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays environment variables onto cfg.
// Environment variables use the TXREPLAY_ prefix.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("TXREPLAY_TRACE"); v != "" {
		cfg.TracePath = v
	}
	if v := os.Getenv("TXREPLAY_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TXREPLAY_THREADS: %w", err)
		}
		cfg.Threads = n
	}
	if v := os.Getenv("TXREPLAY_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TXREPLAY_SEED: %w", err)
		}
		cfg.Seed = n
	}
	if v := os.Getenv("TXREPLAY_REPEAT"); v != "" {
		cfg.Repeat = v == "true" || v == "1"
	}
	if v := os.Getenv("TXREPLAY_ALLOW_WRITE"); v != "" {
		cfg.AllowWrite = v == "true" || v == "1"
	}
	if v := os.Getenv("TXREPLAY_DELAYED_START"); v != "" {
		cfg.DelayedStart = v == "true" || v == "1"
	}
	if v := os.Getenv("TXREPLAY_SLEEP_MODE"); v != "" {
		cfg.Sleep.Mode = v
	}

	durations := []struct {
		env string
		dst *Duration
	}{
		{"TXREPLAY_SLEEP_FIXED", &cfg.Sleep.Fixed},
		{"TXREPLAY_RAMPUP", &cfg.Rampup},
		{"TXREPLAY_RUN", &cfg.Run},
		{"TXREPLAY_RAMPDOWN", &cfg.Rampdown},
		{"TXREPLAY_MONITOR_INTERVAL", &cfg.Monitor.Interval},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		if err := d.dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
	}

	// Target configuration
	if v := os.Getenv("TXREPLAY_DRIVER"); v != "" {
		cfg.Target.Driver = v
	}
	if v := os.Getenv("TXREPLAY_HOST"); v != "" {
		cfg.Target.Host = v
	}
	if v := os.Getenv("TXREPLAY_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TXREPLAY_PORT: %w", err)
		}
		cfg.Target.Port = n
	}
	if v := os.Getenv("TXREPLAY_USER"); v != "" {
		cfg.Target.User = v
	}
	if v := os.Getenv("TXREPLAY_PASSWORD"); v != "" {
		cfg.Target.Password = v
	}
	if v := os.Getenv("TXREPLAY_DATABASE"); v != "" {
		cfg.Target.Database = v
	}
	if v := os.Getenv("TXREPLAY_SOCKET"); v != "" {
		cfg.Target.Socket = v
	}
	if v := os.Getenv("TXREPLAY_DSN"); v != "" {
		cfg.Target.DSN = v
	}

	// Output configuration
	if v := os.Getenv("TXREPLAY_REPORT"); v != "" {
		cfg.Output.Report = v
	}
	if v := os.Getenv("TXREPLAY_RESULTS_DB"); v != "" {
		cfg.Output.ResultsDB = v
	}
	if v := os.Getenv("TXREPLAY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("TXREPLAY_MONITOR"); v != "" {
		cfg.Monitor.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TXREPLAY_MONITOR_PATH"); v != "" {
		cfg.Monitor.Path = v
	}

	return nil
}
