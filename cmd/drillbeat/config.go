package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"drillbeat/internal/audio"
	"drillbeat/internal/engine"
)

// Config is the top-level YAML configuration for the drillbeat daemon.
//
// The config file is the primary configuration surface; flags exist for small
// overrides. Defaults and validation live here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Audio output
	Audio AudioConfig `yaml:"audio"`

	// Cue scheduling
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Drill file (patterns, reloads, wait)
	Drill DrillConfig `yaml:"drill"`

	// IPC configuration (drillctl and scripts)
	IPC IPCConfig `yaml:"ipc"`

	// HTTP server (state WebSocket)
	HTTP HTTPConfig `yaml:"http"`

	// Media-key input devices
	Input InputConfig `yaml:"input"`

	// Daemon loop
	Daemon DaemonConfig `yaml:"daemon"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type AudioConfig struct {
	Backend    string `yaml:"backend"` // "oto" or "headless"
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Limiter    bool   `yaml:"limiter"`
}

type SchedulerConfig struct {
	HorizonSec float64 `yaml:"horizon_sec"`
	TopUpMS    int     `yaml:"topup_ms"`
	HeadroomMS int     `yaml:"headroom_ms"`
}

type DrillConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Port   int    `yaml:"port"` // 0 disables the HTTP server
	WSPath string `yaml:"ws_path"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"`
}

type DaemonConfig struct {
	UpdateHz       int     `yaml:"update_hz"`
	StartTimeoutMS int     `yaml:"start_timeout_ms"`
	VolumeStep     float64 `yaml:"volume_step"`
	Volume         float64 `yaml:"volume"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Audio backends
const (
	backendOto      = "oto"
	backendHeadless = "headless"
)

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go and engine.DefaultConfig.
func DefaultConfig() Config {
	sched := engine.DefaultConfig()
	return Config{
		Audio: AudioConfig{
			Backend:    backendOto,
			SampleRate: defaultSampleRate,
			Channels:   defaultChannels,
			Limiter:    sched.Limiter,
		},
		Scheduler: SchedulerConfig{
			HorizonSec: sched.Horizon.Seconds(),
			TopUpMS:    int(sched.TopUpInterval / time.Millisecond),
			HeadroomMS: int(sched.StartHeadroom / time.Millisecond),
		},
		Drill: DrillConfig{
			Watch: true,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		HTTP: HTTPConfig{
			Port:   defaultHTTPPort,
			WSPath: defaultWSPath,
		},
		Daemon: DaemonConfig{
			UpdateHz:       defaultUpdateHz,
			StartTimeoutMS: defaultStartTimeoutMS,
			VolumeStep:     defaultVolumeStep,
			Volume:         defaultVolume,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected via KnownFields(true), and only one YAML document is
// allowed.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flag values that override the config file.
//
// A nil pointer means the flag was not set; a non-nil pointer is applied even when it
// holds a zero value. main.go decides which flags exist.
type FlagOverrides struct {
	AudioBackend    *string
	AudioSampleRate *int
	AudioLimiter    *bool

	SchedHorizonSec *float64
	SchedTopUpMS    *int
	SchedHeadroomMS *int

	DrillFile  *string
	DrillWatch *bool

	IPCSocketPath *string
	HTTPPort      *int

	InputDevice *string

	UpdateHz *int
	Volume   *float64

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.AudioBackend != nil {
		cfg.Audio.Backend = *o.AudioBackend
	}
	if o.AudioSampleRate != nil {
		cfg.Audio.SampleRate = *o.AudioSampleRate
	}
	if o.AudioLimiter != nil {
		cfg.Audio.Limiter = *o.AudioLimiter
	}

	if o.SchedHorizonSec != nil {
		cfg.Scheduler.HorizonSec = *o.SchedHorizonSec
	}
	if o.SchedTopUpMS != nil {
		cfg.Scheduler.TopUpMS = *o.SchedTopUpMS
	}
	if o.SchedHeadroomMS != nil {
		cfg.Scheduler.HeadroomMS = *o.SchedHeadroomMS
	}

	if o.DrillFile != nil {
		cfg.Drill.File = *o.DrillFile
	}
	if o.DrillWatch != nil {
		cfg.Drill.Watch = *o.DrillWatch
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.InputDevice != nil {
		if *o.InputDevice == "" {
			cfg.Input.Devices = nil
		} else {
			cfg.Input.Devices = []string{*o.InputDevice}
		}
	}

	if o.UpdateHz != nil {
		cfg.Daemon.UpdateHz = *o.UpdateHz
	}
	if o.Volume != nil {
		cfg.Daemon.Volume = *o.Volume
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Audio
	switch c.Audio.Backend {
	case backendOto, backendHeadless:
	default:
		return fmt.Errorf("audio.backend must be %q or %q", backendOto, backendHeadless)
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return errors.New("audio.sample_rate must be between 8000 and 192000")
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return errors.New("audio.channels must be 1 or 2")
	}

	// Scheduler
	if !finite(c.Scheduler.HorizonSec) || c.Scheduler.HorizonSec <= 0 {
		return errors.New("scheduler.horizon_sec must be > 0")
	}
	if c.Scheduler.TopUpMS <= 0 {
		return errors.New("scheduler.topup_ms must be > 0")
	}
	if float64(c.Scheduler.TopUpMS)/1000 >= c.Scheduler.HorizonSec {
		return errors.New("scheduler.topup_ms must be shorter than scheduler.horizon_sec")
	}
	if c.Scheduler.HeadroomMS < 0 {
		return errors.New("scheduler.headroom_ms must be >= 0")
	}

	// IPC / HTTP
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}
	if c.HTTP.Port > 0 && (c.HTTP.WSPath == "" || c.HTTP.WSPath[0] != '/') {
		return errors.New("http.ws_path must start with /")
	}

	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	// Daemon
	if c.Daemon.UpdateHz <= 0 || c.Daemon.UpdateHz > 1000 {
		return errors.New("daemon.update_hz must be between 1 and 1000")
	}
	if c.Daemon.StartTimeoutMS <= 0 {
		return errors.New("daemon.start_timeout_ms must be > 0")
	}
	if !finite(c.Daemon.VolumeStep) || c.Daemon.VolumeStep <= 0 || c.Daemon.VolumeStep > 1 {
		return errors.New("daemon.volume_step must be in (0, 1]")
	}
	if !finite(c.Daemon.Volume) || c.Daemon.Volume < 0 || c.Daemon.Volume > 1 {
		return errors.New("daemon.volume must be in [0, 1]")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := parseLogFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}

	return nil
}

// ToSchedulerConfig converts the file config into the engine's scheduler config.
func (c *Config) ToSchedulerConfig() engine.Config {
	return engine.Config{
		Horizon:       time.Duration(c.Scheduler.HorizonSec * float64(time.Second)),
		TopUpInterval: time.Duration(c.Scheduler.TopUpMS) * time.Millisecond,
		StartHeadroom: time.Duration(c.Scheduler.HeadroomMS) * time.Millisecond,
		Limiter:       c.Audio.Limiter,
	}
}

// ToDeviceConfig returns the output device parameters.
func (c *Config) ToDeviceConfig() audio.DeviceConfig {
	return audio.DeviceConfig{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
	}
}

// ToReduceConfig returns the reducer's tuning.
func (c *Config) ToReduceConfig() ReduceConfig {
	return ReduceConfig{VolumeStep: c.Daemon.VolumeStep}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
