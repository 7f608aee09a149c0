// Package config loads the client configuration from defaults, an optional
// YAML file and BRAINWAVE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BRAINWAVE_SERVER_URL.
const EnvPrefix = "BRAINWAVE"

// Config is the complete client configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Model   string        `mapstructure:"model" validate:"required"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Store   StoreConfig   `mapstructure:"store"`
	Timing  TimingConfig  `mapstructure:"timing"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	UI      UIConfig      `mapstructure:"ui"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	URL              string        `mapstructure:"url" validate:"required,url"`
	HTTPURL          string        `mapstructure:"http_url" validate:"required,url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	SampleRate   int `mapstructure:"sample_rate" validate:"eq=24000"`
	Channels     int `mapstructure:"channels" validate:"eq=1"`
	FrameSamples int `mapstructure:"frame_samples" validate:"gt=0"`
	BlockSize    int `mapstructure:"block_size" validate:"gte=0"`
}

// StoreConfig locates the session store and bounds its size.
type StoreConfig struct {
	Path        string `mapstructure:"path" validate:"required"`
	MaxSessions int    `mapstructure:"max_sessions" validate:"gt=0"`
	MaxBytes    int64  `mapstructure:"max_bytes" validate:"gt=0"`
}

// TimingConfig holds the fixed delays of the recording lifecycle.
type TimingConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	StopDrain      time.Duration `mapstructure:"stop_drain" validate:"gte=0"`
	StopSettle     time.Duration `mapstructure:"stop_settle" validate:"gte=0"`
	ReplaySettle   time.Duration `mapstructure:"replay_settle" validate:"gte=0"`
	ReplayPoll     time.Duration `mapstructure:"replay_poll" validate:"gt=0"`
}

// ReplayConfig controls replay behaviour.
type ReplayConfig struct {
	Pacing bool `mapstructure:"pacing"`
}

// UIConfig controls the terminal interface.
type UIConfig struct {
	AutoCopy  bool `mapstructure:"auto_copy"`
	AutoStart bool `mapstructure:"auto_start"`
}

// LoggingConfig controls the log sink. File "-" logs to stderr.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file" validate:"required"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Dir returns the per-user data directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".brainwave")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			URL:              "ws://localhost:3005/api/v1/ws",
			HTTPURL:          "http://localhost:3005/api/v1",
			HandshakeTimeout: 10 * time.Second,
		},
		Model: "gpt-realtime-mini-2025-12-15",
		Audio: AudioConfig{
			SampleRate:   24000,
			Channels:     1,
			FrameSamples: 24000,
			BlockSize:    4096,
		},
		Store: StoreConfig{
			Path:        filepath.Join(Dir(), "sessions.sqlite"),
			MaxSessions: 5,
			MaxBytes:    100 * 1024 * 1024,
		},
		Timing: TimingConfig{
			ReconnectDelay: time.Second,
			StopDrain:      100 * time.Millisecond,
			StopSettle:     500 * time.Millisecond,
			ReplaySettle:   200 * time.Millisecond,
			ReplayPoll:     100 * time.Millisecond,
		},
		UI: UIConfig{AutoCopy: true},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(Dir(), "brainwave.log"),
		},
	}
}

// Load reads the configuration. An empty path means DefaultPath, which may
// be missing; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)
	if cfg.Logging.File != "-" {
		cfg.Logging.File = expandHome(cfg.Logging.File)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	for key, value := range flatten("", Default().toMap()) {
		v.SetDefault(key, value)
	}
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// toMap renders the config with durations as strings, the form used both
// for viper defaults and for the file written by Write.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"url":               c.Server.URL,
			"http_url":          c.Server.HTTPURL,
			"handshake_timeout": c.Server.HandshakeTimeout.String(),
		},
		"model": c.Model,
		"audio": map[string]any{
			"sample_rate":   c.Audio.SampleRate,
			"channels":      c.Audio.Channels,
			"frame_samples": c.Audio.FrameSamples,
			"block_size":    c.Audio.BlockSize,
		},
		"store": map[string]any{
			"path":         c.Store.Path,
			"max_sessions": c.Store.MaxSessions,
			"max_bytes":    c.Store.MaxBytes,
		},
		"timing": map[string]any{
			"reconnect_delay": c.Timing.ReconnectDelay.String(),
			"stop_drain":      c.Timing.StopDrain.String(),
			"stop_settle":     c.Timing.StopSettle.String(),
			"replay_settle":   c.Timing.ReplaySettle.String(),
			"replay_poll":     c.Timing.ReplayPoll.String(),
		},
		"replay": map[string]any{
			"pacing": c.Replay.Pacing,
		},
		"ui": map[string]any{
			"auto_copy":  c.UI.AutoCopy,
			"auto_start": c.UI.AutoStart,
		},
		"logging": map[string]any{
			"level": c.Logging.Level,
			"file":  c.Logging.File,
		},
		"metrics": map[string]any{
			"addr": c.Metrics.Addr,
		},
	}
}

// YAML renders c in the config file format.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.toMap())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Write saves c as YAML at path. It refuses to overwrite an existing file.
func Write(path string, c Config) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}

var validate = validator.New()

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if err := validate.Struct(&c.Audio); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := validate.Struct(&c.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := validate.Struct(&c.Timing); err != nil {
		return fmt.Errorf("timing config: %w", err)
	}
	if err := validate.Struct(&c.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := validate.Struct(&c.Metrics); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

// Validate checks the server section, including the websocket scheme.
func (s *ServerConfig) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url must use ws or wss, got %q", u.Scheme)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
