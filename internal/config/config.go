package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized on top of the config file. Flags beat
// env, env beats file, file beats built-in defaults.
const (
	EnvModel        = "WA_MODEL"
	EnvBackend      = "WA_BACKEND"
	EnvAccel        = "WA_ACCEL"
	EnvSocket       = "WA_SOCKET"
	EnvScriptSocket = "WA_SCRIPT_SOCKET"
)

// Config holds all application configuration.
type Config struct {
	Model      string        `yaml:"model"`       // model name (e.g. "base.en") or path to a ggml file
	Backend    string        `yaml:"backend"`     // "whisper" or "script"
	Accel      string        `yaml:"accel"`       // opaque acceleration tag, resolved at deployment time
	SocketPath string        `yaml:"socket_path"` // daemon control socket
	ModelsDir  string        `yaml:"models_dir"`
	Audio      AudioConfig   `yaml:"audio"`
	Script     ScriptConfig  `yaml:"script"`
	Inject     InjectConfig  `yaml:"inject"`
	Hotkey     HotkeyConfig  `yaml:"hotkey"`
	Timeout    TimeoutConfig `yaml:"timeout"`
	LogLevel   string        `yaml:"log_level"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
}

// ScriptConfig holds settings for the scripted recognition backend.
type ScriptConfig struct {
	Command    string `yaml:"command"`     // interpreter command line, e.g. "python3 /opt/wa/transcribe.py"
	SocketPath string `yaml:"socket_path"` // preload daemon socket of the scripted engine, optional
}

// InjectConfig holds text injection settings.
type InjectConfig struct {
	Method string `yaml:"method"` // "type" or "paste"
}

// HotkeyConfig holds hotkey settings for listen mode.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
	Mode string   `yaml:"mode"` // "hold" or "toggle"
}

// TimeoutConfig bounds blocking operations.
type TimeoutConfig struct {
	TranscribeSec int `yaml:"transcribe_sec"`
}

// Transcribe returns the per-call transcription timeout.
func (t TimeoutConfig) Transcribe() time.Duration {
	return time.Duration(t.TranscribeSec) * time.Second
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "whisp-away")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the default model cache directory.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", "whisp-away", "models")
}

// DefaultSocketPath returns the well-known daemon socket address.
func DefaultSocketPath() string {
	return "/tmp/whisp-away-daemon.sock"
}

// Default returns a Config with sensible default values,
// with environment overrides already applied.
func Default() *Config {
	cfg := &Config{
		Model:      "base.en",
		Backend:    "whisper",
		Accel:      "cpu",
		SocketPath: DefaultSocketPath(),
		ModelsDir:  DefaultModelsDir(),
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Inject: InjectConfig{
			Method: "type",
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "r"},
			Mode: "hold",
		},
		Timeout: TimeoutConfig{
			TranscribeSec: 60,
		},
		LogLevel: "info",
	}
	cfg.applyEnv()
	return cfg
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults, environment variables override file values, and a leading ~ in
// path fields is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	cfg.Model = expandTilde(cfg.Model)
	cfg.ModelsDir = expandTilde(cfg.ModelsDir)

	return cfg, nil
}

// applyEnv overlays environment overrides onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvAccel); v != "" {
		c.Accel = v
	}
	if v := os.Getenv(EnvSocket); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv(EnvScriptSocket); v != "" {
		c.Script.SocketPath = v
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}

	switch c.Backend {
	case "whisper", "whisper-cpp", "cpp", "script", "faster-whisper", "faster":
	default:
		return fmt.Errorf("backend must be \"whisper\" or \"script\", got %q", c.Backend)
	}

	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must not be empty")
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels != 1 {
		return fmt.Errorf("audio.channels must be 1 (engines expect mono), got %d", c.Audio.Channels)
	}

	switch c.Inject.Method {
	case "type", "paste":
	default:
		return fmt.Errorf("inject.method must be \"type\" or \"paste\", got %q", c.Inject.Method)
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	if c.Timeout.TranscribeSec <= 0 {
		return fmt.Errorf("timeout.transcribe_sec must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
