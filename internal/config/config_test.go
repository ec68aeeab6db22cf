package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv neutralizes ambient overrides so the test sees only file and
// built-in values.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvModel, EnvBackend, EnvAccel, EnvSocket, EnvScriptSocket} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	if cfg.Model != "base.en" {
		t.Errorf("Model = %q, want %q", cfg.Model, "base.en")
	}
	if cfg.Backend != "whisper" {
		t.Errorf("Backend = %q, want %q", cfg.Backend, "whisper")
	}
	if cfg.Accel != "cpu" {
		t.Errorf("Accel = %q, want %q", cfg.Accel, "cpu")
	}
	if cfg.SocketPath != "/tmp/whisp-away-daemon.sock" {
		t.Errorf("SocketPath = %q, want the well-known address", cfg.SocketPath)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Audio.Channels = %d, want 1", cfg.Audio.Channels)
	}
	if cfg.Inject.Method != "type" {
		t.Errorf("Inject.Method = %q, want %q", cfg.Inject.Method, "type")
	}
	if cfg.Hotkey.Mode != "hold" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "hold")
	}
	if got := cfg.Timeout.Transcribe(); got != 60*time.Second {
		t.Errorf("Timeout.Transcribe() = %v, want 60s", got)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model: small.en
backend: script
accel: vulkan
script:
  command: "python3 /opt/wa/transcribe.py"
audio:
  sample_rate: 16000
hotkey:
  keys: [ctrl, space]
  mode: toggle
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model != "small.en" {
		t.Errorf("Model = %q, want %q", cfg.Model, "small.en")
	}
	if cfg.Backend != "script" {
		t.Errorf("Backend = %q, want %q", cfg.Backend, "script")
	}
	if cfg.Accel != "vulkan" {
		t.Errorf("Accel = %q, want %q", cfg.Accel, "vulkan")
	}
	if cfg.Script.Command != "python3 /opt/wa/transcribe.py" {
		t.Errorf("Script.Command = %q", cfg.Script.Command)
	}
	if cfg.Hotkey.Mode != "toggle" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "toggle")
	}

	// Unset fields keep their defaults.
	if cfg.SocketPath != DefaultSocketPath() {
		t.Errorf("SocketPath = %q, want default", cfg.SocketPath)
	}
	if cfg.Timeout.TranscribeSec != 60 {
		t.Errorf("Timeout.TranscribeSec = %d, want 60", cfg.Timeout.TranscribeSec)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvModel, "large-v3")
	t.Setenv(EnvBackend, "script")
	t.Setenv(EnvAccel, "cuda")
	t.Setenv(EnvSocket, "/tmp/wa-test.sock")
	t.Setenv(EnvScriptSocket, "/tmp/wa-script.sock")

	cfg := Default()
	if cfg.Model != "large-v3" {
		t.Errorf("Model = %q, want env override", cfg.Model)
	}
	if cfg.Backend != "script" {
		t.Errorf("Backend = %q, want env override", cfg.Backend)
	}
	if cfg.Accel != "cuda" {
		t.Errorf("Accel = %q, want env override", cfg.Accel)
	}
	if cfg.SocketPath != "/tmp/wa-test.sock" {
		t.Errorf("SocketPath = %q, want env override", cfg.SocketPath)
	}
	if cfg.Script.SocketPath != "/tmp/wa-script.sock" {
		t.Errorf("Script.SocketPath = %q, want env override", cfg.Script.SocketPath)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model: tiny.en\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvModel, "medium.en")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model != "medium.en" {
		t.Errorf("Model = %q, env must beat the file", cfg.Model)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("models_dir: ~/models\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	home, _ := os.UserHomeDir()
	if !strings.HasPrefix(cfg.ModelsDir, home) {
		t.Errorf("ModelsDir = %q, want tilde expanded under %q", cfg.ModelsDir, home)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty model", func(c *Config) { c.Model = "" }},
		{"bad backend", func(c *Config) { c.Backend = "dragon" }},
		{"empty socket", func(c *Config) { c.SocketPath = "" }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"stereo", func(c *Config) { c.Audio.Channels = 2 }},
		{"bad inject method", func(c *Config) { c.Inject.Method = "telepathy" }},
		{"no hotkeys", func(c *Config) { c.Hotkey.Keys = nil }},
		{"bad hotkey mode", func(c *Config) { c.Hotkey.Mode = "tap" }},
		{"zero timeout", func(c *Config) { c.Timeout.TranscribeSec = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}
