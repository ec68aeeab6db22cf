package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/vzctl/whisp-away/internal/audio"
)

// ScriptConfig describes how to reach the scripted recognizer.
type ScriptConfig struct {
	// Command is the interpreter command line to run per transcription,
	// e.g. "python3 /opt/whisp-away/transcribe.py". The audio path and
	// model name are appended as arguments; the transcript is read from
	// stdout.
	Command string
	// SocketPath is the scripted engine's own preload daemon socket.
	// When set, transcription is first attempted there; the command is
	// the fallback when the daemon is unreachable.
	SocketPath string
	// SampleRate of the WAV handed to the script.
	SampleRate int
}

// ScriptEngine delegates transcription to an interpreter-driven recognizer
// across a narrow contract: write a WAV in, read text out. The scripted side
// may keep its own model resident behind SocketPath, mirroring the main
// daemon's preload discipline.
type ScriptEngine struct {
	params Params
	cfg    ScriptConfig
	argv   []string
}

// scriptRequest and scriptResponse form the wire contract with the scripted
// engine's preload daemon: one JSON object per connection, each way.
type scriptRequest struct {
	AudioPath string `json:"audio_path"`
	Model     string `json:"model,omitempty"`
}

type scriptResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error"`
}

// NewScript creates a scripted engine. At least one of Command and
// SocketPath must be configured.
func NewScript(p Params, cfg ScriptConfig) (*ScriptEngine, error) {
	if cfg.Command == "" && cfg.SocketPath == "" {
		return nil, fmt.Errorf("engine: script backend needs a command or daemon socket: %w", ErrLoad)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}

	var argv []string
	if cfg.Command != "" {
		args, err := shellwords.Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("engine: parse script command: %w: %w", ErrLoad, err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("engine: script command is empty: %w", ErrLoad)
		}
		argv = args
	}

	return &ScriptEngine{params: p, cfg: cfg, argv: argv}, nil
}

// Params returns the parameters the engine was constructed with.
func (e *ScriptEngine) Params() Params { return e.params }

// Close is a no-op; the scripted side owns its own model residency.
func (e *ScriptEngine) Close() error { return nil }

// Transcribe writes the samples to a temporary WAV and hands it to the
// scripted recognizer, preferring its preload daemon when one is reachable.
func (e *ScriptEngine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	wavFile, err := os.CreateTemp("", "whisp-away-*.wav")
	if err != nil {
		return "", fmt.Errorf("engine: temp file: %w", err)
	}
	wavPath := wavFile.Name()
	wavFile.Close()
	defer os.Remove(wavPath)

	if err := audio.WriteWAV(wavPath, samples, e.cfg.SampleRate); err != nil {
		return "", fmt.Errorf("engine: %w", err)
	}

	if e.cfg.SocketPath != "" {
		text, err := e.transcribeDaemon(ctx, wavPath)
		if err == nil {
			return text, nil
		}
		if e.argv == nil || !isConnectError(err) {
			return "", err
		}
		// Daemon unreachable, fall through to direct execution.
	}

	return e.transcribeExec(ctx, wavPath)
}

// transcribeDaemon sends the audio path to the scripted engine's preload
// daemon over its unix socket: one request, one response, one connection.
func (e *ScriptEngine) transcribeDaemon(ctx context.Context, wavPath string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", e.cfg.SocketPath)
	if err != nil {
		return "", fmt.Errorf("engine: connect script daemon: %w: %w", errConnect, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := scriptRequest{AudioPath: wavPath, Model: e.params.Model}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return "", fmt.Errorf("engine: send script request: %w", err)
	}

	var resp scriptResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return "", fmt.Errorf("engine: read script response: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("engine: script daemon: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Text), nil
}

// transcribeExec runs the configured command directly, paying the model
// load cost on every call.
func (e *ScriptEngine) transcribeExec(ctx context.Context, wavPath string) (string, error) {
	args := append(append([]string{}, e.argv[1:]...), wavPath, e.params.Model)
	cmd := exec.CommandContext(ctx, e.argv[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("engine: script command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

var errConnect = errors.New("script daemon unreachable")

// isConnectError reports whether err came from failing to reach the script
// daemon, as opposed to a failure it reported.
func isConnectError(err error) bool {
	return errors.Is(err, errConnect)
}
