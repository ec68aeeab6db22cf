// Package engine provides speech-to-text backends behind one surface.
//
// Supported backends:
//   - whisper: whisper.cpp via Go bindings, model resident in-process
//   - script: external interpreter-driven recognizer, optionally fronted
//     by its own preload daemon
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Backend selects an engine implementation family.
type Backend string

const (
	BackendWhisper Backend = "whisper"
	BackendScript  Backend = "script"
)

// ParseBackend normalizes a backend name, accepting the aliases the CLI
// has historically taken.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "", "whisper", "whisper-cpp", "cpp":
		return BackendWhisper, nil
	case "script", "faster-whisper", "faster":
		return BackendScript, nil
	default:
		return "", fmt.Errorf("engine: unknown backend %q (supported: whisper, script)", name)
	}
}

// Params identify a loaded engine handle. A handle is rebuilt only when the
// requested params differ from the loaded ones.
type Params struct {
	Model     string // model name as requested, e.g. "base.en"
	ModelPath string // resolved local path (whisper backend)
	Backend   Backend
	Accel     string // opaque acceleration tag, resolved at deployment time
	Language  string
}

// Equal reports whether two parameter sets name the same handle.
func (p Params) Equal(o Params) bool {
	return p.Model == o.Model && p.Backend == o.Backend && p.Accel == o.Accel
}

// Engine converts a finite audio buffer to text. Loading a model is the
// dominant latency cost; a constructed Engine is cheap to reuse across many
// transcriptions. Implementations are not safe for concurrent Transcribe
// calls; the session serializes access.
type Engine interface {
	// Transcribe converts mono 16kHz float32 samples to trimmed text.
	// An empty string with a nil error means no speech was recognized.
	Transcribe(ctx context.Context, samples []float32) (string, error)
	// Params returns the parameters the engine was constructed with.
	Params() Params
	// Close releases backend resources.
	Close() error
}

// Factory constructs an Engine for the given parameters.
type Factory func(Params) (Engine, error)

// ErrLoad marks failures constructing a handle (model missing or unreadable),
// as opposed to failures during inference.
var ErrLoad = errors.New("engine load failed")

// New creates an Engine based on the backend tag.
func New(p Params, script ScriptConfig) (Engine, error) {
	switch p.Backend {
	case BackendScript:
		return NewScript(p, script)
	case BackendWhisper, "":
		return NewWhisper(p)
	default:
		return nil, fmt.Errorf("engine: unknown backend %q (supported: whisper, script)", p.Backend)
	}
}
