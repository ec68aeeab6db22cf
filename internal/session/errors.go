package session

import (
	"errors"
	"fmt"

	"github.com/vzctl/whisp-away/internal/engine"
)

// Failure classes crossing the IPC boundary. Every failure leaves the
// session in Idle.
var (
	// ErrConflict means the command is invalid for the current state:
	// Start while not Idle, Stop while Idle, model swap while busy.
	ErrConflict = errors.New("conflict with current session state")

	// ErrTimeout means the engine call did not resolve within the
	// configured bound. The handle is dropped as suspect.
	ErrTimeout = errors.New("transcription timed out")
)

// DeviceError wraps audio input failures. The session stays in (or returns
// to) Idle.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("audio device: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// EngineError wraps model load and inference failures, including timeouts.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string { return fmt.Sprintf("engine: %v", e.Err) }
func (e *EngineError) Unwrap() error { return e.Err }

// Kind strings used on the wire to classify failures.
const (
	KindConflict = "conflict"
	KindDevice   = "device"
	KindEngine   = "engine"
	KindTimeout  = "timeout"
	KindInternal = "internal"
)

// Classify maps an error to its wire kind.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		var de *DeviceError
		if errors.As(err, &de) {
			return KindDevice
		}
		var ee *EngineError
		if errors.As(err, &ee) {
			return KindEngine
		}
		if errors.Is(err, engine.ErrLoad) {
			return KindEngine
		}
		return KindInternal
	}
}
