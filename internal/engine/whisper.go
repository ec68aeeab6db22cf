package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperEngine wraps an in-process whisper.cpp model. The acceleration
// path (CPU-optimized, GPU vendor API) is selected when the bindings are
// built; Params.Accel is an opaque tag carried through for reporting only.
type WhisperEngine struct {
	model  whisper.Model
	params Params
}

// NewWhisper loads a whisper model from p.ModelPath.
// The caller must call Close() when done.
func NewWhisper(p Params) (*WhisperEngine, error) {
	if p.ModelPath == "" {
		return nil, fmt.Errorf("engine: whisper backend needs a model path: %w", ErrLoad)
	}
	model, err := whisper.New(p.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load whisper model %q: %w: %w", p.ModelPath, ErrLoad, err)
	}
	return &WhisperEngine{model: model, params: p}, nil
}

// Params returns the parameters the engine was constructed with.
func (e *WhisperEngine) Params() Params { return e.params }

// Close releases the whisper model resources.
func (e *WhisperEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe converts mono 16kHz float32 samples to text.
func (e *WhisperEngine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("engine: create context: %w", err)
	}

	if lang := e.params.Language; lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return "", fmt.Errorf("engine: set language %q: %w", lang, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("engine: process: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("engine: next segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}

	return strings.TrimSpace(strings.Join(segments, " ")), nil
}
