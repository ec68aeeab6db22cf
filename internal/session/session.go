// Package session owns the recording state machine and the single
// capture-to-recognition pipeline. The same Session runs inside the daemon
// (engine handle persists across invocations) and standalone in a client
// process (fresh handle per call); only the engine factory differs.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzctl/whisp-away/internal/audio"
	"github.com/vzctl/whisp-away/internal/engine"
)

// State is the recording state machine position. The only transitions are
// Idle->Recording (Start), Recording->Transcribing (Stop), and
// Transcribing->Idle (engine call resolves, success or failure).
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of the session, served without taking the
// session lock so Status never waits behind a transcription.
type Snapshot struct {
	State     State
	Model     string
	Backend   engine.Backend
	Accel     string
	Loaded    bool      // an engine handle is resident
	StartedAt time.Time // recording start, zero unless Recording
}

// Options configure a Session.
type Options struct {
	// Params are the initially requested model/backend/acceleration.
	Params engine.Params
	// Timeout bounds a single engine call. Zero means one minute.
	Timeout time.Duration
	// NewEngine constructs an engine handle for the requested params.
	NewEngine engine.Factory
	// NewSource opens the audio input for one recording.
	NewSource func() (audio.Source, error)
	// Inject is the text-injection sink. May be nil. Failures are
	// reported but never affect the outcome of Stop.
	Inject func(text string) error
	Logger *slog.Logger
}

// Result is the outcome of a completed transcription.
type Result struct {
	Text  string
	Empty bool // no speech recognized (or nothing recorded)
}

// StopOptions tune a single Stop call.
type StopOptions struct {
	// AudioFile substitutes a pre-recorded WAV for the captured buffer.
	// With an AudioFile, Stop is accepted even when nothing is recording.
	AudioFile string
	// NoInject suppresses the text-injection side effect.
	NoInject bool
}

// Session is the authoritative recording state owned by one process.
// State-mutating operations (Start, Stop, Preload, Close) are single-flight:
// one resolves at a time and a second caller is rejected immediately with
// ErrConflict instead of queued.
type Session struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]

	params    engine.Params
	eng       engine.Engine
	src       audio.Source
	startedAt time.Time

	timeout   time.Duration
	newEngine engine.Factory
	newSource func() (audio.Source, error)
	inject    func(string) error
	log       *slog.Logger
}

// New creates an idle Session.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	s := &Session{
		params:    opts.Params,
		timeout:   opts.Timeout,
		newEngine: opts.NewEngine,
		newSource: opts.NewSource,
		inject:    opts.Inject,
		log:       opts.Logger,
	}
	s.publish(StateIdle)
	return s
}

// Status returns the current snapshot. It never blocks and never mutates.
func (s *Session) Status() Snapshot {
	return *s.snap.Load()
}

// Start transitions Idle->Recording and begins capture. p must be fully
// resolved; parameters differing from the loaded handle are accepted here
// (the session is Idle) and take effect on the next transcription.
// Start returns once capture is running; samples accumulate until Stop.
func (s *Session) Start(p engine.Params) error {
	if !s.mu.TryLock() {
		return fmt.Errorf("session: start: %w", ErrConflict)
	}
	defer s.mu.Unlock()

	if s.state() != StateIdle {
		return fmt.Errorf("session: start while %s: %w", s.state(), ErrConflict)
	}

	if !p.Equal(s.params) || p.Language != s.params.Language {
		// Model/backend swap, permitted while Idle only. The stale
		// handle is dropped now and rebuilt lazily on the next
		// transcription.
		if s.eng != nil {
			if err := s.eng.Close(); err != nil {
				s.log.Warn("closing replaced engine", "error", err)
			}
			s.eng = nil
		}
		s.params = p
	}

	src, err := s.newSource()
	if err != nil {
		s.publish(StateIdle)
		return fmt.Errorf("session: start: %w", &DeviceError{Err: err})
	}
	if err := src.Start(); err != nil {
		s.publish(StateIdle)
		return fmt.Errorf("session: start: %w", &DeviceError{Err: err})
	}

	s.src = src
	s.startedAt = time.Now()
	s.publish(StateRecording)
	s.log.Info("recording started", "model", p.Model, "backend", string(p.Backend), "accel", p.Accel)
	return nil
}

// Stop transitions Recording->Transcribing->Idle. It halts capture, hands
// the buffer to the engine, and blocks until a result is produced or the
// timeout elapses. Whatever happens, the session ends Idle.
func (s *Session) Stop(ctx context.Context, opts StopOptions) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, fmt.Errorf("session: stop: %w", ErrConflict)
	}
	defer s.mu.Unlock()

	if s.state() != StateRecording && opts.AudioFile == "" {
		return Result{}, fmt.Errorf("session: stop while %s: %w", s.state(), ErrConflict)
	}

	var samples []float32
	if s.state() == StateRecording {
		captured, err := s.src.Stop()
		s.src = nil
		s.startedAt = time.Time{}
		if err != nil {
			s.publish(StateIdle)
			return Result{}, fmt.Errorf("session: stop: %w", &DeviceError{Err: err})
		}
		samples = captured
	}

	if opts.AudioFile != "" {
		decoded, err := audio.ReadWAV(opts.AudioFile)
		if err != nil {
			s.publish(StateIdle)
			return Result{}, fmt.Errorf("session: stop: %w", &DeviceError{Err: err})
		}
		samples = decoded
	}

	s.publish(StateTranscribing)

	if len(samples) == 0 {
		// Nothing to recognize; the engine is not invoked.
		s.publish(StateIdle)
		s.log.Info("stop with empty buffer")
		return Result{Empty: true}, nil
	}

	eng, err := s.ensureEngine()
	if err != nil {
		s.publish(StateIdle)
		return Result{}, fmt.Errorf("session: stop: %w", err)
	}

	start := time.Now()
	text, err := s.transcribe(ctx, eng, samples)
	if err != nil {
		s.publish(StateIdle)
		return Result{}, fmt.Errorf("session: stop: %w", err)
	}

	text = strings.TrimSpace(text)
	s.publish(StateIdle)
	s.log.Info("transcription done",
		"samples", len(samples),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"empty", text == "")

	res := Result{Text: text, Empty: text == ""}
	if !res.Empty && !opts.NoInject && s.inject != nil {
		// Side effect only; a failed injection never fails the Stop.
		if err := s.inject(text); err != nil {
			s.log.Warn("text injection failed", "error", err)
		}
	}
	return res, nil
}

// Preload constructs the engine handle ahead of the first transcription.
// Only valid while Idle.
func (s *Session) Preload() error {
	if !s.mu.TryLock() {
		return fmt.Errorf("session: preload: %w", ErrConflict)
	}
	defer s.mu.Unlock()

	if s.state() != StateIdle {
		return fmt.Errorf("session: preload while %s: %w", s.state(), ErrConflict)
	}
	if _, err := s.ensureEngine(); err != nil {
		return fmt.Errorf("session: preload: %w", err)
	}
	return nil
}

// Close releases the audio source and engine handle. It waits for an
// in-flight mutating operation to finish.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src != nil {
		_, _ = s.src.Stop()
		s.src = nil
	}
	var err error
	if s.eng != nil {
		err = s.eng.Close()
		s.eng = nil
	}
	s.startedAt = time.Time{}
	s.publish(StateIdle)
	return err
}

// ensureEngine returns the resident handle, rebuilding it when the requested
// parameters differ from the loaded ones. Callers hold s.mu.
func (s *Session) ensureEngine() (engine.Engine, error) {
	if s.eng != nil && s.eng.Params().Equal(s.params) {
		return s.eng, nil
	}
	if s.eng != nil {
		if err := s.eng.Close(); err != nil {
			s.log.Warn("closing replaced engine", "error", err)
		}
		s.eng = nil
	}

	s.log.Info("loading engine", "model", s.params.Model, "backend", string(s.params.Backend), "accel", s.params.Accel)
	start := time.Now()
	eng, err := s.newEngine(s.params)
	if err != nil {
		return nil, &EngineError{Err: err}
	}
	s.log.Info("engine loaded", "elapsed", time.Since(start).Round(time.Millisecond))
	s.eng = eng
	return eng, nil
}

// transcribe runs one engine call under the configured timeout. On expiry
// the handle is dropped as suspect; the stranded call closes it once it
// finally returns. The caller always gets a resolved outcome.
func (s *Session) transcribe(ctx context.Context, eng engine.Engine, samples []float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := eng.Transcribe(ctx, samples)
		done <- outcome{text, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			// The handle is retained: an inference failure does not
			// imply a corrupt model, and reloading on every failure
			// would thrash.
			return "", &EngineError{Err: out.err}
		}
		return out.text, nil
	case <-ctx.Done():
		s.eng = nil
		go func() {
			<-done
			if err := eng.Close(); err != nil {
				s.log.Warn("closing timed-out engine", "error", err)
			}
		}()
		return "", ErrTimeout
	}
}

// state reads the published state.
func (s *Session) state() State {
	return s.snap.Load().State
}

// publish refreshes the lock-free snapshot. Callers hold s.mu (or own the
// session exclusively, as in New).
func (s *Session) publish(st State) {
	s.snap.Store(&Snapshot{
		State:     st,
		Model:     s.params.Model,
		Backend:   s.params.Backend,
		Accel:     s.params.Accel,
		Loaded:    s.eng != nil,
		StartedAt: s.startedAt,
	})
}
