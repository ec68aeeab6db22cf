package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzctl/whisp-away/internal/audio"
	"github.com/vzctl/whisp-away/internal/engine"
	"github.com/vzctl/whisp-away/internal/session"
)

type echoEngine struct {
	text   string
	params engine.Params
}

func (e *echoEngine) Transcribe(context.Context, []float32) (string, error) {
	return e.text, nil
}

func (e *echoEngine) Params() engine.Params { return e.params }
func (e *echoEngine) Close() error          { return nil }

type fixedSource struct {
	samples []float32
}

func (s *fixedSource) Start() error            { return nil }
func (s *fixedSource) Stop() ([]float32, error) { return s.samples, nil }

var testParams = engine.Params{Model: "base.en", Backend: engine.BackendWhisper, Accel: "cpu"}

func newTestSession(t *testing.T, text string, samples []float32) *session.Session {
	t.Helper()
	sess := session.New(session.Options{
		Params:  testParams,
		Timeout: 5 * time.Second,
		NewEngine: func(p engine.Params) (engine.Engine, error) {
			return &echoEngine{text: text, params: p}, nil
		},
		NewSource: func() (audio.Source, error) {
			return &fixedSource{samples: samples}, nil
		},
		Logger: slog.New(slog.DiscardHandler),
	})
	t.Cleanup(func() { sess.Close() })
	return sess
}

// startTestServer binds a server on a temp socket and serves in the
// background until the test finishes.
func startTestServer(t *testing.T, sess *session.Session) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(sock, sess, slog.New(slog.DiscardHandler))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(func() {
		srv.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Close")
		}
	})
	return srv, sock
}

func TestStatusRoundTrip(t *testing.T) {
	sess := newTestSession(t, "", nil)
	_, sock := startTestServer(t, sess)

	resp, err := Send(sock, Request{Action: ActionStatus}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(status) error = %v", err)
	}
	if !resp.OK {
		t.Fatalf("status response not OK: %s", resp.Error)
	}
	if resp.State != "idle" {
		t.Errorf("state = %q, want %q", resp.State, "idle")
	}
	if resp.Model != "base.en" || resp.Backend != "whisper" || resp.Accel != "cpu" {
		t.Errorf("params = %s/%s/%s, want base.en/whisper/cpu", resp.Model, resp.Backend, resp.Accel)
	}
	if resp.Loaded {
		t.Error("no engine should be loaded before the first transcription")
	}
}

func TestStartStopOverSocket(t *testing.T) {
	sess := newTestSession(t, "over the wire", make([]float32, 1600))
	_, sock := startTestServer(t, sess)

	resp, err := Send(sock, Request{Action: ActionStart}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(start) error = %v", err)
	}
	if !resp.OK || resp.State != "recording" {
		t.Fatalf("start response = %+v, want OK recording", resp)
	}

	resp, err = Send(sock, Request{Action: ActionStop, NoTyping: true}, 5*time.Second)
	if err != nil {
		t.Fatalf("Send(stop) error = %v", err)
	}
	if !resp.OK {
		t.Fatalf("stop response not OK: %s (%s)", resp.Error, resp.ErrorKind)
	}
	if resp.Text != "over the wire" {
		t.Errorf("text = %q, want %q", resp.Text, "over the wire")
	}
	if resp.State != "idle" {
		t.Errorf("state = %q, want %q", resp.State, "idle")
	}

	// The handle survives the invocation.
	resp, err = Send(sock, Request{Action: ActionStatus}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(status) error = %v", err)
	}
	if !resp.Loaded {
		t.Error("engine handle should remain loaded after a transcription")
	}
}

func TestStopWhileIdleIsConflict(t *testing.T) {
	sess := newTestSession(t, "", nil)
	_, sock := startTestServer(t, sess)

	resp, err := Send(sock, Request{Action: ActionStop}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(stop) error = %v", err)
	}
	if resp.OK {
		t.Fatal("stop while idle must fail")
	}
	if resp.ErrorKind != session.KindConflict {
		t.Errorf("error kind = %q, want %q", resp.ErrorKind, session.KindConflict)
	}
}

func TestDoubleStartIsConflict(t *testing.T) {
	sess := newTestSession(t, "", []float32{0.5})
	_, sock := startTestServer(t, sess)

	if resp, err := Send(sock, Request{Action: ActionStart}, 2*time.Second); err != nil || !resp.OK {
		t.Fatalf("first start: resp=%+v err=%v", resp, err)
	}
	resp, err := Send(sock, Request{Action: ActionStart}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(start) error = %v", err)
	}
	if resp.OK || resp.ErrorKind != session.KindConflict {
		t.Errorf("second start = %+v, want conflict", resp)
	}
	if resp.State != "recording" {
		t.Errorf("state = %q, want %q (rejected command must not disturb it)", resp.State, "recording")
	}
}

func TestStopModelMismatchIsConflict(t *testing.T) {
	sess := newTestSession(t, "", []float32{0.5})
	_, sock := startTestServer(t, sess)

	if resp, err := Send(sock, Request{Action: ActionStart}, 2*time.Second); err != nil || !resp.OK {
		t.Fatalf("start: resp=%+v err=%v", resp, err)
	}
	resp, err := Send(sock, Request{Action: ActionStop, Model: "large-v3"}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(stop) error = %v", err)
	}
	if resp.OK || resp.ErrorKind != session.KindConflict {
		t.Errorf("stop with mismatching model = %+v, want conflict", resp)
	}
}

func TestStopWithAudioFile(t *testing.T) {
	wavPath := filepath.Join(t.TempDir(), "clip.wav")
	if err := audio.WriteWAV(wavPath, []float32{0, 0.5, -0.5, 0.25}, 16000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	sess := newTestSession(t, "from a file", nil)
	_, sock := startTestServer(t, sess)

	// Accepted while idle: the file substitutes for the capture buffer.
	resp, err := Send(sock, Request{Action: ActionStop, AudioFile: wavPath, NoTyping: true}, 5*time.Second)
	if err != nil {
		t.Fatalf("Send(stop) error = %v", err)
	}
	if !resp.OK {
		t.Fatalf("stop with audio file failed: %s (%s)", resp.Error, resp.ErrorKind)
	}
	if resp.Text != "from a file" {
		t.Errorf("text = %q, want %q", resp.Text, "from a file")
	}
}

func TestShutdown(t *testing.T) {
	sess := newTestSession(t, "", nil)
	sock := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(sock, sess, slog.New(slog.DiscardHandler))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := Send(sock, Request{Action: ActionShutdown}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(shutdown) error = %v", err)
	}
	if !resp.OK {
		t.Fatalf("shutdown response not OK: %s", resp.Error)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned %v after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown: %v", err)
	}
}

func TestAlreadyRunning(t *testing.T) {
	sess := newTestSession(t, "", nil)
	_, sock := startTestServer(t, sess)

	second := NewServer(sock, newTestSession(t, "", nil), slog.New(slog.DiscardHandler))
	err := second.Listen()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Listen() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStaleSocketReclaim(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "d.sock")

	// Leave a socket file behind with nobody listening, as an unclean
	// shutdown would.
	addr, err := net.ResolveUnixAddr("unix", sock)
	if err != nil {
		t.Fatalf("ResolveUnixAddr() error = %v", err)
	}
	stale, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatalf("ListenUnix() error = %v", err)
	}
	stale.SetUnlinkOnClose(false)
	stale.Close()
	if _, err := os.Stat(sock); err != nil {
		t.Fatalf("stale socket missing: %v", err)
	}

	sess := newTestSession(t, "reclaimed", []float32{0.5})
	srv := NewServer(sock, sess, slog.New(slog.DiscardHandler))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() over stale socket error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	defer func() {
		srv.Close()
		<-done
	}()

	resp, err := Send(sock, Request{Action: ActionStatus}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send(status) after reclaim error = %v", err)
	}
	if !resp.OK || resp.State != "idle" {
		t.Errorf("status after reclaim = %+v, want OK idle", resp)
	}
}

func TestClientNotRunning(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "absent.sock")
	_, err := Send(sock, Request{Action: ActionStatus}, time.Second)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Send() to absent socket error = %v, want ErrNotRunning", err)
	}
}

func TestUnknownAction(t *testing.T) {
	sess := newTestSession(t, "", nil)
	_, sock := startTestServer(t, sess)

	resp, err := Send(sock, Request{Action: "reticulate"}, 2*time.Second)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.OK {
		t.Error("unknown action must not be OK")
	}
}
