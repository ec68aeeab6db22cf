package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/vzctl/whisp-away/internal/engine"
	"github.com/vzctl/whisp-away/internal/session"
)

// ErrAlreadyRunning means another live daemon holds the socket address.
var ErrAlreadyRunning = errors.New("daemon: already running")

// Server hosts one Session on a unix socket. State-mutating commands are
// serialized by the session itself; status is answered concurrently.
type Server struct {
	socketPath string
	sess       *session.Session
	log        *slog.Logger
	started    time.Time

	ln        net.Listener
	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// NewServer creates a Server for the given session. Call Listen before Serve.
func NewServer(socketPath string, sess *session.Session, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		sess:       sess,
		log:        log,
		closing:    make(chan struct{}),
	}
}

// Listen binds the well-known socket address. A live daemon on the same
// address is reported as ErrAlreadyRunning; a stale socket left by a
// crashed daemon is detected by a failed connect probe and reclaimed.
func (s *Server) Listen() error {
	ln, err := net.Listen("unix", s.socketPath)
	if err == nil {
		s.ln = ln
		s.chmodSocket()
		return nil
	}

	probe, dialErr := net.DialTimeout("unix", s.socketPath, dialTimeout)
	if dialErr == nil {
		probe.Close()
		return fmt.Errorf("%w (socket %s)", ErrAlreadyRunning, s.socketPath)
	}

	// Nobody answered: stale socket from an unclean shutdown. Reclaim it.
	s.log.Warn("reclaiming stale socket", "path", s.socketPath)
	if rmErr := os.Remove(s.socketPath); rmErr != nil {
		return fmt.Errorf("daemon: removing stale socket: %w", rmErr)
	}
	ln, err = net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("daemon: bind %s: %w", s.socketPath, err)
	}
	s.ln = ln
	s.chmodSocket()
	return nil
}

// chmodSocket widens socket permissions so sibling user processes
// (keybinding hooks, tray) can connect.
func (s *Server) chmodSocket() {
	if err := os.Chmod(s.socketPath, 0o666); err != nil {
		s.log.Warn("chmod socket", "error", err)
	}
}

// Serve accepts connections until Close. Each connection is handled on its
// own goroutine; one request, one response.
func (s *Server) Serve() error {
	if s.ln == nil {
		return fmt.Errorf("daemon: Serve before Listen")
	}
	s.started = time.Now()
	s.log.Info("daemon listening", "socket", s.socketPath)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Error("accept", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

// Close stops accepting, removes the socket, and releases the session.
// Safe to call multiple times.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.ln != nil {
			err = s.ln.Close()
		}
		os.Remove(s.socketPath)
		if cerr := s.sess.Close(); err == nil {
			err = cerr
		}
		s.log.Info("daemon stopped")
	})
	return err
}

// handle reads one request and writes one response.
func (s *Server) handle(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.Warn("bad request", "error", err)
		s.respond(conn, Response{OK: false, ErrorKind: session.KindInternal, Error: "malformed request"})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.log.Debug("request", "action", req.Action)

	var resp Response
	switch req.Action {
	case ActionStart:
		resp = s.handleStart(req)
	case ActionStop:
		resp = s.handleStop(req)
	case ActionStatus:
		resp = s.handleStatus()
	case ActionShutdown:
		resp = Response{OK: true, State: session.StateIdle.String()}
		s.respond(conn, resp)
		conn.Close()
		// Close tears down the listener; Serve returns to the caller.
		_ = s.Close()
		return
	default:
		resp = Response{OK: false, ErrorKind: session.KindInternal, Error: fmt.Sprintf("unknown action %q", req.Action)}
	}

	s.respond(conn, resp)
}

// handleStart resolves the requested parameters against the session's
// current ones and begins recording.
func (s *Server) handleStart(req Request) Response {
	params, errResp := s.resolveParams(req)
	if errResp != nil {
		return *errResp
	}
	if err := s.sess.Start(params); err != nil {
		return s.errorResponse(err)
	}
	snap := s.sess.Status()
	return Response{OK: true, State: snap.State.String(), Model: snap.Model, Backend: string(snap.Backend), Accel: snap.Accel}
}

// handleStop halts capture and blocks until the transcription resolves.
// Model/backend overrides that conflict with the session's requested
// parameters are rejected: a swap needs an Idle session and a Start.
func (s *Server) handleStop(req Request) Response {
	snap := s.sess.Status()
	if req.Model != "" && req.Model != snap.Model {
		return Response{OK: false, ErrorKind: session.KindConflict,
			Error: fmt.Sprintf("model %q is loaded; swap requires an idle session", snap.Model)}
	}
	if req.Backend != "" {
		b, err := engine.ParseBackend(req.Backend)
		if err != nil {
			return Response{OK: false, ErrorKind: session.KindInternal, Error: err.Error()}
		}
		if b != snap.Backend {
			return Response{OK: false, ErrorKind: session.KindConflict,
				Error: fmt.Sprintf("backend %q is active; swap requires an idle session", snap.Backend)}
		}
	}

	res, err := s.sess.Stop(context.Background(), session.StopOptions{
		AudioFile: req.AudioFile,
		NoInject:  req.NoTyping,
	})
	if err != nil {
		return s.errorResponse(err)
	}

	after := s.sess.Status()
	return Response{OK: true, State: after.State.String(), Text: res.Text, Empty: res.Empty}
}

func (s *Server) handleStatus() Response {
	snap := s.sess.Status()
	return Response{
		OK:        true,
		State:     snap.State.String(),
		Model:     snap.Model,
		Backend:   string(snap.Backend),
		Accel:     snap.Accel,
		Loaded:    snap.Loaded,
		UptimeSec: time.Since(s.started).Seconds(),
	}
}

// resolveParams fills omitted request fields from the session's current
// parameters.
func (s *Server) resolveParams(req Request) (engine.Params, *Response) {
	snap := s.sess.Status()
	params := engine.Params{
		Model:   snap.Model,
		Backend: snap.Backend,
		Accel:   snap.Accel,
	}
	if req.Model != "" {
		params.Model = req.Model
	}
	if req.Backend != "" {
		b, err := engine.ParseBackend(req.Backend)
		if err != nil {
			return engine.Params{}, &Response{OK: false, ErrorKind: session.KindInternal, Error: err.Error()}
		}
		params.Backend = b
	}
	if req.Accel != "" {
		params.Accel = req.Accel
	}
	return params, nil
}

func (s *Server) errorResponse(err error) Response {
	kind := session.Classify(err)
	s.log.Warn("command failed", "kind", kind, "error", err)
	return Response{
		OK:        false,
		State:     s.sess.Status().State.String(),
		ErrorKind: kind,
		Error:     err.Error(),
	}
}

func (s *Server) respond(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("write response", "error", err)
	}
}
