// Command whisp-away is a dictation tool: it records speech, transcribes it
// with a locally resident model, and types the result at the cursor.
//
// A long-lived daemon keeps the model loaded so keybinding-triggered
// invocations stay fast; when no daemon is reachable, stop falls back to
// running the full pipeline in-process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzctl/whisp-away/internal/audio"
	"github.com/vzctl/whisp-away/internal/config"
	"github.com/vzctl/whisp-away/internal/daemon"
	"github.com/vzctl/whisp-away/internal/engine"
	"github.com/vzctl/whisp-away/internal/hotkey"
	"github.com/vzctl/whisp-away/internal/inject"
	"github.com/vzctl/whisp-away/internal/models"
	"github.com/vzctl/whisp-away/internal/notify"
	"github.com/vzctl/whisp-away/internal/session"
)

// Exit codes let callers (keybinding scripts, the tray) distinguish how a
// command resolved.
const (
	exitOK         = 0
	exitUsage      = 1
	exitStandalone = 2 // command succeeded without a daemon (or none to talk to)
	exitConflict   = 3 // command rejected for the current state
	exitEngine     = 4 // model load or inference failure, including timeout
	exitDevice     = 5 // audio input unavailable
)

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	var code int
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "start":
		code = runStart(args)
	case "stop":
		code = runStop(args)
	case "status":
		code = runStatus(args)
	case "daemon":
		code = runDaemon(args)
	case "shutdown":
		code = runShutdown(args)
	case "listen":
		code = runListen(args)
	case "download-model":
		code = runDownload(args)
	case "help", "-h", "--help":
		usage()
	default:
		log.Printf("unknown command %q", cmd)
		usage()
		code = exitUsage
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: whisp-away <command> [flags]

Commands:
  start           begin recording (in the daemon)
  stop            stop recording, transcribe, and type the text
  status          report daemon state
  daemon          run the preload daemon in the foreground
  shutdown        stop the daemon
  listen          hold/toggle a hotkey to drive start/stop
  download-model  fetch a ggml model into the cache

Common flags: -config, -socket, -model, -backend, -accel (see <command> -h)`)
}

// commonFlags wires the flags shared by every subcommand into fs.
type commonFlags struct {
	configPath string
	socket     string
	model      string
	backend    string
	accel      string
}

func (cf *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&cf.configPath, "config", "", "path to config file (default: ~/.config/whisp-away/config.yaml)")
	fs.StringVar(&cf.socket, "socket", "", "daemon socket path")
	fs.StringVar(&cf.model, "model", "", "model name or path (e.g. base.en)")
	fs.StringVar(&cf.backend, "backend", "", "recognition backend: whisper or script")
	fs.StringVar(&cf.accel, "accel", "", "acceleration tag (deployment-defined)")
}

// load resolves the effective config: file/env defaults overlaid with flags.
func (cf *commonFlags) load() (*config.Config, error) {
	cfg, err := loadConfig(cf.configPath)
	if err != nil {
		return nil, err
	}
	if cf.socket != "" {
		cfg.SocketPath = cf.socket
	}
	if cf.model != "" {
		cfg.Model = cf.model
	}
	if cf.backend != "" {
		cfg.Backend = cf.backend
	}
	if cf.accel != "" {
		cfg.Accel = cf.accel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		log.Printf("start: %v", err)
		return exitUsage
	}

	req := daemon.Request{Action: daemon.ActionStart, Model: cf.model, Backend: cf.backend, Accel: cf.accel}
	resp, err := daemon.Send(cfg.SocketPath, req, 10*time.Second)
	if errors.Is(err, daemon.ErrNotRunning) {
		// Recording state must outlive this process, which only the
		// daemon can provide.
		log.Printf("no daemon at %s; run `whisp-away daemon` first", cfg.SocketPath)
		notify.Show("Voice Input", "Daemon not running, start it to record")
		return exitStandalone
	}
	if err != nil {
		log.Printf("start: %v", err)
		return exitUsage
	}
	if !resp.OK {
		notify.Showf("Voice Input", "Cannot start: %s", resp.Error)
		log.Printf("start rejected: %s", resp.Error)
		return kindExit(resp.ErrorKind)
	}

	notify.Showf("Voice Input", "Recording... (stop to transcribe)\nBackend: %s (%s) | Model: %s",
		resp.Backend, resp.Accel, resp.Model)
	return exitOK
}

func runStop(args []string) int {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	audioFile := fs.String("audio-file", "", "transcribe this WAV file instead of recorded audio")
	noTyping := fs.Bool("no-typing", false, "print the transcript without typing it")
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		log.Printf("stop: %v", err)
		return exitUsage
	}

	req := daemon.Request{
		Action:    daemon.ActionStop,
		Model:     cf.model,
		Backend:   cf.backend,
		Accel:     cf.accel,
		AudioFile: *audioFile,
		NoTyping:  *noTyping,
	}
	resp, err := daemon.Send(cfg.SocketPath, req, 0)
	if errors.Is(err, daemon.ErrNotRunning) {
		return runStandaloneStop(cfg, *audioFile, *noTyping)
	}
	if err != nil {
		log.Printf("stop: %v", err)
		return exitUsage
	}
	return reportStop(resp, "daemon")
}

// runStandaloneStop runs the full capture-to-recognition pipeline in this
// process, paying a fresh model load. Without a daemon there is no recorded
// buffer, so an audio file is required.
func runStandaloneStop(cfg *config.Config, audioFile string, noTyping bool) int {
	if audioFile == "" {
		log.Print("no daemon running and no -audio-file: nothing was recorded")
		notify.Show("Voice Input", "No recording found (daemon not running)")
		return exitStandalone
	}

	notify.Showf("Voice Input", "Daemon not running, transcribing standalone\nBackend: %s | Model: %s",
		cfg.Backend, cfg.Model)

	params, err := resolveParams(cfg)
	if err != nil {
		log.Printf("stop: %v", err)
		return exitUsage
	}

	injector := inject.NewInjector(cfg.Inject.Method)
	sess := session.New(session.Options{
		Params:    params,
		Timeout:   cfg.Timeout.Transcribe(),
		NewEngine: engineFactory(cfg),
		NewSource: func() (audio.Source, error) {
			return &audio.FileSource{Path: audioFile}, nil
		},
		Inject: injector.Inject,
		Logger: newLogger(cfg.LogLevel),
	})
	defer sess.Close()

	res, err := sess.Stop(context.Background(), session.StopOptions{
		AudioFile: audioFile,
		NoInject:  noTyping,
	})
	if err != nil {
		notify.Showf("Voice Input", "Transcription failed\n%v", err)
		log.Printf("stop: %v", err)
		return kindExit(session.Classify(err))
	}

	if res.Empty {
		notify.Show("Voice Input", "No speech detected")
		return exitStandalone
	}
	fmt.Println(res.Text)
	notify.Show("Voice Input", "Transcribed (standalone)")
	return exitStandalone
}

func reportStop(resp daemon.Response, via string) int {
	if !resp.OK {
		notify.Showf("Voice Input", "Transcription failed (%s)\n%s", resp.ErrorKind, resp.Error)
		log.Printf("stop rejected (%s): %s", resp.ErrorKind, resp.Error)
		return kindExit(resp.ErrorKind)
	}
	if resp.Empty {
		notify.Show("Voice Input", "No speech detected")
		return exitOK
	}
	fmt.Println(resp.Text)
	notify.Showf("Voice Input", "Transcribed (%s)", via)
	return exitOK
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		log.Printf("status: %v", err)
		return exitUsage
	}

	resp, err := daemon.Send(cfg.SocketPath, daemon.Request{Action: daemon.ActionStatus}, 5*time.Second)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Println("daemon: not running")
		return exitStandalone
	}
	if err != nil {
		log.Printf("status: %v", err)
		return exitUsage
	}

	fmt.Printf("state:   %s\n", resp.State)
	fmt.Printf("model:   %s\n", resp.Model)
	fmt.Printf("backend: %s (%s)\n", resp.Backend, resp.Accel)
	fmt.Printf("loaded:  %v\n", resp.Loaded)
	fmt.Printf("uptime:  %s\n", (time.Duration(resp.UptimeSec) * time.Second).String())
	return exitOK
}

func runShutdown(args []string) int {
	fs := flag.NewFlagSet("shutdown", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		log.Printf("shutdown: %v", err)
		return exitUsage
	}

	resp, err := daemon.Send(cfg.SocketPath, daemon.Request{Action: daemon.ActionShutdown}, 10*time.Second)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Println("daemon: not running")
		return exitStandalone
	}
	if err != nil {
		log.Printf("shutdown: %v", err)
		return exitUsage
	}
	if !resp.OK {
		log.Printf("shutdown rejected: %s", resp.Error)
		return kindExit(resp.ErrorKind)
	}
	fmt.Println("daemon stopped")
	return exitOK
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	preload := fs.Bool("preload", true, "load the model at startup instead of on first use")
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		log.Printf("daemon: %v", err)
		return exitUsage
	}

	logger := newLogger(cfg.LogLevel)

	params, err := resolveParams(cfg)
	if err != nil {
		logger.Error("resolve backend", "error", err)
		return exitUsage
	}

	recorder, err := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		logger.Error("audio init", "error", err)
		return exitDevice
	}
	defer recorder.Close()

	injector := inject.NewInjector(cfg.Inject.Method)
	sess := session.New(session.Options{
		Params:    params,
		Timeout:   cfg.Timeout.Transcribe(),
		NewEngine: engineFactory(cfg),
		NewSource: func() (audio.Source, error) { return recorder, nil },
		Inject:    injector.Inject,
		Logger:    logger,
	})

	if *preload {
		start := time.Now()
		if err := sess.Preload(); err != nil {
			logger.Error("model preload", "error", err)
			return exitEngine
		}
		logger.Info("model preloaded",
			"model", params.Model,
			"backend", string(params.Backend),
			"accel", params.Accel,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}

	srv := daemon.NewServer(cfg.SocketPath, sess, logger)
	if err := srv.Listen(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			logger.Error("daemon already running", "socket", cfg.SocketPath)
			return exitConflict
		}
		logger.Error("listen", "error", err)
		return exitUsage
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		_ = srv.Close()
	}()

	if err := srv.Serve(); err != nil {
		logger.Error("serve", "error", err)
		return exitUsage
	}
	return exitOK
}

func runListen(args []string) int {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		log.Printf("listen: %v", err)
		return exitUsage
	}

	listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode)
	go listener.Start()
	log.Printf("listening for %v (%s mode); Ctrl+C to quit", cfg.Hotkey.Keys, cfg.Hotkey.Mode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return exitOK
			}
			switch ev.Type {
			case hotkey.EventStart:
				if code := runStart(nil); code != exitOK {
					log.Printf("start failed (exit %d)", code)
				}
			case hotkey.EventStop:
				if code := runStop([]string{}); code != exitOK {
					log.Printf("stop failed (exit %d)", code)
				}
			}
		case sig := <-sigCh:
			log.Printf("received %s, shutting down", sig)
			listener.Stop()
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(exitOK)
		}
	}
}

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download-model", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		log.Printf("download-model: %v", err)
		return exitUsage
	}

	if err := models.Download(cfg.Model, cfg.ModelsDir); err != nil {
		log.Printf("download-model: %v", err)
		return exitEngine
	}
	return exitOK
}

// kindExit maps a wire failure kind to an exit code.
func kindExit(kind string) int {
	switch kind {
	case session.KindConflict:
		return exitConflict
	case session.KindDevice:
		return exitDevice
	case session.KindEngine, session.KindTimeout:
		return exitEngine
	default:
		return exitUsage
	}
}

// resolveParams turns the effective config into engine parameters.
func resolveParams(cfg *config.Config) (engine.Params, error) {
	backend, err := engine.ParseBackend(cfg.Backend)
	if err != nil {
		return engine.Params{}, err
	}
	return engine.Params{
		Model:   cfg.Model,
		Backend: backend,
		Accel:   cfg.Accel,
	}, nil
}

// engineFactory builds engine handles on demand, resolving whisper model
// names to cached files (downloading on first use).
func engineFactory(cfg *config.Config) engine.Factory {
	return func(p engine.Params) (engine.Engine, error) {
		if p.Backend == engine.BackendWhisper {
			path, err := models.Ensure(p.Model, cfg.ModelsDir)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", engine.ErrLoad, err)
			}
			p.ModelPath = path
		}
		return engine.New(p, engine.ScriptConfig{
			Command:    cfg.Script.Command,
			SocketPath: cfg.Script.SocketPath,
			SampleRate: int(cfg.Audio.SampleRate),
		})
	}
}

// newLogger builds a slog logger honoring the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
