package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"drillbeat/internal/audio"
	"drillbeat/internal/engine"
)

const version = "0.3.0"

// suspendAckTimeout bounds how long SIGTSTP waits for the audio to background.
const suspendAckTimeout = 500 * time.Millisecond

func printVersion() {
	fmt.Printf("drillbeat v%s\n", version)
	fmt.Println("Audio cue trainer for timed weapon drills")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  drillbeat [OPTIONS]")
	fmt.Println("  drillbeat tui [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Builds a cue timeline from a drill (patterns, reloads, wait) and plays it")
	fmt.Println("  in a loop with sample-accurate timing. Control it with drillctl, media keys")
	fmt.Println("  or the terminal UI; watch it over the /ws state feed.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (flags override its values)")
	fmt.Println()
	fmt.Println("  -drill string")
	fmt.Println("        YAML drill file (default: built-in single-weapon drill)")
	fmt.Println()
	fmt.Println("  -watch")
	fmt.Println("        Reload the drill file when it changes (default true)")
	fmt.Println()
	fmt.Println("  -audio-backend string")
	fmt.Printf("        Audio output: %s|%s (default %q)\n", backendOto, backendHeadless, backendOto)
	fmt.Println()
	fmt.Println("  -sample-rate int")
	fmt.Printf("        Output sample rate in Hz (default %d)\n", defaultSampleRate)
	fmt.Println()
	fmt.Println("  -limiter")
	fmt.Println("        Soft-limit the output mix (default true)")
	fmt.Println()
	fmt.Println("  -horizon-sec float")
	fmt.Println("        How far ahead of the audio clock cues are written (default 10)")
	fmt.Println()
	fmt.Println("  -topup-ms int")
	fmt.Println("        Interval between scheduling passes in ms (default 1000)")
	fmt.Println()
	fmt.Println("  -headroom-ms int")
	fmt.Println("        Delay between Start and the first cue in ms (default 50)")
	fmt.Println()
	fmt.Println("  -volume float")
	fmt.Printf("        Initial master volume 0..1 (default %.2f)\n", defaultVolume)
	fmt.Println()
	fmt.Println("  -update-hz int")
	fmt.Printf("        Phase tracking frequency in Hz (default %d)\n", defaultUpdateHz)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        HTTP port for the state feed, 0 disables (default %d)\n", defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input device for media keys, e.g. /dev/input/event3 (\"\" disables)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-format string")
	fmt.Println("        Log format: text, json (default \"text\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        tui only: write logs to this file instead of discarding them")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("SUBCOMMANDS:")
	fmt.Println("  tui")
	fmt.Println("        Run the daemon with an interactive terminal view")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  drillbeat -drill ~/drills/rifle.yaml")
	fmt.Println("  drillbeat tui -drill ~/drills/transition.yaml -http-port 0")
	fmt.Println("  drillbeat -audio-backend headless -log-level debug")
	fmt.Println()
	fmt.Println("SIGNALS:")
	fmt.Println("  SIGTSTP suspends the audio output before stopping; SIGCONT resumes it.")
	fmt.Println("  The drill keeps its place in the cycle across a suspend.")
	fmt.Println()
}

func main() {
	tui := len(os.Args) > 1 && os.Args[1] == "tui"
	args := os.Args[1:]
	if tui {
		args = os.Args[2:]
	}

	for _, arg := range args {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	if err := run(args, tui); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// options collects the parsed command line.
type options struct {
	configPath string
	logFile    string
	overrides  FlagOverrides
}

func parseFlags(name string, args []string) (options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = printUsage
	fs.SetOutput(io.Discard)

	var (
		configPath   = fs.String("config", "", "YAML config file")
		drillFile    = fs.String("drill", "", "YAML drill file")
		drillWatch   = fs.Bool("watch", true, "Reload the drill file when it changes")
		audioBackend = fs.String("audio-backend", backendOto, "Audio output: oto|headless")
		sampleRate   = fs.Int("sample-rate", defaultSampleRate, "Output sample rate in Hz")
		limiter      = fs.Bool("limiter", true, "Soft-limit the output mix")
		horizonSec   = fs.Float64("horizon-sec", 10, "Scheduling horizon in seconds")
		topUpMS      = fs.Int("topup-ms", 1000, "Scheduling pass interval in ms")
		headroomMS   = fs.Int("headroom-ms", 50, "Start headroom in ms")
		volume       = fs.Float64("volume", defaultVolume, "Initial master volume 0..1")
		updateHz     = fs.Int("update-hz", defaultUpdateHz, "Phase tracking frequency in Hz")
		ipcSocket    = fs.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		httpPort     = fs.Int("http-port", defaultHTTPPort, "HTTP port for the state feed (0 disables)")
		inputDevice  = fs.String("input-device", "", "Linux input device for media keys")
		logLevel     = fs.String("log-level", "info", "Log level: error, warn, info, debug")
		logFormat    = fs.String("log-format", "text", "Log format: text, json")
		logFile      = fs.String("log-file", "", "tui only: log file")
	)

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	// Only flags given on the command line override the config file.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var ov FlagOverrides
	if set["drill"] {
		ov.DrillFile = drillFile
	}
	if set["watch"] {
		ov.DrillWatch = drillWatch
	}
	if set["audio-backend"] {
		ov.AudioBackend = audioBackend
	}
	if set["sample-rate"] {
		ov.AudioSampleRate = sampleRate
	}
	if set["limiter"] {
		ov.AudioLimiter = limiter
	}
	if set["horizon-sec"] {
		ov.SchedHorizonSec = horizonSec
	}
	if set["topup-ms"] {
		ov.SchedTopUpMS = topUpMS
	}
	if set["headroom-ms"] {
		ov.SchedHeadroomMS = headroomMS
	}
	if set["volume"] {
		ov.Volume = volume
	}
	if set["update-hz"] {
		ov.UpdateHz = updateHz
	}
	if set["ipc-socket"] {
		ov.IPCSocketPath = ipcSocket
	}
	if set["http-port"] {
		ov.HTTPPort = httpPort
	}
	if set["input-device"] {
		ov.InputDevice = inputDevice
	}
	if set["log-level"] {
		ov.LogLevel = logLevel
	}
	if set["log-format"] {
		ov.LogFormat = logFormat
	}

	return options{configPath: *configPath, logFile: *logFile, overrides: ov}, nil
}

// loadConfig layers defaults, the optional config file and flag overrides.
func loadConfig(opts options) (Config, error) {
	cfg := DefaultConfig()
	if opts.configPath != "" {
		var err error
		cfg, err = LoadConfigFile(opts.configPath)
		if err != nil {
			return Config{}, err
		}
	}
	opts.overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadInitialDrill returns the configured drill, or the built-in one.
func loadInitialDrill(cfg Config) (Drill, string, error) {
	if cfg.Drill.File == "" {
		return DefaultDrill(), "", nil
	}
	d, err := LoadDrillFile(cfg.Drill.File)
	if err != nil {
		return Drill{}, "", err
	}
	return d, cfg.Drill.File, nil
}

// newOpener picks the audio backend. The device is opened lazily by the first Start.
func newOpener(cfg Config, logger *slog.Logger) engine.Opener {
	if cfg.Audio.Backend == backendHeadless {
		return func() (audio.Context, error) {
			return audio.NewHeadless(), nil
		}
	}
	devCfg := cfg.ToDeviceConfig()
	return func() (audio.Context, error) {
		d, err := audio.OpenDevice(devCfg, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func run(args []string, tui bool) error {
	name := "drillbeat"
	if tui {
		name = "drillbeat tui"
	}
	opts, err := parseFlags(name, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logFormat, _ := parseLogFormat(cfg.Logging.Format)

	var logger *slog.Logger
	if tui {
		// The terminal belongs to the view.
		w := io.Discard
		if opts.logFile != "" {
			f, err := os.OpenFile(ExpandPath(opts.logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			w = f
		}
		logger = newLogger(w, logLevel, logFormat)
	} else {
		logger = setupLogger(logLevel, logFormat)
	}

	drill, source, err := loadInitialDrill(cfg)
	if err != nil {
		return err
	}
	volume := cfg.Daemon.Volume
	if drill.Volume != nil {
		volume = *drill.Volume
	}
	state := NewDaemonState(drill, source, volume)
	if state.TimelineErr != "" {
		logger.Warn("initial drill has no playable timeline", "error", state.TimelineErr)
	}

	sched := engine.NewScheduler(newOpener(cfg, logger), cfg.ToSchedulerConfig(), logger)
	defer func() {
		if err := sched.Close(); err != nil {
			logger.Warn("audio close failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 64)

	// Bind the socket up front so a second instance fails loudly.
	ipcListener, err := listenIPC(cfg.IPC.SocketPath)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}

	var wg sync.WaitGroup
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error(name+" stopped", "error", err)
			}
		}()
	}

	goRun("IPC server", func() error {
		return serveIPC(ctx, ipcListener, cfg.IPC.SocketPath, events, logger)
	})

	var broadcasts chan StateBroadcast
	if cfg.HTTP.Port > 0 {
		broadcasts = make(chan StateBroadcast, 128)
		ws := NewServer(logger, events, ServerConfig{})
		goRun("ws hub", func() error { ws.Hub().Run(ctx); return nil })
		goRun("ws broadcaster", func() error { RunBroadcaster(ctx, ws.Hub(), broadcasts, logger); return nil })
		mux := newHTTPMux(ws, cfg.HTTP.WSPath, events, logger)
		goRun("HTTP server", func() error { return runHTTPServer(ctx, cfg.HTTP.Port, mux, logger) })
	}

	dcfg := daemonConfig{
		UpdateHz: cfg.Daemon.UpdateHz,
		Reduce:   cfg.ToReduceConfig(),
		Effects:  effectsConfig{StartTimeout: time.Duration(cfg.Daemon.StartTimeoutMS) * time.Millisecond},
	}
	goRun("daemon", func() error {
		var eng Engine = sched
		runDaemon(ctx, events, eng, state, dcfg, broadcasts, logger)
		return nil
	})

	if len(cfg.Input.Devices) > 0 {
		goRun("input", func() error { return runInput(ctx, cfg.Input.Devices, events, logger) })
	}
	if cfg.Drill.File != "" && cfg.Drill.Watch {
		debounce := time.Duration(defaultDrillDebounce) * time.Millisecond
		goRun("drill watcher", func() error { return watchDrillFile(ctx, cfg.Drill.File, events, debounce, logger) })
	}

	logger.Info("drillbeat started",
		"version", version,
		"mode", drill.Mode,
		"drill", source,
		"audio", cfg.Audio.Backend,
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"cycle_ms", state.Timeline.TotalDurationMs)

	if tui {
		err = runTUIUntilSignal(ctx, sched, events)
	} else {
		waitForSignals(ctx, events, logger)
	}

	logger.Info("shutting down")
	cancel()
	wg.Wait()
	return err
}

func runTUIUntilSignal(ctx context.Context, view playbackView, events chan<- Event) error {
	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()
	return runTUI(ctx, view, events)
}

// waitForSignals blocks until SIGINT/SIGTERM, translating job-control signals into
// visibility changes on the way.
func waitForSignals(ctx context.Context, events chan<- Event, logger *slog.Logger) {
	sigc := make(chan os.Signal, 4)
	signal.Notify(sigc, unix.SIGINT, unix.SIGTERM, unix.SIGTSTP, unix.SIGCONT)
	defer signal.Stop(sigc)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigc:
			switch sig {
			case unix.SIGTSTP:
				suspendSelf(ctx, events, logger)
			case unix.SIGCONT:
				logger.Info("resumed")
				sendEvent(ctx, events, VisibilityChanged{Visible: true})
			default:
				return
			}
		}
	}
}

// suspendSelf backgrounds the audio, then stops the process. Catching SIGTSTP
// suppresses the default stop, so SIGSTOP is raised explicitly.
func suspendSelf(ctx context.Context, events chan<- Event, logger *slog.Logger) {
	ack := make(chan struct{}, 1)
	if sendEvent(ctx, events, VisibilityChanged{Visible: false, Ack: ack}) {
		select {
		case <-ack:
		case <-time.After(suspendAckTimeout):
			logger.Warn("audio did not background in time; suspending anyway")
		}
	}
	logger.Info("suspending")
	if err := unix.Kill(unix.Getpid(), unix.SIGSTOP); err != nil {
		logger.Error("suspend failed", "error", err)
	}
}

func sendEvent(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(suspendAckTimeout):
		return false
	}
}
