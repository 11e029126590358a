package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bep/debounce"
	"github.com/dimiro1/banner"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/airvzxf/stt-assistant/internal/audio"
	"github.com/airvzxf/stt-assistant/internal/config"
	"github.com/airvzxf/stt-assistant/internal/control"
	"github.com/airvzxf/stt-assistant/internal/daemon"
	"github.com/airvzxf/stt-assistant/internal/logging"
	"github.com/airvzxf/stt-assistant/internal/transcribe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// watchDebounce collapses the burst of events an editor produces on save.
const watchDebounce = 250 * time.Millisecond

func main() {
	configPath := pflag.StringP("config", "c", "", "path to an extra config file (highest file precedence)")
	watch := pflag.Bool("watch", false, "reload when the config file changes")
	initConfig := pflag.Bool("init-config", false, "write the default config to "+config.DefaultConfigPath()+" and exit")
	showVersion := pflag.BoolP("version", "v", false, "print the version and exit")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	if *showVersion {
		fmt.Println("stt-daemon", version)
		return
	}

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "stt-daemon: %v\n", err)
			os.Exit(1)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote default config to", path)
		return
	}

	if err := run(*configPath, *watch); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, watch bool) error {
	loader := config.NewLoader(configPath, pflag.CommandLine)
	cfg, err := loader.Load()
	if err != nil {
		slog.Warn("config could not be loaded, using defaults", "error", err)
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := transcribe.CheckSampleRate(cfg.Audio.SampleRate); err != nil {
		return fmt.Errorf("config validation: audio.sample_rate: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	printBanner(cfg, loader.Sources())

	cfg = cfg.WithResolvedModel()
	logger.Info("loading whisper model", "path", cfg.ModelPath)
	modelStart := time.Now()
	backend, err := transcribe.New(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("loading whisper model: %w (run 'stt-models download base' to fetch one)", err)
	}
	logger.Info("model loaded", "elapsed", time.Since(modelStart).Round(time.Millisecond))

	buf := audio.NewSampleBuffer(cfg.BufferSamples())
	capture, err := audio.NewCapture(cfg.Audio.SampleRate, cfg.Audio.Channels, buf)
	if err != nil {
		backend.Close()
		return err
	}
	defer capture.Close()
	if err := capture.Start(); err != nil {
		backend.Close()
		return fmt.Errorf("starting audio capture: %w", err)
	}
	logger.Info("audio capture running", "sample_rate", cfg.Audio.SampleRate, "channels", cfg.Audio.Channels)

	notifier := control.NewNotifier(cfg.Socket.ControlPath, logging.Component(logger, "notifier"))

	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Buffer:   buf,
		Backend:  backend,
		Factory:  transcribe.New,
		Loader:   loader.Load,
		Notifier: notifier,
		Logger:   logging.Component(logger, "daemon"),
	})
	if err != nil {
		backend.Close()
		return err
	}

	ln, err := control.ListenUnix(cfg.Socket.Path)
	if err != nil {
		backend.Close()
		return err
	}
	router := daemon.NewRouter(d, cfg.RequestTimeout, logging.Component(logger, "router"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return router.Serve(gctx, ln) })
	g.Go(func() error { return notifier.Run(gctx) })

	if watch {
		watchConfig(gctx, loader, d, cfg.RequestTimeout, logging.Component(logger, "watch"))
	}

	logger.Info("ready", "socket", cfg.Socket.Path, "control", cfg.Socket.ControlPath)
	err = g.Wait()
	logger.Info("shut down")
	return err
}

// watchConfig reloads the daemon whenever the highest-precedence config file
// changes.
func watchConfig(ctx context.Context, loader *config.Loader, d *daemon.Daemon, timeout time.Duration, logger *slog.Logger) {
	debounced := debounce.New(watchDebounce)
	path, err := loader.Watch(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		debounced(func() {
			if ctx.Err() != nil {
				return
			}
			rctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			err := d.Reload(rctx, nil)
			if errors.Is(err, daemon.ErrReloadPending) {
				logger.Info("config accepted, model still loading", "file", ev.Name)
				return
			}
			if err != nil {
				logger.Error("reload failed", "file", ev.Name, "error", err)
				return
			}
			logger.Info("config reloaded", "file", ev.Name)
		})
	})
	if errors.Is(err, config.ErrNoConfigFile) {
		logger.Warn("--watch given but no config file exists")
		return
	}
	if err != nil {
		logger.Error("watching config", "error", err)
		return
	}
	logger.Info("watching config", "file", path)
}

func printBanner(cfg *config.Config, sources []string) {
	tpl := `{{ .Title "stt-daemon" "" 0 }}
  Version:  ` + version + `
  Model:    ` + cfg.ModelPath + `
  Language: ` + cfg.Language + `
  Audio:    ` + fmt.Sprintf("%dHz, %dch, max %ds", cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.MaxRecordingSeconds) + `
  Socket:   ` + cfg.Socket.Path + `
  Config:   ` + fmt.Sprint(sources) + `
`
	banner.Init(os.Stdout, true, false, bytes.NewBufferString(tpl))
}
