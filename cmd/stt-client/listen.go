package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gen2brain/beeep"
	"github.com/spf13/pflag"

	"github.com/airvzxf/stt-assistant/internal/client"
	"github.com/airvzxf/stt-assistant/internal/config"
	"github.com/airvzxf/stt-assistant/internal/control"
	"github.com/airvzxf/stt-assistant/internal/dictation"
	"github.com/airvzxf/stt-assistant/internal/hotkey"
	"github.com/airvzxf/stt-assistant/internal/inject"
	"github.com/airvzxf/stt-assistant/internal/logging"
)

// desktopNotifier shows notifications through the desktop's notification
// service.
type desktopNotifier struct{}

func (desktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func runListen(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	combo := fs.String("hotkey", "", "global hotkey that toggles typing dictation, e.g. ctrl+shift+r")
	mode := fs.String("mode", hotkey.ModeToggle, "hotkey mode: hold or toggle")
	method := fs.String("method", inject.MethodType, "how toggle-type delivers text: type or paste")
	quiet := fs.Bool("quiet", false, "disable desktop notifications")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *method != inject.MethodType && *method != inject.MethodPaste {
		return fmt.Errorf("--method must be %s or %s", inject.MethodType, inject.MethodPaste)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	typer, err := inject.NewInjector(*method)
	if err != nil {
		return err
	}
	copier, err := inject.NewInjector(inject.MethodCopy)
	if err != nil {
		return err
	}

	opts := dictation.Options{
		Daemon:      client.New(cfg.Socket.Path),
		Typer:       typer,
		Copier:      copier,
		Logger:      logging.Component(logger, "dictation"),
		StopTimeout: cfg.RequestTimeout,
	}
	if !*quiet {
		opts.Notifier = desktopNotifier{}
	}
	ctrl, err := dictation.NewController(opts)
	if err != nil {
		return err
	}

	ln, err := control.ListenUnix(cfg.Socket.ControlPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var listener *hotkey.Listener
	if *combo != "" {
		keys, err := hotkey.ParseKeys(*combo)
		if err != nil {
			return err
		}
		listener, err = hotkey.NewListener(keys, *mode)
		if err != nil {
			return err
		}
		go listener.Start()
		go forwardHotkey(ctx, listener, ctrl, logger)
		logger.Info("hotkey ready", "keys", strings.Join(keys, "+"), "mode", *mode)
	}

	logger.Info("listening for control tokens", "socket", cfg.Socket.ControlPath, "daemon", cfg.Socket.Path)
	server := control.NewServer(logging.Component(logger, "control"))
	err = server.Serve(ctx, ln, func(token string) {
		if err := ctrl.Handle(ctx, token); err != nil {
			logger.Error("handling control token", "token", token, "error", err)
		}
	})
	ctrl.Wait()

	if listener != nil {
		listener.Stop()
		// Exit directly to avoid gohook's C cleanup crash.
		// The OS reclaims the event hook on process exit.
		if err != nil {
			fmt.Fprintf(os.Stderr, "stt-client: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	return err
}

// forwardHotkey turns hotkey start/stop events into toggles of typing
// dictation.
func forwardHotkey(ctx context.Context, l *hotkey.Listener, ctrl *dictation.Controller, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.Events():
			if !ok {
				return
			}
			if (ev.Type == hotkey.EventStart) == ctrl.Recording() {
				continue
			}
			if err := ctrl.Toggle(ctx, dictation.ModeType); err != nil {
				logger.Error("hotkey toggle", "event", ev.Type, "error", err)
			}
		}
	}
}
