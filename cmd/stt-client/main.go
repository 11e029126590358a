package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/airvzxf/stt-assistant/internal/client"
	"github.com/airvzxf/stt-assistant/internal/config"
	"github.com/airvzxf/stt-assistant/internal/control"
)

const usage = `Usage: stt-client [global flags] <command> [flags]

Daemon commands:
  start         begin recording
  stop          stop recording and print the transcript
  cancel        discard the current recording
  status        show daemon status
  refresh       reload the daemon config (--config sends a file)

Listener commands:
  listen        run the dictation listener on the control socket
  toggle-type   start/stop dictation, typing the result
  toggle-copy   start/stop dictation, copying the result
  auto-stop     deliver the result of a recording stopped at its limit

Global flags:
`

// globals are the flags shared by every subcommand.
type globals struct {
	configPath  string
	socketPath  string
	controlPath string
	timeout     time.Duration
}

func main() {
	var g globals
	fs := pflag.NewFlagSet("stt-client", pflag.ExitOnError)
	fs.SetInterspersed(false)
	fs.StringVarP(&g.configPath, "config", "c", "", "config file used to find the sockets")
	fs.StringVar(&g.socketPath, "socket", "", "daemon socket (default from config)")
	fs.StringVar(&g.controlPath, "control", "", "listener control socket (default from config)")
	fs.DurationVar(&g.timeout, "timeout", 5*time.Minute, "how long to wait for the daemon")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	if err := dispatch(g, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "stt-client: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(g globals, cmd string, args []string) error {
	cfg := g.resolve()

	if cmd == "listen" {
		return runListen(cfg, args)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	c := client.New(cfg.Socket.Path)

	switch cmd {
	case "start":
		if err := c.Start(ctx); err != nil {
			return err
		}
		fmt.Println("Recording")
		return nil

	case "stop":
		text, err := c.Stop(ctx)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil

	case "cancel":
		// A running listener resets its toggle state and cancels in turn.
		if err := control.Send(ctx, cfg.Socket.ControlPath, control.TokenCancel); err == nil {
			return nil
		}
		if err := c.Cancel(ctx); err != nil {
			return err
		}
		fmt.Println("Cancelled")
		return nil

	case "status":
		return runStatus(ctx, c, args)

	case "refresh":
		return runRefresh(ctx, c, args)

	case "toggle-type":
		return control.Send(ctx, cfg.Socket.ControlPath, control.TokenToggleType)
	case "toggle-copy":
		return control.Send(ctx, cfg.Socket.ControlPath, control.TokenToggleCopy)
	case "auto-stop":
		return control.Send(ctx, cfg.Socket.ControlPath, control.TokenAutoStop)

	default:
		return fmt.Errorf("unknown command %q (run stt-client --help)", cmd)
	}
}

// resolve loads the socket paths from the usual config sources, letting the
// command-line flags override them. A broken config falls back to defaults.
func (g globals) resolve() *config.Config {
	cfg, err := config.NewLoader(g.configPath, nil).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stt-client: warning: %v, using defaults\n", err)
		cfg = config.Default()
	}
	if g.socketPath != "" {
		cfg.Socket.Path = g.socketPath
	}
	if g.controlPath != "" {
		cfg.Socket.ControlPath = g.controlPath
	}
	return cfg
}

func runStatus(ctx context.Context, c *client.Client, args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the raw JSON status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		data, _ := json.Marshal(st)
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Active:    %t\n", st.Active)
	fmt.Printf("PID:       %d\n", st.PID)
	fmt.Printf("Model:     %s\n", st.ModelPath)
	fmt.Printf("Language:  %s\n", st.Language)
	fmt.Printf("Max:       %ds\n", st.MaxRecordingSeconds)
	return nil
}

func runRefresh(ctx context.Context, c *client.Client, args []string) error {
	fs := pflag.NewFlagSet("refresh", pflag.ContinueOnError)
	file := fs.String("config", "", "send this config file instead of letting the daemon re-read its own")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	if *file != "" {
		var err error
		cfg, err = config.Load(*file)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if err := c.Refresh(ctx, cfg); err != nil {
		if errors.Is(err, client.ErrReloadPending) {
			fmt.Println("Reload accepted, model still loading")
			return nil
		}
		if errors.Is(err, client.ErrDaemon) {
			return fmt.Errorf("refresh rejected: %w", err)
		}
		return err
	}
	fmt.Println("OK")
	return nil
}
