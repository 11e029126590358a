// Package dictation turns control tokens into daemon requests and delivers
// the resulting transcripts to the desktop.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/airvzxf/stt-assistant/internal/control"
)

// ErrUnknownToken is returned by Handle for tokens it does not understand.
var ErrUnknownToken = errors.New("unknown control token")

// Mode selects how a transcript is delivered.
type Mode string

const (
	ModeType Mode = "type"
	ModeCopy Mode = "copy"
)

// Daemon is the subset of the daemon client the controller drives.
// BeginStop returns once the STOP request has been sent; the returned
// function waits for its transcript.
type Daemon interface {
	Start(ctx context.Context) error
	BeginStop(ctx context.Context) (func(context.Context) (string, error), error)
	Cancel(ctx context.Context) error
}

// Injector delivers text to the active application or the clipboard.
type Injector interface {
	Inject(text string) error
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

// Options configures a Controller. Typer is required; Copier falls back to
// Typer and Notifier may be nil.
type Options struct {
	Daemon   Daemon
	Typer    Injector
	Copier   Injector
	Notifier Notifier
	Logger   *slog.Logger
	// StopTimeout bounds waiting for a transcript. Zero means no limit.
	StopTimeout time.Duration
}

// Controller keeps the toggle state of one dictation client.
type Controller struct {
	daemon      Daemon
	injectors   map[Mode]Injector
	notifier    Notifier
	logger      *slog.Logger
	stopTimeout time.Duration

	mu        sync.Mutex
	recording bool
	mode      Mode

	wg sync.WaitGroup
}

// NewController creates an idle Controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Daemon == nil {
		return nil, fmt.Errorf("dictation: nil daemon")
	}
	if opts.Typer == nil {
		return nil, fmt.Errorf("dictation: nil typer")
	}
	if opts.Copier == nil {
		opts.Copier = opts.Typer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		daemon: opts.Daemon,
		injectors: map[Mode]Injector{
			ModeType: opts.Typer,
			ModeCopy: opts.Copier,
		},
		notifier:    opts.Notifier,
		logger:      logger,
		stopTimeout: opts.StopTimeout,
		mode:        ModeType,
	}, nil
}

// Recording reports whether the controller believes a recording is active.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Handle applies one control token. Stopping sends STOP before returning and
// hands the wait for the transcript off to a background delivery, so the
// next token is not held up by transcription but cannot overtake the STOP;
// call Wait to block until deliveries finish.
func (c *Controller) Handle(ctx context.Context, token string) error {
	switch token {
	case control.TokenToggleType:
		return c.Toggle(ctx, ModeType)
	case control.TokenToggleCopy:
		return c.Toggle(ctx, ModeCopy)
	case control.TokenCancel:
		return c.Cancel(ctx)
	case control.TokenAutoStop:
		c.AutoStop(ctx)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}
}

// Toggle starts a recording in mode, or stops the active one and delivers
// its transcript in the mode it was started with.
func (c *Controller) Toggle(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	if !c.recording {
		defer c.mu.Unlock()
		if err := c.daemon.Start(ctx); err != nil {
			return fmt.Errorf("dictation: start: %w", err)
		}
		c.recording = true
		c.mode = mode
		c.logger.Info("recording", "mode", mode)
		return nil
	}
	defer c.mu.Unlock()
	c.recording = false
	return c.stop(ctx, c.mode)
}

// AutoStop collects the transcript of a recording the daemon stopped at its
// length cap and delivers it.
func (c *Controller) AutoStop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mode := ModeType
	if c.recording {
		mode = c.mode
	}
	c.recording = false

	c.logger.Info("recording limit reached")
	c.notify("Recording limit reached", "Transcribing what was recorded so far")
	_ = c.stop(ctx, mode)
}

// Cancel discards the active recording or transcription.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	c.recording = false
	c.mu.Unlock()

	if err := c.daemon.Cancel(ctx); err != nil {
		return fmt.Errorf("dictation: cancel: %w", err)
	}
	c.logger.Info("cancelled")
	return nil
}

// Wait blocks until every background delivery has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// stop sends STOP and starts the delivery of its transcript. c.mu is held.
func (c *Controller) stop(ctx context.Context, mode Mode) error {
	wait, err := c.daemon.BeginStop(ctx)
	if err != nil {
		c.logger.Error("stop failed", "error", err)
		c.notify("Transcription failed", err.Error())
		return fmt.Errorf("dictation: stop: %w", err)
	}
	c.deliver(ctx, mode, wait)
	return nil
}

func (c *Controller) deliver(ctx context.Context, mode Mode, wait func(context.Context) (string, error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if c.stopTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.stopTimeout)
			defer cancel()
		}

		start := time.Now()
		text, err := wait(ctx)
		if err != nil {
			c.logger.Error("stop failed", "error", err)
			c.notify("Transcription failed", err.Error())
			return
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "ERROR:") {
			c.logger.Info("nothing to deliver", "response", text, "elapsed", time.Since(start).Round(time.Millisecond))
			return
		}

		if err := c.injectors[mode].Inject(text); err != nil {
			c.logger.Error("delivery failed", "mode", mode, "error", err)
			c.notify("Delivery failed", err.Error())
			return
		}
		c.logger.Info("transcript delivered", "mode", mode, "chars", len(text), "elapsed", time.Since(start).Round(time.Millisecond))
	}()
}

func (c *Controller) notify(title, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(title, message); err != nil {
		c.logger.Debug("notification failed", "error", err)
	}
}
