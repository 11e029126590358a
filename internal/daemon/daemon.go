// Package daemon implements the recording session loop and the unix socket
// command protocol in front of it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airvzxf/stt-assistant/internal/audio"
	"github.com/airvzxf/stt-assistant/internal/config"
	"github.com/airvzxf/stt-assistant/internal/control"
	"github.com/airvzxf/stt-assistant/internal/transcribe"
)

// DefaultTickInterval is how often captured audio is drained into the session.
const DefaultTickInterval = 5 * time.Millisecond

// Notifier receives control tokens such as AUTO_STOP. Notify must not block.
type Notifier interface {
	Notify(token string)
}

// LoaderFunc re-reads the configuration sources for a bare REFRESH.
type LoaderFunc func() (*config.Config, error)

// Options configures a Daemon.
type Options struct {
	// Config is the initial configuration. Its ModelPath should already be
	// resolved and match Backend.
	Config *config.Config
	// Buffer is the capture ring buffer the loop drains.
	Buffer *audio.SampleBuffer
	// Backend is the loaded transcription backend. The daemon owns it.
	Backend transcribe.Transcriber
	// Factory loads a replacement backend when model_path changes.
	Factory transcribe.Factory
	// Loader serves REFRESH without a payload. Optional.
	Loader LoaderFunc
	// Notifier receives AUTO_STOP. Optional.
	Notifier Notifier
	Logger   *slog.Logger
	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdCancel
	cmdStatus
	cmdReload
)

type command struct {
	kind   commandKind
	stop   *reply[StopResult]
	status *reply[Status]
	reload *reply[error]
	cfg    *config.Config
}

type pendingReload struct {
	id  uint64
	cfg *config.Config
	r   *reply[error]
}

// Daemon owns the session and the current configuration. All state changes
// happen on the goroutine running Run.
type Daemon struct {
	cmds   chan command
	done   chan struct{}
	worker *transcribe.Worker
	buffer *audio.SampleBuffer
	loader LoaderFunc
	notify Notifier
	logger *slog.Logger
	tick   time.Duration
	pid    int

	// current mirrors cfg for readers outside the loop.
	current atomic.Pointer[config.Config]

	// loop-owned
	cfg         *config.Config
	session     *Session
	scratch     []float32
	backlog     []transcribe.Task
	loading     *pendingReload
	deferred    []pendingReload
	nextLoadID  uint64
	lastDropped uint64
}

// New creates a Daemon. Call Run to start it.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("daemon: nil config")
	}
	if opts.Buffer == nil {
		return nil, fmt.Errorf("daemon: nil sample buffer")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	cfg := opts.Config
	scratch := int(cfg.Audio.SampleRate) / 10
	if scratch < 256 {
		scratch = 256
	}

	d := &Daemon{
		cmds:    make(chan command, 64),
		done:    make(chan struct{}),
		worker:  transcribe.NewWorker(opts.Factory, opts.Backend, logger.With("component", "worker")),
		buffer:  opts.Buffer,
		loader:  opts.Loader,
		notify:  opts.Notifier,
		logger:  logger,
		tick:    tick,
		pid:     os.Getpid(),
		cfg:     cfg,
		session: NewSession(cfg.MaxSamples(), cfg.MinSamples()),
		scratch: make([]float32, scratch),
	}
	d.current.Store(cfg)
	return d, nil
}

// Config returns a copy of the configuration in effect. A reload that is
// still loading its model is not reflected until it commits.
func (d *Daemon) Config() *config.Config {
	return d.current.Load().Clone()
}

// Run runs the session loop and the transcription worker until ctx is
// cancelled. Outstanding requests are dropped on return.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.worker.Run(ctx) })
	g.Go(func() error {
		defer close(d.done)
		return d.loop(ctx)
	})
	return g.Wait()
}

// Done is closed once the session loop has exited.
func (d *Daemon) Done() <-chan struct{} { return d.done }

// Start opens a new recording.
func (d *Daemon) Start(ctx context.Context) error {
	return d.send(ctx, command{kind: cmdStart})
}

// Stop ends the recording and waits for its transcript.
func (d *Daemon) Stop(ctx context.Context) (StopResult, error) {
	r := newReply[StopResult]()
	if err := d.send(ctx, command{kind: cmdStop, stop: r}); err != nil {
		return StopResult{}, err
	}
	return r.wait(ctx, d.done)
}

// Cancel abandons the current recording or transcription.
func (d *Daemon) Cancel(ctx context.Context) error {
	return d.send(ctx, command{kind: cmdCancel})
}

// Status returns a snapshot of the session.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	r := newReply[Status]()
	if err := d.send(ctx, command{kind: cmdStatus, status: r}); err != nil {
		return Status{}, err
	}
	return r.wait(ctx, d.done)
}

// Reload replaces the configuration. A nil cfg re-reads the configured
// sources. The new config is validated and its model resolved here, on the
// caller's goroutine; a model change is loaded by the worker after any queued
// transcription. On error the running configuration is left untouched.
func (d *Daemon) Reload(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		if d.loader == nil {
			return fmt.Errorf("no config source to refresh from")
		}
		loaded, err := d.loader()
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.WithResolvedModel()

	r := newReply[error]()
	if err := d.send(ctx, command{kind: cmdReload, reload: r, cfg: cfg}); err != nil {
		return err
	}
	res, err := r.wait(ctx, d.done)
	if errors.Is(err, context.DeadlineExceeded) {
		// The loop owns the request now and will still apply it.
		return fmt.Errorf("%w: %v", ErrReloadPending, err)
	}
	if err != nil {
		return err
	}
	return res
}

func (d *Daemon) send(ctx context.Context, cmd command) error {
	select {
	case <-d.done:
		return ErrDaemonClosed
	default:
	}
	select {
	case d.cmds <- cmd:
		return nil
	case <-d.done:
		return ErrDaemonClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	d.logger.Info("session loop started",
		"model", d.cfg.ModelPath,
		"language", d.cfg.Language,
		"max_recording_seconds", d.cfg.MaxRecordingSeconds,
	)

	for {
		// Only offer the next task while there is one.
		var tasks chan<- transcribe.Task
		var next transcribe.Task
		if len(d.backlog) > 0 {
			tasks = d.worker.Tasks()
			next = d.backlog[0]
		}

		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case cmd := <-d.cmds:
			d.handle(cmd)
		case tasks <- next:
			d.backlog = d.backlog[1:]
		case out := <-d.worker.Results():
			d.complete(out)
		case <-ticker.C:
			d.drain()
		}
	}
}

func (d *Daemon) handle(cmd command) {
	switch cmd.kind {
	case cmdStart:
		d.drain()
		prev := d.session.State()
		d.session.Start()
		d.logger.Info("recording started", "previous_state", prev)

	case cmdStop:
		d.drain()
		prev := d.session.State()
		samples := d.session.SegmentLen()
		if job := d.session.Stop(cmd.stop); job != nil {
			d.logger.Info("recording stopped",
				"samples", samples,
				"seconds", float64(samples)/float64(d.cfg.Audio.SampleRate),
			)
			d.submit(job)
		} else if prev == Recording {
			d.logger.Info("recording too short, skipping transcription", "samples", samples)
		}

	case cmdCancel:
		d.session.Cancel()
		d.logger.Info("session cancelled")

	case cmdStatus:
		cmd.status.resolve(d.status())

	case cmdReload:
		d.reload(cmd.cfg, cmd.reload)
	}
}

func (d *Daemon) status() Status {
	state := d.session.State()
	return Status{
		Active:              state != Idle,
		PID:                 d.pid,
		ModelPath:           d.cfg.ModelPath,
		Language:            d.cfg.Language,
		MaxRecordingSeconds: d.cfg.MaxRecordingSeconds,
		State:               state.String(),
	}
}

// drain moves everything captured so far into the session.
func (d *Daemon) drain() {
	for {
		n := d.buffer.DrainInto(d.scratch)
		if n == 0 {
			break
		}
		d.tickSession(d.scratch[:n])
		if n < len(d.scratch) {
			break
		}
	}

	if dropped := d.buffer.Dropped(); dropped != d.lastDropped {
		d.logger.Warn("capture buffer overflow, samples dropped", "total_dropped", dropped)
		d.lastDropped = dropped
	}
}

func (d *Daemon) tickSession(samples []float32) {
	job, auto := d.session.Tick(samples)
	if job == nil {
		return
	}
	if auto {
		d.logger.Info("recording limit reached, auto-stopping",
			"max_recording_seconds", d.cfg.MaxRecordingSeconds,
		)
		if d.notify != nil {
			d.notify.Notify(control.TokenAutoStop)
		}
	}
	d.submit(job)
}

func (d *Daemon) submit(job *Job) {
	d.backlog = append(d.backlog, transcribe.Task{
		ID:         job.ID,
		Kind:       transcribe.TaskTranscribe,
		Samples:    job.Samples,
		Language:   d.cfg.Language,
		SampleRate: d.cfg.Audio.SampleRate,
		ArchiveDir: d.cfg.RecordingsDir,
	})
}

func (d *Daemon) complete(out transcribe.Outcome) {
	switch out.Kind {
	case transcribe.TaskTranscribe:
		text := out.Text
		if out.Err != nil {
			d.logger.Error("transcription failed", "id", out.ID, "error", out.Err)
			text = "ERROR: Transcription failed: " + out.Err.Error()
		} else {
			d.logger.Info("transcription finished", "id", out.ID, "elapsed", out.Elapsed.Round(time.Millisecond), "chars", len(text))
		}
		d.session.Complete(out.ID, text)

	case transcribe.TaskLoad:
		p := d.loading
		if p == nil || p.id != out.ID {
			return
		}
		d.loading = nil
		if out.Err != nil {
			d.logger.Error("model reload failed, keeping current model", "model", p.cfg.ModelPath, "error", out.Err)
			p.r.resolve(out.Err)
		} else {
			d.commit(p.cfg)
			d.restampBacklog()
			d.logger.Info("model reloaded", "model", p.cfg.ModelPath, "elapsed", out.Elapsed.Round(time.Millisecond))
			p.r.resolve(nil)
		}
		for d.loading == nil && len(d.deferred) > 0 {
			next := d.deferred[0]
			d.deferred = d.deferred[1:]
			d.reload(next.cfg, next.r)
		}
	}
}

// reload applies the reloadable fields of next. It runs on the loop.
func (d *Daemon) reload(next *config.Config, r *reply[error]) {
	if d.loading != nil {
		d.deferred = append(d.deferred, pendingReload{cfg: next, r: r})
		return
	}

	merged := d.cfg.Clone()
	merged.ModelPath = next.ModelPath
	merged.Language = next.Language
	merged.MaxRecordingSeconds = next.MaxRecordingSeconds
	merged.MinRecordingMS = next.MinRecordingMS
	merged.RecordingsDir = next.RecordingsDir
	d.logIgnored(next)

	if merged.ModelPath == d.cfg.ModelPath {
		d.commit(merged)
		d.logger.Info("config reloaded", "language", merged.Language, "max_recording_seconds", merged.MaxRecordingSeconds)
		r.resolve(nil)
		return
	}

	d.nextLoadID++
	d.loading = &pendingReload{id: d.nextLoadID, cfg: merged, r: r}
	d.backlog = append(d.backlog, transcribe.Task{
		ID:        d.nextLoadID,
		Kind:      transcribe.TaskLoad,
		ModelPath: merged.ModelPath,
	})
	d.logger.Info("loading new model", "model", merged.ModelPath, "queued_tasks", len(d.backlog)-1)
}

func (d *Daemon) logIgnored(next *config.Config) {
	if next.Audio != d.cfg.Audio {
		d.logger.Warn("audio settings changed, restart required to apply")
	}
	if next.Socket != d.cfg.Socket {
		d.logger.Warn("socket settings changed, restart required to apply")
	}
	if next.Log != d.cfg.Log {
		d.logger.Warn("log settings changed, restart required to apply")
	}
	if next.RequestTimeout != d.cfg.RequestTimeout {
		d.logger.Warn("request_timeout changed, restart required to apply")
	}
}

func (d *Daemon) commit(cfg *config.Config) {
	d.cfg = cfg
	d.current.Store(cfg)
	d.session.SetLimits(cfg.MaxSamples(), cfg.MinSamples())
	// A lowered cap may already be exceeded by the open segment.
	if d.session.State() == Recording && d.session.SegmentLen() >= cfg.MaxSamples() {
		d.tickSession(nil)
	}
}

// restampBacklog applies the committed settings to transcriptions that were
// queued behind a model load.
func (d *Daemon) restampBacklog() {
	for i := range d.backlog {
		if d.backlog[i].Kind != transcribe.TaskTranscribe {
			continue
		}
		d.backlog[i].Language = d.cfg.Language
		d.backlog[i].ArchiveDir = d.cfg.RecordingsDir
	}
}

func (d *Daemon) shutdown() {
	d.session.Shutdown()
	if d.loading != nil {
		d.loading.r.drop()
		d.loading = nil
	}
	for _, p := range d.deferred {
		p.r.drop()
	}
	d.deferred = nil
	d.backlog = nil

	for {
		select {
		case cmd := <-d.cmds:
			switch {
			case cmd.stop != nil:
				cmd.stop.drop()
			case cmd.status != nil:
				cmd.status.drop()
			case cmd.reload != nil:
				cmd.reload.drop()
			}
		default:
			d.logger.Info("session loop stopped")
			return
		}
	}
}
