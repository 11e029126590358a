package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/airvzxf/stt-assistant/internal/recording"
)

// TaskKind selects what a Task asks the worker to do.
type TaskKind int

const (
	// TaskTranscribe runs the current backend over Task.Samples.
	TaskTranscribe TaskKind = iota
	// TaskLoad loads Task.ModelPath and swaps it in as the current backend.
	TaskLoad
)

func (k TaskKind) String() string {
	switch k {
	case TaskTranscribe:
		return "transcribe"
	case TaskLoad:
		return "load"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// Task is a unit of work for the Worker.
type Task struct {
	ID   uint64
	Kind TaskKind

	// TaskTranscribe
	Samples    []float32
	Language   string
	SampleRate uint32
	ArchiveDir string

	// TaskLoad
	ModelPath string
}

// Outcome reports a finished Task.
type Outcome struct {
	ID      uint64
	Kind    TaskKind
	Text    string
	Err     error
	Elapsed time.Duration
}

// Worker owns the transcription backend and runs tasks strictly one at a
// time, in submission order. A load therefore never interrupts a
// transcription that was queued before it.
type Worker struct {
	factory Factory
	backend Transcriber
	logger  *slog.Logger

	tasks   chan Task
	results chan Outcome
}

// NewWorker creates a worker around an already loaded backend. The worker
// closes the backend (and any backend it later loads) when Run returns.
func NewWorker(factory Factory, backend Transcriber, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		factory: factory,
		backend: backend,
		logger:  logger,
		tasks:   make(chan Task),
		results: make(chan Outcome),
	}
}

// Tasks is the submission channel. Sends block until the worker is idle.
func (w *Worker) Tasks() chan<- Task { return w.tasks }

// Results delivers one Outcome per accepted Task.
func (w *Worker) Results() <-chan Outcome { return w.results }

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.closeBackend()

	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-w.tasks:
			out := w.process(task)
			select {
			case w.results <- out:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *Worker) process(task Task) Outcome {
	start := time.Now()
	out := Outcome{ID: task.ID, Kind: task.Kind}

	switch task.Kind {
	case TaskTranscribe:
		w.archive(task)
		if w.backend == nil {
			out.Err = ErrNoBackend
			break
		}
		out.Text, out.Err = w.backend.Transcribe(task.Samples, task.Language)
	case TaskLoad:
		out.Err = w.load(task.ModelPath)
	default:
		out.Err = fmt.Errorf("transcribe: unknown task kind %v", task.Kind)
	}

	out.Elapsed = time.Since(start)
	w.logger.Debug("task finished", "id", task.ID, "kind", task.Kind, "elapsed", out.Elapsed, "error", out.Err)
	return out
}

// load replaces the backend only after the new one loaded successfully.
func (w *Worker) load(modelPath string) error {
	if w.factory == nil {
		return fmt.Errorf("transcribe: no backend factory")
	}
	next, err := w.factory(modelPath)
	if err != nil {
		return err
	}
	w.closeBackend()
	w.backend = next
	w.logger.Info("backend loaded", "model", modelPath)
	return nil
}

func (w *Worker) archive(task Task) {
	if task.ArchiveDir == "" || len(task.Samples) == 0 {
		return
	}
	path, err := recording.Save(task.ArchiveDir, task.ID, task.Samples, task.SampleRate)
	if err != nil {
		w.logger.Warn("archiving segment failed", "id", task.ID, "error", err)
		return
	}
	w.logger.Debug("segment archived", "id", task.ID, "path", path)
}

func (w *Worker) closeBackend() {
	if w.backend == nil {
		return
	}
	if err := w.backend.Close(); err != nil {
		w.logger.Warn("closing backend", "error", err)
	}
	w.backend = nil
}
