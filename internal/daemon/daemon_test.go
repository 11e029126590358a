package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airvzxf/stt-assistant/internal/audio"
	"github.com/airvzxf/stt-assistant/internal/config"
	"github.com/airvzxf/stt-assistant/internal/control"
	"github.com/airvzxf/stt-assistant/internal/transcribe"
)

const testRate = 1000

type fakeBackend struct {
	model string
	text  string
	err   error
	// gate, when set, blocks Transcribe until it is closed.
	gate chan struct{}

	mu      sync.Mutex
	lengths []int
	langs   []string
	closed  bool
}

func (f *fakeBackend) Transcribe(samples []float32, language string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lengths = append(f.lengths, len(samples))
	f.langs = append(f.langs, language)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.lengths...)
}

func (f *fakeBackend) languages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.langs...)
}

func (f *fakeBackend) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeNotifier struct {
	mu     sync.Mutex
	tokens []string
}

func (n *fakeNotifier) Notify(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
}

func (n *fakeNotifier) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tokens...)
}

type fakeFactory struct {
	mu       sync.Mutex
	loads    []string
	backends map[string]*fakeBackend
}

func (f *fakeFactory) load(path string) (transcribe.Transcriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, path)
	if b, ok := f.backends[path]; ok {
		return b, nil
	}
	return nil, errors.New("model not found: " + path)
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

type harness struct {
	d        *Daemon
	cfg      *config.Config
	buf      *audio.SampleBuffer
	backend  *fakeBackend
	factory  *fakeFactory
	notifier *fakeNotifier
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ModelPath = "base.bin"
	cfg.Audio.SampleRate = testRate
	cfg.MaxRecordingSeconds = 2
	return cfg
}

func newHarness(t *testing.T, backend *fakeBackend, mutate func(*Options)) *harness {
	t.Helper()
	if backend == nil {
		backend = &fakeBackend{text: "hello world"}
	}
	h := &harness{
		cfg:      testConfig(),
		backend:  backend,
		factory:  &fakeFactory{backends: map[string]*fakeBackend{}},
		notifier: &fakeNotifier{},
	}
	h.buf = audio.NewSampleBuffer(h.cfg.BufferSamples())

	opts := Options{
		Config:       h.cfg,
		Buffer:       h.buf,
		Backend:      backend,
		Factory:      h.factory.load,
		Notifier:     h.notifier,
		TickInterval: time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}

	d, err := New(opts)
	require.NoError(t, err)
	h.d = d

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()
	t.Cleanup(func() {
		if backend.gate != nil {
			select {
			case <-backend.gate:
			default:
				close(backend.gate)
			}
		}
		cancel()
		select {
		case err := <-runErr:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return h
}

func (h *harness) ctx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// start opens a recording and waits until the loop has processed it.
func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.d.Start(h.ctx(t)))
	_, err := h.d.Status(h.ctx(t))
	require.NoError(t, err)
}

func (h *harness) feed(n int) {
	for i := 0; i < n; i++ {
		h.buf.Produce(0.1)
	}
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.d.Status(h.ctx(t))
	require.NoError(t, err)
	return st
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		st, err := h.d.Status(ctx)
		return err == nil && st.State == want.String()
	}, 3*time.Second, 2*time.Millisecond, "state never became %s", want)
}

func TestDaemonStopReturnsTranscript(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.start(t)
	h.feed(testRate)

	res, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.NoError(t, res.Err)

	st := h.status(t)
	assert.Equal(t, "Idle", st.State)
	assert.False(t, st.Active)
	assert.Equal(t, []int{testRate}, h.backend.calls())
	assert.Equal(t, []string{"es"}, h.backend.languages())
}

func TestDaemonStatusSnapshot(t *testing.T) {
	h := newHarness(t, nil, nil)

	st := h.status(t)
	assert.Equal(t, "Idle", st.State)
	assert.False(t, st.Active)
	assert.Equal(t, "base.bin", st.ModelPath)
	assert.Equal(t, "es", st.Language)
	assert.Equal(t, uint32(2), st.MaxRecordingSeconds)
	assert.NotZero(t, st.PID)

	h.start(t)
	st = h.status(t)
	assert.Equal(t, "Recording", st.State)
	assert.True(t, st.Active)
}

func TestDaemonStopWhileIdle(t *testing.T) {
	h := newHarness(t, nil, nil)

	res, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, StopResult{}, res)
	assert.Empty(t, h.backend.calls())
}

func TestDaemonTranscriptionFailure(t *testing.T) {
	h := newHarness(t, &fakeBackend{err: errors.New("decoder exploded")}, nil)

	h.start(t)
	h.feed(100)
	res, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "ERROR: Transcription failed: decoder exploded", res.Text)
	assert.Equal(t, "Idle", h.status(t).State)
}

func TestDaemonAutoStop(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.start(t)
	h.feed(h.cfg.MaxSamples() + 500)

	h.waitState(t, Idle)
	require.Eventually(t, func() bool { return len(h.backend.calls()) == 1 }, 3*time.Second, 2*time.Millisecond)
	assert.Equal(t, []int{h.cfg.MaxSamples()}, h.backend.calls())
	assert.Equal(t, []string{control.TokenAutoStop}, h.notifier.got())

	// The result waits for the next STOP.
	res, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)

	res, err = h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
}

func TestDaemonAutoStopPassesThroughProcessing(t *testing.T) {
	h := newHarness(t, &fakeBackend{text: "capped", gate: make(chan struct{})}, nil)

	h.start(t)
	h.feed(h.cfg.MaxSamples())

	h.waitState(t, Processing)
	close(h.backend.gate)
	h.waitState(t, Idle)
	assert.Len(t, h.notifier.got(), 1)
}

func TestDaemonDoubleStartClearsSegment(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.start(t)
	h.feed(300)
	h.start(t)
	h.start(t)
	h.feed(200)

	_, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, []int{200}, h.backend.calls())
}

func TestDaemonCancelDuringProcessing(t *testing.T) {
	h := newHarness(t, &fakeBackend{text: "late", gate: make(chan struct{})}, nil)

	h.start(t)
	h.feed(100)

	stopped := make(chan StopResult, 1)
	go func() {
		res, _ := h.d.Stop(context.Background())
		stopped <- res
	}()
	h.waitState(t, Processing)

	require.NoError(t, h.d.Cancel(h.ctx(t)))

	select {
	case res := <-stopped:
		assert.ErrorIs(t, res.Err, ErrCancelled)
	case <-time.After(3 * time.Second):
		t.Fatal("STOP was left hanging after CANCEL")
	}
	assert.Equal(t, "Idle", h.status(t).State)

	// The discarded result must not surface later.
	close(h.backend.gate)
	require.Eventually(t, func() bool { return len(h.backend.calls()) == 1 }, 3*time.Second, 2*time.Millisecond)
	res, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
}

func TestDaemonSecondStopSupersedes(t *testing.T) {
	h := newHarness(t, &fakeBackend{text: "once", gate: make(chan struct{})}, nil)

	h.start(t)
	h.feed(100)

	first := make(chan StopResult, 1)
	go func() {
		res, _ := h.d.Stop(context.Background())
		first <- res
	}()
	h.waitState(t, Processing)

	second := make(chan StopResult, 1)
	go func() {
		res, _ := h.d.Stop(context.Background())
		second <- res
	}()

	select {
	case res := <-first:
		assert.ErrorIs(t, res.Err, ErrSuperseded)
	case <-time.After(3 * time.Second):
		t.Fatal("first STOP not resolved")
	}

	close(h.backend.gate)
	select {
	case res := <-second:
		assert.Equal(t, "once", res.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("second STOP not resolved")
	}
}

func TestDaemonKeepsDrainingWhileProcessing(t *testing.T) {
	h := newHarness(t, &fakeBackend{text: "t", gate: make(chan struct{})}, nil)

	h.start(t)
	h.feed(100)
	go func() { _, _ = h.d.Stop(context.Background()) }()
	h.waitState(t, Processing)

	// Audio keeps flowing into the buffer and is drained, not accumulated.
	h.feed(500)
	require.Eventually(t, func() bool { return h.buf.Len() == 0 }, 3*time.Second, 2*time.Millisecond)
	assert.Equal(t, "Processing", h.status(t).State)
	close(h.backend.gate)
}

func TestDaemonReloadSameModel(t *testing.T) {
	h := newHarness(t, nil, nil)

	next := testConfig()
	next.Language = "en"
	next.MaxRecordingSeconds = 5
	require.NoError(t, h.d.Reload(h.ctx(t), next))

	st := h.status(t)
	assert.Equal(t, "en", st.Language)
	assert.Equal(t, uint32(5), st.MaxRecordingSeconds)
	assert.Equal(t, 0, h.factory.count(), "backend must not be rebuilt")
	assert.False(t, h.backend.isClosed())

	h.start(t)
	h.feed(10)
	_, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"en"}, h.backend.languages())
}

func TestDaemonReloadInvalidModelKeepsBackend(t *testing.T) {
	h := newHarness(t, nil, nil)

	next := testConfig()
	next.ModelPath = "missing.bin"
	next.Language = "fr"
	err := h.d.Reload(h.ctx(t), next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.bin")

	st := h.status(t)
	assert.Equal(t, "base.bin", st.ModelPath)
	assert.Equal(t, "es", st.Language)
	assert.False(t, h.backend.isClosed())

	h.start(t)
	h.feed(10)
	res, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
}

func TestDaemonReloadInvalidConfig(t *testing.T) {
	h := newHarness(t, nil, nil)

	next := testConfig()
	next.MaxRecordingSeconds = 0
	err := h.d.Reload(h.ctx(t), next)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, uint32(2), h.status(t).MaxRecordingSeconds)
}

func TestDaemonReloadNewModelAfterQueuedTranscription(t *testing.T) {
	old := &fakeBackend{text: "from old", gate: make(chan struct{})}
	h := newHarness(t, old, nil)
	h.factory.backends["small.bin"] = &fakeBackend{text: "from small"}

	h.start(t)
	h.feed(100)
	stopped := make(chan StopResult, 1)
	go func() {
		res, _ := h.d.Stop(context.Background())
		stopped <- res
	}()
	h.waitState(t, Processing)

	next := testConfig()
	next.ModelPath = "small.bin"
	reloaded := make(chan error, 1)
	go func() { reloaded <- h.d.Reload(context.Background(), next) }()

	// The reload waits behind the running transcription.
	select {
	case err := <-reloaded:
		t.Fatalf("reload finished before the transcription: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(old.gate)

	select {
	case res := <-stopped:
		assert.Equal(t, "from old", res.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("STOP not resolved")
	}
	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("reload not resolved")
	}

	assert.True(t, old.isClosed())
	assert.Equal(t, "small.bin", h.status(t).ModelPath)

	h.start(t)
	h.feed(10)
	res, err := h.d.Stop(h.ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "from small", res.Text)
}

func TestDaemonReloadAppliesToTranscriptionsQueuedBehindLoad(t *testing.T) {
	old := &fakeBackend{text: "from old", gate: make(chan struct{})}
	h := newHarness(t, old, nil)
	small := &fakeBackend{text: "from small"}
	h.factory.backends["small.bin"] = small

	h.start(t)
	h.feed(100)
	first := make(chan StopResult, 1)
	go func() {
		res, _ := h.d.Stop(context.Background())
		first <- res
	}()
	h.waitState(t, Processing)

	archive := t.TempDir()
	next := testConfig()
	next.ModelPath = "small.bin"
	next.Language = "en"
	next.RecordingsDir = archive
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.d.Reload(ctx, next), ErrReloadPending)

	// Recorded and stopped while the load is still queued.
	h.start(t)
	h.feed(10)
	second := make(chan StopResult, 1)
	go func() {
		res, _ := h.d.Stop(context.Background())
		second <- res
	}()
	h.waitState(t, Processing)
	close(old.gate)

	for _, ch := range []chan StopResult{first, second} {
		select {
		case res := <-ch:
			require.NoError(t, res.Err)
		case <-time.After(3 * time.Second):
			t.Fatal("STOP not resolved")
		}
	}
	assert.Equal(t, []string{"es"}, old.languages())
	assert.Equal(t, []string{"en"}, small.languages())
	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the queued recording is archived in the new directory")
}

func TestDaemonRefreshFromLoader(t *testing.T) {
	var calls int
	h := newHarness(t, nil, func(o *Options) {
		o.Loader = func() (*config.Config, error) {
			calls++
			cfg := testConfig()
			cfg.Language = "de"
			return cfg, nil
		}
	})

	require.NoError(t, h.d.Reload(h.ctx(t), nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "de", h.status(t).Language)
}

func TestDaemonRefreshWithoutLoader(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Error(t, h.d.Reload(h.ctx(t), nil))
}

func TestDaemonShutdownResolvesWaiters(t *testing.T) {
	backend := &fakeBackend{text: "never", gate: make(chan struct{})}
	h := &harness{cfg: testConfig(), backend: backend}
	h.buf = audio.NewSampleBuffer(h.cfg.BufferSamples())
	d, err := New(Options{Config: h.cfg, Buffer: h.buf, Backend: backend, TickInterval: time.Millisecond})
	require.NoError(t, err)
	h.d = d

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	h.start(t)
	h.feed(50)
	stopErr := make(chan error, 1)
	go func() {
		_, err := d.Stop(context.Background())
		stopErr <- err
	}()
	h.waitState(t, Processing)

	cancel()
	close(backend.gate)

	select {
	case err := <-stopErr:
		assert.True(t, errors.Is(err, ErrDropped) || errors.Is(err, ErrDaemonClosed), "got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("STOP hung across shutdown")
	}
	require.NoError(t, <-runErr)

	assert.ErrorIs(t, d.Start(context.Background()), ErrDaemonClosed)
	assert.True(t, backend.isClosed())
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Buffer: audio.NewSampleBuffer(1)})
	assert.Error(t, err)
	_, err = New(Options{Config: testConfig()})
	assert.Error(t, err)
}
