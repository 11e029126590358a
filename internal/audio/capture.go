// Package audio captures microphone input with malgo and hands mono float32
// samples to the daemon through a lock-free SampleBuffer.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Capture streams audio from the default microphone into a SampleBuffer.
// Unlike a push-to-talk recorder it runs for the whole daemon lifetime; the
// session loop decides which samples belong to a recording.
type Capture struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32
	sink       *SampleBuffer

	mu      sync.Mutex
	device  *malgo.Device
	running bool
}

// NewCapture creates a capture bound to sink. Call Close() when done.
func NewCapture(sampleRate, channels uint32, sink *SampleBuffer) (*Capture, error) {
	if sink == nil {
		return nil, fmt.Errorf("audio: nil sample buffer")
	}
	if channels == 0 {
		channels = 1
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}

	return &Capture{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		sink:       sink,
	}, nil
}

// Start opens the default capture device and begins streaming samples.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("already capturing")
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = c.channels
	deviceCfg.SampleRate = c.sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: c.onData,
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return fmt.Errorf("initializing capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting capture device: %w", err)
	}

	c.device = device
	c.running = true
	return nil
}

// IsRunning returns whether the capture device is streaming.
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop halts the capture device. It is safe to call when not running.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.running = false
}

// Close releases all audio resources.
func (c *Capture) Close() error {
	c.Stop()

	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}

	return nil
}

// onData is the malgo callback, invoked on the device thread.
// pSample holds frameCount interleaved little-endian float32 frames.
func (c *Capture) onData(_, pSample []byte, frameCount uint32) {
	pushFrames(c.sink, pSample, frameCount, c.channels)
}

// pushFrames downmixes interleaved float32 frames to mono by averaging the
// channels and produces each frame into sink. It does not allocate. It
// returns the number of frames the buffer rejected.
func pushFrames(sink *SampleBuffer, data []byte, frameCount, channels uint32) int {
	if channels == 0 {
		return 0
	}
	frameBytes := channels * 4
	if avail := uint32(len(data)) / frameBytes; frameCount > avail {
		frameCount = avail
	}

	dropped := 0
	for f := uint32(0); f < frameCount; f++ {
		base := f * frameBytes
		var sum float32
		for ch := uint32(0); ch < channels; ch++ {
			off := base + ch*4
			sum += math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		}
		if !sink.Produce(sum / float32(channels)) {
			dropped++
		}
	}
	return dropped
}
