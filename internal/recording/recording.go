// Package recording archives recorded segments as 16-bit PCM WAV files.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// now is swapped in tests.
var now = time.Now

// Save writes samples as a mono WAV file under dir and returns its path.
// Samples are clamped to [-1, 1] before conversion. The directory is created
// if needed.
func Save(dir string, id uint64, samples []float32, sampleRate uint32) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("recording: empty directory")
	}
	if sampleRate == 0 {
		return "", fmt.Errorf("recording: invalid sample rate 0")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("recording: create dir: %w", err)
	}

	name := fmt.Sprintf("segment-%s-%04d.wav", now().Format("20060102-150405"), id)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("recording: create file: %w", err)
	}

	enc := wav.NewEncoder(f, int(sampleRate), bitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: int(sampleRate)},
		Data:           toPCM16(samples),
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("recording: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("recording: finalize: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("recording: close: %w", err)
	}
	return path, nil
}

func toPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		out[i] = int(s * 32767)
	}
	return out
}
