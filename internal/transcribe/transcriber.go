// Package transcribe provides the speech-to-text port used by the daemon and
// the whisper.cpp backend behind it.
package transcribe

import (
	"errors"
	"fmt"
)

// WhisperSampleRate is the only input rate whisper.cpp accepts. Nothing on
// the capture path resamples.
const WhisperSampleRate = 16000

var (
	// ErrNoBackend is returned when a transcription is requested before any
	// backend has been loaded.
	ErrNoBackend = errors.New("transcribe: no backend loaded")
	// ErrSampleRate is returned by CheckSampleRate.
	ErrSampleRate = errors.New("transcribe: unsupported sample rate")
)

// CheckSampleRate reports whether audio captured at rate can be handed to
// the whisper backend as is.
func CheckSampleRate(rate uint32) error {
	if rate != WhisperSampleRate {
		return fmt.Errorf("%w: %d Hz, whisper needs %d Hz", ErrSampleRate, rate, WhisperSampleRate)
	}
	return nil
}

// Transcriber converts audio samples to text.
type Transcriber interface {
	// Transcribe converts mono float32 samples at the configured sample rate
	// to text. An empty language lets the backend auto-detect.
	Transcribe(samples []float32, language string) (string, error)
	// Close releases backend resources.
	Close() error
}

// Factory loads a backend for the given model file.
type Factory func(modelPath string) (Transcriber, error)

// New is the default Factory and loads a whisper.cpp model.
func New(modelPath string) (Transcriber, error) {
	return NewWhisperTranscriber(modelPath)
}
