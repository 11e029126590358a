package transcribe

import (
	"fmt"
	"io"
	"os"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperTranscriber wraps a whisper.cpp model for speech-to-text.
type WhisperTranscriber struct {
	path  string
	model whisper.Model
}

// NewWhisperTranscriber loads a whisper model from the given path.
// The caller must call Close() when done.
func NewWhisperTranscriber(modelPath string) (*WhisperTranscriber, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("transcribe: model file %q: %w", modelPath, err)
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", modelPath, err)
	}
	return &WhisperTranscriber{path: modelPath, model: model}, nil
}

// ModelPath returns the file the model was loaded from.
func (t *WhisperTranscriber) ModelPath() string {
	return t.path
}

// Close releases the whisper model resources.
func (t *WhisperTranscriber) Close() error {
	if t.model != nil {
		err := t.model.Close()
		t.model = nil
		return err
	}
	return nil
}

// Transcribe converts mono 16kHz float32 audio samples to text.
// The language hint is ignored by English-only models.
func (t *WhisperTranscriber) Transcribe(samples []float32, language string) (string, error) {
	if t.model == nil {
		return "", ErrNoBackend
	}
	if len(samples) == 0 {
		return "", nil
	}

	ctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcribe: create context: %w", err)
	}

	if language != "" && t.model.IsMultilingual() {
		if err := ctx.SetLanguage(language); err != nil {
			return "", fmt.Errorf("transcribe: set language %q: %w", language, err)
		}
	}

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcribe: process: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcribe: next segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}

	return strings.TrimSpace(strings.Join(segments, " ")), nil
}
