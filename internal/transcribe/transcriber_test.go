package transcribe

import (
	"errors"
	"testing"
)

func TestCheckSampleRate(t *testing.T) {
	if err := CheckSampleRate(WhisperSampleRate); err != nil {
		t.Errorf("CheckSampleRate(%d) error = %v", WhisperSampleRate, err)
	}
	for _, rate := range []uint32{8000, 44100, 48000} {
		if err := CheckSampleRate(rate); !errors.Is(err, ErrSampleRate) {
			t.Errorf("CheckSampleRate(%d) error = %v, want ErrSampleRate", rate, err)
		}
	}
}
