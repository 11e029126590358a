// Package hotkey provides a global hotkey listener using gohook.
// It supports "hold" mode (press to start, release to stop) and
// "toggle" mode (press to start, press again to stop).
package hotkey

import (
	"fmt"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// Listener modes.
const (
	ModeHold   = "hold"
	ModeToggle = "toggle"
)

// EventType indicates whether recording should start or stop.
type EventType int

const (
	// EventStart signals that the hotkey was activated (start recording).
	EventStart EventType = iota
	// EventStop signals that the hotkey was deactivated (stop recording).
	EventStop
)

func (t EventType) String() string {
	if t == EventStart {
		return "start"
	}
	return "stop"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// ParseKeys splits a combo such as "ctrl+shift+r" into lowercase key names.
func ParseKeys(combo string) ([]string, error) {
	if strings.TrimSpace(combo) == "" {
		return nil, fmt.Errorf("hotkey: empty key combo")
	}
	parts := strings.Split(combo, "+")
	keys := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		k := strings.ToLower(strings.TrimSpace(p))
		if k == "" {
			return nil, fmt.Errorf("hotkey: empty key in %q", combo)
		}
		if seen[k] {
			return nil, fmt.Errorf("hotkey: duplicate key %q in %q", k, combo)
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys, nil
}

// ValidMode reports whether mode is "hold" or "toggle".
func ValidMode(mode string) bool {
	return mode == ModeHold || mode == ModeToggle
}

// Listener manages a global hotkey and emits start/stop events.
type Listener struct {
	keys []string
	mode string
	ch   chan Event
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	recording bool
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
func NewListener(keys []string, mode string) (*Listener, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hotkey: no keys")
	}
	if !ValidMode(mode) {
		return nil, fmt.Errorf("hotkey: unknown mode %q (want %s or %s)", mode, ModeHold, ModeToggle)
	}
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}, nil
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	switch l.mode {
	case ModeToggle:
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.press() })
	default:
		hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.down() })
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.up() })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// press flips the toggle state.
func (l *Listener) press() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recording {
		l.emit(EventStop)
	} else {
		l.emit(EventStart)
	}
	l.recording = !l.recording
}

// down and up drive hold mode. Key repeat sends several KeyDown events for
// one press; only the first one starts a recording.
func (l *Listener) down() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.recording {
		l.recording = true
		l.emit(EventStart)
	}
}

func (l *Listener) up() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recording {
		l.recording = false
		l.emit(EventStop)
	}
}

func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default: // don't block if channel is full
	}
}
