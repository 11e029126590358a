package daemon

import (
	"fmt"

	"github.com/airvzxf/stt-assistant/internal/protocol"
)

// State is the recording session state.
type State int

const (
	Idle State = iota
	Recording
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return protocol.StateIdle
	case Recording:
		return protocol.StateRecording
	case Processing:
		return protocol.StateProcessing
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopResult is what a STOP request resolves to. Err is set when the
// request was cancelled or superseded; transcription failures are reported
// in Text.
type StopResult struct {
	Text string
	Err  error
}

// Job is a finished segment ready for transcription.
type Job struct {
	ID      uint64
	Samples []float32
}

type transcription struct {
	id     uint64
	waiter *reply[StopResult]
}

// Session is the recording state machine. It is not safe for concurrent use;
// the daemon loop is its only caller.
type Session struct {
	state   State
	segment []float32
	// pending holds a result nobody waited for. It is set when a
	// transcription finishes with no STOP attached and consumed by the next
	// STOP (returned) or START (discarded).
	pending *string

	current *transcription
	// detached tracks transcriptions still running after a START re-armed
	// the session while their STOP was waiting.
	detached map[uint64]*transcription
	nextID   uint64

	maxSamples int
	minSamples int
}

// NewSession creates an idle session. maxSamples caps a segment and
// minSamples is the shortest segment worth transcribing.
func NewSession(maxSamples, minSamples int) *Session {
	s := &Session{detached: make(map[uint64]*transcription)}
	s.SetLimits(maxSamples, minSamples)
	return s
}

// SetLimits changes the segment length bounds for the rest of the session.
func (s *Session) SetLimits(maxSamples, minSamples int) {
	if maxSamples < 1 {
		maxSamples = 1
	}
	if minSamples < 0 {
		minSamples = 0
	}
	s.maxSamples = maxSamples
	s.minSamples = minSamples
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// SegmentLen returns the number of samples recorded so far.
func (s *Session) SegmentLen() int { return len(s.segment) }

// Pending returns the stored result, if any.
func (s *Session) Pending() (string, bool) {
	if s.pending == nil {
		return "", false
	}
	return *s.pending, true
}

// Start begins a new recording from any state. A transcription still running
// keeps its waiting STOP, if it has one; otherwise its result is discarded.
func (s *Session) Start() {
	if s.state == Processing && s.current != nil {
		if s.current.waiter != nil {
			s.detached[s.current.id] = s.current
		}
		s.current = nil
	}
	s.state = Recording
	s.segment = nil
	s.pending = nil
}

// Stop attaches r to the session. It returns a Job when the recording moved
// to Processing; in every other case r is resolved or kept waiting.
func (s *Session) Stop(r *reply[StopResult]) *Job {
	switch s.state {
	case Recording:
		if len(s.segment) == 0 || len(s.segment) < s.minSamples {
			s.state = Idle
			s.segment = nil
			r.resolve(StopResult{})
			return nil
		}
		return s.finish(r)

	case Processing:
		if s.current.waiter != nil {
			s.current.waiter.resolve(StopResult{Err: ErrSuperseded})
		}
		s.current.waiter = r
		return nil

	default:
		if s.pending != nil {
			text := *s.pending
			s.pending = nil
			r.resolve(StopResult{Text: text})
			return nil
		}
		r.resolve(StopResult{})
		return nil
	}
}

// Cancel returns to Idle from any state. Every waiting STOP is resolved with
// ErrCancelled and any running transcription's result will be discarded.
func (s *Session) Cancel() {
	if s.current != nil && s.current.waiter != nil {
		s.current.waiter.resolve(StopResult{Err: ErrCancelled})
	}
	for id, t := range s.detached {
		t.waiter.resolve(StopResult{Err: ErrCancelled})
		delete(s.detached, id)
	}
	s.current = nil
	s.state = Idle
	s.segment = nil
	s.pending = nil
}

// Tick appends captured samples to the segment while Recording. Samples
// beyond the length cap are discarded. When the cap is reached the session
// moves to Processing with no STOP attached and autoStopped is true.
func (s *Session) Tick(samples []float32) (job *Job, autoStopped bool) {
	if s.state != Recording {
		return nil, false
	}
	if room := s.maxSamples - len(s.segment); len(samples) > room {
		samples = samples[:max(room, 0)]
	}
	s.segment = append(s.segment, samples...)
	if len(s.segment) < s.maxSamples {
		return nil, false
	}
	// The cap may have been lowered after these samples were recorded.
	s.segment = s.segment[:s.maxSamples]
	return s.finish(nil), true
}

// Complete delivers the text of transcription id. Results of cancelled or
// abandoned transcriptions are dropped.
func (s *Session) Complete(id uint64, text string) {
	if s.current != nil && s.current.id == id {
		waiter := s.current.waiter
		s.current = nil
		s.state = Idle
		s.segment = nil
		if waiter != nil {
			waiter.resolve(StopResult{Text: text})
		} else {
			s.pending = &text
		}
		return
	}
	if t, ok := s.detached[id]; ok {
		delete(s.detached, id)
		t.waiter.resolve(StopResult{Text: text})
	}
}

// Shutdown drops every waiting STOP and resets the session.
func (s *Session) Shutdown() {
	if s.current != nil && s.current.waiter != nil {
		s.current.waiter.drop()
	}
	for id, t := range s.detached {
		t.waiter.drop()
		delete(s.detached, id)
	}
	s.current = nil
	s.state = Idle
	s.segment = nil
	s.pending = nil
}

func (s *Session) finish(r *reply[StopResult]) *Job {
	s.nextID++
	job := &Job{ID: s.nextID, Samples: s.segment}
	s.segment = nil
	s.state = Processing
	s.current = &transcription{id: job.ID, waiter: r}
	return job
}
