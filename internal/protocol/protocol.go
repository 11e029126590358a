// Package protocol defines the line protocol spoken on the daemon socket:
// command names, fixed response lines, request parsing and the STATUS
// snapshot. It has no dependencies so clients can use it without linking
// the audio or whisper stacks.
package protocol

import (
	"errors"
	"strings"
)

// Command names accepted on the daemon socket.
const (
	CmdStart   = "START"
	CmdStop    = "STOP"
	CmdCancel  = "CANCEL"
	CmdStatus  = "STATUS"
	CmdRefresh = "REFRESH"
)

// Fixed response lines.
const (
	RespRecording       = "STATUS: RECORDING"
	RespCancelled       = "STATUS: CANCELLED"
	RespOK              = "OK"
	RespUnknownCommand  = "ERROR: Unknown command"
	RespChannelError    = "ERROR: Internal channel error"
	RespStopDropped     = "ERROR: Transcription cancelled or failed"
	RespStatusDropped   = "ERROR: Failed to get status"
	RespRefreshDropped  = "ERROR: Reload aborted"
	RespRefreshPending  = "ERROR: Reload still in progress"
	RespTimeout         = "ERROR: Request timed out"
	RespCancelledByUser = "ERROR: Transcription cancelled"
	RespSuperseded      = "ERROR: Superseded by a newer STOP"
	RespTooLarge        = "ERROR: Request too large"
)

// ErrorPrefix starts every error response.
const ErrorPrefix = "ERROR: "

// MaxRequestSize bounds a single request line.
const MaxRequestSize = 64 << 10

// ErrUnknownCommand is returned for a request line that names no command.
var ErrUnknownCommand = errors.New("unknown command")

// Request is one parsed request line.
type Request struct {
	Command string
	// Payload is only set for REFRESH.
	Payload string
}

// ParseRequest parses a request line. Surrounding whitespace is ignored and
// commands are case-sensitive. Only REFRESH takes a payload.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSpace(line)
	name, payload, _ := strings.Cut(line, " ")
	payload = strings.TrimSpace(payload)

	switch name {
	case CmdStart, CmdStop, CmdCancel, CmdStatus:
		if payload != "" {
			return Request{}, ErrUnknownCommand
		}
		return Request{Command: name}, nil
	case CmdRefresh:
		return Request{Command: name, Payload: payload}, nil
	default:
		return Request{}, ErrUnknownCommand
	}
}

// IsBareCommand reports whether data, ignoring surrounding whitespace, is a
// complete command that takes no payload. Such a request can be served
// without waiting for a terminator.
func IsBareCommand(data []byte) bool {
	switch strings.TrimSpace(string(data)) {
	case CmdStart, CmdStop, CmdCancel, CmdStatus:
		return true
	}
	return false
}

// Session states reported in Status.State.
const (
	StateIdle       = "Idle"
	StateRecording  = "Recording"
	StateProcessing = "Processing"
)

// Status is the STATUS snapshot.
type Status struct {
	Active              bool   `json:"active"`
	PID                 int    `json:"pid"`
	ModelPath           string `json:"model_path"`
	Language            string `json:"language"`
	MaxRecordingSeconds uint32 `json:"max_recording_seconds"`
	State               string `json:"state"`
}
