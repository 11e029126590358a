package daemon

import "errors"

var (
	// ErrDaemonClosed is returned when the session loop is no longer running.
	ErrDaemonClosed = errors.New("daemon closed")
	// ErrCancelled resolves a pending STOP when the session is cancelled.
	ErrCancelled = errors.New("transcription cancelled")
	// ErrSuperseded resolves a pending STOP displaced by a newer STOP.
	ErrSuperseded = errors.New("superseded by a newer STOP")
	// ErrReloadPending is returned when a reload was accepted but did not
	// finish before the caller stopped waiting. It still applies later.
	ErrReloadPending = errors.New("reload still in progress")
	// ErrDropped is returned when a reply slot was discarded without a value.
	ErrDropped = errors.New("reply dropped")
)
