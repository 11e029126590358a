package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/airvzxf/stt-assistant/internal/protocol"
)

// Status is the STATUS snapshot served by the daemon.
type Status = protocol.Status

// errorLine renders err as a protocol error line.
func errorLine(err error) string {
	return protocol.ErrorPrefix + err.Error()
}

// stopResponse renders the outcome of a STOP.
func stopResponse(res StopResult, err error) string {
	switch {
	case err == nil && res.Err == nil:
		return res.Text
	case errors.Is(res.Err, ErrCancelled):
		return protocol.RespCancelledByUser
	case errors.Is(res.Err, ErrSuperseded):
		return protocol.RespSuperseded
	case res.Err != nil:
		return errorLine(res.Err)
	}
	return waitFailure(err, protocol.RespStopDropped)
}

// waitFailure maps an error returned while waiting on a reply slot.
func waitFailure(err error, dropped string) string {
	switch {
	case errors.Is(err, ErrDropped):
		return dropped
	case errors.Is(err, ErrDaemonClosed):
		return protocol.RespChannelError
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.RespTimeout
	default:
		return errorLine(err)
	}
}

func statusResponse(st Status) string {
	data, err := json.Marshal(st)
	if err != nil {
		return "{}"
	}
	return string(data)
}
