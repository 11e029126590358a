// Package client talks to a running stt-daemon over its unix socket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/airvzxf/stt-assistant/internal/config"
	"github.com/airvzxf/stt-assistant/internal/control"
	"github.com/airvzxf/stt-assistant/internal/protocol"
)

var (
	// ErrDaemon wraps every "ERROR: ..." line returned by the daemon.
	ErrDaemon = errors.New("daemon error")
	// ErrReloadPending is returned by Refresh when the daemon accepted the
	// new config but was still loading the model when the request timed
	// out. The reload still applies.
	ErrReloadPending = errors.New("reload still in progress")
)

const (
	stopAcceptWait = time.Second
	stopPollEvery  = 5 * time.Millisecond
)

// Client sends one request per connection to the daemon socket.
type Client struct {
	path string
}

// New creates a Client for the daemon socket at path.
func New(path string) *Client {
	if path == "" {
		path = config.DefaultSocketPath
	}
	return &Client{path: path}
}

// Path returns the daemon socket path.
func (c *Client) Path() string { return c.path }

// Do sends a raw request line and returns the trimmed response.
func (c *Client) Do(ctx context.Context, line string) (string, error) {
	resp, err := control.Request(ctx, c.path, line)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// Start begins a recording.
func (c *Client) Start(ctx context.Context) error {
	resp, err := c.call(ctx, protocol.CmdStart)
	if err != nil {
		return err
	}
	if resp != protocol.RespRecording {
		return fmt.Errorf("client: unexpected START response %q", resp)
	}
	return nil
}

// Stop ends the recording and waits for its transcript. An empty string
// means nothing was recorded or nothing was recognized.
func (c *Client) Stop(ctx context.Context) (string, error) {
	return c.call(ctx, protocol.CmdStop)
}

// BeginStop sends STOP and returns a function that waits for the
// transcript. It returns once the daemon has left the Recording state, or
// after a short bound, so a START sent afterwards cannot be served first.
func (c *Client) BeginStop(ctx context.Context) (func(context.Context) (string, error), error) {
	conn, err := control.Begin(ctx, c.path, protocol.CmdStop)
	if err != nil {
		return nil, err
	}
	c.awaitStopped(ctx)
	return func(ctx context.Context) (string, error) {
		resp, err := control.Await(ctx, conn)
		if err != nil {
			return "", err
		}
		return parseReply(resp)
	}, nil
}

func (c *Client) awaitStopped(ctx context.Context) {
	deadline := time.Now().Add(stopAcceptWait)
	for time.Now().Before(deadline) {
		st, err := c.Status(ctx)
		if err != nil || st.State != protocol.StateRecording {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(stopPollEvery):
		}
	}
}

// Cancel discards the current recording or transcription.
func (c *Client) Cancel(ctx context.Context) error {
	resp, err := c.call(ctx, protocol.CmdCancel)
	if err != nil {
		return err
	}
	if resp != protocol.RespCancelled {
		return fmt.Errorf("client: unexpected CANCEL response %q", resp)
	}
	return nil
}

// Status returns the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (protocol.Status, error) {
	var st protocol.Status
	resp, err := c.call(ctx, protocol.CmdStatus)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal([]byte(resp), &st); err != nil {
		return st, fmt.Errorf("client: decoding status: %w", err)
	}
	return st, nil
}

// Refresh asks the daemon to reload its configuration. With a nil cfg the
// daemon reloads from its own config sources. Fields missing from cfg keep
// the daemon's current values.
func (c *Client) Refresh(ctx context.Context, cfg *config.Config) error {
	line := protocol.CmdRefresh
	if cfg != nil {
		payload, err := config.Encode(cfg)
		if err != nil {
			return err
		}
		line += " " + payload
	}
	resp, err := c.Do(ctx, line)
	if err != nil {
		return err
	}
	if resp == protocol.RespRefreshPending {
		return ErrReloadPending
	}
	resp, err = parseReply(resp)
	if err != nil {
		return err
	}
	if resp != protocol.RespOK {
		return fmt.Errorf("client: unexpected REFRESH response %q", resp)
	}
	return nil
}

func (c *Client) call(ctx context.Context, line string) (string, error) {
	resp, err := c.Do(ctx, line)
	if err != nil {
		return "", err
	}
	return parseReply(resp)
}

func parseReply(resp string) (string, error) {
	resp = strings.TrimSpace(resp)
	if msg, ok := strings.CutPrefix(resp, protocol.ErrorPrefix); ok {
		return "", fmt.Errorf("%w: %s", ErrDaemon, msg)
	}
	return resp, nil
}
