package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airvzxf/stt-assistant/internal/config"
	"github.com/airvzxf/stt-assistant/internal/protocol"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	// idleTimeout ends a request that has no terminator once the client
	// stops sending.
	idleTimeout = 200 * time.Millisecond
)

var errRequestTooLarge = errors.New("request too large")

// Router serves the one-request-per-connection socket protocol. Every
// command is forwarded to the Daemon; the router itself holds no session
// state.
type Router struct {
	d       *Daemon
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewRouter creates a Router. Waits for STOP, STATUS and REFRESH replies are
// bounded by timeout; zero means no bound.
func NewRouter(d *Daemon, timeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{d: d, timeout: timeout, logger: logger}
}

// Serve accepts connections until ctx is cancelled or ln fails. It closes ln
// and waits for in-flight connections before returning.
func (r *Router) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer r.wg.Wait()

	r.logger.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.serveConn(ctx, conn)
		}()
	}
}

func (r *Router) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := r.logger.With("request_id", uuid.NewString())

	line, err := readRequest(conn, time.Now().Add(readTimeout))
	if errors.Is(err, errRequestTooLarge) {
		log.Warn("rejecting oversized request")
		// Consume the rest so closing does not reset the connection.
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, _ = io.Copy(io.Discard, io.LimitReader(conn, protocol.MaxRequestSize))
		r.write(log, conn, protocol.RespTooLarge)
		return
	}
	if err != nil {
		log.Warn("reading request", "error", err)
		return
	}
	if strings.TrimSpace(line) == "" {
		return
	}

	cmd, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	log.Info("received command", "command", cmd)
	start := time.Now()

	resp := r.Dispatch(ctx, line)
	log.Debug("responding", "command", cmd, "elapsed", time.Since(start).Round(time.Millisecond), "bytes", len(resp))
	r.write(log, conn, resp)
}

func (r *Router) write(log *slog.Logger, conn net.Conn, resp string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := io.WriteString(conn, resp); err != nil {
		log.Warn("writing response", "error", err)
	}
}

// readRequest reads one request. It ends at a newline, at EOF, as soon as
// the bytes read form a bare command such as "STOP", or once the client has
// sent something and then stays quiet for idleTimeout. Clients that write a
// command and then wait for the reply without closing their side rely on
// the last two.
func readRequest(conn net.Conn, deadline time.Time) (string, error) {
	_ = conn.SetReadDeadline(deadline)
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if len(buf) > protocol.MaxRequestSize {
			return "", errRequestTooLarge
		}
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			return string(buf[:i+1]), nil
		}
		if protocol.IsBareCommand(buf) {
			return string(buf), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return string(buf), nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) && len(bytes.TrimSpace(buf)) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		if len(buf) > 0 {
			idle := time.Now().Add(idleTimeout)
			if idle.After(deadline) {
				idle = deadline
			}
			_ = conn.SetReadDeadline(idle)
		}
	}
}

// Dispatch executes one request line and returns the response text.
func (r *Router) Dispatch(ctx context.Context, line string) string {
	req, err := protocol.ParseRequest(line)
	if err != nil {
		return protocol.RespUnknownCommand
	}

	switch req.Command {
	case protocol.CmdStart:
		if err := r.d.Start(ctx); err != nil {
			return waitFailure(err, protocol.RespChannelError)
		}
		return protocol.RespRecording

	case protocol.CmdCancel:
		if err := r.d.Cancel(ctx); err != nil {
			return waitFailure(err, protocol.RespChannelError)
		}
		return protocol.RespCancelled

	case protocol.CmdStop:
		wctx, cancel := r.withTimeout(ctx)
		defer cancel()
		res, err := r.d.Stop(wctx)
		return stopResponse(res, err)

	case protocol.CmdStatus:
		wctx, cancel := r.withTimeout(ctx)
		defer cancel()
		st, err := r.d.Status(wctx)
		if err != nil {
			return waitFailure(err, protocol.RespStatusDropped)
		}
		return statusResponse(st)

	case protocol.CmdRefresh:
		var cfg *config.Config
		if req.Payload != "" {
			if cfg, err = config.DecodeOnto(r.d.Config(), req.Payload); err != nil {
				return errorLine(err)
			}
		}
		wctx, cancel := r.withTimeout(ctx)
		defer cancel()
		if err := r.d.Reload(wctx, cfg); err != nil {
			if errors.Is(err, ErrReloadPending) {
				return protocol.RespRefreshPending
			}
			return waitFailure(err, protocol.RespRefreshDropped)
		}
		return protocol.RespOK
	}
	return protocol.RespUnknownCommand
}

func (r *Router) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
