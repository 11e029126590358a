package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Server reads one token per connection from a control socket and hands
// known tokens to a handler, one at a time.
type Server struct {
	logger *slog.Logger
}

// NewServer creates a Server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger}
}

// Serve accepts connections until ctx is cancelled. Tokens are passed to
// handle in arrival order on the goroutine running Serve.
func (s *Server) Serve(ctx context.Context, ln net.Listener, handle func(token string)) error {
	tokens := make(chan string, 16)
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					acceptErr <- nil
				} else {
					acceptErr <- fmt.Errorf("control: accept: %w", err)
				}
				return
			}
			go s.readToken(ctx, conn, tokens)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return <-acceptErr
		case err := <-acceptErr:
			return err
		case token := <-tokens:
			handle(token)
		}
	}
}

func (s *Server) readToken(ctx context.Context, conn net.Conn, tokens chan<- string) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(DefaultDialTimeout))

	line, err := bufio.NewReader(io.LimitReader(conn, 256)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("reading control token", "error", err)
		return
	}
	token := strings.TrimSpace(line)
	if !IsToken(token) {
		s.logger.Warn("ignoring unknown control token", "token", token)
		return
	}
	select {
	case tokens <- token:
	case <-ctx.Done():
	}
}
