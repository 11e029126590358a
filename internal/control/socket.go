package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"
)

// SocketMode restricts the socket to its owner.
const SocketMode = 0o600

// DefaultDialTimeout bounds connecting to a local socket.
const DefaultDialTimeout = 2 * time.Second

// ListenUnix binds a unix socket at path. A stale socket file left by a
// previous run is removed first. The socket file is removed when the
// listener is closed.
func ListenUnix(path string) (*net.UnixListener, error) {
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&fs.ModeSocket == 0 {
			return nil, fmt.Errorf("control: %s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("control: removing stale socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("control: stat %s: %w", path, err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("control: bind %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)

	if err := os.Chmod(path, SocketMode); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("control: chmod %s: %w", path, err)
	}
	return ln, nil
}

// Request sends line to the socket at path, half-closes the connection and
// returns everything the server writes back.
func Request(ctx context.Context, path, line string) (string, error) {
	conn, err := Begin(ctx, path, line)
	if err != nil {
		return "", err
	}
	return Await(ctx, conn)
}

// Begin is the sending half of Request. The caller collects the reply with
// Await.
func Begin(ctx context.Context, path, line string) (net.Conn, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("control: connect %s: %w", path, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := io.WriteString(conn, strings.TrimRight(line, "\n")+"\n"); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("control: write: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
	return conn, nil
}

// Await reads everything the server writes back on conn and closes it.
func Await(ctx context.Context, conn net.Conn) (string, error) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	resp, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("control: read: %w", err)
	}
	return string(resp), nil
}

// Send delivers a single token and does not wait for a reply.
func Send(ctx context.Context, path, token string) error {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("control: connect %s: %w", path, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(DefaultDialTimeout))
	if _, err := io.WriteString(conn, token+"\n"); err != nil {
		return fmt.Errorf("control: write: %w", err)
	}
	return nil
}
