package control

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPath returns a short path; unix socket names are limited to ~100 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sttc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestListenUnixPermissionsAndCleanup(t *testing.T) {
	path := socketPath(t)

	ln, err := ListenUnix(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(SocketMode), info.Mode().Perm())

	require.NoError(t, ln.Close())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "socket file should be removed on close")
}

func TestListenUnixReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)

	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	stale.SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())

	_, err = os.Lstat(path)
	require.NoError(t, err, "stale socket file should still exist")

	ln, err := ListenUnix(path)
	require.NoError(t, err)
	defer ln.Close()
}

func TestListenUnixRefusesRegularFile(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o644))

	_, err := ListenUnix(path)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestRequestRoundTrip(t *testing.T) {
	path := socketPath(t)
	ln, err := ListenUnix(path)
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		got <- string(data)
		_, _ = io.WriteString(conn, "STATUS: RECORDING")
	}()

	resp, err := Request(context.Background(), path, "START")
	require.NoError(t, err)
	assert.Equal(t, "STATUS: RECORDING", resp)
	assert.Equal(t, "START\n", <-got)
}

func TestBeginThenAwait(t *testing.T) {
	path := socketPath(t)
	ln, err := ListenUnix(path)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	reply := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- string(data)
		<-reply
		_, _ = io.WriteString(conn, "texto")
	}()

	conn, err := Begin(context.Background(), path, "STOP")
	require.NoError(t, err)
	// The request is complete on the server side before any reply exists.
	select {
	case got := <-received:
		assert.Equal(t, "STOP\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the request")
	}

	close(reply)
	resp, err := Await(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "texto", resp)
}

func TestRequestNoServer(t *testing.T) {
	_, err := Request(context.Background(), socketPath(t), "STATUS")
	assert.Error(t, err)
}

func TestRequestHonoursContext(t *testing.T) {
	path := socketPath(t)
	ln, err := ListenUnix(path)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Request(ctx, path, "STOP")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServerDeliversKnownTokens(t *testing.T) {
	path := socketPath(t)
	ln, err := ListenUnix(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []string
	seen := make(chan struct{}, 4)

	done := make(chan error, 1)
	go func() {
		done <- NewServer(nil).Serve(ctx, ln, func(token string) {
			mu.Lock()
			got = append(got, token)
			mu.Unlock()
			seen <- struct{}{}
		})
	}()

	require.NoError(t, Send(context.Background(), path, "BOGUS"))
	require.NoError(t, Send(context.Background(), path, TokenAutoStop))
	require.NoError(t, Send(context.Background(), path, TokenToggleType))

	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatal("token not delivered")
		}
	}

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{TokenAutoStop, TokenToggleType}, got)
}

func TestNotifierDelivers(t *testing.T) {
	path := socketPath(t)
	ln, err := ListenUnix(path)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- strings.TrimSpace(string(data))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := NewNotifier(path, nil)
	go func() { _ = n.Run(ctx) }()

	n.Notify(TokenAutoStop)

	select {
	case tok := <-received:
		assert.Equal(t, TokenAutoStop, tok)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier("/nonexistent.sock", nil)
	for i := 0; i < cap(n.queue)+5; i++ {
		n.Notify(TokenAutoStop)
	}
	assert.Len(t, n.queue, cap(n.queue))
}

func TestNotifierSurvivesDeliveryFailure(t *testing.T) {
	n := NewNotifier("/nonexistent.sock", nil)
	calls := make(chan string, 4)
	n.send = func(ctx context.Context, path, token string) error {
		calls <- token
		return errors.New("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	n.Notify(TokenAutoStop)
	n.Notify(TokenCancel)

	for _, want := range []string{TokenAutoStop, TokenCancel} {
		select {
		case got := <-calls:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("token %s not attempted", want)
		}
	}
}

func TestIsToken(t *testing.T) {
	assert.True(t, IsToken(TokenToggleCopy))
	assert.True(t, IsToken(TokenCancel))
	assert.False(t, IsToken("toggle_type"))
	assert.False(t, IsToken(""))
}
