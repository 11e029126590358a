package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ErrExists is returned when the destination exists and Force is not set.
var ErrExists = errors.New("model already exists")

// Request describes one download.
type Request struct {
	URL  string
	Dest string
	// Force overwrites an existing file.
	Force bool
	// Progress receives progress lines; nil disables them.
	Progress io.Writer
	Label    string
}

// Downloader fetches model files over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a Downloader. A nil client uses http.DefaultClient.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client}
}

// Download fetches req.URL into req.Dest. The body is written to a temporary
// file next to Dest which is renamed into place only when complete, so an
// interrupted download never leaves a truncated model behind.
func (d *Downloader) Download(ctx context.Context, req Request) (int64, error) {
	if !req.Force {
		if _, err := os.Stat(req.Dest); err == nil {
			return 0, fmt.Errorf("%w: %s", ErrExists, req.Dest)
		}
	}

	dir := filepath.Dir(req.Dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating models dir: %w (use sudo for --global)", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(dir, filepath.Base(req.Dest)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()

	var w io.Writer = f
	if req.Progress != nil {
		label := req.Label
		if label == "" {
			label = filepath.Base(req.Dest)
		}
		w = &progressWriter{writer: f, out: req.Progress, total: resp.ContentLength, label: label}
	}

	written, err := io.Copy(w, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing model file: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength)
	}
	if req.Progress != nil {
		fmt.Fprintln(req.Progress)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("setting model permissions: %w", err)
	}
	if err := os.Rename(tmpPath, req.Dest); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("moving model file: %w", err)
	}
	return written, nil
}

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}
