// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// downloader streams HTTP resources into the firmware cache. Files are
// named by content hash so repeated downloads of identical firmware reuse
// one cache slot. Content-Length is used for progress display only, never
// for integrity.
type downloader struct {
	client        *http.Client
	dir           string
	retries       int
	backoff       time.Duration
	progressEvery int64
}

func newDownloader(cfg config.Config) *downloader {
	timeout := time.Duration(cfg.Download.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	every := int64(cfg.Download.ProgressInterval)
	if every <= 0 {
		every = 64 * 1024
	}
	backoff := time.Duration(cfg.Download.BackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &downloader{
		client:        &http.Client{Timeout: timeout},
		dir:           cfg.DownloadsDir,
		retries:       cfg.Download.Retries,
		backoff:       backoff,
		progressEvery: every,
	}
}

// fetched describes one completed download.
type fetched struct {
	Path      string
	SHA256    string
	SizeBytes uint64
}

// fetch downloads url into the cache, retrying transient failures with
// backoff. The display name only affects progress messages. A cancelled
// context aborts immediately, removes the partial file and returns
// ErrCancelled.
func (d *downloader) fetch(ctx context.Context, url, token, display string, progress model.ProgressFunc) (*fetched, error) {
	var lastErr error
	attempts := d.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logging.Debugf("download: retrying %s (attempt %d/%d)", display, attempt+1, attempts)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s", ErrCancelled, display)
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}

		f, retriable, err := d.fetchOnce(ctx, url, token, display, progress)
		if err == nil {
			return f, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrCancelled, display)
		}
		lastErr = err
		if !retriable {
			break
		}
	}
	return nil, lastErr
}

// fetchOnce performs a single download attempt. The bool result reports
// whether the failure is transient (transport error or 5xx) and worth
// retrying.
func (d *downloader) fetchOnce(ctx context.Context, url, token, display string, progress model.ProgressFunc) (*fetched, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %s", ErrDownload, i18n.T("source.error_download", display, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retriable := resp.StatusCode >= 500
		return nil, retriable, fmt.Errorf("%w: %s", ErrDownload,
			i18n.T("source.error_download", display, fmt.Errorf("unexpected status %s", resp.Status)))
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, false, err
	}
	tmp, err := os.CreateTemp(d.dir, "dl-*.part")
	if err != nil {
		return nil, false, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmpPath)
	}

	progress.Emit(i18n.T("source.downloading", display))

	h := sha256.New()
	w := io.MultiWriter(tmp, h)
	total := resp.ContentLength // advisory only
	var written, lastReport int64

	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			cleanup()
			return nil, false, fmt.Errorf("%w: %s", ErrCancelled, display)
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				cleanup()
				return nil, false, werr
			}
			written += int64(n)
			if written-lastReport >= d.progressEvery {
				lastReport = written
				if total > 0 {
					progress.Emit(i18n.T("source.download_progress", display, written*100/total))
				} else {
					progress.Emit(i18n.T("source.download_bytes", display, written))
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			cleanup()
			return nil, true, fmt.Errorf("%w: %s", ErrDownload, i18n.T("source.error_download", display, rerr))
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, false, err
	}

	sum := hex.EncodeToString(h.Sum(nil))
	final := filepath.Join(d.dir, sum+extensionFromURL(url))
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return nil, false, fmt.Errorf("could not place download in cache: %w", err)
	}

	progress.Emit(i18n.T("source.download_done", display, written))
	return &fetched{Path: final, SHA256: sum, SizeBytes: uint64(written)}, false, nil
}

// extensionFromURL extracts a file extension from the URL path, defaulting
// to .bin when none is recognizable.
func extensionFromURL(url string) string {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	ext := strings.ToLower(path.Ext(path.Base(trimmed)))
	switch ext {
	case ".bin", ".hex", ".elf":
		return ext
	default:
		return ".bin"
	}
}
