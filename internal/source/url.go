// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package source

import (
	"context"
	"time"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// URL resolves a firmware image from a direct HTTPS URL. The resource is
// streamed into the cache under its content hash; integrity comes from the
// bytes actually received, never from Content-Length.
type URL struct {
	URL     string
	Name    string
	Version string
	Board   model.BoardType

	dl *downloader
}

// NewURL returns a resolver that downloads the given URL.
func NewURL(cfg config.Config, url, name, version string, board model.BoardType) *URL {
	return &URL{URL: url, Name: name, Version: version, Board: board, dl: newDownloader(cfg)}
}

// Resolve streams the resource to the cache and builds a content-addressed
// entry from what was received.
func (u *URL) Resolve(ctx context.Context, progress model.ProgressFunc) (*model.FirmwareEntry, error) {
	name := u.Name
	if name == "" {
		name = u.URL
	}

	f, err := u.dl.fetch(ctx, u.URL, "", name, progress)
	if err != nil {
		return nil, err
	}

	return &model.FirmwareEntry{
		ID:             entryID(f.SHA256),
		Name:           name,
		Version:        u.Version,
		Board:          u.Board,
		FilePath:       f.Path,
		ChecksumSHA256: f.SHA256,
		SizeBytes:      f.SizeBytes,
		Source:         model.SourceURL,
		SourceMetadata: map[string]string{"url": u.URL},
		AddedAt:        time.Now().UTC(),
	}, nil
}
