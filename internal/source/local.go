// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
	"github.com/kumulus-tools/boardflash/internal/validate"
)

// Local resolves a firmware image that already exists on the local
// filesystem. The file is used in place; it is never copied into the cache.
type Local struct {
	Path    string
	Name    string
	Version string
	Board   model.BoardType
}

// NewLocal returns a resolver for a local firmware file.
func NewLocal(path, name, version string, board model.BoardType) *Local {
	return &Local{Path: path, Name: name, Version: version, Board: board}
}

// Resolve checks existence and format, then computes checksum and size
// directly from the file.
func (l *Local) Resolve(_ context.Context, progress model.ProgressFunc) (*model.FirmwareEntry, error) {
	st, err := os.Stat(l.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, i18n.T("source.error_not_found", l.Path))
	}

	ext := strings.ToLower(filepath.Ext(l.Path))
	if !l.Board.AcceptsExtension(ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat,
			i18n.T("source.error_unsupported_format", ext, strings.Join(l.Board.AcceptedExtensions(), ", ")))
	}

	progress.Emit(i18n.T("source.local_file", l.Path))

	sum, size, err := validate.FileSHA256(l.Path)
	if err != nil {
		return nil, fmt.Errorf("could not hash %s: %w", l.Path, err)
	}
	if size != uint64(st.Size()) {
		// The file changed while we were hashing it; refuse to register.
		return nil, fmt.Errorf("%w: %s changed during resolution", ErrNotFound, l.Path)
	}

	name := l.Name
	if name == "" {
		name = filepath.Base(l.Path)
	}

	return &model.FirmwareEntry{
		ID:             entryID(sum),
		Name:           name,
		Version:        l.Version,
		Board:          l.Board,
		FilePath:       l.Path,
		ChecksumSHA256: sum,
		SizeBytes:      size,
		Source:         model.SourceLocal,
		SourceMetadata: map[string]string{"path": l.Path},
		AddedAt:        time.Now().UTC(),
	}, nil
}
