// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package source resolves firmware source descriptions into registry entries.
// Five independent strategies are implemented: local file, direct URL,
// GitHub release asset, GitLab pipeline artifact and SFTP path. Resolvers
// are side-effect isolated: a failed resolution leaves no partial cache file
// behind and registers nothing.
package source

import (
	"context"
	"errors"

	"github.com/kumulus-tools/boardflash/internal/model"
)

// Resolution errors. Callers classify with errors.Is.
var (
	// ErrNotFound: a local firmware path does not exist.
	ErrNotFound = errors.New("firmware source not found")
	// ErrUnsupportedFormat: the file extension is not accepted for the board.
	ErrUnsupportedFormat = errors.New("unsupported firmware format")
	// ErrInvalidRepoFormat: a GitHub repository id is not "owner/repo".
	ErrInvalidRepoFormat = errors.New("invalid repository format")
	// ErrNoSuitableAsset: zero or ambiguous release assets for the board.
	ErrNoSuitableAsset = errors.New("no suitable firmware asset")
	// ErrNoSuccessfulPipeline: the GitLab project has no successful pipeline.
	ErrNoSuccessfulPipeline = errors.New("no successful pipeline")
	// ErrNoSuitableJob: zero or ambiguous artifact jobs for the board.
	ErrNoSuitableJob = errors.New("no suitable firmware job")
	// ErrDownload: non-2xx status or transport failure while downloading.
	ErrDownload = errors.New("firmware download failed")
	// ErrCancelled: the download was cancelled by the caller.
	ErrCancelled = errors.New("download cancelled")
)

// Resolver resolves one firmware source into a FirmwareEntry whose
// file is present locally and whose checksum and size describe that file.
// The returned entry is not yet validated or registered; that is the
// orchestrator's job.
type Resolver interface {
	Resolve(ctx context.Context, progress model.ProgressFunc) (*model.FirmwareEntry, error)
}

// entryID derives the content-addressed firmware id from a SHA-256 hex
// digest. Sixteen hex characters are plenty for a per-user registry and keep
// ids readable in the CLI.
func entryID(sha256hex string) string {
	if len(sha256hex) < 16 {
		return sha256hex
	}
	return sha256hex[:16]
}
