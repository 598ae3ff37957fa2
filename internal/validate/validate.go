// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package validate recomputes firmware integrity before any flash attempt.
// Validation is idempotent and side-effect-free: it only reads the file and
// never re-hashes a different window than the whole file.
package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// ErrChecksumMismatch is returned when the recomputed SHA-256 differs from
// the declared one.
var ErrChecksumMismatch = errors.New("firmware checksum mismatch")

// ErrSizeMismatch is returned when the on-disk size differs from the
// declared one.
var ErrSizeMismatch = errors.New("firmware size mismatch")

// FileSHA256 computes the SHA-256 of the file at path, streaming so large
// images never load fully into memory.
func FileSHA256(path string) (string, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), uint64(n), nil
}

// Check verifies the entry's file against its declared checksum and size.
// Both must match exactly; any mismatch is returned as a typed error naming
// expected and actual values.
func Check(e model.FirmwareEntry) error {
	st, err := os.Stat(e.FilePath)
	if err != nil {
		return fmt.Errorf("firmware file %s: %w", e.FilePath, err)
	}
	if uint64(st.Size()) != e.SizeBytes {
		return fmt.Errorf("%w: %s", ErrSizeMismatch,
			i18n.T("validate.size_mismatch", e.FilePath, e.SizeBytes, st.Size()))
	}

	sum, _, err := FileSHA256(e.FilePath)
	if err != nil {
		return fmt.Errorf("could not hash %s: %w", e.FilePath, err)
	}
	if sum != e.ChecksumSHA256 {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch,
			i18n.T("validate.checksum_mismatch", e.FilePath, e.ChecksumSHA256, sum))
	}
	return nil
}

// Validate is the (ok, detail) form of Check used by callers that report to
// an operator rather than branch on error kinds.
func Validate(e model.FirmwareEntry) (bool, string) {
	if err := Check(e); err != nil {
		return false, err.Error()
	}
	return true, i18n.T("validate.passed")
}
